package install

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/ulikunitz/xz"

	"github.com/liangyou/fwinstall/internal/fault"
	"github.com/liangyou/fwinstall/internal/logging"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// Extractor 从压缩包中只解出指定前缀下的子树。
type Extractor struct {
	root   string
	prefix string
	logger hclog.Logger
}

// NewExtractor 创建 Extractor。root 是安装根目录，prefix 是压缩包内的相对路径，
// 解压后子树位于 root/prefix。
func NewExtractor(root, prefix string, logger hclog.Logger) *Extractor {
	return &Extractor{
		root:   root,
		prefix: strings.Trim(path.Clean(filepath.ToSlash(prefix)), "/"),
		logger: logging.OrNull(logger),
	}
}

// Target 返回子树解压后的目录。
func (e *Extractor) Target() string {
	return filepath.Join(e.root, filepath.FromSlash(e.prefix))
}

// Extract 删除旧的目标目录后解出 archivePath 中 prefix 下的成员。
// 压缩包不存在时旧目录保持不变；压缩包中没有该前缀时旧目录已被删除且不会重建。
func (e *Extractor) Extract(archivePath string) (int, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return 0, fault.New(fault.ErrExtractionFailed, archivePath, err)
	}
	defer file.Close()

	stream, err := decompress(file)
	if err != nil {
		return 0, fault.New(fault.ErrExtractionFailed, archivePath, err)
	}
	defer stream.Close()

	target := e.Target()
	if err := os.RemoveAll(target); err != nil {
		return 0, fault.New(fault.ErrExtractionFailed, target, fmt.Errorf("remove previous tree: %w", err))
	}

	count, err := e.extractTar(stream)
	if err != nil {
		return count, fault.New(fault.ErrExtractionFailed, archivePath, err)
	}
	if count == 0 {
		return 0, fault.Newf(fault.ErrExtractionFailed, archivePath, "%s not found in the archive", e.prefix)
	}

	e.logger.Debug("extracted subtree", "prefix", e.prefix, "members", count, "target", target)
	return count, nil
}

// decompress 依据文件头选择 gzip 或 xz，两者都不是时按未压缩的 tar 读取。
func decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(xzMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return gz, nil
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	default:
		return io.NopCloser(br), nil
	}
}

func (e *Extractor) extractTar(r io.Reader) (int, error) {
	tr := tar.NewReader(r)
	count := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read archive: %w", err)
		}

		rel, ok := e.memberPath(header.Name)
		if !ok {
			continue
		}

		target := filepath.Join(e.root, filepath.FromSlash(rel))
		if err := ensureWithinRoot(e.root, target); err != nil {
			return count, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(header.Mode)); err != nil {
				return count, fmt.Errorf("mkdir %s: %w", target, err)
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := writeMember(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return count, err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return count, fmt.Errorf("mkdir for link %s: %w", target, err)
			}
			linkTarget := header.Linkname
			if !filepath.IsAbs(linkTarget) {
				linkTarget = filepath.Join(filepath.Dir(target), linkTarget)
			}
			if err := ensureWithinRoot(e.root, linkTarget); err != nil {
				return count, err
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return count, fmt.Errorf("symlink %s: %w", target, err)
			}
		case tar.TypeLink:
			source, ok := e.memberPath(header.Linkname)
			if !ok {
				return count, fmt.Errorf("hard link %s points outside %s", header.Name, e.prefix)
			}
			os.Remove(target)
			if err := os.Link(filepath.Join(e.root, filepath.FromSlash(source)), target); err != nil {
				return count, fmt.Errorf("link %s: %w", target, err)
			}
		default:
			e.logger.Debug("skipping unsupported tar entry", "name", header.Name, "type", header.Typeflag)
			continue
		}
		count++
	}

	return count, nil
}

// memberPath 返回位于前缀之下的成员的规范化路径。
func (e *Extractor) memberPath(name string) (string, bool) {
	clean := strings.TrimPrefix(path.Clean(strings.TrimPrefix(name, "./")), "/")
	if clean == e.prefix || strings.HasPrefix(clean, e.prefix+"/") {
		return clean, true
	}
	return "", false
}

func writeMember(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir for file %s: %w", target, err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("copy file %s: %w", target, err)
	}
	return f.Close()
}

func dirMode(mode int64) os.FileMode {
	m := os.FileMode(mode).Perm()
	if m == 0 {
		return 0o755
	}
	return m | 0o700
}

func ensureWithinRoot(root, target string) error {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if target == root {
		return nil
	}
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return fmt.Errorf("illegal path %s", target)
	}
	return nil
}

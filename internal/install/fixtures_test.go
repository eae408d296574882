package install

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"
)

type compression int

const (
	gzipped compression = iota
	xzipped
)

// createArchive 写出包含 files 的 tar 压缩包，自动补全父目录。
func createArchive(t *testing.T, kind compression, files map[string]string) string {
	t.Helper()

	name := "venus-data.tar.gz"
	if kind == xzipped {
		name = "venus-data.tar.xz"
	}
	pathOnDisk := filepath.Join(t.TempDir(), name)
	file, err := os.Create(pathOnDisk)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer file.Close()

	var w io.WriteCloser
	switch kind {
	case xzipped:
		xw, err := xz.NewWriter(file)
		if err != nil {
			t.Fatalf("xz writer: %v", err)
		}
		w = xw
	default:
		w = gzip.NewWriter(file)
	}
	tw := tar.NewWriter(w)

	names := make([]string, 0, len(files))
	for rel := range files {
		names = append(names, rel)
	}
	sort.Strings(names)

	dirs := map[string]struct{}{}
	for _, rel := range names {
		ensureDirs(t, tw, rel, dirs)
		writeTarFile(t, tw, rel, files[rel])
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close compressor: %v", err)
	}
	return pathOnDisk
}

func ensureDirs(t *testing.T, tw *tar.Writer, rel string, seen map[string]struct{}) {
	t.Helper()
	parent := path.Dir(rel)
	if parent == "." || parent == "" {
		return
	}
	var prefix string
	for _, part := range strings.Split(parent, "/") {
		prefix = path.Join(prefix, part)
		if _, ok := seen[prefix]; ok {
			continue
		}
		seen[prefix] = struct{}{}
		hdr := &tar.Header{Name: prefix + "/", Mode: 0o755, Typeflag: tar.TypeDir}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write dir header: %v", err)
		}
	}
}

func writeTarFile(t *testing.T, tw *tar.Writer, rel, content string) {
	t.Helper()
	hdr := &tar.Header{
		Name:     rel,
		Mode:     0o644,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("write file header: %v", err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatalf("write file content: %v", err)
	}
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(data)
}

package install

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/liangyou/fwinstall/pkg/models"
)

// BackupArtifacts 把每个已存在的配置文件复制到备份目录，返回写出的备份路径。
// 源文件不存在时跳过。
func BackupArtifacts(cfg models.InstallConfig, logger hclog.Logger) ([]string, error) {
	var written []string
	for _, artifact := range cfg.Artifacts {
		src := cfg.ArtifactPath(artifact)
		dst := cfg.BackupPath(artifact)

		ok, err := copyFile(src, dst)
		if err != nil {
			return written, fmt.Errorf("backup %s: %w", src, err)
		}
		if !ok {
			logger.Debug("nothing to back up", "path", src)
			continue
		}
		logger.Info("backed up configuration", "from", src, "to", dst)
		written = append(written, dst)
	}
	return written, nil
}

// copyFile 经临时文件复制 src 到 dst。src 不存在时返回 false。
func copyFile(src, dst string) (bool, error) {
	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, os.Rename(tmpName, dst)
}

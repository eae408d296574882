package install

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FinalizePermissions 为 root 下匹配后缀或文件名的普通文件加上可执行位，返回实际修改的文件数。
// 已可执行的文件不会被修改，重复调用结果相同。
func FinalizePermissions(root string, suffixes, names []string) (int, error) {
	changed := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !isExecutableName(d.Name(), suffixes, names) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode().Perm()
		want := mode | 0o111
		if mode == want {
			return nil
		}
		if err := os.Chmod(p, want); err != nil {
			return fmt.Errorf("chmod %s: %w", p, err)
		}
		changed++
		return nil
	})
	if err != nil {
		return changed, fmt.Errorf("permissions: %w", err)
	}
	return changed, nil
}

func isExecutableName(name string, suffixes, names []string) bool {
	if slices.Contains(names, name) {
		return true
	}
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

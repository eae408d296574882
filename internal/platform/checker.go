// Package platform 在安装前检查运行环境。
package platform

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/liangyou/fwinstall/pkg/models"
)

var supportedArch = map[string]struct{}{
	"arm":   {},
	"arm64": {},
	"amd64": {},
}

// Checker 校验当前系统是否满足安装要求。
type Checker struct {
	cfg      models.Config
	goos     func() string
	goarch   func() string
	lookPath func(string) (string, error)
}

// NewChecker 创建平台检测器。
func NewChecker(cfg models.Config) *Checker {
	return &Checker{
		cfg:      cfg,
		goos:     func() string { return runtime.GOOS },
		goarch:   func() string { return runtime.GOARCH },
		lookPath: exec.LookPath,
	}
}

// Validate 校验操作系统、架构以及安装根目录是否可写。
func (c *Checker) Validate() error {
	if c.goos() != "linux" {
		return fmt.Errorf("platform: unsupported operating system %s", c.goos())
	}
	if _, ok := supportedArch[c.goarch()]; !ok {
		return fmt.Errorf("platform: unsupported architecture %s", c.goarch())
	}

	root := c.cfg.Install.Root
	if root == "" {
		return errors.New("platform: install root is not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("platform: cannot access install directory %s: %w", root, err)
	}
	probe, err := os.CreateTemp(root, ".fwinstall-probe-*")
	if err != nil {
		return fmt.Errorf("platform: install directory %s is not writable: %w", root, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// Warnings 返回不阻止安装但值得提示的问题。
func (c *Checker) Warnings() []string {
	var out []string
	shell := c.cfg.Install.HookShell
	if shell == "" {
		shell = "bash"
	}
	if len(c.cfg.Install.Hooks) > 0 {
		if _, err := c.lookPath(shell); err != nil {
			out = append(out, fmt.Sprintf("hook shell %q not found, install hooks will fail", shell))
		}
	}
	return out
}

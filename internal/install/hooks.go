package install

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/liangyou/fwinstall/internal/fault"
)

// CommandRunner 执行一个外部命令并等待结束。
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExecRunner 通过 os/exec 执行命令，输出转发到日志。
type ExecRunner struct {
	Logger hclog.Logger
}

// Run 实现 CommandRunner。
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if r.Logger != nil {
		w := r.Logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})
		cmd.Stdout = w
		cmd.Stderr = w
	}
	return cmd.Run()
}

// RunHooks 依次执行 dir 下存在的安装脚本，脚本不存在时跳过。
// 第一个失败的脚本终止执行，已产生的变更不回滚。
func RunHooks(ctx context.Context, runner CommandRunner, shell, dir string, hooks []string, logger hclog.Logger) ([]string, error) {
	if shell == "" {
		shell = "bash"
	}

	var ran []string
	for _, hook := range hooks {
		script := filepath.Join(dir, hook)
		info, err := os.Stat(script)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return ran, fault.New(fault.ErrHookFailed, script, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		logger.Info("running install hook", "script", hook)
		if err := runner.Run(ctx, dir, shell, script); err != nil {
			return ran, fault.New(fault.ErrHookFailed, script, fmt.Errorf("%s %s: %w", shell, hook, err))
		}
		ran = append(ran, hook)
	}
	return ran, nil
}

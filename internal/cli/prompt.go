package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/liangyou/fwinstall/internal/install"
	"github.com/liangyou/fwinstall/internal/remote"
	"github.com/liangyou/fwinstall/pkg/models"
)

// errNoInput 表示交互输入在得到有效答案前结束。
var errNoInput = errors.New("cli: input closed before a valid answer")

// Rebooter 重启设备使新固件生效。
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// CommandRebooter 通过 CommandRunner 执行重启命令。
type CommandRebooter struct {
	Runner  install.CommandRunner
	Command string
	Args    []string
}

// Reboot 实现 Rebooter，Command 为空时执行 reboot。
func (r CommandRebooter) Reboot(ctx context.Context) error {
	name := r.Command
	if name == "" {
		name = "reboot"
	}
	if err := r.Runner.Run(ctx, "/", name, r.Args...); err != nil {
		return fmt.Errorf("cli: reboot: %w", err)
	}
	return nil
}

// readLine 读取一行输入，去掉首尾空白。
func (a *App) readLine() (string, error) {
	if a.scanner == nil {
		a.scanner = bufio.NewScanner(a.in)
	}
	if !a.scanner.Scan() {
		if err := a.scanner.Err(); err != nil {
			return "", fmt.Errorf("cli: read input: %w", err)
		}
		return "", errNoInput
	}
	return strings.TrimSpace(a.scanner.Text()), nil
}

// confirm 询问 yes/no，只接受 y/yes/n/no，其它输入重新询问。
func (a *App) confirm(question string) (bool, error) {
	for {
		fmt.Fprintf(a.out, "%s (y/n): ", question)
		answer, err := a.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		a.warn("Please answer y or n.")
	}
}

// promptSelection 反复询问直到得到合法的序号列表。
func (a *App) promptSelection(catalog *remote.Catalog) ([]models.CatalogEntry, error) {
	for {
		fmt.Fprint(a.out, "Enter the number(s) to install, comma separated (e.g. 1 or 1,3): ")
		input, err := a.readLine()
		if err != nil {
			return nil, err
		}
		entries, err := catalog.Select(input)
		if err == nil {
			return entries, nil
		}
		a.warn("Invalid selection: %v", err)
	}
}

// printState 在状态迁移时输出一行进度。
func (a *App) printState(entry models.CatalogEntry, state models.State) {
	switch state {
	case models.StateDone:
		a.success("%s installed", entry.Version)
	case models.StateFailed:
		a.errorMsg("%s failed", entry.Version)
	default:
		fmt.Fprintf(a.out, "  %s %s\n", color.CyanString("[%s]", entry.Version), state)
	}
}

// progressPrinter 每完成 10% 输出一次下载进度，总大小未知时不输出。
func (a *App) progressPrinter() install.ProgressFunc {
	shown := -1
	return func(done, total int64) {
		if total <= 0 {
			return
		}
		decile := int(done * 10 / total)
		if decile <= shown {
			return
		}
		shown = decile
		fmt.Fprintf(a.out, "\r    downloaded %3d%%", decile*10)
		if decile >= 10 {
			fmt.Fprintln(a.out)
			shown = -1
		}
	}
}

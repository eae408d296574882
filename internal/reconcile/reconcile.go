package reconcile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/liangyou/fwinstall/internal/fault"
	"github.com/liangyou/fwinstall/internal/logging"
	"github.com/liangyou/fwinstall/pkg/models"
)

// SyntaxError 描述配置文本无法解析的位置。
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// Report 记录一次合并中每个键的去向。
type Report struct {
	Kept     []string // 两边都有，采用 backup 的值
	Changed  []string // Kept 中值确实不同的键
	Added    []string // 仅在新默认中，保持默认值
	Dropped  []string // 仅在 backup 中，已丢弃
	Replaced []string // 结构类型不一致，保留默认
}

func (r *Report) readable() {
	for _, list := range [][]string{r.Kept, r.Changed, r.Added, r.Dropped, r.Replaced} {
		for i := range list {
			list[i] = unescapePath(list[i])
		}
	}
}

// Merge 按 kind 合并两段文本，返回新内容。任一方无法解析时返回 ErrConfigCorrupt，
// target 为 "default" 或 "backup"。
func Merge(kind models.ArtifactKind, def, backup []byte) ([]byte, Report, error) {
	switch kind {
	case models.ArtifactINI:
		d, err := ParseINI(def)
		if err != nil {
			return nil, Report{}, fault.New(fault.ErrConfigCorrupt, "default", err)
		}
		b, err := ParseINI(backup)
		if err != nil {
			return nil, Report{}, fault.New(fault.ErrConfigCorrupt, "backup", err)
		}
		out, report := MergeINI(d, b)
		return out, report, nil
	case models.ArtifactJSON:
		d, err := ParseJSON(def)
		if err != nil {
			return nil, Report{}, fault.New(fault.ErrConfigCorrupt, "default", err)
		}
		b, err := ParseJSON(backup)
		if err != nil {
			return nil, Report{}, fault.New(fault.ErrConfigCorrupt, "backup", err)
		}
		return MergeJSON(d, b)
	default:
		return nil, Report{}, fmt.Errorf("reconcile: unsupported kind %q", kind)
	}
}

// Outcome 是一次文件级合并的结果。
type Outcome struct {
	Path    string
	Skipped bool
	Written bool
	Report  Report
}

// Option 配置 Reconciler。
type Option func(*Reconciler)

// WithLogger 设置日志输出。
func WithLogger(logger hclog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logging.OrNull(logger)
	}
}

// WithDryRun 只计算合并结果，不写回文件。
func WithDryRun(dry bool) Option {
	return func(r *Reconciler) {
		r.dryRun = dry
	}
}

// Reconciler 把备份中的用户设置合并进新安装的默认文件。
type Reconciler struct {
	logger hclog.Logger
	dryRun bool
}

// NewReconciler 创建 Reconciler。
func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile 用 backupPath 中的值更新 installedPath。任一文件不存在时跳过，不视为错误。
// 合并结果先写入临时文件再替换，解析失败时 installedPath 保持原样。
func (r *Reconciler) Reconcile(kind models.ArtifactKind, installedPath, backupPath string) (Outcome, error) {
	outcome := Outcome{Path: installedPath}

	def, err := os.ReadFile(installedPath)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Info("installed file absent, skipping reconcile", "path", installedPath)
		outcome.Skipped = true
		return outcome, nil
	}
	if err != nil {
		return outcome, fmt.Errorf("reconcile: read %s: %w", installedPath, err)
	}

	backup, err := os.ReadFile(backupPath)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Info("no backup to reconcile from", "path", backupPath)
		outcome.Skipped = true
		return outcome, nil
	}
	if err != nil {
		return outcome, fmt.Errorf("reconcile: read %s: %w", backupPath, err)
	}

	merged, report, err := Merge(kind, def, backup)
	if err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) {
			target := installedPath
			if fe.Target == "backup" {
				target = backupPath
			}
			return outcome, fault.New(fe.Kind, target, fe.Err)
		}
		return outcome, err
	}
	outcome.Report = report

	for _, key := range report.Dropped {
		r.logger.Info("dropping setting no longer present upstream", "file", filepath.Base(installedPath), "key", key)
	}
	for _, key := range report.Replaced {
		r.logger.Warn("setting changed shape upstream, keeping new default", "file", filepath.Base(installedPath), "key", key)
	}
	r.logger.Debug("reconciled", "path", installedPath, "kept", len(report.Kept), "changed", len(report.Changed), "added", len(report.Added))

	if r.dryRun || string(merged) == string(def) {
		return outcome, nil
	}

	if err := writeFileAtomic(installedPath, merged); err != nil {
		return outcome, err
	}
	outcome.Written = true
	return outcome, nil
}

func writeFileAtomic(path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("reconcile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("reconcile: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("reconcile: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("reconcile: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("reconcile: replace %s: %w", path, err)
	}
	return nil
}

// Package install 按顺序安装所选版本：下载、备份、解压、合并配置、设置权限并执行安装脚本。
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liangyou/fwinstall/internal/fault"
	"github.com/liangyou/fwinstall/internal/logging"
	"github.com/liangyou/fwinstall/internal/metrics"
	"github.com/liangyou/fwinstall/internal/reconcile"
	"github.com/liangyou/fwinstall/internal/storage"
	"github.com/liangyou/fwinstall/pkg/models"
)

const tracerName = "github.com/liangyou/fwinstall/internal/install"

// ArtifactDownloader 把下载地址落地为本地压缩包。
type ArtifactDownloader interface {
	Download(ctx context.Context, source string) (string, error)
}

// ArchiveExtractor 解出压缩包中的固件子树。
type ArchiveExtractor interface {
	Extract(archivePath string) (int, error)
	Target() string
}

// ConfigReconciler 把备份中的设置合并进新安装的默认文件。
type ConfigReconciler interface {
	Reconcile(kind models.ArtifactKind, installedPath, backupPath string) (reconcile.Outcome, error)
}

// StateFunc 在每次状态迁移时回调。
type StateFunc func(entry models.CatalogEntry, state models.State)

// Orchestrator 串行执行安装会话，一次只处理一个版本。
type Orchestrator struct {
	cfg models.InstallConfig

	downloader ArtifactDownloader
	extractor  ArchiveExtractor
	reconciler ConfigReconciler
	runner     CommandRunner
	store      storage.LocalStorage
	recorder   *metrics.Recorder
	tracer     trace.Tracer
	logger     hclog.Logger
	observer   StateFunc
	now        func() time.Time
}

// Option 配置 Orchestrator。
type Option func(*Orchestrator)

// WithDownloader 替换下载器。
func WithDownloader(d ArtifactDownloader) Option {
	return func(o *Orchestrator) { o.downloader = d }
}

// WithExtractor 替换解压器。
func WithExtractor(e ArchiveExtractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithReconciler 替换配置合并器。
func WithReconciler(r ConfigReconciler) Option {
	return func(o *Orchestrator) { o.reconciler = r }
}

// WithRunner 替换脚本执行器。
func WithRunner(r CommandRunner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithStorage 在安装完成后保存记录与当前版本标记。
func WithStorage(s storage.LocalStorage) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithRecorder 记录会话指标。
func WithRecorder(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTracer 替换默认的全局 tracer。
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithLogger 设置日志输出。
func WithLogger(l hclog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNull(l) }
}

// WithObserver 订阅状态迁移。
func WithObserver(fn StateFunc) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator 创建 Orchestrator，未替换的组件按 cfg 构造默认实现。
func NewOrchestrator(cfg models.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg.Install,
		logger: hclog.NewNullLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.downloader == nil {
		o.downloader = NewDownloader(cfg, WithDownloadLogger(o.logger.Named("download")))
	}
	if o.extractor == nil {
		o.extractor = NewExtractor(cfg.Install.Root, cfg.Install.ArchivePrefix, o.logger.Named("extract"))
	}
	if o.reconciler == nil {
		o.reconciler = reconcile.NewReconciler(reconcile.WithLogger(o.logger.Named("reconcile")))
	}
	if o.runner == nil {
		o.runner = ExecRunner{Logger: o.logger.Named("hook")}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// Run 依次安装 entries。单个版本失败不会影响后续版本；ctx 取消后剩余版本标记为 skipped。
func (o *Orchestrator) Run(ctx context.Context, entries []models.CatalogEntry) *models.InstallSession {
	ctx, span := o.tracer.Start(ctx, "install.session", trace.WithAttributes(
		attribute.Int("fwinstall.selected", len(entries)),
	))
	defer span.End()

	session := &models.InstallSession{
		StagingPath: o.cfg.StagingPath,
		TargetDir:   o.extractor.Target(),
		BackupDir:   o.cfg.BackupRoot(),
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			session.Results = append(session.Results, models.VersionResult{
				Entry:  entry,
				State:  models.StatePending,
				Status: models.StatusSkipped,
				Err:    err,
			})
			o.finish(models.StatusSkipped)
			continue
		}
		session.Results = append(session.Results, o.installOne(ctx, entry))
	}

	if !session.Succeeded() {
		span.SetStatus(codes.Error, "one or more versions failed")
	}
	return session
}

func (o *Orchestrator) installOne(ctx context.Context, entry models.CatalogEntry) models.VersionResult {
	log := o.logger.With("version", entry.Version.String())
	result := models.VersionResult{
		Entry:     entry,
		State:     models.StatePending,
		StartedAt: o.now(),
	}

	ctx, span := o.tracer.Start(ctx, "install.version", trace.WithAttributes(
		attribute.String("fwinstall.version", entry.Version.Key()),
		attribute.String("fwinstall.source", entry.SourceLocation),
	))
	defer span.End()

	log.Info("installing", "name", entry.DisplayName)

	var archive string
	steps := []struct {
		state models.State
		run   func(context.Context) error
	}{
		{models.StateDownloading, func(ctx context.Context) error {
			path, err := o.downloader.Download(ctx, entry.SourceLocation)
			if err != nil {
				return err
			}
			archive = path
			if o.recorder != nil {
				if info, err := os.Stat(path); err == nil {
					o.recorder.Downloaded(info.Size())
				}
			}
			return nil
		}},
		{models.StateBackingUp, func(context.Context) error {
			_, err := BackupArtifacts(o.cfg, log)
			return err
		}},
		{models.StateExtracting, func(context.Context) error {
			_, err := o.extractor.Extract(archive)
			return err
		}},
		{models.StateReconciling, func(context.Context) error {
			return o.reconcileArtifacts(log, &result)
		}},
		{models.StateFinalizingPermissions, func(context.Context) error {
			n, err := FinalizePermissions(o.extractor.Target(), o.cfg.ExecSuffixes, o.cfg.ExecNames)
			if err == nil {
				log.Debug("permissions finalized", "changed", n)
			}
			return err
		}},
		{models.StateRunningHooks, func(ctx context.Context) error {
			_, err := RunHooks(ctx, o.runner, o.cfg.HookShell, o.extractor.Target(), o.cfg.Hooks, log)
			return err
		}},
	}

	for _, step := range steps {
		if err := o.step(ctx, &result, step.state, step.run); err != nil {
			result.FailedAt = step.state
			result.State = models.StateFailed
			result.Status = models.StatusFailed
			result.Err = err
			result.FinishedAt = o.now()
			o.notify(entry, models.StateFailed)

			span.RecordError(err)
			span.SetStatus(codes.Error, fault.Label(err))
			if o.recorder != nil {
				o.recorder.Failure(fault.Label(err), string(step.state))
			}
			o.finish(models.StatusFailed)
			log.Error("install failed", "step", step.state, "error", err)
			return result
		}
	}

	result.State = models.StateDone
	result.Status = models.StatusSuccess
	result.FinishedAt = o.now()
	o.notify(entry, models.StateDone)
	o.saveRecord(log, entry, &result)
	o.finish(models.StatusSuccess)
	log.Info("install complete", "elapsed", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	return result
}

func (o *Orchestrator) step(ctx context.Context, result *models.VersionResult, state models.State, run func(context.Context) error) error {
	result.State = state
	o.notify(result.Entry, state)

	ctx, span := o.tracer.Start(ctx, "install."+string(state))
	defer span.End()

	start := o.now()
	err := run(ctx)
	if o.recorder != nil {
		o.recorder.ObserveStep(string(state), o.now().Sub(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// reconcileArtifacts 逐个合并配置文件。损坏的文件只产生警告并保留新默认值。
func (o *Orchestrator) reconcileArtifacts(log hclog.Logger, result *models.VersionResult) error {
	for _, artifact := range o.cfg.Artifacts {
		installed := o.cfg.ArtifactPath(artifact)
		backup := o.cfg.BackupPath(artifact)

		outcome, err := o.reconciler.Reconcile(artifact.Kind, installed, backup)
		if errors.Is(err, fault.ErrConfigCorrupt) {
			msg := fmt.Sprintf("%s left at shipped defaults: %v", artifactName(artifact), err)
			result.Warnings = append(result.Warnings, msg)
			log.Warn("configuration not reconciled", "artifact", artifactName(artifact), "error", err)
			continue
		}
		if err != nil {
			return err
		}
		if outcome.Skipped {
			continue
		}

		for _, key := range outcome.Report.Dropped {
			result.Dropped = append(result.Dropped, artifactName(artifact)+": "+key)
		}
		if o.recorder != nil {
			o.recorder.DroppedKeys(artifactName(artifact), len(outcome.Report.Dropped))
		}
	}
	return nil
}

func (o *Orchestrator) saveRecord(log hclog.Logger, entry models.CatalogEntry, result *models.VersionResult) {
	if o.store == nil {
		return
	}
	record := models.InstallRecord{
		Version:     entry.Version.Number(),
		Beta:        entry.Version.Beta(),
		DisplayName: entry.DisplayName,
		Source:      entry.SourceLocation,
		InstalledAt: result.FinishedAt.UTC(),
	}
	if err := o.store.SaveRecord(record); err != nil {
		log.Warn("could not save install record", "error", err)
		result.Warnings = append(result.Warnings, "install record not saved: "+err.Error())
	}
	if err := o.store.SetCurrentVersionMarker(entry.Version.Key()); err != nil {
		log.Warn("could not update current version marker", "error", err)
		result.Warnings = append(result.Warnings, "current version marker not updated: "+err.Error())
	}
}

func (o *Orchestrator) notify(entry models.CatalogEntry, state models.State) {
	if o.observer != nil {
		o.observer(entry, state)
	}
}

func (o *Orchestrator) finish(status models.Status) {
	if o.recorder != nil {
		o.recorder.InstallFinished(string(status), o.now())
	}
}

func artifactName(a models.ArtifactConfig) string {
	if a.Name != "" {
		return a.Name
	}
	return a.Path
}

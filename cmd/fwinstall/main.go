package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/liangyou/fwinstall/internal/cli"
	"github.com/liangyou/fwinstall/internal/config"
	"github.com/liangyou/fwinstall/internal/install"
	"github.com/liangyou/fwinstall/internal/logging"
	"github.com/liangyou/fwinstall/internal/metrics"
	"github.com/liangyou/fwinstall/internal/platform"
	"github.com/liangyou/fwinstall/internal/remote"
	"github.com/liangyou/fwinstall/internal/storage"
)

// Version 在构建时通过 -ldflags 注入。
var Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := cli.NewApp(build, cli.WithVersion(Version))
	code := app.Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// build 加载配置并组装各组件。
func build(opts cli.Options) (*cli.Services, error) {
	cfg, err := config.NewLoader().Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.MetricsFile != "" {
		cfg.MetricsFile = opts.MetricsFile
	}

	logger := logging.New("fwinstall", cfg.LogLevel, os.Stderr)
	recorder := metrics.New()
	store := storage.NewFileStorage(cfg)

	client := remote.NewClient(
		remote.WithBaseURL(cfg.Catalog.URL),
		remote.WithTimeout(cfg.Catalog.Timeout),
		remote.WithCacheTTL(cfg.Catalog.CacheTTL),
		remote.WithParser(remote.NewParser(cfg.Catalog.OSLabel)),
		remote.WithLogger(logger.Named("catalog")),
	)

	dlOpts := []install.DownloaderOption{install.WithDownloadLogger(logger.Named("download"))}
	if opts.Progress != nil {
		dlOpts = append(dlOpts, install.WithProgressFunc(opts.Progress))
	}
	runner := install.ExecRunner{Logger: logger.Named("hook")}

	orchestrator := install.NewOrchestrator(cfg,
		install.WithDownloader(install.NewDownloader(cfg, dlOpts...)),
		install.WithRunner(runner),
		install.WithStorage(store),
		install.WithRecorder(recorder),
		install.WithLogger(logger.Named("install")),
		install.WithObserver(opts.Observer),
	)

	checker := platform.NewChecker(cfg)

	return &cli.Services{
		Catalog:   install.NewLister(client, store, install.WithCatalogRecorder(recorder)),
		Installer: orchestrator,
		Rebooter:  cli.CommandRebooter{Runner: runner},
		Logger:    logger,
		Preflight: func() ([]string, error) {
			if err := checker.Validate(); err != nil {
				return nil, err
			}
			return checker.Warnings(), nil
		},
		Flush: func() error {
			if cfg.MetricsFile == "" {
				return nil
			}
			return recorder.WriteTextfile(cfg.MetricsFile)
		},
	}, nil
}

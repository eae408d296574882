package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/liangyou/fwinstall/internal/install"
	"github.com/liangyou/fwinstall/internal/remote"
	"github.com/liangyou/fwinstall/pkg/models"
)

// CatalogService 描述目录查询能力。
type CatalogService interface {
	Catalog(ctx context.Context) (*remote.Catalog, error)
	CurrentVersion() (string, error)
	UpdateAvailable(ctx context.Context, current string) (bool, models.CatalogEntry, error)
	History() ([]models.InstallRecord, error)
}

// InstallService 描述安装能力。
type InstallService interface {
	Run(ctx context.Context, entries []models.CatalogEntry) *models.InstallSession
}

// Options 是全局参数，传给 Builder 构造服务。
type Options struct {
	ConfigPath  string
	LogLevel    string
	MetricsFile string

	// Observer 与 Progress 由 App 填充，用于在终端显示安装进度。
	Observer install.StateFunc
	Progress install.ProgressFunc
}

// Services 是命令执行所需的全部依赖。
type Services struct {
	Catalog   CatalogService
	Installer InstallService
	Rebooter  Rebooter
	Logger    hclog.Logger

	// Preflight 在安装前检查平台，返回不阻止安装的警告。
	Preflight func() ([]string, error)
	// Flush 在安装结束后调用，例如写出指标文件。
	Flush func() error
}

// Builder 根据全局参数构造服务。
type Builder func(Options) (*Services, error)

// errReported 表示错误信息已经输出，只需要返回非零退出码。
var errReported = errors.New("reported")

// App 负责 CLI 命令解析与分发。
type App struct {
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	version     string
	build       Builder
	interactive func() bool

	opts     Options
	once     sync.Once
	svc      *Services
	buildErr error
	scanner  *bufio.Scanner
}

// AppOption 调整 App。
type AppOption func(*App)

// WithIO 指定输入与输出。
func WithIO(in io.Reader, out, errOut io.Writer) AppOption {
	return func(a *App) {
		a.in = in
		a.out = out
		a.errOut = errOut
	}
}

// WithVersion 指定版本号。
func WithVersion(v string) AppOption {
	return func(a *App) { a.version = v }
}

// WithInteractive 替换终端检测，测试中使用。
func WithInteractive(fn func() bool) AppOption {
	return func(a *App) { a.interactive = fn }
}

// NewApp 创建 CLI 应用实例。
func NewApp(build Builder, opts ...AppOption) *App {
	a := &App{
		in:      os.Stdin,
		out:     os.Stdout,
		errOut:  os.Stderr,
		version: "dev",
		build:   build,
		interactive: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run 解析参数并执行命令，返回进程退出码。
func (a *App) Run(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			a.errorMsg("%v", err)
		}
		return 1
	}
	return 0
}

func (a *App) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fwinstall",
		Short: "Firmware and driver installer",
		Long: `fwinstall lists the published firmware/driver versions, installs the
selected ones and carries user settings over into the new configuration files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.ConfigPath, "config", "c", "", "Path to a YAML config file")
	flags.StringVar(&a.opts.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&a.opts.MetricsFile, "metrics-file", "", "Write session metrics to this textfile")

	root.AddCommand(
		a.listCmd(),
		a.checkCmd(),
		a.installCmd(),
		a.reconcileCmd(),
		a.historyCmd(),
		a.versionCmd(),
	)
	return root
}

// services 在第一次需要时构造依赖，version 等命令不会触发配置加载。
func (a *App) services() (*Services, error) {
	a.once.Do(func() {
		if a.build == nil {
			a.buildErr = errors.New("cli: no service builder configured")
			return
		}
		opts := a.opts
		opts.Observer = a.printState
		if a.interactive() {
			opts.Progress = a.progressPrinter()
		}
		a.svc, a.buildErr = a.build(opts)
		if a.buildErr == nil && a.svc.Logger == nil {
			a.svc.Logger = hclog.NewNullLogger()
		}
	})
	return a.svc, a.buildErr
}

// fetchCatalog 获取目录，失败时统一提示 "No versions found"。
func (a *App) fetchCatalog(ctx context.Context, svc *Services) (*remote.Catalog, error) {
	catalog, err := svc.Catalog.Catalog(ctx)
	if err != nil {
		svc.Logger.Error("fetch catalog", "error", err)
		a.errorMsg("No versions found: %v", err)
		return nil, errReported
	}
	if catalog.Len() == 0 {
		a.errorMsg("No versions found")
		return nil, errReported
	}
	return catalog, nil
}

func (a *App) success(format string, args ...any) {
	fmt.Fprintf(a.out, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func (a *App) info(format string, args ...any) {
	fmt.Fprintf(a.out, "  %s\n", fmt.Sprintf(format, args...))
}

func (a *App) warn(format string, args ...any) {
	fmt.Fprintf(a.errOut, "%s %s\n", color.YellowString("⚠"), fmt.Sprintf(format, args...))
}

func (a *App) errorMsg(format string, args ...any) {
	fmt.Fprintf(a.errOut, "%s %s\n", color.RedString("✗"), fmt.Sprintf(format, args...))
}

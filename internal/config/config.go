// Package config 负责加载 fwinstall 的运行配置：默认值、YAML 文件、.env 文件与环境变量依次覆盖。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/liangyou/fwinstall/pkg/models"
)

const (
	envPrefix = "FWINSTALL_"

	// DefaultEnvFile 是当前目录下可选的 .env 文件。
	DefaultEnvFile = ".env"
)

// Default 返回与设备出厂布局一致的默认配置。
func Default() models.Config {
	return models.Config{
		Catalog: models.CatalogConfig{
			URL:      "https://www.sunfunkits.com/Download/SFKDriverVersion.xml",
			Timeout:  10 * time.Second,
			CacheTTL: 5 * time.Minute,
			OSLabel:  "Venus OS",
			S3Region: "us-east-1",
		},
		Install: models.InstallConfig{
			Root:            "/data",
			StagingPath:     "/tmp/venus-data.tar.gz",
			ArchivePrefix:   "etc/dbus-serialbattery",
			BackupDir:       "etc",
			DownloadTimeout: 15 * time.Minute,
			Artifacts: []models.ArtifactConfig{
				{
					Name:       "config",
					Kind:       models.ArtifactINI,
					Path:       "etc/dbus-serialbattery/config.default.ini",
					BackupName: "dbus-serialbattery_config.default.ini.backup",
				},
				{
					Name:       "battery-setup",
					Kind:       models.ArtifactJSON,
					Path:       "etc/dbus-serialbattery/SFKVirtualBattery/BatterySetupOptionValue.json",
					BackupName: "BatterySetupOptionValue.json.backup",
				},
			},
			ExecSuffixes: []string{".sh", ".py"},
			ExecNames:    []string{"run"},
			Hooks:        []string{"reinstall-local.sh", "reinstalllocal.sh"},
			HookShell:    "bash",
		},
		StateDir: "/data/etc/fwinstall",
		LogLevel: "info",
	}
}

// Loader 组合各配置来源。
type Loader struct {
	envFile string
	environ func() []string
}

// Option 配置 Loader。
type Option func(*Loader)

// WithEnvFile 指定 .env 文件路径，空字符串表示不读取。
func WithEnvFile(path string) Option {
	return func(l *Loader) {
		l.envFile = path
	}
}

// WithEnviron 替换进程环境变量来源，便于测试。
func WithEnviron(fn func() []string) Option {
	return func(l *Loader) {
		if fn != nil {
			l.environ = fn
		}
	}
}

// NewLoader 创建 Loader。
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		envFile: DefaultEnvFile,
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load 按默认值、YAML、.env、环境变量的顺序生成配置并校验。path 为空时跳过 YAML。
func (l *Loader) Load(path string) (models.Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	vars, err := l.variables()
	if err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg, vars); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// variables 合并 .env 与进程环境，进程环境优先。
func (l *Loader) variables() (map[string]string, error) {
	vars := map[string]string{}
	if l.envFile != "" {
		fileVars, err := godotenv.Read(l.envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", l.envFile, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for _, kv := range l.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, envPrefix) {
			vars[k] = v
		}
	}
	return vars, nil
}

func applyEnv(cfg *models.Config, vars map[string]string) error {
	strs := map[string]*string{
		"CATALOG_URL":    &cfg.Catalog.URL,
		"OS_LABEL":       &cfg.Catalog.OSLabel,
		"S3_REGION":      &cfg.Catalog.S3Region,
		"INSTALL_ROOT":   &cfg.Install.Root,
		"STAGING_PATH":   &cfg.Install.StagingPath,
		"ARCHIVE_PREFIX": &cfg.Install.ArchivePrefix,
		"BACKUP_DIR":     &cfg.Install.BackupDir,
		"HOOK_SHELL":     &cfg.Install.HookShell,
		"STATE_DIR":      &cfg.StateDir,
		"METRICS_FILE":   &cfg.MetricsFile,
		"LOG_LEVEL":      &cfg.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := vars[envPrefix+name]; ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*time.Duration{
		"CATALOG_TIMEOUT":  &cfg.Catalog.Timeout,
		"DOWNLOAD_TIMEOUT": &cfg.Install.DownloadTimeout,
	}
	for name, dst := range durations {
		v, ok := vars[envPrefix+name]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, name, err)
		}
		*dst = d
	}
	return nil
}

package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ArtifactKind 表示配置文件格式。
type ArtifactKind string

const (
	ArtifactINI  ArtifactKind = "ini"
	ArtifactJSON ArtifactKind = "json"
)

// Config 保存一次安装会话使用的全部路径与远程地址，由 internal/config 加载后注入各组件。
type Config struct {
	Catalog CatalogConfig `yaml:"catalog"`
	Install InstallConfig `yaml:"install"`

	// StateDir 存放安装记录与当前版本标记。
	StateDir string `yaml:"state_dir"`
	// MetricsFile 非空时，会话结束后以 textfile 格式写出指标。
	MetricsFile string `yaml:"metrics_file"`
	// LogLevel 为 hclog 级别名称。
	LogLevel string `yaml:"log_level"`
}

// CatalogConfig 描述远程版本目录。
type CatalogConfig struct {
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// OSLabel 是显示名称中系统版本前的标识，例如 "Venus OS"。
	OSLabel string `yaml:"os_label"`
	// S3Region 用于 s3:// 形式的下载地址。
	S3Region string `yaml:"s3_region"`
}

// InstallConfig 描述安装目标与配置文件位置，路径均相对 Root 解析（绝对路径除外）。
type InstallConfig struct {
	Root            string           `yaml:"root"`
	StagingPath     string           `yaml:"staging_path"`
	ArchivePrefix   string           `yaml:"archive_prefix"`
	BackupDir       string           `yaml:"backup_dir"`
	DownloadTimeout time.Duration    `yaml:"download_timeout"`
	Artifacts       []ArtifactConfig `yaml:"artifacts"`
	ExecSuffixes    []string         `yaml:"exec_suffixes"`
	ExecNames       []string         `yaml:"exec_names"`
	Hooks           []string         `yaml:"hooks"`
	HookShell       string           `yaml:"hook_shell"`
}

// ArtifactConfig 描述一个需要在升级前后保留用户修改的配置文件。
type ArtifactConfig struct {
	Name       string       `yaml:"name"`
	Kind       ArtifactKind `yaml:"kind"`
	Path       string       `yaml:"path"`
	BackupName string       `yaml:"backup_name"`
}

// TargetDir 返回压缩包子树解压后的目录。
func (c InstallConfig) TargetDir() string {
	return c.resolve(filepath.FromSlash(c.ArchivePrefix))
}

// BackupPath 返回配置文件的备份位置，默认名称为原文件名加 .backup。
func (c InstallConfig) BackupPath(a ArtifactConfig) string {
	name := a.BackupName
	if name == "" {
		name = filepath.Base(a.Path) + ".backup"
	}
	return filepath.Join(c.resolve(c.BackupDir), name)
}

// ArtifactPath 返回配置文件在安装目录中的绝对路径。
func (c InstallConfig) ArtifactPath(a ArtifactConfig) string {
	return c.resolve(a.Path)
}

// BackupRoot 返回备份目录绝对路径。
func (c InstallConfig) BackupRoot() string {
	return c.resolve(c.BackupDir)
}

func (c InstallConfig) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Validate 检查必填字段。
func (c Config) Validate() error {
	var errs []error
	if c.Catalog.URL == "" {
		errs = append(errs, errors.New("catalog.url is required"))
	}
	if c.Install.Root == "" {
		errs = append(errs, errors.New("install.root is required"))
	}
	if c.Install.StagingPath == "" {
		errs = append(errs, errors.New("install.staging_path is required"))
	}
	if c.Install.ArchivePrefix == "" {
		errs = append(errs, errors.New("install.archive_prefix is required"))
	}
	for i, a := range c.Install.Artifacts {
		if a.Path == "" {
			errs = append(errs, fmt.Errorf("install.artifacts[%d].path is required", i))
		}
		if a.Kind != ArtifactINI && a.Kind != ArtifactJSON {
			errs = append(errs, fmt.Errorf("install.artifacts[%d].kind %q is not ini or json", i, a.Kind))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

package install

import (
	"context"
	"fmt"
	"strings"

	"github.com/liangyou/fwinstall/internal/metrics"
	"github.com/liangyou/fwinstall/internal/remote"
	"github.com/liangyou/fwinstall/internal/storage"
	"github.com/liangyou/fwinstall/pkg/models"
)

// Lister 聚合远程目录与本地安装记录。
type Lister struct {
	remote   remote.CatalogSource
	storage  storage.LocalStorage
	recorder *metrics.Recorder
}

// ListerOption 调整 Lister。
type ListerOption func(*Lister)

// WithCatalogRecorder 在每次获取目录后记录条目数。
func WithCatalogRecorder(r *metrics.Recorder) ListerOption {
	return func(l *Lister) { l.recorder = r }
}

// NewLister 创建版本列表服务。
func NewLister(source remote.CatalogSource, store storage.LocalStorage, opts ...ListerOption) *Lister {
	l := &Lister{remote: source, storage: store}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Catalog 获取远程目录。
func (l *Lister) Catalog(ctx context.Context) (*remote.Catalog, error) {
	if l.remote == nil {
		return nil, fmt.Errorf("lister: catalog source is required")
	}
	catalog, err := l.remote.FetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if l.recorder != nil {
		l.recorder.CatalogSize(catalog.Len())
	}
	return catalog, nil
}

// CurrentVersion 返回当前版本标记，未安装或无法解析时返回空字符串。
func (l *Lister) CurrentVersion() (string, error) {
	if l.storage == nil {
		return "", nil
	}
	current, err := l.storage.GetCurrentVersionMarker()
	if err != nil {
		return "", fmt.Errorf("lister: current marker: %w", err)
	}
	return current, nil
}

// UpdateAvailable 报告目录中是否存在比 current 更新的版本，并返回最新条目。
// current 为空时使用本地标记。
func (l *Lister) UpdateAvailable(ctx context.Context, current string) (bool, models.CatalogEntry, error) {
	catalog, err := l.Catalog(ctx)
	if err != nil {
		return false, models.CatalogEntry{}, err
	}
	if strings.TrimSpace(current) == "" {
		if current, err = l.CurrentVersion(); err != nil {
			return false, models.CatalogEntry{}, err
		}
	}
	latest, _ := catalog.Latest()
	return catalog.NewerThan(current), latest, nil
}

// History 返回安装记录，最新的在前。
func (l *Lister) History() ([]models.InstallRecord, error) {
	if l.storage == nil {
		return nil, fmt.Errorf("lister: storage is required")
	}
	records, err := l.storage.LoadRecords()
	if err != nil {
		return nil, fmt.Errorf("lister: load records: %w", err)
	}
	out := make([]models.InstallRecord, len(records))
	for i, r := range records {
		out[len(records)-1-i] = r
	}
	return out, nil
}

// FormatEntry 格式化目录条目，current 匹配时加上 * 标记。
func FormatEntry(e models.CatalogEntry, current string) string {
	marker := " "
	if v, ok := remote.ParseCurrent(current); ok && v.Equal(e.Version) {
		marker = "*"
	}
	line := fmt.Sprintf("%s %2d. %s", marker, e.Index, e.DisplayName)
	if e.OSVersion != nil {
		line += fmt.Sprintf("  [driver %s, OS %s]", e.Version, e.OSVersion)
	}
	return line
}

// FormatRecord 格式化一条安装记录。
func FormatRecord(r models.InstallRecord) string {
	version := r.Version
	if r.Beta {
		version += " (beta)"
	}
	return fmt.Sprintf("%s  %-14s %s", r.InstalledAt.Format("2006-01-02 15:04:05"), version, r.DisplayName)
}

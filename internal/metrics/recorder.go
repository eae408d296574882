// Package metrics 汇总一次安装会话的指标，并以 node-exporter textfile 格式写出。
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fwinstall"

// Recorder 持有会话指标。每个 Recorder 使用独立的 Registry，互不干扰。
type Recorder struct {
	registry *prometheus.Registry

	installs        *prometheus.CounterVec
	failures        *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	downloadedBytes prometheus.Counter
	droppedKeys     *prometheus.CounterVec
	catalogEntries  prometheus.Gauge
	lastSuccess     prometheus.Gauge
}

// New 创建 Recorder。
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,

		installs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Selected versions processed, by final status.",
		}, []string{"status"}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "install_failures_total",
			Help:      "Failed installs by error kind and the step that failed.",
		}, []string{"kind", "step"}),

		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of each install step.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"step"}),

		downloadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes written to the staging file.",
		}),

		droppedKeys: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_dropped_keys_total",
			Help:      "Settings dropped because the new default no longer has them.",
		}, []string{"artifact"}),

		catalogEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_entries",
			Help:      "Valid entries in the last fetched catalog.",
		}),

		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful install.",
		}),
	}
}

// Registry 返回底层 Registry。
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStep 记录一个步骤的耗时。
func (r *Recorder) ObserveStep(step string, d time.Duration) {
	r.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// InstallFinished 记录一个版本的最终结果。
func (r *Recorder) InstallFinished(status string, at time.Time) {
	r.installs.WithLabelValues(status).Inc()
	if status == "success" {
		r.lastSuccess.Set(float64(at.Unix()))
	}
}

// Failure 记录失败的类别与所在步骤。
func (r *Recorder) Failure(kind, step string) {
	r.failures.WithLabelValues(kind, step).Inc()
}

// Downloaded 累加下载字节数。
func (r *Recorder) Downloaded(n int64) {
	if n > 0 {
		r.downloadedBytes.Add(float64(n))
	}
}

// DroppedKeys 累加某个配置文件被丢弃的键数。
func (r *Recorder) DroppedKeys(artifact string, n int) {
	if n > 0 {
		r.droppedKeys.WithLabelValues(artifact).Add(float64(n))
	}
}

// CatalogSize 记录目录条目数。
func (r *Recorder) CatalogSize(n int) {
	r.catalogEntries.Set(float64(n))
}

// WriteTextfile 把当前指标写到 path，供 node-exporter textfile collector 读取。
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: create dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

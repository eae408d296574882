package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()

	r := New()
	r.InstallFinished("success", time.Unix(1700000000, 0))
	r.InstallFinished("failed", time.Now())
	r.InstallFinished("success", time.Unix(1700000100, 0))
	r.Failure("download_failed", "downloading")
	r.DroppedKeys("config", 2)
	r.DroppedKeys("config", 0)
	r.Downloaded(1024)
	r.CatalogSize(3)

	if got := testutil.ToFloat64(r.installs.WithLabelValues("success")); got != 2 {
		t.Fatalf("success installs = %v", got)
	}
	if got := testutil.ToFloat64(r.failures.WithLabelValues("download_failed", "downloading")); got != 1 {
		t.Fatalf("failures = %v", got)
	}
	if got := testutil.ToFloat64(r.droppedKeys.WithLabelValues("config")); got != 2 {
		t.Fatalf("dropped keys = %v", got)
	}
	if got := testutil.ToFloat64(r.lastSuccess); got != 1700000100 {
		t.Fatalf("last success = %v", got)
	}
	if got := testutil.ToFloat64(r.catalogEntries); got != 3 {
		t.Fatalf("catalog entries = %v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	r := New()
	r.ObserveStep("downloading", 2*time.Second)
	r.Downloaded(2048)

	path := filepath.Join(t.TempDir(), "textfile", "fwinstall.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	for _, want := range []string{
		"fwinstall_download_bytes_total 2048",
		`fwinstall_step_duration_seconds_count{step="downloading"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("textfile missing %q:\n%s", want, data)
		}
	}
}

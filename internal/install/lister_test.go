package install

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/liangyou/fwinstall/internal/fault"
	"github.com/liangyou/fwinstall/internal/metrics"
	"github.com/liangyou/fwinstall/internal/remote"
	"github.com/liangyou/fwinstall/pkg/models"
)

type fakeCatalogSource struct {
	catalog *remote.Catalog
	err     error
}

func (f *fakeCatalogSource) FetchCatalog(context.Context) (*remote.Catalog, error) {
	return f.catalog, f.err
}

type fakeStorage struct {
	records []models.InstallRecord
	current string
}

func (f *fakeStorage) SaveRecord(r models.InstallRecord) error {
	f.records = append(f.records, r)
	return nil
}
func (f *fakeStorage) LoadRecords() ([]models.InstallRecord, error) { return f.records, nil }
func (f *fakeStorage) GetCurrentVersionMarker() (string, error)      { return f.current, nil }
func (f *fakeStorage) SetCurrentVersionMarker(v string) error {
	f.current = v
	return nil
}

func sampleCatalog() *remote.Catalog {
	return remote.BuildCatalog([]string{
		"SFK Driver v1.67 for Venus OS 3.52 |^| https://example/1.67.tar.gz",
		"SFK Driver v1.678 Beta |^| https://example/1.678.tar.gz",
	}, nil, nil)
}

func TestListerUpdateAvailableUsesMarker(t *testing.T) {
	t.Parallel()

	store := &fakeStorage{current: "1.67"}
	lister := NewLister(&fakeCatalogSource{catalog: sampleCatalog()}, store)

	newer, latest, err := lister.UpdateAvailable(context.Background(), "")
	if err != nil {
		t.Fatalf("UpdateAvailable: %v", err)
	}
	if !newer || latest.Version.Number() != "1.678" {
		t.Fatalf("expected 1.678 to be newer, got %v %s", newer, latest.Version)
	}

	newer, _, err = lister.UpdateAvailable(context.Background(), "1.678")
	if err != nil || newer {
		t.Fatalf("explicit current should win over marker: %v %v", newer, err)
	}
}

func TestListerCatalogError(t *testing.T) {
	t.Parallel()

	src := &fakeCatalogSource{err: fault.Newf(fault.ErrCatalogUnavailable, "https://example", "timeout")}
	_, _, err := NewLister(src, &fakeStorage{}).UpdateAvailable(context.Background(), "1.0")
	if !errors.Is(err, fault.ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
}

func TestListerHistoryNewestFirst(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStorage{records: []models.InstallRecord{
		{Version: "1.60", InstalledAt: base},
		{Version: "1.61", InstalledAt: base.Add(time.Hour)},
	}}

	history, err := NewLister(nil, store).History()
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history[0].Version != "1.61" || history[1].Version != "1.60" {
		t.Fatalf("unexpected order: %+v", history)
	}
}

func TestFormatEntry(t *testing.T) {
	t.Parallel()

	catalog := sampleCatalog()
	first, _ := catalog.At(1)
	second, _ := catalog.At(2)

	line := FormatEntry(first, "1.67")
	if !strings.HasPrefix(line, "*  1. SFK Driver v1.67") || !strings.Contains(line, "OS 3.52") {
		t.Fatalf("unexpected line %q", line)
	}
	if line := FormatEntry(second, "1.67"); !strings.HasPrefix(line, "   2.") {
		t.Fatalf("unexpected line %q", line)
	}

	record := FormatRecord(models.InstallRecord{Version: "1.678", Beta: true, DisplayName: "SFK", InstalledAt: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)})
	if !strings.Contains(record, "2024-02-03 04:05:06") || !strings.Contains(record, "1.678 (beta)") {
		t.Fatalf("unexpected record line %q", record)
	}
}

func TestListerRecordsCatalogSize(t *testing.T) {
	t.Parallel()

	recorder := metrics.New()
	lister := NewLister(&fakeCatalogSource{catalog: sampleCatalog()}, &fakeStorage{}, WithCatalogRecorder(recorder))
	if _, err := lister.Catalog(context.Background()); err != nil {
		t.Fatalf("Catalog: %v", err)
	}

	expected := `
# HELP fwinstall_catalog_entries Valid entries in the last fetched catalog.
# TYPE fwinstall_catalog_entries gauge
fwinstall_catalog_entries 2
`
	if err := testutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected), "fwinstall_catalog_entries"); err != nil {
		t.Fatal(err)
	}
}

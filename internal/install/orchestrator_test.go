package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/liangyou/fwinstall/internal/fault"
	"github.com/liangyou/fwinstall/internal/metrics"
	"github.com/liangyou/fwinstall/internal/remote"
	"github.com/liangyou/fwinstall/internal/storage"
	"github.com/liangyou/fwinstall/pkg/models"
)

// stubDownloader 把预先准备的压缩包复制到暂存路径。
type stubDownloader struct {
	archives map[string]string
	staging  string
	calls    []string
}

func (s *stubDownloader) Download(_ context.Context, source string) (string, error) {
	s.calls = append(s.calls, source)
	archive, ok := s.archives[source]
	if !ok {
		return "", fault.Newf(fault.ErrDownloadFailed, source, "unexpected status 404")
	}
	if _, err := copyFile(archive, s.staging); err != nil {
		return "", err
	}
	return s.staging, nil
}

func testConfig(root string) models.Config {
	return models.Config{
		Install: models.InstallConfig{
			Root:          root,
			StagingPath:   filepath.Join(root, "tmp", "venus-data.tar.gz"),
			ArchivePrefix: "etc/dbus-serialbattery",
			BackupDir:     "etc",
			Artifacts: []models.ArtifactConfig{
				{Name: "config", Kind: models.ArtifactINI, Path: "etc/dbus-serialbattery/config.default.ini", BackupName: "dbus-serialbattery_config.default.ini.backup"},
				{Name: "battery-setup", Kind: models.ArtifactJSON, Path: "etc/dbus-serialbattery/SFKVirtualBattery/BatterySetupOptionValue.json", BackupName: "BatterySetupOptionValue.json.backup"},
			},
			ExecSuffixes: []string{".sh", ".py"},
			ExecNames:    []string{"run"},
			Hooks:        []string{"reinstall-local.sh", "reinstalllocal.sh"},
			HookShell:    "bash",
		},
		StateDir: filepath.Join(root, "state"),
	}
}

func entry(t *testing.T, index int, name, source string) models.CatalogEntry {
	t.Helper()
	v, ok := remote.ParseVersion(name)
	if !ok {
		t.Fatalf("no version in %q", name)
	}
	return models.CatalogEntry{Index: index, DisplayName: name, SourceLocation: source, Version: v}
}

func firmwareArchive(t *testing.T, ini, json string) string {
	t.Helper()
	return createArchive(t, gzipped, map[string]string{
		"etc/dbus-serialbattery/config.default.ini":                             ini,
		"etc/dbus-serialbattery/SFKVirtualBattery/BatterySetupOptionValue.json": json,
		"etc/dbus-serialbattery/service/run":                                    "#!/bin/sh\n",
		"etc/dbus-serialbattery/reinstall-local.sh":                             "#!/bin/bash\n",
	})
}

func TestOrchestratorInstallsAndReconciles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root)

	// 设备上已有用户修改过的配置
	writeFile(t, filepath.Join(root, "etc/dbus-serialbattery/config.default.ini"), "[DEFAULT]\nMAX_CELL_VOLTAGE = 3.45\nLEGACY = 1\n")
	writeFile(t, filepath.Join(root, "etc/dbus-serialbattery/SFKVirtualBattery/BatterySetupOptionValue.json"), `{"Capacity": 280}`)

	archive := firmwareArchive(t,
		"[DEFAULT]\nMAX_CELL_VOLTAGE = 3.65\nNEW_OPTION = True\n",
		"{\n  \"Capacity\": 100,\n  \"Cells\": 16\n}\n",
	)
	down := &stubDownloader{archives: map[string]string{"https://example/1.70.tar.gz": archive}, staging: cfg.Install.StagingPath}
	runner := &recordingRunner{}
	store := storage.NewFileStorage(cfg)
	recorder := metrics.New()

	var states []models.State
	orch := NewOrchestrator(cfg,
		WithDownloader(down),
		WithRunner(runner),
		WithStorage(store),
		WithRecorder(recorder),
		WithObserver(func(_ models.CatalogEntry, s models.State) { states = append(states, s) }),
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }),
	)

	session := orch.Run(context.Background(), []models.CatalogEntry{entry(t, 1, "SFK Driver v1.70", "https://example/1.70.tar.gz")})
	if !session.Succeeded() {
		t.Fatalf("session failed: %+v", session.Results)
	}

	wantStates := []models.State{
		models.StateDownloading, models.StateBackingUp, models.StateExtracting, models.StateReconciling,
		models.StateFinalizingPermissions, models.StateRunningHooks, models.StateDone,
	}
	if !reflect.DeepEqual(states, wantStates) {
		t.Fatalf("states = %v", states)
	}

	ini := readFile(t, filepath.Join(root, "etc/dbus-serialbattery/config.default.ini"))
	if ini != "[DEFAULT]\nMAX_CELL_VOLTAGE = 3.45\nNEW_OPTION = True\n" {
		t.Fatalf("ini not reconciled:\n%s", ini)
	}
	json := readFile(t, filepath.Join(root, "etc/dbus-serialbattery/SFKVirtualBattery/BatterySetupOptionValue.json"))
	if !strings.Contains(json, `"Capacity": 280`) || !strings.Contains(json, `"Cells": 16`) {
		t.Fatalf("json not reconciled:\n%s", json)
	}

	result := session.Results[0]
	if !reflect.DeepEqual(result.Dropped, []string{"config: DEFAULT.legacy"}) {
		t.Fatalf("dropped = %v", result.Dropped)
	}

	info, err := os.Stat(filepath.Join(root, "etc/dbus-serialbattery/service/run"))
	if err != nil || info.Mode().Perm()&0o111 == 0 {
		t.Fatalf("run not executable: %v %v", info, err)
	}
	if !reflect.DeepEqual(runner.calls, []string{"bash reinstall-local.sh"}) {
		t.Fatalf("hook calls = %v", runner.calls)
	}

	if marker, _ := store.GetCurrentVersionMarker(); marker != "1.70" {
		t.Fatalf("current marker = %q", marker)
	}
	records, _ := store.LoadRecords()
	if len(records) != 1 || records[0].Version != "1.70" {
		t.Fatalf("records = %+v", records)
	}

	count, err := testutil.GatherAndCount(recorder.Registry(), "fwinstall_step_duration_seconds")
	if err != nil || count != 6 {
		t.Fatalf("expected 6 step series, got %d (%v)", count, err)
	}
}

func TestOrchestratorContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root)

	good := firmwareArchive(t, "[DEFAULT]\nA = 1\n", "{}")
	noSubtree := createArchive(t, gzipped, map[string]string{"etc/other/file": "x"})
	down := &stubDownloader{
		archives: map[string]string{
			"https://example/empty.tar.gz": noSubtree,
			"https://example/good.tar.gz":  good,
		},
		staging: cfg.Install.StagingPath,
	}
	recorder := metrics.New()

	orch := NewOrchestrator(cfg, WithDownloader(down), WithRunner(&recordingRunner{}), WithRecorder(recorder))
	session := orch.Run(context.Background(), []models.CatalogEntry{
		entry(t, 1, "Driver v1.60", "https://example/missing.tar.gz"),
		entry(t, 2, "Driver v1.61", "https://example/empty.tar.gz"),
		entry(t, 3, "Driver v1.62", "https://example/good.tar.gz"),
	})

	if session.Succeeded() {
		t.Fatal("session with failures must not report success")
	}
	if len(session.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(session.Results))
	}

	first, second, third := session.Results[0], session.Results[1], session.Results[2]
	if first.State != models.StateFailed || first.FailedAt != models.StateDownloading || !errors.Is(first.Err, fault.ErrDownloadFailed) {
		t.Fatalf("first = %+v", first)
	}
	if second.FailedAt != models.StateExtracting || !errors.Is(second.Err, fault.ErrExtractionFailed) {
		t.Fatalf("second = %+v", second)
	}
	if third.Status != models.StatusSuccess {
		t.Fatalf("third = %+v", third)
	}

	expected := `
# HELP fwinstall_installs_total Selected versions processed, by final status.
# TYPE fwinstall_installs_total counter
fwinstall_installs_total{status="failed"} 2
fwinstall_installs_total{status="success"} 1
`
	if err := testutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected), "fwinstall_installs_total"); err != nil {
		t.Fatalf("installs metric: %v", err)
	}
}

func TestOrchestratorCorruptConfigIsWarning(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root)
	writeFile(t, filepath.Join(root, "etc/dbus-serialbattery/config.default.ini"), "not an ini file\n")

	archive := firmwareArchive(t, "[DEFAULT]\nA = 1\n", "{}")
	down := &stubDownloader{archives: map[string]string{"https://example/a.tar.gz": archive}, staging: cfg.Install.StagingPath}

	session := NewOrchestrator(cfg, WithDownloader(down), WithRunner(&recordingRunner{})).
		Run(context.Background(), []models.CatalogEntry{entry(t, 1, "Driver v1.70", "https://example/a.tar.gz")})

	result := session.Results[0]
	if result.Status != models.StatusSuccess {
		t.Fatalf("corrupt backup should not fail the version: %+v", result)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "config") {
		t.Fatalf("warnings = %v", result.Warnings)
	}
	if got := readFile(t, filepath.Join(root, "etc/dbus-serialbattery/config.default.ini")); got != "[DEFAULT]\nA = 1\n" {
		t.Fatalf("shipped default should stay: %q", got)
	}
}

func TestOrchestratorHookFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root)

	archive := firmwareArchive(t, "[DEFAULT]\nA = 1\n", "{}")
	down := &stubDownloader{archives: map[string]string{"https://example/a.tar.gz": archive}, staging: cfg.Install.StagingPath}
	runner := &recordingRunner{fail: map[string]error{"reinstall-local.sh": errors.New("exit status 1")}}
	store := storage.NewFileStorage(cfg)

	session := NewOrchestrator(cfg, WithDownloader(down), WithRunner(runner), WithStorage(store)).
		Run(context.Background(), []models.CatalogEntry{entry(t, 1, "Driver v1.70", "https://example/a.tar.gz")})

	result := session.Results[0]
	if result.FailedAt != models.StateRunningHooks || !errors.Is(result.Err, fault.ErrHookFailed) {
		t.Fatalf("result = %+v", result)
	}
	// 不回滚：新文件已落地
	if _, err := os.Stat(filepath.Join(root, "etc/dbus-serialbattery/config.default.ini")); err != nil {
		t.Fatalf("extracted tree should remain: %v", err)
	}
	if marker, _ := store.GetCurrentVersionMarker(); marker != "" {
		t.Fatalf("failed install must not move the marker: %q", marker)
	}
}

func TestOrchestratorCancelledSkipsRemaining(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := testConfig(root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	down := &stubDownloader{staging: cfg.Install.StagingPath}
	session := NewOrchestrator(cfg, WithDownloader(down), WithRunner(&recordingRunner{})).
		Run(ctx, []models.CatalogEntry{
			entry(t, 1, "Driver v1.60", "https://example/a.tar.gz"),
			entry(t, 2, "Driver v1.61", "https://example/b.tar.gz"),
		})

	for _, r := range session.Results {
		if r.Status != models.StatusSkipped || !errors.Is(r.Err, context.Canceled) {
			t.Fatalf("expected skipped result, got %+v", r)
		}
	}
	if len(down.calls) != 0 {
		t.Fatalf("no download should start after cancel: %v", down.calls)
	}
}

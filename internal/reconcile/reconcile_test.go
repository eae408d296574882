package reconcile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/liangyou/fwinstall/internal/fault"
	"github.com/liangyou/fwinstall/internal/logging"
	"github.com/liangyou/fwinstall/pkg/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestReconcileWritesMergedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	installed := filepath.Join(dir, "config.default.ini")
	backup := filepath.Join(dir, "config.default.ini.backup")
	writeFile(t, installed, iniDefault)
	writeFile(t, backup, iniBackup)

	var logs bytes.Buffer
	r := NewReconciler(WithLogger(logging.New("test", "info", &logs)))

	outcome, err := r.Reconcile(models.ArtifactINI, installed, backup)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Skipped || !outcome.Written {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	data, err := os.ReadFile(installed)
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	if !strings.Contains(string(data), "BMS_TYPE = Daly") {
		t.Fatalf("merged file missing backup value:\n%s", data)
	}
	if !strings.Contains(logs.String(), "DEFAULT.old_option") {
		t.Fatalf("dropped key not logged: %s", logs.String())
	}

	info, err := os.Stat(installed)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("mode changed to %v", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestReconcileSkipsWhenFileAbsent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	installed := filepath.Join(dir, "BatterySetupOptionValue.json")
	backup := filepath.Join(dir, "BatterySetupOptionValue.json.backup")

	r := NewReconciler()

	outcome, err := r.Reconcile(models.ArtifactJSON, installed, backup)
	if err != nil || !outcome.Skipped {
		t.Fatalf("missing installed file should skip: %+v, %v", outcome, err)
	}

	writeFile(t, installed, jsonDefault)
	outcome, err = r.Reconcile(models.ArtifactJSON, installed, backup)
	if err != nil || !outcome.Skipped {
		t.Fatalf("missing backup should skip: %+v, %v", outcome, err)
	}

	data, _ := os.ReadFile(installed)
	if string(data) != jsonDefault {
		t.Fatal("skipped reconcile must not touch the installed file")
	}
}

func TestReconcileCorruptBackupLeavesDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	installed := filepath.Join(dir, "settings.json")
	backup := filepath.Join(dir, "settings.json.backup")
	writeFile(t, installed, jsonDefault)
	writeFile(t, backup, `{"Battery": `)

	_, err := NewReconciler().Reconcile(models.ArtifactJSON, installed, backup)
	if !errors.Is(err, fault.ErrConfigCorrupt) {
		t.Fatalf("expected ErrConfigCorrupt, got %v", err)
	}
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Target != backup {
		t.Fatalf("error should name the backup file: %v", err)
	}

	data, _ := os.ReadFile(installed)
	if string(data) != jsonDefault {
		t.Fatal("installed file modified after corrupt backup")
	}
}

func TestReconcileDryRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	installed := filepath.Join(dir, "config.default.ini")
	backup := filepath.Join(dir, "config.default.ini.backup")
	writeFile(t, installed, iniDefault)
	writeFile(t, backup, iniBackup)

	outcome, err := NewReconciler(WithDryRun(true)).Reconcile(models.ArtifactINI, installed, backup)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Written || len(outcome.Report.Changed) == 0 {
		t.Fatalf("dry run should report without writing: %+v", outcome)
	}
	data, _ := os.ReadFile(installed)
	if string(data) != iniDefault {
		t.Fatal("dry run modified the file")
	}
}

func TestMergeUnsupportedKind(t *testing.T) {
	t.Parallel()

	if _, _, err := Merge(models.ArtifactKind("toml"), nil, nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

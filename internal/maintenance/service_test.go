package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeArtifact(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("col_a,col_b\n1,2\n"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("set mtime: %v", err)
	}
	return path
}

func TestSweepDeletesExpiredArtifacts(t *testing.T) {
	dir := t.TempDir()
	old := writeArtifact(t, dir, "req1_a.csv", 48*time.Hour)
	fresh := writeArtifact(t, dir, "req2_b.csv", time.Minute)

	svc := &Service{Config: Config{ExportDir: dir, Retention: 24 * time.Hour}}
	summary, err := svc.RunSweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.FilesScanned != 2 || summary.FilesDeleted != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.BytesFreed == 0 {
		t.Fatalf("expected freed bytes, summary = %+v", summary)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expired artifact still present: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh artifact removed: %v", err)
	}
}

func TestSweepSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	svc := &Service{Config: Config{ExportDir: dir, Retention: time.Hour}}
	summary, err := svc.RunSweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.FilesScanned != 0 || summary.FilesDeleted != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestSweepMissingDirectoryIsNotAnError(t *testing.T) {
	svc := &Service{Config: Config{ExportDir: filepath.Join(t.TempDir(), "absent"), Retention: time.Hour}}
	summary, err := svc.RunSweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.FilesScanned != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestSweepRequiresExportDir(t *testing.T) {
	svc := &Service{}
	if _, err := svc.RunSweepOnce(context.Background()); err == nil {
		t.Fatal("expected error for missing export dir")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	svc := &Service{Config: Config{ExportDir: t.TempDir(), Retention: time.Hour, SweepInterval: 10 * time.Millisecond}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

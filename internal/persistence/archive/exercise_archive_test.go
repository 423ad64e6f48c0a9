package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestArchiveExerciseMovesFiles(t *testing.T) {
	dataDir := t.TempDir()
	exDir := filepath.Join(dataDir, "exercises", "123456")
	src := filepath.Join(exDir, "exports", "3.json.zst")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(src, []byte("dummy"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dst, err := ArchiveExercise(dataDir, exDir, Meta{ExerciseID: "123456", TrainerID: "12345678", ActionCount: 3}, now)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if want := filepath.Join(dataDir, "archives", "123456_20240501T120000Z"); dst != want {
		t.Fatalf("dst=%s want %s", dst, want)
	}
	if _, err := os.Stat(exDir); !os.IsNotExist(err) {
		t.Fatalf("exercise dir still present: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dst, "exports", "3.json.zst"))
	if err != nil || string(got) != "dummy" {
		t.Fatalf("archived content=%q err=%v", got, err)
	}

	b, err := os.ReadFile(filepath.Join(dst, "meta.json"))
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	var meta Meta
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.TrainerID != "12345678" || meta.ActionCount != 3 || meta.ArchivedAt == "" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestArchiveExerciseWithoutFiles(t *testing.T) {
	dataDir := t.TempDir()
	dst, err := ArchiveExercise(dataDir, filepath.Join(dataDir, "missing"), Meta{ExerciseID: "654321"}, time.Now())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "meta.json")); err != nil {
		t.Fatalf("meta.json missing: %v", err)
	}
	if _, err := ArchiveExercise(dataDir, "", Meta{}, time.Now()); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

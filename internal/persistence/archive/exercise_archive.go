// Package archive keeps the files of deleted exercises out of the live data
// directory instead of removing them.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

type Meta struct {
	ExerciseID  string `json:"exercise_id"`
	TrainerID   string `json:"trainer_id"`
	DataVersion int    `json:"data_version"`
	Export      string `json:"export,omitempty"`
	ActionCount uint64 `json:"action_count"`
	ArchivedAt  string `json:"archived_at"`
}

// ArchiveExercise moves exerciseDir to dataDir/archives/<id>_<timestamp>/
// and writes meta.json next to the moved files. If exerciseDir does not exist
// only the metadata is written.
func ArchiveExercise(dataDir, exerciseDir string, meta Meta, now time.Time) (string, error) {
	if meta.ExerciseID == "" {
		return "", fmt.Errorf("archive: empty exercise id")
	}
	now = now.UTC()
	dst := filepath.Join(dataDir, "archives", fmt.Sprintf("%s_%s", meta.ExerciseID, now.Format("20060102T150405Z")))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if _, err := os.Stat(exerciseDir); err == nil {
		if err := os.Rename(exerciseDir, dst); err != nil {
			if err := copyDir(exerciseDir, dst); err != nil {
				return "", err
			}
			_ = os.RemoveAll(exerciseDir)
		}
	} else if !os.IsNotExist(err) {
		return "", err
	} else if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	meta.ArchivedAt = now.Format(time.RFC3339Nano)
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dst, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

// copyDir is the fallback when the archive lives on another filesystem.
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

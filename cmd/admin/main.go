// Command admin inspects and manages exercises of a server: offline from the
// data directory and index store, online through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"manvsim.ai/internal/persistence/indexdb"
	"manvsim.ai/internal/sim/exercise"
	"manvsim.ai/internal/sim/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "list":
			listCmd(os.Args[2:])
			return
		case "running":
			runningCmd(os.Args[2:])
			return
		case "create":
			createCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "delete":
			deleteCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// exerciseRow is one line of `admin list`.
type exerciseRow struct {
	ParticipantID string    `json:"participantId"`
	TrainerID     string    `json:"trainerId"`
	CreatedAt     time.Time `json:"createdAt"`
	ActionCount   uint64    `json:"actionCount,omitempty"`
	CurrentTime   int64     `json:"currentTime,omitempty"`
	Export        string    `json:"export,omitempty"`
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	configPath := fs.String("config", "", "path to server.yaml (optional)")
	files := fs.Bool("files", false, "read exercise.json files instead of the index store")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		rows []exerciseRow
		err  error
	)
	if *files {
		rows, err = listFromFiles(*dataDir)
	} else {
		rows, err = listFromStore(ctx, *dataDir, *configPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

func listFromStore(ctx context.Context, dataDir, configPath string) ([]exerciseRow, error) {
	tune, err := tuning.Load(configPath)
	if err != nil {
		return nil, err
	}
	dsn := tune.Store.DSN
	if (tune.Store.Driver == "" || tune.Store.Driver == "sqlite") && dsn == "" {
		dsn = filepath.Join(dataDir, "index", "exercises.sqlite")
		if _, err := os.Stat(dsn); errors.Is(err, os.ErrNotExist) {
			return listFromFiles(dataDir)
		}
	}
	store, err := indexdb.Open(ctx, tune.Store.Driver, dsn, zap.NewNop())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	list, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]exerciseRow, 0, len(list))
	for _, e := range list {
		rows = append(rows, exerciseRow{
			ParticipantID: e.ParticipantID,
			TrainerID:     e.TrainerID,
			CreatedAt:     e.CreatedAt,
			ActionCount:   e.ActionCount,
			CurrentTime:   e.CurrentTime,
			Export:        e.SnapshotPath,
		})
	}
	return rows, nil
}

func listFromFiles(dataDir string) ([]exerciseRow, error) {
	dirs, err := filepath.Glob(filepath.Join(dataDir, "exercises", "*", "exercise.json"))
	if err != nil {
		return nil, err
	}
	rows := make([]exerciseRow, 0, len(dirs))
	for _, path := range dirs {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var m exercise.Meta
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		r := exerciseRow{ParticipantID: m.ParticipantID, TrainerID: m.TrainerID, CreatedAt: m.CreatedAt}
		if export, n, err := exercise.LatestExport(filepath.Dir(path)); err == nil {
			r.Export, r.ActionCount = export, n
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ParticipantID < rows[j].ParticipantID })
	return rows, nil
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

package exercise

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"manvsim.ai/internal/persistence/indexdb"
	actionlog "manvsim.ai/internal/persistence/log"
	"manvsim.ai/internal/persistence/mirror"
	"manvsim.ai/internal/persistence/snapshot"
	"manvsim.ai/internal/sim/migration"
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
)

const keepExports = 3

// Meta is stored as exercise.json next to the exports so ids can be resolved
// without an index database.
type Meta struct {
	ParticipantID string    `json:"participantId"`
	TrainerID     string    `json:"trainerId"`
	CreatedAt     time.Time `json:"createdAt"`
}

func exercisesDir(dataDir string) string { return filepath.Join(dataDir, "exercises") }

func exerciseDir(dataDir, participantID string) string {
	return filepath.Join(exercisesDir(dataDir), participantID)
}

func exportPath(dir string, actionCount uint64) string {
	return filepath.Join(dir, "exports", strconv.FormatUint(actionCount, 10)+snapshot.Ext)
}

// LatestExport returns the newest stored export of an exercise directory and
// the number of actions it contains.
func LatestExport(dir string) (string, uint64, error) {
	counts, err := exports(dir)
	if err != nil {
		return "", 0, err
	}
	if len(counts) == 0 {
		return "", 0, fmt.Errorf("%s: no stored export", dir)
	}
	n := counts[len(counts)-1]
	return exportPath(dir, n), n, nil
}

func writeMeta(dir string, m Meta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "exercise.json"), b, 0o644)
}

func readMeta(dir string) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(dir, "exercise.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

// exports lists stored exports of an exercise by ascending action count.
func exports(dir string) ([]uint64, error) {
	ents, err := os.ReadDir(filepath.Join(dir, "exports"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []uint64
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshot.Ext) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, snapshot.Ext), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

type checkpoint struct {
	export      *migration.StateExport
	actionCount uint64
}

// diskSink persists one exercise: every applied action goes to the action
// log synchronously, checkpoints are written by a background goroutine that
// only ever keeps the latest pending one.
type diskSink struct {
	dir           string
	participantID string
	log           *zap.Logger
	actions       *actionlog.ActionLogger
	store         *indexdb.Store
	mirror        *mirror.Mirror

	pending chan checkpoint
	wg      sync.WaitGroup
	once    sync.Once
}

func newDiskSink(dir, participantID string, store *indexdb.Store, m *mirror.Mirror, log *zap.Logger) *diskSink {
	if log == nil {
		log = zap.NewNop()
	}
	s := &diskSink{
		dir:           dir,
		participantID: participantID,
		log:           log,
		actions:       actionlog.NewActionLogger(dir),
		store:         store,
		mirror:        m,
		pending:       make(chan checkpoint, 1),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *diskSink) ActionApplied(index uint64, clientID model.UUID, action json.RawMessage) {
	err := s.actions.WriteAction(actionlog.ActionEntry{
		ExerciseID: s.participantID,
		Index:      index,
		Time:       time.Now().UTC(),
		ClientID:   clientID,
		Action:     action,
	})
	if err != nil {
		s.log.Error("action log write", zap.Uint64("index", index), zap.Error(err))
	}
}

func (s *diskSink) Checkpoint(export *migration.StateExport, actionCount uint64) {
	sendLatest(s.pending, checkpoint{export: export, actionCount: actionCount})
}

// Close flushes the pending checkpoint and the action log.
func (s *diskSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.pending)
		s.wg.Wait()
		err = s.actions.Close()
	})
	return err
}

func (s *diskSink) loop() {
	defer s.wg.Done()
	for cp := range s.pending {
		if err := s.write(cp); err != nil {
			s.log.Error("checkpoint", zap.Uint64("action_count", cp.actionCount), zap.Error(err))
		}
	}
}

func (s *diskSink) write(cp checkpoint) error {
	path := exportPath(s.dir, cp.actionCount)
	if err := snapshot.WriteFile(path, cp.export); err != nil {
		return err
	}
	var currentTime int64
	if cp.export.CurrentState != nil {
		currentTime = cp.export.CurrentState.CurrentTime
	}
	s.store.RecordSnapshot(s.participantID, path, currentTime, cp.actionCount)
	s.mirror.Enqueue(path)
	s.prune(cp.actionCount)
	return nil
}

func (s *diskSink) prune(latest uint64) {
	counts, err := exports(s.dir)
	if err != nil {
		s.log.Warn("list exports", zap.Error(err))
		return
	}
	if len(counts) <= keepExports {
		return
	}
	for _, n := range counts[:len(counts)-keepExports] {
		if n == latest {
			continue
		}
		if err := os.Remove(exportPath(s.dir, n)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("prune export", zap.Uint64("action_count", n), zap.Error(err))
		}
	}
}

func sendLatest(ch chan checkpoint, cp checkpoint) {
	select {
	case ch <- cp:
		return
	default:
	}
	// Drop the stale one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- cp:
	default:
	}
}

// restored is an exercise read back from disk.
type restored struct {
	initial *model.ExerciseState
	current *model.ExerciseState
	history []json.RawMessage
}

// restore loads the latest export of an exercise and replays the logged
// actions that came after it.
func restore(reg *reducer.Registry, dir string, log *zap.Logger) (*restored, error) {
	path, _, err := LatestExport(dir)
	if err != nil {
		return nil, err
	}
	exp, err := snapshot.ReadStateExport(path)
	if err != nil {
		return nil, err
	}
	r := &restored{current: exp.CurrentState, initial: exp.CurrentState}
	if exp.History != nil {
		r.initial = exp.History.InitialState
		r.history = append([]json.RawMessage(nil), exp.History.ActionHistory...)
	}

	entries, err := actionlog.ReadActions(dir)
	if err != nil {
		// A damaged tail is expected after a crash; keep what was read.
		log.Warn("action log", zap.Error(err))
	}
	for _, e := range entries {
		if e.Index <= uint64(len(r.history)) {
			continue
		}
		if e.Index != uint64(len(r.history))+1 {
			return nil, fmt.Errorf("%s: action log gap at %d (have %d)", dir, e.Index, len(r.history))
		}
		next, _, err := reg.ApplyRaw(r.current, e.Action, model.RoleServer)
		if err != nil {
			return nil, fmt.Errorf("replay action %d: %w", e.Index, err)
		}
		r.current = next
		r.history = append(r.history, e.Action)
	}
	return r, nil
}

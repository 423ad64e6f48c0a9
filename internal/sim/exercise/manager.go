package exercise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"manvsim.ai/internal/observability"
	"manvsim.ai/internal/persistence/archive"
	"manvsim.ai/internal/persistence/indexdb"
	"manvsim.ai/internal/persistence/mirror"
	"manvsim.ai/internal/persistence/snapshot"
	"manvsim.ai/internal/sim/migration"
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
	"manvsim.ai/internal/sim/tuning"
)

var ErrNotFound = errors.New("exercise not found")

const stopTimeout = 5 * time.Second

type Options struct {
	DataDir  string
	Tuning   tuning.Tuning
	Registry *reducer.Registry
	// Store is optional; without it ids are resolved from exercise.json files.
	Store   *indexdb.Store
	Mirror  *mirror.Mirror
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Created identifies a new exercise.
type Created struct {
	ParticipantID string `json:"participantId"`
	TrainerID     string `json:"trainerId"`
}

type runtime struct {
	ex   *Exercise
	sink *diskSink
}

// Manager owns the running exercises of one server.
type Manager struct {
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	runtimes  map[string]*runtime
	trainerOf map[string]string
	closed    bool
	closeOnce sync.Once
}

func NewManager(ctx context.Context, opts Options) *Manager {
	if opts.Registry == nil {
		opts.Registry = reducer.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		opts:      opts,
		log:       opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		runtimes:  map[string]*runtime{},
		trainerOf: map[string]string{},
	}
}

// Create starts a new exercise. A non-nil export seeds the state; its
// history is kept. Connected clients recorded in the export are dropped.
func (m *Manager) Create(ctx context.Context, export *migration.StateExport) (Created, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Created{}, ErrStopped
	}

	pid, err := generateID(ParticipantIDLength, func(id string) bool { return m.idTakenLocked(ctx, id) })
	if err != nil {
		return Created{}, err
	}
	tid, err := generateID(TrainerIDLength, func(id string) bool { return m.idTakenLocked(ctx, id) })
	if err != nil {
		return Created{}, err
	}

	initial := model.NewExerciseState(pid)
	current := initial
	var history []json.RawMessage
	if export != nil && export.CurrentState != nil {
		current = withParticipant(export.CurrentState, pid)
		initial = current
		if export.History != nil && export.History.InitialState != nil {
			initial = withParticipant(export.History.InitialState, pid)
			history = append([]json.RawMessage(nil), export.History.ActionHistory...)
		}
	}

	dir := exerciseDir(m.opts.DataDir, pid)
	now := time.Now().UTC()
	if err := writeMeta(dir, Meta{ParticipantID: pid, TrainerID: tid, CreatedAt: now}); err != nil {
		return Created{}, err
	}
	path := exportPath(dir, uint64(len(history)))
	if err := snapshot.WriteFile(path, migration.NewStateExport(current, initial, history)); err != nil {
		return Created{}, err
	}
	if m.opts.Store != nil {
		err := m.opts.Store.CreateExercise(ctx, indexdb.Exercise{
			ParticipantID: pid,
			TrainerID:     tid,
			CreatedAt:     now,
			UpdatedAt:     now,
			DataVersion:   migration.CurrentDataVersion,
			SnapshotPath:  path,
			CurrentTime:   current.CurrentTime,
			ActionCount:   uint64(len(history)),
		})
		if err != nil {
			_ = os.RemoveAll(dir)
			return Created{}, err
		}
	}
	m.opts.Mirror.Enqueue(path)

	m.startLocked(pid, tid, initial, current, history)
	m.log.Info("exercise created", zap.String("exercise_id", pid), zap.Bool("imported", export != nil))
	return Created{ParticipantID: pid, TrainerID: tid}, nil
}

func withParticipant(s *model.ExerciseState, pid string) *model.ExerciseState {
	out := s.Clone()
	out.ParticipantID = pid
	return out
}

func (m *Manager) idTakenLocked(ctx context.Context, id string) bool {
	if _, ok := m.runtimes[id]; ok {
		return true
	}
	if _, ok := m.trainerOf[id]; ok {
		return true
	}
	if m.opts.Store != nil {
		used, err := m.opts.Store.IDInUse(ctx, id)
		if err != nil || used {
			return true
		}
	}
	switch len(id) {
	case ParticipantIDLength:
		if _, err := os.Stat(exerciseDir(m.opts.DataDir, id)); err == nil {
			return true
		}
	case TrainerIDLength:
		if m.opts.Store == nil {
			metas, _ := m.scanMeta()
			for _, meta := range metas {
				if meta.TrainerID == id {
					return true
				}
			}
		}
	}
	return false
}

func (m *Manager) startLocked(pid, tid string, initial, current *model.ExerciseState, history []json.RawMessage) *runtime {
	t := m.opts.Tuning
	log := m.log.With(zap.String("exercise_id", pid))
	sink := newDiskSink(exerciseDir(m.opts.DataDir, pid), pid, m.opts.Store, m.opts.Mirror, log)
	ex := New(Config{
		ParticipantID:         pid,
		TrainerID:             tid,
		TickInterval:          t.TickInterval(),
		TreatmentRefreshTicks: t.TreatmentRefreshTicks,
		SnapshotEveryActions:  t.SnapshotEveryActions,
		ProposalQueueSize:     t.ProposalQueueSize,
	}, m.opts.Registry, initial, current, history, sink, m.opts.Metrics, m.log)
	ex.DropStaleClients()
	rt := &runtime{ex: ex, sink: sink}
	m.runtimes[pid] = rt
	m.trainerOf[tid] = pid
	m.opts.Metrics.ExerciseLoaded(1)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := ex.Run(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("exercise stopped", zap.Error(err))
		}
		if err := sink.Close(); err != nil {
			log.Error("close action log", zap.Error(err))
		}
	}()
	return rt
}

// Lookup resolves a participant or trainer id, loading the exercise from
// disk if it is not running. The returned role is the one joining with id
// grants.
func (m *Manager) Lookup(ctx context.Context, id string) (*Exercise, model.Role, error) {
	trainer, ok := RoleForID(id)
	if !ok {
		return nil, "", ErrNotFound
	}
	role := model.RoleParticipant
	if trainer {
		role = model.RoleTrainer
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, "", ErrStopped
	}
	pid := id
	if trainer {
		pid = m.trainerOf[id]
	}
	if rt, ok := m.runtimes[pid]; ok {
		return rt.ex, role, nil
	}

	meta, err := m.resolveLocked(ctx, id, trainer)
	if err != nil {
		return nil, "", err
	}
	rt, err := m.loadLocked(meta)
	if err != nil {
		return nil, "", err
	}
	return rt.ex, role, nil
}

func (m *Manager) resolveLocked(ctx context.Context, id string, trainer bool) (Meta, error) {
	if m.opts.Store != nil {
		e, err := m.opts.Store.Lookup(ctx, id)
		if errors.Is(err, indexdb.ErrNotFound) {
			return Meta{}, ErrNotFound
		}
		if err != nil {
			return Meta{}, err
		}
		return Meta{ParticipantID: e.ParticipantID, TrainerID: e.TrainerID, CreatedAt: e.CreatedAt}, nil
	}
	if !trainer {
		meta, err := readMeta(exerciseDir(m.opts.DataDir, id))
		if errors.Is(err, os.ErrNotExist) {
			return Meta{}, ErrNotFound
		}
		return meta, err
	}
	metas, err := m.scanMeta()
	if err != nil {
		return Meta{}, err
	}
	for _, meta := range metas {
		if meta.TrainerID == id {
			return meta, nil
		}
	}
	return Meta{}, ErrNotFound
}

func (m *Manager) scanMeta() ([]Meta, error) {
	ents, err := os.ReadDir(exercisesDir(m.opts.DataDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Meta
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		meta, err := readMeta(filepath.Join(exercisesDir(m.opts.DataDir), e.Name()))
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (m *Manager) loadLocked(meta Meta) (*runtime, error) {
	dir := exerciseDir(m.opts.DataDir, meta.ParticipantID)
	r, err := restore(m.opts.Registry, dir, m.log.With(zap.String("exercise_id", meta.ParticipantID)))
	if err != nil {
		return nil, fmt.Errorf("load exercise %s: %w", meta.ParticipantID, err)
	}
	rt := m.startLocked(meta.ParticipantID, meta.TrainerID, r.initial, r.current, r.history)
	m.log.Info("exercise loaded", zap.String("exercise_id", meta.ParticipantID), zap.Int("actions", len(r.history)))
	return rt, nil
}

// Running returns the participant ids of running exercises.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Delete stops an exercise and moves its files into the archive.
func (m *Manager) Delete(ctx context.Context, participantID string) error {
	ex, _, err := m.Lookup(ctx, participantID)
	if err != nil {
		return err
	}
	exp, err := ex.Export(ctx, false)
	if err != nil {
		return err
	}

	m.mu.Lock()
	rt := m.runtimes[participantID]
	delete(m.runtimes, participantID)
	delete(m.trainerOf, ex.TrainerID())
	m.mu.Unlock()
	if rt == nil {
		return ErrNotFound
	}
	if err := m.stop(rt); err != nil {
		return err
	}

	counts, _ := exports(exerciseDir(m.opts.DataDir, participantID))
	meta := archive.Meta{
		ExerciseID:  participantID,
		TrainerID:   ex.TrainerID(),
		DataVersion: exp.DataVersion,
	}
	if len(counts) > 0 {
		meta.ActionCount = counts[len(counts)-1]
		meta.Export = filepath.Join("exports", filepath.Base(exportPath("", meta.ActionCount)))
	}
	dst, err := archive.ArchiveExercise(m.opts.DataDir, exerciseDir(m.opts.DataDir, participantID), meta, time.Now())
	if err != nil {
		return err
	}
	if m.opts.Store != nil {
		if err := m.opts.Store.Delete(ctx, participantID); err != nil && !errors.Is(err, indexdb.ErrNotFound) {
			return err
		}
	}
	m.log.Info("exercise deleted", zap.String("exercise_id", participantID), zap.String("archive", dst))
	return nil
}

// stop ends one exercise and waits for its final checkpoint.
func (m *Manager) stop(rt *runtime) error {
	rt.ex.Stop()
	select {
	case <-rt.ex.Done():
	case <-time.After(stopTimeout):
		return fmt.Errorf("exercise %s did not stop", rt.ex.ParticipantID())
	}
	m.opts.Metrics.ExerciseLoaded(-1)
	return rt.sink.Close()
}

// Close stops every exercise and waits for their checkpoints.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		rts := make([]*runtime, 0, len(m.runtimes))
		for _, rt := range m.runtimes {
			rts = append(rts, rt)
		}
		m.runtimes = map[string]*runtime{}
		m.trainerOf = map[string]string{}
		m.mu.Unlock()

		for _, rt := range rts {
			if err := m.stop(rt); err != nil {
				m.log.Warn("stop exercise", zap.Error(err))
			}
		}
		m.cancel()
		m.wg.Wait()
	})
}

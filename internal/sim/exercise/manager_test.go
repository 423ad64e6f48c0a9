package exercise

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manvsim.ai/internal/persistence/indexdb"
	"manvsim.ai/internal/sim/migration"
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
	"manvsim.ai/internal/sim/simtest"
	"manvsim.ai/internal/sim/tuning"
)

func testOptions(dataDir string, store *indexdb.Store) Options {
	t := tuning.Defaults()
	t.TickIntervalMs = 60000
	return Options{DataDir: dataDir, Tuning: t, Store: store, Logger: zap.NewNop()}
}

func TestRoleForID(t *testing.T) {
	trainer, ok := RoleForID("123456")
	assert.True(t, ok)
	assert.False(t, trainer)
	trainer, ok = RoleForID("12345678")
	assert.True(t, ok)
	assert.True(t, trainer)
	for _, id := range []string{"", "12a456", "1234567", "123456789"} {
		_, ok := RoleForID(id)
		assert.False(t, ok, id)
	}
}

func TestGenerateIDSkipsTaken(t *testing.T) {
	calls := 0
	id, err := generateID(ParticipantIDLength, func(string) bool {
		calls++
		return calls < 3
	})
	require.NoError(t, err)
	assert.Len(t, id, ParticipantIDLength)
	assert.Equal(t, 3, calls)

	_, err = generateID(TrainerIDLength, func(string) bool { return true })
	assert.ErrorIs(t, err, ErrNoFreeID)
}

func TestManagerCreateRestoreDelete(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	m := NewManager(ctx, testOptions(dataDir, nil))
	created, err := m.Create(ctx, nil)
	require.NoError(t, err)
	require.Len(t, created.ParticipantID, ParticipantIDLength)
	require.Len(t, created.TrainerID, TrainerIDLength)

	ex, role, err := m.Lookup(ctx, created.TrainerID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleTrainer, role)
	assert.Equal(t, created.ParticipantID, ex.ParticipantID())

	out := make(chan []byte, 16)
	id := join(t, ex, "trainer", model.RoleTrainer, out)
	next(t, out)
	require.NoError(t, ex.Propose(id, "start", json.RawMessage(`{"type":"[Exercise] Start"}`)))
	next(t, out)
	require.True(t, next(t, out).Success)
	m.Close()

	dir := exerciseDir(dataDir, created.ParticipantID)
	counts, err := exports(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 2}, counts)

	m2 := NewManager(ctx, testOptions(dataDir, nil))
	defer m2.Close()
	ex2, role, err := m2.Lookup(ctx, created.ParticipantID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleParticipant, role)
	exp, err := ex2.Export(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, exp.CurrentState.CurrentStatus)
	assert.Empty(t, exp.CurrentState.Clients)
	assert.Len(t, exp.History.ActionHistory, 3)

	ex3, _, err := m2.Lookup(ctx, created.TrainerID)
	require.NoError(t, err)
	assert.Same(t, ex2, ex3)

	require.NoError(t, m2.Delete(ctx, created.ParticipantID))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	archived, err := filepath.Glob(filepath.Join(dataDir, "archives", created.ParticipantID+"_*", "meta.json"))
	require.NoError(t, err)
	assert.Len(t, archived, 1)

	_, _, err = m2.Lookup(ctx, created.ParticipantID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = m2.Lookup(ctx, "not-an-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerImportsExportAndIndexesIt(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()
	store, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index.sqlite"), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	s := simtest.State()
	simtest.AddPatient(s, simtest.Patient("p1", 80000, 0, simtest.At(1, 1)))
	s.Clients["stale"] = &model.Client{ID: "stale", Name: "gone", Role: model.RoleTrainer}

	m := NewManager(ctx, testOptions(dataDir, store))
	defer m.Close()
	created, err := m.Create(ctx, migration.NewStateExport(s, nil, nil))
	require.NoError(t, err)

	row, err := store.Lookup(ctx, created.TrainerID)
	require.NoError(t, err)
	assert.Equal(t, created.ParticipantID, row.ParticipantID)

	ex, _, err := m.Lookup(ctx, created.ParticipantID)
	require.NoError(t, err)
	exp, err := ex.Export(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, created.ParticipantID, exp.CurrentState.ParticipantID)
	assert.Contains(t, exp.CurrentState.Patients, "p1")
	assert.Empty(t, exp.CurrentState.Clients)
	require.Len(t, exp.History.ActionHistory, 1)

	reg := reducer.Default()
	a, err := reg.Decode(exp.History.ActionHistory[0])
	require.NoError(t, err)
	assert.Equal(t, reducer.RemoveClientType, a.ActionType())
	assert.Contains(t, m.Running(), created.ParticipantID)
}

func TestDiskSinkKeepsLatestExports(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exercises", "123456")
	sink := newDiskSink(dir, "123456", nil, nil, zap.NewNop())
	s := model.NewExerciseState("123456")
	for i := uint64(1); i <= 5; i++ {
		sink.Checkpoint(migration.NewStateExport(s, s, nil), i)
		// Let the writer pick each one up; sendLatest may otherwise drop it.
		time.Sleep(20 * time.Millisecond)
	}
	sink.ActionApplied(1, "c1", json.RawMessage(`{"type":"[Exercise] Start"}`))
	require.NoError(t, sink.Close())

	counts, err := exports(dir)
	require.NoError(t, err)
	require.LessOrEqual(t, len(counts), keepExports)
	assert.Equal(t, uint64(5), counts[len(counts)-1])

	r, err := restore(reducer.Default(), dir, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, r.history, 1)
	assert.Equal(t, model.StatusRunning, r.current.CurrentStatus)
}

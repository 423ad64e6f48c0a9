package exercise

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manvsim.ai/internal/protocol"
	"manvsim.ai/internal/sim/migration"
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
)

type recordingSink struct {
	mu          sync.Mutex
	indices     []uint64
	checkpoints []uint64
}

func (s *recordingSink) ActionApplied(index uint64, _ model.UUID, _ json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices = append(s.indices, index)
}

func (s *recordingSink) Checkpoint(_ *migration.StateExport, actionCount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, actionCount)
}

func startExercise(t *testing.T, cfg Config, sink Sink) *Exercise {
	t.Helper()
	if cfg.ParticipantID == "" {
		cfg.ParticipantID = "123456"
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}
	ex := New(cfg, reducer.Default(), model.NewExerciseState(cfg.ParticipantID), nil, nil, sink, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ex.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-ex.Done()
	})
	return ex
}

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Code      string          `json:"code"`
	Payload   json.RawMessage `json:"payload"`
	Action    json.RawMessage `json:"action"`
}

func (f frame) actionType(t *testing.T) string {
	t.Helper()
	var head struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(f.Action, &head))
	return head.Type
}

func next(t *testing.T, out chan []byte) frame {
	t.Helper()
	select {
	case b := <-out:
		var f frame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for frame")
	}
	return frame{}
}

func join(t *testing.T, ex *Exercise, name string, role model.Role, out chan []byte) model.UUID {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := ex.Join(ctx, JoinRequest{Name: name, Role: role, Out: out})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func TestJoinProposeAndBroadcast(t *testing.T) {
	sink := &recordingSink{}
	ex := startExercise(t, Config{}, sink)

	trainerOut := make(chan []byte, 16)
	trainer := join(t, ex, "trainer", model.RoleTrainer, trainerOut)
	f := next(t, trainerOut)
	assert.Equal(t, protocol.TypePerformAction, f.Type)
	assert.Equal(t, reducer.AddClientType, f.actionType(t))

	participantOut := make(chan []byte, 16)
	participant := join(t, ex, "participant", model.RoleParticipant, participantOut)
	assert.Equal(t, reducer.AddClientType, next(t, trainerOut).actionType(t))
	assert.Equal(t, reducer.AddClientType, next(t, participantOut).actionType(t))

	require.NoError(t, ex.Propose(participant, "r1", json.RawMessage(`{"type":"[Exercise] Start"}`)))
	f = next(t, participantOut)
	assert.Equal(t, protocol.TypeResponse, f.Type)
	assert.Equal(t, "r1", f.RequestID)
	assert.False(t, f.Success)
	assert.Equal(t, protocol.ErrNoPermission, f.Code)

	require.NoError(t, ex.Propose(trainer, "r2", json.RawMessage(`{"type":"[Exercise] Start"}`)))
	f = next(t, trainerOut)
	assert.Equal(t, reducer.StartExerciseType, f.actionType(t))
	f = next(t, trainerOut)
	assert.Equal(t, "r2", f.RequestID)
	assert.True(t, f.Success)
	assert.Equal(t, reducer.StartExerciseType, next(t, participantOut).actionType(t))

	require.NoError(t, ex.RequestState(participant, "r3"))
	f = next(t, participantOut)
	require.True(t, f.Success)
	var state model.ExerciseState
	require.NoError(t, json.Unmarshal(f.Payload, &state))
	assert.Equal(t, model.StatusRunning, state.CurrentStatus)
	require.Len(t, state.Clients, 2)
	assert.True(t, state.Clients[participant].IsInWaitingRoom)
	assert.False(t, state.Clients[trainer].IsInWaitingRoom)

	ex.Leave(participant)
	assert.Equal(t, reducer.RemoveClientType, next(t, trainerOut).actionType(t))

	exp, err := ex.Export(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, exp.History)
	require.Len(t, exp.History.ActionHistory, 4)
	assert.Len(t, exp.CurrentState.Clients, 1)

	replayed := exp.History.InitialState
	reg := reducer.Default()
	for _, raw := range exp.History.ActionHistory {
		replayed, _, err = reg.ApplyRaw(replayed, raw, model.RoleServer)
		require.NoError(t, err)
	}
	assert.Equal(t, exp.CurrentState.CurrentStatus, replayed.CurrentStatus)
	assert.Equal(t, model.SortedKeys(exp.CurrentState.Clients), model.SortedKeys(replayed.Clients))

	sink.mu.Lock()
	assert.Equal(t, []uint64{1, 2, 3, 4}, sink.indices)
	sink.mu.Unlock()
}

func TestInvalidProposalIsRejected(t *testing.T) {
	ex := startExercise(t, Config{}, nil)
	out := make(chan []byte, 16)
	id := join(t, ex, "trainer", model.RoleTrainer, out)
	next(t, out)

	require.NoError(t, ex.Propose(id, "bad", json.RawMessage(`{"type":"[Nope] Unknown"}`)))
	f := next(t, out)
	assert.False(t, f.Success)
	assert.Equal(t, protocol.ErrBadRequest, f.Code)

	require.NoError(t, ex.Propose(id, "tick", json.RawMessage(`{"type":"[Exercise] Tick","tickInterval":1000}`)))
	f = next(t, out)
	assert.False(t, f.Success)
	assert.Equal(t, protocol.ErrNoPermission, f.Code)

	require.NoError(t, ex.Propose(id, "pause", json.RawMessage(`{"type":"[Exercise] Pause"}`)))
	f = next(t, out)
	assert.False(t, f.Success)
	assert.Equal(t, protocol.ErrConflict, f.Code)

	require.NoError(t, ex.RequestPartialState(id, "partial", "missing-region"))
	f = next(t, out)
	assert.False(t, f.Success)
	assert.Equal(t, protocol.ErrRegionMissing, f.Code)
}

func TestTicksOnlyWhileRunning(t *testing.T) {
	ex := startExercise(t, Config{TickInterval: 10 * time.Millisecond, TreatmentRefreshTicks: 2}, nil)
	out := make(chan []byte, 64)
	id := join(t, ex, "trainer", model.RoleTrainer, out)
	next(t, out)

	time.Sleep(50 * time.Millisecond)
	select {
	case b := <-out:
		t.Fatalf("unexpected frame before start: %s", b)
	default:
	}

	require.NoError(t, ex.Propose(id, "start", json.RawMessage(`{"type":"[Exercise] Start"}`)))
	assert.Equal(t, reducer.StartExerciseType, next(t, out).actionType(t))
	assert.True(t, next(t, out).Success)

	f := next(t, out)
	require.Equal(t, reducer.TickType, f.actionType(t))
	var tick reducer.TickAction
	require.NoError(t, json.Unmarshal(f.Action, &tick))
	assert.Equal(t, int64(10), tick.TickInterval)

	exp, err := ex.Export(context.Background(), false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, exp.CurrentState.CurrentTime, int64(10))
	assert.Nil(t, exp.History)
}

func TestSlowClientIsDisconnected(t *testing.T) {
	ex := startExercise(t, Config{}, nil)

	slowOut := make(chan []byte, 1)
	kicked := make(chan struct{})
	ctx := context.Background()
	slow, err := ex.Join(ctx, JoinRequest{Name: "slow", Role: model.RoleParticipant, Out: slowOut, Kick: func() { close(kicked) }})
	require.NoError(t, err)

	out := make(chan []byte, 16)
	join(t, ex, "trainer", model.RoleTrainer, out)

	select {
	case <-kicked:
	case <-time.After(2 * time.Second):
		t.Fatalf("slow client was not kicked")
	}
	assert.Equal(t, reducer.AddClientType, next(t, out).actionType(t))
	f := next(t, out)
	require.Equal(t, reducer.RemoveClientType, f.actionType(t))
	var remove reducer.RemoveClientAction
	require.NoError(t, json.Unmarshal(f.Action, &remove))
	assert.Equal(t, slow, remove.ClientID)

	exp, err := ex.Export(ctx, false)
	require.NoError(t, err)
	assert.Len(t, exp.CurrentState.Clients, 1)
}

func TestCheckpointCadence(t *testing.T) {
	sink := &recordingSink{}
	ex := startExercise(t, Config{SnapshotEveryActions: 2}, sink)
	for i := 0; i < 5; i++ {
		out := make(chan []byte, 16)
		join(t, ex, "c", model.RoleParticipant, out)
	}
	_, err := ex.Export(context.Background(), false)
	require.NoError(t, err)

	sink.mu.Lock()
	assert.Equal(t, []uint64{2, 4}, sink.checkpoints)
	sink.mu.Unlock()

	ex.Stop()
	<-ex.Done()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []uint64{2, 4, 5}, sink.checkpoints)
}

func TestStoppedExerciseRejectsRequests(t *testing.T) {
	ex := startExercise(t, Config{}, nil)
	ex.Stop()
	<-ex.Done()

	_, err := ex.Join(context.Background(), JoinRequest{Out: make(chan []byte, 1)})
	assert.ErrorIs(t, err, ErrStopped)
	_, err = ex.Export(context.Background(), false)
	assert.ErrorIs(t, err, ErrStopped)
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manvsim.ai/internal/protocol"
	"manvsim.ai/internal/sim/exercise"
	"manvsim.ai/internal/sim/reducer"
	"manvsim.ai/internal/sim/tuning"
)

func startServer(t *testing.T) (*exercise.Manager, exercise.Created, string) {
	t.Helper()
	tu := tuning.Defaults()
	tu.TickIntervalMs = 60000
	ctx := context.Background()
	m := exercise.NewManager(ctx, exercise.Options{DataDir: t.TempDir(), Tuning: tu, Logger: zap.NewNop()})
	created, err := m.Create(ctx, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(m, 64, zap.NewNop()).Handler())
	t.Cleanup(func() {
		srv.Close()
		m.Close()
	})
	return m, created, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var re *ResponseError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, code, re.Code)
}

func nextAction(t *testing.T, c *Client) (Action, string) {
	t.Helper()
	select {
	case a, ok := <-c.Actions():
		require.True(t, ok, "connection closed")
		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(a.Raw, &head))
		return a, head.Type
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for action")
	}
	return Action{}, ""
}

func TestRequestsBeforeJoinAreRejected(t *testing.T) {
	_, _, url := startServer(t)
	c := dial(t, url)
	ctx := testCtx(t)

	_, _, err := c.GetState(ctx)
	requireCode(t, err, protocol.ErrNotJoined)

	_, err = c.Join(ctx, "999999", "nobody")
	requireCode(t, err, protocol.ErrExerciseNotFound)
}

func TestMalformedFrameIsRejected(t *testing.T) {
	_, _, url := startServer(t)
	c := dial(t, url)

	_, err := c.request(testCtx(t), "x", map[string]any{"type": protocol.TypeProposeAction, "requestId": "x"})
	requireCode(t, err, protocol.ErrProtoBadRequest)
}

func TestTrainerSession(t *testing.T) {
	_, created, url := startServer(t)
	c := dial(t, url)
	ctx := testCtx(t)

	id, err := c.Join(ctx, created.TrainerID, "trainer")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	state, seq, err := c.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	require.Contains(t, state.Clients, id)
	assert.False(t, state.Clients[id].IsInWaitingRoom)

	require.NoError(t, c.Propose(ctx, json.RawMessage(`{"type":"[Exercise] Start"}`)))

	a, typ := nextAction(t, c)
	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, reducer.AddClientType, typ)
	assert.Empty(t, a.ClientID)
	a, typ = nextAction(t, c)
	assert.Equal(t, uint64(2), a.Seq)
	assert.Equal(t, reducer.StartExerciseType, typ)
	assert.Equal(t, id, a.ClientID)

	_, _, err = c.GetPartialState(ctx, "no-such-region")
	requireCode(t, err, protocol.ErrRegionMissing)

	_, err = c.Join(ctx, created.TrainerID, "again")
	requireCode(t, err, protocol.ErrBadRequest)
}

func TestParticipantCannotStart(t *testing.T) {
	_, created, url := startServer(t)
	c := dial(t, url)
	ctx := testCtx(t)

	_, err := c.Join(ctx, created.ParticipantID, "participant")
	require.NoError(t, err)
	err = c.Propose(ctx, json.RawMessage(`{"type":"[Exercise] Start"}`))
	requireCode(t, err, protocol.ErrNoPermission)

	trainer := dial(t, url)
	_, err = trainer.Join(ctx, created.TrainerID, "trainer")
	require.NoError(t, err)

	// The participant sees its own join and then the trainer's.
	_, typ := nextAction(t, c)
	assert.Equal(t, reducer.AddClientType, typ)
	_, typ = nextAction(t, c)
	assert.Equal(t, reducer.AddClientType, typ)
}

func TestDeletedExerciseClosesConnections(t *testing.T) {
	m, created, url := startServer(t)
	c := dial(t, url)
	ctx := testCtx(t)

	_, err := c.Join(ctx, created.TrainerID, "trainer")
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, created.ParticipantID))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection stayed open")
	}
	_, _, err = c.GetState(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

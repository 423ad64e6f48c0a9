package log

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewActionLogger(dir)
	clock := time.Date(2024, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	for i := uint64(1); i <= 3; i++ {
		if i == 3 {
			clock = clock.Add(2 * time.Minute)
		}
		require.NoError(t, l.WriteAction(ActionEntry{
			ExerciseID: "123456",
			Index:      i,
			Time:       clock,
			Action:     json.RawMessage(`{"type":"[Exercise] Tick","tickInterval":1000}`),
		}))
	}
	require.NoError(t, l.Close())

	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Contains(t, files[0], "actions-2024-03-01-10")
	assert.Contains(t, files[1], "actions-2024-03-01-11")

	got, err := ReadActions(dir)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Index)
		assert.JSONEq(t, `{"type":"[Exercise] Tick","tickInterval":1000}`, string(e.Action))
	}
}

func TestReopenAppendsFrames(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := uint64(1); i <= 2; i++ {
		l := NewActionLogger(dir)
		l.w.now = func() time.Time { return clock }
		require.NoError(t, l.WriteAction(ActionEntry{ExerciseID: "123456", Index: i, Action: json.RawMessage(`{}`)}))
		require.NoError(t, l.Close())
	}

	got, err := ReadActions(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].Index)
}

func TestReadActionsWithoutLog(t *testing.T) {
	got, err := ReadActions(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, got)
}

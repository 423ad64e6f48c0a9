package main

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	actionlog "manvsim.ai/internal/persistence/log"
	"manvsim.ai/internal/persistence/snapshot"
	"manvsim.ai/internal/sim/migration"
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
)

func writeExercise(t *testing.T, indices ...uint64) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "exercises", "123456")
	s := model.NewExerciseState("123456")
	require.NoError(t, snapshot.WriteFile(filepath.Join(dir, "exports", "0"+snapshot.Ext), migration.NewStateExport(s, s, nil)))

	actions := map[uint64]string{
		1: `{"type":"[Exercise] Start"}`,
		2: `{"type":"[Exercise] Pause"}`,
		3: `{"type":"[Exercise] Start"}`,
	}
	l := actionlog.NewActionLogger(dir)
	for _, i := range indices {
		require.NoError(t, l.WriteAction(actionlog.ActionEntry{
			ExerciseID: "123456",
			Index:      i,
			Time:       time.Now(),
			Action:     json.RawMessage(actions[i]),
		}))
	}
	require.NoError(t, l.Close())
	return dir
}

func TestReplayExerciseDir(t *testing.T) {
	dir := writeExercise(t, 1, 2)
	reg := reducer.Default()

	res, err := replay(reg, "", dir, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.fromExport)
	assert.Equal(t, 2, res.fromLog)
	assert.Equal(t, model.StatusPaused, res.current.CurrentStatus)

	res, err = replay(reg, "", dir, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.fromLog)
	assert.Equal(t, model.StatusRunning, res.current.CurrentStatus)
}

func TestReplayDetectsGap(t *testing.T) {
	dir := writeExercise(t, 1, 3)
	_, err := replay(reducer.Default(), "", dir, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gap")
}

func TestReplayWrittenExport(t *testing.T) {
	dir := writeExercise(t, 1, 2)
	reg := reducer.Default()
	res, err := replay(reg, "", dir, 0)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out"+snapshot.Ext)
	require.NoError(t, snapshot.WriteFile(out, migration.NewStateExport(res.current, res.initial, res.actions)))

	again, err := replay(reg, out, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, again.fromExport)
	assert.Equal(t, model.StatusPaused, again.current.CurrentStatus)

	partial, err := replay(reg, out, "", 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, partial.current.CurrentStatus)
}

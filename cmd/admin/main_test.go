package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manvsim.ai/internal/persistence/indexdb"
	"manvsim.ai/internal/sim/exercise"
	"manvsim.ai/internal/sim/tuning"
)

func TestListFromFilesAndStore(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()
	store, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "exercises.sqlite"), zap.NewNop())
	require.NoError(t, err)

	tu := tuning.Defaults()
	tu.TickIntervalMs = 60000
	m := exercise.NewManager(ctx, exercise.Options{DataDir: dataDir, Tuning: tu, Store: store, Logger: zap.NewNop()})
	a, err := m.Create(ctx, nil)
	require.NoError(t, err)
	b, err := m.Create(ctx, nil)
	require.NoError(t, err)
	m.Close()
	require.NoError(t, store.Close())

	rows, err := listFromFiles(dataDir)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	ids := []string{rows[0].ParticipantID, rows[1].ParticipantID}
	assert.ElementsMatch(t, []string{a.ParticipantID, b.ParticipantID}, ids)
	assert.NotEmpty(t, rows[0].Export)

	rows, err = listFromStore(ctx, dataDir, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.ElementsMatch(t, []string{a.TrainerID, b.TrainerID}, []string{rows[0].TrainerID, rows[1].TrainerID})
}

func TestListWithoutStoreFallsBackToFiles(t *testing.T) {
	rows, err := listFromStore(context.Background(), t.TempDir(), "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCallReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			http.Error(rw, "exercise not found", http.StatusNotFound)
			return
		}
		_, _ = rw.Write([]byte(`{"running":[]}`))
	}))
	defer srv.Close()

	b, err := call(http.MethodGet, endpoint(srv.URL+"/", "/admin/v1/exercises"), nil, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"running":[]}`, string(b))

	_, err = call(http.MethodDelete, endpoint(srv.URL, "/admin/v1/exercise/123456"), nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"manvsim.ai/internal/persistence/snapshot"
	"manvsim.ai/internal/sim/exercise"
	"manvsim.ai/internal/sim/migration"
	"manvsim.ai/internal/sim/model"
)

const (
	maxImportBytes = 64 << 20
	apiTimeout     = 10 * time.Second
)

// exercises is the part of *exercise.Manager the HTTP API needs.
type exercises interface {
	Create(ctx context.Context, export *migration.StateExport) (exercise.Created, error)
	Lookup(ctx context.Context, id string) (*exercise.Exercise, model.Role, error)
	Delete(ctx context.Context, participantID string) error
	Running() []string
}

type api struct {
	exercises exercises
	log       *zap.Logger
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/exercise", a.createExercise)
	mux.HandleFunc("GET /api/exercise/{id}", a.exerciseExists)
	mux.HandleFunc("GET /api/exercise/{id}/export", a.exportExercise)
}

// registerAdmin adds loopback-only endpoints.
func (a *api) registerAdmin(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/v1/exercises", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"running": a.exercises.Running()})
	}))
	mux.HandleFunc("DELETE /admin/v1/exercise/{id}", loopbackOnly(a.deleteExercise))
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *api) createExercise(rw http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes+1))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(raw) > maxImportBytes {
		writeError(rw, http.StatusRequestEntityTooLarge, "export too large")
		return
	}

	var export *migration.StateExport
	if len(raw) > 0 {
		plain, err := snapshot.Decompress(raw)
		if err != nil {
			writeError(rw, http.StatusBadRequest, err.Error())
			return
		}
		export, err = migration.MigrateStateExport(plain)
		if err != nil {
			a.log.Warn("rejected import", zap.Error(err))
			writeError(rw, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()
	created, err := a.exercises.Create(ctx, export)
	if err != nil {
		a.log.Error("create exercise", zap.Error(err))
		writeError(rw, http.StatusInternalServerError, "could not create exercise")
		return
	}
	a.log.Info("exercise created", zap.String("exercise_id", created.ParticipantID), zap.Bool("imported", export != nil))
	writeJSON(rw, http.StatusCreated, map[string]string{
		"participantId": created.ParticipantID,
		"trainerId":     created.TrainerID,
	})
}

func (a *api) exerciseExists(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()
	if _, _, err := a.lookup(ctx, rw, r.PathValue("id")); err != nil {
		return
	}
	rw.WriteHeader(http.StatusOK)
}

// exportExercise streams the complete export. Only the trainer id may
// download it.
func (a *api) exportExercise(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()
	ex, role, err := a.lookup(ctx, rw, r.PathValue("id"))
	if err != nil {
		return
	}
	if role != model.RoleTrainer {
		writeError(rw, http.StatusForbidden, "export requires the trainer id")
		return
	}
	export, err := ex.Export(ctx, true)
	if err != nil {
		a.log.Error("export exercise", zap.String("exercise_id", ex.ParticipantID()), zap.Error(err))
		writeError(rw, http.StatusServiceUnavailable, "export failed")
		return
	}

	compress := r.URL.Query().Get("compress") == "zstd"
	if compress {
		rw.Header().Set("Content-Type", "application/zstd")
		rw.Header().Set("Content-Disposition", `attachment; filename="exercise-`+ex.ParticipantID()+snapshot.Ext+`"`)
	} else {
		rw.Header().Set("Content-Type", "application/json")
	}
	rw.WriteHeader(http.StatusOK)
	if err := snapshot.Encode(rw, export, compress); err != nil {
		a.log.Warn("write export", zap.String("exercise_id", ex.ParticipantID()), zap.Error(err))
	}
}

func (a *api) deleteExercise(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()
	id := r.PathValue("id")
	err := a.exercises.Delete(ctx, id)
	switch {
	case errors.Is(err, exercise.ErrNotFound):
		writeError(rw, http.StatusNotFound, "exercise not found")
	case err != nil:
		a.log.Error("delete exercise", zap.String("exercise_id", id), zap.Error(err))
		writeError(rw, http.StatusInternalServerError, "delete failed")
	default:
		rw.WriteHeader(http.StatusNoContent)
	}
}

// lookup writes the error response itself; callers only check err.
func (a *api) lookup(ctx context.Context, rw http.ResponseWriter, id string) (*exercise.Exercise, model.Role, error) {
	ex, role, err := a.exercises.Lookup(ctx, id)
	if errors.Is(err, exercise.ErrNotFound) {
		writeError(rw, http.StatusNotFound, "exercise not found")
		return nil, "", err
	}
	if err != nil {
		a.log.Error("lookup exercise", zap.String("exercise_id", id), zap.Error(err))
		writeError(rw, http.StatusInternalServerError, "lookup failed")
		return nil, "", err
	}
	return ex, role, nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

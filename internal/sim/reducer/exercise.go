package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
	"manvsim.ai/internal/sim/standin"
)

const (
	StartExerciseType       = "[Exercise] Start"
	PauseExerciseType       = "[Exercise] Pause"
	TickType                = "[Exercise] Tick"
	UpdateConfigurationType = "[Exercise] Update configuration"
)

type StartExerciseAction struct{}

func (StartExerciseAction) ActionType() string { return StartExerciseType }

type PauseExerciseAction struct{}

func (PauseExerciseAction) ActionType() string { return PauseExerciseType }

// TickAction advances the simulation. The server fills PatientUpdates,
// InEvents and TickUpdates so replicas that hold stand-ins stay in step;
// without them the tick is computed from the local state alone.
type TickAction struct {
	TickInterval      int64                        `json:"tickInterval"`
	RefreshTreatments bool                         `json:"refreshTreatments"`
	PatientUpdates    []model.PatientUpdate        `json:"patientUpdates,omitempty"`
	InEvents          map[model.UUID][]model.Event `json:"inEvents,omitempty"`
	TickUpdates       *model.TickUpdates           `json:"tickUpdates,omitempty"`
}

func (TickAction) ActionType() string { return TickType }

type UpdateConfigurationAction struct {
	Configuration model.ExerciseConfiguration `json:"configuration"`
}

func (UpdateConfigurationAction) ActionType() string { return UpdateConfigurationType }

func registerExercise(r *Registry) {
	register(r, "startExercise", model.RoleTrainer, reduceStartExercise)
	register(r, "pauseExercise", model.RoleTrainer, reducePauseExercise)
	register(r, "tick", model.RoleServer, reduceTick)
	register(r, "updateConfiguration", model.RoleTrainer, reduceUpdateConfiguration)
}

func reduceStartExercise(ctx *simulation.Context, _ StartExerciseAction) error {
	if ctx.State().CurrentStatus == model.StatusRunning {
		return fail("the exercise is already running")
	}
	ctx.State().CurrentStatus = model.StatusRunning
	return nil
}

func reducePauseExercise(ctx *simulation.Context, _ PauseExerciseAction) error {
	if ctx.State().CurrentStatus != model.StatusRunning {
		return fail("the exercise is not running")
	}
	ctx.State().CurrentStatus = model.StatusPaused
	return nil
}

// ElaborateTick builds the tick the server broadcasts: patient updates are
// computed from s and every full region's in-queue is captured.
func ElaborateTick(s *model.ExerciseState, interval int64, refreshTreatments bool) TickAction {
	a := TickAction{
		TickInterval:      interval,
		RefreshTreatments: refreshTreatments,
		PatientUpdates:    simulation.PatientTick(s, interval),
		InEvents:          map[model.UUID][]model.Event{},
	}
	for _, id := range model.SortedKeys(s.SimulatedRegions) {
		if r, ok := s.SimulatedRegions[id].(*model.SimulatedRegion); ok {
			a.InEvents[id] = model.CloneEvents(r.InEvents)
		}
	}
	return a
}

func reduceTick(ctx *simulation.Context, a TickAction) error {
	simulation.Tick(ctx, simulation.TickInput{
		Interval:          a.TickInterval,
		PatientUpdates:    a.PatientUpdates,
		RefreshTreatments: a.RefreshTreatments,
		InEvents:          a.InEvents,
	})
	if a.TickUpdates != nil {
		standin.ApplyTickUpdates(ctx.Draft, a.TickUpdates)
	}
	return nil
}

func reduceUpdateConfiguration(ctx *simulation.Context, a UpdateConfigurationAction) error {
	ctx.State().Configuration = a.Configuration
	simulation.RecalculateAllTreatments(ctx)
	return nil
}

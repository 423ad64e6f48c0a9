package simulation

import (
	"fmt"

	"manvsim.ai/internal/sim/model"
)

type behaviorDef struct {
	handleEvent func(ctx *Context, r *model.SimulatedRegion, b *model.BehaviorState, e model.Event)
	onRemove    func(ctx *Context, r *model.SimulatedRegion, b *model.BehaviorState)
}

type activityDef struct {
	tick func(ctx *Context, r *model.SimulatedRegion, a *model.ActivityState, interval int64, terminate func())
}

var behaviors map[model.BehaviorType]behaviorDef

var activities = map[model.ActivityType]activityDef{
	model.UnloadVehicleActivity: {tick: tickUnloadVehicle},
	model.DelayEventActivity:    {tick: tickDelayEvent},
}

func init() {
	behaviors = map[model.BehaviorType]behaviorDef{
		model.UnloadArrivingVehiclesBehavior: {handleEvent: handleUnloadArrivingVehicles},
		model.TreatPatientsBehavior:          {handleEvent: handleTreatPatients, onRemove: removeTreatPatients},
		model.RequestVehiclesBehavior:        {handleEvent: handleRequestVehicles, onRemove: removeRequestVehicles},
		model.ProvideVehiclesBehavior:        {handleEvent: handleProvideVehicles},
		model.TransferToHospitalBehavior:     {handleEvent: handleTransferToHospital},
	}
}

// KnownBehavior reports whether t is a registered behavior type.
func KnownBehavior(t model.BehaviorType) bool {
	_, ok := behaviors[t]
	return ok
}

// RemoveBehavior detaches a behavior and cleans up what it started.
func RemoveBehavior(ctx *Context, r *model.SimulatedRegion, behaviorID model.UUID) error {
	idx := -1
	for i, b := range r.Behaviors {
		if b.ID == behaviorID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("behavior with id %s does not exist in simulated region %s", behaviorID, r.ID)
	}
	b := r.Behaviors[idx]
	if def := behaviors[b.Type]; def.onRemove != nil {
		def.onRemove(ctx, r, b)
	}
	r.Behaviors = append(r.Behaviors[:idx:idx], r.Behaviors[idx+1:]...)
	return nil
}

// TickRegions runs one simulation step for every full region: tick events
// are injected into all regions, then all regions handle their events, then
// all regions advance their activities.
func TickRegions(ctx *Context, interval int64) {
	ids := fullRegionIDs(ctx.State())
	for _, id := range ids {
		r := ctx.Draft.MutSimulatedRegion(id)
		r.InEvents = append(r.InEvents, model.Event{Type: model.TickEventType, TickInterval: interval})
	}
	for _, id := range ids {
		HandleEvents(ctx, id)
	}
	for _, id := range ids {
		TickActivities(ctx, id, interval)
	}
}

func fullRegionIDs(s *model.ExerciseState) []model.UUID {
	var out []model.UUID
	for _, id := range model.SortedKeys(s.SimulatedRegions) {
		if _, ok := s.SimulatedRegions[id].(*model.SimulatedRegion); ok {
			out = append(out, id)
		}
	}
	return out
}

// HandleEvents delivers every queued event of a region, own events first, to
// every behavior once and drains both queues. Events emitted while handling
// are queued for the next step.
func HandleEvents(ctx *Context, regionID model.UUID) {
	r := ctx.Draft.MutSimulatedRegion(regionID)
	if r == nil {
		return
	}
	events := make([]model.Event, 0, len(r.OwnEvents)+len(r.InEvents))
	events = append(events, r.OwnEvents...)
	events = append(events, r.InEvents...)
	r.OwnEvents = []model.Event{}
	r.InEvents = []model.Event{}

	for _, b := range append([]*model.BehaviorState(nil), r.Behaviors...) {
		def, ok := behaviors[b.Type]
		if !ok {
			continue
		}
		for _, e := range events {
			def.handleEvent(ctx, r, b, e)
		}
	}
}

// TickActivities advances every activity of a region in id order.
func TickActivities(ctx *Context, regionID model.UUID, interval int64) {
	r := ctx.Draft.MutSimulatedRegion(regionID)
	if r == nil {
		return
	}
	for _, id := range model.SortedKeys(r.Activities) {
		a, ok := r.Activities[id]
		if !ok {
			continue
		}
		def, ok := activities[a.Type]
		if !ok {
			delete(r.Activities, id)
			continue
		}
		def.tick(ctx, r, a, interval, func() { delete(r.Activities, id) })
	}
}

// TickInput parameterizes one simulation step.
type TickInput struct {
	Interval int64

	// PatientUpdates are precomputed by the server; nil computes them from
	// the state before the step.
	PatientUpdates []model.PatientUpdate

	RefreshTreatments bool

	// InEvents is the server's view of each full region's in-queue before
	// the step. A region whose queue length differs adopts it.
	InEvents map[model.UUID][]model.Event
}

// Tick advances the exercise by one step: time, patient health, transfers,
// then all full regions.
func Tick(ctx *Context, in TickInput) {
	for _, id := range model.SortedKeys(in.InEvents) {
		r, ok := ctx.State().SimulatedRegions[id].(*model.SimulatedRegion)
		if !ok || len(r.InEvents) == len(in.InEvents[id]) {
			continue
		}
		ctx.Draft.MutSimulatedRegion(id).InEvents = model.CloneEvents(in.InEvents[id])
	}

	updates := in.PatientUpdates
	if updates == nil {
		updates = PatientTick(ctx.State(), in.Interval)
	}
	ctx.State().CurrentTime += in.Interval
	ApplyPatientUpdates(ctx, updates)
	if in.RefreshTreatments {
		RecalculateAllTreatments(ctx)
	}
	RefreshTransfers(ctx, in.Interval)
	TickRegions(ctx, in.Interval)
}

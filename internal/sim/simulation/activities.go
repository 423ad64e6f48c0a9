package simulation

import "manvsim.ai/internal/sim/model"

func tickUnloadVehicle(ctx *Context, r *model.SimulatedRegion, a *model.ActivityState, _ int64, terminate func()) {
	v := ctx.State().Vehicles[a.VehicleID]
	if v == nil || !v.Position.InRegion(r.ID) {
		terminate()
		return
	}
	if ctx.Now() < a.StartTime+a.Duration {
		return
	}
	if !finishUnload(ctx, v.ID, a.ID) {
		return
	}
	terminate()
}

// finishUnload unloads the vehicle and releases the occupation held by the
// activity. A vehicle that cannot be unloaded keeps its occupation.
func finishUnload(ctx *Context, vehicleID, activityID model.UUID) bool {
	if err := UnloadVehicle(ctx, vehicleID); err != nil {
		return false
	}
	if mv := ctx.Draft.MutVehicle(vehicleID); mv != nil && mv.Occupation.ActivityID == activityID {
		mv.Occupation = model.Unoccupied()
	}
	return true
}

func tickDelayEvent(ctx *Context, r *model.SimulatedRegion, a *model.ActivityState, _ int64, terminate func()) {
	if ctx.Now() < a.EndTime {
		return
	}
	if a.Event != nil {
		sendOwnEvent(r, *a.Event)
	}
	terminate()
}

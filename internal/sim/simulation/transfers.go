package simulation

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/standin"
)

// StartVehicleTransfer sends a vehicle with everything it carries from one
// transfer point to another.
func StartVehicleTransfer(ctx *Context, vehicleID, from, to model.UUID, duration int64) {
	v := ctx.Draft.MutVehicle(vehicleID)
	if v == nil {
		return
	}
	ElementLeft(ctx, model.ElementVehicle, vehicleID, v.Position)
	v.Position = model.TransferPosition(model.Transfer{
		StartTransferPointID:  from,
		TargetTransferPointID: to,
		EndTimeStamp:          ctx.Now() + duration,
	})
	v.Occupation = model.Unoccupied()
	standin.CollectTransfer(ctx.Updates, ctx.State(), vehicleID)
}

// StartPersonnelTransfer sends a single personnel between transfer points.
func StartPersonnelTransfer(ctx *Context, personnelID, from, to model.UUID, duration int64) {
	p := ctx.Draft.MutPersonnel(personnelID)
	if p == nil {
		return
	}
	ElementLeft(ctx, model.ElementPersonnel, personnelID, p.Position)
	p.Position = model.TransferPosition(model.Transfer{
		StartTransferPointID:  from,
		TargetTransferPointID: to,
		EndTimeStamp:          ctx.Now() + duration,
	})
	ClearAssignments(ctx, model.ElementPersonnel, personnelID)
}

// RefreshTransfers shifts paused transfers by the tick interval and lets
// elements whose transfer ended arrive.
func RefreshTransfers(ctx *Context, interval int64) {
	s := ctx.State()
	for _, id := range model.SortedKeys(s.Vehicles) {
		e := s.Vehicles[id]
		if e == nil || !e.Position.IsInTransfer() {
			continue
		}
		t := e.Position.Transfer
		switch {
		case t.IsPaused:
			ctx.Draft.MutVehicle(id).Position.Transfer.EndTimeStamp += interval
		case t.EndTimeStamp <= s.CurrentTime:
			LetVehicleArrive(ctx, id)
		}
	}
	for _, id := range model.SortedKeys(s.Personnel) {
		e := s.Personnel[id]
		if e == nil || !e.Position.IsInTransfer() {
			continue
		}
		t := e.Position.Transfer
		switch {
		case t.IsPaused:
			ctx.Draft.MutPersonnel(id).Position.Transfer.EndTimeStamp += interval
		case t.EndTimeStamp <= s.CurrentTime:
			LetPersonnelArrive(ctx, id)
		}
	}
}

// arrivalPosition is where an element ends up at a transfer point.
func arrivalPosition(tp *model.TransferPoint) model.Position {
	if tp.Position.IsInSimulatedRegion() {
		return model.RegionPosition(tp.Position.SimulatedRegionID)
	}
	return tp.Position.Clone()
}

// LetVehicleArrive ends the transfer of a vehicle at its target transfer
// point. A vehicle arriving in a stand-in is omitted into it and the
// arrival event is deferred.
func LetVehicleArrive(ctx *Context, vehicleID model.UUID) {
	v := ctx.Draft.MutVehicle(vehicleID)
	if v == nil || !v.Position.IsInTransfer() {
		return
	}
	tp := ctx.State().TransferPoints[v.Position.Transfer.TargetTransferPointID]
	if tp == nil {
		return
	}
	v.Position = arrivalPosition(tp)
	v.Occupation = model.Unoccupied()
	if !v.Position.IsInSimulatedRegion() {
		return
	}
	regionID := v.Position.SimulatedRegionID
	arrived := model.Event{Type: model.VehicleArrivedEventType, VehicleID: vehicleID, ArrivalTime: ctx.Now()}
	if standin.IsStandIn(ctx.State(), regionID) {
		standin.OmitVehicle(ctx.Draft, regionID, vehicleID)
		standin.Defer(ctx.Draft, regionID, arrived)
		return
	}
	SendEvent(ctx, regionID, arrived)
}

// LetPersonnelArrive ends the transfer of a single personnel.
func LetPersonnelArrive(ctx *Context, personnelID model.UUID) {
	p := ctx.Draft.MutPersonnel(personnelID)
	if p == nil || !p.Position.IsInTransfer() {
		return
	}
	tp := ctx.State().TransferPoints[p.Position.Transfer.TargetTransferPointID]
	if tp == nil {
		return
	}
	p.Position = arrivalPosition(tp)
	if !p.Position.IsInSimulatedRegion() {
		RecalculateCaterer(ctx, model.ElementPersonnel, personnelID)
		return
	}
	regionID := p.Position.SimulatedRegionID
	available := model.Event{Type: model.PersonnelAvailableEventType, PersonnelID: personnelID}
	if standin.IsStandIn(ctx.State(), regionID) {
		standin.OmitPersonnel(ctx.Draft, regionID, personnelID)
		standin.Defer(ctx.Draft, regionID, available)
		return
	}
	SendEvent(ctx, regionID, available)
}

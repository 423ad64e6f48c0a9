// Package simulation advances an exercise by one tick and holds the domain
// operations (unloading, transfers, treatments, hospital transports) shared
// by the reducers and the region behaviors.
package simulation

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/standin"
)

// TreatmentFunc recalculates the treatment assignments around one patient.
type TreatmentFunc func(ctx *Context, patientID model.UUID)

// Context is the mutable scope of one action application. It must not be
// retained after the apply call that created it returns.
type Context struct {
	Draft *model.Draft

	// Updates collects tick side effects for stand-in replicas; nil when the
	// caller does not elaborate ticks.
	Updates *model.TickUpdates

	// Treatments overrides UpdateTreatments when set.
	Treatments TreatmentFunc
}

func (c *Context) State() *model.ExerciseState { return c.Draft.State() }

func (c *Context) Now() int64 { return c.Draft.State().CurrentTime }

// UpdateTreatments recalculates treatments around a patient.
func (c *Context) UpdateTreatments(patientID model.UUID) {
	if c.Treatments != nil {
		c.Treatments(c, patientID)
		return
	}
	UpdateTreatments(c, patientID)
}

// SendEvent queues e in the in-queue of a region. Events for a stand-in are
// deferred in the stand-in. It reports false if the region does not exist.
func SendEvent(ctx *Context, regionID model.UUID, e model.Event) bool {
	if r := ctx.Draft.MutSimulatedRegion(regionID); r != nil {
		r.InEvents = append(r.InEvents, e.Clone())
		return true
	}
	return standin.Defer(ctx.Draft, regionID, e)
}

func sendOwnEvent(r *model.SimulatedRegion, e model.Event) {
	r.OwnEvents = append(r.OwnEvents, e.Clone())
}

// ElementLeft notifies the region an element was positioned in that it left.
func ElementLeft(ctx *Context, t model.ElementType, id model.UUID, from model.Position) {
	if !from.IsInSimulatedRegion() {
		return
	}
	e := model.Event{}
	switch t {
	case model.ElementPatient:
		e = model.Event{Type: model.PatientRemovedEventType, PatientID: id}
	case model.ElementPersonnel:
		e = model.Event{Type: model.PersonnelRemovedEventType, PersonnelID: id}
	case model.ElementMaterial:
		e = model.Event{Type: model.MaterialRemovedEventType, MaterialID: id}
	case model.ElementVehicle:
		e = model.Event{Type: model.VehicleRemovedEventType, VehicleID: id}
	default:
		return
	}
	SendEvent(ctx, from.SimulatedRegionID, e)
}

// ElementEntered notifies a region that an element is now positioned in it.
func ElementEntered(ctx *Context, t model.ElementType, id model.UUID, regionID model.UUID) {
	e := model.Event{}
	switch t {
	case model.ElementPatient:
		e = model.Event{Type: model.NewPatientEventType, PatientID: id}
	case model.ElementPersonnel:
		e = model.Event{Type: model.PersonnelAvailableEventType, PersonnelID: id}
	case model.ElementMaterial:
		e = model.Event{Type: model.MaterialAvailableEventType, MaterialID: id}
	case model.ElementVehicle:
		e = model.Event{Type: model.VehicleArrivedEventType, VehicleID: id, ArrivalTime: ctx.Now()}
	default:
		return
	}
	SendEvent(ctx, regionID, e)
}

// TransferPointOfRegion returns the transfer point located in a region.
func TransferPointOfRegion(s *model.ExerciseState, regionID model.UUID) *model.TransferPoint {
	for _, id := range model.SortedKeys(s.TransferPoints) {
		if tp := s.TransferPoints[id]; tp.Position.InRegion(regionID) {
			return tp
		}
	}
	return nil
}

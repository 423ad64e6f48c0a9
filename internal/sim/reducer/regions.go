package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

const (
	AddSimulatedRegionType    = "[SimulatedRegion] Add simulated region"
	RemoveSimulatedRegionType = "[SimulatedRegion] Remove simulated region"
	MoveSimulatedRegionType   = "[SimulatedRegion] Move simulated region"
	RenameSimulatedRegionType = "[SimulatedRegion] Rename simulated region"
	AddBehaviorType           = "[SimulatedRegion] Add Behavior"
	RemoveBehaviorType        = "[SimulatedRegion] Remove Behavior"
	AddElementToRegionType    = "[SimulatedRegion] Add Element"
)

type AddSimulatedRegionAction struct {
	SimulatedRegion *model.SimulatedRegion `json:"simulatedRegion"`
}

func (AddSimulatedRegionAction) ActionType() string { return AddSimulatedRegionType }

type RemoveSimulatedRegionAction struct {
	SimulatedRegionID model.UUID `json:"simulatedRegionId"`
}

func (RemoveSimulatedRegionAction) ActionType() string { return RemoveSimulatedRegionType }

type MoveSimulatedRegionAction struct {
	SimulatedRegionID model.UUID           `json:"simulatedRegionId"`
	TargetPosition    model.MapCoordinates `json:"targetPosition"`
	NewSize           *model.Size          `json:"newSize,omitempty"`
}

func (MoveSimulatedRegionAction) ActionType() string { return MoveSimulatedRegionType }

type RenameSimulatedRegionAction struct {
	SimulatedRegionID model.UUID `json:"simulatedRegionId"`
	Name              string     `json:"name"`
}

func (RenameSimulatedRegionAction) ActionType() string { return RenameSimulatedRegionType }

type AddBehaviorAction struct {
	SimulatedRegionID model.UUID           `json:"simulatedRegionId"`
	Behavior          *model.BehaviorState `json:"behaviorState"`
}

func (AddBehaviorAction) ActionType() string { return AddBehaviorType }

type RemoveBehaviorAction struct {
	SimulatedRegionID model.UUID `json:"simulatedRegionId"`
	BehaviorID        model.UUID `json:"behaviorId"`
}

func (RemoveBehaviorAction) ActionType() string { return RemoveBehaviorType }

// AddElementToRegionAction moves an element from the map into a region.
type AddElementToRegionAction struct {
	SimulatedRegionID    model.UUID        `json:"simulatedRegionId"`
	ElementToBeAddedType model.ElementType `json:"elementToBeAddedType"`
	ElementToBeAddedID   model.UUID        `json:"elementToBeAddedId"`
}

func (AddElementToRegionAction) ActionType() string { return AddElementToRegionType }

func registerRegions(r *Registry) {
	register(r, "addSimulatedRegion", model.RoleTrainer, reduceAddSimulatedRegion)
	register(r, "removeSimulatedRegion", model.RoleTrainer, reduceRemoveSimulatedRegion)
	register(r, "moveSimulatedRegion", model.RoleTrainer, reduceMoveSimulatedRegion)
	register(r, "renameSimulatedRegion", model.RoleTrainer, reduceRenameSimulatedRegion)
	register(r, "addBehavior", model.RoleTrainer, reduceAddBehavior)
	register(r, "removeBehavior", model.RoleTrainer, reduceRemoveBehavior)
	register(r, "addElementToRegion", model.RoleParticipant, reduceAddElementToRegion)
}

func reduceAddSimulatedRegion(ctx *simulation.Context, a AddSimulatedRegionAction) error {
	r := a.SimulatedRegion.Clone()
	if err := requireFreshID(ctx.State(), model.ElementSimulatedRegion, r.ID); err != nil {
		return err
	}
	r.Type = model.RegionFull
	if r.Activities == nil {
		r.Activities = map[model.UUID]*model.ActivityState{}
	}
	if r.InEvents == nil {
		r.InEvents = []model.Event{}
	}
	if r.OwnEvents == nil {
		r.OwnEvents = []model.Event{}
	}
	if r.Behaviors == nil {
		r.Behaviors = []*model.BehaviorState{}
	}
	for _, b := range r.Behaviors {
		if !simulation.KnownBehavior(b.Type) {
			return &ReducerError{Message: "unknown behavior type " + string(b.Type)}
		}
	}
	ctx.Draft.PutRegion(r)
	return nil
}

// reduceRemoveSimulatedRegion deletes a region with everything inside it.
// Personnel and material whose vehicle is outside return into the vehicle.
// Transfer points in the region are removed as well, which is refused while
// anything is in transfer from or to them.
func reduceRemoveSimulatedRegion(ctx *simulation.Context, a RemoveSimulatedRegionAction) error {
	s := ctx.State()
	if _, err := getSimulatedRegion(s, a.SimulatedRegionID); err != nil {
		return err
	}
	var points []model.UUID
	for _, id := range model.SortedKeys(s.TransferPoints) {
		if s.TransferPoints[id].Position.InRegion(a.SimulatedRegionID) {
			if inTransferVia(s, id) {
				return fail("elements are in transfer to or from transfer point %s", id)
			}
			points = append(points, id)
		}
	}
	for _, id := range points {
		removeTransferPoint(ctx, id)
	}

	for _, id := range model.SortedKeys(s.Vehicles) {
		if v := s.Vehicles[id]; v != nil && v.Position.InRegion(a.SimulatedRegionID) {
			simulation.RemoveVehicle(ctx, id)
		}
	}
	for _, id := range model.SortedKeys(s.Patients) {
		if p := s.Patients[id]; p != nil && p.Position.InRegion(a.SimulatedRegionID) {
			simulation.RemovePatient(ctx, id)
		}
	}
	for _, id := range model.SortedKeys(s.Personnel) {
		p := s.Personnel[id]
		if p == nil || !p.Position.InRegion(a.SimulatedRegionID) {
			continue
		}
		simulation.ClearAssignments(ctx, model.ElementPersonnel, id)
		if s.Vehicles[p.VehicleID] != nil {
			ctx.Draft.MutPersonnel(id).Position = model.VehiclePosition(p.VehicleID)
		} else {
			ctx.Draft.DeletePersonnel(id)
		}
	}
	for _, id := range model.SortedKeys(s.Materials) {
		m := s.Materials[id]
		if m == nil || !m.Position.InRegion(a.SimulatedRegionID) {
			continue
		}
		simulation.ClearAssignments(ctx, model.ElementMaterial, id)
		if s.Vehicles[m.VehicleID] != nil {
			ctx.Draft.MutMaterial(id).Position = model.VehiclePosition(m.VehicleID)
		} else {
			ctx.Draft.DeleteMaterial(id)
		}
	}
	for _, id := range model.SortedKeys(s.Radiograms) {
		if s.Radiograms[id].SimulatedRegionID == a.SimulatedRegionID {
			ctx.Draft.DeleteRadiogram(id)
		}
	}
	ctx.Draft.DeleteRegion(a.SimulatedRegionID)
	return nil
}

func reduceMoveSimulatedRegion(ctx *simulation.Context, a MoveSimulatedRegionAction) error {
	if _, err := getSimulatedRegion(ctx.State(), a.SimulatedRegionID); err != nil {
		return err
	}
	r := ctx.Draft.MutSimulatedRegion(a.SimulatedRegionID)
	g := r.Geometry()
	g.Position = a.TargetPosition
	if a.NewSize != nil {
		g.Size = *a.NewSize
	}
	return nil
}

func reduceRenameSimulatedRegion(ctx *simulation.Context, a RenameSimulatedRegionAction) error {
	if _, err := getSimulatedRegion(ctx.State(), a.SimulatedRegionID); err != nil {
		return err
	}
	r := ctx.Draft.MutSimulatedRegion(a.SimulatedRegionID)
	r.Geometry().Name = a.Name
	return nil
}

func reduceAddBehavior(ctx *simulation.Context, a AddBehaviorAction) error {
	if _, err := getSimulatedRegion(ctx.State(), a.SimulatedRegionID); err != nil {
		return err
	}
	if !simulation.KnownBehavior(a.Behavior.Type) {
		return &ReducerError{Message: "unknown behavior type " + string(a.Behavior.Type)}
	}
	r := ctx.Draft.MutSimulatedRegion(a.SimulatedRegionID)
	if r.Behavior(a.Behavior.ID) != nil {
		return &ReducerError{Message: "behavior id " + a.Behavior.ID + " is already in use"}
	}
	r.Behaviors = append(r.Behaviors, a.Behavior.Clone())
	return nil
}

func reduceRemoveBehavior(ctx *simulation.Context, a RemoveBehaviorAction) error {
	if _, err := getSimulatedRegion(ctx.State(), a.SimulatedRegionID); err != nil {
		return err
	}
	return simulation.RemoveBehavior(ctx, ctx.Draft.MutSimulatedRegion(a.SimulatedRegionID), a.BehaviorID)
}

func reduceAddElementToRegion(ctx *simulation.Context, a AddElementToRegionAction) error {
	s := ctx.State()
	if _, err := getSimulatedRegion(s, a.SimulatedRegionID); err != nil {
		return err
	}
	target := model.RegionPosition(a.SimulatedRegionID)
	var from model.Position
	switch a.ElementToBeAddedType {
	case model.ElementPatient:
		p, err := getPatient(s, a.ElementToBeAddedID)
		if err != nil {
			return err
		}
		from = p.Position
		if err := requireOnMap(a.ElementToBeAddedType, a.ElementToBeAddedID, from); err != nil {
			return err
		}
		ctx.Draft.MutPatient(p.ID).Position = target
		simulation.UnassignPatient(ctx, p.ID)
	case model.ElementVehicle:
		v, err := getVehicle(s, a.ElementToBeAddedID)
		if err != nil {
			return err
		}
		from = v.Position
		if err := requireOnMap(a.ElementToBeAddedType, a.ElementToBeAddedID, from); err != nil {
			return err
		}
		ctx.Draft.MutVehicle(v.ID).Position = target
	case model.ElementPersonnel:
		p, err := getPersonnel(s, a.ElementToBeAddedID)
		if err != nil {
			return err
		}
		from = p.Position
		if err := requireOnMap(a.ElementToBeAddedType, a.ElementToBeAddedID, from); err != nil {
			return err
		}
		ctx.Draft.MutPersonnel(p.ID).Position = target
		simulation.ClearAssignments(ctx, model.ElementPersonnel, p.ID)
	case model.ElementMaterial:
		m, err := getMaterial(s, a.ElementToBeAddedID)
		if err != nil {
			return err
		}
		from = m.Position
		if err := requireOnMap(a.ElementToBeAddedType, a.ElementToBeAddedID, from); err != nil {
			return err
		}
		ctx.Draft.MutMaterial(m.ID).Position = target
		simulation.ClearAssignments(ctx, model.ElementMaterial, m.ID)
	default:
		return fail("elements of type %q cannot be added to a region", a.ElementToBeAddedType)
	}
	simulation.ElementEntered(ctx, a.ElementToBeAddedType, a.ElementToBeAddedID, a.SimulatedRegionID)
	return nil
}

func requireOnMap(t model.ElementType, id model.UUID, pos model.Position) error {
	if !pos.IsOnMap() {
		return fail("%s %s is not on the map", t, id)
	}
	return nil
}

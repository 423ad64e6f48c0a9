package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
	"manvsim.ai/internal/sim/standin"
)

const (
	AddVehicleType           = "[Vehicle] Add vehicle"
	MoveVehicleType          = "[Vehicle] Move vehicle"
	UnloadVehicleType        = "[Vehicle] Unload vehicle"
	LoadVehicleType          = "[Vehicle] Load vehicle"
	RenameVehicleType        = "[Vehicle] Rename vehicle"
	RemoveVehicleType        = "[Vehicle] Remove vehicle"
	SetVehicleOccupationType = "[Vehicle] Set occupation"
)

// AddVehicleAction adds a vehicle with its complete crew and equipment. The
// personnel and material sets of the vehicle must list exactly the given
// elements.
type AddVehicleAction struct {
	Vehicle   *model.Vehicle     `json:"vehicle"`
	Personnel []*model.Personnel `json:"personnel"`
	Materials []*model.Material  `json:"materials"`
}

func (AddVehicleAction) ActionType() string { return AddVehicleType }

type MoveVehicleAction struct {
	VehicleID      model.UUID           `json:"vehicleId"`
	TargetPosition model.MapCoordinates `json:"targetPosition"`
}

func (MoveVehicleAction) ActionType() string { return MoveVehicleType }

type UnloadVehicleAction struct {
	VehicleID model.UUID `json:"vehicleId"`
}

func (UnloadVehicleAction) ActionType() string { return UnloadVehicleType }

type LoadVehicleAction struct {
	VehicleID             model.UUID        `json:"vehicleId"`
	ElementToBeLoadedType model.ElementType `json:"elementToBeLoadedType"`
	ElementToBeLoadedID   model.UUID        `json:"elementToBeLoadedId"`
}

func (LoadVehicleAction) ActionType() string { return LoadVehicleType }

type RenameVehicleAction struct {
	VehicleID model.UUID `json:"vehicleId"`
	Name      string     `json:"name"`
}

func (RenameVehicleAction) ActionType() string { return RenameVehicleType }

type RemoveVehicleAction struct {
	VehicleID model.UUID `json:"vehicleId"`
}

func (RemoveVehicleAction) ActionType() string { return RemoveVehicleType }

type SetVehicleOccupationAction struct {
	VehicleID  model.UUID       `json:"vehicleId"`
	Occupation model.Occupation `json:"occupation"`
}

func (SetVehicleOccupationAction) ActionType() string { return SetVehicleOccupationType }

func registerVehicles(r *Registry) {
	register(r, "addVehicle", model.RoleTrainer, reduceAddVehicle)
	register(r, "moveVehicle", model.RoleParticipant, reduceMoveVehicle)
	register(r, "unloadVehicle", model.RoleParticipant, reduceUnloadVehicle)
	register(r, "loadVehicle", model.RoleParticipant, reduceLoadVehicle)
	register(r, "renameVehicle", model.RoleTrainer, reduceRenameVehicle)
	register(r, "removeVehicle", model.RoleTrainer, reduceRemoveVehicle)
	register(r, "setVehicleOccupation", model.RoleTrainer, reduceSetVehicleOccupation)
}

func reduceAddVehicle(ctx *simulation.Context, a AddVehicleAction) error {
	s := ctx.State()
	v := a.Vehicle.Clone()
	if err := requireFreshID(s, model.ElementVehicle, v.ID); err != nil {
		return err
	}
	if len(v.PatientIDs) > 0 {
		return &ReducerError{Message: "a new vehicle must not carry patients"}
	}
	if err := requirePlaceable(s, v.Position); err != nil {
		return err
	}

	seen := model.UUIDSet{v.ID: true}
	personnelIDs := model.UUIDSet{}
	for _, p := range a.Personnel {
		if err := requireFreshID(s, model.ElementPersonnel, p.ID); err != nil {
			return err
		}
		if seen.Has(p.ID) {
			return &ReducerError{Message: "duplicate id " + p.ID}
		}
		if !p.Position.InVehicle(v.ID) {
			return &ReducerError{Message: "personnel " + p.ID + " must be placed in vehicle " + v.ID}
		}
		seen.Add(p.ID)
		personnelIDs.Add(p.ID)
	}
	materialIDs := model.UUIDSet{}
	for _, m := range a.Materials {
		if err := requireFreshID(s, model.ElementMaterial, m.ID); err != nil {
			return err
		}
		if seen.Has(m.ID) {
			return &ReducerError{Message: "duplicate id " + m.ID}
		}
		if !m.Position.InVehicle(v.ID) {
			return &ReducerError{Message: "material " + m.ID + " must be placed in vehicle " + v.ID}
		}
		seen.Add(m.ID)
		materialIDs.Add(m.ID)
	}
	if !personnelIDs.Equal(v.PersonnelIDs) || !materialIDs.Equal(v.MaterialIDs) {
		return &ReducerError{Message: "personnel and material of vehicle " + v.ID + " do not match its id sets"}
	}

	if v.Occupation.Type == "" {
		v.Occupation = model.Unoccupied()
	}
	ctx.Draft.PutVehicle(v)
	for _, p := range a.Personnel {
		c := p.Clone()
		c.VehicleID, c.VehicleName = v.ID, v.Name
		ctx.Draft.PutPersonnel(c)
	}
	for _, m := range a.Materials {
		c := m.Clone()
		c.VehicleID, c.VehicleName = v.ID, v.Name
		ctx.Draft.PutMaterial(c)
	}
	if v.Position.IsInSimulatedRegion() {
		simulation.ElementEntered(ctx, model.ElementVehicle, v.ID, v.Position.SimulatedRegionID)
	}
	return nil
}

func reduceMoveVehicle(ctx *simulation.Context, a MoveVehicleAction) error {
	v, err := getVehicle(ctx.State(), a.VehicleID)
	if err != nil {
		return err
	}
	if !v.Position.IsOnMap() {
		return fail("vehicle %s is not on the map", a.VehicleID)
	}
	ctx.Draft.MutVehicle(a.VehicleID).Position = model.MapPosition(a.TargetPosition)
	return nil
}

func reduceUnloadVehicle(ctx *simulation.Context, a UnloadVehicleAction) error {
	v, err := getVehicle(ctx.State(), a.VehicleID)
	if err != nil {
		return err
	}
	if v.Position.IsInSimulatedRegion() {
		if _, err := getSimulatedRegion(ctx.State(), v.Position.SimulatedRegionID); err != nil {
			return err
		}
	}
	return simulation.UnloadVehicle(ctx, a.VehicleID)
}

func reduceLoadVehicle(ctx *simulation.Context, a LoadVehicleAction) error {
	s := ctx.State()
	v, err := getVehicle(s, a.VehicleID)
	if err != nil {
		return err
	}
	if v.Position.IsInTransfer() {
		return fail("vehicle %s is in transfer", a.VehicleID)
	}
	switch a.ElementToBeLoadedType {
	case model.ElementPatient:
		if _, err := getPatient(s, a.ElementToBeLoadedID); err != nil {
			return err
		}
		if !v.PatientIDs.Has(a.ElementToBeLoadedID) && len(v.PatientIDs) >= v.PatientCapacity {
			return fail("vehicle %s is already full", a.VehicleID)
		}
		if err := simulation.LoadPatient(ctx, a.VehicleID, a.ElementToBeLoadedID); err != nil {
			return err
		}
		return simulation.LoadCrew(ctx, a.VehicleID)
	case model.ElementPersonnel:
		p, err := getPersonnel(s, a.ElementToBeLoadedID)
		if err != nil {
			return err
		}
		if !v.PersonnelIDs.Has(p.ID) {
			return fail("personnel %s does not belong to vehicle %s", p.ID, v.ID)
		}
		if p.Position.IsInTransfer() {
			return fail("personnel %s is in transfer", p.ID)
		}
		if p.Position.InVehicle(v.ID) {
			return nil
		}
		from := p.Position
		ctx.Draft.MutPersonnel(p.ID).Position = model.VehiclePosition(v.ID)
		simulation.ElementLeft(ctx, model.ElementPersonnel, p.ID, from)
		simulation.ClearAssignments(ctx, model.ElementPersonnel, p.ID)
		return nil
	case model.ElementMaterial:
		m, err := getMaterial(s, a.ElementToBeLoadedID)
		if err != nil {
			return err
		}
		if !v.MaterialIDs.Has(m.ID) {
			return fail("material %s does not belong to vehicle %s", m.ID, v.ID)
		}
		if m.Position.InVehicle(v.ID) {
			return nil
		}
		from := m.Position
		ctx.Draft.MutMaterial(m.ID).Position = model.VehiclePosition(v.ID)
		simulation.ElementLeft(ctx, model.ElementMaterial, m.ID, from)
		simulation.ClearAssignments(ctx, model.ElementMaterial, m.ID)
		return nil
	}
	return fail("elements of type %q cannot be loaded", a.ElementToBeLoadedType)
}

func reduceRenameVehicle(ctx *simulation.Context, a RenameVehicleAction) error {
	v, err := getVehicle(ctx.State(), a.VehicleID)
	if err != nil {
		return err
	}
	ctx.Draft.MutVehicle(v.ID).Name = a.Name
	for _, id := range v.PersonnelIDs.Sorted() {
		if p := ctx.Draft.MutPersonnel(id); p != nil {
			p.VehicleName = a.Name
		}
	}
	for _, id := range v.MaterialIDs.Sorted() {
		if m := ctx.Draft.MutMaterial(id); m != nil {
			m.VehicleName = a.Name
		}
	}
	return nil
}

func reduceRemoveVehicle(ctx *simulation.Context, a RemoveVehicleAction) error {
	v, err := getVehicle(ctx.State(), a.VehicleID)
	if err != nil {
		return err
	}
	for _, id := range v.PersonnelIDs.Sorted() {
		forgetOmitted(ctx, model.ElementPersonnel, id)
	}
	for _, id := range v.MaterialIDs.Sorted() {
		forgetOmitted(ctx, model.ElementMaterial, id)
	}
	simulation.RemoveVehicle(ctx, a.VehicleID)
	return nil
}

// forgetOmitted drops an id from the stand-in that hides it.
func forgetOmitted(ctx *simulation.Context, t model.ElementType, id model.UUID) {
	st, ok := standin.IsOmitted(ctx.State(), t, id)
	if !ok {
		return
	}
	w := ctx.Draft.MutStandIn(st.ID)
	w.Omitted.Set(t).Remove(id)
}

func reduceSetVehicleOccupation(ctx *simulation.Context, a SetVehicleOccupationAction) error {
	if _, err := getVehicle(ctx.State(), a.VehicleID); err != nil {
		return err
	}
	ctx.Draft.MutVehicle(a.VehicleID).Occupation = a.Occupation
	return nil
}

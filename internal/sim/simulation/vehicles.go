package simulation

import (
	"errors"
	"fmt"

	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/standin"
)

var (
	ErrVehicleInTransfer = errors.New("vehicle is in transfer")
	ErrVehicleFull       = errors.New("vehicle has no free patient capacity")
)

// Offsets of unloaded elements next to a vehicle on the map.
const (
	unloadSpacing      = 1.0
	patientRowOffset   = 3.0
	personnelRowOffset = 5.0
	materialRowOffset  = 7.0
)

// UnloadVehicle takes all patients, personnel and material out of a vehicle
// and places them where the vehicle stands.
func UnloadVehicle(ctx *Context, vehicleID model.UUID) error {
	s := ctx.State()
	v := s.Vehicles[vehicleID]
	if v == nil {
		return fmt.Errorf("vehicle with id %s does not exist", vehicleID)
	}
	var place func(row float64, i int) model.Position
	switch {
	case v.Position.IsOnMap():
		c := *v.Position.Coordinates
		place = func(row float64, i int) model.Position {
			return model.MapPosition(c.Add(float64(i)*unloadSpacing, -row))
		}
	case v.Position.IsInSimulatedRegion():
		pos := model.RegionPosition(v.Position.SimulatedRegionID)
		place = func(float64, int) model.Position { return pos }
	default:
		return fmt.Errorf("vehicle with id %s cannot be unloaded at its current position", vehicleID)
	}
	regionID := ""
	if v.Position.IsInSimulatedRegion() {
		regionID = v.Position.SimulatedRegionID
	}

	patients := v.PatientIDs.Sorted()
	var personnel, materials []model.UUID
	for _, id := range v.PersonnelIDs.Sorted() {
		if p := s.Personnel[id]; p != nil && p.Position.InVehicle(vehicleID) {
			personnel = append(personnel, id)
		}
	}
	for _, id := range v.MaterialIDs.Sorted() {
		if m := s.Materials[id]; m != nil && m.Position.InVehicle(vehicleID) {
			materials = append(materials, id)
		}
	}

	mv := ctx.Draft.MutVehicle(vehicleID)
	mv.PatientIDs = model.UUIDSet{}
	for i, id := range patients {
		p := ctx.Draft.MutPatient(id)
		if p == nil {
			continue
		}
		p.Position = place(patientRowOffset, i)
		if regionID != "" {
			ElementEntered(ctx, model.ElementPatient, id, regionID)
		}
	}
	for i, id := range personnel {
		ctx.Draft.MutPersonnel(id).Position = place(personnelRowOffset, i)
		if regionID != "" {
			ElementEntered(ctx, model.ElementPersonnel, id, regionID)
		}
	}
	for i, id := range materials {
		ctx.Draft.MutMaterial(id).Position = place(materialRowOffset, i)
		if regionID != "" {
			ElementEntered(ctx, model.ElementMaterial, id, regionID)
		}
	}
	if regionID != "" {
		return nil
	}
	for _, id := range personnel {
		RecalculateCaterer(ctx, model.ElementPersonnel, id)
	}
	for _, id := range materials {
		RecalculateCaterer(ctx, model.ElementMaterial, id)
	}
	for _, id := range patients {
		ctx.UpdateTreatments(id)
	}
	return nil
}

// LoadPatient puts a patient into a vehicle.
func LoadPatient(ctx *Context, vehicleID, patientID model.UUID) error {
	v := ctx.State().Vehicles[vehicleID]
	p := ctx.State().Patients[patientID]
	if v == nil || p == nil {
		return fmt.Errorf("vehicle %s or patient %s does not exist", vehicleID, patientID)
	}
	if v.Position.IsInTransfer() {
		return ErrVehicleInTransfer
	}
	if !v.PatientIDs.Has(patientID) && len(v.PatientIDs) >= v.PatientCapacity {
		return ErrVehicleFull
	}
	from := p.Position
	if from.IsInVehicle() && from.VehicleID != vehicleID {
		if prev := ctx.Draft.MutVehicle(from.VehicleID); prev != nil {
			prev.PatientIDs.Remove(patientID)
		}
	}
	ctx.Draft.MutVehicle(vehicleID).PatientIDs.Add(patientID)
	ctx.Draft.MutPatient(patientID).Position = model.VehiclePosition(vehicleID)
	ElementLeft(ctx, model.ElementPatient, patientID, from)
	UnassignPatient(ctx, patientID)
	return nil
}

// LoadCrew puts a vehicle's own personnel and material back into it.
func LoadCrew(ctx *Context, vehicleID model.UUID) error {
	s := ctx.State()
	v := s.Vehicles[vehicleID]
	if v == nil {
		return fmt.Errorf("vehicle with id %s does not exist", vehicleID)
	}
	if v.Position.IsInTransfer() {
		return ErrVehicleInTransfer
	}
	for _, id := range v.PersonnelIDs.Sorted() {
		p := s.Personnel[id]
		if p == nil || p.Position.InVehicle(vehicleID) || p.Position.IsInTransfer() {
			continue
		}
		from := p.Position
		ctx.Draft.MutPersonnel(id).Position = model.VehiclePosition(vehicleID)
		ElementLeft(ctx, model.ElementPersonnel, id, from)
		ClearAssignments(ctx, model.ElementPersonnel, id)
	}
	for _, id := range v.MaterialIDs.Sorted() {
		m := s.Materials[id]
		if m == nil || m.Position.InVehicle(vehicleID) {
			continue
		}
		from := m.Position
		ctx.Draft.MutMaterial(id).Position = model.VehiclePosition(vehicleID)
		ElementLeft(ctx, model.ElementMaterial, id, from)
		ClearAssignments(ctx, model.ElementMaterial, id)
	}
	return nil
}

// RemoveVehicle deletes a vehicle together with its personnel, material and
// loaded patients.
func RemoveVehicle(ctx *Context, vehicleID model.UUID) {
	s := ctx.State()
	v := s.Vehicles[vehicleID]
	if v == nil {
		return
	}
	for _, id := range v.PersonnelIDs.Sorted() {
		if p := s.Personnel[id]; p != nil {
			ElementLeft(ctx, model.ElementPersonnel, id, p.Position)
			ctx.Draft.DeletePersonnel(id)
		}
	}
	for _, id := range v.MaterialIDs.Sorted() {
		if m := s.Materials[id]; m != nil {
			ElementLeft(ctx, model.ElementMaterial, id, m.Position)
			ctx.Draft.DeleteMaterial(id)
		}
	}
	for _, id := range v.PatientIDs.Sorted() {
		RemovePatient(ctx, id)
	}
	ElementLeft(ctx, model.ElementVehicle, vehicleID, v.Position)
	ctx.Draft.DeleteVehicle(vehicleID)
}

// RemovePatient deletes a patient and every reference to it.
func RemovePatient(ctx *Context, patientID model.UUID) {
	p := ctx.State().Patients[patientID]
	if p == nil {
		return
	}
	if p.Position.IsInVehicle() {
		if v := ctx.Draft.MutVehicle(p.Position.VehicleID); v != nil {
			v.PatientIDs.Remove(patientID)
		}
	}
	ElementLeft(ctx, model.ElementPatient, patientID, p.Position)
	UnassignPatient(ctx, patientID)
	ctx.Draft.DeletePatient(patientID)
}

// TransportToHospital sends the patients of a vehicle to a hospital. The
// vehicle leaves the exercise with its crew and material.
func TransportToHospital(ctx *Context, vehicleID, hospitalID model.UUID) error {
	s := ctx.State()
	v := s.Vehicles[vehicleID]
	h := s.Hospitals[hospitalID]
	if v == nil {
		return fmt.Errorf("vehicle with id %s does not exist", vehicleID)
	}
	if h == nil {
		return fmt.Errorf("hospital with id %s does not exist", hospitalID)
	}
	if v.Position.IsInTransfer() {
		return ErrVehicleInTransfer
	}
	upd := model.HospitalUpdate{
		HospitalID:   hospitalID,
		VehicleID:    vehicleID,
		PersonnelIDs: v.PersonnelIDs.Sorted(),
		MaterialIDs:  v.MaterialIDs.Sorted(),
	}
	now := ctx.Now()
	mh := ctx.Draft.MutHospital(hospitalID)
	if mh.PatientIDs == nil {
		mh.PatientIDs = model.UUIDSet{}
	}
	for _, id := range v.PatientIDs.Sorted() {
		p := s.Patients[id]
		if p == nil {
			continue
		}
		hp := &model.HospitalPatient{
			PatientID:   id,
			HospitalID:  hospitalID,
			VehicleType: v.VehicleType,
			StartTime:   now,
			ArrivalTime: now + h.TransportDuration,
			Patient:     p.Clone(),
		}
		ctx.Draft.PutHospitalPatient(hp)
		mh.PatientIDs.Add(id)
		upd.Patients = append(upd.Patients, hp.Clone())
	}
	RemoveVehicle(ctx, vehicleID)
	standin.CollectHospital(ctx.Updates, upd)
	return nil
}

// Package simtest builds small exercise states for tests.
//
// Fixtures only use the model package so tests of every simulation layer can
// share them.
package simtest

import (
	"manvsim.ai/internal/sim/model"
)

const ParticipantID = "123456"

// State returns an empty running exercise with pretriage disabled.
func State() *model.ExerciseState {
	s := model.NewExerciseState(ParticipantID)
	s.CurrentStatus = model.StatusRunning
	return s
}

// Patient returns a patient with one health state that changes by
// perSecond health points every second and never transitions.
func Patient(id model.UUID, health, perSecond float64, pos model.Position) *model.Patient {
	stateID := id + "-state"
	return &model.Patient{
		ID:              id,
		Name:            "Patient " + id,
		PretriageStatus: model.StatusForHealth(health),
		RealStatus:      model.StatusForHealth(health),
		HealthStates: map[model.UUID]*model.PatientHealthState{
			stateID: {
				ID:                  stateID,
				FunctionParameters:  model.FunctionParameters{ConstantChange: perSecond},
				NextStateConditions: []model.ConditionParameters{},
			},
		},
		CurrentHealthStateID: stateID,
		Health:               health,
		TimeSpeed:            1,
		Position:             pos,
	}
}

// Vehicle is a vehicle together with its crew and equipment.
type Vehicle struct {
	Vehicle   *model.Vehicle
	Personnel []*model.Personnel
	Materials []*model.Material
}

// RTW returns an ambulance with two personnel and one material, all inside
// the vehicle, positioned at pos.
func RTW(id model.UUID, pos model.Position) Vehicle {
	v := &model.Vehicle{
		ID:              id,
		VehicleType:     "RTW",
		Name:            "RTW " + id,
		PatientCapacity: 1,
		PatientIDs:      model.UUIDSet{},
		PersonnelIDs:    model.NewUUIDSet(id+"-notsan", id+"-rettsan"),
		MaterialIDs:     model.NewUUIDSet(id + "-material"),
		Occupation:      model.Unoccupied(),
		Position:        pos,
	}
	out := Vehicle{Vehicle: v}
	for _, p := range []struct {
		id model.UUID
		t  model.PersonnelType
	}{{id + "-notsan", model.PersonnelNotSan}, {id + "-rettsan", model.PersonnelRettSan}} {
		out.Personnel = append(out.Personnel, &model.Personnel{
			ID:                 p.id,
			PersonnelType:      p.t,
			VehicleID:          id,
			VehicleName:        v.Name,
			CanCaterFor:        model.CanCaterFor{Red: 1, Yellow: 0, Green: 0},
			TreatmentRange:     2.5,
			AssignedPatientIDs: model.UUIDSet{},
			Position:           model.VehiclePosition(id),
		})
	}
	out.Materials = append(out.Materials, &model.Material{
		ID:                 id + "-material",
		MaterialType:       "standard",
		VehicleID:          id,
		VehicleName:        v.Name,
		CanCaterFor:        model.CanCaterFor{Red: 2, Yellow: 0, Green: 0},
		TreatmentRange:     5.5,
		AssignedPatientIDs: model.UUIDSet{},
		Position:           model.VehiclePosition(id),
	})
	return out
}

// AddVehicle stores a vehicle with its crew and equipment in s.
func AddVehicle(s *model.ExerciseState, v Vehicle) {
	s.Vehicles[v.Vehicle.ID] = v.Vehicle
	for _, p := range v.Personnel {
		s.Personnel[p.ID] = p
	}
	for _, m := range v.Materials {
		s.Materials[m.ID] = m
	}
}

func AddPatient(s *model.ExerciseState, p *model.Patient) {
	s.Patients[p.ID] = p
}

// Region returns an empty full region.
func Region(id model.UUID) *model.SimulatedRegion {
	return model.NewSimulatedRegion(id, "Region "+id, model.MapCoordinates{X: 0, Y: 0}, model.Size{Width: 10, Height: 10})
}

// AddRegion stores r and a transfer point inside it named after the region.
func AddRegion(s *model.ExerciseState, r *model.SimulatedRegion) *model.TransferPoint {
	s.SimulatedRegions[r.ID] = r
	tp := &model.TransferPoint{
		ID:                      r.ID + "-tp",
		InternalName:            r.Name,
		ExternalName:            r.Name,
		Position:                model.RegionPosition(r.ID),
		ReachableTransferPoints: map[model.UUID]model.TransferConnection{},
		ReachableHospitals:      model.UUIDSet{},
	}
	s.TransferPoints[tp.ID] = tp
	return tp
}

// Connect makes two transfer points reachable from each other.
func Connect(s *model.ExerciseState, a, b model.UUID, duration int64) {
	s.TransferPoints[a].ReachableTransferPoints[b] = model.TransferConnection{Duration: duration}
	s.TransferPoints[b].ReachableTransferPoints[a] = model.TransferConnection{Duration: duration}
}

// Hospital stores a hospital in s.
func Hospital(s *model.ExerciseState, id model.UUID, transportDuration int64) *model.Hospital {
	h := &model.Hospital{ID: id, Name: "Hospital " + id, TransportDuration: transportDuration, PatientIDs: model.UUIDSet{}}
	s.Hospitals[id] = h
	return h
}

// At returns an on-map position.
func At(x, y float64) model.Position {
	return model.MapPosition(model.MapCoordinates{X: x, Y: y})
}

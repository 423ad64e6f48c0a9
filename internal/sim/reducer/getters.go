package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/standin"
)

// missing explains why a positionable element is not in the live maps.
func missing(s *model.ExerciseState, t model.ElementType, id model.UUID) error {
	if st, ok := standin.IsOmitted(s, t, id); ok {
		return &ElementOmittedError{ElementType: t, ElementID: id, StandIn: st.ID}
	}
	return notFound(t, id)
}

func getPatient(s *model.ExerciseState, id model.UUID) (*model.Patient, error) {
	if p := s.Patients[id]; p != nil {
		return p, nil
	}
	return nil, missing(s, model.ElementPatient, id)
}

func getVehicle(s *model.ExerciseState, id model.UUID) (*model.Vehicle, error) {
	if v := s.Vehicles[id]; v != nil {
		return v, nil
	}
	return nil, missing(s, model.ElementVehicle, id)
}

func getPersonnel(s *model.ExerciseState, id model.UUID) (*model.Personnel, error) {
	if p := s.Personnel[id]; p != nil {
		return p, nil
	}
	return nil, missing(s, model.ElementPersonnel, id)
}

func getMaterial(s *model.ExerciseState, id model.UUID) (*model.Material, error) {
	if m := s.Materials[id]; m != nil {
		return m, nil
	}
	return nil, missing(s, model.ElementMaterial, id)
}

// getSimulatedRegion returns a full region.
func getSimulatedRegion(s *model.ExerciseState, id model.UUID) (*model.SimulatedRegion, error) {
	switch r := s.SimulatedRegions[id].(type) {
	case *model.SimulatedRegion:
		return r, nil
	case *model.SimulatedRegionStandIn:
		return nil, &SimulatedRegionMissingError{RegionID: id}
	}
	return nil, notFound(model.ElementSimulatedRegion, id)
}

func getTransferPoint(s *model.ExerciseState, id model.UUID) (*model.TransferPoint, error) {
	if tp := s.TransferPoints[id]; tp != nil {
		return tp, nil
	}
	return nil, notFound(model.ElementTransferPoint, id)
}

func getHospital(s *model.ExerciseState, id model.UUID) (*model.Hospital, error) {
	if h := s.Hospitals[id]; h != nil {
		return h, nil
	}
	return nil, notFound(model.ElementHospital, id)
}

func getRadiogram(s *model.ExerciseState, id model.UUID) (*model.Radiogram, error) {
	if r := s.Radiograms[id]; r != nil {
		return r, nil
	}
	return nil, notFound(model.ElementRadiogram, id)
}

func getClient(s *model.ExerciseState, id model.UUID) (*model.Client, error) {
	if c := s.Clients[id]; c != nil {
		return c, nil
	}
	return nil, notFound(model.ElementClient, id)
}

func getViewport(s *model.ExerciseState, id model.UUID) (*model.Viewport, error) {
	if v := s.Viewports[id]; v != nil {
		return v, nil
	}
	return nil, notFound(model.ElementViewport, id)
}

func requireFreshID(s *model.ExerciseState, t model.ElementType, id model.UUID) error {
	if id == "" {
		return &ReducerError{Message: string(t) + " id must not be empty"}
	}
	if s.HasID(id) {
		return &ReducerError{Message: string(t) + " id " + id + " is already in use"}
	}
	return nil
}

// requirePlaceable checks that an element can be put at pos by a reducer:
// on the map or in a materialized region.
func requirePlaceable(s *model.ExerciseState, pos model.Position) error {
	switch {
	case pos.IsOnMap():
		return nil
	case pos.IsInSimulatedRegion():
		_, err := getSimulatedRegion(s, pos.SimulatedRegionID)
		return err
	}
	return fail("position of type %q is not allowed here", pos.Type)
}

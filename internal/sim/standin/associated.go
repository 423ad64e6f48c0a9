package standin

import (
	"errors"
	"fmt"

	"manvsim.ai/internal/sim/model"
)

var (
	ErrUnknownRegion   = errors.New("simulated region does not exist")
	ErrRegionIsStandIn = errors.New("simulated region is a stand-in")
)

// AssociatedElements is the closure of one region: the region record and
// every element needed to represent it without the rest of the state.
type AssociatedElements struct {
	SimulatedRegion *model.SimulatedRegion          `json:"simulatedRegion"`
	Patients        map[model.UUID]*model.Patient   `json:"patients"`
	Vehicles        map[model.UUID]*model.Vehicle   `json:"vehicles"`
	Personnel       map[model.UUID]*model.Personnel `json:"personnel"`
	Materials       map[model.UUID]*model.Material  `json:"materials"`
}

// ExtractAssociatedElements returns deep copies of the region and of the
// patients, vehicles, personnel and material that belong to it: elements in
// the region, vehicles in transfer out of the region's transfer points, the
// cargo and crew of those vehicles.
func ExtractAssociatedElements(s *model.ExerciseState, regionID model.UUID) (*AssociatedElements, error) {
	r, ok := s.SimulatedRegions[regionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, regionID)
	}
	full, ok := r.(*model.SimulatedRegion)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRegionIsStandIn, regionID)
	}

	out := &AssociatedElements{
		SimulatedRegion: full.Clone(),
		Patients:        map[model.UUID]*model.Patient{},
		Vehicles:        map[model.UUID]*model.Vehicle{},
		Personnel:       map[model.UUID]*model.Personnel{},
		Materials:       map[model.UUID]*model.Material{},
	}

	regionPoints := model.UUIDSet{}
	for id, tp := range s.TransferPoints {
		if tp.Position.InRegion(regionID) {
			regionPoints.Add(id)
		}
	}

	for id, v := range s.Vehicles {
		inTransferFrom := v.Position.IsInTransfer() && regionPoints.Has(v.Position.Transfer.StartTransferPointID)
		if v.Position.InRegion(regionID) || inTransferFrom {
			out.Vehicles[id] = v.Clone()
		}
	}
	for id, p := range s.Patients {
		if p.Position.InRegion(regionID) || (p.Position.IsInVehicle() && out.Vehicles[p.Position.VehicleID] != nil) {
			out.Patients[id] = p.Clone()
		}
	}
	for id, p := range s.Personnel {
		if p.Position.InRegion(regionID) || out.Vehicles[p.VehicleID] != nil {
			out.Personnel[id] = p.Clone()
		}
	}
	for id, m := range s.Materials {
		if m.Position.InRegion(regionID) || out.Vehicles[m.VehicleID] != nil {
			out.Materials[id] = m.Clone()
		}
	}
	return out, nil
}

// IsOmitted reports whether the element is hidden in a stand-in and returns
// that stand-in.
func IsOmitted(s *model.ExerciseState, t model.ElementType, id model.UUID) (*model.SimulatedRegionStandIn, bool) {
	for _, regionID := range model.SortedKeys(s.SimulatedRegions) {
		st, ok := s.SimulatedRegions[regionID].(*model.SimulatedRegionStandIn)
		if !ok {
			continue
		}
		if st.Omitted.Set(t).Has(id) {
			return st, true
		}
	}
	return nil, false
}

// IsStandIn reports whether the region exists and is currently a stand-in.
func IsStandIn(s *model.ExerciseState, regionID model.UUID) bool {
	_, ok := s.StandIn(regionID)
	return ok
}

package standin

import (
	"fmt"

	"manvsim.ai/internal/sim/model"
)

// Omit returns a new state in which the region is a stand-in.
func Omit(s *model.ExerciseState, regionID model.UUID) (*model.ExerciseState, error) {
	d := model.NewDraft(s)
	if err := OmitRegion(d, regionID); err != nil {
		return nil, err
	}
	return d.Commit(), nil
}

// Materialize returns a new state in which the region is full again.
func Materialize(s *model.ExerciseState, regionID model.UUID, closure *AssociatedElements) (*model.ExerciseState, error) {
	d := model.NewDraft(s)
	if err := MaterializeRegion(d, regionID, closure); err != nil {
		return nil, err
	}
	return d.Commit(), nil
}

// Restore is Materialize for a closure taken from the authoritative state at
// the same point of the action stream. Events deferred in the stand-in were
// delivered to the authoritative region already and are dropped.
func Restore(s *model.ExerciseState, regionID model.UUID, closure *AssociatedElements) (*model.ExerciseState, error) {
	d := model.NewDraft(s)
	if st := d.MutStandIn(regionID); st != nil {
		st.DeferredEvents = []model.Event{}
	}
	if err := MaterializeRegion(d, regionID, closure); err != nil {
		return nil, err
	}
	return d.Commit(), nil
}

// shouldKeepVehicle reports whether a vehicle must stay in the live maps
// when the region is omitted: it is outside the region, or part of its crew
// or equipment is somewhere else.
func shouldKeepVehicle(s *model.ExerciseState, v *model.Vehicle, regionID model.UUID) bool {
	if !v.Position.InRegion(regionID) {
		return true
	}
	for id := range v.PersonnelIDs {
		p := s.Personnel[id]
		if p != nil && !p.Position.InRegion(regionID) && !p.Position.InVehicle(v.ID) {
			return true
		}
	}
	for id := range v.MaterialIDs {
		m := s.Materials[id]
		if m != nil && !m.Position.InRegion(regionID) && !m.Position.InVehicle(v.ID) {
			return true
		}
	}
	return false
}

// OmitRegion replaces a full region by a stand-in and moves the elements that
// only belong to it out of the live maps. Omitting a stand-in is a no-op.
func OmitRegion(d *model.Draft, regionID model.UUID) error {
	s := d.State()
	r, ok := s.SimulatedRegions[regionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, regionID)
	}
	full, ok := r.(*model.SimulatedRegion)
	if !ok {
		return nil
	}

	omitted := model.NewOmittedElements()
	for _, id := range model.SortedKeys(s.Vehicles) {
		v := s.Vehicles[id]
		if shouldKeepVehicle(s, v, regionID) {
			continue
		}
		omitted.Vehicles.Add(id)
		for pid := range v.PersonnelIDs {
			if s.Personnel[pid] != nil {
				omitted.Personnel.Add(pid)
			}
		}
		for mid := range v.MaterialIDs {
			if s.Materials[mid] != nil {
				omitted.Materials.Add(mid)
			}
		}
	}
	for id, p := range s.Patients {
		if p.Position.InRegion(regionID) || (p.Position.IsInVehicle() && omitted.Vehicles.Has(p.Position.VehicleID)) {
			omitted.Patients.Add(id)
		}
	}
	for id, p := range s.Personnel {
		if p.Position.InRegion(regionID) {
			omitted.Personnel.Add(id)
		}
	}
	for id, m := range s.Materials {
		if m.Position.InRegion(regionID) {
			omitted.Materials.Add(id)
		}
	}

	for id := range omitted.Patients {
		d.DeletePatient(id)
	}
	for id := range omitted.Vehicles {
		d.DeleteVehicle(id)
	}
	for id := range omitted.Personnel {
		d.DeletePersonnel(id)
	}
	for id := range omitted.Materials {
		d.DeleteMaterial(id)
	}

	geo := full.RegionGeometry
	geo.Type = model.RegionStandIn
	d.PutRegion(&model.SimulatedRegionStandIn{
		RegionGeometry: geo,
		Omitted:        omitted,
		DeferredEvents: []model.Event{},
	})
	return nil
}

// MaterializeRegion merges a closure produced by ExtractAssociatedElements
// back into the live maps and restores the full region. Events deferred in
// the stand-in are appended to the region's in-queue. Materializing a full
// region is a no-op.
func MaterializeRegion(d *model.Draft, regionID model.UUID, closure *AssociatedElements) error {
	s := d.State()
	r, ok := s.SimulatedRegions[regionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, regionID)
	}
	st, ok := r.(*model.SimulatedRegionStandIn)
	if !ok {
		return nil
	}
	if closure == nil || closure.SimulatedRegion == nil || closure.SimulatedRegion.ID != regionID {
		return fmt.Errorf("closure does not describe simulated region %s", regionID)
	}

	for _, id := range model.SortedKeys(closure.Vehicles) {
		d.PutVehicle(closure.Vehicles[id].Clone())
	}
	for _, id := range model.SortedKeys(closure.Patients) {
		d.PutPatient(closure.Patients[id].Clone())
	}
	for _, id := range model.SortedKeys(closure.Personnel) {
		d.PutPersonnel(closure.Personnel[id].Clone())
	}
	for _, id := range model.SortedKeys(closure.Materials) {
		d.PutMaterial(closure.Materials[id].Clone())
	}

	region := closure.SimulatedRegion.Clone()
	region.Type = model.RegionFull
	region.InEvents = append(region.InEvents, model.CloneEvents(st.DeferredEvents)...)
	d.PutRegion(region)
	return nil
}

// OmitVehicle moves a live vehicle with its crew, equipment and loaded
// patients into a stand-in. Used when a vehicle arrives in a region that is
// not materialized.
func OmitVehicle(d *model.Draft, standInID, vehicleID model.UUID) {
	st := d.MutStandIn(standInID)
	v := d.State().Vehicles[vehicleID]
	if st == nil || v == nil {
		return
	}
	for _, pid := range v.PersonnelIDs.Sorted() {
		if p := d.State().Personnel[pid]; p != nil && p.Position.InVehicle(vehicleID) {
			st.Omitted.Personnel.Add(pid)
			d.DeletePersonnel(pid)
		}
	}
	for _, mid := range v.MaterialIDs.Sorted() {
		if m := d.State().Materials[mid]; m != nil && m.Position.InVehicle(vehicleID) {
			st.Omitted.Materials.Add(mid)
			d.DeleteMaterial(mid)
		}
	}
	for _, pid := range v.PatientIDs.Sorted() {
		if d.State().Patients[pid] != nil {
			st.Omitted.Patients.Add(pid)
			d.DeletePatient(pid)
		}
	}
	st.Omitted.Vehicles.Add(vehicleID)
	d.DeleteVehicle(vehicleID)
}

// OmitPersonnel moves a single live personnel into a stand-in.
func OmitPersonnel(d *model.Draft, standInID, personnelID model.UUID) {
	st := d.MutStandIn(standInID)
	if st == nil || d.State().Personnel[personnelID] == nil {
		return
	}
	st.Omitted.Personnel.Add(personnelID)
	d.DeletePersonnel(personnelID)
}

// Defer queues an event for a stand-in; it is delivered on materialization.
func Defer(d *model.Draft, standInID model.UUID, e model.Event) bool {
	st := d.MutStandIn(standInID)
	if st == nil {
		return false
	}
	st.DeferredEvents = append(st.DeferredEvents, e.Clone())
	return true
}

package standin

import "manvsim.ai/internal/sim/model"

// CollectRadiogram records a radiogram change made during a tick. Several
// changes of one radiogram within a tick collapse into one update.
func CollectRadiogram(u *model.TickUpdates, kind model.RadiogramUpdateKind, r *model.Radiogram) {
	if u == nil || r == nil {
		return
	}
	prev, seen := u.Radiograms[r.ID]
	switch {
	case seen && prev.Kind == model.RadiogramAdded && kind == model.RadiogramDeleted:
		delete(u.Radiograms, r.ID)
		return
	case seen && prev.Kind == model.RadiogramAdded:
		kind = model.RadiogramAdded
	}
	u.Radiograms[r.ID] = model.RadiogramUpdate{Kind: kind, Radiogram: r.Clone()}
}

// CollectHospital records a vehicle that was emptied at a hospital.
func CollectHospital(u *model.TickUpdates, upd model.HospitalUpdate) {
	if u == nil {
		return
	}
	u.Hospitals[upd.VehicleID] = upd
}

// CollectTransfer records a vehicle, with everything it carries, that
// started a transfer out of a region.
func CollectTransfer(u *model.TickUpdates, s *model.ExerciseState, vehicleID model.UUID) {
	if u == nil {
		return
	}
	v := s.Vehicles[vehicleID]
	if v == nil {
		return
	}
	upd := model.TransferUpdate{Vehicle: v.Clone()}
	for _, id := range v.PersonnelIDs.Sorted() {
		if p := s.Personnel[id]; p != nil && p.Position.InVehicle(vehicleID) {
			upd.Personnel = append(upd.Personnel, p.Clone())
		}
	}
	for _, id := range v.MaterialIDs.Sorted() {
		if m := s.Materials[id]; m != nil && m.Position.InVehicle(vehicleID) {
			upd.Materials = append(upd.Materials, m.Clone())
		}
	}
	for _, id := range v.PatientIDs.Sorted() {
		if p := s.Patients[id]; p != nil {
			upd.Patients = append(upd.Patients, p.Clone())
		}
	}
	u.Transfers[vehicleID] = upd
}

// ApplyTickUpdates folds server-side tick updates into a replica. Each
// update only takes effect where the replica could not have produced it
// itself, so applying updates to the authoritative state is a no-op.
func ApplyTickUpdates(d *model.Draft, u *model.TickUpdates) {
	if u.Empty() {
		return
	}
	for _, id := range model.SortedKeys(u.Radiograms) {
		applyRadiogramUpdate(d, u.Radiograms[id])
	}
	for _, id := range model.SortedKeys(u.Hospitals) {
		applyHospitalUpdate(d, u.Hospitals[id])
	}
	for _, id := range model.SortedKeys(u.Transfers) {
		applyTransferUpdate(d, u.Transfers[id])
	}
}

func applyRadiogramUpdate(d *model.Draft, upd model.RadiogramUpdate) {
	r := upd.Radiogram
	if r == nil {
		return
	}
	s := d.State()
	_, exists := s.Radiograms[r.ID]
	fromStandIn := IsStandIn(s, r.SimulatedRegionID)
	switch upd.Kind {
	case model.RadiogramAdded:
		if !exists {
			d.PutRadiogram(r.Clone())
		}
	case model.RadiogramModified:
		if !exists || fromStandIn {
			d.PutRadiogram(r.Clone())
		}
	case model.RadiogramDeleted:
		if exists && fromStandIn {
			d.DeleteRadiogram(r.ID)
		}
	}
}

func applyHospitalUpdate(d *model.Draft, upd model.HospitalUpdate) {
	for _, hp := range upd.Patients {
		if _, ok := d.State().HospitalPatients[hp.PatientID]; !ok {
			d.PutHospitalPatient(hp.Clone())
		}
		if h := d.MutHospital(upd.HospitalID); h != nil && !h.PatientIDs.Has(hp.PatientID) {
			if h.PatientIDs == nil {
				h.PatientIDs = model.UUIDSet{}
			}
			h.PatientIDs.Add(hp.PatientID)
		}
	}
	st, ok := IsOmitted(d.State(), model.ElementVehicle, upd.VehicleID)
	if !ok {
		return
	}
	w := d.MutStandIn(st.ID)
	w.Omitted.Vehicles.Remove(upd.VehicleID)
	for _, id := range upd.PersonnelIDs {
		w.Omitted.Personnel.Remove(id)
	}
	for _, id := range upd.MaterialIDs {
		w.Omitted.Materials.Remove(id)
	}
	for _, hp := range upd.Patients {
		w.Omitted.Patients.Remove(hp.PatientID)
	}
}

func applyTransferUpdate(d *model.Draft, upd model.TransferUpdate) {
	if upd.Vehicle == nil {
		return
	}
	st, ok := IsOmitted(d.State(), model.ElementVehicle, upd.Vehicle.ID)
	if !ok {
		return
	}
	w := d.MutStandIn(st.ID)
	w.Omitted.Vehicles.Remove(upd.Vehicle.ID)
	d.PutVehicle(upd.Vehicle.Clone())
	for _, p := range upd.Personnel {
		w.Omitted.Personnel.Remove(p.ID)
		d.PutPersonnel(p.Clone())
	}
	for _, m := range upd.Materials {
		w.Omitted.Materials.Remove(m.ID)
		d.PutMaterial(m.Clone())
	}
	for _, p := range upd.Patients {
		w.Omitted.Patients.Remove(p.ID)
		d.PutPatient(p.Clone())
	}
}

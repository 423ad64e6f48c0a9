package model

// Draft is the mutable working copy used while one action is applied.
//
// Reads go through State(); the returned value must not be mutated except
// for its scalar fields. Entities are mutated through the Mut* accessors,
// which copy a top-level map on its first write and an entity on its first
// access, so the base state stays untouched. Template slices are replaced,
// never edited in place.
type Draft struct {
	st     *ExerciseState
	copied map[any]struct{}
	owned  map[ownKey]struct{}
}

type ownKey struct {
	table any
	id    UUID
}

func NewDraft(base *ExerciseState) *Draft {
	st := *base
	return &Draft{
		st:     &st,
		copied: map[any]struct{}{},
		owned:  map[ownKey]struct{}{},
	}
}

func (d *Draft) State() *ExerciseState { return d.st }

// Commit returns the new state. The draft must not be used afterwards.
func (d *Draft) Commit() *ExerciseState {
	st := d.st
	d.st = nil
	return st
}

func writable[M ~map[UUID]V, V any](d *Draft, m *M) {
	if _, ok := d.copied[m]; ok {
		return
	}
	c := make(M, len(*m)+1)
	for k, v := range *m {
		c[k] = v
	}
	*m = c
	d.copied[m] = struct{}{}
}

func mutEntry[M ~map[UUID]V, V any](d *Draft, m *M, id UUID, clone func(V) V) (V, bool) {
	v, ok := (*m)[id]
	if !ok {
		var zero V
		return zero, false
	}
	key := ownKey{table: m, id: id}
	if _, own := d.owned[key]; own {
		return v, true
	}
	writable(d, m)
	v = clone(v)
	(*m)[id] = v
	d.owned[key] = struct{}{}
	return v, true
}

func putEntry[M ~map[UUID]V, V any](d *Draft, m *M, id UUID, v V) {
	writable(d, m)
	(*m)[id] = v
	d.owned[ownKey{table: m, id: id}] = struct{}{}
}

func deleteEntry[M ~map[UUID]V, V any](d *Draft, m *M, id UUID) {
	if _, ok := (*m)[id]; !ok {
		return
	}
	writable(d, m)
	delete(*m, id)
	delete(d.owned, ownKey{table: m, id: id})
}

func (d *Draft) MutPatient(id UUID) *Patient {
	p, _ := mutEntry(d, &d.st.Patients, id, (*Patient).Clone)
	return p
}
func (d *Draft) PutPatient(p *Patient) { putEntry(d, &d.st.Patients, p.ID, p) }
func (d *Draft) DeletePatient(id UUID) { deleteEntry(d, &d.st.Patients, id) }

func (d *Draft) MutPersonnel(id UUID) *Personnel {
	p, _ := mutEntry(d, &d.st.Personnel, id, (*Personnel).Clone)
	return p
}
func (d *Draft) PutPersonnel(p *Personnel) { putEntry(d, &d.st.Personnel, p.ID, p) }
func (d *Draft) DeletePersonnel(id UUID)   { deleteEntry(d, &d.st.Personnel, id) }

func (d *Draft) MutMaterial(id UUID) *Material {
	m, _ := mutEntry(d, &d.st.Materials, id, (*Material).Clone)
	return m
}
func (d *Draft) PutMaterial(m *Material) { putEntry(d, &d.st.Materials, m.ID, m) }
func (d *Draft) DeleteMaterial(id UUID)  { deleteEntry(d, &d.st.Materials, id) }

func (d *Draft) MutVehicle(id UUID) *Vehicle {
	v, _ := mutEntry(d, &d.st.Vehicles, id, (*Vehicle).Clone)
	return v
}
func (d *Draft) PutVehicle(v *Vehicle) { putEntry(d, &d.st.Vehicles, v.ID, v) }
func (d *Draft) DeleteVehicle(id UUID) { deleteEntry(d, &d.st.Vehicles, id) }

// MutRegion returns a writable copy of either region variant.
func (d *Draft) MutRegion(id UUID) Region {
	r, _ := mutEntry(d, &d.st.SimulatedRegions, id, CloneRegion)
	return r
}

// MutSimulatedRegion returns the writable full region, or nil if the region
// is missing or currently a stand-in.
func (d *Draft) MutSimulatedRegion(id UUID) *SimulatedRegion {
	if _, ok := d.st.SimulatedRegions[id].(*SimulatedRegion); !ok {
		return nil
	}
	r, _ := d.MutRegion(id).(*SimulatedRegion)
	return r
}

// MutStandIn returns the writable stand-in, or nil.
func (d *Draft) MutStandIn(id UUID) *SimulatedRegionStandIn {
	if _, ok := d.st.SimulatedRegions[id].(*SimulatedRegionStandIn); !ok {
		return nil
	}
	s, _ := d.MutRegion(id).(*SimulatedRegionStandIn)
	return s
}

// PutRegion stores r, replacing whichever variant was stored under its id.
func (d *Draft) PutRegion(r Region)   { putEntry(d, &d.st.SimulatedRegions, r.Geometry().ID, r) }
func (d *Draft) DeleteRegion(id UUID) { deleteEntry(d, &d.st.SimulatedRegions, id) }

func (d *Draft) MutTransferPoint(id UUID) *TransferPoint {
	t, _ := mutEntry(d, &d.st.TransferPoints, id, (*TransferPoint).Clone)
	return t
}
func (d *Draft) PutTransferPoint(t *TransferPoint) { putEntry(d, &d.st.TransferPoints, t.ID, t) }
func (d *Draft) DeleteTransferPoint(id UUID)       { deleteEntry(d, &d.st.TransferPoints, id) }

func (d *Draft) PutViewport(v *Viewport) { putEntry(d, &d.st.Viewports, v.ID, v) }
func (d *Draft) DeleteViewport(id UUID)  { deleteEntry(d, &d.st.Viewports, id) }

func (d *Draft) MutHospital(id UUID) *Hospital {
	h, _ := mutEntry(d, &d.st.Hospitals, id, (*Hospital).Clone)
	return h
}
func (d *Draft) PutHospital(h *Hospital) { putEntry(d, &d.st.Hospitals, h.ID, h) }

func (d *Draft) PutHospitalPatient(h *HospitalPatient) {
	putEntry(d, &d.st.HospitalPatients, h.PatientID, h)
}

func (d *Draft) MutRadiogram(id UUID) *Radiogram {
	r, _ := mutEntry(d, &d.st.Radiograms, id, (*Radiogram).Clone)
	return r
}
func (d *Draft) PutRadiogram(r *Radiogram) { putEntry(d, &d.st.Radiograms, r.ID, r) }
func (d *Draft) DeleteRadiogram(id UUID)   { deleteEntry(d, &d.st.Radiograms, id) }

func (d *Draft) MutClient(id UUID) *Client {
	c, _ := mutEntry(d, &d.st.Clients, id, (*Client).Clone)
	return c
}
func (d *Draft) PutClient(c *Client)  { putEntry(d, &d.st.Clients, c.ID, c) }
func (d *Draft) DeleteClient(id UUID) { deleteEntry(d, &d.st.Clients, id) }

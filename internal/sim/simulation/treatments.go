package simulation

import (
	"sort"

	"manvsim.ai/internal/sim/model"
)

// caterer is the common view of personnel and material for treatment
// assignment.
type caterer struct {
	kind     model.ElementType
	id       model.UUID
	position model.Position
	cater    model.CanCaterFor
	rng      float64
	assigned model.UUIDSet
}

func caterersOf(s *model.ExerciseState) []caterer {
	var out []caterer
	for _, id := range model.SortedKeys(s.Personnel) {
		p := s.Personnel[id]
		out = append(out, caterer{model.ElementPersonnel, p.ID, p.Position, p.CanCaterFor, p.TreatmentRange, p.AssignedPatientIDs})
	}
	for _, id := range model.SortedKeys(s.Materials) {
		m := s.Materials[id]
		out = append(out, caterer{model.ElementMaterial, m.ID, m.Position, m.CanCaterFor, m.TreatmentRange, m.AssignedPatientIDs})
	}
	return out
}

func setAssigned(ctx *Context, c caterer, assigned model.UUIDSet) {
	if c.assigned.Equal(assigned) {
		return
	}
	switch c.kind {
	case model.ElementPersonnel:
		if p := ctx.Draft.MutPersonnel(c.id); p != nil {
			p.AssignedPatientIDs = assigned
		}
	case model.ElementMaterial:
		if m := ctx.Draft.MutMaterial(c.id); m != nil {
			m.AssignedPatientIDs = assigned
		}
	}
}

// UnassignPatient removes a patient from every caterer treating it.
func UnassignPatient(ctx *Context, patientID model.UUID) {
	for _, c := range caterersOf(ctx.State()) {
		if !c.assigned.Has(patientID) {
			continue
		}
		next := c.assigned.Clone()
		next.Remove(patientID)
		setAssigned(ctx, c, next)
	}
}

// ClearAssignments removes every assignment of a caterer.
func ClearAssignments(ctx *Context, t model.ElementType, id model.UUID) {
	for _, c := range caterersOf(ctx.State()) {
		if c.kind == t && c.id == id && len(c.assigned) > 0 {
			setAssigned(ctx, c, model.UUIDSet{})
		}
	}
}

type candidate struct {
	id       model.UUID
	status   model.PatientStatus
	distance float64
}

// reassignOnMap lets a caterer on the map pick the most urgent patients in
// its range, closest first, up to its capacity per status.
func reassignOnMap(ctx *Context, c caterer) {
	s := ctx.State()
	pos, ok := c.position.Coords()
	if !ok {
		if len(c.assigned) > 0 {
			setAssigned(ctx, c, model.UUIDSet{})
		}
		return
	}
	var cands []candidate
	for _, id := range model.SortedKeys(s.Patients) {
		p := s.Patients[id]
		pp, ok := p.Position.Coords()
		if !ok {
			continue
		}
		d := model.Distance(pos, pp)
		if d > c.rng {
			continue
		}
		status := model.VisibleStatus(p, s.Configuration)
		if status == model.StatusBlack {
			continue
		}
		cands = append(cands, candidate{id, status, d})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		pi, pj := model.StatusPriority(cands[i].status), model.StatusPriority(cands[j].status)
		if pi != pj {
			return pi < pj
		}
		if cands[i].distance != cands[j].distance {
			return cands[i].distance < cands[j].distance
		}
		return cands[i].id < cands[j].id
	})
	used := map[model.PatientStatus]int{}
	assigned := model.UUIDSet{}
	for _, cand := range cands {
		bucket := capacityBucket(cand.status)
		if used[bucket] >= c.cater.Capacity(cand.status) {
			continue
		}
		used[bucket]++
		assigned.Add(cand.id)
	}
	setAssigned(ctx, c, assigned)
}

func capacityBucket(s model.PatientStatus) model.PatientStatus {
	switch s {
	case model.StatusBlue:
		return model.StatusRed
	case model.StatusWhite:
		return model.StatusGreen
	}
	return s
}

// UpdateTreatments recalculates the assignments of every caterer that can
// reach the patient or currently treats it. Patients inside regions are
// handled by the region's treatment behavior.
func UpdateTreatments(ctx *Context, patientID model.UUID) {
	s := ctx.State()
	p := s.Patients[patientID]
	var pos model.MapCoordinates
	onMap := false
	if p != nil {
		pos, onMap = p.Position.Coords()
	}
	for _, c := range caterersOf(s) {
		cp, ok := c.position.Coords()
		inRange := onMap && ok && model.Distance(cp, pos) <= c.rng
		if inRange || c.assigned.Has(patientID) {
			reassignOnMap(ctx, c)
		}
	}
}

// RecalculateCaterer recalculates the assignments of one caterer on the map.
func RecalculateCaterer(ctx *Context, t model.ElementType, id model.UUID) {
	for _, c := range caterersOf(ctx.State()) {
		if c.kind == t && c.id == id {
			if c.position.IsInSimulatedRegion() {
				return
			}
			reassignOnMap(ctx, c)
			return
		}
	}
}

// RecalculateAllTreatments recomputes every assignment on the map and in all
// full regions.
func RecalculateAllTreatments(ctx *Context) {
	for _, c := range caterersOf(ctx.State()) {
		if !c.position.IsInSimulatedRegion() {
			reassignOnMap(ctx, c)
		}
	}
	for _, id := range fullRegionIDs(ctx.State()) {
		AssignTreatmentsInRegion(ctx, id)
	}
}

// AssignTreatmentsInRegion distributes the patients of a region over its
// personnel and material: most urgent patients first, each to the caterer
// with free capacity for its status and the fewest patients so far.
func AssignTreatmentsInRegion(ctx *Context, regionID model.UUID) {
	s := ctx.State()
	var cands []candidate
	for _, id := range model.SortedKeys(s.Patients) {
		p := s.Patients[id]
		if !p.Position.InRegion(regionID) {
			continue
		}
		status := model.VisibleStatus(p, s.Configuration)
		if status == model.StatusBlack {
			continue
		}
		cands = append(cands, candidate{id: id, status: status})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return model.StatusPriority(cands[i].status) < model.StatusPriority(cands[j].status)
	})

	// Personnel and material are distributed independently so that every
	// patient gets one of each where possible.
	for _, kind := range []model.ElementType{model.ElementPersonnel, model.ElementMaterial} {
		var local []caterer
		for _, c := range caterersOf(s) {
			if c.kind == kind && c.position.InRegion(regionID) {
				local = append(local, c)
			}
		}
		distribute(ctx, cands, local)
	}
}

func distribute(ctx *Context, cands []candidate, local []caterer) {
	next := make([]model.UUIDSet, len(local))
	used := make([]map[model.PatientStatus]int, len(local))
	for i := range local {
		next[i] = model.UUIDSet{}
		used[i] = map[model.PatientStatus]int{}
	}
	for _, cand := range cands {
		bucket := capacityBucket(cand.status)
		best := -1
		for i, c := range local {
			if used[i][bucket] >= c.cater.Capacity(cand.status) {
				continue
			}
			if best < 0 || len(next[i]) < len(next[best]) {
				best = i
			}
		}
		if best < 0 {
			continue
		}
		used[best][bucket]++
		next[best].Add(cand.id)
	}
	for i, c := range local {
		setAssigned(ctx, c, next[i])
	}
}

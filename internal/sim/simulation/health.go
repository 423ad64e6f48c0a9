package simulation

import (
	"math"

	"manvsim.ai/internal/sim/model"
)

type treatmentCounts struct {
	notarzt, notSan, rettSan, san float64
	treated                       bool
}

// treatmentCountsByPatient splits every personnel evenly across the
// patients it is assigned to. Materials only count as treating.
func treatmentCountsByPatient(s *model.ExerciseState) map[model.UUID]*treatmentCounts {
	out := map[model.UUID]*treatmentCounts{}
	get := func(id model.UUID) *treatmentCounts {
		c := out[id]
		if c == nil {
			c = &treatmentCounts{}
			out[id] = c
		}
		return c
	}
	for _, id := range model.SortedKeys(s.Personnel) {
		p := s.Personnel[id]
		assigned := p.AssignedPatientIDs.Sorted()
		if len(assigned) == 0 {
			continue
		}
		share := 1 / float64(len(assigned))
		for _, pid := range assigned {
			c := get(pid)
			c.treated = true
			switch p.PersonnelType {
			case model.PersonnelNotarzt:
				c.notarzt += share
			case model.PersonnelNotSan:
				c.notSan += share
			case model.PersonnelRettSan:
				c.rettSan += share
			case model.PersonnelSan:
				c.san += share
			}
		}
	}
	for _, id := range model.SortedKeys(s.Materials) {
		for _, pid := range s.Materials[id].AssignedPatientIDs.Sorted() {
			get(pid).treated = true
		}
	}
	return out
}

// PatientTick computes how every live patient's health changes over one
// tick of the given length. It does not modify s.
func PatientTick(s *model.ExerciseState, interval int64) []model.PatientUpdate {
	counts := treatmentCountsByPatient(s)
	ids := model.SortedKeys(s.Patients)
	out := make([]model.PatientUpdate, 0, len(ids))
	for _, id := range ids {
		p := s.Patients[id]
		c := counts[id]
		if c == nil {
			c = &treatmentCounts{}
		}
		out = append(out, patientTick(p, c, interval))
	}
	return out
}

func patientTick(p *model.Patient, c *treatmentCounts, interval int64) model.PatientUpdate {
	upd := model.PatientUpdate{
		ID:                p.ID,
		NextHealthStateID: p.CurrentHealthStateID,
		NextHealthPoints:  p.Health,
		NextStateTime:     p.StateTime,
		TreatmentTime:     p.TreatmentTime,
	}
	if c.treated {
		upd.TreatmentTime += interval
	}
	state := p.HealthStates[p.CurrentHealthStateID]
	if state == nil {
		return upd
	}
	speed := p.TimeSpeed
	if speed <= 0 {
		speed = 1
	}
	elapsed := int64(math.Round(float64(interval) * speed))

	fp := state.FunctionParameters
	perSecond := fp.ConstantChange +
		fp.NotarztModifier*c.notarzt +
		fp.NotSanModifier*c.notSan +
		fp.RettSanModifier*c.rettSan +
		fp.SanModifier*c.san
	health := p.Health + perSecond*float64(elapsed)/1000
	upd.NextHealthPoints = math.Max(0, math.Min(model.MaxHealth, health))
	upd.NextStateTime = p.StateTime + elapsed

	for _, cond := range state.NextStateConditions {
		if conditionMatches(cond, upd.NextStateTime, upd.NextHealthPoints, c.treated) {
			upd.NextHealthStateID = cond.MatchingHealthStateID
			upd.NextStateTime = 0
			break
		}
	}
	return upd
}

func conditionMatches(cond model.ConditionParameters, stateTime int64, health float64, treated bool) bool {
	if cond.EarliestTime != nil && stateTime < *cond.EarliestTime {
		return false
	}
	if cond.LatestTime != nil && stateTime > *cond.LatestTime {
		return false
	}
	if cond.MinimumHealth != nil && health < *cond.MinimumHealth {
		return false
	}
	if cond.MaximumHealth != nil && health > *cond.MaximumHealth {
		return false
	}
	if cond.IsBeingTreated != nil && *cond.IsBeingTreated != treated {
		return false
	}
	return true
}

// ApplyPatientUpdates stores precomputed health updates. visibleStatusChanged
// is set for exactly the patients whose visible status changed in this
// step, and treatments around them are recalculated. Updates for patients
// that are not live (omitted or removed meanwhile) are skipped.
func ApplyPatientUpdates(ctx *Context, updates []model.PatientUpdate) {
	cfg := ctx.State().Configuration
	for _, id := range model.SortedKeys(ctx.State().Patients) {
		if ctx.State().Patients[id].VisibleStatusChanged {
			ctx.Draft.MutPatient(id).VisibleStatusChanged = false
		}
	}
	var changed []model.UUID
	for _, upd := range updates {
		p := ctx.Draft.MutPatient(upd.ID)
		if p == nil {
			continue
		}
		before := model.VisibleStatus(p, cfg)
		p.CurrentHealthStateID = upd.NextHealthStateID
		p.Health = upd.NextHealthPoints
		p.StateTime = upd.NextStateTime
		p.TreatmentTime = upd.TreatmentTime
		p.RealStatus = model.StatusForHealth(p.Health)
		if model.VisibleStatus(p, cfg) != before {
			p.VisibleStatusChanged = true
			changed = append(changed, p.ID)
		}
	}
	for _, id := range changed {
		ctx.UpdateTreatments(id)
	}
}

package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

const (
	AddPatientType         = "[Patient] Add patient"
	MovePatientType        = "[Patient] Move patient"
	RemovePatientType      = "[Patient] Remove patient"
	SetPretriageStatusType = "[Patient] Set pretriage status"
)

type AddPatientAction struct {
	Patient *model.Patient `json:"patient"`
}

func (AddPatientAction) ActionType() string { return AddPatientType }

type MovePatientAction struct {
	PatientID      model.UUID           `json:"patientId"`
	TargetPosition model.MapCoordinates `json:"targetPosition"`
}

func (MovePatientAction) ActionType() string { return MovePatientType }

type RemovePatientAction struct {
	PatientID model.UUID `json:"patientId"`
}

func (RemovePatientAction) ActionType() string { return RemovePatientType }

type SetPretriageStatusAction struct {
	PatientID model.UUID          `json:"patientId"`
	Status    model.PatientStatus `json:"patientStatus"`
}

func (SetPretriageStatusAction) ActionType() string { return SetPretriageStatusType }

func registerPatients(r *Registry) {
	register(r, "addPatient", model.RoleTrainer, reduceAddPatient)
	register(r, "movePatient", model.RoleParticipant, reduceMovePatient)
	register(r, "removePatient", model.RoleTrainer, reduceRemovePatient)
	register(r, "setPretriageStatus", model.RoleParticipant, reduceSetPretriageStatus)
}

func reduceAddPatient(ctx *simulation.Context, a AddPatientAction) error {
	s := ctx.State()
	p := a.Patient.Clone()
	if err := requireFreshID(s, model.ElementPatient, p.ID); err != nil {
		return err
	}
	if p.HealthStates[p.CurrentHealthStateID] == nil {
		return &ReducerError{Message: "patient " + p.ID + " has no health state " + p.CurrentHealthStateID}
	}
	if err := requirePlaceable(s, p.Position); err != nil {
		return err
	}
	if p.TimeSpeed <= 0 {
		p.TimeSpeed = 1
	}
	p.RealStatus = model.StatusForHealth(p.Health)
	p.VisibleStatusChanged = false
	ctx.Draft.PutPatient(p)
	if p.Position.IsInSimulatedRegion() {
		simulation.ElementEntered(ctx, model.ElementPatient, p.ID, p.Position.SimulatedRegionID)
		return nil
	}
	ctx.UpdateTreatments(p.ID)
	return nil
}

func reduceMovePatient(ctx *simulation.Context, a MovePatientAction) error {
	p, err := getPatient(ctx.State(), a.PatientID)
	if err != nil {
		return err
	}
	if !p.Position.IsOnMap() {
		return fail("patient %s is not on the map", a.PatientID)
	}
	ctx.Draft.MutPatient(a.PatientID).Position = model.MapPosition(a.TargetPosition)
	ctx.UpdateTreatments(a.PatientID)
	return nil
}

func reduceRemovePatient(ctx *simulation.Context, a RemovePatientAction) error {
	if _, err := getPatient(ctx.State(), a.PatientID); err != nil {
		return err
	}
	simulation.RemovePatient(ctx, a.PatientID)
	return nil
}

func reduceSetPretriageStatus(ctx *simulation.Context, a SetPretriageStatusAction) error {
	p, err := getPatient(ctx.State(), a.PatientID)
	if err != nil {
		return err
	}
	cfg := ctx.State().Configuration
	before := model.VisibleStatus(p, cfg)
	mp := ctx.Draft.MutPatient(a.PatientID)
	mp.PretriageStatus = a.Status
	if model.VisibleStatus(mp, cfg) == before {
		return nil
	}
	if mp.Position.IsInSimulatedRegion() {
		simulation.AssignTreatmentsInRegion(ctx, mp.Position.SimulatedRegionID)
		return nil
	}
	ctx.UpdateTreatments(a.PatientID)
	return nil
}

package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

const (
	AddHospitalType                 = "[Hospital] Add hospital"
	TransportPatientsToHospitalType = "[Hospital] Transport patients to hospital"
)

type AddHospitalAction struct {
	Hospital *model.Hospital `json:"hospital"`
}

func (AddHospitalAction) ActionType() string { return AddHospitalType }

type TransportPatientsToHospitalAction struct {
	VehicleID  model.UUID `json:"vehicleId"`
	HospitalID model.UUID `json:"hospitalId"`
}

func (TransportPatientsToHospitalAction) ActionType() string { return TransportPatientsToHospitalType }

func registerHospitals(r *Registry) {
	register(r, "addHospital", model.RoleTrainer, reduceAddHospital)
	register(r, "transportPatientsToHospital", model.RoleParticipant, reduceTransportPatientsToHospital)
}

func reduceAddHospital(ctx *simulation.Context, a AddHospitalAction) error {
	h := a.Hospital.Clone()
	if err := requireFreshID(ctx.State(), model.ElementHospital, h.ID); err != nil {
		return err
	}
	ctx.Draft.PutHospital(h)
	return nil
}

func reduceTransportPatientsToHospital(ctx *simulation.Context, a TransportPatientsToHospitalAction) error {
	v, err := getVehicle(ctx.State(), a.VehicleID)
	if err != nil {
		return err
	}
	if _, err := getHospital(ctx.State(), a.HospitalID); err != nil {
		return err
	}
	if len(v.PatientIDs) == 0 {
		return fail("vehicle %s carries no patients", a.VehicleID)
	}
	return simulation.TransportToHospital(ctx, a.VehicleID, a.HospitalID)
}

package reducer_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
	"manvsim.ai/internal/sim/simtest"
	"manvsim.ai/internal/sim/simulation"
	"manvsim.ai/internal/sim/standin"
)

func TestRegistryKnowsEveryAction(t *testing.T) {
	r := reducer.Default()
	require.Equal(t, 43, r.Types())

	role, ok := r.Role(reducer.TickType)
	require.True(t, ok)
	assert.Equal(t, model.RoleServer, role)

	role, ok = r.Role(reducer.LoadVehicleType)
	require.True(t, ok)
	assert.Equal(t, model.RoleParticipant, role)

	_, ok = r.Role("[Nope] Unknown")
	assert.False(t, ok)
}

func TestEncodeCarriesType(t *testing.T) {
	raw, err := reducer.Encode(reducer.RemovePatientAction{PatientID: "p1"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, reducer.RemovePatientType, fields["type"])
	assert.Equal(t, "p1", fields["patientId"])
}

func TestDecodeRejectsMalformedActions(t *testing.T) {
	r := reducer.Default()
	cases := map[string]string{
		"no type":      `{"patientId":"p1"}`,
		"unknown type": `{"type":"[Nope] Unknown"}`,
		"missing id":   `{"type":"[Patient] Remove patient"}`,
		"wrong type":   `{"type":"[Exercise] Tick","tickInterval":"soon"}`,
		"bad enum":     `{"type":"[Patient] Set pretriage status","patientId":"p1","patientStatus":"purple"}`,
		"negative":     `{"type":"[Exercise] Tick","tickInterval":-1}`,
		"null payload": `{"type":"[Patient] Add patient","patient":null}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Decode([]byte(raw))
			var ve *reducer.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

func TestDecodeTypedAction(t *testing.T) {
	a, err := reducer.Default().Decode([]byte(`{"type":"[Exercise] Tick","tickInterval":1000,"refreshTreatments":true}`))
	require.NoError(t, err)
	tick, ok := a.(reducer.TickAction)
	require.True(t, ok)
	assert.Equal(t, int64(1000), tick.TickInterval)
	assert.True(t, tick.RefreshTreatments)
}

func TestDecodeIntegerFields(t *testing.T) {
	r := reducer.Default()
	a, err := r.Decode([]byte(`{"type":"[Exercise] Tick","tickInterval":9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), a.(reducer.TickAction).TickInterval)

	_, err = r.Decode([]byte(`{"type":"[Exercise] Tick","tickInterval":1000.5}`))
	var ve *reducer.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
}

func TestAuthorization(t *testing.T) {
	r := reducer.Default()
	s := simtest.State()
	s.CurrentStatus = model.StatusNotStarted

	_, err := r.Apply(s, reducer.StartExerciseAction{}, model.RoleParticipant)
	var ae *reducer.AuthorizationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, model.RoleTrainer, ae.Required)

	next, err := r.Apply(s, reducer.StartExerciseAction{}, model.RoleTrainer)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, next.CurrentStatus)
	assert.Equal(t, model.StatusNotStarted, s.CurrentStatus)

	_, err = r.Apply(s, reducer.TickAction{TickInterval: 1000}, model.RoleTrainer)
	require.True(t, errors.As(err, &ae))
}

func TestFailedActionReturnsInputState(t *testing.T) {
	r := reducer.Default()
	s := simtest.State()

	next, err := r.Apply(s, reducer.PauseExerciseAction{}, model.RoleTrainer)
	require.NoError(t, err)

	again, err := r.Apply(next, reducer.PauseExerciseAction{}, model.RoleTrainer)
	var re *reducer.ReducerError
	require.True(t, errors.As(err, &re))
	assert.True(t, re.Expected)
	assert.Same(t, next, again)
}

func TestPatientIDOfHospitalPatientIsTaken(t *testing.T) {
	s := simtest.State()
	simtest.Hospital(s, "h1", 60000)
	s.HospitalPatients["p1"] = &model.HospitalPatient{PatientID: "p1", HospitalID: "h1", Patient: simtest.Patient("p1", 50000, 0, simtest.At(0, 0))}

	_, err := reducer.Default().Apply(s, reducer.AddPatientAction{Patient: simtest.Patient("p1", 90000, 0, simtest.At(1, 1))}, model.RoleTrainer)
	var re *reducer.ReducerError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Contains(t, re.Message, "already in use")
	assert.Equal(t, 50000.0, s.HospitalPatients["p1"].Patient.Health)
}

func TestMissingElementIsUnexpected(t *testing.T) {
	_, err := reducer.Default().Apply(simtest.State(), reducer.RemovePatientAction{PatientID: "ghost"}, model.RoleTrainer)
	var re *reducer.ReducerError
	require.True(t, errors.As(err, &re))
	assert.False(t, re.Expected)
	_, retry := reducer.Retryable(err)
	assert.False(t, retry)
}

func TestOmittedPatientIsRetryable(t *testing.T) {
	s := simtest.State()
	simtest.AddRegion(s, simtest.Region("r1"))
	simtest.AddPatient(s, simtest.Patient("p1", 80000, 0, model.RegionPosition("r1")))

	omitted, err := standin.Omit(s, "r1")
	require.NoError(t, err)

	_, err = reducer.Default().Apply(omitted, reducer.SetPretriageStatusAction{PatientID: "p1", Status: model.StatusRed}, model.RoleParticipant)
	var eo *reducer.ElementOmittedError
	require.True(t, errors.As(err, &eo), "got %v", err)
	assert.Equal(t, model.UUID("r1"), eo.StandIn)

	regionID, retry := reducer.Retryable(err)
	assert.True(t, retry)
	assert.Equal(t, model.UUID("r1"), regionID)
}

func TestStandInRegionIsMissing(t *testing.T) {
	s := simtest.State()
	simtest.AddRegion(s, simtest.Region("r1"))
	omitted, err := standin.Omit(s, "r1")
	require.NoError(t, err)

	for _, a := range []reducer.Action{
		reducer.RenameSimulatedRegionAction{SimulatedRegionID: "r1", Name: "Triage"},
		reducer.MoveSimulatedRegionAction{SimulatedRegionID: "r1", TargetPosition: model.MapCoordinates{X: 5, Y: 5}},
	} {
		_, err = reducer.Default().Apply(omitted, a, model.RoleTrainer)
		var rm *reducer.SimulatedRegionMissingError
		require.True(t, errors.As(err, &rm), "%s: got %v", a.ActionType(), err)
		assert.Equal(t, model.UUID("r1"), rm.RegionID)
	}
}

func TestAddVehicleRequiresMatchingCrew(t *testing.T) {
	r := reducer.Default()
	v := simtest.RTW("v1", simtest.At(0, 0))

	_, err := r.Apply(simtest.State(), reducer.AddVehicleAction{
		Vehicle:   v.Vehicle,
		Personnel: v.Personnel[:1],
		Materials: v.Materials,
	}, model.RoleTrainer)
	var re *reducer.ReducerError
	require.True(t, errors.As(err, &re))

	next, err := r.Apply(simtest.State(), reducer.AddVehicleAction{
		Vehicle:   v.Vehicle,
		Personnel: v.Personnel,
		Materials: v.Materials,
	}, model.RoleTrainer)
	require.NoError(t, err)
	require.Contains(t, next.Vehicles, "v1")
	assert.Len(t, next.Personnel, 2)
	assert.Equal(t, "RTW v1", next.Personnel["v1-notsan"].VehicleName)

	_, err = r.Apply(next, reducer.AddVehicleAction{
		Vehicle:   v.Vehicle,
		Personnel: v.Personnel,
		Materials: v.Materials,
	}, model.RoleTrainer)
	require.True(t, errors.As(err, &re))
}

func TestLoadVehicleWhenFull(t *testing.T) {
	r := reducer.Default()
	s := simtest.State()
	simtest.AddVehicle(s, simtest.RTW("v1", simtest.At(0, 0)))
	simtest.AddPatient(s, simtest.Patient("p1", 80000, 0, simtest.At(1, 1)))
	simtest.AddPatient(s, simtest.Patient("p2", 80000, 0, simtest.At(2, 2)))

	next, err := r.Apply(s, reducer.LoadVehicleAction{
		VehicleID:             "v1",
		ElementToBeLoadedType: model.ElementPatient,
		ElementToBeLoadedID:   "p1",
	}, model.RoleParticipant)
	require.NoError(t, err)
	assert.True(t, next.Patients["p1"].Position.InVehicle("v1"))
	assert.True(t, next.Vehicles["v1"].PatientIDs.Has("p1"))

	_, err = r.Apply(next, reducer.LoadVehicleAction{
		VehicleID:             "v1",
		ElementToBeLoadedType: model.ElementPatient,
		ElementToBeLoadedID:   "p2",
	}, model.RoleParticipant)
	var re *reducer.ReducerError
	require.True(t, errors.As(err, &re))
	assert.True(t, re.Expected)
	assert.Contains(t, re.Message, "already full")
}

func TestUnloadVehicleInRegion(t *testing.T) {
	r := reducer.Default()
	s := simtest.State()
	simtest.AddRegion(s, simtest.Region("r1"))
	simtest.AddVehicle(s, simtest.RTW("v1", model.RegionPosition("r1")))

	next, err := r.Apply(s, reducer.UnloadVehicleAction{VehicleID: "v1"}, model.RoleParticipant)
	require.NoError(t, err)

	for _, id := range []model.UUID{"v1-notsan", "v1-rettsan"} {
		assert.True(t, next.Personnel[id].Position.InRegion("r1"), id)
	}
	assert.True(t, next.Materials["v1-material"].Position.InRegion("r1"))

	region, ok := next.SimulatedRegions["r1"].(*model.SimulatedRegion)
	require.True(t, ok)
	var types []model.EventType
	for _, e := range region.InEvents {
		types = append(types, e.Type)
	}
	assert.Equal(t, []model.EventType{
		model.PersonnelAvailableEventType,
		model.PersonnelAvailableEventType,
		model.MaterialAvailableEventType,
	}, types)

	// the original state still has everything in the vehicle
	assert.True(t, s.Personnel["v1-notsan"].Position.InVehicle("v1"))
}

func TestWithTreatmentsHook(t *testing.T) {
	var calls []model.UUID
	r := reducer.New(reducer.WithTreatments(func(_ *simulation.Context, id model.UUID) {
		calls = append(calls, id)
	}))
	s := simtest.State()
	simtest.AddPatient(s, simtest.Patient("p1", 80000, 0, simtest.At(0, 0)))

	_, err := r.Apply(s, reducer.MovePatientAction{PatientID: "p1", TargetPosition: model.MapCoordinates{X: 4, Y: 4}}, model.RoleParticipant)
	require.NoError(t, err)
	assert.Equal(t, []model.UUID{"p1"}, calls)
}

func TestReplayIsDeterministic(t *testing.T) {
	r := reducer.Default()
	v := simtest.RTW("v1", simtest.At(0, 0))
	patient := simtest.Patient("p1", 60000, -100, simtest.At(1, 0))
	actions := []reducer.Action{
		reducer.AddVehicleAction{Vehicle: v.Vehicle, Personnel: v.Personnel, Materials: v.Materials},
		reducer.AddPatientAction{Patient: patient},
		reducer.UnloadVehicleAction{VehicleID: "v1"},
		reducer.TickAction{TickInterval: 1000},
		reducer.TickAction{TickInterval: 1000, RefreshTreatments: true},
		reducer.MovePatientAction{PatientID: "p1", TargetPosition: model.MapCoordinates{X: 30, Y: 30}},
		reducer.TickAction{TickInterval: 1000},
	}

	a, err := r.Replay(simtest.State(), actions)
	require.NoError(t, err)
	b, err := r.Replay(simtest.State(), actions)
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(ja), string(jb))
	assert.Equal(t, int64(3000), a.CurrentTime)
	assert.InDelta(t, 59700, a.Patients["p1"].Health, 0.001)
}

func TestApplyRawReturnsDecodedAction(t *testing.T) {
	s := simtest.State()
	next, a, err := reducer.Default().ApplyRaw(s, []byte(`{"type":"[Exercise] Tick","tickInterval":500}`), model.RoleServer)
	require.NoError(t, err)
	assert.Equal(t, reducer.TickType, a.ActionType())
	assert.Equal(t, int64(500), next.CurrentTime)
}

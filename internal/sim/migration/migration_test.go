package migration_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manvsim.ai/internal/sim/migration"
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
	"manvsim.ai/internal/sim/simtest"
)

const v1History = `{
  "type": "complete",
  "fileVersion": 1,
  "dataVersion": 1,
  "currentState": {},
  "history": {
    "initialState": {"participantId": "123456", "currentStatus": "running", "personell": {}, "vehicles": {}, "patients": {}},
    "actionHistory": [
      {
        "type": "[Vehicle] Add vehicle",
        "vehicle": {
          "id": "v1", "vehicleType": "RTW", "name": "RTW 1", "patientCapacity": 1,
          "patientIds": {}, "personellIds": {"v1-notsan": true}, "materialId": "v1-material",
          "position": {"x": 1, "y": 2}
        },
        "personell": [{
          "id": "v1-notsan", "personellType": "notSan", "vehicleId": "v1", "vehicleName": "RTW 1",
          "canCaterFor": {"red": 1, "yellow": 0, "green": 0}, "treatmentRange": 2.5, "assignedPatientIds": {}
        }],
        "material": {
          "id": "v1-material", "vehicleId": "v1", "vehicleName": "RTW 1",
          "canCaterFor": {"red": 2, "yellow": 0, "green": 0}, "treatmentRange": 5.5, "assignedPatientIds": {}
        }
      },
      {"type": "[Exercise] Set Participant Id", "participantId": "654321"},
      {"type": "[Exercise] Tick", "tickInterval": 1000},
      {"type": "[Vehicle] Move vehicle", "vehicleId": "v1", "targetPosition": {"x": 5, "y": 5}}
    ]
  }
}`

func TestMigrateHistoryFromVersionOne(t *testing.T) {
	out, err := migration.MigrateStateExport([]byte(v1History))
	require.NoError(t, err)
	assert.Equal(t, migration.CurrentDataVersion, out.DataVersion)
	require.NotNil(t, out.History)
	require.Len(t, out.History.ActionHistory, 3)

	var tick map[string]any
	require.NoError(t, json.Unmarshal(out.History.ActionHistory[1], &tick))
	assert.Equal(t, false, tick["refreshTreatments"])

	s := out.CurrentState
	assert.Equal(t, int64(1000), s.CurrentTime)
	assert.Equal(t, "123456", s.ParticipantID)

	v := s.Vehicles["v1"]
	require.NotNil(t, v)
	c, ok := v.Position.Coords()
	require.True(t, ok)
	assert.Equal(t, model.MapCoordinates{X: 5, Y: 5}, c)
	assert.True(t, v.MaterialIDs.Has("v1-material"))
	assert.True(t, v.PersonnelIDs.Has("v1-notsan"))

	require.Contains(t, s.Personnel, "v1-notsan")
	assert.Equal(t, model.PersonnelNotSan, s.Personnel["v1-notsan"].PersonnelType)
	assert.True(t, s.Personnel["v1-notsan"].Position.InVehicle("v1"))
	assert.True(t, s.Materials["v1-material"].Position.InVehicle("v1"))
}

func TestMigrateCurrentStateWithoutHistory(t *testing.T) {
	raw := `{
	  "type": "complete", "fileVersion": 1, "dataVersion": 2,
	  "currentState": {
	    "participantId": "123456",
	    "patients": {"p1": {"id": "p1", "healthStates": {}, "health": 50000}},
	    "vehicles": {"v1": {"id": "v1", "vehicleType": "RTW", "patientIds": {"p1": true}, "personnelIds": {}, "materialId": "m1", "position": {"x": 0, "y": 0}}},
	    "transferPoints": {"tp": {"id": "tp", "position": {"x": 3, "y": 4}}},
	    "hospitals": {"h1": {"id": "h1", "transportDuration": 60000}},
	    "hospitalPatients": {"p9": {"patientId": "p9", "hospitalId": "h1"}}
	  }
	}`
	out, err := migration.MigrateStateExport([]byte(raw))
	require.NoError(t, err)
	assert.Nil(t, out.History)

	s := out.CurrentState
	assert.True(t, s.Patients["p1"].Position.InVehicle("v1"))
	assert.Equal(t, int64(0), s.Patients["p1"].TreatmentTime)
	assert.True(t, s.TransferPoints["tp"].Position.IsOnMap())
	assert.True(t, s.Vehicles["v1"].MaterialIDs.Has("m1"))
	assert.True(t, s.Hospitals["h1"].PatientIDs.Has("p9"))
}

func TestMigrateReplaysCurrentHistory(t *testing.T) {
	reg := reducer.Default()
	initial := simtest.State()
	v := simtest.RTW("v1", simtest.At(0, 0))
	actions := []reducer.Action{
		reducer.AddVehicleAction{Vehicle: v.Vehicle, Personnel: v.Personnel, Materials: v.Materials},
		reducer.AddPatientAction{Patient: simtest.Patient("p1", 40000, -50, simtest.At(1, 0))},
		reducer.TickAction{TickInterval: 1000, RefreshTreatments: true},
		reducer.UnloadVehicleAction{VehicleID: "v1"},
		reducer.TickAction{TickInterval: 1000},
	}
	current, err := reg.Replay(initial, actions)
	require.NoError(t, err)

	raws := make([]json.RawMessage, 0, len(actions))
	for _, a := range actions {
		b, err := reducer.Encode(a)
		require.NoError(t, err)
		raws = append(raws, b)
	}
	file, err := json.Marshal(migration.NewStateExport(current, initial, raws))
	require.NoError(t, err)

	out, err := migration.MigrateStateExport(file)
	require.NoError(t, err)
	want, err := json.Marshal(current)
	require.NoError(t, err)
	got, err := json.Marshal(out.CurrentState)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
	assert.Len(t, out.History.ActionHistory, len(actions))
}

func TestMigrateRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"future version": `{"type":"complete","fileVersion":1,"dataVersion":9,"currentState":{}}`,
		"zero version":   `{"type":"complete","fileVersion":1,"dataVersion":0,"currentState":{}}`,
		"wrong type":     `{"type":"partial","fileVersion":1,"dataVersion":5}`,
		"no state":       `{"type":"complete","fileVersion":1,"dataVersion":5}`,
		"not json":       `{"type":`,
		"bad action":     `{"type":"complete","fileVersion":1,"dataVersion":5,"history":{"initialState":{},"actionHistory":[{"type":"[Nope] Unknown"}]}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := migration.MigrateStateExport([]byte(raw))
			var me *migration.MigrationError
			require.True(t, errors.As(err, &me), "got %v", err)
		})
	}

	_, err := migration.MigrateStateExport([]byte(`{"type":"complete","fileVersion":1,"dataVersion":9,"currentState":{}}`))
	assert.True(t, errors.Is(err, migration.ErrUnsupportedVersion))
}

func TestMigratePartialExport(t *testing.T) {
	raw := `{
	  "type": "partial", "fileVersion": 1, "dataVersion": 1,
	  "vehicleTemplates": [
	    {"id": "t1", "vehicleType": "RTW", "name": "RTW", "patientCapacity": 1, "personell": ["notSan", "rettSan"], "material": "standard"}
	  ]
	}`
	out, err := migration.MigratePartialExport([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, migration.CurrentDataVersion, out.DataVersion)
	assert.Nil(t, out.PatientCategories)
	assert.Nil(t, out.MapImageTemplates)
	require.Len(t, out.VehicleTemplates, 1)
	tmpl := out.VehicleTemplates[0]
	assert.Equal(t, []model.PersonnelType{model.PersonnelNotSan, model.PersonnelRettSan}, tmpl.Personnel)
	assert.Equal(t, []string{"standard"}, tmpl.Materials)

	_, err = migration.MigratePartialExport([]byte(`{"type":"complete","dataVersion":5}`))
	var me *migration.MigrationError
	assert.True(t, errors.As(err, &me))
}

func TestApplyMigrationsDropsNulledActions(t *testing.T) {
	p := &migration.Properties{History: &migration.History{
		InitialState: map[string]any{},
		Actions: []any{
			map[string]any{"type": "[Exercise] Set Participant Id"},
			nil,
			map[string]any{"type": "[Exercise] Tick", "tickInterval": 1000.0},
		},
	}}
	v, err := migration.ApplyMigrations(3, p)
	require.NoError(t, err)
	assert.Equal(t, migration.CurrentDataVersion, v)
	assert.Nil(t, p.History.Actions[0])
	assert.Equal(t, false, p.History.Actions[2].(map[string]any)["refreshTreatments"])
}

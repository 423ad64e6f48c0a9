package simulation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simtest"
)

func TestUnloadArrivingVehicleAfterDelay(t *testing.T) {
	s := simtest.State()
	r := simtest.Region("r1")
	r.Behaviors = []*model.BehaviorState{
		{ID: "unload", Type: model.UnloadArrivingVehiclesBehavior, UnloadDelay: 3000},
		{ID: "treat", Type: model.TreatPatientsBehavior, RecalculateDelay: 1000},
	}
	tp := simtest.AddRegion(s, r)
	v := simtest.RTW("v1", model.TransferPosition(model.Transfer{StartTransferPointID: "elsewhere", TargetTransferPointID: tp.ID, EndTimeStamp: 1000}))
	v.Vehicle.PatientIDs.Add("p1")
	simtest.AddVehicle(s, v)
	simtest.AddPatient(s, simtest.Patient("p1", 20000, 0, model.VehiclePosition("v1")))

	s = tick(s, 1000, nil)
	require.True(t, s.Vehicles["v1"].Position.InRegion("r1"))
	require.Equal(t, model.UnloadingOccupation, s.Vehicles["v1"].Occupation.Type)
	require.True(t, s.Patients["p1"].Position.InVehicle("v1"))

	for i := 0; i < 3; i++ {
		s = tick(s, 1000, nil)
	}
	require.True(t, s.Patients["p1"].Position.InRegion("r1"))
	require.True(t, s.Personnel["v1-notsan"].Position.InRegion("r1"))
	require.True(t, s.Materials["v1-material"].Position.InRegion("r1"))
	require.Empty(t, s.Vehicles["v1"].PatientIDs)
	require.Equal(t, model.NoOccupation, s.Vehicles["v1"].Occupation.Type)

	// New patient event starts the timer, the timer event assigns treatments.
	for i := 0; i < 3; i++ {
		s = tick(s, 1000, nil)
	}
	assigned := 0
	for _, id := range []model.UUID{"v1-notsan", "v1-rettsan"} {
		if s.Personnel[id].AssignedPatientIDs.Has("p1") {
			assigned++
		}
	}
	require.Equal(t, 1, assigned)
	require.True(t, s.Materials["v1-material"].AssignedPatientIDs.Has("p1"))
}

func TestFailedUnloadKeepsOccupation(t *testing.T) {
	s := simtest.State()
	moving := simtest.RTW("v1", model.TransferPosition(model.Transfer{StartTransferPointID: "a", TargetTransferPointID: "b", EndTimeStamp: 1000}))
	moving.Vehicle.Occupation = model.Occupation{Type: model.UnloadingOccupation, ActivityID: "act1"}
	simtest.AddVehicle(s, moving)
	parked := simtest.RTW("v2", simtest.At(0, 0))
	parked.Vehicle.Occupation = model.Occupation{Type: model.UnloadingOccupation, ActivityID: "act2"}
	simtest.AddVehicle(s, parked)

	ctx := &Context{Draft: model.NewDraft(s), Updates: model.NewTickUpdates()}
	require.False(t, finishUnload(ctx, "v1", "act1"))
	require.Equal(t, model.UnloadingOccupation, ctx.State().Vehicles["v1"].Occupation.Type)

	require.True(t, finishUnload(ctx, "v2", "act2"))
	require.Equal(t, model.NoOccupation, ctx.State().Vehicles["v2"].Occupation.Type)
	require.True(t, ctx.State().Personnel["v2-notsan"].Position.IsOnMap())
}

func TestRequestAndProvideVehiclesBetweenRegions(t *testing.T) {
	s := simtest.State()
	needy := simtest.Region("needy")
	needy.Behaviors = []*model.BehaviorState{{
		ID:              "request",
		Type:            model.RequestVehiclesBehavior,
		DesiredVehicles: map[string]int{"RTW": 1},
		RequestTarget:   &model.RequestTarget{Type: model.RequestTargetRegion, SimulatedRegionID: "pool"},
		RequestInterval: 60000,
	}}
	pool := simtest.Region("pool")
	pool.Behaviors = []*model.BehaviorState{{ID: "provide", Type: model.ProvideVehiclesBehavior}}
	needyTP := simtest.AddRegion(s, needy)
	poolTP := simtest.AddRegion(s, pool)
	simtest.Connect(s, needyTP.ID, poolTP.ID, 5000)
	simtest.AddVehicle(s, simtest.RTW("v1", model.RegionPosition("pool")))

	// Request goes out in the first tick; "needy" sorts before "pool" so the
	// provider sees it in the same step.
	ctx := &Context{Draft: model.NewDraft(s), Updates: model.NewTickUpdates()}
	Tick(ctx, TickInput{Interval: 1000})
	s = ctx.Draft.Commit()

	v := s.Vehicles["v1"]
	require.True(t, v.Position.IsInTransfer())
	require.Equal(t, needyTP.ID, v.Position.Transfer.TargetTransferPointID)
	require.Equal(t, int64(6000), v.Position.Transfer.EndTimeStamp)
	require.Contains(t, ctx.Updates.Transfers, model.UUID("v1"))

	got := s.SimulatedRegions["needy"].(*model.SimulatedRegion)
	require.Len(t, got.InEvents, 1)
	require.Equal(t, model.VehiclesSentEventType, got.InEvents[0].Type)
	require.Equal(t, map[string]int{"RTW": 1}, got.InEvents[0].Resource)

	for i := 0; i < 5; i++ {
		s = tick(s, 1000, nil)
	}
	require.True(t, s.Vehicles["v1"].Position.InRegion("needy"))
	require.True(t, s.Personnel["v1-notsan"].Position.InVehicle("v1"))
	require.Empty(t, s.SimulatedRegions["needy"].(*model.SimulatedRegion).Behaviors[0].PendingKey)
}

func TestRequestVehiclesFromTraineesManagesRadiogram(t *testing.T) {
	s := simtest.State()
	r := simtest.Region("r1")
	r.Behaviors = []*model.BehaviorState{{
		ID:              "request",
		Type:            model.RequestVehiclesBehavior,
		DesiredVehicles: map[string]int{"RTW": 2},
		RequestTarget:   &model.RequestTarget{Type: model.RequestTargetTrainees},
		RequestInterval: 1000,
	}}
	simtest.AddRegion(s, r)

	ctx := &Context{Draft: model.NewDraft(s), Updates: model.NewTickUpdates()}
	Tick(ctx, TickInput{Interval: 1000})
	s = ctx.Draft.Commit()
	require.Len(t, s.Radiograms, 1)
	var rg *model.Radiogram
	for _, x := range s.Radiograms {
		rg = x
	}
	require.Equal(t, map[string]int{"RTW": 2}, rg.RequiredResource)
	require.Equal(t, model.RadiogramAdded, ctx.Updates.Radiograms[rg.ID].Kind)

	simtest.AddVehicle(s, simtest.RTW("v1", model.RegionPosition("r1")))
	s = tick(s, 1000, nil)
	require.Equal(t, map[string]int{"RTW": 1}, s.Radiograms[rg.ID].RequiredResource)

	simtest.AddVehicle(s, simtest.RTW("v2", model.RegionPosition("r1")))
	ctx = &Context{Draft: model.NewDraft(s), Updates: model.NewTickUpdates()}
	Tick(ctx, TickInput{Interval: 1000})
	s = ctx.Draft.Commit()
	require.Empty(t, s.Radiograms)
	require.Equal(t, model.RadiogramDeleted, ctx.Updates.Radiograms[rg.ID].Kind)
}

func TestProvideVehiclesWithoutConnectionEmitsMissingEvent(t *testing.T) {
	seen := map[model.UUID][]model.EventType{}
	withRecorder(t, seen)

	s := simtest.State()
	pool := simtest.Region("pool")
	pool.Behaviors = []*model.BehaviorState{{ID: "provide", Type: model.ProvideVehiclesBehavior}, {ID: "rec", Type: recorderBehavior}}
	pool.InEvents = []model.Event{{Type: model.ResourceRequiredEventType, RequiringRegionID: "needy", Resource: map[string]int{"RTW": 1}, Key: "k"}}
	simtest.AddRegion(s, pool)
	simtest.AddRegion(s, simtest.Region("needy"))
	simtest.AddVehicle(s, simtest.RTW("v1", model.RegionPosition("pool")))

	s = tick(s, 1000, nil)
	s = tick(s, 1000, nil)
	require.True(t, s.Vehicles["v1"].Position.InRegion("pool"))
	require.Contains(t, seen["rec"], model.TransferConnectionMissingEventType)
}

func TestTransferToHospitalRemovesVehicleAndRecordsPatients(t *testing.T) {
	s := simtest.State()
	r := simtest.Region("r1")
	r.Behaviors = []*model.BehaviorState{{ID: "hosp", Type: model.TransferToHospitalBehavior, HospitalID: "h1", CheckInterval: 5000}}
	simtest.AddRegion(s, r)
	simtest.Hospital(s, "h1", 600000)
	v := simtest.RTW("v1", model.RegionPosition("r1"))
	v.Vehicle.PatientIDs.Add("p1")
	simtest.AddVehicle(s, v)
	simtest.AddPatient(s, simtest.Patient("p1", 20000, 0, model.VehiclePosition("v1")))

	ctx := &Context{Draft: model.NewDraft(s), Updates: model.NewTickUpdates()}
	Tick(ctx, TickInput{Interval: 1000})
	s = ctx.Draft.Commit()

	require.Nil(t, s.Vehicles["v1"])
	require.Nil(t, s.Patients["p1"])
	require.Nil(t, s.Personnel["v1-notsan"])
	hp := s.HospitalPatients["p1"]
	require.NotNil(t, hp)
	require.Equal(t, int64(1000+600000), hp.ArrivalTime)
	require.True(t, s.Hospitals["h1"].PatientIDs.Has("p1"))
	require.Contains(t, ctx.Updates.Hospitals, model.UUID("v1"))
}

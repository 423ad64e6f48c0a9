package replica

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
	"manvsim.ai/internal/sim/simtest"
	"manvsim.ai/internal/sim/standin"
)

type fetcher struct {
	source *model.ExerciseState
	seq    uint64
	before func()
	calls  int
}

func (f *fetcher) GetPartialState(_ context.Context, regionID model.UUID) (*standin.AssociatedElements, uint64, error) {
	f.calls++
	if f.before != nil {
		f.before()
	}
	closure, err := standin.ExtractAssociatedElements(f.source, regionID)
	return closure, f.seq, err
}

func serverState() *model.ExerciseState {
	s := simtest.State()
	simtest.AddRegion(s, simtest.Region("r1"))
	simtest.AddPatient(s, simtest.Patient("p1", 80000, 0, model.RegionPosition("r1")))
	simtest.AddPatient(s, simtest.Patient("p2", 80000, 0, simtest.At(1, 1)))
	return s
}

func pretriage(patientID string, status model.PatientStatus) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"type":          reducer.SetPretriageStatusType,
		"patientId":     patientID,
		"patientStatus": status,
	})
	return b
}

func TestProposeReconcileAndReject(t *testing.T) {
	ctx := context.Background()
	server := serverState()
	r := New(nil, model.RoleParticipant, "me", &fetcher{source: server}, nil)
	r.Reset(server, 0)

	canonical, err := r.Propose(ctx, "a", pretriage("p2", model.StatusRed))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pending())
	assert.Equal(t, model.StatusRed, r.State().Patients["p2"].PretriageStatus)
	assert.NotEqual(t, model.StatusRed, r.Confirmed().Patients["p2"].PretriageStatus)

	require.NoError(t, r.Reconcile(Broadcast{Seq: 1, ClientID: "me", Action: canonical}))
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, model.StatusRed, r.Confirmed().Patients["p2"].PretriageStatus)

	_, err = r.Propose(ctx, "b", pretriage("p2", model.StatusYellow))
	require.NoError(t, err)
	assert.Equal(t, model.StatusYellow, r.State().Patients["p2"].PretriageStatus)
	r.Reject("b")
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, model.StatusRed, r.State().Patients["p2"].PretriageStatus)

	_, err = r.Propose(ctx, "c", json.RawMessage(`{"type":"[Exercise] Start"}`))
	var ae *reducer.AuthorizationError
	assert.True(t, errors.As(err, &ae))
	assert.Equal(t, 0, r.Pending())
}

func TestReconcileErrorPolicy(t *testing.T) {
	server := serverState()
	r := New(nil, model.RoleTrainer, "me", nil, nil)
	r.Reset(server, 0)
	require.NoError(t, r.Omit("r1"))
	require.NoError(t, r.Omit("r1"))
	assert.Equal(t, []model.UUID{"r1"}, r.StandIns())
	assert.Empty(t, r.FullRegions())

	// omitted patient: skipped
	require.NoError(t, r.Reconcile(Broadcast{Seq: 1, Action: pretriage("p1", model.StatusRed)}))
	assert.NotContains(t, r.Confirmed().Patients, "p1")

	// unknown patient: skipped
	require.NoError(t, r.Reconcile(Broadcast{Seq: 2, Action: pretriage("nobody", model.StatusRed)}))
	assert.Equal(t, uint64(2), r.Seq())

	err := r.Reconcile(Broadcast{Seq: 3, Action: json.RawMessage(`{"type":"[SimulatedRegion] Remove Behavior","simulatedRegionId":"r1","behaviorId":"b1"}`)})
	var rm *reducer.SimulatedRegionMissingError
	require.True(t, errors.As(err, &rm))
	assert.Equal(t, "r1", rm.RegionID)
}

func TestProposeMaterializesOmittedRegion(t *testing.T) {
	server := serverState()
	f := &fetcher{source: server}
	r := New(nil, model.RoleParticipant, "me", f, nil)
	r.Reset(server, 0)
	require.NoError(t, r.Omit("r1"))

	_, err := r.Propose(context.Background(), "a", pretriage("p1", model.StatusRed))
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, []model.UUID{"r1"}, r.FullRegions())
	assert.Equal(t, model.StatusRed, r.State().Patients["p1"].PretriageStatus)
}

func TestMaterializeDiscardsStaleFetch(t *testing.T) {
	server := serverState()
	f := &fetcher{source: server}
	r := New(nil, model.RoleParticipant, "me", f, nil)
	r.Reset(server, 0)

	require.NoError(t, r.Materialize(context.Background(), "r1"))
	assert.Equal(t, 0, f.calls)

	require.NoError(t, r.Omit("r1"))
	f.before = func() { r.Reset(server, 0) }
	err := r.Materialize(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrStale)
	assert.Equal(t, []model.UUID{"r1"}, r.FullRegions())

	f.before = nil
	require.NoError(t, r.Omit("r1"))
	require.NoError(t, r.Materialize(context.Background(), "r1"))
	assert.Contains(t, r.State().Patients, "p1")
}

// unloadScenario has a region that unloads arriving vehicles and a queued
// arrival, so the first tick creates exactly one unload activity.
func unloadScenario() *model.ExerciseState {
	s := simtest.State()
	s.CurrentStatus = model.StatusRunning
	r := simtest.Region("r1")
	r.Behaviors = []*model.BehaviorState{{ID: "unload", Type: model.UnloadArrivingVehiclesBehavior, UnloadDelay: 5000}}
	r.InEvents = []model.Event{{Type: model.VehicleArrivedEventType, VehicleID: "v1"}}
	simtest.AddRegion(s, r)
	simtest.AddVehicle(s, simtest.RTW("v1", model.RegionPosition("r1")))
	return s
}

func serverTick(t *testing.T, s *model.ExerciseState) (*model.ExerciseState, json.RawMessage) {
	t.Helper()
	a := reducer.ElaborateTick(s, 1000, false)
	next, updates, err := reducer.Default().ApplyCollecting(s, a, model.RoleServer)
	require.NoError(t, err)
	if updates != nil && !updates.Empty() {
		a.TickUpdates = updates
	}
	raw, err := reducer.Encode(a)
	require.NoError(t, err)
	return next, raw
}

func TestMaterializeMergesClosureAtItsSeq(t *testing.T) {
	s0 := unloadScenario()
	s1, tick1 := serverTick(t, s0)
	s2, tick2 := serverTick(t, s1)
	want, ok := s2.SimulatedRegion("r1")
	require.True(t, ok)
	require.Len(t, want.Activities, 1)

	// the closure is taken after tick 1, which the replica has not seen yet
	f := &fetcher{source: s1, seq: 1}
	r := New(nil, model.RoleTrainer, "me", f, nil)
	r.Reset(s0, 0)
	require.NoError(t, r.Omit("r1"))

	require.NoError(t, r.Materialize(context.Background(), "r1"))
	assert.Equal(t, []model.UUID{"r1"}, r.StandIns())
	require.NoError(t, r.Materialize(context.Background(), "r1"))
	assert.Equal(t, 1, f.calls)

	require.NoError(t, r.Reconcile(Broadcast{Seq: 1, Action: tick1}))
	assert.Equal(t, []model.UUID{"r1"}, r.FullRegions())
	require.NoError(t, r.Reconcile(Broadcast{Seq: 1, Action: tick1}))
	require.NoError(t, r.Reconcile(Broadcast{Seq: 2, Action: tick2}))

	got, ok := r.Confirmed().SimulatedRegion("r1")
	require.True(t, ok)
	assert.Len(t, got.Activities, len(want.Activities))
	assert.Equal(t, want.IDCounter, got.IDCounter)
	assert.Equal(t, s2.Vehicles["v1"].Occupation, r.Confirmed().Vehicles["v1"].Occupation)
	assert.Equal(t, uint64(2), r.Seq())
}

func TestMaterializeDiscardsOutdatedClosure(t *testing.T) {
	server := serverState()
	r := New(nil, model.RoleParticipant, "me", &fetcher{source: server, seq: 1}, nil)
	r.Reset(server, 2)
	require.NoError(t, r.Omit("r1"))

	assert.ErrorIs(t, r.Materialize(context.Background(), "r1"), ErrStale)
	assert.Equal(t, []model.UUID{"r1"}, r.StandIns())
}

func TestReconcileKeepsProposalsOfOtherClients(t *testing.T) {
	server := serverState()
	r := New(nil, model.RoleParticipant, "me", &fetcher{source: server}, nil)
	r.Reset(server, 0)

	canonical, err := r.Propose(context.Background(), "a", pretriage("p2", model.StatusRed))
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(Broadcast{Seq: 1, ClientID: "other", Action: canonical}))
	assert.Equal(t, 1, r.Pending())

	require.NoError(t, r.Reconcile(Broadcast{Seq: 2, ClientID: "me", Action: canonical}))
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, model.StatusRed, r.State().Patients["p2"].PretriageStatus)
}

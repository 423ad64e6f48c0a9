package replica

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manvsim.ai/internal/sim/model"
)

type fakeRegions struct {
	mu          sync.Mutex
	full        map[model.UUID]bool
	omitted     chan model.UUID
	materialize chan model.UUID
}

func newFakeRegions(full []model.UUID, standIns []model.UUID) *fakeRegions {
	f := &fakeRegions{
		full:        map[model.UUID]bool{},
		omitted:     make(chan model.UUID, 64),
		materialize: make(chan model.UUID, 64),
	}
	for _, id := range full {
		f.full[id] = true
	}
	for _, id := range standIns {
		f.full[id] = false
	}
	return f
}

func (f *fakeRegions) list(full bool) []model.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UUID
	for id, isFull := range f.full {
		if isFull == full {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (f *fakeRegions) FullRegions() []model.UUID { return f.list(true) }
func (f *fakeRegions) StandIns() []model.UUID    { return f.list(false) }

func (f *fakeRegions) Omit(id model.UUID) error {
	f.mu.Lock()
	f.full[id] = false
	f.mu.Unlock()
	select {
	case f.omitted <- id:
	default:
	}
	return nil
}

func (f *fakeRegions) Materialize(_ context.Context, id model.UUID) error {
	f.mu.Lock()
	f.full[id] = true
	f.mu.Unlock()
	select {
	case f.materialize <- id:
	default:
	}
	return nil
}

func TestDemandEvaluate(t *testing.T) {
	f := newFakeRegions([]model.UUID{"a", "b"}, []model.UUID{"c"})
	d := NewDemand(f, time.Minute, time.Hour, nil)
	defer d.Stop()
	require.Equal(t, time.Minute, d.hold)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.Require("a")
	d.Require("c")
	omit, materialize := d.Evaluate(now)
	assert.Equal(t, []model.UUID{"b"}, omit)
	assert.Equal(t, []model.UUID{"c"}, materialize)

	d.Require("a")
	d.Release("a")
	omit, _ = d.Evaluate(now.Add(2 * time.Minute))
	assert.Equal(t, []model.UUID{"b"}, omit)

	d.Release("a")
	omit, _ = d.Evaluate(now.Add(30 * time.Second))
	assert.Equal(t, []model.UUID{"b"}, omit)
	omit, _ = d.Evaluate(now.Add(2 * time.Minute))
	assert.Equal(t, []model.UUID{"a", "b"}, omit)
}

func TestDemandDispatchesOnTimer(t *testing.T) {
	f := newFakeRegions([]model.UUID{"a"}, nil)
	d := NewDemand(f, 10*time.Millisecond, 10*time.Millisecond, nil)
	defer d.Stop()

	select {
	case id := <-f.omitted:
		assert.Equal(t, "a", id)
	case <-time.After(2 * time.Second):
		t.Fatalf("region was not omitted")
	}

	d.Require("a")
	select {
	case id := <-f.materialize:
		assert.Equal(t, "a", id)
	case <-time.After(2 * time.Second):
		t.Fatalf("region was not materialized")
	}
}

func TestDemandStopIsFinal(t *testing.T) {
	f := newFakeRegions([]model.UUID{"a"}, nil)
	d := NewDemand(f, time.Hour, time.Hour, nil)
	d.Stop()
	d.Run()
	assert.Equal(t, []model.UUID{"a"}, f.FullRegions())
}

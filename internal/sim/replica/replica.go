// Package replica keeps a client's copy of an exercise in step with the
// server: confirmed state from performAction frames, optimistic state on top
// of it for the client's own pending proposals, and stand-ins for regions
// the client does not look at.
package replica

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
	"manvsim.ai/internal/sim/standin"
)

// ErrStale is returned by Materialize when the region stopped being a
// stand-in while its closure was fetched, or when the replica already moved
// past the point in the action stream the closure was taken at.
var ErrStale = errors.New("replica: region changed during fetch")

// Fetcher loads the closure of one region from the server together with the
// sequence number of the last broadcast action it reflects.
type Fetcher interface {
	GetPartialState(ctx context.Context, regionID model.UUID) (*standin.AssociatedElements, uint64, error)
}

// Broadcast is one action applied by the server. Seq is its position in the
// stream, starting at 1. ClientID is the proposer, empty for actions of the
// server itself.
type Broadcast struct {
	Seq      uint64
	ClientID model.UUID
	Action   json.RawMessage
}

// closureAt is a fetched closure that is merged once the replica reaches seq.
type closureAt struct {
	closure *standin.AssociatedElements
	seq     uint64
}

type pending struct {
	requestID string
	action    reducer.Action
	raw       json.RawMessage
}

type Replica struct {
	reg      *reducer.Registry
	role     model.Role
	clientID model.UUID
	fetch    Fetcher
	log      *zap.Logger

	mu         sync.Mutex
	confirmed  *model.ExerciseState
	optimistic *model.ExerciseState
	seq        uint64
	pending    []pending
	parked     map[model.UUID]closureAt
}

// New returns an empty replica for the client clientID. Call Reset with the
// server state before reconciling.
func New(reg *reducer.Registry, role model.Role, clientID model.UUID, fetch Fetcher, log *zap.Logger) *Replica {
	if reg == nil {
		reg = reducer.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := model.NewExerciseState("")
	return &Replica{
		reg:        reg,
		role:       role,
		clientID:   clientID,
		fetch:      fetch,
		log:        log,
		confirmed:  s,
		optimistic: s,
		parked:     map[model.UUID]closureAt{},
	}
}

// Reset replaces the state, e.g. with a getState payload that contains the
// first seq broadcast actions. Pending proposals are dropped.
func (r *Replica) Reset(s *model.ExerciseState, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Normalize()
	r.confirmed = s
	r.optimistic = s
	r.seq = seq
	r.pending = nil
	r.parked = map[model.UUID]closureAt{}
}

// Seq returns the sequence number of the last broadcast action in the
// confirmed state.
func (r *Replica) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// State returns the optimistic state.
func (r *Replica) State() *model.ExerciseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.optimistic
}

// Confirmed returns the state as last confirmed by the server.
func (r *Replica) Confirmed() *model.ExerciseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confirmed
}

func (r *Replica) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Propose applies one of the client's own actions optimistically. If the
// action touches an omitted element, the owning region is materialized and
// the action tried once more; a region whose closure is still waiting for
// earlier broadcasts stays a stand-in and the retryable error is returned.
// The returned canonical encoding is what should be sent to the server.
func (r *Replica) Propose(ctx context.Context, requestID string, raw json.RawMessage) (json.RawMessage, error) {
	a, err := r.reg.Decode(raw)
	if err != nil {
		return nil, err
	}
	canonical, err := reducer.Encode(a)
	if err != nil {
		return nil, err
	}
	err = r.proposeOnce(requestID, a, canonical)
	regionID, retry := reducer.Retryable(err)
	if !retry {
		return canonical, err
	}
	r.log.Debug("materializing for proposal", zap.String("region_id", regionID), zap.String("action_type", a.ActionType()))
	if merr := r.Materialize(ctx, regionID); merr != nil && !errors.Is(merr, ErrStale) {
		return canonical, fmt.Errorf("%w (materialize: %v)", err, merr)
	}
	return canonical, r.proposeOnce(requestID, a, canonical)
}

func (r *Replica) proposeOnce(requestID string, a reducer.Action, canonical json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.reg.Apply(r.optimistic, a, r.role)
	if err != nil {
		return err
	}
	r.optimistic = next
	r.pending = append(r.pending, pending{requestID: requestID, action: a, raw: canonical})
	return nil
}

// Reject drops a pending proposal the server refused.
func (r *Replica) Reject(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pending {
		if p.requestID == requestID {
			r.pending = append(r.pending[:i:i], r.pending[i+1:]...)
			r.rebuildLocked()
			return
		}
	}
}

// Reconcile applies an action broadcast by the server. Broadcasts already
// contained in the confirmed state are ignored. Actions that do not apply to
// this replica (already stale, or touching omitted elements) are skipped; a
// missing region means the replica diverged and is returned.
func (r *Replica) Reconcile(b Broadcast) error {
	a, err := r.reg.Decode(b.Action)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.Seq <= r.seq {
		return nil
	}
	r.seq = b.Seq

	next, err := r.reg.Apply(r.confirmed, a, model.RoleServer)
	var (
		re *reducer.ReducerError
		eo *reducer.ElementOmittedError
		rm *reducer.SimulatedRegionMissingError
	)
	switch {
	case err == nil:
		r.confirmed = next
	case errors.As(err, &eo), errors.As(err, &re):
		r.log.Debug("skipping broadcast action", zap.String("action_type", a.ActionType()), zap.Error(err))
	case errors.As(err, &rm):
		r.log.Warn("broadcast action for missing region", zap.String("region_id", rm.RegionID), zap.String("action_type", a.ActionType()))
		return err
	default:
		return err
	}

	if b.ClientID != "" && b.ClientID == r.clientID {
		r.confirmLocked(a)
	}
	r.mergeParkedLocked()
	r.rebuildLocked()
	return nil
}

// confirmLocked drops the oldest pending proposal matching one of the
// client's own actions.
func (r *Replica) confirmLocked(a reducer.Action) {
	canonical, err := reducer.Encode(a)
	if err != nil {
		return
	}
	for i, p := range r.pending {
		if bytes.Equal(canonical, p.raw) {
			r.pending = append(r.pending[:i:i], r.pending[i+1:]...)
			return
		}
	}
}

// mergeParkedLocked merges the closures taken at the current seq.
func (r *Replica) mergeParkedLocked() {
	for _, id := range model.SortedKeys(r.parked) {
		p := r.parked[id]
		if p.seq > r.seq {
			continue
		}
		delete(r.parked, id)
		if p.seq < r.seq || !standin.IsStandIn(r.confirmed, id) {
			r.log.Debug("discarding parked closure", zap.String("region_id", id), zap.Uint64("closure_seq", p.seq), zap.Uint64("seq", r.seq))
			continue
		}
		next, err := standin.Restore(r.confirmed, id, p.closure)
		if err != nil {
			r.log.Warn("merge parked closure", zap.String("region_id", id), zap.Error(err))
			continue
		}
		r.confirmed = next
	}
}

// rebuildLocked replays pending proposals over the confirmed state and drops
// the ones that no longer apply.
func (r *Replica) rebuildLocked() {
	s := r.confirmed
	kept := r.pending[:0]
	for _, p := range r.pending {
		next, err := r.reg.Apply(s, p.action, r.role)
		if err != nil {
			r.log.Debug("dropping pending proposal", zap.String("request_id", p.requestID), zap.Error(err))
			continue
		}
		s = next
		kept = append(kept, p)
	}
	r.pending = kept
	r.optimistic = s
}

// Omit turns a full region into a stand-in. Omitting a stand-in is a no-op.
func (r *Replica) Omit(regionID model.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := standin.Omit(r.confirmed, regionID)
	if err != nil {
		return err
	}
	r.confirmed = next
	r.rebuildLocked()
	return nil
}

// Materialize fetches the closure of a stand-in region and merges it at the
// point of the action stream it was taken at. A closure ahead of the replica
// is parked and merged by Reconcile once the broadcasts before it are
// applied. The region is checked again after the fetch; if it is no longer a
// stand-in, or the replica moved past the closure, the data is discarded.
func (r *Replica) Materialize(ctx context.Context, regionID model.UUID) error {
	r.mu.Lock()
	isStandIn := standin.IsStandIn(r.confirmed, regionID)
	_, isParked := r.parked[regionID]
	r.mu.Unlock()
	if !isStandIn || isParked {
		return nil
	}
	if r.fetch == nil {
		return fmt.Errorf("replica: no fetcher to materialize %s", regionID)
	}

	closure, seq, err := r.fetch.GetPartialState(ctx, regionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !standin.IsStandIn(r.confirmed, regionID) || seq < r.seq {
		return ErrStale
	}
	if seq > r.seq {
		r.parked[regionID] = closureAt{closure: closure, seq: seq}
		return nil
	}
	next, err := standin.Restore(r.confirmed, regionID, closure)
	if err != nil {
		return err
	}
	r.confirmed = next
	r.rebuildLocked()
	return nil
}

// FullRegions returns the ids of materialized regions.
func (r *Replica) FullRegions() []model.UUID { return r.regions(false) }

// StandIns returns the ids of omitted regions.
func (r *Replica) StandIns() []model.UUID { return r.regions(true) }

func (r *Replica) regions(standIns bool) []model.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.UUID
	for _, id := range model.SortedKeys(r.confirmed.SimulatedRegions) {
		if standin.IsStandIn(r.confirmed, id) == standIns {
			out = append(out, id)
		}
	}
	return out
}

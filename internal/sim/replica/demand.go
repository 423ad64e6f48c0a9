package replica

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"manvsim.ai/internal/sim/model"
)

// Regions is what the demand tracker controls; *Replica implements it.
type Regions interface {
	FullRegions() []model.UUID
	StandIns() []model.UUID
	Omit(regionID model.UUID) error
	Materialize(ctx context.Context, regionID model.UUID) error
}

// Demand decides which regions a client keeps materialized. Regions are
// required while something views them; a region nobody required for the
// hold duration is omitted, a required stand-in is materialized. The check
// runs every interval; any change of references restarts the interval.
type Demand struct {
	target   Regions
	hold     time.Duration
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	refs       map[model.UUID]int
	lastNeeded map[model.UUID]time.Time
	timer      *time.Timer
	stopped    bool
}

func NewDemand(target Regions, hold, interval time.Duration, log *zap.Logger) *Demand {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if hold < 0 {
		hold = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Demand{
		target:     target,
		hold:       hold,
		interval:   interval,
		now:        time.Now,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		refs:       map[model.UUID]int{},
		lastNeeded: map[model.UUID]time.Time{},
	}
	d.mu.Lock()
	d.restartLocked()
	d.mu.Unlock()
	return d
}

// Require marks a region as viewed. Every Require needs a matching Release.
func (d *Demand) Require(regionID model.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs[regionID]++
	d.lastNeeded[regionID] = d.now()
	d.restartLocked()
}

func (d *Demand) Release(regionID model.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs[regionID] <= 1 {
		delete(d.refs, regionID)
	} else {
		d.refs[regionID]--
	}
	d.lastNeeded[regionID] = d.now()
	d.restartLocked()
}

// Evaluate returns the regions to omit and to materialize at now.
func (d *Demand) Evaluate(now time.Time) (omit, materialize []model.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.target.FullRegions() {
		if d.refs[id] > 0 {
			continue
		}
		if last, ok := d.lastNeeded[id]; ok && now.Sub(last) < d.hold {
			continue
		}
		omit = append(omit, id)
	}
	for _, id := range d.target.StandIns() {
		if d.refs[id] > 0 {
			materialize = append(materialize, id)
		}
	}
	return omit, materialize
}

// Run evaluates once and dispatches the resulting requests without waiting
// for them.
func (d *Demand) Run() {
	omit, materialize := d.Evaluate(d.now())
	for _, id := range omit {
		d.dispatch(id, func(id model.UUID) error { return d.target.Omit(id) })
	}
	for _, id := range materialize {
		d.dispatch(id, func(id model.UUID) error { return d.target.Materialize(d.ctx, id) })
	}
}

func (d *Demand) dispatch(id model.UUID, f func(model.UUID) error) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.wg.Done()
		if err := f(id); err != nil && !errors.Is(err, ErrStale) && !errors.Is(err, context.Canceled) {
			d.log.Warn("region demand", zap.String("region_id", id), zap.Error(err))
		}
	}()
}

func (d *Demand) restartLocked() {
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Demand) fire() {
	d.Run()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restartLocked()
}

// Stop halts the timer, cancels pending fetches and waits for dispatched
// requests to finish.
func (d *Demand) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

// Package exercise runs authoritative exercises. Every exercise is owned by a
// single goroutine; connections talk to it over channels only.
package exercise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"manvsim.ai/internal/observability"
	"manvsim.ai/internal/protocol"
	"manvsim.ai/internal/sim/migration"
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
	"manvsim.ai/internal/sim/standin"
)

var ErrStopped = errors.New("exercise stopped")

type Config struct {
	ParticipantID string
	TrainerID     string

	TickInterval          time.Duration
	TreatmentRefreshTicks int
	SnapshotEveryActions  int
	ProposalQueueSize     int
}

// Sink receives everything the exercise needs persisted. Calls are made from
// the exercise goroutine and must not block for long.
type Sink interface {
	ActionApplied(index uint64, clientID model.UUID, action json.RawMessage)
	Checkpoint(export *migration.StateExport, actionCount uint64)
}

// JoinRequest registers a connection. Out must be buffered and receives
// every frame for this client in order. Kick is called when the client has
// been removed by the exercise; the connection should be closed.
type JoinRequest struct {
	Name string
	Role model.Role
	Out  chan []byte
	Kick func()

	resp chan joinResponse
}

type joinResponse struct {
	clientID model.UUID
	err      error
}

type requestKind int

const (
	reqPropose requestKind = iota
	reqState
	reqPartialState
)

type request struct {
	kind      requestKind
	clientID  model.UUID
	requestID string
	action    json.RawMessage
	regionID  model.UUID
}

type exportReq struct {
	withHistory bool
	resp        chan *migration.StateExport
}

type client struct {
	id   model.UUID
	role model.Role
	out  chan []byte
	kick func()
}

type Exercise struct {
	cfg     Config
	reg     *reducer.Registry
	log     *zap.Logger
	metrics *observability.Metrics
	sink    Sink

	// Owned by the Run goroutine once started.
	state     *model.ExerciseState
	initial   *model.ExerciseState
	history   []json.RawMessage
	clients   map[model.UUID]*client
	ticks     uint64
	lastCheck int

	join    chan JoinRequest
	leave   chan model.UUID
	inbox   chan request
	exports chan exportReq

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New prepares an exercise from its initial state and the actions applied
// since. current must be the result of replaying history over initial.
func New(cfg Config, reg *reducer.Registry, initial, current *model.ExerciseState, history []json.RawMessage, sink Sink, metrics *observability.Metrics, log *zap.Logger) *Exercise {
	if reg == nil {
		reg = reducer.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ProposalQueueSize <= 0 {
		cfg.ProposalQueueSize = 1024
	}
	if current == nil {
		current = initial
	}
	return &Exercise{
		cfg:       cfg,
		reg:       reg,
		log:       log.With(zap.String("exercise_id", cfg.ParticipantID)),
		metrics:   metrics,
		sink:      sink,
		state:     current,
		initial:   initial,
		history:   history,
		clients:   map[model.UUID]*client{},
		lastCheck: len(history),
		join:      make(chan JoinRequest, 16),
		leave:     make(chan model.UUID, 64),
		inbox:     make(chan request, cfg.ProposalQueueSize),
		exports:   make(chan exportReq, 4),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (e *Exercise) ParticipantID() string { return e.cfg.ParticipantID }
func (e *Exercise) TrainerID() string     { return e.cfg.TrainerID }

// Done is closed when Run has returned.
func (e *Exercise) Done() <-chan struct{} { return e.done }

func (e *Exercise) Stop() { e.stopOnce.Do(func() { close(e.stop) }) }

// Join registers a client and blocks until the exercise answered.
func (e *Exercise) Join(ctx context.Context, req JoinRequest) (model.UUID, error) {
	req.resp = make(chan joinResponse, 1)
	select {
	case e.join <- req:
	case <-e.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case resp := <-req.resp:
		return resp.clientID, resp.err
	case <-e.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Leave removes a client. Unknown ids are ignored.
func (e *Exercise) Leave(clientID model.UUID) {
	select {
	case e.leave <- clientID:
	case <-e.done:
	}
}

// Propose queues an action. The response frame is delivered on the client's
// Out channel after the action has been broadcast.
func (e *Exercise) Propose(clientID model.UUID, requestID string, action json.RawMessage) error {
	return e.submit(request{kind: reqPropose, clientID: clientID, requestID: requestID, action: action})
}

// RequestState queues a getState request; the response carries the state
// as of the moment it is handled, so every later performAction applies to it.
func (e *Exercise) RequestState(clientID model.UUID, requestID string) error {
	return e.submit(request{kind: reqState, clientID: clientID, requestID: requestID})
}

func (e *Exercise) RequestPartialState(clientID model.UUID, requestID string, regionID model.UUID) error {
	return e.submit(request{kind: reqPartialState, clientID: clientID, requestID: requestID, regionID: regionID})
}

func (e *Exercise) submit(r request) error {
	select {
	case e.inbox <- r:
		return nil
	case <-e.done:
		return ErrStopped
	default:
		return fmt.Errorf("exercise %s: proposal queue full", e.cfg.ParticipantID)
	}
}

// Export returns the complete export of the current state.
func (e *Exercise) Export(ctx context.Context, withHistory bool) (*migration.StateExport, error) {
	req := exportReq{withHistory: withHistory, resp: make(chan *migration.StateExport, 1)}
	select {
	case e.exports <- req:
	case <-e.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case exp := <-req.resp:
		return exp, nil
	case <-e.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Exercise) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.shutdown()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case req := <-e.join:
			id, err := e.handleJoin(req)
			req.resp <- joinResponse{clientID: id, err: err}
		case id := <-e.leave:
			e.handleLeave(id)
		case r := <-e.inbox:
			e.handleRequest(r)
		case req := <-e.exports:
			req.resp <- e.export(req.withHistory)
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Exercise) shutdown() {
	for _, id := range model.SortedKeys(e.clients) {
		c := e.clients[id]
		if c.kick != nil {
			c.kick()
		}
	}
	e.metrics.ClientJoined(-len(e.clients))
	e.clients = map[model.UUID]*client{}
	e.checkpoint(true)
}

func (e *Exercise) export(withHistory bool) *migration.StateExport {
	if !withHistory {
		return migration.NewStateExport(e.state, nil, nil)
	}
	n := len(e.history)
	return migration.NewStateExport(e.state, e.initial, e.history[:n:n])
}

func (e *Exercise) checkpoint(force bool) {
	if e.sink == nil {
		return
	}
	n := len(e.history)
	if !force && (e.cfg.SnapshotEveryActions <= 0 || n-e.lastCheck < e.cfg.SnapshotEveryActions) {
		return
	}
	if force && n == e.lastCheck {
		return
	}
	e.lastCheck = n
	e.sink.Checkpoint(e.export(true), uint64(n))
}

func (e *Exercise) handleJoin(req JoinRequest) (model.UUID, error) {
	if req.Out == nil {
		return "", fmt.Errorf("join: nil out channel")
	}
	role := req.Role
	if role != model.RoleTrainer {
		role = model.RoleParticipant
	}
	c := &model.Client{
		ID:              model.NewUUID(),
		Name:            req.Name,
		Role:            role,
		IsInWaitingRoom: role == model.RoleParticipant,
	}
	e.clients[c.ID] = &client{id: c.ID, role: role, out: req.Out, kick: req.Kick}
	if err := e.applyServer(reducer.AddClientAction{Client: c}, ""); err != nil {
		delete(e.clients, c.ID)
		return "", err
	}
	e.metrics.ClientJoined(1)
	e.log.Info("client joined", zap.String("client_id", c.ID), zap.String("name", c.Name), zap.String("role", string(role)))
	return c.ID, nil
}

func (e *Exercise) handleLeave(id model.UUID) {
	if _, ok := e.clients[id]; !ok {
		return
	}
	delete(e.clients, id)
	e.metrics.ClientJoined(-1)
	e.removeClient(id)
	e.log.Info("client left", zap.String("client_id", id))
}

func (e *Exercise) removeClient(id model.UUID) {
	if _, ok := e.state.Clients[id]; !ok {
		return
	}
	if err := e.applyServer(reducer.RemoveClientAction{ClientID: id}, ""); err != nil {
		e.log.Error("remove client", zap.String("client_id", id), zap.Error(err))
	}
}

// DropStaleClients removes clients recorded in the state that have no
// connection, e.g. after a restart. It must be called before Run.
func (e *Exercise) DropStaleClients() {
	for _, id := range model.SortedKeys(e.state.Clients) {
		if _, ok := e.clients[id]; ok {
			continue
		}
		e.removeClient(id)
	}
}

func (e *Exercise) handleRequest(r request) {
	c, ok := e.clients[r.clientID]
	if !ok {
		return
	}
	switch r.kind {
	case reqPropose:
		resp := e.propose(c, r)
		e.respond(c, resp)
	case reqState:
		resp, err := protocol.OK(r.requestID, e.state)
		if err != nil {
			resp = protocol.Fail(r.requestID, protocol.ErrInternal, err.Error(), false)
		}
		e.respond(c, resp)
	case reqPartialState:
		assoc, err := standin.ExtractAssociatedElements(e.state, r.regionID)
		if errors.Is(err, standin.ErrUnknownRegion) {
			err = &reducer.SimulatedRegionMissingError{RegionID: r.regionID}
		}
		if err != nil {
			e.respond(c, protocol.FailFor(r.requestID, err))
			return
		}
		resp, err := protocol.OK(r.requestID, assoc)
		if err != nil {
			resp = protocol.Fail(r.requestID, protocol.ErrInternal, err.Error(), false)
		}
		e.respond(c, resp)
	}
}

func (e *Exercise) propose(c *client, r request) (resp protocol.ResponseMsg) {
	start := time.Now()
	actionType := "unknown"
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("reducer panic", zap.String("action_type", actionType), zap.Any("panic", p), zap.Stack("stack"))
			e.metrics.ObserveAction(actionType, protocol.ErrInternal, time.Since(start))
			resp = protocol.Fail(r.requestID, protocol.ErrInternal, fmt.Sprintf("internal error applying %s", actionType), false)
		}
	}()

	a, err := e.reg.Decode(r.action)
	if err != nil {
		code, _ := protocol.CodeFor(err)
		e.metrics.ObserveAction(actionType, code, time.Since(start))
		return protocol.FailFor(r.requestID, err)
	}
	actionType = a.ActionType()
	if err := e.apply(a, c.role, c.id); err != nil {
		code, _ := protocol.CodeFor(err)
		e.metrics.ObserveAction(actionType, code, time.Since(start))
		e.log.Debug("proposal rejected", zap.String("client_id", c.id), zap.String("action_type", actionType), zap.Error(err))
		return protocol.FailFor(r.requestID, err)
	}
	e.metrics.ObserveAction(actionType, "ok", time.Since(start))
	resp, _ = protocol.OK(r.requestID, nil)
	return resp
}

func (e *Exercise) applyServer(a reducer.Action, clientID model.UUID) error {
	return e.apply(a, model.RoleServer, clientID)
}

// apply reduces a, records it and broadcasts it to every client.
func (e *Exercise) apply(a reducer.Action, role model.Role, clientID model.UUID) error {
	next, err := e.reg.Apply(e.state, a, role)
	if err != nil {
		return err
	}
	raw, err := reducer.Encode(a)
	if err != nil {
		return err
	}
	e.commit(next, raw, clientID)
	return nil
}

func (e *Exercise) commit(next *model.ExerciseState, raw json.RawMessage, clientID model.UUID) {
	e.state = next
	e.history = append(e.history, raw)
	if e.sink != nil {
		e.sink.ActionApplied(uint64(len(e.history)), clientID, raw)
	}
	e.broadcast(raw, clientID)
	e.checkpoint(false)
}

func (e *Exercise) tick() {
	if e.state.CurrentStatus != model.StatusRunning {
		return
	}
	e.ticks++
	refresh := e.cfg.TreatmentRefreshTicks > 0 && e.ticks%uint64(e.cfg.TreatmentRefreshTicks) == 0
	a := reducer.ElaborateTick(e.state, e.cfg.TickInterval.Milliseconds(), refresh)

	start := time.Now()
	next, updates, err := e.reg.ApplyCollecting(e.state, a, model.RoleServer)
	if err != nil {
		e.metrics.ObserveAction(reducer.TickType, protocol.ErrInternal, time.Since(start))
		e.log.Error("tick", zap.Error(err))
		return
	}
	if updates != nil && !updates.Empty() {
		a.TickUpdates = updates
	}
	raw, err := reducer.Encode(a)
	if err != nil {
		e.log.Error("encode tick", zap.Error(err))
		return
	}
	e.commit(next, raw, "")
	e.metrics.ObserveAction(reducer.TickType, "ok", time.Since(start))
	e.metrics.Tick()
}

func (e *Exercise) broadcast(action json.RawMessage, clientID model.UUID) {
	b, err := json.Marshal(protocol.PerformAction(action, clientID))
	if err != nil {
		e.log.Error("marshal performAction", zap.Error(err))
		return
	}
	var slow []model.UUID
	for _, id := range model.SortedKeys(e.clients) {
		if !trySend(e.clients[id].out, b) {
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		e.dropSlow(id)
	}
}

func (e *Exercise) respond(c *client, resp protocol.ResponseMsg) {
	b, err := json.Marshal(resp)
	if err != nil {
		e.log.Error("marshal response", zap.Error(err))
		return
	}
	if _, ok := e.clients[c.id]; !ok {
		return
	}
	if !trySend(c.out, b) {
		e.dropSlow(c.id)
	}
}

// dropSlow disconnects a client whose queue is full. Frames are never
// dropped for a connected client; it has to re-join instead.
func (e *Exercise) dropSlow(id model.UUID) {
	c, ok := e.clients[id]
	if !ok {
		return
	}
	delete(e.clients, id)
	e.metrics.SlowClient()
	e.metrics.ClientJoined(-1)
	e.log.Warn("client too slow, disconnecting", zap.String("client_id", id))
	if c.kick != nil {
		c.kick()
	}
	e.removeClient(id)
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}

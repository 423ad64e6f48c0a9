// Package reducer maps action types to their shape, required role and
// reducer, and applies actions to exercise states.
package reducer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

// Action is one typed action. The JSON form carries the type string in its
// "type" field.
type Action interface {
	ActionType() string
}

type entry struct {
	role   model.Role
	schema *jsonschema.Schema
	decode func([]byte) (Action, error)
	reduce func(*simulation.Context, Action) error
}

// Registry is safe for concurrent use once constructed.
type Registry struct {
	entries    map[string]*entry
	treatments simulation.TreatmentFunc
}

type Option func(*Registry)

// WithTreatments replaces the treatment recalculation used by reducers.
func WithTreatments(f simulation.TreatmentFunc) Option {
	return func(r *Registry) { r.treatments = f }
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the shared registry with all actions.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}

func New(opts ...Option) *Registry {
	r := &Registry{entries: map[string]*entry{}}
	for _, o := range opts {
		o(r)
	}
	registerExercise(r)
	registerClients(r)
	registerViewports(r)
	registerPatients(r)
	registerVehicles(r)
	registerCaterers(r)
	registerRegions(r)
	registerTransferPoints(r)
	registerTransfers(r)
	registerHospitals(r)
	registerRadiograms(r)
	registerTemplates(r)
	return r
}

func register[A Action](r *Registry, shape string, role model.Role, reduce func(*simulation.Context, A) error) {
	var zero A
	t := zero.ActionType()
	if _, dup := r.entries[t]; dup {
		panic("reducer: duplicate action type " + t)
	}
	r.entries[t] = &entry{
		role:   role,
		schema: mustSchema(shape),
		decode: func(raw []byte) (Action, error) {
			var a A
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, err
			}
			return a, nil
		},
		reduce: func(ctx *simulation.Context, a Action) error {
			typed, ok := a.(A)
			if !ok {
				return fmt.Errorf("action %q has unexpected Go type %T", t, a)
			}
			return reduce(ctx, typed)
		},
	}
}

// Types returns the number of registered action types.
func (r *Registry) Types() int { return len(r.entries) }

// Role returns the role required to propose an action type.
func (r *Registry) Role(actionType string) (model.Role, bool) {
	e, ok := r.entries[actionType]
	if !ok {
		return "", false
	}
	return e.role, true
}

// Encode marshals an action with its type field set.
func Encode(a Action) (json.RawMessage, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	t, _ := json.Marshal(a.ActionType())
	fields["type"] = t
	return json.Marshal(fields)
}

func actionType(raw []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", err
	}
	if head.Type == "" {
		return "", fmt.Errorf("missing type")
	}
	return head.Type, nil
}

func (r *Registry) lookup(raw []byte) (*entry, string, error) {
	t, err := actionType(raw)
	if err != nil {
		return nil, "", &ValidationError{Err: err}
	}
	e, ok := r.entries[t]
	if !ok {
		return nil, t, &ValidationError{ActionType: t, Err: fmt.Errorf("unknown action type")}
	}
	return e, t, nil
}

func validate(e *entry, t string, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &ValidationError{ActionType: t, Err: err}
	}
	if err := e.schema.Validate(doc); err != nil {
		return &ValidationError{ActionType: t, Err: err}
	}
	return nil
}

// Decode looks up the action type, validates the shape and decodes the
// typed action.
func (r *Registry) Decode(raw []byte) (Action, error) {
	e, t, err := r.lookup(raw)
	if err != nil {
		return nil, err
	}
	if err := validate(e, t, raw); err != nil {
		return nil, err
	}
	a, err := e.decode(raw)
	if err != nil {
		return nil, &ValidationError{ActionType: t, Err: err}
	}
	return a, nil
}

// Apply validates and reduces a typed action. The input state is never
// modified; on error it is still the current state.
func (r *Registry) Apply(s *model.ExerciseState, a Action, role model.Role) (*model.ExerciseState, error) {
	next, _, err := r.apply(s, a, role, false)
	return next, err
}

// ApplyCollecting is Apply that also returns the tick updates collected
// while reducing.
func (r *Registry) ApplyCollecting(s *model.ExerciseState, a Action, role model.Role) (*model.ExerciseState, *model.TickUpdates, error) {
	return r.apply(s, a, role, true)
}

// ApplyRaw decodes and applies a JSON action.
func (r *Registry) ApplyRaw(s *model.ExerciseState, raw []byte, role model.Role) (*model.ExerciseState, Action, error) {
	a, err := r.Decode(raw)
	if err != nil {
		return s, nil, err
	}
	e := r.entries[a.ActionType()]
	next, _, err := r.reduce(s, e, a, role, false)
	return next, a, err
}

func (r *Registry) apply(s *model.ExerciseState, a Action, role model.Role, collect bool) (*model.ExerciseState, *model.TickUpdates, error) {
	raw, err := Encode(a)
	if err != nil {
		return s, nil, &ValidationError{ActionType: a.ActionType(), Err: err}
	}
	e, t, err := r.lookup(raw)
	if err != nil {
		return s, nil, err
	}
	if err := validate(e, t, raw); err != nil {
		return s, nil, err
	}
	return r.reduce(s, e, a, role, collect)
}

func (r *Registry) reduce(s *model.ExerciseState, e *entry, a Action, role model.Role, collect bool) (*model.ExerciseState, *model.TickUpdates, error) {
	if !role.Permits(e.role) {
		return s, nil, &AuthorizationError{ActionType: a.ActionType(), Role: role, Required: e.role}
	}
	ctx := &simulation.Context{Draft: model.NewDraft(s), Treatments: r.treatments}
	if collect {
		ctx.Updates = model.NewTickUpdates()
	}
	if err := e.reduce(ctx, a); err != nil {
		return s, nil, asReducerError(err)
	}
	return ctx.Draft.Commit(), ctx.Updates, nil
}

// Replay applies actions in order with server rights.
func (r *Registry) Replay(initial *model.ExerciseState, actions []Action) (*model.ExerciseState, error) {
	s := initial
	for i, a := range actions {
		next, err := r.Apply(s, a, model.RoleServer)
		if err != nil {
			return s, fmt.Errorf("replay action %d (%s): %w", i, a.ActionType(), err)
		}
		s = next
	}
	return s, nil
}

// Package migration upgrades exported states and action histories to the
// current data version.
//
// Migrations work on plain JSON documents so that old schemas never need Go
// types. A history is migrated together with its initial state, then
// replayed to recompute the current state.
package migration

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
)

// MigrationError reports a document that cannot be brought to the current
// version. Version is the data version being produced when it failed, or
// the unsupported source version.
type MigrationError struct {
	Version int
	Reason  string
	Err     error
}

func (e *MigrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("migration to version %d: %s: %v", e.Version, e.Reason, e.Err)
	}
	return fmt.Sprintf("migration to version %d: %s", e.Version, e.Reason)
}

func (e *MigrationError) Unwrap() error { return e.Err }

var ErrUnsupportedVersion = errors.New("unsupported data version")

// Properties are the parts of an export that migrations touch. With a
// history, state migrations apply to its initial state and CurrentState is
// left alone; it is recomputed by replay.
type Properties struct {
	CurrentState map[string]any
	History      *History
}

type History struct {
	InitialState map[string]any
	// Actions holds one JSON object per action; dropped actions become nil.
	Actions []any
}

// ApplyMigrations runs every migration after version in order and returns
// the new version.
func ApplyMigrations(version int, p *Properties) (int, error) {
	if version < 1 || version > CurrentDataVersion {
		return version, &MigrationError{Version: version, Reason: "cannot migrate", Err: ErrUnsupportedVersion}
	}
	for v := version + 1; v <= CurrentDataVersion; v++ {
		m := migrations[v]
		target := p.CurrentState
		if p.History != nil {
			target = p.History.InitialState
		}
		if m.State != nil && target != nil {
			if err := m.State(target); err != nil {
				return version, &MigrationError{Version: v, Reason: "state", Err: err}
			}
		}
		if p.History == nil || m.Actions == nil {
			continue
		}
		for i, raw := range p.History.Actions {
			if raw == nil {
				continue
			}
			a := object(raw)
			if a == nil {
				return version, &MigrationError{Version: v, Reason: fmt.Sprintf("action %d is not an object", i)}
			}
			if !m.Actions(p.History.InitialState, a) {
				p.History.Actions[i] = nil
			}
		}
	}
	return CurrentDataVersion, nil
}

type rawStateExport struct {
	Type         string         `json:"type"`
	FileVersion  int            `json:"fileVersion"`
	DataVersion  int            `json:"dataVersion"`
	CurrentState map[string]any `json:"currentState"`
	History      *struct {
		InitialState  map[string]any `json:"initialState"`
		ActionHistory []any          `json:"actionHistory"`
	} `json:"history"`
}

func malformed(reason string, err error) error {
	return &MigrationError{Version: CurrentDataVersion, Reason: reason, Err: err}
}

func toState(doc map[string]any) (*model.ExerciseState, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var s model.ExerciseState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	s.Normalize()
	return &s, nil
}

// MigrateStateExport reads a complete export of any supported version and
// returns it at the current version. If the export has a history, the
// current state is the replay of the migrated history.
func MigrateStateExport(raw []byte) (*StateExport, error) {
	return MigrateStateExportWith(reducer.Default(), raw)
}

func MigrateStateExportWith(reg *reducer.Registry, raw []byte) (*StateExport, error) {
	var in rawStateExport
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, malformed("decode export", err)
	}
	if in.Type != TypeComplete {
		return nil, malformed(fmt.Sprintf("export type %q is not %q", in.Type, TypeComplete), nil)
	}
	props := &Properties{CurrentState: in.CurrentState}
	if in.History != nil {
		if in.History.InitialState == nil {
			return nil, malformed("history without initial state", nil)
		}
		props.History = &History{InitialState: in.History.InitialState, Actions: in.History.ActionHistory}
	} else if in.CurrentState == nil {
		return nil, malformed("export without current state", nil)
	}
	version, err := ApplyMigrations(in.DataVersion, props)
	if err != nil {
		return nil, err
	}

	out := &StateExport{Type: TypeComplete, FileVersion: in.FileVersion, DataVersion: version}
	if props.History == nil {
		if out.CurrentState, err = toState(props.CurrentState); err != nil {
			return nil, malformed("decode current state", err)
		}
		return out, nil
	}

	initial, err := toState(props.History.InitialState)
	if err != nil {
		return nil, malformed("decode initial state", err)
	}
	history := &StateHistory{InitialState: initial, ActionHistory: []json.RawMessage{}}
	actions := make([]reducer.Action, 0, len(props.History.Actions))
	for i, a := range props.History.Actions {
		if a == nil {
			continue
		}
		b, err := json.Marshal(a)
		if err != nil {
			return nil, malformed(fmt.Sprintf("encode action %d", i), err)
		}
		typed, err := reg.Decode(b)
		if err != nil {
			return nil, malformed(fmt.Sprintf("decode action %d", i), err)
		}
		history.ActionHistory = append(history.ActionHistory, b)
		actions = append(actions, typed)
	}
	current, err := reg.Replay(initial, actions)
	if err != nil {
		return nil, malformed("replay history", err)
	}
	out.CurrentState = current
	out.History = history
	return out, nil
}

// MigratePartialExport migrates the templates of a partial export by running
// them through the state migrations inside an otherwise empty state.
func MigratePartialExport(raw []byte) (*PartialExport, error) {
	var in struct {
		Type              string          `json:"type"`
		FileVersion       int             `json:"fileVersion"`
		DataVersion       int             `json:"dataVersion"`
		PatientCategories json.RawMessage `json:"patientCategories"`
		VehicleTemplates  json.RawMessage `json:"vehicleTemplates"`
		MapImageTemplates json.RawMessage `json:"mapImageTemplates"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, malformed("decode export", err)
	}
	if in.Type != TypePartial {
		return nil, malformed(fmt.Sprintf("export type %q is not %q", in.Type, TypePartial), nil)
	}

	skeleton, err := json.Marshal(model.NewExerciseState("123456"))
	if err != nil {
		return nil, malformed("encode skeleton", err)
	}
	var state map[string]any
	if err := json.Unmarshal(skeleton, &state); err != nil {
		return nil, malformed("decode skeleton", err)
	}
	present := map[string]bool{}
	for key, msg := range map[string]json.RawMessage{
		"patientCategories": in.PatientCategories,
		"vehicleTemplates":  in.VehicleTemplates,
		"mapImageTemplates": in.MapImageTemplates,
	} {
		if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
			continue
		}
		var v []any
		if err := json.Unmarshal(msg, &v); err != nil {
			return nil, malformed("decode "+key, err)
		}
		state[key] = v
		present[key] = true
	}

	version, err := ApplyMigrations(in.DataVersion, &Properties{CurrentState: state})
	if err != nil {
		return nil, err
	}
	migrated, err := toState(state)
	if err != nil {
		return nil, malformed("decode templates", err)
	}
	out := &PartialExport{Type: TypePartial, FileVersion: in.FileVersion, DataVersion: version}
	if present["patientCategories"] {
		out.PatientCategories = migrated.PatientCategories
	}
	if present["vehicleTemplates"] {
		out.VehicleTemplates = migrated.VehicleTemplates
	}
	if present["mapImageTemplates"] {
		out.MapImageTemplates = migrated.MapImageTemplates
	}
	return out, nil
}

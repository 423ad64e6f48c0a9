package migration

import (
	"encoding/json"

	"manvsim.ai/internal/sim/model"
)

const (
	// CurrentDataVersion is the schema version of states and actions this
	// build produces.
	CurrentDataVersion = 5
	// CurrentFileVersion is the version of the export envelope.
	CurrentFileVersion = 3

	TypeComplete = "complete"
	TypePartial  = "partial"
)

// StateExport is a complete exercise export: the current state and,
// optionally, the history it was reached with.
type StateExport struct {
	Type         string               `json:"type"`
	FileVersion  int                  `json:"fileVersion"`
	DataVersion  int                  `json:"dataVersion"`
	CurrentState *model.ExerciseState `json:"currentState"`
	History      *StateHistory        `json:"history,omitempty"`
}

type StateHistory struct {
	InitialState  *model.ExerciseState `json:"initialState"`
	ActionHistory []json.RawMessage    `json:"actionHistory"`
}

// PartialExport carries templates only. A nil slice means the export does
// not contain that kind of template.
type PartialExport struct {
	Type              string                   `json:"type"`
	FileVersion       int                      `json:"fileVersion"`
	DataVersion       int                      `json:"dataVersion"`
	PatientCategories []model.PatientCategory  `json:"patientCategories,omitempty"`
	VehicleTemplates  []model.VehicleTemplate  `json:"vehicleTemplates,omitempty"`
	MapImageTemplates []model.MapImageTemplate `json:"mapImageTemplates,omitempty"`
}

// NewStateExport wraps a state at the current versions. initial may be nil,
// in which case the export carries no history.
func NewStateExport(current, initial *model.ExerciseState, actions []json.RawMessage) *StateExport {
	e := &StateExport{
		Type:         TypeComplete,
		FileVersion:  CurrentFileVersion,
		DataVersion:  CurrentDataVersion,
		CurrentState: current,
	}
	if initial != nil {
		if actions == nil {
			actions = []json.RawMessage{}
		}
		e.History = &StateHistory{InitialState: initial, ActionHistory: actions}
	}
	return e
}

// NewPartialExport exports the templates of s.
func NewPartialExport(s *model.ExerciseState) *PartialExport {
	return &PartialExport{
		Type:              TypePartial,
		FileVersion:       CurrentFileVersion,
		DataVersion:       CurrentDataVersion,
		PatientCategories: s.PatientCategories,
		VehicleTemplates:  s.VehicleTemplates,
		MapImageTemplates: s.MapImageTemplates,
	}
}

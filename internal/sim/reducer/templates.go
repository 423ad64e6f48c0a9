package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

const ImportTemplatesType = "[Templates] Import templates"

type ImportMode string

const (
	ImportAppend    ImportMode = "append"
	ImportOverwrite ImportMode = "overwrite"
)

// ImportTemplatesAction merges the templates of a partial export. Nil
// lists are left alone; in overwrite mode given lists replace the current
// ones.
type ImportTemplatesAction struct {
	Mode              ImportMode               `json:"mode"`
	PatientCategories []model.PatientCategory  `json:"patientCategories,omitempty"`
	VehicleTemplates  []model.VehicleTemplate  `json:"vehicleTemplates,omitempty"`
	MapImageTemplates []model.MapImageTemplate `json:"mapImageTemplates,omitempty"`
}

func (ImportTemplatesAction) ActionType() string { return ImportTemplatesType }

func registerTemplates(r *Registry) {
	register(r, "importTemplates", model.RoleTrainer, reduceImportTemplates)
}

func reduceImportTemplates(ctx *simulation.Context, a ImportTemplatesAction) error {
	s := ctx.State()
	if a.PatientCategories != nil {
		s.PatientCategories = mergeTemplates(a.Mode, s.PatientCategories, a.PatientCategories, func(c model.PatientCategory) string { return c.Name })
	}
	if a.VehicleTemplates != nil {
		s.VehicleTemplates = mergeTemplates(a.Mode, s.VehicleTemplates, a.VehicleTemplates, func(t model.VehicleTemplate) string { return t.ID })
	}
	if a.MapImageTemplates != nil {
		s.MapImageTemplates = mergeTemplates(a.Mode, s.MapImageTemplates, a.MapImageTemplates, func(t model.MapImageTemplate) string { return t.ID })
	}
	return nil
}

// mergeTemplates returns a new slice; in append mode imported entries
// replace current entries with the same key.
func mergeTemplates[T any](mode ImportMode, current, imported []T, key func(T) string) []T {
	if mode == ImportOverwrite {
		return append([]T(nil), imported...)
	}
	replaced := map[string]bool{}
	for _, t := range imported {
		replaced[key(t)] = true
	}
	out := make([]T, 0, len(current)+len(imported))
	for _, t := range current {
		if !replaced[key(t)] {
			out = append(out, t)
		}
	}
	return append(out, imported...)
}

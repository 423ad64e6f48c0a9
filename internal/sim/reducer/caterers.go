package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

const (
	MovePersonnelType = "[Personnel] Move personnel"
	MoveMaterialType  = "[Material] Move material"
)

type MovePersonnelAction struct {
	PersonnelID    model.UUID           `json:"personnelId"`
	TargetPosition model.MapCoordinates `json:"targetPosition"`
}

func (MovePersonnelAction) ActionType() string { return MovePersonnelType }

type MoveMaterialAction struct {
	MaterialID     model.UUID           `json:"materialId"`
	TargetPosition model.MapCoordinates `json:"targetPosition"`
}

func (MoveMaterialAction) ActionType() string { return MoveMaterialType }

func registerCaterers(r *Registry) {
	register(r, "movePersonnel", model.RoleParticipant, reduceMovePersonnel)
	register(r, "moveMaterial", model.RoleParticipant, reduceMoveMaterial)
}

func reduceMovePersonnel(ctx *simulation.Context, a MovePersonnelAction) error {
	p, err := getPersonnel(ctx.State(), a.PersonnelID)
	if err != nil {
		return err
	}
	if !p.Position.IsOnMap() {
		return fail("personnel %s is not on the map", a.PersonnelID)
	}
	ctx.Draft.MutPersonnel(a.PersonnelID).Position = model.MapPosition(a.TargetPosition)
	simulation.RecalculateCaterer(ctx, model.ElementPersonnel, a.PersonnelID)
	return nil
}

func reduceMoveMaterial(ctx *simulation.Context, a MoveMaterialAction) error {
	m, err := getMaterial(ctx.State(), a.MaterialID)
	if err != nil {
		return err
	}
	if !m.Position.IsOnMap() {
		return fail("material %s is not on the map", a.MaterialID)
	}
	ctx.Draft.MutMaterial(a.MaterialID).Position = model.MapPosition(a.TargetPosition)
	simulation.RecalculateCaterer(ctx, model.ElementMaterial, a.MaterialID)
	return nil
}

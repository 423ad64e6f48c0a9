package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

const (
	AddTransferPointType         = "[TransferPoint] Add TransferPoint"
	RemoveTransferPointType      = "[TransferPoint] Remove TransferPoint"
	ConnectTransferPointsType    = "[TransferPoint] Connect TransferPoints"
	DisconnectTransferPointsType = "[TransferPoint] Disconnect TransferPoints"
)

type AddTransferPointAction struct {
	TransferPoint *model.TransferPoint `json:"transferPoint"`
}

func (AddTransferPointAction) ActionType() string { return AddTransferPointType }

type RemoveTransferPointAction struct {
	TransferPointID model.UUID `json:"transferPointId"`
}

func (RemoveTransferPointAction) ActionType() string { return RemoveTransferPointType }

// ConnectTransferPointsAction connects two transfer points in both
// directions. Duration is the transfer time in milliseconds.
type ConnectTransferPointsAction struct {
	TransferPointID1 model.UUID `json:"transferPointId1"`
	TransferPointID2 model.UUID `json:"transferPointId2"`
	Duration         int64      `json:"duration"`
}

func (ConnectTransferPointsAction) ActionType() string { return ConnectTransferPointsType }

type DisconnectTransferPointsAction struct {
	TransferPointID1 model.UUID `json:"transferPointId1"`
	TransferPointID2 model.UUID `json:"transferPointId2"`
}

func (DisconnectTransferPointsAction) ActionType() string { return DisconnectTransferPointsType }

func registerTransferPoints(r *Registry) {
	register(r, "addTransferPoint", model.RoleTrainer, reduceAddTransferPoint)
	register(r, "removeTransferPoint", model.RoleTrainer, reduceRemoveTransferPoint)
	register(r, "connectTransferPoints", model.RoleTrainer, reduceConnectTransferPoints)
	register(r, "disconnectTransferPoints", model.RoleTrainer, reduceDisconnectTransferPoints)
}

func reduceAddTransferPoint(ctx *simulation.Context, a AddTransferPointAction) error {
	s := ctx.State()
	tp := a.TransferPoint.Clone()
	if err := requireFreshID(s, model.ElementTransferPoint, tp.ID); err != nil {
		return err
	}
	switch {
	case tp.Position.IsOnMap():
	case tp.Position.IsInSimulatedRegion():
		if _, ok := s.SimulatedRegions[tp.Position.SimulatedRegionID]; !ok {
			return notFound(model.ElementSimulatedRegion, tp.Position.SimulatedRegionID)
		}
		if simulation.TransferPointOfRegion(s, tp.Position.SimulatedRegionID) != nil {
			return fail("simulated region %s already has a transfer point", tp.Position.SimulatedRegionID)
		}
	default:
		return fail("transfer points must be on the map or in a simulated region")
	}
	for other := range tp.ReachableTransferPoints {
		if s.TransferPoints[other] == nil {
			return notFound(model.ElementTransferPoint, other)
		}
	}
	ctx.Draft.PutTransferPoint(tp)
	for _, other := range model.SortedKeys(tp.ReachableTransferPoints) {
		ctx.Draft.MutTransferPoint(other).ReachableTransferPoints[tp.ID] = tp.ReachableTransferPoints[other]
	}
	return nil
}

// inTransferVia reports whether a vehicle or personnel travels from or to
// a transfer point.
func inTransferVia(s *model.ExerciseState, tpID model.UUID) bool {
	via := func(p model.Position) bool {
		return p.IsInTransfer() && (p.Transfer.StartTransferPointID == tpID || p.Transfer.TargetTransferPointID == tpID)
	}
	for _, v := range s.Vehicles {
		if via(v.Position) {
			return true
		}
	}
	for _, p := range s.Personnel {
		if via(p.Position) {
			return true
		}
	}
	return false
}

func removeTransferPoint(ctx *simulation.Context, tpID model.UUID) {
	for _, id := range model.SortedKeys(ctx.State().TransferPoints) {
		if _, ok := ctx.State().TransferPoints[id].ReachableTransferPoints[tpID]; ok {
			delete(ctx.Draft.MutTransferPoint(id).ReachableTransferPoints, tpID)
		}
	}
	ctx.Draft.DeleteTransferPoint(tpID)
}

func reduceRemoveTransferPoint(ctx *simulation.Context, a RemoveTransferPointAction) error {
	if _, err := getTransferPoint(ctx.State(), a.TransferPointID); err != nil {
		return err
	}
	if inTransferVia(ctx.State(), a.TransferPointID) {
		return fail("elements are in transfer to or from transfer point %s", a.TransferPointID)
	}
	removeTransferPoint(ctx, a.TransferPointID)
	return nil
}

func reduceConnectTransferPoints(ctx *simulation.Context, a ConnectTransferPointsAction) error {
	if a.TransferPointID1 == a.TransferPointID2 {
		return fail("a transfer point cannot be connected to itself")
	}
	for _, id := range []model.UUID{a.TransferPointID1, a.TransferPointID2} {
		if _, err := getTransferPoint(ctx.State(), id); err != nil {
			return err
		}
	}
	conn := model.TransferConnection{Duration: a.Duration}
	ctx.Draft.MutTransferPoint(a.TransferPointID1).ReachableTransferPoints[a.TransferPointID2] = conn
	ctx.Draft.MutTransferPoint(a.TransferPointID2).ReachableTransferPoints[a.TransferPointID1] = conn
	return nil
}

func reduceDisconnectTransferPoints(ctx *simulation.Context, a DisconnectTransferPointsAction) error {
	for _, id := range []model.UUID{a.TransferPointID1, a.TransferPointID2} {
		if _, err := getTransferPoint(ctx.State(), id); err != nil {
			return err
		}
	}
	delete(ctx.Draft.MutTransferPoint(a.TransferPointID1).ReachableTransferPoints, a.TransferPointID2)
	delete(ctx.Draft.MutTransferPoint(a.TransferPointID2).ReachableTransferPoints, a.TransferPointID1)
	return nil
}

package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

const (
	AddToTransferType       = "[Transfer] Add to transfer"
	EditTransferType        = "[Transfer] Edit transfer"
	TogglePauseTransferType = "[Transfer] Toggle pause transfer"
	FinishTransferType      = "[Transfer] Finish transfer"
)

// AddToTransferAction sends a vehicle or a personnel from the transfer
// point it stands at to a connected one.
type AddToTransferAction struct {
	ElementType           model.ElementType `json:"elementType"`
	ElementID             model.UUID        `json:"elementId"`
	StartTransferPointID  model.UUID        `json:"startTransferPointId"`
	TargetTransferPointID model.UUID        `json:"targetTransferPointId"`
}

func (AddToTransferAction) ActionType() string { return AddToTransferType }

// EditTransferAction changes the target or shifts the arrival time of a
// running transfer.
type EditTransferAction struct {
	ElementType           model.ElementType `json:"elementType"`
	ElementID             model.UUID        `json:"elementId"`
	TargetTransferPointID model.UUID        `json:"targetTransferPointId,omitempty"`
	TimeChange            int64             `json:"timeChange,omitempty"`
}

func (EditTransferAction) ActionType() string { return EditTransferType }

type TogglePauseTransferAction struct {
	ElementType model.ElementType `json:"elementType"`
	ElementID   model.UUID        `json:"elementId"`
}

func (TogglePauseTransferAction) ActionType() string { return TogglePauseTransferType }

// FinishTransferAction lets an element arrive immediately.
type FinishTransferAction struct {
	ElementType           model.ElementType `json:"elementType"`
	ElementID             model.UUID        `json:"elementId"`
	TargetTransferPointID model.UUID        `json:"targetTransferPointId"`
}

func (FinishTransferAction) ActionType() string { return FinishTransferType }

func registerTransfers(r *Registry) {
	register(r, "addToTransfer", model.RoleParticipant, reduceAddToTransfer)
	register(r, "editTransfer", model.RoleTrainer, reduceEditTransfer)
	register(r, "togglePauseTransfer", model.RoleTrainer, reduceTogglePauseTransfer)
	register(r, "finishTransfer", model.RoleTrainer, reduceFinishTransfer)
}

func transferable(s *model.ExerciseState, t model.ElementType, id model.UUID) (model.Position, error) {
	switch t {
	case model.ElementVehicle:
		v, err := getVehicle(s, id)
		if err != nil {
			return model.Position{}, err
		}
		return v.Position, nil
	case model.ElementPersonnel:
		p, err := getPersonnel(s, id)
		if err != nil {
			return model.Position{}, err
		}
		return p.Position, nil
	}
	return model.Position{}, fail("elements of type %q cannot be transferred", t)
}

// mutTransfer returns the writable transfer of an element in transfer.
func mutTransfer(ctx *simulation.Context, t model.ElementType, id model.UUID) (*model.Transfer, error) {
	pos, err := transferable(ctx.State(), t, id)
	if err != nil {
		return nil, err
	}
	if !pos.IsInTransfer() {
		return nil, fail("%s %s is not in transfer", t, id)
	}
	if t == model.ElementVehicle {
		return ctx.Draft.MutVehicle(id).Position.Transfer, nil
	}
	return ctx.Draft.MutPersonnel(id).Position.Transfer, nil
}

func reduceAddToTransfer(ctx *simulation.Context, a AddToTransferAction) error {
	s := ctx.State()
	pos, err := transferable(s, a.ElementType, a.ElementID)
	if err != nil {
		return err
	}
	if pos.IsInTransfer() || pos.IsInVehicle() {
		return fail("%s %s cannot start a transfer from its position", a.ElementType, a.ElementID)
	}
	start, err := getTransferPoint(s, a.StartTransferPointID)
	if err != nil {
		return err
	}
	if _, err := getTransferPoint(s, a.TargetTransferPointID); err != nil {
		return err
	}
	if start.Position.IsInSimulatedRegion() && !pos.InRegion(start.Position.SimulatedRegionID) {
		return fail("%s %s is not at transfer point %s", a.ElementType, a.ElementID, start.ID)
	}
	conn, ok := start.ReachableTransferPoints[a.TargetTransferPointID]
	if !ok {
		return fail("transfer point %s is not connected to %s", a.StartTransferPointID, a.TargetTransferPointID)
	}
	if a.ElementType == model.ElementVehicle {
		simulation.StartVehicleTransfer(ctx, a.ElementID, a.StartTransferPointID, a.TargetTransferPointID, conn.Duration)
		return nil
	}
	simulation.StartPersonnelTransfer(ctx, a.ElementID, a.StartTransferPointID, a.TargetTransferPointID, conn.Duration)
	return nil
}

func reduceEditTransfer(ctx *simulation.Context, a EditTransferAction) error {
	if a.TargetTransferPointID != "" {
		if _, err := getTransferPoint(ctx.State(), a.TargetTransferPointID); err != nil {
			return err
		}
	}
	t, err := mutTransfer(ctx, a.ElementType, a.ElementID)
	if err != nil {
		return err
	}
	if a.TargetTransferPointID != "" {
		t.TargetTransferPointID = a.TargetTransferPointID
	}
	t.EndTimeStamp += a.TimeChange
	return nil
}

func reduceTogglePauseTransfer(ctx *simulation.Context, a TogglePauseTransferAction) error {
	t, err := mutTransfer(ctx, a.ElementType, a.ElementID)
	if err != nil {
		return err
	}
	t.IsPaused = !t.IsPaused
	return nil
}

func reduceFinishTransfer(ctx *simulation.Context, a FinishTransferAction) error {
	if _, err := getTransferPoint(ctx.State(), a.TargetTransferPointID); err != nil {
		return err
	}
	t, err := mutTransfer(ctx, a.ElementType, a.ElementID)
	if err != nil {
		return err
	}
	t.TargetTransferPointID = a.TargetTransferPointID
	t.EndTimeStamp = ctx.Now()
	t.IsPaused = false
	if a.ElementType == model.ElementVehicle {
		simulation.LetVehicleArrive(ctx, a.ElementID)
		return nil
	}
	simulation.LetPersonnelArrive(ctx, a.ElementID)
	return nil
}

package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

const (
	AddViewportType    = "[Viewport] Add viewport"
	RemoveViewportType = "[Viewport] Remove viewport"
)

type AddViewportAction struct {
	Viewport *model.Viewport `json:"viewport"`
}

func (AddViewportAction) ActionType() string { return AddViewportType }

type RemoveViewportAction struct {
	ViewportID model.UUID `json:"viewportId"`
}

func (RemoveViewportAction) ActionType() string { return RemoveViewportType }

func registerViewports(r *Registry) {
	register(r, "addViewport", model.RoleTrainer, reduceAddViewport)
	register(r, "removeViewport", model.RoleTrainer, reduceRemoveViewport)
}

func reduceAddViewport(ctx *simulation.Context, a AddViewportAction) error {
	if err := requireFreshID(ctx.State(), model.ElementViewport, a.Viewport.ID); err != nil {
		return err
	}
	ctx.Draft.PutViewport(a.Viewport.Clone())
	return nil
}

// Clients restricted to a removed viewport see the whole map again.
func reduceRemoveViewport(ctx *simulation.Context, a RemoveViewportAction) error {
	if _, err := getViewport(ctx.State(), a.ViewportID); err != nil {
		return err
	}
	ctx.Draft.DeleteViewport(a.ViewportID)
	for _, id := range model.SortedKeys(ctx.State().Clients) {
		if ctx.State().Clients[id].ViewRestrictedToViewportID == a.ViewportID {
			ctx.Draft.MutClient(id).ViewRestrictedToViewportID = ""
		}
	}
	return nil
}

package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

const (
	AddClientType          = "[Client] Add client"
	RemoveClientType       = "[Client] Remove client"
	RestrictToViewportType = "[Client] Restrict to viewport"
	SetWaitingRoomType     = "[Client] Set waitingroom"
)

type AddClientAction struct {
	Client *model.Client `json:"client"`
}

func (AddClientAction) ActionType() string { return AddClientType }

type RemoveClientAction struct {
	ClientID model.UUID `json:"clientId"`
}

func (RemoveClientAction) ActionType() string { return RemoveClientType }

// RestrictToViewportAction restricts a client's view; an empty viewport id
// lifts the restriction.
type RestrictToViewportAction struct {
	ClientID   model.UUID `json:"clientId"`
	ViewportID model.UUID `json:"viewportId,omitempty"`
}

func (RestrictToViewportAction) ActionType() string { return RestrictToViewportType }

type SetWaitingRoomAction struct {
	ClientID              model.UUID `json:"clientId"`
	ShouldBeInWaitingRoom bool       `json:"shouldBeInWaitingRoom"`
}

func (SetWaitingRoomAction) ActionType() string { return SetWaitingRoomType }

func registerClients(r *Registry) {
	register(r, "addClient", model.RoleServer, reduceAddClient)
	register(r, "removeClient", model.RoleServer, reduceRemoveClient)
	register(r, "restrictToViewport", model.RoleTrainer, reduceRestrictToViewport)
	register(r, "setWaitingRoom", model.RoleTrainer, reduceSetWaitingRoom)
}

func reduceAddClient(ctx *simulation.Context, a AddClientAction) error {
	if err := requireFreshID(ctx.State(), model.ElementClient, a.Client.ID); err != nil {
		return err
	}
	ctx.Draft.PutClient(a.Client.Clone())
	return nil
}

func reduceRemoveClient(ctx *simulation.Context, a RemoveClientAction) error {
	if _, err := getClient(ctx.State(), a.ClientID); err != nil {
		return err
	}
	ctx.Draft.DeleteClient(a.ClientID)
	return nil
}

func reduceRestrictToViewport(ctx *simulation.Context, a RestrictToViewportAction) error {
	if _, err := getClient(ctx.State(), a.ClientID); err != nil {
		return err
	}
	if a.ViewportID != "" {
		if _, err := getViewport(ctx.State(), a.ViewportID); err != nil {
			return err
		}
	}
	ctx.Draft.MutClient(a.ClientID).ViewRestrictedToViewportID = a.ViewportID
	return nil
}

func reduceSetWaitingRoom(ctx *simulation.Context, a SetWaitingRoomAction) error {
	if _, err := getClient(ctx.State(), a.ClientID); err != nil {
		return err
	}
	ctx.Draft.MutClient(a.ClientID).IsInWaitingRoom = a.ShouldBeInWaitingRoom
	return nil
}

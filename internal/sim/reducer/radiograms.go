package reducer

import (
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/simulation"
)

const (
	AcceptRadiogramType   = "[Radiogram] Accept radiogram"
	MarkRadiogramDoneType = "[Radiogram] Mark as done"
)

type AcceptRadiogramAction struct {
	RadiogramID model.UUID `json:"radiogramId"`
	ClientID    model.UUID `json:"clientId"`
}

func (AcceptRadiogramAction) ActionType() string { return AcceptRadiogramType }

type MarkRadiogramDoneAction struct {
	RadiogramID model.UUID `json:"radiogramId"`
}

func (MarkRadiogramDoneAction) ActionType() string { return MarkRadiogramDoneType }

func registerRadiograms(r *Registry) {
	register(r, "acceptRadiogram", model.RoleParticipant, reduceAcceptRadiogram)
	register(r, "markRadiogramDone", model.RoleParticipant, reduceMarkRadiogramDone)
}

func reduceAcceptRadiogram(ctx *simulation.Context, a AcceptRadiogramAction) error {
	rg, err := getRadiogram(ctx.State(), a.RadiogramID)
	if err != nil {
		return err
	}
	if rg.Status != model.RadiogramUnread {
		return fail("radiogram %s was already accepted", a.RadiogramID)
	}
	w := ctx.Draft.MutRadiogram(a.RadiogramID)
	w.Status = model.RadiogramAccepted
	w.AcceptedBy = a.ClientID
	return nil
}

func reduceMarkRadiogramDone(ctx *simulation.Context, a MarkRadiogramDoneAction) error {
	rg, err := getRadiogram(ctx.State(), a.RadiogramID)
	if err != nil {
		return err
	}
	if rg.Status != model.RadiogramAccepted {
		return fail("radiogram %s has to be accepted first", a.RadiogramID)
	}
	ctx.Draft.MutRadiogram(a.RadiogramID).Status = model.RadiogramDone
	return nil
}

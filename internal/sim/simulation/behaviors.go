package simulation

import (
	"sort"

	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/standin"
)

func handleUnloadArrivingVehicles(ctx *Context, r *model.SimulatedRegion, b *model.BehaviorState, e model.Event) {
	if e.Type != model.VehicleArrivedEventType {
		return
	}
	v := ctx.State().Vehicles[e.VehicleID]
	if v == nil || !v.Position.InRegion(r.ID) {
		return
	}
	id := r.NextID()
	r.Activities[id] = &model.ActivityState{
		ID:        id,
		Type:      model.UnloadVehicleActivity,
		VehicleID: v.ID,
		StartTime: ctx.Now(),
		Duration:  b.UnloadDelay,
	}
	mv := ctx.Draft.MutVehicle(v.ID)
	mv.Occupation = model.Occupation{Type: model.UnloadingOccupation, ActivityID: id, RegionID: r.ID}
}

func handleTreatPatients(ctx *Context, r *model.SimulatedRegion, b *model.BehaviorState, e model.Event) {
	switch e.Type {
	case model.NewPatientEventType, model.PatientRemovedEventType,
		model.PersonnelAvailableEventType, model.PersonnelRemovedEventType,
		model.MaterialAvailableEventType, model.MaterialRemovedEventType:
		if b.TimerActivityID != "" {
			if _, running := r.Activities[b.TimerActivityID]; running {
				return
			}
		}
		id := r.NextID()
		r.Activities[id] = &model.ActivityState{
			ID:      id,
			Type:    model.DelayEventActivity,
			EndTime: ctx.Now() + b.RecalculateDelay,
			Event:   &model.Event{Type: model.TreatmentsTimerEventType, Key: b.ID},
		}
		b.TimerActivityID = id
	case model.TreatmentsTimerEventType:
		if e.Key != b.ID {
			return
		}
		b.TimerActivityID = ""
		AssignTreatmentsInRegion(ctx, r.ID)
	}
}

func removeTreatPatients(ctx *Context, r *model.SimulatedRegion, b *model.BehaviorState) {
	if b.TimerActivityID != "" {
		delete(r.Activities, b.TimerActivityID)
	}
}

// VehicleCountsInRegion counts the vehicles of each type that are in a
// region or on their way to its transfer point.
func VehicleCountsInRegion(s *model.ExerciseState, regionID model.UUID) map[string]int {
	counts := map[string]int{}
	var tpID model.UUID
	if tp := TransferPointOfRegion(s, regionID); tp != nil {
		tpID = tp.ID
	}
	for _, id := range model.SortedKeys(s.Vehicles) {
		v := s.Vehicles[id]
		switch {
		case v.Position.InRegion(regionID):
			counts[v.VehicleType]++
		case tpID != "" && v.Position.IsInTransfer() && v.Position.Transfer.TargetTransferPointID == tpID:
			counts[v.VehicleType]++
		}
	}
	return counts
}

func vehicleDeficit(desired, have map[string]int) map[string]int {
	out := map[string]int{}
	for t, n := range desired {
		if missing := n - have[t]; missing > 0 {
			out[t] = missing
		}
	}
	return out
}

func handleRequestVehicles(ctx *Context, r *model.SimulatedRegion, b *model.BehaviorState, e model.Event) {
	switch e.Type {
	case model.VehiclesSentEventType:
		if e.Key != "" && e.Key == b.PendingKey {
			b.PendingKey = ""
		}
	case model.TickEventType:
		now := ctx.Now()
		if now < b.NextRequestTime {
			return
		}
		b.NextRequestTime = now + b.RequestInterval
		deficit := vehicleDeficit(b.DesiredVehicles, VehicleCountsInRegion(ctx.State(), r.ID))
		target := b.RequestTarget
		if target == nil {
			return
		}
		switch target.Type {
		case model.RequestTargetRegion:
			if len(deficit) == 0 {
				return
			}
			key := r.NextID()
			b.PendingKey = key
			SendEvent(ctx, target.SimulatedRegionID, model.Event{
				Type:              model.ResourceRequiredEventType,
				RequiringRegionID: r.ID,
				Resource:          deficit,
				Key:               key,
			})
		case model.RequestTargetTrainees:
			requestFromTrainees(ctx, r, b, deficit)
		}
	}
}

func requestFromTrainees(ctx *Context, r *model.SimulatedRegion, b *model.BehaviorState, deficit map[string]int) {
	existing := ctx.State().Radiograms[b.RadiogramID]
	if existing != nil && existing.Status != model.RadiogramUnread {
		// Trainees already work on the previous request.
		b.RadiogramID = ""
		existing = nil
	}
	if len(deficit) == 0 {
		if existing != nil {
			ctx.Draft.DeleteRadiogram(existing.ID)
			standin.CollectRadiogram(ctx.Updates, model.RadiogramDeleted, existing)
		}
		b.RadiogramID = ""
		return
	}
	if existing != nil {
		rg := ctx.Draft.MutRadiogram(existing.ID)
		rg.RequiredResource = deficit
		standin.CollectRadiogram(ctx.Updates, model.RadiogramModified, rg)
		return
	}
	id := r.NextID()
	rg := &model.Radiogram{
		ID:                id,
		Type:              model.ResourceRequestRadiogram,
		SimulatedRegionID: r.ID,
		RequiredResource:  deficit,
		Key:               b.ID,
		Status:            model.RadiogramUnread,
		CreatedAt:         ctx.Now(),
	}
	ctx.Draft.PutRadiogram(rg)
	b.RadiogramID = id
	standin.CollectRadiogram(ctx.Updates, model.RadiogramAdded, rg)
}

func removeRequestVehicles(ctx *Context, r *model.SimulatedRegion, b *model.BehaviorState) {
	rg := ctx.State().Radiograms[b.RadiogramID]
	if rg == nil || rg.Status != model.RadiogramUnread {
		return
	}
	ctx.Draft.DeleteRadiogram(rg.ID)
	standin.CollectRadiogram(ctx.Updates, model.RadiogramDeleted, rg)
}

// vehicleReady reports whether a vehicle parked in a region carries its whole
// crew and equipment and is not claimed by anything else.
func vehicleReady(s *model.ExerciseState, v *model.Vehicle) bool {
	if !v.Occupation.IsFree(s.CurrentTime) {
		return false
	}
	for _, id := range v.PersonnelIDs.Sorted() {
		if p := s.Personnel[id]; p == nil || !p.Position.InVehicle(v.ID) {
			return false
		}
	}
	for _, id := range v.MaterialIDs.Sorted() {
		if m := s.Materials[id]; m == nil || !m.Position.InVehicle(v.ID) {
			return false
		}
	}
	return true
}

func handleProvideVehicles(ctx *Context, r *model.SimulatedRegion, b *model.BehaviorState, e model.Event) {
	if e.Type != model.ResourceRequiredEventType || e.RequiringRegionID == r.ID {
		return
	}
	s := ctx.State()
	own := TransferPointOfRegion(s, r.ID)
	dest := TransferPointOfRegion(s, e.RequiringRegionID)
	if own == nil || dest == nil {
		sendOwnEvent(r, model.Event{Type: model.TransferConnectionMissingEventType, DestinationRegionID: e.RequiringRegionID, Key: e.Key})
		return
	}
	conn, ok := own.ReachableTransferPoints[dest.ID]
	if !ok {
		sendOwnEvent(r, model.Event{Type: model.TransferConnectionMissingEventType, TransferPointID: dest.ID, Key: e.Key})
		return
	}

	types := make([]string, 0, len(e.Resource))
	for t := range e.Resource {
		types = append(types, t)
	}
	sort.Strings(types)

	sent := map[string]int{}
	for _, t := range types {
		want := e.Resource[t]
		for _, id := range model.SortedKeys(s.Vehicles) {
			if sent[t] >= want {
				break
			}
			v := s.Vehicles[id]
			if v.VehicleType != t || !v.Position.InRegion(r.ID) || !vehicleReady(s, v) {
				continue
			}
			StartVehicleTransfer(ctx, v.ID, own.ID, dest.ID, conn.Duration)
			sent[t]++
		}
	}
	if len(sent) == 0 {
		return
	}
	SendEvent(ctx, e.RequiringRegionID, model.Event{
		Type:                model.VehiclesSentEventType,
		Resource:            sent,
		DestinationRegionID: e.RequiringRegionID,
		Key:                 e.Key,
	})
}

func handleTransferToHospital(ctx *Context, r *model.SimulatedRegion, b *model.BehaviorState, e model.Event) {
	if e.Type != model.TickEventType {
		return
	}
	now := ctx.Now()
	if now < b.NextCheckTime {
		return
	}
	b.NextCheckTime = now + b.CheckInterval
	if ctx.State().Hospitals[b.HospitalID] == nil {
		return
	}
	s := ctx.State()
	for _, id := range model.SortedKeys(s.Vehicles) {
		v := s.Vehicles[id]
		if !v.Position.InRegion(r.ID) || len(v.PatientIDs) == 0 || !vehicleReady(s, v) {
			continue
		}
		if err := TransportToHospital(ctx, v.ID, b.HospitalID); err != nil {
			// retried on the next check
			continue
		}
	}
}

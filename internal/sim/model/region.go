package model

import (
	"encoding/json"
	"fmt"
	"maps"
)

type RegionType string

const (
	RegionFull    RegionType = "simulatedRegion"
	RegionStandIn RegionType = "simulatedRegionStandIn"
)

// RegionGeometry is shared by both region variants.
type RegionGeometry struct {
	ID          UUID           `json:"id"`
	Type        RegionType     `json:"type"`
	Name        string         `json:"name"`
	Position    MapCoordinates `json:"position"`
	Size        Size           `json:"size"`
	BorderColor string         `json:"borderColor"`
}

// Region is either a *SimulatedRegion or a *SimulatedRegionStandIn.
type Region interface {
	Geometry() *RegionGeometry
	isRegion()
}

// SimulatedRegion is a fully materialized region.
type SimulatedRegion struct {
	RegionGeometry
	InEvents   []Event                 `json:"inEvents"`
	OwnEvents  []Event                 `json:"ownEvents"`
	Behaviors  []*BehaviorState        `json:"behaviors"`
	Activities map[UUID]*ActivityState `json:"activities"`
	IDCounter  uint64                  `json:"idCounter"`
}

func (r *SimulatedRegion) Geometry() *RegionGeometry { return &r.RegionGeometry }
func (*SimulatedRegion) isRegion()                   {}

// NextID returns a fresh id scoped to the region. The sequence only depends
// on the region's own state, so every replica derives the same ids.
func (r *SimulatedRegion) NextID() UUID {
	r.IDCounter++
	return DeriveUUID(r.ID, fmt.Sprintf("%d", r.IDCounter))
}

func (r *SimulatedRegion) Behavior(id UUID) *BehaviorState {
	for _, b := range r.Behaviors {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (r *SimulatedRegion) Clone() *SimulatedRegion {
	out := *r
	out.InEvents = cloneEvents(r.InEvents)
	out.OwnEvents = cloneEvents(r.OwnEvents)
	out.Behaviors = make([]*BehaviorState, len(r.Behaviors))
	for i, b := range r.Behaviors {
		out.Behaviors[i] = b.Clone()
	}
	out.Activities = make(map[UUID]*ActivityState, len(r.Activities))
	for id, a := range r.Activities {
		out.Activities[id] = a.Clone()
	}
	return &out
}

// OmittedElements are the ids hidden inside a stand-in, per element type.
type OmittedElements struct {
	Patients  UUIDSet `json:"patients"`
	Vehicles  UUIDSet `json:"vehicles"`
	Personnel UUIDSet `json:"personnel"`
	Materials UUIDSet `json:"materials"`
}

func NewOmittedElements() OmittedElements {
	return OmittedElements{Patients: UUIDSet{}, Vehicles: UUIDSet{}, Personnel: UUIDSet{}, Materials: UUIDSet{}}
}

// Set returns the bucket for an element type, nil for types that are never omitted.
func (o *OmittedElements) Set(t ElementType) UUIDSet {
	switch t {
	case ElementPatient:
		return o.Patients
	case ElementVehicle:
		return o.Vehicles
	case ElementPersonnel:
		return o.Personnel
	case ElementMaterial:
		return o.Materials
	}
	return nil
}

// SimulatedRegionStandIn replaces a region whose elements are not loaded.
type SimulatedRegionStandIn struct {
	RegionGeometry
	Omitted        OmittedElements `json:"omitted"`
	DeferredEvents []Event         `json:"deferredEvents"`
}

func (s *SimulatedRegionStandIn) Geometry() *RegionGeometry { return &s.RegionGeometry }
func (*SimulatedRegionStandIn) isRegion()                   {}

func (s *SimulatedRegionStandIn) Clone() *SimulatedRegionStandIn {
	out := *s
	out.Omitted = OmittedElements{
		Patients:  s.Omitted.Patients.Clone(),
		Vehicles:  s.Omitted.Vehicles.Clone(),
		Personnel: s.Omitted.Personnel.Clone(),
		Materials: s.Omitted.Materials.Clone(),
	}
	out.DeferredEvents = cloneEvents(s.DeferredEvents)
	return &out
}

func CloneRegion(r Region) Region {
	switch v := r.(type) {
	case *SimulatedRegion:
		return v.Clone()
	case *SimulatedRegionStandIn:
		return v.Clone()
	}
	return nil
}

// RegionMap holds both region variants under one id space.
type RegionMap map[UUID]Region

func (m *RegionMap) UnmarshalJSON(b []byte) error {
	var raw map[UUID]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(RegionMap, len(raw))
	for id, msg := range raw {
		r, err := DecodeRegion(msg)
		if err != nil {
			return fmt.Errorf("simulated region %s: %w", id, err)
		}
		out[id] = r
	}
	*m = out
	return nil
}

// DecodeRegion decodes either region variant by its type tag.
func DecodeRegion(msg []byte) (Region, error) {
	var head struct {
		Type RegionType `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case RegionFull, "":
		var r SimulatedRegion
		if err := json.Unmarshal(msg, &r); err != nil {
			return nil, err
		}
		r.Type = RegionFull
		r.normalize()
		return &r, nil
	case RegionStandIn:
		var s SimulatedRegionStandIn
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, err
		}
		s.normalize()
		return &s, nil
	default:
		return nil, fmt.Errorf("unknown region type %q", head.Type)
	}
}

func (r *SimulatedRegion) normalize() {
	if r.InEvents == nil {
		r.InEvents = []Event{}
	}
	if r.OwnEvents == nil {
		r.OwnEvents = []Event{}
	}
	if r.Behaviors == nil {
		r.Behaviors = []*BehaviorState{}
	}
	if r.Activities == nil {
		r.Activities = map[UUID]*ActivityState{}
	}
}

func (s *SimulatedRegionStandIn) normalize() {
	for _, set := range []*UUIDSet{&s.Omitted.Patients, &s.Omitted.Vehicles, &s.Omitted.Personnel, &s.Omitted.Materials} {
		if *set == nil {
			*set = UUIDSet{}
		}
	}
	if s.DeferredEvents == nil {
		s.DeferredEvents = []Event{}
	}
}

// NewSimulatedRegion returns an empty full region.
func NewSimulatedRegion(id UUID, name string, pos MapCoordinates, size Size) *SimulatedRegion {
	r := &SimulatedRegion{RegionGeometry: RegionGeometry{
		ID:          id,
		Type:        RegionFull,
		Name:        name,
		Position:    pos,
		Size:        size,
		BorderColor: "#cccc00",
	}}
	r.normalize()
	return r
}

// EventType discriminates Event.
type EventType string

const (
	TickEventType                      EventType = "tickEvent"
	NewPatientEventType                EventType = "newPatientEvent"
	PersonnelAvailableEventType        EventType = "personnelAvailableEvent"
	MaterialAvailableEventType         EventType = "materialAvailableEvent"
	VehicleArrivedEventType            EventType = "vehicleArrivedEvent"
	PatientRemovedEventType            EventType = "patientRemovedEvent"
	PersonnelRemovedEventType          EventType = "personnelRemovedEvent"
	MaterialRemovedEventType           EventType = "materialRemovedEvent"
	VehicleRemovedEventType            EventType = "vehicleRemovedEvent"
	ResourceRequiredEventType          EventType = "resourceRequiredEvent"
	VehiclesSentEventType              EventType = "vehiclesSentEvent"
	TreatmentsTimerEventType           EventType = "treatmentsTimerEvent"
	TransferConnectionMissingEventType EventType = "transferConnectionMissingEvent"
)

// Event is an immutable fact queued in a region. Only the fields of its
// type are set.
type Event struct {
	Type                EventType      `json:"type"`
	TickInterval        int64          `json:"tickInterval,omitempty"`
	PatientID           UUID           `json:"patientId,omitempty"`
	PersonnelID         UUID           `json:"personnelId,omitempty"`
	MaterialID          UUID           `json:"materialId,omitempty"`
	VehicleID           UUID           `json:"vehicleId,omitempty"`
	ArrivalTime         int64          `json:"arrivalTime,omitempty"`
	RequiringRegionID   UUID           `json:"requiringSimulatedRegionId,omitempty"`
	DestinationRegionID UUID           `json:"destinationSimulatedRegionId,omitempty"`
	TransferPointID     UUID           `json:"transferPointId,omitempty"`
	Resource            map[string]int `json:"resource,omitempty"`
	Key                 string         `json:"key,omitempty"`
}

func (e Event) Clone() Event {
	out := e
	if e.Resource != nil {
		out.Resource = maps.Clone(e.Resource)
	}
	return out
}

func cloneEvents(in []Event) []Event {
	out := make([]Event, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

// CloneEvents copies an event queue.
func CloneEvents(in []Event) []Event { return cloneEvents(in) }

type BehaviorType string

const (
	UnloadArrivingVehiclesBehavior BehaviorType = "unloadArrivingVehiclesBehavior"
	TreatPatientsBehavior          BehaviorType = "treatPatientsBehavior"
	RequestVehiclesBehavior        BehaviorType = "requestVehiclesBehavior"
	ProvideVehiclesBehavior        BehaviorType = "provideVehiclesBehavior"
	TransferToHospitalBehavior     BehaviorType = "transferToHospitalBehavior"
)

type RequestTargetType string

const (
	RequestTargetRegion   RequestTargetType = "simulatedRegion"
	RequestTargetTrainees RequestTargetType = "trainees"
)

type RequestTarget struct {
	Type              RequestTargetType `json:"type"`
	SimulatedRegionID UUID              `json:"simulatedRegionId,omitempty"`
}

// BehaviorState is the persistent state of one behavior attached to a
// region. Only the fields of its type are used.
type BehaviorState struct {
	ID   UUID         `json:"id"`
	Type BehaviorType `json:"type"`

	UnloadDelay int64 `json:"unloadDelay,omitempty"`

	RecalculateDelay int64 `json:"recalculateDelay,omitempty"`
	TimerActivityID  UUID  `json:"timerActivityId,omitempty"`

	DesiredVehicles map[string]int `json:"desiredVehicles,omitempty"`
	RequestTarget   *RequestTarget `json:"requestTarget,omitempty"`
	RequestInterval int64          `json:"requestInterval,omitempty"`
	NextRequestTime int64          `json:"nextRequestTime,omitempty"`
	PendingKey      string         `json:"pendingKey,omitempty"`
	RadiogramID     UUID           `json:"radiogramId,omitempty"`

	HospitalID    UUID  `json:"hospitalId,omitempty"`
	CheckInterval int64 `json:"checkInterval,omitempty"`
	NextCheckTime int64 `json:"nextCheckTime,omitempty"`
}

func (b *BehaviorState) Clone() *BehaviorState {
	out := *b
	if b.DesiredVehicles != nil {
		out.DesiredVehicles = maps.Clone(b.DesiredVehicles)
	}
	if b.RequestTarget != nil {
		t := *b.RequestTarget
		out.RequestTarget = &t
	}
	return &out
}

type ActivityType string

const (
	UnloadVehicleActivity ActivityType = "unloadVehicleActivity"
	DelayEventActivity    ActivityType = "delayEventActivity"
)

// ActivityState is the persistent state of one running activity.
type ActivityState struct {
	ID        UUID         `json:"id"`
	Type      ActivityType `json:"type"`
	VehicleID UUID         `json:"vehicleId,omitempty"`
	StartTime int64        `json:"startTime,omitempty"`
	Duration  int64        `json:"duration,omitempty"`
	EndTime   int64        `json:"endTime,omitempty"`
	Event     *Event       `json:"event,omitempty"`
}

func (a *ActivityState) Clone() *ActivityState {
	out := *a
	if a.Event != nil {
		e := a.Event.Clone()
		out.Event = &e
	}
	return &out
}

package model

import "math"

type MapCoordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (c MapCoordinates) Add(dx, dy float64) MapCoordinates {
	return MapCoordinates{X: c.X + dx, Y: c.Y + dy}
}

func Distance(a, b MapCoordinates) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type PositionType string

const (
	PositionCoordinates     PositionType = "coordinates"
	PositionVehicle         PositionType = "vehicle"
	PositionSimulatedRegion PositionType = "simulatedRegion"
	PositionTransfer        PositionType = "transfer"
)

// Transfer is the payload of a transfer position.
type Transfer struct {
	StartTransferPointID  UUID  `json:"startTransferPointId"`
	TargetTransferPointID UUID  `json:"targetTransferPointId"`
	EndTimeStamp          int64 `json:"endTimeStamp"`
	IsPaused              bool  `json:"isPaused"`
}

// Position is a tagged union; Type selects which payload field is set.
type Position struct {
	Type              PositionType    `json:"type"`
	Coordinates       *MapCoordinates `json:"coordinates,omitempty"`
	VehicleID         UUID            `json:"vehicleId,omitempty"`
	SimulatedRegionID UUID            `json:"simulatedRegionId,omitempty"`
	Transfer          *Transfer       `json:"transfer,omitempty"`
}

func MapPosition(c MapCoordinates) Position {
	return Position{Type: PositionCoordinates, Coordinates: &c}
}

func VehiclePosition(vehicleID UUID) Position {
	return Position{Type: PositionVehicle, VehicleID: vehicleID}
}

func RegionPosition(regionID UUID) Position {
	return Position{Type: PositionSimulatedRegion, SimulatedRegionID: regionID}
}

func TransferPosition(t Transfer) Position {
	return Position{Type: PositionTransfer, Transfer: &t}
}

func (p Position) IsOnMap() bool { return p.Type == PositionCoordinates && p.Coordinates != nil }

func (p Position) IsInVehicle() bool { return p.Type == PositionVehicle }

func (p Position) IsInSimulatedRegion() bool { return p.Type == PositionSimulatedRegion }

func (p Position) IsInTransfer() bool { return p.Type == PositionTransfer && p.Transfer != nil }

// InRegion reports whether the position is inside the given region.
func (p Position) InRegion(regionID UUID) bool {
	return p.Type == PositionSimulatedRegion && p.SimulatedRegionID == regionID
}

// InVehicle reports whether the position is inside the given vehicle.
func (p Position) InVehicle(vehicleID UUID) bool {
	return p.Type == PositionVehicle && p.VehicleID == vehicleID
}

// Coords returns the map coordinates of an on-map position.
func (p Position) Coords() (MapCoordinates, bool) {
	if !p.IsOnMap() {
		return MapCoordinates{}, false
	}
	return *p.Coordinates, true
}

func (p Position) Clone() Position {
	out := p
	if p.Coordinates != nil {
		c := *p.Coordinates
		out.Coordinates = &c
	}
	if p.Transfer != nil {
		t := *p.Transfer
		out.Transfer = &t
	}
	return out
}

type OccupationType string

const (
	NoOccupation              OccupationType = "noOccupation"
	IntermediateOccupation    OccupationType = "intermediateOccupation"
	UnloadingOccupation       OccupationType = "unloadingOccupation"
	LoadOccupation            OccupationType = "loadOccupation"
	WaitForTransferOccupation OccupationType = "waitForTransferOccupation"
	PatientTransferOccupation OccupationType = "patientTransferOccupation"
)

// Occupation marks what a vehicle is currently used for. Automatic
// behaviors only pick vehicles that are free at the current time.
type Occupation struct {
	Type            OccupationType `json:"type"`
	UnoccupiedUntil int64          `json:"unoccupiedUntil,omitempty"`
	ActivityID      UUID           `json:"activityId,omitempty"`
	RegionID        UUID           `json:"simulatedRegionId,omitempty"`
}

func Unoccupied() Occupation { return Occupation{Type: NoOccupation} }

// IsFree reports whether the vehicle can be claimed at time now.
func (o Occupation) IsFree(now int64) bool {
	switch o.Type {
	case "", NoOccupation:
		return true
	case IntermediateOccupation:
		return o.UnoccupiedUntil <= now
	default:
		return false
	}
}

package model

import "maps"

type TransferConnection struct {
	Duration int64 `json:"duration"`
}

type TransferPoint struct {
	ID                      UUID                        `json:"id"`
	InternalName            string                      `json:"internalName"`
	ExternalName            string                      `json:"externalName"`
	Position                Position                    `json:"position"`
	ReachableTransferPoints map[UUID]TransferConnection `json:"reachableTransferPoints"`
	ReachableHospitals      UUIDSet                     `json:"reachableHospitals"`
}

func (t *TransferPoint) Clone() *TransferPoint {
	out := *t
	out.Position = t.Position.Clone()
	out.ReachableTransferPoints = maps.Clone(t.ReachableTransferPoints)
	if out.ReachableTransferPoints == nil {
		out.ReachableTransferPoints = map[UUID]TransferConnection{}
	}
	out.ReachableHospitals = t.ReachableHospitals.Clone()
	return &out
}

type Hospital struct {
	ID                UUID    `json:"id"`
	Name              string  `json:"name"`
	TransportDuration int64   `json:"transportDuration"`
	PatientIDs        UUIDSet `json:"patientIds"`
}

func (h *Hospital) Clone() *Hospital {
	out := *h
	out.PatientIDs = h.PatientIDs.Clone()
	return &out
}

// HospitalPatient is a patient that left the exercise towards a hospital.
// It is keyed by the original patient id.
type HospitalPatient struct {
	PatientID   UUID     `json:"patientId"`
	HospitalID  UUID     `json:"hospitalId"`
	VehicleType string   `json:"vehicleType"`
	StartTime   int64    `json:"startTime"`
	ArrivalTime int64    `json:"arrivalTime"`
	Patient     *Patient `json:"patient"`
}

func (h *HospitalPatient) Clone() *HospitalPatient {
	out := *h
	if h.Patient != nil {
		out.Patient = h.Patient.Clone()
	}
	return &out
}

type RadiogramStatus string

const (
	RadiogramUnread   RadiogramStatus = "unread"
	RadiogramAccepted RadiogramStatus = "accepted"
	RadiogramDone     RadiogramStatus = "done"
)

// Radiogram is a resource request sent from a region to the trainees.
type Radiogram struct {
	ID                UUID            `json:"id"`
	Type              string          `json:"type"`
	SimulatedRegionID UUID            `json:"simulatedRegionId"`
	RequiredResource  map[string]int  `json:"requiredResource"`
	Key               string          `json:"key"`
	Status            RadiogramStatus `json:"status"`
	AcceptedBy        UUID            `json:"acceptedBy,omitempty"`
	CreatedAt         int64           `json:"createdAt"`
}

const ResourceRequestRadiogram = "resourceRequestRadiogram"

func (r *Radiogram) Clone() *Radiogram {
	out := *r
	out.RequiredResource = maps.Clone(r.RequiredResource)
	return &out
}

type Viewport struct {
	ID       UUID           `json:"id"`
	Name     string         `json:"name"`
	Position MapCoordinates `json:"position"`
	Size     Size           `json:"size"`
}

func (v *Viewport) Clone() *Viewport {
	out := *v
	return &out
}

// Contains reports whether c lies inside the viewport.
func (v *Viewport) Contains(c MapCoordinates) bool {
	return c.X >= v.Position.X && c.X <= v.Position.X+v.Size.Width &&
		c.Y >= v.Position.Y && c.Y <= v.Position.Y+v.Size.Height
}

type Role string

const (
	RoleParticipant Role = "participant"
	RoleTrainer     Role = "trainer"
	RoleServer      Role = "server"
)

func (r Role) rank() int {
	switch r {
	case RoleServer:
		return 3
	case RoleTrainer:
		return 2
	case RoleParticipant:
		return 1
	}
	return 0
}

// Permits reports whether a caller with role r may run an action requiring
// role required.
func (r Role) Permits(required Role) bool { return r.rank() >= required.rank() && r.rank() > 0 }

type Client struct {
	ID                         UUID   `json:"id"`
	Name                       string `json:"name"`
	Role                       Role   `json:"role"`
	ViewRestrictedToViewportID UUID   `json:"viewRestrictedToViewportId,omitempty"`
	IsInWaitingRoom            bool   `json:"isInWaitingRoom"`
}

func (c *Client) Clone() *Client {
	out := *c
	return &out
}

type VehicleTemplate struct {
	ID              UUID            `json:"id"`
	VehicleType     string          `json:"vehicleType"`
	Name            string          `json:"name"`
	PatientCapacity int             `json:"patientCapacity"`
	Personnel       []PersonnelType `json:"personnel"`
	Materials       []string        `json:"materials"`
}

type PatientTemplate struct {
	ID                    UUID                         `json:"id"`
	Name                  string                       `json:"name"`
	HealthStates          map[UUID]*PatientHealthState `json:"healthStates"`
	StartingHealthStateID UUID                         `json:"startingHealthStateId"`
	Health                float64                      `json:"health"`
	PretriageStatus       PatientStatus                `json:"pretriageStatus"`
}

type PatientCategory struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Patients    []PatientTemplate `json:"patients"`
}

type MapImageTemplate struct {
	ID          UUID    `json:"id"`
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	Height      float64 `json:"height"`
	AspectRatio float64 `json:"aspectRatio"`
}

type TileMapProperties struct {
	TileURL string `json:"tileUrl"`
	MaxZoom int    `json:"maxZoom"`
}

type ExerciseConfiguration struct {
	PretriageEnabled    bool              `json:"pretriageEnabled"`
	BluePatientsEnabled bool              `json:"bluePatientsEnabled"`
	TileMapProperties   TileMapProperties `json:"tileMapProperties"`
}

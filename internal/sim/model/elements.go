package model

// ElementType names the positionable entity kinds plus the other
// addressable entities the reducers refer to.
type ElementType string

const (
	ElementPatient         ElementType = "patient"
	ElementVehicle         ElementType = "vehicle"
	ElementPersonnel       ElementType = "personnel"
	ElementMaterial        ElementType = "material"
	ElementSimulatedRegion ElementType = "simulatedRegion"
	ElementTransferPoint   ElementType = "transferPoint"
	ElementHospital        ElementType = "hospital"
	ElementRadiogram       ElementType = "radiogram"
	ElementViewport        ElementType = "viewport"
	ElementClient          ElementType = "client"
)

type PersonnelType string

const (
	PersonnelGF      PersonnelType = "gf"
	PersonnelNotarzt PersonnelType = "notarzt"
	PersonnelNotSan  PersonnelType = "notSan"
	PersonnelRettSan PersonnelType = "rettSan"
	PersonnelSan     PersonnelType = "san"
)

// CanCaterFor is how many patients of each status a caterer can treat at once.
type CanCaterFor struct {
	Red    int `json:"red"`
	Yellow int `json:"yellow"`
	Green  int `json:"green"`
}

// FunctionParameters are health point changes per second.
type FunctionParameters struct {
	ConstantChange  float64 `json:"constantChange"`
	NotarztModifier float64 `json:"notarztModifier"`
	NotSanModifier  float64 `json:"notSanModifier"`
	RettSanModifier float64 `json:"rettSanModifier"`
	SanModifier     float64 `json:"sanModifier,omitempty"`
}

// ConditionParameters is one transition out of a health state. Nil fields
// are not checked.
type ConditionParameters struct {
	EarliestTime          *int64   `json:"earliestTime,omitempty"`
	LatestTime            *int64   `json:"latestTime,omitempty"`
	MinimumHealth         *float64 `json:"minimumHealth,omitempty"`
	MaximumHealth         *float64 `json:"maximumHealth,omitempty"`
	IsBeingTreated        *bool    `json:"isBeingTreated,omitempty"`
	MatchingHealthStateID UUID     `json:"matchingHealthStateId"`
}

type PatientHealthState struct {
	ID                  UUID                  `json:"id"`
	FunctionParameters  FunctionParameters    `json:"functionParameters"`
	NextStateConditions []ConditionParameters `json:"nextStateConditions"`
}

func (h *PatientHealthState) Clone() *PatientHealthState {
	out := *h
	out.NextStateConditions = make([]ConditionParameters, len(h.NextStateConditions))
	for i, c := range h.NextStateConditions {
		out.NextStateConditions[i] = c.clone()
	}
	return &out
}

func (c ConditionParameters) clone() ConditionParameters {
	out := c
	if c.EarliestTime != nil {
		v := *c.EarliestTime
		out.EarliestTime = &v
	}
	if c.LatestTime != nil {
		v := *c.LatestTime
		out.LatestTime = &v
	}
	if c.MinimumHealth != nil {
		v := *c.MinimumHealth
		out.MinimumHealth = &v
	}
	if c.MaximumHealth != nil {
		v := *c.MaximumHealth
		out.MaximumHealth = &v
	}
	if c.IsBeingTreated != nil {
		v := *c.IsBeingTreated
		out.IsBeingTreated = &v
	}
	return out
}

type Patient struct {
	ID                   UUID                         `json:"id"`
	Name                 string                       `json:"name"`
	PretriageStatus      PatientStatus                `json:"pretriageStatus"`
	RealStatus           PatientStatus                `json:"realStatus"`
	HealthStates         map[UUID]*PatientHealthState `json:"healthStates"`
	CurrentHealthStateID UUID                         `json:"currentHealthStateId"`
	Health               float64                      `json:"health"`
	StateTime            int64                        `json:"stateTime"`
	TreatmentTime        int64                        `json:"treatmentTime"`
	TimeSpeed            float64                      `json:"timeSpeed"`
	VisibleStatusChanged bool                         `json:"visibleStatusChanged"`
	Remarks              string                       `json:"remarks,omitempty"`
	Position             Position                     `json:"position"`
}

func (p *Patient) Clone() *Patient {
	out := *p
	out.HealthStates = make(map[UUID]*PatientHealthState, len(p.HealthStates))
	for id, h := range p.HealthStates {
		out.HealthStates[id] = h.Clone()
	}
	out.Position = p.Position.Clone()
	return &out
}

type Personnel struct {
	ID                 UUID          `json:"id"`
	PersonnelType      PersonnelType `json:"personnelType"`
	VehicleID          UUID          `json:"vehicleId"`
	VehicleName        string        `json:"vehicleName"`
	CanCaterFor        CanCaterFor   `json:"canCaterFor"`
	TreatmentRange     float64       `json:"treatmentRange"`
	AssignedPatientIDs UUIDSet       `json:"assignedPatientIds"`
	Position           Position      `json:"position"`
}

func (p *Personnel) Clone() *Personnel {
	out := *p
	out.AssignedPatientIDs = p.AssignedPatientIDs.Clone()
	out.Position = p.Position.Clone()
	return &out
}

type Material struct {
	ID                 UUID        `json:"id"`
	MaterialType       string      `json:"materialType"`
	VehicleID          UUID        `json:"vehicleId"`
	VehicleName        string      `json:"vehicleName"`
	CanCaterFor        CanCaterFor `json:"canCaterFor"`
	TreatmentRange     float64     `json:"treatmentRange"`
	AssignedPatientIDs UUIDSet     `json:"assignedPatientIds"`
	Position           Position    `json:"position"`
}

func (m *Material) Clone() *Material {
	out := *m
	out.AssignedPatientIDs = m.AssignedPatientIDs.Clone()
	out.Position = m.Position.Clone()
	return &out
}

type Vehicle struct {
	ID              UUID       `json:"id"`
	VehicleType     string     `json:"vehicleType"`
	Name            string     `json:"name"`
	PatientCapacity int        `json:"patientCapacity"`
	PatientIDs      UUIDSet    `json:"patientIds"`
	PersonnelIDs    UUIDSet    `json:"personnelIds"`
	MaterialIDs     UUIDSet    `json:"materialIds"`
	Occupation      Occupation `json:"occupation"`
	Position        Position   `json:"position"`
}

func (v *Vehicle) Clone() *Vehicle {
	out := *v
	out.PatientIDs = v.PatientIDs.Clone()
	out.PersonnelIDs = v.PersonnelIDs.Clone()
	out.MaterialIDs = v.MaterialIDs.Clone()
	out.Position = v.Position.Clone()
	return &out
}

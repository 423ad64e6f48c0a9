package model

type ExerciseStatus string

const (
	StatusNotStarted ExerciseStatus = "notStarted"
	StatusRunning    ExerciseStatus = "running"
	StatusPaused     ExerciseStatus = "paused"
)

// ExerciseState is the root aggregate of one exercise.
//
// A state value that has been handed out is treated as immutable: reducers
// work on a Draft and produce a new state that shares all untouched entities
// with its predecessor.
type ExerciseState struct {
	ParticipantID string         `json:"participantId"`
	CurrentTime   int64          `json:"currentTime"`
	CurrentStatus ExerciseStatus `json:"currentStatus"`

	Patients         map[UUID]*Patient         `json:"patients"`
	Personnel        map[UUID]*Personnel       `json:"personnel"`
	Materials        map[UUID]*Material        `json:"materials"`
	Vehicles         map[UUID]*Vehicle         `json:"vehicles"`
	SimulatedRegions RegionMap                 `json:"simulatedRegions"`
	TransferPoints   map[UUID]*TransferPoint   `json:"transferPoints"`
	Viewports        map[UUID]*Viewport        `json:"viewports"`
	Hospitals        map[UUID]*Hospital        `json:"hospitals"`
	HospitalPatients map[UUID]*HospitalPatient `json:"hospitalPatients"`
	Radiograms       map[UUID]*Radiogram       `json:"radiograms"`
	Clients          map[UUID]*Client          `json:"clients"`

	Configuration     ExerciseConfiguration `json:"configuration"`
	VehicleTemplates  []VehicleTemplate     `json:"vehicleTemplates"`
	PatientCategories []PatientCategory     `json:"patientCategories"`
	MapImageTemplates []MapImageTemplate    `json:"mapImageTemplates"`
}

// NewExerciseState returns an empty, not yet started exercise.
func NewExerciseState(participantID string) *ExerciseState {
	s := &ExerciseState{ParticipantID: participantID, CurrentStatus: StatusNotStarted}
	s.Normalize()
	return s
}

// Normalize replaces nil maps and slices, e.g. after decoding JSON.
func (s *ExerciseState) Normalize() {
	if s.CurrentStatus == "" {
		s.CurrentStatus = StatusNotStarted
	}
	if s.Patients == nil {
		s.Patients = map[UUID]*Patient{}
	}
	if s.Personnel == nil {
		s.Personnel = map[UUID]*Personnel{}
	}
	if s.Materials == nil {
		s.Materials = map[UUID]*Material{}
	}
	if s.Vehicles == nil {
		s.Vehicles = map[UUID]*Vehicle{}
	}
	if s.SimulatedRegions == nil {
		s.SimulatedRegions = RegionMap{}
	}
	if s.TransferPoints == nil {
		s.TransferPoints = map[UUID]*TransferPoint{}
	}
	if s.Viewports == nil {
		s.Viewports = map[UUID]*Viewport{}
	}
	if s.Hospitals == nil {
		s.Hospitals = map[UUID]*Hospital{}
	}
	if s.HospitalPatients == nil {
		s.HospitalPatients = map[UUID]*HospitalPatient{}
	}
	if s.Radiograms == nil {
		s.Radiograms = map[UUID]*Radiogram{}
	}
	if s.Clients == nil {
		s.Clients = map[UUID]*Client{}
	}
	if s.VehicleTemplates == nil {
		s.VehicleTemplates = []VehicleTemplate{}
	}
	if s.PatientCategories == nil {
		s.PatientCategories = []PatientCategory{}
	}
	if s.MapImageTemplates == nil {
		s.MapImageTemplates = []MapImageTemplate{}
	}
}

func cloneMap[V any](m map[UUID]V, clone func(V) V) map[UUID]V {
	out := make(map[UUID]V, len(m))
	for id, v := range m {
		out[id] = clone(v)
	}
	return out
}

// Clone returns a deep copy that shares nothing with s.
func (s *ExerciseState) Clone() *ExerciseState {
	out := *s
	out.Patients = cloneMap(s.Patients, (*Patient).Clone)
	out.Personnel = cloneMap(s.Personnel, (*Personnel).Clone)
	out.Materials = cloneMap(s.Materials, (*Material).Clone)
	out.Vehicles = cloneMap(s.Vehicles, (*Vehicle).Clone)
	out.SimulatedRegions = RegionMap(cloneMap(map[UUID]Region(s.SimulatedRegions), CloneRegion))
	out.TransferPoints = cloneMap(s.TransferPoints, (*TransferPoint).Clone)
	out.Viewports = cloneMap(s.Viewports, (*Viewport).Clone)
	out.Hospitals = cloneMap(s.Hospitals, (*Hospital).Clone)
	out.HospitalPatients = cloneMap(s.HospitalPatients, (*HospitalPatient).Clone)
	out.Radiograms = cloneMap(s.Radiograms, (*Radiogram).Clone)
	out.Clients = cloneMap(s.Clients, (*Client).Clone)
	out.VehicleTemplates = append([]VehicleTemplate(nil), s.VehicleTemplates...)
	out.PatientCategories = append([]PatientCategory(nil), s.PatientCategories...)
	out.MapImageTemplates = append([]MapImageTemplate(nil), s.MapImageTemplates...)
	return &out
}

// SimulatedRegion returns the full region with the given id.
func (s *ExerciseState) SimulatedRegion(id UUID) (*SimulatedRegion, bool) {
	r, ok := s.SimulatedRegions[id].(*SimulatedRegion)
	return r, ok
}

// StandIn returns the stand-in with the given id.
func (s *ExerciseState) StandIn(id UUID) (*SimulatedRegionStandIn, bool) {
	r, ok := s.SimulatedRegions[id].(*SimulatedRegionStandIn)
	return r, ok
}

// HasID reports whether any entity map already uses id.
func (s *ExerciseState) HasID(id UUID) bool {
	if _, ok := s.Patients[id]; ok {
		return true
	}
	if _, ok := s.Personnel[id]; ok {
		return true
	}
	if _, ok := s.Materials[id]; ok {
		return true
	}
	if _, ok := s.Vehicles[id]; ok {
		return true
	}
	if _, ok := s.SimulatedRegions[id]; ok {
		return true
	}
	if _, ok := s.TransferPoints[id]; ok {
		return true
	}
	if _, ok := s.Viewports[id]; ok {
		return true
	}
	if _, ok := s.Hospitals[id]; ok {
		return true
	}
	if _, ok := s.HospitalPatients[id]; ok {
		return true
	}
	if _, ok := s.Radiograms[id]; ok {
		return true
	}
	if _, ok := s.Clients[id]; ok {
		return true
	}
	for _, r := range s.SimulatedRegions {
		if st, ok := r.(*SimulatedRegionStandIn); ok {
			if st.Omitted.Patients[id] || st.Omitted.Vehicles[id] || st.Omitted.Personnel[id] || st.Omitted.Materials[id] {
				return true
			}
		}
	}
	return false
}

// PositionOf returns the position of a positionable element.
func (s *ExerciseState) PositionOf(t ElementType, id UUID) (Position, bool) {
	switch t {
	case ElementPatient:
		if p := s.Patients[id]; p != nil {
			return p.Position, true
		}
	case ElementVehicle:
		if v := s.Vehicles[id]; v != nil {
			return v.Position, true
		}
	case ElementPersonnel:
		if p := s.Personnel[id]; p != nil {
			return p.Position, true
		}
	case ElementMaterial:
		if m := s.Materials[id]; m != nil {
			return m.Position, true
		}
	}
	return Position{}, false
}

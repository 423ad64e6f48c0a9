package model

// PatientUpdate is the outcome of advancing one patient's health by one tick.
type PatientUpdate struct {
	ID                UUID    `json:"id"`
	NextHealthStateID UUID    `json:"nextHealthStateId"`
	NextHealthPoints  float64 `json:"nextHealthPoints"`
	NextStateTime     int64   `json:"nextStateTime"`
	TreatmentTime     int64   `json:"treatmentTime"`
}

type RadiogramUpdateKind string

const (
	RadiogramAdded    RadiogramUpdateKind = "add"
	RadiogramModified RadiogramUpdateKind = "mod"
	RadiogramDeleted  RadiogramUpdateKind = "del"
)

type RadiogramUpdate struct {
	Kind      RadiogramUpdateKind `json:"kind"`
	Radiogram *Radiogram          `json:"radiogram"`
}

// HospitalUpdate records a vehicle that brought its patients to a hospital.
type HospitalUpdate struct {
	HospitalID   UUID               `json:"hospitalId"`
	VehicleID    UUID               `json:"vehicleId"`
	PersonnelIDs []UUID             `json:"personnelIds"`
	MaterialIDs  []UUID             `json:"materialIds"`
	Patients     []*HospitalPatient `json:"patients"`
}

// TransferUpdate carries a vehicle and its cargo that left a region into a
// transfer, for replicas that hold the region as a stand-in.
type TransferUpdate struct {
	Vehicle   *Vehicle     `json:"vehicle"`
	Personnel []*Personnel `json:"personnel"`
	Materials []*Material  `json:"materials"`
	Patients  []*Patient   `json:"patients"`
}

// TickUpdates are side effects of a tick that replicas cannot derive
// themselves while the originating region is a stand-in. Keys are radiogram
// ids and vehicle ids respectively.
type TickUpdates struct {
	Radiograms map[UUID]RadiogramUpdate `json:"radiograms,omitempty"`
	Hospitals  map[UUID]HospitalUpdate  `json:"hospitals,omitempty"`
	Transfers  map[UUID]TransferUpdate  `json:"transfers,omitempty"`
}

func NewTickUpdates() *TickUpdates {
	return &TickUpdates{
		Radiograms: map[UUID]RadiogramUpdate{},
		Hospitals:  map[UUID]HospitalUpdate{},
		Transfers:  map[UUID]TransferUpdate{},
	}
}

func (u *TickUpdates) Empty() bool {
	return u == nil || (len(u.Radiograms) == 0 && len(u.Hospitals) == 0 && len(u.Transfers) == 0)
}

package model

type PatientStatus string

const (
	StatusBlack  PatientStatus = "black"
	StatusBlue   PatientStatus = "blue"
	StatusRed    PatientStatus = "red"
	StatusYellow PatientStatus = "yellow"
	StatusGreen  PatientStatus = "green"
	StatusWhite  PatientStatus = "white"
)

const (
	MaxHealth = 100000.0

	redHealthBound    = 33333.0
	yellowHealthBound = 66666.0

	// PretriageLockTime is the treatment time after which the real status
	// replaces the pretriage status.
	PretriageLockTime int64 = 2 * 60 * 1000
)

// StatusForHealth maps raw health points to a triage status.
func StatusForHealth(health float64) PatientStatus {
	switch {
	case health <= 0:
		return StatusBlack
	case health < redHealthBound:
		return StatusRed
	case health < yellowHealthBound:
		return StatusYellow
	default:
		return StatusGreen
	}
}

// VisibleStatus is the status participants see for a patient.
func VisibleStatus(p *Patient, cfg ExerciseConfiguration) PatientStatus {
	status := p.RealStatus
	if cfg.PretriageEnabled && p.TreatmentTime < PretriageLockTime && p.PretriageStatus != "" {
		status = p.PretriageStatus
	}
	if status == StatusRed && cfg.BluePatientsEnabled {
		return StatusBlue
	}
	return status
}

// StatusPriority orders statuses for treatment: lower is treated first.
func StatusPriority(s PatientStatus) int {
	switch s {
	case StatusRed, StatusBlue:
		return 0
	case StatusYellow:
		return 1
	case StatusGreen:
		return 2
	case StatusWhite:
		return 3
	default:
		return 4
	}
}

// Capacity returns how many patients of the given visible status fit.
func (c CanCaterFor) Capacity(s PatientStatus) int {
	switch s {
	case StatusRed, StatusBlue:
		return c.Red
	case StatusYellow:
		return c.Yellow
	case StatusGreen, StatusWhite:
		return c.Green
	default:
		return 0
	}
}

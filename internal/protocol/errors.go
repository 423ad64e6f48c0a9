package protocol

import (
	"errors"

	"manvsim.ai/internal/sim/reducer"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Exercise routing.
	ErrExerciseNotFound = "E_EXERCISE_NOT_FOUND"
	ErrNotJoined        = "E_NOT_JOINED"

	// Action layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrNoPermission   = "E_NO_PERMISSION"
	ErrInvalidTarget  = "E_INVALID_TARGET"
	ErrRegionMissing  = "E_REGION_MISSING"
	ErrElementOmitted = "E_ELEMENT_OMITTED"
	ErrConflict       = "E_CONFLICT"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrExerciseNotFound: {},
	ErrNotJoined:        {},
	ErrBadRequest:       {},
	ErrNoPermission:     {},
	ErrInvalidTarget:    {},
	ErrRegionMissing:    {},
	ErrElementOmitted:   {},
	ErrConflict:         {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps an apply error to its wire code and whether clients should
// treat it as an expected outcome.
func CodeFor(err error) (code string, expected bool) {
	var (
		ve *reducer.ValidationError
		ae *reducer.AuthorizationError
		re *reducer.ReducerError
		rm *reducer.SimulatedRegionMissingError
		eo *reducer.ElementOmittedError
	)
	switch {
	case err == nil:
		return "", false
	case errors.As(err, &ve):
		return ErrBadRequest, false
	case errors.As(err, &ae):
		return ErrNoPermission, false
	case errors.As(err, &rm):
		return ErrRegionMissing, true
	case errors.As(err, &eo):
		return ErrElementOmitted, true
	case errors.As(err, &re):
		if re.Expected {
			return ErrConflict, true
		}
		return ErrInvalidTarget, false
	}
	return ErrInternal, false
}

// FailFor builds the failed response for an apply error.
func FailFor(requestID string, err error) ResponseMsg {
	code, expected := CodeFor(err)
	return Fail(requestID, code, err.Error(), expected)
}

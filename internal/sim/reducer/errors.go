package reducer

import (
	"errors"
	"fmt"

	"manvsim.ai/internal/sim/model"
)

// ValidationError reports an action that does not match its shape.
type ValidationError struct {
	ActionType string
	Err        error
}

func (e *ValidationError) Error() string {
	if e.ActionType == "" {
		return fmt.Sprintf("invalid action: %v", e.Err)
	}
	return fmt.Sprintf("invalid action %q: %v", e.ActionType, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AuthorizationError reports a role that may not propose an action.
type AuthorizationError struct {
	ActionType string
	Role       model.Role
	Required   model.Role
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %q may not propose %q (requires %q)", e.Role, e.ActionType, e.Required)
}

// ReducerError is a violated precondition. Expected errors are ordinary
// outcomes of concurrent use, such as loading a vehicle that just filled up.
type ReducerError struct {
	Message  string
	Expected bool
}

func (e *ReducerError) Error() string { return e.Message }

// SimulatedRegionMissingError reports an action that needs a region that is
// currently a stand-in. It can be retried once the region is materialized.
type SimulatedRegionMissingError struct {
	RegionID model.UUID
}

func (e *SimulatedRegionMissingError) Error() string {
	return fmt.Sprintf("simulated region %s is not materialized", e.RegionID)
}

// ElementOmittedError reports an action that targets an element hidden in a
// stand-in. StandIn is the region that has to be materialized.
type ElementOmittedError struct {
	ElementType model.ElementType
	ElementID   model.UUID
	StandIn     model.UUID
}

func (e *ElementOmittedError) Error() string {
	return fmt.Sprintf("%s %s is omitted in simulated region %s", e.ElementType, e.ElementID, e.StandIn)
}

func fail(format string, args ...any) error {
	return &ReducerError{Message: fmt.Sprintf(format, args...), Expected: true}
}

func notFound(t model.ElementType, id model.UUID) error {
	return &ReducerError{Message: fmt.Sprintf("%s with id %s does not exist", t, id)}
}

// asReducerError converts plain errors from the simulation layer into
// ReducerErrors and leaves typed errors untouched.
func asReducerError(err error) error {
	if err == nil {
		return nil
	}
	var (
		re *ReducerError
		rm *SimulatedRegionMissingError
		eo *ElementOmittedError
	)
	if errors.As(err, &re) || errors.As(err, &rm) || errors.As(err, &eo) {
		return err
	}
	return &ReducerError{Message: err.Error(), Expected: true}
}

// Retryable reports whether err clears once a region is materialized, and
// which region that is.
func Retryable(err error) (model.UUID, bool) {
	var eo *ElementOmittedError
	if errors.As(err, &eo) {
		return eo.StandIn, true
	}
	var rm *SimulatedRegionMissingError
	if errors.As(err, &rm) {
		return rm.RegionID, true
	}
	return "", false
}

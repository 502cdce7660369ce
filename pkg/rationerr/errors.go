// Package rationerr defines the error taxonomy shared by the ration packages.
package rationerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of an error.
type Kind string

const (
	// KindInfeasibleStage means the stage LP has no feasible point.
	KindInfeasibleStage Kind = "INFEASIBLE_STAGE"

	// KindMissingIngredientData means a stage, bound table or baseline names
	// an ingredient absent from the catalog.
	KindMissingIngredientData Kind = "MISSING_INGREDIENT_DATA"

	// KindDegenerateBounds means a band or inclusion bound is self-contradictory.
	KindDegenerateBounds Kind = "DEGENERATE_BOUNDS"

	// KindSolverNonconvergence means the solver gave no definitive verdict.
	KindSolverNonconvergence Kind = "SOLVER_NONCONVERGENCE"

	// KindMalformedTable means reference data violates its own invariants.
	KindMalformedTable Kind = "MALFORMED_TABLE"
)

// Error is a categorized error carrying the stage and ingredient it concerns.
type Error struct {
	Kind       Kind
	Stage      string
	Ingredient string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s]", e.Kind)
	if e.Stage != "" {
		msg += " stage " + e.Stage + ":"
	}
	msg += " " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Newf creates a new formatted error.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps a cause with a kind and message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ForStage returns e annotated with the stage identifier.
func (e *Error) ForStage(stage string) *Error {
	e.Stage = stage
	return e
}

// ForIngredient returns e annotated with the ingredient identifier.
func (e *Error) ForIngredient(ingredient string) *Error {
	e.Ingredient = ingredient
	return e
}

// MissingIngredient builds a MissingIngredientData error.
func MissingIngredient(ingredient, table string) *Error {
	return Newf(KindMissingIngredientData, "ingredient %q not found in %s", ingredient, table).ForIngredient(ingredient)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsIntegrity reports whether err means the input data cannot be trusted and
// the whole run must stop.
func IsIntegrity(err error) bool {
	switch KindOf(err) {
	case KindMissingIngredientData, KindMalformedTable:
		return true
	}
	return false
}

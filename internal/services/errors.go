package services

import (
	"errors"
	"fmt"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/database"
	"gorm.io/gorm"
)

// Error kinds surfaced to the API layer. Detail is attached with
// fmt.Errorf("%w: ...") and matched with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInsufficientStock   = errors.New("insufficient license stock")
	ErrInvalidState        = errors.New("invalid state")
	ErrTooManyPending      = errors.New("too many pending payments")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrGenerationExhausted = errors.New("unique value generation exhausted")
	ErrTransient           = database.ErrTransient
)

// storeErr normalizes an error coming out of a transaction: record-not-found
// becomes ErrNotFound, unique violations become ErrConflict and driver-level
// lock or connection failures become ErrTransient. Kinds already attached
// pass through.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	err = database.Classify(err)
	if errors.Is(err, database.ErrDuplicate) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// Kind returns a short machine-checkable name for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrTooManyPending):
		return "too_many_pending"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrGenerationExhausted):
		return "generation_exhausted"
	default:
		return "internal"
	}
}

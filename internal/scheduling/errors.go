package scheduling

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Every error the scheduler returns on purpose unwraps to one
// of these; anything else is an unexpected storage failure.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

var (
	ErrPatientNotFound     = classify("patient not found", ErrNotFound)
	ErrDentistNotFound     = classify("dentist not found", ErrNotFound)
	ErrUnitNotFound        = classify("treatment unit not found", ErrNotFound)
	ErrRequestNotFound     = classify("appointment request not found", ErrNotFound)
	ErrAppointmentNotFound = classify("appointment not found", ErrNotFound)

	ErrDentistInactive = classify("dentist is not active", ErrNotFound)
	ErrUnitInactive    = classify("treatment unit is not active", ErrNotFound)

	ErrSlotTaken            = classify("slot is already taken", ErrConflict)
	ErrSlotBeingBooked      = classify("slot is currently being booked, please retry", ErrConflict)
	ErrSlotHeldByOther      = classify("slot is declared by another dentist", ErrConflict)
	ErrSlotNotDeclared      = classify("dentist has not opened this slot", ErrConflict)
	ErrAllSlotsTaken        = classify("none of the requested slots are free", ErrConflict)
	ErrRequestNotAssignable = classify("appointment request is not waiting for assignment", ErrConflict)
	ErrInvalidTransition    = classify("invalid status transition", ErrConflict)
	ErrUnitInUse            = classify("treatment unit has appointments", ErrConflict)

	// ErrDuplicate is returned by repositories when a unique index rejects a
	// write. The scheduler turns it into a slot conflict.
	ErrDuplicate = classify("duplicate key", ErrConflict)
)

type classified struct {
	msg   string
	class error
}

func classify(msg string, class error) error {
	return &classified{msg: msg, class: class}
}

func (e *classified) Error() string { return e.msg }
func (e *classified) Unwrap() error { return e.class }

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// SlotConflictError names the slots that lost a race or were already taken.
type SlotConflictError struct {
	Slots  []SlotLabel
	Reason error
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("%v: %s", e.Reason, strings.Join(SlotStrings(e.Slots), ", "))
}

func (e *SlotConflictError) Unwrap() []error {
	return []error{ErrConflict, e.Reason}
}

// ConflictSlots extracts the contested slots from err, if it carries any.
func ConflictSlots(err error) []SlotLabel {
	var sc *SlotConflictError
	if errors.As(err, &sc) {
		return sc.Slots
	}
	return nil
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/dental-unit-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// errorCodes maps scheduler errors to stable API codes. Order matters:
// specific errors come before their class.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{scheduling.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
	{scheduling.ErrDentistNotFound, http.StatusNotFound, "dentist_not_found"},
	{scheduling.ErrUnitNotFound, http.StatusNotFound, "unit_not_found"},
	{scheduling.ErrRequestNotFound, http.StatusNotFound, "request_not_found"},
	{scheduling.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{scheduling.ErrDentistInactive, http.StatusNotFound, "dentist_inactive"},
	{scheduling.ErrUnitInactive, http.StatusNotFound, "unit_inactive"},

	{scheduling.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
	{scheduling.ErrSlotTaken, http.StatusConflict, "slot_taken"},
	{scheduling.ErrSlotHeldByOther, http.StatusConflict, "slot_held_by_other_dentist"},
	{scheduling.ErrSlotNotDeclared, http.StatusConflict, "slot_not_declared"},
	{scheduling.ErrAllSlotsTaken, http.StatusConflict, "all_slots_taken"},
	{scheduling.ErrRequestNotAssignable, http.StatusConflict, "request_not_assignable"},
	{scheduling.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
	{scheduling.ErrUnitInUse, http.StatusConflict, "unit_in_use"},

	{scheduling.ErrValidation, http.StatusBadRequest, "validation_error"},
	{scheduling.ErrNotFound, http.StatusNotFound, "not_found"},
	{scheduling.ErrConflict, http.StatusConflict, "conflict"},
}

// writeServiceError reports a scheduler error. Anything outside the known
// classes is an integrity failure: it is logged and the caller gets a
// generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			writeJSON(w, ec.status, ErrorResponse{
				Error:     ec.code,
				Details:   err.Error(),
				Conflicts: slotStrings(scheduling.ConflictSlots(err)),
			})
			return
		}
	}

	logger.Error().
		Err(err).
		Str("request_id", GetRequestID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("scheduler failure")
	writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong, please try again")
}

func slotStrings(slots []scheduling.SlotLabel) []string {
	if len(slots) == 0 {
		return nil
	}
	return scheduling.SlotStrings(slots)
}

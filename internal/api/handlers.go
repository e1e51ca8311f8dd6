package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dental-unit-scheduling/internal/scheduling"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// parseID treats an empty value as absent so the scheduler reports the
// missing field itself.
func parseID(raw, field string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &scheduling.ValidationError{Field: field, Reason: "must be a valid UUID"}
	}
	return id, nil
}

func parseOptionalID(raw, field string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := parseID(raw, field)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseOptionalDate(raw string) (*scheduling.Date, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := scheduling.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, &scheduling.ValidationError{Field: "id", Reason: "must be a valid UUID"}
	}
	return id, nil
}

// Availability

func getAvailabilityHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		unitID, err := parseID(q.Get("unitId"), "unitId")
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		dentistID, err := parseOptionalID(q.Get("dentistId"), "dentistId")
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		avail, err := svc.ComputeAvailability(r.Context(), scheduling.AvailabilityQuery{
			Date:      q.Get("date"),
			UnitID:    unitID,
			DentistID: dentistID,
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := AvailabilityResponse{
			Date:      avail.Date.String(),
			UnitID:    avail.UnitID,
			DentistID: avail.DentistID,
			Slots:     scheduling.SlotStrings(avail.Slots),
		}
		if q.Get("mode") == "candidates" {
			resp.Saved = scheduling.SlotStrings(avail.Saved)
			resp.Booked = scheduling.SlotStrings(avail.Booked)
			resp.Declarations = make([]DeclarationResponse, 0, len(avail.Declarations))
			for _, d := range avail.Declarations {
				resp.Declarations = append(resp.Declarations, DeclarationResponse{
					DentistID: d.DentistID,
					Slot:      d.Slot.String(),
					Status:    string(d.Status),
				})
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func declareAvailabilityHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeclareAvailabilityRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		dentistID, err := parseID(req.DentistID, "dentistId")
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		unitID, err := parseID(req.UnitID, "unitId")
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		res, err := svc.DeclareAvailability(r.Context(), scheduling.DeclareInput{
			DentistID: dentistID,
			UnitID:    unitID,
			Date:      req.Date,
			Slots:     req.Slots,
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, DeclareAvailabilityResponse{
			OK:         true,
			Saved:      len(res.Saved),
			SavedSlots: scheduling.SlotStrings(res.Saved),
			Conflicts:  scheduling.SlotStrings(res.Conflicts),
		})
	}
}

func slotsHandler(svc *scheduling.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SlotsResponse{Slots: scheduling.SlotStrings(svc.Grid().Labels())})
	}
}

// Booking

func assignHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AssignRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		in := scheduling.AssignInput{Date: req.Date, Slot: req.Slot}
		ids := []struct {
			raw   string
			field string
			dst   *uuid.UUID
		}{
			{req.RequestID, "requestId", &in.RequestID},
			{req.PatientID, "patientId", &in.PatientID},
			{req.DentistID, "dentistId", &in.DentistID},
			{req.UnitID, "unitId", &in.UnitID},
		}
		for _, id := range ids {
			parsed, err := parseID(id.raw, id.field)
			if err != nil {
				writeServiceError(w, r, log, err)
				return
			}
			*id.dst = parsed
		}

		appt, err := svc.Assign(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, AssignResponse{
			Success:       true,
			AppointmentID: appt.ID,
			Appointment:   toAppointmentResponse(appt),
		})
	}
}

func cancelAppointmentHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		if _, err := svc.Cancel(r.Context(), id); err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		var req RescheduleRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		next, err := svc.Reschedule(r.Context(), scheduling.RescheduleInput{
			AppointmentID: id,
			Date:          req.Date,
			Slot:          req.Slot,
			Notes:         req.Notes,
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, RescheduleResponse{Success: true, RequestID: next.ID})
	}
}

// transitionHandler serves confirm, start and complete, which differ only in
// the scheduler method they call.
func transitionHandler(log zerolog.Logger, step func(*http.Request, uuid.UUID) (*scheduling.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		appt, err := step(r, id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// Agenda

func listAppointmentsHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var (
			f   scheduling.AppointmentFilter
			err error
		)

		if f.Date, err = parseOptionalDate(q.Get("date")); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		for _, p := range []struct {
			key string
			dst **uuid.UUID
		}{
			{"unitId", &f.UnitID},
			{"dentistId", &f.DentistID},
			{"patientId", &f.PatientID},
		} {
			if *p.dst, err = parseOptionalID(q.Get(p.key), p.key); err != nil {
				writeServiceError(w, r, log, err)
				return
			}
		}
		if raw := q.Get("includeCancelled"); raw != "" {
			if f.IncludeCancelled, err = strconv.ParseBool(raw); err != nil {
				writeServiceError(w, r, log, &scheduling.ValidationError{Field: "includeCancelled", Reason: "must be true or false"})
				return
			}
		}

		appts, err := svc.ListAppointments(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := make([]AppointmentResponse, len(appts))
		for i := range appts {
			resp[i] = toAppointmentResponse(&appts[i])
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// Request inbox

func createRequestHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequestRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		patientID, err := parseID(req.PatientID, "patientId")
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		created, err := svc.CreateRequest(r.Context(), scheduling.CreateRequestInput{
			PatientID: patientID,
			Date:      req.Date,
			Slot:      req.Slot,
			Treatment: req.Treatment,
			Notes:     req.Notes,
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toRequestResponse(created))
	}
}

func listRequestsHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := scheduling.RequestFilter{Status: scheduling.RequestStatus(q.Get("status"))}

		var err error
		if f.Date, err = parseOptionalDate(q.Get("date")); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		if f.PatientID, err = parseOptionalID(q.Get("patientId"), "patientId"); err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		reqs, err := svc.ListRequests(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := make([]RequestResponse, len(reqs))
		for i := range reqs {
			resp[i] = toRequestResponse(&reqs[i])
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func cancelRequestHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		cancelled, err := svc.CancelRequest(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toRequestResponse(cancelled))
	}
}

// Units and directory

func listUnitsHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

		units, err := svc.ListUnits(r.Context(), activeOnly)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := make([]UnitResponse, len(units))
		for i := range units {
			resp[i] = toUnitResponse(&units[i])
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createUnitHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UnitRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		unit, err := svc.CreateUnit(r.Context(), req.Name)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toUnitResponse(unit))
	}
}

func renameUnitHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		var req UnitRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		unit, err := svc.RenameUnit(r.Context(), id, req.Name)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toUnitResponse(unit))
	}
}

func setUnitStatusHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		var req UnitStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		unit, err := svc.SetUnitStatus(r.Context(), id, scheduling.UnitStatus(req.Status))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toUnitResponse(unit))
	}
}

func deleteUnitHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		if err := svc.DeleteUnit(r.Context(), id); err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
	}
}

func listDentistsHandler(svc *scheduling.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dentists, err := svc.ListDentists(r.Context())
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := make([]DentistResponse, len(dentists))
		for i, d := range dentists {
			resp[i] = DentistResponse{
				ID:            d.ID,
				PreName:       d.PreName,
				FirstName:     d.FirstName,
				LastName:      d.LastName,
				LicenseNumber: d.LicenseNumber,
				Specialty:     d.Specialty,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

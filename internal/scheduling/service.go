package scheduling

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dental-unit-scheduling/internal/events"
	redisclient "github.com/hackgods/dental-unit-scheduling/internal/redis"
)

type Options struct {
	// Grid defaults to DefaultGrid.
	Grid *Grid
	// RequireDeclared limits availability to slots a dentist has opened.
	RequireDeclared bool
	// Location is the clinic timezone used to decide what "today" is.
	Location *time.Location
	Now      func() time.Time
}

// Scheduler owns slot availability and the request to appointment pipeline.
type Scheduler struct {
	repo            Repository
	locker          redisclient.Locker
	publisher       events.Publisher
	log             zerolog.Logger
	grid            *Grid
	requireDeclared bool
	loc             *time.Location
	now             func() time.Time
}

func NewScheduler(repo Repository, locker redisclient.Locker, publisher events.Publisher, log zerolog.Logger, opts Options) *Scheduler {
	s := &Scheduler{
		repo:            repo,
		locker:          locker,
		publisher:       publisher,
		log:             log.With().Str("component", "scheduler").Logger(),
		grid:            opts.Grid,
		requireDeclared: opts.RequireDeclared,
		loc:             opts.Location,
		now:             opts.Now,
	}
	if s.locker == nil {
		s.locker = redisclient.NewNoopLocker()
	}
	if s.publisher == nil {
		s.publisher = events.Noop()
	}
	if s.grid == nil {
		s.grid = DefaultGrid()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Scheduler) Grid() *Grid { return s.grid }

func (s *Scheduler) today() Date {
	return DateOf(s.now().In(s.loc))
}

func (s *Scheduler) newOutbox() *outbox {
	return &outbox{now: s.now().UTC()}
}

// lockErr turns a busy lock into a slot conflict.
func lockErr(err error, slots ...SlotLabel) error {
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return &SlotConflictError{Slots: slots, Reason: ErrSlotBeingBooked}
	}
	return err
}

func required(field string, id uuid.UUID) error {
	if id == uuid.Nil {
		return invalid(field, "is required")
	}
	return nil
}

func (s *Scheduler) activeDentist(ctx context.Context, id uuid.UUID) (*Dentist, error) {
	d, err := s.repo.GetDentistByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load dentist: %w", err)
	}
	if !d.Active {
		return nil, ErrDentistInactive
	}
	return d, nil
}

func (s *Scheduler) activeUnit(ctx context.Context, id uuid.UUID) (*TreatmentUnit, error) {
	u, err := s.repo.GetUnitByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load unit: %w", err)
	}
	if u.Status != UnitActive {
		return nil, ErrUnitInactive
	}
	return u, nil
}

// Availability

type AvailabilityQuery struct {
	Date      string
	UnitID    uuid.UUID
	DentistID *uuid.UUID
}

type Availability struct {
	Date      Date
	UnitID    uuid.UUID
	DentistID *uuid.UUID
	// Slots are the assignable slots in clinic order.
	Slots []SlotLabel
	// Saved are the slots DentistID has declared, free or booked.
	Saved []SlotLabel
	// Booked are the slots held by a non-cancelled appointment.
	Booked       []SlotLabel
	Declarations []DentistAvailability
}

// ComputeAvailability reads the latest committed state. It never writes.
func (s *Scheduler) ComputeAvailability(ctx context.Context, q AvailabilityQuery) (*Availability, error) {
	date, err := ParseDate(q.Date)
	if err != nil {
		return nil, err
	}
	if err := required("unitId", q.UnitID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetUnitByID(ctx, q.UnitID); err != nil {
		return nil, fmt.Errorf("load unit: %w", err)
	}
	if q.DentistID != nil {
		if _, err := s.repo.GetDentistByID(ctx, *q.DentistID); err != nil {
			return nil, fmt.Errorf("load dentist: %w", err)
		}
	}

	occupied, err := s.repo.OccupiedSlots(ctx, q.UnitID, date)
	if err != nil {
		return nil, fmt.Errorf("load occupied slots: %w", err)
	}
	decls, err := s.repo.ListDeclarations(ctx, q.UnitID, date)
	if err != nil {
		return nil, fmt.Errorf("load declarations: %w", err)
	}

	SortSlots(occupied)
	out := &Availability{
		Date:         date,
		UnitID:       q.UnitID,
		DentistID:    q.DentistID,
		Slots:        s.freeSlots(q.DentistID, occupied, decls),
		Booked:       occupied,
		Declarations: decls,
		Saved:        []SlotLabel{},
	}
	if q.DentistID != nil {
		for _, d := range decls {
			if d.DentistID == *q.DentistID {
				out.Saved = append(out.Saved, d.Slot)
			}
		}
		SortSlots(out.Saved)
	}
	return out, nil
}

func (s *Scheduler) freeSlots(dentistID *uuid.UUID, occupied []SlotLabel, decls []DentistAvailability) []SlotLabel {
	taken := make(map[SlotLabel]bool, len(occupied))
	for _, o := range occupied {
		taken[o] = true
	}
	open := make(map[SlotLabel]bool)
	for _, d := range decls {
		if dentistID != nil && d.DentistID != *dentistID {
			taken[d.Slot] = true
			continue
		}
		if d.Status == AvailabilityFree {
			open[d.Slot] = true
		}
	}

	out := []SlotLabel{}
	for _, l := range s.grid.labels {
		if taken[l] {
			continue
		}
		if s.requireDeclared && !open[l] {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Dentist declarations

type DeclareInput struct {
	DentistID uuid.UUID
	UnitID    uuid.UUID
	Date      string
	Slots     []string
}

type DeclareResult struct {
	Saved     []SlotLabel
	Conflicts []SlotLabel
}

// DeclareAvailability replaces the dentist's free declarations for one unit
// and day with the requested slots that nobody else holds. If every slot is
// taken nothing is written and the conflict set comes back in a
// *SlotConflictError.
func (s *Scheduler) DeclareAvailability(ctx context.Context, in DeclareInput) (*DeclareResult, error) {
	if err := required("dentistId", in.DentistID); err != nil {
		return nil, err
	}
	if err := required("unitId", in.UnitID); err != nil {
		return nil, err
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return nil, err
	}
	if len(in.Slots) == 0 {
		return nil, invalid("slots", "at least one slot is required")
	}
	slots, err := s.grid.LookupAll(in.Slots)
	if err != nil {
		return nil, err
	}
	if _, err := s.activeDentist(ctx, in.DentistID); err != nil {
		return nil, err
	}
	if _, err := s.activeUnit(ctx, in.UnitID); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(slots))
	for _, sl := range slots {
		keys = append(keys, redisclient.SlotKey(in.UnitID, date.String(), sl.String()))
	}

	var (
		result *DeclareResult
		box    *outbox
	)
	// A unique-index trip means another writer committed between our read
	// and insert. The first one is retried so the conflict list is
	// recomputed from committed state.
	for attempt := 0; ; attempt++ {
		box = s.newOutbox()
		err = s.declareOnce(ctx, in, date, slots, keys, box, attempt == 0, &result)
		if attempt == 0 && errors.Is(err, errDeclareRace) {
			continue
		}
		break
	}
	if err != nil {
		return nil, lockErr(err, slots...)
	}

	s.publish(ctx, box)
	return result, nil
}

// errDeclareRace marks a declaration insert that lost to a concurrent
// writer and can be retried.
var errDeclareRace = errors.New("declaration raced a concurrent writer")

func (s *Scheduler) declareOnce(ctx context.Context, in DeclareInput, date Date, slots []SlotLabel, keys []string, box *outbox, retryable bool, out **DeclareResult) error {
	return s.locker.WithSlotLocks(ctx, keys, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(tx Repository) error {
			occupied, err := tx.OccupiedSlots(lockCtx, in.UnitID, date)
			if err != nil {
				return fmt.Errorf("load occupied slots: %w", err)
			}
			decls, err := tx.ListDeclarations(lockCtx, in.UnitID, date)
			if err != nil {
				return fmt.Errorf("load declarations: %w", err)
			}

			taken := make(map[SlotLabel]bool)
			for _, o := range occupied {
				taken[o] = true
			}
			for _, d := range decls {
				if d.DentistID != in.DentistID || d.Status == AvailabilityBooked {
					taken[d.Slot] = true
				}
			}

			var saved, conflicts []SlotLabel
			for _, sl := range slots {
				if taken[sl] {
					conflicts = append(conflicts, sl)
				} else {
					saved = append(saved, sl)
				}
			}
			if len(saved) == 0 {
				return &SlotConflictError{Slots: conflicts, Reason: ErrAllSlotsTaken}
			}

			if err := tx.DeleteFreeDeclarations(lockCtx, in.DentistID, in.UnitID, date); err != nil {
				return fmt.Errorf("clear declarations: %w", err)
			}
			rows := make([]DentistAvailability, 0, len(saved))
			for _, sl := range saved {
				rows = append(rows, DentistAvailability{
					DentistID: in.DentistID,
					UnitID:    in.UnitID,
					Date:      date,
					Slot:      sl,
					Status:    AvailabilityFree,
				})
			}
			if err := tx.InsertDeclarations(lockCtx, rows); err != nil {
				if errors.Is(err, ErrDuplicate) {
					if retryable {
						return errDeclareRace
					}
					return &SlotConflictError{Slots: saved, Reason: ErrSlotTaken}
				}
				return fmt.Errorf("insert declarations: %w", err)
			}

			if err := box.record(lockCtx, tx, EventAvailabilityDeclared, nil, nil, map[string]any{
				"dentist_id": in.DentistID.String(),
				"unit_id":    in.UnitID.String(),
				"date":       date.String(),
				"saved":      SlotStrings(saved),
				"conflicts":  SlotStrings(conflicts),
			}); err != nil {
				return fmt.Errorf("log declaration: %w", err)
			}

			if conflicts == nil {
				conflicts = []SlotLabel{}
			}
			*out = &DeclareResult{Saved: saved, Conflicts: conflicts}
			return nil
		})
	})
}

// Assignment

type AssignInput struct {
	RequestID uuid.UUID
	PatientID uuid.UUID
	DentistID uuid.UUID
	UnitID    uuid.UUID
	Date      string
	Slot      string
}

// Assign turns a waiting request into a SCHEDULED appointment. The slot is
// re-checked under the slot lock and inside the transaction; losing a race
// surfaces as a *SlotConflictError wrapping ErrSlotTaken.
func (s *Scheduler) Assign(ctx context.Context, in AssignInput) (*Appointment, error) {
	for _, f := range []struct {
		name string
		id   uuid.UUID
	}{
		{"requestId", in.RequestID},
		{"patientId", in.PatientID},
		{"dentistId", in.DentistID},
		{"unitId", in.UnitID},
	} {
		if err := required(f.name, f.id); err != nil {
			return nil, err
		}
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return nil, err
	}
	slot, err := s.grid.Lookup(in.Slot)
	if err != nil {
		return nil, err
	}

	req, err := s.repo.GetRequestByID(ctx, in.RequestID)
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	if !req.Status.Assignable() {
		return nil, ErrRequestNotAssignable
	}
	if req.PatientID != in.PatientID {
		return nil, invalid("patientId", "does not match the request")
	}
	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.activeDentist(ctx, in.DentistID); err != nil {
		return nil, err
	}
	if _, err := s.activeUnit(ctx, in.UnitID); err != nil {
		return nil, err
	}

	key := redisclient.SlotKey(in.UnitID, date.String(), slot.String())
	var created *Appointment
	box := s.newOutbox()

	err = s.locker.WithSlotLocks(ctx, []string{key}, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(tx Repository) error {
			occupied, err := tx.OccupiedSlots(lockCtx, in.UnitID, date)
			if err != nil {
				return fmt.Errorf("check occupancy: %w", err)
			}
			if slices.Contains(occupied, slot) {
				return &SlotConflictError{Slots: []SlotLabel{slot}, Reason: ErrSlotTaken}
			}

			decls, err := tx.ListDeclarations(lockCtx, in.UnitID, date)
			if err != nil {
				return fmt.Errorf("check declarations: %w", err)
			}
			var own *DentistAvailability
			for i := range decls {
				if decls[i].Slot != slot {
					continue
				}
				if decls[i].DentistID != in.DentistID {
					return &SlotConflictError{Slots: []SlotLabel{slot}, Reason: ErrSlotHeldByOther}
				}
				own = &decls[i]
			}
			if s.requireDeclared && (own == nil || own.Status != AvailabilityFree) {
				return &SlotConflictError{Slots: []SlotLabel{slot}, Reason: ErrSlotNotDeclared}
			}

			appt := &Appointment{
				PatientID: in.PatientID,
				DentistID: in.DentistID,
				UnitID:    in.UnitID,
				Date:      date,
				Slot:      slot,
				Status:    StatusScheduled,
				RequestID: ptr(req.ID),
				Treatment: req.Treatment,
				Notes:     req.Notes,
			}
			if err := tx.CreateAppointment(lockCtx, appt); err != nil {
				if errors.Is(err, ErrDuplicate) {
					return &SlotConflictError{Slots: []SlotLabel{slot}, Reason: ErrSlotTaken}
				}
				return fmt.Errorf("create appointment: %w", err)
			}

			if _, err := tx.UpdateRequestStatus(lockCtx, req.ID, assignableRequest, RequestScheduled); err != nil {
				if errors.Is(err, ErrRequestNotFound) {
					return ErrRequestNotAssignable
				}
				return fmt.Errorf("mark request scheduled: %w", err)
			}

			if own != nil {
				if err := tx.SetDeclarationStatus(lockCtx, in.DentistID, in.UnitID, date, slot, AvailabilityBooked); err != nil {
					return fmt.Errorf("book declaration: %w", err)
				}
			}

			if err := box.record(lockCtx, tx, EventAppointmentAssigned, ptr(appt.ID), ptr(req.ID), map[string]any{
				"patient_id": in.PatientID.String(),
				"dentist_id": in.DentistID.String(),
				"unit_id":    in.UnitID.String(),
				"date":       date.String(),
				"slot":       slot.String(),
			}); err != nil {
				return fmt.Errorf("log assignment: %w", err)
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.log.Info().
				Err(err).
				Str("unit_id", in.UnitID.String()).
				Str("date", date.String()).
				Str("slot", slot.String()).
				Msg("assignment lost slot")
		}
		return nil, lockErr(err, slot)
	}

	s.publish(ctx, box)
	return created, nil
}

// Appointment lifecycle

// Cancel frees the appointment's slot. Cancelling twice succeeds and leaves
// the first cancellation untouched.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := required("appointmentId", id); err != nil {
		return nil, err
	}

	var result *Appointment
	box := s.newOutbox()

	err := s.repo.InTx(ctx, func(tx Repository) error {
		appt, err := tx.GetAppointmentByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt.Status == StatusCancelled {
			result = appt
			return nil
		}

		cancelled, err := s.cancelInTx(ctx, tx, box, appt)
		if err != nil {
			return err
		}
		result = cancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, box)
	return result, nil
}

func (s *Scheduler) cancelInTx(ctx context.Context, tx Repository, box *outbox, appt *Appointment) (*Appointment, error) {
	if !slices.Contains(transitions[StatusCancelled], appt.Status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, appt.Status, StatusCancelled)
	}
	cancelled, err := tx.UpdateAppointmentStatus(ctx, appt.ID, transitions[StatusCancelled], StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	if err := tx.SetDeclarationStatus(ctx, appt.DentistID, appt.UnitID, appt.Date, appt.Slot, AvailabilityFree); err != nil {
		return nil, fmt.Errorf("free declaration: %w", err)
	}
	if err := box.record(ctx, tx, EventAppointmentCancelled, ptr(appt.ID), appt.RequestID, map[string]any{
		"unit_id":     appt.UnitID.String(),
		"date":        appt.Date.String(),
		"slot":        appt.Slot.String(),
		"prev_status": string(appt.Status),
	}); err != nil {
		return nil, fmt.Errorf("log cancellation: %w", err)
	}
	return cancelled, nil
}

type RescheduleInput struct {
	AppointmentID uuid.UUID
	Date          string
	Slot          string
	Notes         *string
}

// Reschedule cancels the appointment and queues a fresh request for the new
// date and slot. Staff assign it through the normal pipeline.
func (s *Scheduler) Reschedule(ctx context.Context, in RescheduleInput) (*AppointmentRequest, error) {
	if err := required("appointmentId", in.AppointmentID); err != nil {
		return nil, err
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return nil, err
	}
	if date.Before(s.today()) {
		return nil, invalid("date", "must not be in the past")
	}
	slot, err := s.grid.Lookup(in.Slot)
	if err != nil {
		return nil, err
	}

	var created *AppointmentRequest
	box := s.newOutbox()

	err = s.repo.InTx(ctx, func(tx Repository) error {
		appt, err := tx.GetAppointmentByID(ctx, in.AppointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if !appt.Status.Active() {
			return fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
		}
		if _, err := s.cancelInTx(ctx, tx, box, appt); err != nil {
			return err
		}

		notes := appt.Notes
		if in.Notes != nil && strings.TrimSpace(*in.Notes) != "" {
			notes = in.Notes
		}
		req := &AppointmentRequest{
			PatientID:       appt.PatientID,
			RequestedDate:   date,
			RequestedSlot:   slot,
			Treatment:       appt.Treatment,
			Notes:           notes,
			Status:          RequestNew,
			RescheduledFrom: ptr(appt.ID),
		}
		if err := tx.CreateRequest(ctx, req); err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		if err := box.record(ctx, tx, EventAppointmentReschedule, ptr(appt.ID), ptr(req.ID), map[string]any{
			"from_date": appt.Date.String(),
			"from_slot": appt.Slot.String(),
			"to_date":   date.String(),
			"to_slot":   slot.String(),
		}); err != nil {
			return fmt.Errorf("log reschedule: %w", err)
		}

		created = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, box)
	return created, nil
}

func (s *Scheduler) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, EventAppointmentConfirmed)
}

func (s *Scheduler) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusInProgress, EventAppointmentStarted)
}

func (s *Scheduler) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusDone, EventAppointmentCompleted)
}

func (s *Scheduler) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, eventType string) (*Appointment, error) {
	if err := required("appointmentId", id); err != nil {
		return nil, err
	}

	var result *Appointment
	box := s.newOutbox()

	err := s.repo.InTx(ctx, func(tx Repository) error {
		appt, err := tx.GetAppointmentByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if !slices.Contains(transitions[to], appt.Status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, appt.Status, to)
		}
		updated, err := tx.UpdateAppointmentStatus(ctx, id, transitions[to], to)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
			}
			return fmt.Errorf("update appointment status: %w", err)
		}
		if err := box.record(ctx, tx, eventType, ptr(id), appt.RequestID, map[string]any{
			"prev_status": string(appt.Status),
			"status":      string(to),
		}); err != nil {
			return fmt.Errorf("log transition: %w", err)
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, box)
	return result, nil
}

func (s *Scheduler) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Scheduler) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	out, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out, nil
}

// Request inbox

type CreateRequestInput struct {
	PatientID uuid.UUID
	Date      string
	Slot      string
	Treatment string
	Notes     *string
}

func (s *Scheduler) CreateRequest(ctx context.Context, in CreateRequestInput) (*AppointmentRequest, error) {
	if err := required("patientId", in.PatientID); err != nil {
		return nil, err
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return nil, err
	}
	if date.Before(s.today()) {
		return nil, invalid("date", "must not be in the past")
	}
	slot, err := s.grid.Lookup(in.Slot)
	if err != nil {
		return nil, err
	}
	treatment := strings.TrimSpace(in.Treatment)
	if treatment == "" {
		return nil, invalid("treatment", "is required")
	}
	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	req := &AppointmentRequest{
		PatientID:     in.PatientID,
		RequestedDate: date,
		RequestedSlot: slot,
		Treatment:     treatment,
		Notes:         in.Notes,
		Status:        RequestNew,
	}
	box := s.newOutbox()

	err = s.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.CreateRequest(ctx, req); err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		return box.record(ctx, tx, EventRequestCreated, nil, ptr(req.ID), map[string]any{
			"patient_id": in.PatientID.String(),
			"date":       date.String(),
			"slot":       slot.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, box)
	return req, nil
}

// CancelRequest withdraws a request that has not been assigned yet.
func (s *Scheduler) CancelRequest(ctx context.Context, id uuid.UUID) (*AppointmentRequest, error) {
	if err := required("requestId", id); err != nil {
		return nil, err
	}

	var result *AppointmentRequest
	box := s.newOutbox()

	err := s.repo.InTx(ctx, func(tx Repository) error {
		req, err := tx.GetRequestByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load request: %w", err)
		}
		if req.Status == RequestCancelled {
			result = req
			return nil
		}
		if !req.Status.Assignable() {
			return ErrRequestNotAssignable
		}
		updated, err := tx.UpdateRequestStatus(ctx, id, assignableRequest, RequestCancelled)
		if err != nil {
			if errors.Is(err, ErrRequestNotFound) {
				return ErrRequestNotAssignable
			}
			return fmt.Errorf("cancel request: %w", err)
		}
		if err := box.record(ctx, tx, EventRequestCancelled, nil, ptr(id), map[string]any{
			"prev_status": string(req.Status),
		}); err != nil {
			return fmt.Errorf("log request cancellation: %w", err)
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, box)
	return result, nil
}

func (s *Scheduler) ListRequests(ctx context.Context, f RequestFilter) ([]AppointmentRequest, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown request status %q", f.Status))
	}
	out, err := s.repo.ListRequests(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

// Directory

func (s *Scheduler) ListDentists(ctx context.Context) ([]Dentist, error) {
	out, err := s.repo.ListDentists(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list dentists: %w", err)
	}
	return out, nil
}

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    queryable
	tx   pgx.Tx
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// Helpers

func mapPgWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func parseStoredSlot(raw string) (SlotLabel, error) {
	s, err := ParseSlotLabel(raw)
	if err != nil {
		return SlotLabel{}, fmt.Errorf("stored slot: %w", err)
	}
	return s, nil
}

func statusArgs[S ~string](in []S) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

const patientCols = `id, user_id, pre_name, first_name, last_name, phone, email, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.PreName, &p.FirstName, &p.LastName, &p.Phone, &p.Email, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

const dentistCols = `id, user_id, pre_name, first_name, last_name, license_number, specialty, active, created_at`

func scanDentist(row pgx.Row) (*Dentist, error) {
	var d Dentist
	err := row.Scan(&d.ID, &d.UserID, &d.PreName, &d.FirstName, &d.LastName,
		&d.LicenseNumber, &d.Specialty, &d.Active, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDentistNotFound
		}
		return nil, err
	}
	return &d, nil
}

const unitCols = `id, unit_name, status, created_at, updated_at`

func scanUnit(row pgx.Row) (*TreatmentUnit, error) {
	var u TreatmentUnit
	err := row.Scan(&u.ID, &u.Name, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnitNotFound
		}
		return nil, err
	}
	return &u, nil
}

const requestCols = `id, patient_id, requested_date::text, requested_time_slot, treatment, notes,
	status, rescheduled_from, created_at, updated_at`

func scanRequest(row pgx.Row) (*AppointmentRequest, error) {
	var (
		r    AppointmentRequest
		date string
		slot string
	)
	err := row.Scan(&r.ID, &r.PatientID, &date, &slot, &r.Treatment, &r.Notes,
		&r.Status, &r.RescheduledFrom, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	r.RequestedDate = Date(date)
	if r.RequestedSlot, err = parseStoredSlot(slot); err != nil {
		return nil, err
	}
	return &r, nil
}

const appointmentCols = `id, patient_id, dentist_id, unit_id, appt_date::text, slot, status,
	request_id, treatment, notes, created_at, updated_at, cancelled_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a    Appointment
		date string
		slot string
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.DentistID, &a.UnitID, &date, &slot, &a.Status,
		&a.RequestID, &a.Treatment, &a.Notes, &a.CreatedAt, &a.UpdatedAt, &a.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Date = Date(date)
	if a.Slot, err = parseStoredSlot(slot); err != nil {
		return nil, err
	}
	return &a, nil
}

const declarationCols = `id, dentist_id, unit_id, avail_date::text, slot, status, created_at`

func scanDeclaration(row pgx.Row) (*DentistAvailability, error) {
	var (
		d    DentistAvailability
		date string
		slot string
	)
	if err := row.Scan(&d.ID, &d.DentistID, &d.UnitID, &date, &slot, &d.Status, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Date = Date(date)
	var err error
	if d.Slot, err = parseStoredSlot(slot); err != nil {
		return nil, err
	}
	return &d, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Unit of work

func (r *PgRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// no-op once committed
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&PgRepository{pool: r.pool, q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapPgWriteErr(err))
	}
	return nil
}

// Directory

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	created, err := scanPatient(r.q.QueryRow(ctx, `
		INSERT INTO patients (id, user_id, pre_name, first_name, last_name, phone, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING `+patientCols, p.ID, p.UserID, p.PreName, p.FirstName, p.LastName, p.Phone, p.Email))
	if err != nil {
		return mapPgWriteErr(err)
	}
	*p = *created
	return nil
}

func (r *PgRepository) CreateDentist(ctx context.Context, d *Dentist) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	created, err := scanDentist(r.q.QueryRow(ctx, `
		INSERT INTO dentists (id, user_id, pre_name, first_name, last_name, license_number, specialty, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING `+dentistCols, d.ID, d.UserID, d.PreName, d.FirstName, d.LastName,
		d.LicenseNumber, d.Specialty, d.Active))
	if err != nil {
		return mapPgWriteErr(err)
	}
	*d = *created
	return nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.q.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *PgRepository) GetDentistByID(ctx context.Context, id uuid.UUID) (*Dentist, error) {
	return scanDentist(r.q.QueryRow(ctx, `SELECT `+dentistCols+` FROM dentists WHERE id = $1`, id))
}

func (r *PgRepository) ListDentists(ctx context.Context, activeOnly bool) ([]Dentist, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+dentistCols+`
		FROM dentists
		WHERE ($1 = false OR active)
		ORDER BY first_name, last_name
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDentist)
}

// Treatment units

func (r *PgRepository) GetUnitByID(ctx context.Context, id uuid.UUID) (*TreatmentUnit, error) {
	return scanUnit(r.q.QueryRow(ctx, `SELECT `+unitCols+` FROM treatment_units WHERE id = $1`, id))
}

func (r *PgRepository) ListUnits(ctx context.Context, activeOnly bool) ([]TreatmentUnit, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+unitCols+`
		FROM treatment_units
		WHERE ($1 = false OR status = 'ACTIVE')
		ORDER BY created_at, unit_name
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanUnit)
}

func (r *PgRepository) CreateUnit(ctx context.Context, u *TreatmentUnit) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	created, err := scanUnit(r.q.QueryRow(ctx, `
		INSERT INTO treatment_units (id, unit_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING `+unitCols, u.ID, u.Name, u.Status))
	if err != nil {
		return mapPgWriteErr(err)
	}
	*u = *created
	return nil
}

func (r *PgRepository) UpdateUnit(ctx context.Context, u *TreatmentUnit) error {
	updated, err := scanUnit(r.q.QueryRow(ctx, `
		UPDATE treatment_units
		SET unit_name = $2,
		    status = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+unitCols, u.ID, u.Name, u.Status))
	if err != nil {
		return mapPgWriteErr(err)
	}
	*u = *updated
	return nil
}

func (r *PgRepository) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM treatment_units WHERE id = $1`, id)
	if err != nil {
		return mapPgWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnitNotFound
	}
	return nil
}

func (r *PgRepository) CountAppointmentsForUnit(ctx context.Context, unitID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE unit_id = $1`, unitID).Scan(&n)
	return n, err
}

// Request inbox

func (r *PgRepository) CreateRequest(ctx context.Context, req *AppointmentRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	created, err := scanRequest(r.q.QueryRow(ctx, `
		INSERT INTO appointment_requests (id, patient_id, requested_date, requested_time_slot,
			treatment, notes, status, rescheduled_from, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+requestCols,
		req.ID, req.PatientID, req.RequestedDate.String(), req.RequestedSlot.String(),
		req.Treatment, req.Notes, req.Status, req.RescheduledFrom))
	if err != nil {
		return mapPgWriteErr(err)
	}
	*req = *created
	return nil
}

func (r *PgRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*AppointmentRequest, error) {
	return scanRequest(r.q.QueryRow(ctx, `SELECT `+requestCols+` FROM appointment_requests WHERE id = $1`, id))
}

func (r *PgRepository) UpdateRequestStatus(ctx context.Context, id uuid.UUID, from []RequestStatus, to RequestStatus) (*AppointmentRequest, error) {
	return scanRequest(r.q.QueryRow(ctx, `
		UPDATE appointment_requests
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+requestCols, id, to, statusArgs(from)))
}

func (r *PgRepository) ListRequests(ctx context.Context, f RequestFilter) ([]AppointmentRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.Date != nil {
		args = append(args, f.Date.String())
		where = append(where, fmt.Sprintf("requested_date = $%d::date", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}

	query := `SELECT ` + requestCols + ` FROM appointment_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY requested_date, requested_time_slot, created_at`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRequest)
}

// Appointments

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	created, err := scanAppointment(r.q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, dentist_id, unit_id, appt_date, slot, status,
			request_id, treatment, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentCols,
		a.ID, a.PatientID, a.DentistID, a.UnitID, a.Date.String(), a.Slot.String(), a.Status,
		a.RequestID, a.Treatment, a.Notes))
	if err != nil {
		return mapPgWriteErr(err)
	}
	*a = *created
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.q.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id))
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	var cancelledAt *time.Time
	if to == StatusCancelled {
		now := time.Now().UTC()
		cancelledAt = &now
	}
	return scanAppointment(r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancelled_at = COALESCE($4, cancelled_at),
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentCols, id, to, statusArgs(from), cancelledAt))
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	if f.Date != nil {
		args = append(args, f.Date.String())
		where = append(where, fmt.Sprintf("appt_date = $%d::date", len(args)))
	}
	if f.UnitID != nil {
		args = append(args, *f.UnitID)
		where = append(where, fmt.Sprintf("unit_id = $%d", len(args)))
	}
	if f.DentistID != nil {
		args = append(args, *f.DentistID)
		where = append(where, fmt.Sprintf("dentist_id = $%d", len(args)))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if !f.IncludeCancelled {
		where = append(where, "status <> 'CANCELLED'")
	}

	query := `SELECT ` + appointmentCols + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY appt_date, slot, created_at`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) OccupiedSlots(ctx context.Context, unitID uuid.UUID, date Date) ([]SlotLabel, error) {
	rows, err := r.q.Query(ctx, `
		SELECT slot
		FROM appointments
		WHERE unit_id = $1
		  AND appt_date = $2::date
		  AND status <> 'CANCELLED'
	`, unitID, date.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotLabel
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		s, err := parseStoredSlot(raw)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Dentist availability

func (r *PgRepository) ListDeclarations(ctx context.Context, unitID uuid.UUID, date Date) ([]DentistAvailability, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+declarationCols+`
		FROM dentist_availability
		WHERE unit_id = $1
		  AND avail_date = $2::date
		ORDER BY slot
	`, unitID, date.String())
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDeclaration)
}

func (r *PgRepository) DeleteFreeDeclarations(ctx context.Context, dentistID, unitID uuid.UUID, date Date) error {
	_, err := r.q.Exec(ctx, `
		DELETE FROM dentist_availability
		WHERE dentist_id = $1
		  AND unit_id = $2
		  AND avail_date = $3::date
		  AND status = 'FREE'
	`, dentistID, unitID, date.String())
	return err
}

func (r *PgRepository) InsertDeclarations(ctx context.Context, decls []DentistAvailability) error {
	for i := range decls {
		d := &decls[i]
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		_, err := r.q.Exec(ctx, `
			INSERT INTO dentist_availability (id, dentist_id, unit_id, avail_date, slot, status, created_at)
			VALUES ($1, $2, $3, $4::date, $5, $6, now())
		`, d.ID, d.DentistID, d.UnitID, d.Date.String(), d.Slot.String(), d.Status)
		if err != nil {
			return mapPgWriteErr(err)
		}
	}
	return nil
}

func (r *PgRepository) SetDeclarationStatus(ctx context.Context, dentistID, unitID uuid.UUID, date Date, slot SlotLabel, status AvailabilityStatus) error {
	_, err := r.q.Exec(ctx, `
		UPDATE dentist_availability
		SET status = $5
		WHERE dentist_id = $1
		  AND unit_id = $2
		  AND avail_date = $3::date
		  AND slot = $4
	`, dentistID, unitID, date.String(), slot.String(), status)
	return err
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, request_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.RequestID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Row models shared by the gorm store. Column names match the SQL
// migrations so the store also runs against a migrated Postgres database.

type patientRow struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID    *uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	PreName   string     `gorm:"not null;default:''"`
	FirstName string     `gorm:"not null"`
	LastName  string     `gorm:"not null"`
	Phone     *string
	Email     *string
	CreatedAt time.Time
}

func (patientRow) TableName() string { return "patients" }

type dentistRow struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID        *uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	PreName       string     `gorm:"not null;default:''"`
	FirstName     string     `gorm:"not null"`
	LastName      string     `gorm:"not null"`
	LicenseNumber string     `gorm:"not null;uniqueIndex"`
	Specialty     *string
	Active        bool `gorm:"not null"`
	CreatedAt     time.Time
}

func (dentistRow) TableName() string { return "dentists" }

type unitRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UnitName  string    `gorm:"not null"`
	Status    string    `gorm:"not null;default:ACTIVE"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (unitRow) TableName() string { return "treatment_units" }

type requestRow struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	PatientID         uuid.UUID `gorm:"type:uuid;not null;index"`
	RequestedDate     Date      `gorm:"type:date;not null;index"`
	RequestedTimeSlot string    `gorm:"not null"`
	Treatment         string    `gorm:"not null"`
	Notes             *string
	Status            string     `gorm:"not null;default:NEW"`
	RescheduledFrom   *uuid.UUID `gorm:"type:uuid"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (requestRow) TableName() string { return "appointment_requests" }

type appointmentRow struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	PatientID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	DentistID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	UnitID      uuid.UUID  `gorm:"type:uuid;not null"`
	ApptDate    Date       `gorm:"type:date;not null"`
	Slot        string     `gorm:"not null"`
	Status      string     `gorm:"not null"`
	RequestID   *uuid.UUID `gorm:"type:uuid"`
	Treatment   string     `gorm:"not null;default:''"`
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

func (appointmentRow) TableName() string { return "appointments" }

type availabilityRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	DentistID uuid.UUID `gorm:"type:uuid;not null;index"`
	UnitID    uuid.UUID `gorm:"type:uuid;not null"`
	AvailDate Date      `gorm:"type:date;not null"`
	Slot      string    `gorm:"not null"`
	Status    string    `gorm:"not null;default:FREE"`
	CreatedAt time.Time
}

func (availabilityRow) TableName() string { return "dentist_availability" }

type eventLogRow struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	EventType     string     `gorm:"not null"`
	AppointmentID *uuid.UUID `gorm:"type:uuid"`
	RequestID     *uuid.UUID `gorm:"type:uuid"`
	Payload       datatypes.JSON
	CreatedAt     time.Time
}

func (eventLogRow) TableName() string { return "event_logs" }

// slotIndexes back the no-double-booking rule in the database. They are
// partial, which AutoMigrate cannot express.
var slotIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS appointments_unit_slot_active
		ON appointments (unit_id, appt_date, slot) WHERE status <> 'CANCELLED'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS dentist_availability_unit_slot
		ON dentist_availability (unit_id, avail_date, slot)`,
}

// AutoMigrate creates the schema from the row models. Postgres deployments
// use the SQL migrations instead; this is for sqlite and tests.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&patientRow{},
		&dentistRow{},
		&unitRow{},
		&requestRow{},
		&appointmentRow{},
		&availabilityRow{},
		&eventLogRow{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range slotIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create slot index: %w", err)
		}
	}
	return nil
}

type GormRepository struct {
	db   *gorm.DB
	inTx bool
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func mapGormWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// Conversions

func patientFromRow(r patientRow) Patient {
	return Patient{
		ID:        r.ID,
		UserID:    r.UserID,
		PreName:   r.PreName,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Email:     r.Email,
		CreatedAt: r.CreatedAt,
	}
}

func dentistFromRow(r dentistRow) Dentist {
	return Dentist{
		ID:            r.ID,
		UserID:        r.UserID,
		PreName:       r.PreName,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		LicenseNumber: r.LicenseNumber,
		Specialty:     r.Specialty,
		Active:        r.Active,
		CreatedAt:     r.CreatedAt,
	}
}

func unitFromRow(r unitRow) TreatmentUnit {
	return TreatmentUnit{
		ID:        r.ID,
		Name:      r.UnitName,
		Status:    UnitStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func requestFromRow(r requestRow) (AppointmentRequest, error) {
	slot, err := parseStoredSlot(r.RequestedTimeSlot)
	if err != nil {
		return AppointmentRequest{}, err
	}
	return AppointmentRequest{
		ID:              r.ID,
		PatientID:       r.PatientID,
		RequestedDate:   r.RequestedDate,
		RequestedSlot:   slot,
		Treatment:       r.Treatment,
		Notes:           r.Notes,
		Status:          RequestStatus(r.Status),
		RescheduledFrom: r.RescheduledFrom,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func appointmentFromRow(r appointmentRow) (Appointment, error) {
	slot, err := parseStoredSlot(r.Slot)
	if err != nil {
		return Appointment{}, err
	}
	return Appointment{
		ID:          r.ID,
		PatientID:   r.PatientID,
		DentistID:   r.DentistID,
		UnitID:      r.UnitID,
		Date:        r.ApptDate,
		Slot:        slot,
		Status:      AppointmentStatus(r.Status),
		RequestID:   r.RequestID,
		Treatment:   r.Treatment,
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CancelledAt: r.CancelledAt,
	}, nil
}

func declarationFromRow(r availabilityRow) (DentistAvailability, error) {
	slot, err := parseStoredSlot(r.Slot)
	if err != nil {
		return DentistAvailability{}, err
	}
	return DentistAvailability{
		ID:        r.ID,
		DentistID: r.DentistID,
		UnitID:    r.UnitID,
		Date:      r.AvailDate,
		Slot:      slot,
		Status:    AvailabilityStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}, nil
}

// Unit of work

func (r *GormRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx, inTx: true})
	})
}

// Directory

func (r *GormRepository) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := patientRow{
		ID:        p.ID,
		UserID:    p.UserID,
		PreName:   p.PreName,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Phone:     p.Phone,
		Email:     p.Email,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapGormWriteErr(err)
	}
	*p = patientFromRow(row)
	return nil
}

func (r *GormRepository) CreateDentist(ctx context.Context, d *Dentist) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	row := dentistRow{
		ID:            d.ID,
		UserID:        d.UserID,
		PreName:       d.PreName,
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		LicenseNumber: d.LicenseNumber,
		Specialty:     d.Specialty,
		Active:        d.Active,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapGormWriteErr(err)
	}
	*d = dentistFromRow(row)
	return nil
}

func (r *GormRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var row patientRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrPatientNotFound)
	}
	p := patientFromRow(row)
	return &p, nil
}

func (r *GormRepository) GetDentistByID(ctx context.Context, id uuid.UUID) (*Dentist, error) {
	var row dentistRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrDentistNotFound)
	}
	d := dentistFromRow(row)
	return &d, nil
}

func (r *GormRepository) ListDentists(ctx context.Context, activeOnly bool) ([]Dentist, error) {
	q := r.db.WithContext(ctx).Model(&dentistRow{})
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var rows []dentistRow
	if err := q.Order("first_name, last_name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Dentist, 0, len(rows))
	for _, row := range rows {
		out = append(out, dentistFromRow(row))
	}
	return out, nil
}

// Treatment units

func (r *GormRepository) GetUnitByID(ctx context.Context, id uuid.UUID) (*TreatmentUnit, error) {
	var row unitRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrUnitNotFound)
	}
	u := unitFromRow(row)
	return &u, nil
}

func (r *GormRepository) ListUnits(ctx context.Context, activeOnly bool) ([]TreatmentUnit, error) {
	q := r.db.WithContext(ctx).Model(&unitRow{})
	if activeOnly {
		q = q.Where("status = ?", string(UnitActive))
	}
	var rows []unitRow
	if err := q.Order("created_at, unit_name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]TreatmentUnit, 0, len(rows))
	for _, row := range rows {
		out = append(out, unitFromRow(row))
	}
	return out, nil
}

func (r *GormRepository) CreateUnit(ctx context.Context, u *TreatmentUnit) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	row := unitRow{ID: u.ID, UnitName: u.Name, Status: string(u.Status)}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapGormWriteErr(err)
	}
	*u = unitFromRow(row)
	return nil
}

func (r *GormRepository) UpdateUnit(ctx context.Context, u *TreatmentUnit) error {
	res := r.db.WithContext(ctx).
		Model(&unitRow{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"unit_name": u.Name,
			"status":    string(u.Status),
		})
	if res.Error != nil {
		return mapGormWriteErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUnitNotFound
	}
	updated, err := r.GetUnitByID(ctx, u.ID)
	if err != nil {
		return err
	}
	*u = *updated
	return nil
}

func (r *GormRepository) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&unitRow{}, "id = ?", id)
	if res.Error != nil {
		return mapGormWriteErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUnitNotFound
	}
	return nil
}

func (r *GormRepository) CountAppointmentsForUnit(ctx context.Context, unitID uuid.UUID) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&appointmentRow{}).Where("unit_id = ?", unitID).Count(&n).Error
	return int(n), err
}

// Request inbox

func (r *GormRepository) CreateRequest(ctx context.Context, req *AppointmentRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	row := requestRow{
		ID:                req.ID,
		PatientID:         req.PatientID,
		RequestedDate:     req.RequestedDate,
		RequestedTimeSlot: req.RequestedSlot.String(),
		Treatment:         req.Treatment,
		Notes:             req.Notes,
		Status:            string(req.Status),
		RescheduledFrom:   req.RescheduledFrom,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapGormWriteErr(err)
	}
	created, err := requestFromRow(row)
	if err != nil {
		return err
	}
	*req = created
	return nil
}

func (r *GormRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*AppointmentRequest, error) {
	var row requestRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}
	req, err := requestFromRow(row)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *GormRepository) UpdateRequestStatus(ctx context.Context, id uuid.UUID, from []RequestStatus, to RequestStatus) (*AppointmentRequest, error) {
	res := r.db.WithContext(ctx).
		Model(&requestRow{}).
		Where("id = ? AND status IN ?", id, statusArgs(from)).
		Updates(map[string]any{"status": string(to)})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRequestNotFound
	}
	return r.GetRequestByID(ctx, id)
}

func (r *GormRepository) ListRequests(ctx context.Context, f RequestFilter) ([]AppointmentRequest, error) {
	q := r.db.WithContext(ctx).Model(&requestRow{})
	if f.Date != nil {
		q = q.Where("requested_date = ?", *f.Date)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.PatientID != nil {
		q = q.Where("patient_id = ?", *f.PatientID)
	}

	var rows []requestRow
	if err := q.Order("requested_date, requested_time_slot, created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]AppointmentRequest, 0, len(rows))
	for _, row := range rows {
		req, err := requestFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// Appointments

func (r *GormRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := appointmentRow{
		ID:        a.ID,
		PatientID: a.PatientID,
		DentistID: a.DentistID,
		UnitID:    a.UnitID,
		ApptDate:  a.Date,
		Slot:      a.Slot.String(),
		Status:    string(a.Status),
		RequestID: a.RequestID,
		Treatment: a.Treatment,
		Notes:     a.Notes,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapGormWriteErr(err)
	}
	created, err := appointmentFromRow(row)
	if err != nil {
		return err
	}
	*a = created
	return nil
}

func (r *GormRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var row appointmentRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrAppointmentNotFound)
	}
	a, err := appointmentFromRow(row)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *GormRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	update := map[string]any{"status": string(to)}
	if to == StatusCancelled {
		update["cancelled_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&appointmentRow{}).
		Where("id = ? AND status IN ?", id, statusArgs(from)).
		Updates(update)
	if res.Error != nil {
		return nil, mapGormWriteErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAppointmentNotFound
	}
	return r.GetAppointmentByID(ctx, id)
}

func (r *GormRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	q := r.db.WithContext(ctx).Model(&appointmentRow{})
	if f.Date != nil {
		q = q.Where("appt_date = ?", *f.Date)
	}
	if f.UnitID != nil {
		q = q.Where("unit_id = ?", *f.UnitID)
	}
	if f.DentistID != nil {
		q = q.Where("dentist_id = ?", *f.DentistID)
	}
	if f.PatientID != nil {
		q = q.Where("patient_id = ?", *f.PatientID)
	}
	if !f.IncludeCancelled {
		q = q.Where("status <> ?", string(StatusCancelled))
	}

	var rows []appointmentRow
	if err := q.Order("appt_date, slot, created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Appointment, 0, len(rows))
	for _, row := range rows {
		a, err := appointmentFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *GormRepository) OccupiedSlots(ctx context.Context, unitID uuid.UUID, date Date) ([]SlotLabel, error) {
	var raw []string
	err := r.db.WithContext(ctx).
		Model(&appointmentRow{}).
		Where("unit_id = ? AND appt_date = ? AND status <> ?", unitID, date, string(StatusCancelled)).
		Pluck("slot", &raw).Error
	if err != nil {
		return nil, err
	}
	out := make([]SlotLabel, 0, len(raw))
	for _, s := range raw {
		slot, err := parseStoredSlot(s)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, nil
}

// Dentist availability

func (r *GormRepository) ListDeclarations(ctx context.Context, unitID uuid.UUID, date Date) ([]DentistAvailability, error) {
	var rows []availabilityRow
	err := r.db.WithContext(ctx).
		Where("unit_id = ? AND avail_date = ?", unitID, date).
		Order("slot").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]DentistAvailability, 0, len(rows))
	for _, row := range rows {
		d, err := declarationFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *GormRepository) DeleteFreeDeclarations(ctx context.Context, dentistID, unitID uuid.UUID, date Date) error {
	return r.db.WithContext(ctx).
		Where("dentist_id = ? AND unit_id = ? AND avail_date = ? AND status = ?",
			dentistID, unitID, date, string(AvailabilityFree)).
		Delete(&availabilityRow{}).Error
}

func (r *GormRepository) InsertDeclarations(ctx context.Context, decls []DentistAvailability) error {
	if len(decls) == 0 {
		return nil
	}
	rows := make([]availabilityRow, 0, len(decls))
	for i := range decls {
		if decls[i].ID == uuid.Nil {
			decls[i].ID = uuid.New()
		}
		rows = append(rows, availabilityRow{
			ID:        decls[i].ID,
			DentistID: decls[i].DentistID,
			UnitID:    decls[i].UnitID,
			AvailDate: decls[i].Date,
			Slot:      decls[i].Slot.String(),
			Status:    string(decls[i].Status),
		})
	}
	return mapGormWriteErr(r.db.WithContext(ctx).Create(&rows).Error)
}

func (r *GormRepository) SetDeclarationStatus(ctx context.Context, dentistID, unitID uuid.UUID, date Date, slot SlotLabel, status AvailabilityStatus) error {
	return r.db.WithContext(ctx).
		Model(&availabilityRow{}).
		Where("dentist_id = ? AND unit_id = ? AND avail_date = ? AND slot = ?",
			dentistID, unitID, date, slot.String()).
		Update("status", string(status)).Error
}

// Event logging

func (r *GormRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	row := eventLogRow{
		EventType:     ev.EventType,
		AppointmentID: ev.AppointmentID,
		RequestID:     ev.RequestID,
		Payload:       datatypes.JSON(ev.Payload),
		CreatedAt:     ev.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

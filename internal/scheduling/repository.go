package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the scheduler.
// Writers that touch slot occupancy run inside InTx.
type Repository interface {
	// Directory
	CreatePatient(ctx context.Context, p *Patient) error
	CreateDentist(ctx context.Context, d *Dentist) error
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDentistByID(ctx context.Context, id uuid.UUID) (*Dentist, error)
	ListDentists(ctx context.Context, activeOnly bool) ([]Dentist, error)

	// Treatment units
	GetUnitByID(ctx context.Context, id uuid.UUID) (*TreatmentUnit, error)
	ListUnits(ctx context.Context, activeOnly bool) ([]TreatmentUnit, error)
	CreateUnit(ctx context.Context, u *TreatmentUnit) error
	UpdateUnit(ctx context.Context, u *TreatmentUnit) error
	DeleteUnit(ctx context.Context, id uuid.UUID) error
	CountAppointmentsForUnit(ctx context.Context, unitID uuid.UUID) (int, error)

	// Request inbox
	CreateRequest(ctx context.Context, r *AppointmentRequest) error
	GetRequestByID(ctx context.Context, id uuid.UUID) (*AppointmentRequest, error)
	// UpdateRequestStatus only moves a request that is currently in one of
	// from; otherwise it returns ErrRequestNotFound.
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, from []RequestStatus, to RequestStatus) (*AppointmentRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]AppointmentRequest, error)

	// Appointments. CreateAppointment returns ErrDuplicate when the
	// (unit, date, slot) unique index rejects the row.
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	OccupiedSlots(ctx context.Context, unitID uuid.UUID, date Date) ([]SlotLabel, error)

	// Dentist availability
	ListDeclarations(ctx context.Context, unitID uuid.UUID, date Date) ([]DentistAvailability, error)
	DeleteFreeDeclarations(ctx context.Context, dentistID, unitID uuid.UUID, date Date) error
	InsertDeclarations(ctx context.Context, rows []DentistAvailability) error
	SetDeclarationStatus(ctx context.Context, dentistID, unitID uuid.UUID, date Date, slot SlotLabel, status AvailabilityStatus) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	// InTx runs fn against a repository bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

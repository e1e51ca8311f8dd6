package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type UnitStatus string

const (
	UnitActive   UnitStatus = "ACTIVE"
	UnitInactive UnitStatus = "INACTIVE"
)

func (s UnitStatus) Valid() bool {
	return s == UnitActive || s == UnitInactive
}

type RequestStatus string

const (
	RequestNew       RequestStatus = "NEW"
	RequestPending   RequestStatus = "PENDING"
	RequestScheduled RequestStatus = "SCHEDULED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// assignableRequest lists the request states staff may still act on.
var assignableRequest = []RequestStatus{RequestNew, RequestPending}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestNew, RequestPending, RequestScheduled, RequestCancelled:
		return true
	}
	return false
}

func (s RequestStatus) Assignable() bool {
	return s == RequestNew || s == RequestPending
}

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "PENDING"
	StatusConfirmed  AppointmentStatus = "CONFIRMED"
	StatusScheduled  AppointmentStatus = "SCHEDULED"
	StatusInProgress AppointmentStatus = "IN_PROGRESS"
	StatusDone       AppointmentStatus = "DONE"
	StatusCancelled  AppointmentStatus = "CANCELLED"
)

// transitions maps a target status to the states it may be entered from.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusConfirmed:  {StatusPending, StatusScheduled},
	StatusInProgress: {StatusPending, StatusScheduled, StatusConfirmed},
	StatusDone:       {StatusScheduled, StatusConfirmed, StatusInProgress},
	StatusCancelled:  {StatusPending, StatusScheduled, StatusConfirmed, StatusInProgress},
}

func (s AppointmentStatus) Active() bool {
	return s != StatusCancelled && s != StatusDone
}

type AvailabilityStatus string

const (
	AvailabilityFree   AvailabilityStatus = "FREE"
	AvailabilityBooked AvailabilityStatus = "BOOKED"
)

type Patient struct {
	ID        uuid.UUID
	UserID    *uuid.UUID
	PreName   string
	FirstName string
	LastName  string
	Phone     *string
	Email     *string
	CreatedAt time.Time
}

type Dentist struct {
	ID            uuid.UUID
	UserID        *uuid.UUID
	PreName       string
	FirstName     string
	LastName      string
	LicenseNumber string
	Specialty     *string
	Active        bool
	CreatedAt     time.Time
}

type TreatmentUnit struct {
	ID        uuid.UUID
	Name      string
	Status    UnitStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AppointmentRequest struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	RequestedDate   Date
	RequestedSlot   SlotLabel
	Treatment       string
	Notes           *string
	Status          RequestStatus
	RescheduledFrom *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DentistID   uuid.UUID
	UnitID      uuid.UUID
	Date        Date
	Slot        SlotLabel
	Status      AppointmentStatus
	RequestID   *uuid.UUID
	Treatment   string
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

// DentistAvailability is a dentist's own claim on a unit slot for one day.
type DentistAvailability struct {
	ID        uuid.UUID
	DentistID uuid.UUID
	UnitID    uuid.UUID
	Date      Date
	Slot      SlotLabel
	Status    AvailabilityStatus
	CreatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	RequestID     *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type RequestFilter struct {
	Date      *Date
	Status    RequestStatus
	PatientID *uuid.UUID
}

type AppointmentFilter struct {
	Date             *Date
	UnitID           *uuid.UUID
	DentistID        *uuid.UUID
	PatientID        *uuid.UUID
	IncludeCancelled bool
}

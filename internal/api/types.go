package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-unit-scheduling/internal/scheduling"
)

type DeclareAvailabilityRequest struct {
	DentistID string   `json:"dentistId"`
	UnitID    string   `json:"unitId"`
	Date      string   `json:"date"`
	Slots     []string `json:"slots"`
}

type DeclareAvailabilityResponse struct {
	OK         bool     `json:"ok"`
	Saved      int      `json:"saved"`
	SavedSlots []string `json:"savedSlots"`
	Conflicts  []string `json:"conflicts"`
}

type AvailabilityResponse struct {
	Date         string                `json:"date"`
	UnitID       uuid.UUID             `json:"unitId"`
	DentistID    *uuid.UUID            `json:"dentistId,omitempty"`
	Slots        []string              `json:"slots"`
	Saved        []string              `json:"saved,omitempty"`
	Booked       []string              `json:"booked,omitempty"`
	Declarations []DeclarationResponse `json:"declarations,omitempty"`
}

type DeclarationResponse struct {
	DentistID uuid.UUID `json:"dentistId"`
	Slot      string    `json:"slot"`
	Status    string    `json:"status"`
}

type AssignRequest struct {
	RequestID string `json:"requestId"`
	PatientID string `json:"patientId"`
	DentistID string `json:"dentistId"`
	UnitID    string `json:"unitId"`
	Date      string `json:"date"`
	Slot      string `json:"slot"`
}

type AssignResponse struct {
	Success       bool                `json:"success"`
	AppointmentID uuid.UUID           `json:"appointmentId"`
	Appointment   AppointmentResponse `json:"appointment"`
}

type RescheduleRequest struct {
	Date  string  `json:"date"`
	Slot  string  `json:"slot"`
	Notes *string `json:"notes,omitempty"`
}

type RescheduleResponse struct {
	Success   bool      `json:"success"`
	RequestID uuid.UUID `json:"requestId"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patientId"`
	DentistID   uuid.UUID  `json:"dentistId"`
	UnitID      uuid.UUID  `json:"unitId"`
	Date        string     `json:"date"`
	Slot        string     `json:"slot"`
	Status      string     `json:"status"`
	RequestID   *uuid.UUID `json:"requestId,omitempty"`
	Treatment   string     `json:"treatment"`
	Notes       *string    `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DentistID:   a.DentistID,
		UnitID:      a.UnitID,
		Date:        a.Date.String(),
		Slot:        a.Slot.String(),
		Status:      string(a.Status),
		RequestID:   a.RequestID,
		Treatment:   a.Treatment,
		Notes:       a.Notes,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		CancelledAt: a.CancelledAt,
	}
}

type CreateRequestRequest struct {
	PatientID string  `json:"patientId"`
	Date      string  `json:"date"`
	Slot      string  `json:"slot"`
	Treatment string  `json:"treatment"`
	Notes     *string `json:"notes,omitempty"`
}

type RequestResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patientId"`
	RequestedDate   string     `json:"requestedDate"`
	RequestedSlot   string     `json:"requestedSlot"`
	Treatment       string     `json:"treatment"`
	Notes           *string    `json:"notes,omitempty"`
	Status          string     `json:"status"`
	RescheduledFrom *uuid.UUID `json:"rescheduledFrom,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toRequestResponse(r *scheduling.AppointmentRequest) RequestResponse {
	return RequestResponse{
		ID:              r.ID,
		PatientID:       r.PatientID,
		RequestedDate:   r.RequestedDate.String(),
		RequestedSlot:   r.RequestedSlot.String(),
		Treatment:       r.Treatment,
		Notes:           r.Notes,
		Status:          string(r.Status),
		RescheduledFrom: r.RescheduledFrom,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type UnitRequest struct {
	Name string `json:"name"`
}

type UnitStatusRequest struct {
	Status string `json:"status"`
}

type UnitResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toUnitResponse(u *scheduling.TreatmentUnit) UnitResponse {
	return UnitResponse{
		ID:        u.ID,
		Name:      u.Name,
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type DentistResponse struct {
	ID            uuid.UUID `json:"id"`
	PreName       string    `json:"preName"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	LicenseNumber string    `json:"licenseNumber"`
	Specialty     *string   `json:"specialty,omitempty"`
}

type SlotsResponse struct {
	Slots []string `json:"slots"`
}

type ErrorResponse struct {
	Success   bool     `json:"success"`
	Error     string   `json:"error"`
	Details   string   `json:"details,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
}

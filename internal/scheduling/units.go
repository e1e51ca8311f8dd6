package scheduling

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (s *Scheduler) ListUnits(ctx context.Context, activeOnly bool) ([]TreatmentUnit, error) {
	out, err := s.repo.ListUnits(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	return out, nil
}

func unitName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalid("name", "is required")
	}
	return name, nil
}

func (s *Scheduler) CreateUnit(ctx context.Context, name string) (*TreatmentUnit, error) {
	name, err := unitName(name)
	if err != nil {
		return nil, err
	}

	u := &TreatmentUnit{Name: name, Status: UnitActive}
	box := s.newOutbox()

	err = s.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.CreateUnit(ctx, u); err != nil {
			return fmt.Errorf("create unit: %w", err)
		}
		return box.record(ctx, tx, EventUnitCreated, nil, nil, map[string]any{
			"unit_id": u.ID.String(),
			"name":    u.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, box)
	return u, nil
}

func (s *Scheduler) RenameUnit(ctx context.Context, id uuid.UUID, name string) (*TreatmentUnit, error) {
	name, err := unitName(name)
	if err != nil {
		return nil, err
	}
	return s.updateUnit(ctx, id, func(u *TreatmentUnit) { u.Name = name })
}

// SetUnitStatus takes a unit in or out of service. Existing appointments
// are kept; an inactive unit only stops accepting new ones.
func (s *Scheduler) SetUnitStatus(ctx context.Context, id uuid.UUID, status UnitStatus) (*TreatmentUnit, error) {
	if !status.Valid() {
		return nil, invalid("status", "must be ACTIVE or INACTIVE")
	}
	return s.updateUnit(ctx, id, func(u *TreatmentUnit) { u.Status = status })
}

func (s *Scheduler) updateUnit(ctx context.Context, id uuid.UUID, mutate func(*TreatmentUnit)) (*TreatmentUnit, error) {
	if err := required("unitId", id); err != nil {
		return nil, err
	}

	var result *TreatmentUnit
	box := s.newOutbox()

	err := s.repo.InTx(ctx, func(tx Repository) error {
		u, err := tx.GetUnitByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load unit: %w", err)
		}
		mutate(u)
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return fmt.Errorf("update unit: %w", err)
		}
		if err := box.record(ctx, tx, EventUnitUpdated, nil, nil, map[string]any{
			"unit_id": u.ID.String(),
			"name":    u.Name,
			"status":  string(u.Status),
		}); err != nil {
			return fmt.Errorf("log unit update: %w", err)
		}
		result = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, box)
	return result, nil
}

// DeleteUnit removes a unit that no appointment has ever used. Units with
// history can only be deactivated.
func (s *Scheduler) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	if err := required("unitId", id); err != nil {
		return err
	}

	box := s.newOutbox()
	err := s.repo.InTx(ctx, func(tx Repository) error {
		if _, err := tx.GetUnitByID(ctx, id); err != nil {
			return fmt.Errorf("load unit: %w", err)
		}
		n, err := tx.CountAppointmentsForUnit(ctx, id)
		if err != nil {
			return fmt.Errorf("count unit appointments: %w", err)
		}
		if n > 0 {
			return ErrUnitInUse
		}
		if err := tx.DeleteUnit(ctx, id); err != nil {
			return fmt.Errorf("delete unit: %w", err)
		}
		return box.record(ctx, tx, EventUnitDeleted, nil, nil, map[string]any{
			"unit_id": id.String(),
		})
	})
	if err != nil {
		return err
	}

	s.publish(ctx, box)
	return nil
}

package ingest

import (
	"github.com/google/uuid"

	"vehicleregistry/pkg/domain"
	"vehicleregistry/pkg/store"
)

// Outcome reports how the reconciliation engine applied one record.
type Outcome int

const (
	OutcomeAdded Outcome = iota
	OutcomeUpdated
)

// Reconciler applies validated records against one registration unit.
type Reconciler struct {
	unit store.RegistrationUnit
}

func NewReconciler(unit store.RegistrationUnit) *Reconciler {
	return &Reconciler{unit: unit}
}

// Apply matches by identity triplet first, then enforces VIN uniqueness
// across grantors, then creates. The order matters: a resubmission by the
// same grantor updates in place, while VIN reuse under a different full
// name is rejected before anything is written.
func (r *Reconciler) Apply(rec Record) (Outcome, error) {
	fullName := rec.FullName()

	existing, found, err := r.unit.FindByIdentity(fullName, rec.VIN, rec.SpgAcn)
	if err != nil {
		return 0, err
	}
	if found {
		existing.GrantorFirstName = rec.FirstName
		existing.GrantorMiddleNames = rec.MiddleNames
		existing.GrantorLastName = rec.LastName
		existing.StartDate = rec.StartDate
		existing.Duration = rec.Duration
		existing.SpgAcn = rec.SpgAcn
		existing.SpgOrgName = rec.SpgOrgName
		if err := r.unit.Update(existing); err != nil {
			return 0, err
		}
		return OutcomeUpdated, nil
	}

	sameVIN, found, err := r.unit.FindByVIN(rec.VIN)
	if err != nil {
		return 0, err
	}
	if found && sameVIN.FullName() != fullName {
		return 0, &domain.VINConflictError{VIN: rec.VIN}
	}

	reg := domain.VehicleRegistration{
		ID:                 uuid.NewString(),
		GrantorFirstName:   rec.FirstName,
		GrantorMiddleNames: rec.MiddleNames,
		GrantorLastName:    rec.LastName,
		VIN:                rec.VIN,
		StartDate:          rec.StartDate,
		Duration:           rec.Duration,
		SpgAcn:             rec.SpgAcn,
		SpgOrgName:         rec.SpgOrgName,
	}
	if err := r.unit.Add(reg); err != nil {
		return 0, err
	}
	return OutcomeAdded, nil
}

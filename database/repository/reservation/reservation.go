package reservationRepo

import (
	"context"
	"errors"
	"time"

	"tavolo/models"
)

// ErrCapacityConflict is returned by CreateIfCapacityHolds when the recheck
// inside the insert transaction finds the interval full.
var ErrCapacityConflict = errors.New("capacity exceeded for requested interval")

// ReservationRepository defines the data access methods used by the
// availability engine and the conversation orchestrator.
type ReservationRepository interface {
	// Create persists a new reservation record.
	Create(ctx context.Context, res *models.Reservation) error
	// CreateIfCapacityHolds re-runs the overlap sum and inserts the reservation
	// in one transaction, failing with ErrCapacityConflict when the interval no
	// longer fits under capacity.
	CreateIfCapacityHolds(ctx context.Context, res *models.Reservation, capacity int) error
	// GetByID retrieves a reservation scoped to a tenant and customer.
	GetByID(ctx context.Context, tenantID, phone, id string) (*models.Reservation, error)
	// UpdateStatus flips the status of a reservation (e.g. to cancelled).
	UpdateStatus(ctx context.Context, tenantID, id, status string) error
	// UpdateTimes rewrites start/end, party size and notes of a reservation.
	UpdateTimes(ctx context.Context, tenantID, id string, start, end time.Time, people int, notes string) error
	// ListUpcoming returns the customer's confirmed future reservations in
	// chronological order.
	ListUpcoming(ctx context.Context, tenantID, phone string, from time.Time) ([]models.Reservation, error)
	// SumOverlappingPeople aggregates party sizes of pending and confirmed
	// reservations whose interval intersects [start, end).
	SumOverlappingPeople(ctx context.Context, tenantID string, start, end time.Time) (int, error)
	// CountOverlappingForCustomer counts the customer's own active reservations
	// intersecting [start, end).
	CountOverlappingForCustomer(ctx context.Context, tenantID, phone string, start, end time.Time) (int, error)
}

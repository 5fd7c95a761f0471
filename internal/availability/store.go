// Package availability answers whether a unit can take a booking for a date
// range and guest count, and at what price.
package availability

import (
	"context"
	"time"

	"nilecruise/internal/models"
)

// Store is the read side the availability algorithm needs. It is satisfied by
// the database handle and by an open booking transaction.
type Store interface {
	GetUnit(ctx context.Context, id int64) (*models.Unit, error)
	ListCabins(ctx context.Context, unitID int64) ([]models.Cabin, error)
	// ListOverlappingReservations returns PENDING and CONFIRMED reservations of
	// the unit whose [start, end) intersects the given range, with cabin ids.
	ListOverlappingReservations(ctx context.Context, unitID int64, start, end time.Time, excludeID int64) ([]models.Reservation, error)
}

package availability

import (
	"context"
	"fmt"
	"time"

	"nilecruise/internal/models"
)

// Overlaps reports whether [s1, e1) and [s2, e2) intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// Detector finds overlapping non-cancelled reservations.
type Detector struct {
	store Store
}

// NewDetector creates a detector reading from store.
func NewDetector(store Store) *Detector {
	return &Detector{store: store}
}

// HasConflict reports whether a booking of unitID over [start, end) collides
// with an active reservation. A nil cabinIDs checks the whole unit; otherwise
// only reservations claiming one of the listed cabins count.
func (d *Detector) HasConflict(ctx context.Context, unitID int64, cabinIDs []int64, start, end time.Time, excludeID int64) (bool, error) {
	existing, err := d.store.ListOverlappingReservations(ctx, unitID, start, end, excludeID)
	if err != nil {
		return false, fmt.Errorf("list reservations: %w", err)
	}
	return Conflicts(existing, cabinIDs, start, end, excludeID), nil
}

// Conflicts is HasConflict over an already loaded reservation list.
func Conflicts(existing []models.Reservation, cabinIDs []int64, start, end time.Time, excludeID int64) bool {
	for i := range existing {
		r := &existing[i]
		if !r.IsActive() || (excludeID != 0 && r.ID == excludeID) {
			continue
		}
		if !Overlaps(r.StartDate, r.EndDate, start, end) {
			continue
		}
		if cabinIDs == nil || r.ClaimsAnyCabin(cabinIDs) {
			return true
		}
	}
	return false
}

package availability

import (
	"time"

	"nilecruise/internal/models"
)

// Index maps each date to the active reservations occupying that night.
type Index struct {
	byDate map[time.Time][]*models.Reservation
}

// NewIndex builds an index over the active reservations in rs.
func NewIndex(rs []models.Reservation) *Index {
	idx := &Index{byDate: make(map[time.Time][]*models.Reservation)}
	for i := range rs {
		r := &rs[i]
		if !r.IsActive() {
			continue
		}
		for d := models.DateOnly(r.StartDate); d.Before(r.EndDate); d = d.AddDate(0, 0, 1) {
			idx.byDate[d] = append(idx.byDate[d], r)
		}
	}
	return idx
}

// On returns reservations occupying the night of date.
func (idx *Index) On(date time.Time) []*models.Reservation {
	return idx.byDate[models.DateOnly(date)]
}

// ReservedCabins returns the set of cabins taken on date.
func (idx *Index) ReservedCabins(date time.Time) map[int64]struct{} {
	taken := make(map[int64]struct{})
	for _, r := range idx.On(date) {
		for _, id := range r.CabinIDs {
			taken[id] = struct{}{}
		}
	}
	return taken
}

// ReservedGuests sums guests over reservations occupying date.
func (idx *Index) ReservedGuests(date time.Time) int {
	total := 0
	for _, r := range idx.On(date) {
		total += r.Guests
	}
	return total
}

// OccupiedCabins returns every cabin taken on at least one night of [start, end).
func (idx *Index) OccupiedCabins(start, end time.Time) map[int64]struct{} {
	taken := make(map[int64]struct{})
	for d := models.DateOnly(start); d.Before(end); d = d.AddDate(0, 0, 1) {
		for id := range idx.ReservedCabins(d) {
			taken[id] = struct{}{}
		}
	}
	return taken
}

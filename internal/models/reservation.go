package models

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// GuestDetails is the peripheral guest payload captured with a booking.
type GuestDetails struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Reservation is a committed claim on a unit (and, for vessels, on cabins)
// for the nights [StartDate, EndDate).
type Reservation struct {
	ID             int64        `json:"id"`
	Reference      string       `json:"reference"`
	UnitID         int64        `json:"unitId"`
	CabinIDs       []int64      `json:"cabinIds,omitempty"`
	StartDate      time.Time    `json:"startDate"`
	EndDate        time.Time    `json:"endDate"` // exclusive
	Guests         int          `json:"guests"`
	Status         Status       `json:"status"`
	BasePrice      float64      `json:"basePrice"`
	TotalPrice     float64      `json:"totalPrice"`
	Guest          GuestDetails `json:"guest"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	Version        int64        `json:"version"`
}

// IsActive reports whether the reservation still holds capacity.
func (r *Reservation) IsActive() bool {
	return r.Status == StatusPending || r.Status == StatusConfirmed
}

// Nights returns the number of nights covered.
func (r *Reservation) Nights() int {
	return DaysBetween(r.StartDate, r.EndDate)
}

// OverlapsRange checks the half-open ranges [StartDate, EndDate) and [start, end).
// Touching endpoints do not overlap.
func (r *Reservation) OverlapsRange(start, end time.Time) bool {
	return r.StartDate.Before(end) && start.Before(r.EndDate)
}

// ContainsDate reports whether the night starting on date is covered.
func (r *Reservation) ContainsDate(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(DateOnly(r.StartDate)) && d.Before(DateOnly(r.EndDate))
}

// ClaimsCabin reports whether the reservation occupies the given cabin.
func (r *Reservation) ClaimsCabin(cabinID int64) bool {
	return slices.Contains(r.CabinIDs, cabinID)
}

// ClaimsAnyCabin reports whether the reservation occupies one of the cabins.
func (r *Reservation) ClaimsAnyCabin(cabinIDs []int64) bool {
	for _, id := range cabinIDs {
		if r.ClaimsCabin(id) {
			return true
		}
	}
	return false
}

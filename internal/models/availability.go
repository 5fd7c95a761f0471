package models

import (
	"fmt"
	"time"
)

// Code classifies the outcome of an availability check or commit.
type Code string

const (
	CodeOK                 Code = ""
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeUnitInactive       Code = "UNIT_INACTIVE"
	CodeStartInPast        Code = "START_IN_PAST"
	CodeDurationMismatch   Code = "DURATION_MISMATCH"
	CodeCapacityExceeded   Code = "CAPACITY_EXCEEDED"
	CodeAlreadyBooked      Code = "ALREADY_BOOKED"
	CodeConcurrentConflict Code = "CONCURRENT_CONFLICT"
)

// IsConflict reports whether the code means the slot is taken.
// A lost commit race is reported to callers the same way as a booked slot.
func (c Code) IsConflict() bool {
	return c == CodeAlreadyBooked || c == CodeConcurrentConflict
}

// AvailabilityQuery asks whether a unit can take a booking.
type AvailabilityQuery struct {
	UnitID               int64
	StartDate            time.Time
	EndDate              time.Time
	Guests               int
	ExcludeReservationID int64 // 0 = none
}

// Nights returns the requested number of nights.
func (q AvailabilityQuery) Nights() int {
	return DaysBetween(q.StartDate, q.EndDate)
}

// Validate checks the query shape before any lookup.
func (q AvailabilityQuery) Validate(maxRangeDays int) error {
	if q.UnitID <= 0 {
		return fmt.Errorf("unitId is required")
	}
	if q.StartDate.IsZero() || q.EndDate.IsZero() {
		return fmt.Errorf("startDate and endDate are required")
	}
	if !q.StartDate.Before(q.EndDate) {
		return fmt.Errorf("endDate must be after startDate")
	}
	if maxRangeDays > 0 && q.Nights() > maxRangeDays {
		return fmt.Errorf("date range exceeds maximum of %d days", maxRangeDays)
	}
	return nil
}

// AvailabilityResult is the answer to an AvailabilityQuery.
type AvailabilityResult struct {
	IsAvailable      bool    `json:"isAvailable"`
	TotalPrice       float64 `json:"totalPrice"`
	BasePrice        float64 `json:"basePrice"`
	PricePerGuest    float64 `json:"pricePerGuest"`
	Reason           string  `json:"reason,omitempty"`
	Code             Code    `json:"code,omitempty"`
	RequiredDuration int     `json:"requiredDuration,omitempty"`
	Cabins           []Cabin `json:"cabins,omitempty"`
}

// Infeasible builds a negative result.
func Infeasible(code Code, reason string) *AvailabilityResult {
	return &AvailabilityResult{IsAvailable: false, Code: code, Reason: reason}
}

// CabinIDs returns the ids of the selected cabins.
func (r *AvailabilityResult) CabinIDs() []int64 {
	if len(r.Cabins) == 0 {
		return nil
	}
	ids := make([]int64, len(r.Cabins))
	for i, c := range r.Cabins {
		ids[i] = c.ID
	}
	return ids
}

// DayAvailability describes one calendar date.
type DayAvailability struct {
	IsAvailable    bool `json:"isAvailable"`
	ReservedCount  int  `json:"reservedCount"`
	ReservedGuests int  `json:"reservedGuests"`
}

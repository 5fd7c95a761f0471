// Package pricing computes booking prices from unit rates, duration, guest
// count and the seasonal multiplier.
package pricing

import (
	"fmt"
	"math"
	"time"

	"nilecruise/internal/models"
)

// Mode selects how vessel prices scale with guests.
type Mode string

const (
	PerCabin Mode = "per_cabin"
	PerGuest Mode = "per_guest"
)

// ParseMode maps a config value to a Mode, defaulting to PerCabin.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", PerCabin:
		return PerCabin, nil
	case PerGuest:
		return PerGuest, nil
	}
	return "", fmt.Errorf("unknown vessel pricing mode %q", s)
}

// Quote is the outcome of a price computation.
type Quote struct {
	BasePrice     float64
	TotalPrice    float64
	PricePerGuest float64
}

// DurationMismatchError is returned when a package is requested for a range
// that differs from its fixed duration.
type DurationMismatchError struct {
	Required  int
	Requested int
}

func (e *DurationMismatchError) Error() string {
	return fmt.Sprintf("package requires %d days, requested %d", e.Required, e.Requested)
}

// SeasonalMultiplier returns the factor for a booking starting on start.
// Only the start month matters; the rule is not evaluated per night.
func SeasonalMultiplier(start time.Time) float64 {
	switch start.Month() {
	case time.December, time.January, time.February:
		return 1.20
	case time.June, time.July, time.August:
		return 0.90
	default:
		return 1.00
	}
}

// Engine is a pure price calculator.
type Engine struct {
	mode Mode
}

// NewEngine creates an engine using the given vessel pricing mode.
func NewEngine(mode Mode) *Engine {
	if mode == "" {
		mode = PerCabin
	}
	return &Engine{mode: mode}
}

// Mode returns the configured vessel pricing mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Compute prices a booking of unit for [start, end) and guests. Cabins are the
// selected cabins for vessels and are ignored for packages.
func (e *Engine) Compute(unit *models.Unit, cabins []models.Cabin, start, end time.Time, guests int) (Quote, error) {
	if guests <= 0 {
		return Quote{}, fmt.Errorf("invalid guest count %d", guests)
	}
	nights := models.DaysBetween(start, end)
	if nights <= 0 {
		return Quote{}, fmt.Errorf("invalid range %s..%s", models.FormatDate(start), models.FormatDate(end))
	}

	var base, total float64
	switch unit.Kind {
	case models.KindPackage:
		if nights != unit.DurationDays {
			return Quote{}, &DurationMismatchError{Required: unit.DurationDays, Requested: nights}
		}
		base = unit.BaseRate
		total = base * float64(guests)
	case models.KindVessel:
		base = unit.BaseRate * float64(nights)
		for _, c := range cabins {
			base += c.RateDelta
		}
		total = base
		if e.mode == PerGuest {
			total = base * float64(guests)
		}
	default:
		return Quote{}, fmt.Errorf("unknown unit kind %q", unit.Kind)
	}

	total = math.Round(total * SeasonalMultiplier(start))
	return Quote{
		BasePrice:     base,
		TotalPrice:    total,
		PricePerGuest: math.Round(total/float64(guests)*100) / 100,
	}, nil
}

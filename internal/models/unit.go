package models

import "time"

// UnitKind distinguishes cabin-based vessels from fixed-departure packages.
type UnitKind string

const (
	KindVessel  UnitKind = "VESSEL"
	KindPackage UnitKind = "PACKAGE"
)

// Valid reports whether k is a known unit kind.
func (k UnitKind) Valid() bool {
	return k == KindVessel || k == KindPackage
}

// Unit is a reservable unit: a dahabiya/vessel or a fixed-departure package.
type Unit struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Kind         UnitKind  `json:"kind"`
	BaseRate     float64   `json:"baseRate"`     // per day for vessels, per guest for packages
	DurationDays int       `json:"durationDays"` // fixed for packages, 0 for vessels
	MaxGuests    int       `json:"maxGuests"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsVessel reports whether the unit is booked per cabin.
func (u *Unit) IsVessel() bool {
	return u.Kind == KindVessel
}

// Cabin is a sub-resource of a vessel.
type Cabin struct {
	ID        int64   `json:"id"`
	UnitID    int64   `json:"unitId"`
	Name      string  `json:"name"`
	Capacity  int     `json:"capacity"`
	RateDelta float64 `json:"rateDelta"`
	IsActive  bool    `json:"isActive"`
}

// TotalCapacity sums capacity over cabins.
func TotalCapacity(cabins []Cabin) int {
	total := 0
	for _, c := range cabins {
		total += c.Capacity
	}
	return total
}

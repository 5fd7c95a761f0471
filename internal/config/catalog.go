package config

import (
	"fmt"
	"os"

	"nilecruise/internal/models"

	"gopkg.in/yaml.v3"
)

const DefaultCatalogPath = "configs/catalog.yaml"

// CabinConfig is a single vessel cabin.
type CabinConfig struct {
	ID        int     `yaml:"id"`
	Name      string  `yaml:"name"`
	Capacity  int     `yaml:"capacity"`
	RateDelta float64 `yaml:"rate_delta"`
	IsActive  *bool   `yaml:"is_active,omitempty"`
}

// UnitConfig is a vessel or a fixed-departure package.
type UnitConfig struct {
	ID           int           `yaml:"id"`
	Name         string        `yaml:"name"`
	Kind         string        `yaml:"kind"`
	BaseRate     float64       `yaml:"base_rate"`
	DurationDays int           `yaml:"duration_days"`
	MaxGuests    int           `yaml:"max_guests"`
	IsActive     *bool         `yaml:"is_active,omitempty"`
	Cabins       []CabinConfig `yaml:"cabins,omitempty"`
}

// Catalog is the root of catalog.yaml.
type Catalog struct {
	Units []UnitConfig `yaml:"units"`
}

// LoadCatalog loads and validates the unit catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		path = DefaultCatalogPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	cat.applyDefaults()

	return &cat, nil
}

// Validate checks the catalog for errors.
func (c *Catalog) Validate() error {
	if len(c.Units) == 0 {
		return fmt.Errorf("no units defined")
	}

	ids := make(map[int]bool)
	names := make(map[string]bool)
	cabinIDs := make(map[int]bool)

	for i, u := range c.Units {
		if u.ID <= 0 {
			return fmt.Errorf("unit[%d]: id must be positive, got %d", i, u.ID)
		}
		if ids[u.ID] {
			return fmt.Errorf("unit[%d]: duplicate id %d", i, u.ID)
		}
		ids[u.ID] = true

		if u.Name == "" {
			return fmt.Errorf("unit[%d]: name is required", i)
		}
		if names[u.Name] {
			return fmt.Errorf("unit[%d]: duplicate name '%s'", i, u.Name)
		}
		names[u.Name] = true

		kind := models.UnitKind(u.Kind)
		if !kind.Valid() {
			return fmt.Errorf("unit[%d]: unknown kind '%s'", i, u.Kind)
		}
		if u.BaseRate < 0 {
			return fmt.Errorf("unit[%d]: base_rate cannot be negative", i)
		}
		if u.MaxGuests < 0 {
			return fmt.Errorf("unit[%d]: max_guests cannot be negative", i)
		}

		switch kind {
		case models.KindPackage:
			if u.DurationDays <= 0 {
				return fmt.Errorf("unit[%d]: package duration_days must be positive", i)
			}
			if len(u.Cabins) > 0 {
				return fmt.Errorf("unit[%d]: packages cannot have cabins", i)
			}
			if u.MaxGuests <= 0 {
				return fmt.Errorf("unit[%d]: package max_guests must be positive", i)
			}
		case models.KindVessel:
			if u.DurationDays != 0 {
				return fmt.Errorf("unit[%d]: vessels have no fixed duration", i)
			}
		}

		for j, cab := range u.Cabins {
			if cab.ID <= 0 {
				return fmt.Errorf("unit[%d].cabin[%d]: id must be positive, got %d", i, j, cab.ID)
			}
			if cabinIDs[cab.ID] {
				return fmt.Errorf("unit[%d].cabin[%d]: duplicate cabin id %d", i, j, cab.ID)
			}
			cabinIDs[cab.ID] = true
			if cab.Name == "" {
				return fmt.Errorf("unit[%d].cabin[%d]: name is required", i, j)
			}
			if cab.Capacity < 0 {
				return fmt.Errorf("unit[%d].cabin[%d]: capacity cannot be negative", i, j)
			}
			if cab.RateDelta < 0 {
				return fmt.Errorf("unit[%d].cabin[%d]: rate_delta cannot be negative", i, j)
			}
		}
	}

	return nil
}

func (c *Catalog) applyDefaults() {
	active := true
	for i := range c.Units {
		if c.Units[i].IsActive == nil {
			c.Units[i].IsActive = &active
		}
		for j := range c.Units[i].Cabins {
			cab := &c.Units[i].Cabins[j]
			if cab.IsActive == nil {
				cab.IsActive = &active
			}
			if cab.Capacity == 0 {
				cab.Capacity = 1
			}
		}
	}
}

// Active reports the effective active flag.
func (u UnitConfig) Active() bool {
	return u.IsActive == nil || *u.IsActive
}

// Active reports the effective active flag.
func (c CabinConfig) Active() bool {
	return c.IsActive == nil || *c.IsActive
}

// UnitByID returns the unit config by id.
func (c *Catalog) UnitByID(id int) *UnitConfig {
	for i := range c.Units {
		if c.Units[i].ID == id {
			return &c.Units[i]
		}
	}
	return nil
}

func (c *Catalog) String() string {
	active, cabins := 0, 0
	for _, u := range c.Units {
		if u.Active() {
			active++
		}
		cabins += len(u.Cabins)
	}
	return fmt.Sprintf("Catalog: %d units (%d active), %d cabins", len(c.Units), active, cabins)
}

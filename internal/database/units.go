package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nilecruise/internal/config"
	"nilecruise/internal/models"
)

const unitColumns = `id, name, kind, base_rate, duration_days, max_guests, is_active, created_at, updated_at`

func scanUnit(row interface{ Scan(...any) error }) (*models.Unit, error) {
	var u models.Unit
	var kind string
	if err := row.Scan(&u.ID, &u.Name, &kind, &u.BaseRate, &u.DurationDays, &u.MaxGuests,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Kind = models.UnitKind(kind)
	return &u, nil
}

func getUnit(ctx context.Context, q querier, id int64) (*models.Unit, error) {
	u, err := scanUnit(q.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return u, nil
}

func listCabins(ctx context.Context, q querier, unitID int64) ([]models.Cabin, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, unit_id, name, capacity, rate_delta, is_active
		FROM cabins WHERE unit_id = ? ORDER BY id`, unitID)
	if err != nil {
		return nil, fmt.Errorf("list cabins: %w", err)
	}
	defer rows.Close()

	var cabins []models.Cabin
	for rows.Next() {
		var c models.Cabin
		if err := rows.Scan(&c.ID, &c.UnitID, &c.Name, &c.Capacity, &c.RateDelta, &c.IsActive); err != nil {
			return nil, err
		}
		cabins = append(cabins, c)
	}
	return cabins, rows.Err()
}

// GetUnit returns the unit or ErrNotFound.
func (db *DB) GetUnit(ctx context.Context, id int64) (*models.Unit, error) {
	return getUnit(ctx, db.DB, id)
}

// ListCabins returns all cabins of the unit, active or not, ordered by id.
func (db *DB) ListCabins(ctx context.Context, unitID int64) ([]models.Cabin, error) {
	return listCabins(ctx, db.DB, unitID)
}

// ListUnits returns every unit ordered by id.
func (db *DB) ListUnits(ctx context.Context) ([]models.Unit, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+unitColumns+` FROM units ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var units []models.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

// UpsertUnit inserts or updates a unit by id, preserving created_at.
func (db *DB) UpsertUnit(ctx context.Context, u *models.Unit) error {
	return upsertUnit(ctx, db, u)
}

// UpsertCabin inserts or updates a cabin by id, preserving created_at.
func (db *DB) UpsertCabin(ctx context.Context, c *models.Cabin) error {
	return upsertCabin(ctx, db, c)
}

func upsertUnit(ctx context.Context, q querier, u *models.Unit) error {
	now := time.Now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO units (id, name, kind, base_rate, duration_days, max_guests, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM units WHERE id = ?), ?), ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			base_rate = excluded.base_rate,
			duration_days = excluded.duration_days,
			max_guests = excluded.max_guests,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		u.ID, u.Name, string(u.Kind), u.BaseRate, u.DurationDays, u.MaxGuests, u.IsActive, u.ID, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert unit %d: %w", u.ID, err)
	}
	return nil
}

func upsertCabin(ctx context.Context, q querier, c *models.Cabin) error {
	now := time.Now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO cabins (id, unit_id, name, capacity, rate_delta, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM cabins WHERE id = ?), ?), ?)
		ON CONFLICT(id) DO UPDATE SET
			unit_id = excluded.unit_id,
			name = excluded.name,
			capacity = excluded.capacity,
			rate_delta = excluded.rate_delta,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		c.ID, c.UnitID, c.Name, c.Capacity, c.RateDelta, c.IsActive, c.ID, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert cabin %d: %w", c.ID, err)
	}
	return nil
}

// SyncCatalog applies catalog.yaml to the database in one transaction. It
// upserts units and cabins and marks the ones missing from the file inactive.
// Rows are never deleted: existing reservations keep their references. On any
// failure the previous catalog stays in force.
func (db *DB) SyncCatalog(ctx context.Context, cat *config.Catalog) error {
	if cat == nil {
		return fmt.Errorf("catalog is nil")
	}

	var deactivated []string
	err := db.WithTx(ctx, func(tx *Tx) error {
		deactivated = deactivated[:0]
		seenUnits := make(map[int64]struct{})
		seenCabins := make(map[int64]struct{})

		for _, uc := range cat.Units {
			unit := &models.Unit{
				ID:           int64(uc.ID),
				Name:         uc.Name,
				Kind:         models.UnitKind(uc.Kind),
				BaseRate:     uc.BaseRate,
				DurationDays: uc.DurationDays,
				MaxGuests:    uc.MaxGuests,
				IsActive:     uc.Active(),
			}
			if err := upsertUnit(ctx, tx.tx, unit); err != nil {
				return err
			}
			seenUnits[unit.ID] = struct{}{}

			for _, cc := range uc.Cabins {
				cabin := &models.Cabin{
					ID:        int64(cc.ID),
					UnitID:    unit.ID,
					Name:      cc.Name,
					Capacity:  cc.Capacity,
					RateDelta: cc.RateDelta,
					IsActive:  cc.Active(),
				}
				if err := upsertCabin(ctx, tx.tx, cabin); err != nil {
					return err
				}
				seenCabins[cabin.ID] = struct{}{}
			}
		}

		for _, t := range []struct {
			table string
			seen  map[int64]struct{}
		}{{"units", seenUnits}, {"cabins", seenCabins}} {
			ids, err := deactivateMissing(ctx, tx.tx, t.table, t.seen)
			if err != nil {
				return err
			}
			for _, id := range ids {
				deactivated = append(deactivated, fmt.Sprintf("%s/%d", t.table, id))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}
	for _, entry := range deactivated {
		db.logger.Info().Str("entry", entry).Msg("Deactivated entry missing from catalog")
	}
	return nil
}

func deactivateMissing(ctx context.Context, q querier, table string, seen map[int64]struct{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM `+table+` WHERE is_active = 1`)
	if err != nil {
		return nil, err
	}
	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	for _, id := range stale {
		if _, err := q.ExecContext(ctx, `UPDATE `+table+` SET is_active = 0, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return nil, fmt.Errorf("deactivate %s %d: %w", table, id, err)
		}
	}
	return stale, nil
}

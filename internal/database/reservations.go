package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nilecruise/internal/models"

	"github.com/mattn/go-sqlite3"
)

const reservationSelect = `
	SELECT r.id, r.reference, r.unit_id, r.start_date, r.end_date, r.guests, r.status,
	       r.base_price, r.total_price, r.guest_name, r.guest_email, r.guest_phone, r.notes,
	       r.idempotency_key, r.created_at, r.updated_at, r.version,
	       GROUP_CONCAT(rc.cabin_id)
	FROM reservations r
	LEFT JOIN reservation_cabins rc ON rc.reservation_id = r.id`

func scanReservation(row interface{ Scan(...any) error }) (*models.Reservation, error) {
	var (
		r                   models.Reservation
		start, end, status  string
		email, phone, notes sql.NullString
		idemKey, cabinIDs   sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.Reference, &r.UnitID, &start, &end, &r.Guests, &status,
		&r.BasePrice, &r.TotalPrice, &r.Guest.Name, &email, &phone, &notes,
		&idemKey, &r.CreatedAt, &r.UpdatedAt, &r.Version, &cabinIDs,
	)
	if err != nil {
		return nil, err
	}

	if r.StartDate, err = models.ParseDate(start); err != nil {
		return nil, fmt.Errorf("reservation %d start_date: %w", r.ID, err)
	}
	if r.EndDate, err = models.ParseDate(end); err != nil {
		return nil, fmt.Errorf("reservation %d end_date: %w", r.ID, err)
	}
	r.Status = models.Status(status)
	r.Guest.Email = email.String
	r.Guest.Phone = phone.String
	r.Guest.Notes = notes.String
	r.IdempotencyKey = idemKey.String
	if r.CabinIDs, err = parseIDList(cabinIDs.String); err != nil {
		return nil, fmt.Errorf("reservation %d cabins: %w", r.ID, err)
	}
	return &r, nil
}

func parseIDList(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getReservationWhere(ctx context.Context, q querier, where string, arg any) (*models.Reservation, error) {
	r, err := scanReservation(q.QueryRowContext(ctx,
		reservationSelect+` WHERE `+where+` GROUP BY r.id`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// listOverlapping returns active reservations of the unit intersecting
// [start, end). Dates compare lexically as YYYY-MM-DD text.
func listOverlapping(ctx context.Context, q querier, unitID int64, start, end time.Time, excludeID int64) ([]models.Reservation, error) {
	rows, err := q.QueryContext(ctx, reservationSelect+`
		WHERE r.unit_id = ?
		  AND r.status IN ('PENDING', 'CONFIRMED')
		  AND r.start_date < ? AND r.end_date > ?
		  AND r.id != ?
		GROUP BY r.id
		ORDER BY r.start_date, r.id`,
		unitID, models.FormatDate(end), models.FormatDate(start), excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list overlapping reservations: %w", err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListOverlappingReservations returns PENDING and CONFIRMED reservations of the
// unit whose nights intersect [start, end), skipping excludeID.
func (db *DB) ListOverlappingReservations(ctx context.Context, unitID int64, start, end time.Time, excludeID int64) ([]models.Reservation, error) {
	return listOverlapping(ctx, db.DB, unitID, start, end, excludeID)
}

// GetReservation returns the reservation by id or ErrNotFound.
func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return getReservationWhere(ctx, db.DB, `r.id = ?`, id)
}

// GetReservationByReference returns the reservation by its public reference.
func (db *DB) GetReservationByReference(ctx context.Context, ref string) (*models.Reservation, error) {
	return getReservationWhere(ctx, db.DB, `r.reference = ?`, ref)
}

func (t *Tx) GetUnit(ctx context.Context, id int64) (*models.Unit, error) {
	return getUnit(ctx, t.tx, id)
}

func (t *Tx) ListCabins(ctx context.Context, unitID int64) ([]models.Cabin, error) {
	return listCabins(ctx, t.tx, unitID)
}

func (t *Tx) ListOverlappingReservations(ctx context.Context, unitID int64, start, end time.Time, excludeID int64) ([]models.Reservation, error) {
	return listOverlapping(ctx, t.tx, unitID, start, end, excludeID)
}

func (t *Tx) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return getReservationWhere(ctx, t.tx, `r.id = ?`, id)
}

// FindByIdempotencyKey returns the reservation created under key, or
// ErrNotFound.
func (t *Tx) FindByIdempotencyKey(ctx context.Context, key string) (*models.Reservation, error) {
	return getReservationWhere(ctx, t.tx, `r.idempotency_key = ?`, key)
}

// InsertReservation stores r with its cabin links and one claim per occupied
// night. r.ID, CreatedAt, UpdatedAt and Version are filled in. A claim that is
// already held by another reservation yields ErrConflict.
func (t *Tx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	now := time.Now()
	var idemKey any
	if r.IdempotencyKey != "" {
		idemKey = r.IdempotencyKey
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservations (
			reference, unit_id, start_date, end_date, guests, status,
			base_price, total_price, guest_name, guest_email, guest_phone, notes,
			idempotency_key, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		r.Reference, r.UnitID, models.FormatDate(r.StartDate), models.FormatDate(r.EndDate),
		r.Guests, string(r.Status), r.BasePrice, r.TotalPrice,
		r.Guest.Name, nullString(r.Guest.Email), nullString(r.Guest.Phone), nullString(r.Guest.Notes),
		idemKey, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}

	for _, cabinID := range r.CabinIDs {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO reservation_cabins (reservation_id, cabin_id) VALUES (?, ?)`, id, cabinID); err != nil {
			return fmt.Errorf("insert reservation cabin %d: %w", cabinID, err)
		}
	}

	claimCabins := r.CabinIDs
	if len(claimCabins) == 0 {
		claimCabins = []int64{0}
	}
	for night := r.StartDate; night.Before(r.EndDate); night = night.AddDate(0, 0, 1) {
		for _, cabinID := range claimCabins {
			_, err := t.tx.ExecContext(ctx, `
				INSERT INTO reservation_claims (unit_id, cabin_id, night, reservation_id)
				VALUES (?, ?, ?, ?)`,
				r.UnitID, cabinID, models.FormatDate(night), id)
			if isUniqueViolation(err) {
				return ErrConflict
			}
			if err != nil {
				return fmt.Errorf("insert claim: %w", err)
			}
		}
	}

	r.ID = id
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Version = 1
	return nil
}

// UpdateStatus moves the reservation from one status to another if its
// version still matches. Leaving an active status releases the night claims.
func (t *Tx) UpdateStatus(ctx context.Context, id, version int64, from, to models.Status) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE reservations
		SET status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = ?`,
		string(to), time.Now(), id, version, string(from),
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentModification
	}

	if to == models.StatusCancelled {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM reservation_claims WHERE reservation_id = ?`, id); err != nil {
			return fmt.Errorf("release claims: %w", err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

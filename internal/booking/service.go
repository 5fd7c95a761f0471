// Package booking is the write path: it commits reservations and moves them
// through their lifecycle.
package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"nilecruise/internal/availability"
	"nilecruise/internal/cache"
	"nilecruise/internal/database"
	"nilecruise/internal/events"
	"nilecruise/internal/metrics"
	"nilecruise/internal/models"
	"nilecruise/internal/tracing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrNotFound          = database.ErrNotFound
	ErrInvalidTransition = database.ErrInvalidTransition
	// ErrConcurrentUpdate means the reservation changed between read and write.
	ErrConcurrentUpdate = database.ErrConcurrentModification

	errClaimTaken = errors.New("claim taken")
)

// GuestPayload is what the caller attaches to a commit besides the query.
type GuestPayload struct {
	Guest          models.GuestDetails
	IdempotencyKey string
}

// CommitResult is the outcome of Commit. Reservation is nil when the request
// was not bookable; Result then carries the code and reason.
type CommitResult struct {
	Reservation *models.Reservation        `json:"reservation,omitempty"`
	Result      *models.AvailabilityResult `json:"result"`
	Replayed    bool                       `json:"replayed,omitempty"`
}

// Committed reports whether a reservation exists for the request.
func (r *CommitResult) Committed() bool {
	return r.Reservation != nil
}

// Service commits and transitions reservations.
type Service struct {
	db           *database.DB
	availability *availability.Service
	cache        cache.Cache
	fsm          *FSM
	events       *events.Bus
	logger       zerolog.Logger
	newReference func() string
}

// NewService creates the booking service. c may be nil.
func NewService(db *database.DB, avail *availability.Service, c cache.Cache, logger *zerolog.Logger) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "booking").Logger()
	}
	return &Service{
		db:           db,
		availability: avail,
		cache:        c,
		fsm:          NewFSM(),
		logger:       l,
		newReference: func() string { return uuid.New().String() },
	}
}

// UseEvents publishes lifecycle events to bus after each successful write.
func (s *Service) UseEvents(bus *events.Bus) {
	s.events = bus
}

// Commit re-checks availability and inserts a PENDING reservation inside one
// immediate transaction. A non-zero q.ExcludeReservationID reschedules that
// reservation: it is cancelled in the same transaction the replacement is
// inserted in, and left untouched if the replacement is not bookable.
func (s *Service) Commit(ctx context.Context, q models.AvailabilityQuery, guest GuestPayload) (*CommitResult, error) {
	ctx, span := tracing.Start(ctx, "booking.Commit",
		attribute.Int64("unit.id", q.UnitID),
		attribute.String("start", models.FormatDate(q.StartDate)),
		attribute.String("end", models.FormatDate(q.EndDate)),
		attribute.Int("guests", q.Guests),
	)
	defer span.End()

	started := time.Now()
	var out *CommitResult
	var replaced *models.Reservation

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		out, replaced = nil, nil

		if guest.IdempotencyKey != "" {
			existing, err := tx.FindByIdempotencyKey(ctx, guest.IdempotencyKey)
			if err == nil {
				if !sameRequest(existing, q) {
					out = &CommitResult{Result: models.Infeasible(models.CodeValidation,
						"idempotency key was already used for a different request")}
					return nil
				}
				out = &CommitResult{Reservation: existing, Result: resultFor(existing), Replayed: true}
				return nil
			}
			if !errors.Is(err, database.ErrNotFound) {
				return err
			}
		}

		if q.ExcludeReservationID != 0 {
			old, res, err := s.loadReplaced(ctx, tx, q)
			if err != nil {
				return err
			}
			if res != nil {
				out = &CommitResult{Result: res}
				return nil
			}
			replaced = old
		}

		res, err := s.availability.Evaluate(ctx, tx, q)
		if err != nil {
			return err
		}
		if !res.IsAvailable {
			out = &CommitResult{Result: res}
			return nil
		}

		cabinIDs := res.CabinIDs()
		conflict, err := availability.NewDetector(tx).HasConflict(ctx, q.UnitID, cabinIDs, q.StartDate, q.EndDate, q.ExcludeReservationID)
		if err != nil {
			return err
		}
		if conflict {
			return errClaimTaken
		}

		if replaced != nil {
			if err := tx.UpdateStatus(ctx, replaced.ID, replaced.Version, replaced.Status, models.StatusCancelled); err != nil {
				if errors.Is(err, database.ErrConcurrentModification) {
					return errClaimTaken
				}
				return err
			}
		}

		r := &models.Reservation{
			Reference:      s.newReference(),
			UnitID:         q.UnitID,
			CabinIDs:       cabinIDs,
			StartDate:      q.StartDate,
			EndDate:        q.EndDate,
			Guests:         q.Guests,
			Status:         models.StatusPending,
			BasePrice:      res.BasePrice,
			TotalPrice:     res.TotalPrice,
			Guest:          guest.Guest,
			IdempotencyKey: guest.IdempotencyKey,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			if errors.Is(err, database.ErrConflict) {
				return errClaimTaken
			}
			return err
		}
		out = &CommitResult{Reservation: r, Result: res}
		return nil
	})
	metrics.ObserveCommitDuration(time.Since(started).Seconds())

	if errors.Is(err, errClaimTaken) {
		metrics.IncCommit(string(models.CodeConcurrentConflict))
		s.logger.Info().Int64("unit_id", q.UnitID).
			Str("start", models.FormatDate(q.StartDate)).
			Str("end", models.FormatDate(q.EndDate)).
			Msg("commit lost a concurrent claim")
		return &CommitResult{Result: models.Infeasible(models.CodeConcurrentConflict,
			"the requested dates were taken by a concurrent booking")}, nil
	}
	if err != nil {
		metrics.IncCommit("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		s.logger.Error().Err(err).
			Int64("unit_id", q.UnitID).
			Str("start", models.FormatDate(q.StartDate)).
			Str("end", models.FormatDate(q.EndDate)).
			Msg("commit failed")
		return nil, fmt.Errorf("commit reservation: %w", err)
	}

	if !out.Committed() {
		metrics.IncCommit(string(out.Result.Code))
		s.logger.Debug().Int64("unit_id", q.UnitID).Str("code", string(out.Result.Code)).
			Str("reason", out.Result.Reason).Msg("commit rejected")
		return out, nil
	}

	if out.Replayed {
		metrics.IncCommit("replayed")
		return out, nil
	}

	metrics.IncCommit("committed")
	s.cache.Bump(ctx, q.UnitID)
	span.SetAttributes(attribute.Int64("reservation.id", out.Reservation.ID))
	ev := s.logger.Info().
		Int64("reservation_id", out.Reservation.ID).
		Str("reference", out.Reservation.Reference).
		Int64("unit_id", q.UnitID).
		Float64("total_price", out.Reservation.TotalPrice)
	if replaced != nil {
		ev = ev.Int64("replaced_id", replaced.ID)
	}
	ev.Msg("reservation committed")

	if replaced != nil {
		old := *replaced
		old.Status = models.StatusCancelled
		s.events.Publish(events.Event{Type: events.ReservationReplaced, Reservation: old, ReplacedBy: out.Reservation.ID})
	}
	s.events.Publish(events.Event{Type: events.ReservationCommitted, Reservation: *out.Reservation})
	return out, nil
}

// loadReplaced fetches the reservation being rescheduled. A non-nil result
// means the reschedule cannot proceed.
func (s *Service) loadReplaced(ctx context.Context, tx *database.Tx, q models.AvailabilityQuery) (*models.Reservation, *models.AvailabilityResult, error) {
	old, err := tx.GetReservation(ctx, q.ExcludeReservationID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.Infeasible(models.CodeNotFound, "reservation to replace not found"), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if old.UnitID != q.UnitID {
		return nil, models.Infeasible(models.CodeValidation, "reservation to replace belongs to another unit"), nil
	}
	if !old.IsActive() {
		return nil, models.Infeasible(models.CodeValidation, "reservation to replace is cancelled"), nil
	}
	return old, nil, nil
}

// sameRequest reports whether r was committed for the booking q asks for.
func sameRequest(r *models.Reservation, q models.AvailabilityQuery) bool {
	return r.UnitID == q.UnitID &&
		r.StartDate.Equal(q.StartDate) &&
		r.EndDate.Equal(q.EndDate) &&
		r.Guests == q.Guests
}

// resultFor rebuilds the availability result of an already stored
// reservation from its frozen prices.
func resultFor(r *models.Reservation) *models.AvailabilityResult {
	res := &models.AvailabilityResult{
		IsAvailable: true,
		TotalPrice:  r.TotalPrice,
		BasePrice:   r.BasePrice,
	}
	if r.Guests > 0 {
		res.PricePerGuest = math.Round(r.TotalPrice/float64(r.Guests)*100) / 100
	}
	return res
}

// Confirm moves a PENDING reservation to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.transition(ctx, id, models.StatusConfirmed)
}

// Cancel moves a PENDING or CONFIRMED reservation to CANCELLED and frees its
// nights.
func (s *Service) Cancel(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.transition(ctx, id, models.StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id int64, to models.Status) (*models.Reservation, error) {
	ctx, span := tracing.Start(ctx, "booking.Transition",
		attribute.Int64("reservation.id", id),
		attribute.String("status", string(to)),
	)
	defer span.End()

	var updated *models.Reservation
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if !s.fsm.CanTransition(r.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
		}
		if err := tx.UpdateStatus(ctx, r.ID, r.Version, r.Status, to); err != nil {
			return err
		}
		updated, err = tx.GetReservation(ctx, id)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConcurrentUpdate):
		s.logger.Debug().Err(err).Int64("reservation_id", id).Str("to", string(to)).Msg("transition rejected")
		return nil, err
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		s.logger.Error().Err(err).Int64("reservation_id", id).Str("to", string(to)).Msg("transition failed")
		return nil, fmt.Errorf("transition reservation %d: %w", id, err)
	}

	metrics.IncTransition(string(to))
	s.cache.Bump(ctx, updated.UnitID)
	s.logger.Info().Int64("reservation_id", id).Str("status", string(to)).Msg("reservation status changed")

	evType := events.ReservationConfirmed
	if to == models.StatusCancelled {
		evType = events.ReservationCancelled
	}
	s.events.Publish(events.Event{Type: evType, Reservation: *updated})
	return updated, nil
}

// Get returns a reservation by id.
func (s *Service) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.db.GetReservation(ctx, id)
}

// GetByReference returns a reservation by its public reference.
func (s *Service) GetByReference(ctx context.Context, ref string) (*models.Reservation, error) {
	return s.db.GetReservationByReference(ctx, ref)
}

package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nilecruise/internal/cache"
	"nilecruise/internal/clock"
	"nilecruise/internal/metrics"
	"nilecruise/internal/models"
	"nilecruise/internal/pricing"

	"github.com/rs/zerolog"
)

// DefaultMaxRangeDays bounds a single query.
const DefaultMaxRangeDays = 90

// ErrInvalidCalendar is returned for an out-of-range month or year.
var ErrInvalidCalendar = errors.New("invalid calendar period")

// Options configures a Service.
type Options struct {
	Clock        clock.Clock
	Location     *time.Location
	MaxRangeDays int
	Cache        cache.Cache
}

// Service is the read path: availability checks and month calendars.
// It holds no locks; results may be stale by the time a commit runs.
type Service struct {
	store        Store
	engine       *pricing.Engine
	clock        clock.Clock
	loc          *time.Location
	maxRangeDays int
	cache        cache.Cache
	logger       zerolog.Logger
}

// NewService wires the availability service over store.
func NewService(store Store, engine *pricing.Engine, opts Options, logger *zerolog.Logger) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxRangeDays <= 0 {
		opts.MaxRangeDays = DefaultMaxRangeDays
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "availability").Logger()
	}
	return &Service{
		store:        store,
		engine:       engine,
		clock:        opts.Clock,
		loc:          opts.Location,
		maxRangeDays: opts.MaxRangeDays,
		cache:        opts.Cache,
		logger:       l,
	}
}

// Today returns the current civil date in the booking timezone.
func (s *Service) Today() time.Time {
	return clock.Today(s.clock, s.loc)
}

// CheckAvailability answers whether q is bookable and at what price.
// Business outcomes are reported in the result; the error is reserved for
// storage faults.
func (s *Service) CheckAvailability(ctx context.Context, q models.AvailabilityQuery) (*models.AvailabilityResult, error) {
	today := s.Today()
	gen, cacheable := s.cache.Generation(ctx, q.UnitID)
	key := fmt.Sprintf("availability:%d:%d:%s:%s:%d:%d:%s", q.UnitID, gen,
		models.FormatDate(q.StartDate), models.FormatDate(q.EndDate), q.Guests, q.ExcludeReservationID,
		models.FormatDate(today))

	if cacheable {
		var cached models.AvailabilityResult
		if s.cache.GetJSON(ctx, key, &cached) {
			metrics.IncCache("hit")
			return &cached, nil
		}
		metrics.IncCache("miss")
	}

	res, err := s.evaluate(ctx, s.store, q, today)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("unit_id", q.UnitID).
			Str("start", models.FormatDate(q.StartDate)).
			Str("end", models.FormatDate(q.EndDate)).
			Msg("availability check failed")
		metrics.IncAvailabilityCheck("error")
		return nil, err
	}
	metrics.IncAvailabilityCheck(outcome(res))

	if cacheable {
		s.cache.SetJSON(ctx, key, res)
	}
	return res, nil
}

// Evaluate runs the availability algorithm against store, bypassing the cache.
// The booking transaction calls it with its open transaction.
func (s *Service) Evaluate(ctx context.Context, store Store, q models.AvailabilityQuery) (*models.AvailabilityResult, error) {
	return s.evaluate(ctx, store, q, s.Today())
}

func (s *Service) evaluate(ctx context.Context, store Store, q models.AvailabilityQuery, today time.Time) (*models.AvailabilityResult, error) {
	if err := q.Validate(s.maxRangeDays); err != nil {
		return models.Infeasible(models.CodeValidation, err.Error()), nil
	}
	if q.Guests <= 0 {
		return models.Infeasible(models.CodeValidation, "invalid guest count"), nil
	}
	if q.StartDate.Before(today) {
		return models.Infeasible(models.CodeStartInPast, "start date in past"), nil
	}

	unit, err := store.GetUnit(ctx, q.UnitID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Infeasible(models.CodeNotFound, "unit not found"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unit %d: %w", q.UnitID, err)
	}
	if !unit.IsActive {
		return models.Infeasible(models.CodeUnitInactive, "unit is not active"), nil
	}

	existing, err := store.ListOverlappingReservations(ctx, unit.ID, q.StartDate, q.EndDate, q.ExcludeReservationID)
	if err != nil {
		return nil, fmt.Errorf("list reservations for unit %d: %w", unit.ID, err)
	}

	var decision Decision
	if unit.IsVessel() {
		cabins, err := store.ListCabins(ctx, unit.ID)
		if err != nil {
			return nil, fmt.Errorf("list cabins for unit %d: %w", unit.ID, err)
		}
		decision = ResolveVessel(unit, cabins, existing, q.StartDate, q.EndDate, q.Guests, q.ExcludeReservationID)
	} else {
		decision = ResolvePackage(unit, existing, q.StartDate, q.EndDate, q.Guests, q.ExcludeReservationID)
	}
	if !decision.Feasible {
		return models.Infeasible(decision.Code, decision.Reason), nil
	}

	quote, err := s.engine.Compute(unit, decision.Cabins, q.StartDate, q.EndDate, q.Guests)
	var mismatch *pricing.DurationMismatchError
	if errors.As(err, &mismatch) {
		res := models.Infeasible(models.CodeDurationMismatch, mismatch.Error())
		res.RequiredDuration = mismatch.Required
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("price unit %d: %w", unit.ID, err)
	}

	return &models.AvailabilityResult{
		IsAvailable:   true,
		TotalPrice:    quote.TotalPrice,
		BasePrice:     quote.BasePrice,
		PricePerGuest: quote.PricePerGuest,
		Cabins:        decision.Cabins,
	}, nil
}

// GetCalendar returns per-date availability of a unit for one month, keyed by
// YYYY-MM-DD. A date is unavailable when it is in the past or saturated.
func (s *Service) GetCalendar(ctx context.Context, unitID int64, month, year int) (map[string]models.DayAvailability, error) {
	if month < 1 || month > 12 || year < 2000 || year > 9999 {
		return nil, fmt.Errorf("%w: month %d year %d", ErrInvalidCalendar, month, year)
	}
	today := s.Today()

	gen, cacheable := s.cache.Generation(ctx, unitID)
	key := fmt.Sprintf("calendar:%d:%d:%04d-%02d:%s", unitID, gen, year, month, models.FormatDate(today))
	if cacheable {
		var cached map[string]models.DayAvailability
		if s.cache.GetJSON(ctx, key, &cached) {
			metrics.IncCache("hit")
			return cached, nil
		}
		metrics.IncCache("miss")
	}

	unit, err := s.store.GetUnit(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("get unit %d: %w", unitID, err)
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)
	existing, err := s.store.ListOverlappingReservations(ctx, unitID, first, next, 0)
	if err != nil {
		s.logger.Error().Err(err).Int64("unit_id", unitID).Msg("calendar query failed")
		return nil, fmt.Errorf("list reservations for unit %d: %w", unitID, err)
	}

	// Reservations may still hold cabins deactivated since; only active
	// cabins count towards saturation.
	activeCabins := make(map[int64]struct{})
	if unit.IsVessel() {
		cabins, err := s.store.ListCabins(ctx, unitID)
		if err != nil {
			return nil, fmt.Errorf("list cabins for unit %d: %w", unitID, err)
		}
		for _, c := range cabins {
			if c.IsActive {
				activeCabins[c.ID] = struct{}{}
			}
		}
	}

	idx := NewIndex(existing)
	days := make(map[string]models.DayAvailability, 31)
	for d := first; d.Before(next); d = d.AddDate(0, 0, 1) {
		guests := idx.ReservedGuests(d)
		var count int
		var saturated bool
		if unit.IsVessel() {
			for id := range idx.ReservedCabins(d) {
				if _, ok := activeCabins[id]; ok {
					count++
				}
			}
			saturated = len(activeCabins) == 0 || count >= len(activeCabins)
		} else {
			// Fixed departure: one booking takes the whole slot.
			count = len(idx.On(d))
			saturated = count > 0
		}
		if unit.MaxGuests > 0 && guests >= unit.MaxGuests {
			saturated = true
		}
		days[models.FormatDate(d)] = models.DayAvailability{
			IsAvailable:    unit.IsActive && !saturated && !d.Before(today),
			ReservedCount:  count,
			ReservedGuests: guests,
		}
	}

	if cacheable {
		s.cache.SetJSON(ctx, key, days)
	}
	return days, nil
}

func outcome(res *models.AvailabilityResult) string {
	if res.IsAvailable {
		return "available"
	}
	return string(res.Code)
}

package availability

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"nilecruise/internal/cache"
	"nilecruise/internal/clock"
	"nilecruise/internal/models"
	"nilecruise/internal/pricing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// "Today" for every test in this file is 2030-01-10.
var testNow = time.Date(2030, 1, 10, 15, 0, 0, 0, time.UTC)

func testStore() *fakeStore {
	s := newFakeStore()
	s.units[1] = &models.Unit{ID: 1, Name: "Amunet", Kind: models.KindVessel, BaseRate: 300, MaxGuests: 6, IsActive: true}
	s.cabins[1] = []models.Cabin{
		{ID: 11, UnitID: 1, Capacity: 2, RateDelta: 50, IsActive: true},
		{ID: 12, UnitID: 1, Capacity: 2, IsActive: true},
	}
	s.units[2] = &models.Unit{ID: 2, Name: "Classic", Kind: models.KindPackage, BaseRate: 1000, DurationDays: 5, MaxGuests: 10, IsActive: true}
	s.units[3] = &models.Unit{ID: 3, Name: "Retired", Kind: models.KindPackage, BaseRate: 500, DurationDays: 3, IsActive: false}
	return s
}

func newTestService(store Store, c cache.Cache) *Service {
	logger := zerolog.New(io.Discard)
	return NewService(store, pricing.NewEngine(pricing.PerCabin), Options{
		Clock: clock.Fixed(testNow),
		Cache: c,
	}, &logger)
}

func q(unitID int64, start, end time.Time, guests int) models.AvailabilityQuery {
	return models.AvailabilityQuery{UnitID: unitID, StartDate: start, EndDate: end, Guests: guests}
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		query     models.AvailabilityQuery
		available bool
		code      models.Code
		reason    string
		total     float64
	}{
		{
			name:   "start in past",
			query:  q(1, day(2030, 1, 9), day(2030, 1, 12), 2),
			code:   models.CodeStartInPast,
			reason: "start date in past",
		},
		{
			name:      "today is bookable",
			query:     q(1, day(2030, 1, 10), day(2030, 1, 11), 2),
			available: true,
			total:     360, // 300 * 1.2
		},
		{
			name:   "unknown unit",
			query:  q(42, day(2030, 3, 1), day(2030, 3, 2), 2),
			code:   models.CodeNotFound,
			reason: "unit not found",
		},
		{
			name:   "inactive unit",
			query:  q(3, day(2030, 3, 1), day(2030, 3, 4), 2),
			code:   models.CodeUnitInactive,
			reason: "unit is not active",
		},
		{
			name:   "end equals start",
			query:  q(1, day(2030, 3, 1), day(2030, 3, 1), 2),
			code:   models.CodeValidation,
			reason: "endDate must be after startDate",
		},
		{
			name:   "zero guests",
			query:  q(1, day(2030, 3, 1), day(2030, 3, 2), 0),
			code:   models.CodeValidation,
			reason: "invalid guest count",
		},
		{
			name:   "range too long",
			query:  q(1, day(2030, 3, 1), day(2030, 7, 1), 2),
			code:   models.CodeValidation,
			reason: "date range exceeds maximum of 90 days",
		},
		{
			name:   "over capacity",
			query:  q(1, day(2030, 3, 1), day(2030, 3, 2), 5),
			code:   models.CodeCapacityExceeded,
			reason: "capacity exceeded",
		},
		{
			name:      "package peak",
			query:     q(2, day(2030, 12, 10), day(2030, 12, 15), 2),
			available: true,
			total:     2400,
		},
		{
			name:      "package low season",
			query:     q(2, day(2030, 7, 10), day(2030, 7, 15), 2),
			available: true,
			total:     1800,
		},
		{
			name:  "package wrong duration",
			query: q(2, day(2030, 3, 10), day(2030, 3, 14), 2),
			code:  models.CodeDurationMismatch,
		},
	}

	svc := newTestService(testStore(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.CheckAvailability(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.available, res.IsAvailable)
			assert.Equal(t, tt.code, res.Code)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, res.Reason)
			}
			if tt.available {
				assert.Equal(t, tt.total, res.TotalPrice)
			}
		})
	}
}

func TestCheckAvailability_DurationMismatchReportsRequired(t *testing.T) {
	svc := newTestService(testStore(), nil)
	res, err := svc.CheckAvailability(context.Background(), q(2, day(2030, 3, 10), day(2030, 3, 14), 2))
	require.NoError(t, err)
	assert.False(t, res.IsAvailable)
	assert.Equal(t, 5, res.RequiredDuration)
}

func TestCheckAvailability_ReservationsAndCancellations(t *testing.T) {
	store := testStore()
	store.add(models.Reservation{ID: 1, UnitID: 1, CabinIDs: []int64{11, 12}, StartDate: day(2030, 3, 1), EndDate: day(2030, 3, 5), Guests: 4})
	store.add(models.Reservation{ID: 2, UnitID: 2, StartDate: day(2030, 4, 1), EndDate: day(2030, 4, 6), Guests: 2, Status: models.StatusCancelled})
	svc := newTestService(store, nil)
	ctx := context.Background()

	res, err := svc.CheckAvailability(ctx, q(1, day(2030, 3, 4), day(2030, 3, 6), 1))
	require.NoError(t, err)
	assert.Equal(t, models.CodeAlreadyBooked, res.Code)

	res, err = svc.CheckAvailability(ctx, q(1, day(2030, 3, 5), day(2030, 3, 6), 4))
	require.NoError(t, err)
	assert.True(t, res.IsAvailable, "checkout day is free")
	assert.Equal(t, []int64{11, 12}, res.CabinIDs())
	assert.Equal(t, 350.0, res.TotalPrice)

	res, err = svc.CheckAvailability(ctx, q(2, day(2030, 4, 1), day(2030, 4, 6), 2))
	require.NoError(t, err)
	assert.True(t, res.IsAvailable, "cancelled reservations never block")

	excluded := q(1, day(2030, 3, 2), day(2030, 3, 4), 4)
	excluded.ExcludeReservationID = 1
	res, err = svc.CheckAvailability(ctx, excluded)
	require.NoError(t, err)
	assert.True(t, res.IsAvailable)
}

func TestCheckAvailability_Idempotent(t *testing.T) {
	svc := newTestService(testStore(), nil)
	query := q(1, day(2030, 5, 1), day(2030, 5, 4), 3)

	first, err := svc.CheckAvailability(context.Background(), query)
	require.NoError(t, err)
	second, err := svc.CheckAvailability(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCheckAvailability_StorageFault(t *testing.T) {
	store := new(MockStore)
	boom := errors.New("database is locked")
	store.On("GetUnit", mock.Anything, int64(1)).Return(nil, boom)

	svc := newTestService(store, nil)
	res, err := svc.CheckAvailability(context.Background(), q(1, day(2030, 5, 1), day(2030, 5, 4), 2))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
	store.AssertExpectations(t)
}

func TestEvaluate_UsesGivenStore(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)
	res, err := svc.Evaluate(context.Background(), testStore(), q(1, day(2030, 5, 1), day(2030, 5, 2), 2))
	require.NoError(t, err)
	assert.True(t, res.IsAvailable)
}

func TestGetCalendar(t *testing.T) {
	store := testStore()
	// Vessel: both cabins on 20-21 Jan, one cabin on 25 Jan. Package departs 28 Jan.
	store.add(models.Reservation{ID: 1, UnitID: 1, CabinIDs: []int64{11, 12}, StartDate: day(2030, 1, 20), EndDate: day(2030, 1, 22), Guests: 3})
	store.add(models.Reservation{ID: 2, UnitID: 1, CabinIDs: []int64{11}, StartDate: day(2030, 1, 25), EndDate: day(2030, 1, 26), Guests: 2})
	store.add(models.Reservation{ID: 3, UnitID: 1, CabinIDs: []int64{12}, StartDate: day(2030, 1, 25), EndDate: day(2030, 1, 27), Guests: 1, Status: models.StatusCancelled})
	store.add(models.Reservation{ID: 4, UnitID: 2, StartDate: day(2030, 1, 28), EndDate: day(2030, 2, 2), Guests: 2})
	svc := newTestService(store, nil)
	ctx := context.Background()

	days, err := svc.GetCalendar(ctx, 1, 1, 2030)
	require.NoError(t, err)
	require.Len(t, days, 31)

	assert.False(t, days["2030-01-09"].IsAvailable, "past")
	assert.True(t, days["2030-01-10"].IsAvailable)
	assert.False(t, days["2030-01-20"].IsAvailable)
	assert.Equal(t, 2, days["2030-01-21"].ReservedCount)
	assert.Equal(t, 3, days["2030-01-21"].ReservedGuests)
	assert.True(t, days["2030-01-22"].IsAvailable, "checkout night")
	assert.True(t, days["2030-01-25"].IsAvailable, "one cabin left")
	assert.Equal(t, 1, days["2030-01-25"].ReservedCount)
	assert.Equal(t, 0, days["2030-01-26"].ReservedCount, "cancelled ignored")

	pkg, err := svc.GetCalendar(ctx, 2, 2, 2030)
	require.NoError(t, err)
	require.Len(t, pkg, 28)
	assert.False(t, pkg["2030-02-01"].IsAvailable, "departure occupies the package")
	assert.True(t, pkg["2030-02-02"].IsAvailable)

	_, err = svc.GetCalendar(ctx, 1, 13, 2030)
	assert.ErrorIs(t, err, ErrInvalidCalendar)

	_, err = svc.GetCalendar(ctx, 42, 1, 2030)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetCalendar_GuestSaturation(t *testing.T) {
	store := testStore()
	store.units[1].MaxGuests = 2
	store.add(models.Reservation{ID: 1, UnitID: 1, CabinIDs: []int64{11}, StartDate: day(2030, 2, 1), EndDate: day(2030, 2, 2), Guests: 2})
	svc := newTestService(store, nil)

	days, err := svc.GetCalendar(context.Background(), 1, 2, 2030)
	require.NoError(t, err)
	assert.False(t, days["2030-02-01"].IsAvailable)
}

func TestGetCalendar_IgnoresDeactivatedCabins(t *testing.T) {
	store := testStore()
	store.units[1].MaxGuests = 0
	store.cabins[1] = append(store.cabins[1], models.Cabin{ID: 13, UnitID: 1, Capacity: 2, IsActive: false})
	// Cabin 13 was deactivated after this reservation was taken.
	store.add(models.Reservation{ID: 1, UnitID: 1, CabinIDs: []int64{13}, StartDate: day(2030, 2, 1), EndDate: day(2030, 2, 3), Guests: 1})
	store.add(models.Reservation{ID: 2, UnitID: 1, CabinIDs: []int64{11}, StartDate: day(2030, 2, 1), EndDate: day(2030, 2, 3), Guests: 1})
	svc := newTestService(store, nil)
	ctx := context.Background()

	days, err := svc.GetCalendar(ctx, 1, 2, 2030)
	require.NoError(t, err)
	assert.True(t, days["2030-02-01"].IsAvailable, "cabin 12 is still free")
	assert.Equal(t, 1, days["2030-02-01"].ReservedCount)

	res, err := svc.CheckAvailability(ctx, q(1, day(2030, 2, 1), day(2030, 2, 3), 2))
	require.NoError(t, err)
	require.True(t, res.IsAvailable)
	assert.Equal(t, []int64{12}, res.CabinIDs())
}

func TestService_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := zerolog.New(io.Discard)
	c := cache.NewRedis(client, time.Minute, &logger)

	store := testStore()
	svc := newTestService(store, c)
	ctx := context.Background()
	query := q(1, day(2030, 5, 1), day(2030, 5, 4), 4)

	first, err := svc.CheckAvailability(ctx, query)
	require.NoError(t, err)
	require.True(t, first.IsAvailable)
	assert.Equal(t, 1, store.listCalls)

	// A write that does not bump the generation is not seen.
	store.add(models.Reservation{ID: 9, UnitID: 1, CabinIDs: []int64{11}, StartDate: day(2030, 5, 1), EndDate: day(2030, 5, 4), Guests: 2})
	cached, err := svc.CheckAvailability(ctx, query)
	require.NoError(t, err)
	assert.True(t, cached.IsAvailable)
	assert.Equal(t, 1, store.listCalls)

	c.Bump(ctx, 1)
	fresh, err := svc.CheckAvailability(ctx, query)
	require.NoError(t, err)
	assert.False(t, fresh.IsAvailable)
	assert.Equal(t, 2, store.listCalls)

	_, err = svc.GetCalendar(ctx, 1, 5, 2030)
	require.NoError(t, err)
	_, err = svc.GetCalendar(ctx, 1, 5, 2030)
	require.NoError(t, err)
	assert.Equal(t, 3, store.listCalls, "calendar served from cache")
}

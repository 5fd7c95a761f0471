package booking

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nilecruise/internal/availability"
	"nilecruise/internal/cache"
	"nilecruise/internal/clock"
	"nilecruise/internal/config"
	"nilecruise/internal/database"
	"nilecruise/internal/events"
	"nilecruise/internal/models"
	"nilecruise/internal/pricing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	vesselID      = 1
	packageID     = 2
	singleCabinID = 3
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	db  *database.DB
	svc *Service
}

func newFixture(t *testing.T, c cache.Cache) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "booking.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cat := &config.Catalog{Units: []config.UnitConfig{
		{
			ID: vesselID, Name: "Amunet", Kind: "VESSEL", BaseRate: 300, MaxGuests: 6,
			Cabins: []config.CabinConfig{
				{ID: 11, Name: "Suite", Capacity: 2, RateDelta: 50},
				{ID: 12, Name: "Hathor", Capacity: 2},
			},
		},
		{ID: packageID, Name: "Classic", Kind: "PACKAGE", BaseRate: 1000, DurationDays: 5, MaxGuests: 10},
		{
			ID: singleCabinID, Name: "Felucca", Kind: "VESSEL", BaseRate: 100, MaxGuests: 2,
			Cabins: []config.CabinConfig{{ID: 31, Name: "Deck", Capacity: 2}},
		},
	}}
	require.NoError(t, db.SyncCatalog(context.Background(), cat))

	avail := availability.NewService(db, pricing.NewEngine(pricing.PerCabin), availability.Options{
		Clock: clock.Fixed(day(2030, 1, 1).Add(10 * time.Hour)),
		Cache: c,
	}, &logger)
	return &fixture{db: db, svc: NewService(db, avail, c, &logger)}
}

func query(unitID int64, start, end time.Time, guests int) models.AvailabilityQuery {
	return models.AvailabilityQuery{UnitID: unitID, StartDate: start, EndDate: end, Guests: guests}
}

func mustCommit(t *testing.T, f *fixture, q models.AvailabilityQuery, guest GuestPayload) *models.Reservation {
	t.Helper()
	res, err := f.svc.Commit(context.Background(), q, guest)
	require.NoError(t, err)
	require.True(t, res.Committed(), "commit rejected: %s %s", res.Result.Code, res.Result.Reason)
	return res.Reservation
}

func TestCommit_VesselSelectsCabins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	q := query(vesselID, day(2030, 4, 1), day(2030, 4, 4), 2)

	first := mustCommit(t, f, q, GuestPayload{Guest: models.GuestDetails{Name: "Ada"}})
	assert.Equal(t, []int64{12}, first.CabinIDs, "cheapest exact fit")
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Equal(t, 900.0, first.TotalPrice)
	assert.NotEmpty(t, first.Reference)

	second := mustCommit(t, f, q, GuestPayload{})
	assert.Equal(t, []int64{11}, second.CabinIDs)
	assert.Equal(t, 950.0, second.TotalPrice)

	third, err := f.svc.Commit(ctx, q, GuestPayload{})
	require.NoError(t, err)
	assert.False(t, third.Committed())
	assert.Equal(t, models.CodeAlreadyBooked, third.Result.Code)

	stored, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", stored.Guest.Name)

	byRef, err := f.svc.GetByReference(ctx, second.Reference)
	require.NoError(t, err)
	assert.Equal(t, second.ID, byRef.ID)
}

func TestCommit_HalfOpenBoundary(t *testing.T) {
	f := newFixture(t, nil)

	mustCommit(t, f, query(vesselID, day(2030, 5, 1), day(2030, 5, 4), 4), GuestPayload{})
	next := mustCommit(t, f, query(vesselID, day(2030, 5, 4), day(2030, 5, 6), 4), GuestPayload{})
	assert.ElementsMatch(t, []int64{11, 12}, next.CabinIDs)

	res, err := f.svc.Commit(context.Background(), query(vesselID, day(2030, 5, 3), day(2030, 5, 5), 1), GuestPayload{})
	require.NoError(t, err)
	assert.Equal(t, models.CodeAlreadyBooked, res.Result.Code)
}

func TestCommit_Rejections(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name     string
		query    models.AvailabilityQuery
		code     models.Code
		required int
	}{
		{"start in past", query(vesselID, day(2029, 12, 31), day(2030, 1, 2), 2), models.CodeStartInPast, 0},
		{"unknown unit", query(99, day(2030, 4, 1), day(2030, 4, 2), 2), models.CodeNotFound, 0},
		{"end before start", query(vesselID, day(2030, 4, 2), day(2030, 4, 1), 2), models.CodeValidation, 0},
		{"too many guests", query(vesselID, day(2030, 4, 1), day(2030, 4, 2), 7), models.CodeCapacityExceeded, 0},
		{"package duration", query(packageID, day(2030, 4, 1), day(2030, 4, 5), 2), models.CodeDurationMismatch, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Commit(context.Background(), tt.query, GuestPayload{})
			require.NoError(t, err)
			assert.False(t, res.Committed())
			assert.Equal(t, tt.code, res.Result.Code)
			assert.Equal(t, tt.required, res.Result.RequiredDuration)
		})
	}
}

func TestCommit_PackageFixedDeparture(t *testing.T) {
	f := newFixture(t, nil)

	r := mustCommit(t, f, query(packageID, day(2030, 12, 10), day(2030, 12, 15), 2), GuestPayload{})
	assert.Empty(t, r.CabinIDs)
	assert.Equal(t, 1000.0, r.BasePrice)
	assert.Equal(t, 2400.0, r.TotalPrice)

	res, err := f.svc.Commit(context.Background(), query(packageID, day(2030, 12, 12), day(2030, 12, 17), 2), GuestPayload{})
	require.NoError(t, err)
	assert.Equal(t, models.CodeAlreadyBooked, res.Result.Code)
}

func TestCommit_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	q := query(vesselID, day(2030, 4, 1), day(2030, 4, 4), 2)
	payload := GuestPayload{IdempotencyKey: "checkout-42"}

	first := mustCommit(t, f, q, payload)

	again, err := f.svc.Commit(context.Background(), q, payload)
	require.NoError(t, err)
	require.True(t, again.Committed())
	assert.True(t, again.Replayed)
	assert.Equal(t, first.ID, again.Reservation.ID)
	assert.Equal(t, first.TotalPrice, again.Result.TotalPrice)

	overlapping, err := f.db.ListOverlappingReservations(context.Background(), vesselID, q.StartDate, q.EndDate, 0)
	require.NoError(t, err)
	assert.Len(t, overlapping, 1)
}

func TestCommit_IdempotencyKeyReusedForDifferentRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	q := query(vesselID, day(2030, 4, 1), day(2030, 4, 4), 2)
	payload := GuestPayload{IdempotencyKey: "checkout-42"}
	mustCommit(t, f, q, payload)

	tests := []struct {
		name  string
		query models.AvailabilityQuery
	}{
		{"other unit", query(singleCabinID, day(2030, 4, 1), day(2030, 4, 4), 2)},
		{"other start", query(vesselID, day(2030, 4, 2), day(2030, 4, 4), 2)},
		{"other end", query(vesselID, day(2030, 4, 1), day(2030, 4, 5), 2)},
		{"other guests", query(vesselID, day(2030, 4, 1), day(2030, 4, 4), 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Commit(ctx, tt.query, payload)
			require.NoError(t, err)
			assert.False(t, res.Committed())
			assert.False(t, res.Replayed)
			assert.Equal(t, models.CodeValidation, res.Result.Code)
		})
	}

	overlapping, err := f.db.ListOverlappingReservations(ctx, vesselID, day(2030, 4, 1), day(2030, 4, 5), 0)
	require.NoError(t, err)
	assert.Len(t, overlapping, 1)
}

func TestCancel_FreesCabins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	q := query(vesselID, day(2030, 4, 1), day(2030, 4, 4), 4)

	r := mustCommit(t, f, q, GuestPayload{})

	blocked, err := f.svc.Commit(ctx, q, GuestPayload{})
	require.NoError(t, err)
	assert.False(t, blocked.Committed())

	cancelled, err := f.svc.Cancel(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, r.TotalPrice, cancelled.TotalPrice, "price is frozen")

	mustCommit(t, f, q, GuestPayload{})
}

func TestTransitions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := mustCommit(t, f, query(vesselID, day(2030, 4, 1), day(2030, 4, 4), 2), GuestPayload{})

	confirmed, err := f.svc.Confirm(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	assert.Equal(t, r.Version+1, confirmed.Version)

	_, err = f.svc.Confirm(ctx, r.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.svc.Cancel(ctx, r.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, r.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	_, err = f.svc.Confirm(ctx, r.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.svc.Confirm(ctx, 404)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFSM(t *testing.T) {
	fsm := NewFSM()
	tests := []struct {
		from, to models.Status
		allowed  bool
	}{
		{models.StatusPending, models.StatusConfirmed, true},
		{models.StatusPending, models.StatusCancelled, true},
		{models.StatusConfirmed, models.StatusCancelled, true},
		{models.StatusConfirmed, models.StatusPending, false},
		{models.StatusCancelled, models.StatusPending, false},
		{models.StatusCancelled, models.StatusConfirmed, false},
		{models.StatusPending, models.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, fsm.CanTransition(tt.from, tt.to))
		})
	}
}

func TestCommit_Reschedule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	old := mustCommit(t, f, query(singleCabinID, day(2030, 4, 1), day(2030, 4, 4), 2), GuestPayload{})

	// Overlapping the old range is fine: the old reservation is excluded.
	q := query(singleCabinID, day(2030, 4, 2), day(2030, 4, 6), 2)
	q.ExcludeReservationID = old.ID
	moved := mustCommit(t, f, q, GuestPayload{})
	assert.Equal(t, []int64{31}, moved.CabinIDs)

	prev, err := f.svc.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, prev.Status)

	// The released night before the new range can be sold again.
	mustCommit(t, f, query(singleCabinID, day(2030, 4, 1), day(2030, 4, 2), 1), GuestPayload{})

	// Rescheduling a cancelled reservation is rejected.
	res, err := f.svc.Commit(ctx, q, GuestPayload{})
	require.NoError(t, err)
	assert.Equal(t, models.CodeValidation, res.Result.Code)
}

func TestCommit_RescheduleInfeasibleKeepsOriginal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	old := mustCommit(t, f, query(singleCabinID, day(2030, 4, 1), day(2030, 4, 4), 2), GuestPayload{})
	mustCommit(t, f, query(singleCabinID, day(2030, 4, 10), day(2030, 4, 12), 2), GuestPayload{})

	q := query(singleCabinID, day(2030, 4, 9), day(2030, 4, 11), 2)
	q.ExcludeReservationID = old.ID
	res, err := f.svc.Commit(ctx, q, GuestPayload{})
	require.NoError(t, err)
	assert.Equal(t, models.CodeAlreadyBooked, res.Result.Code)

	prev, err := f.svc.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, prev.Status)

	q.ExcludeReservationID = 999
	res, err = f.svc.Commit(ctx, q, GuestPayload{})
	require.NoError(t, err)
	assert.Equal(t, models.CodeNotFound, res.Result.Code)
}

func TestCommit_ConcurrentSingleCabin(t *testing.T) {
	f := newFixture(t, nil)
	q := query(singleCabinID, day(2030, 6, 1), day(2030, 6, 3), 2)

	const workers = 8
	results := make([]*CommitResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.svc.Commit(context.Background(), q, GuestPayload{})
		}(i)
	}
	close(start)
	wg.Wait()

	committed := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Committed() {
			committed++
			continue
		}
		assert.True(t, results[i].Result.Code.IsConflict(), "unexpected code %s", results[i].Result.Code)
	}
	assert.Equal(t, 1, committed)

	overlapping, err := f.db.ListOverlappingReservations(context.Background(), singleCabinID, q.StartDate, q.EndDate, 0)
	require.NoError(t, err)
	assert.Len(t, overlapping, 1)
}

func TestCommit_BumpsCacheGeneration(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := zerolog.New(io.Discard)
	c := cache.NewRedis(client, time.Minute, &logger)

	f := newFixture(t, c)
	ctx := context.Background()

	before, ok := c.Generation(ctx, vesselID)
	require.True(t, ok)

	r := mustCommit(t, f, query(vesselID, day(2030, 4, 1), day(2030, 4, 4), 2), GuestPayload{})
	afterCommit, _ := c.Generation(ctx, vesselID)
	assert.Greater(t, afterCommit, before)

	_, err := f.svc.Cancel(ctx, r.ID)
	require.NoError(t, err)
	afterCancel, _ := c.Generation(ctx, vesselID)
	assert.Greater(t, afterCancel, afterCommit)
}

func TestService_PublishesLifecycleEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	bus := events.NewBus()
	var got []events.Event
	bus.Subscribe(func(ev events.Event) error {
		got = append(got, ev)
		return nil
	}, events.ReservationCommitted, events.ReservationConfirmed, events.ReservationCancelled, events.ReservationReplaced)
	f.svc.UseEvents(bus)

	r := mustCommit(t, f, query(vesselID, day(2030, 4, 1), day(2030, 4, 4), 2), GuestPayload{})
	_, err := f.svc.Confirm(ctx, r.ID)
	require.NoError(t, err)

	q := query(vesselID, day(2030, 5, 1), day(2030, 5, 4), 2)
	q.ExcludeReservationID = r.ID
	moved := mustCommit(t, f, q, GuestPayload{})

	_, err = f.svc.Cancel(ctx, moved.ID)
	require.NoError(t, err)

	// Rejected commits publish nothing.
	res, err := f.svc.Commit(ctx, query(vesselID, day(2029, 5, 1), day(2029, 5, 4), 2), GuestPayload{})
	require.NoError(t, err)
	require.False(t, res.Committed())

	types := make([]string, len(got))
	for i, ev := range got {
		types[i] = ev.Type
	}
	assert.Equal(t, []string{
		events.ReservationCommitted,
		events.ReservationConfirmed,
		events.ReservationReplaced,
		events.ReservationCommitted,
		events.ReservationCancelled,
	}, types)
	assert.Equal(t, r.ID, got[2].Reservation.ID)
	assert.Equal(t, moved.ID, got[2].ReplacedBy)
	assert.Equal(t, models.StatusCancelled, got[2].Reservation.Status)
	assert.Equal(t, models.StatusConfirmed, got[1].Reservation.Status)
}

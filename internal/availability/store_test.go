package availability

import (
	"context"
	"time"

	"nilecruise/internal/models"

	"github.com/stretchr/testify/mock"
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	units        map[int64]*models.Unit
	cabins       map[int64][]models.Cabin
	reservations []models.Reservation
	listCalls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		units:  make(map[int64]*models.Unit),
		cabins: make(map[int64][]models.Cabin),
	}
}

func (s *fakeStore) GetUnit(_ context.Context, id int64) (*models.Unit, error) {
	u, ok := s.units[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) ListCabins(_ context.Context, unitID int64) ([]models.Cabin, error) {
	return s.cabins[unitID], nil
}

func (s *fakeStore) ListOverlappingReservations(_ context.Context, unitID int64, start, end time.Time, excludeID int64) ([]models.Reservation, error) {
	s.listCalls++
	var out []models.Reservation
	for _, r := range s.reservations {
		if r.UnitID != unitID || !r.IsActive() || r.ID == excludeID || !r.OverlapsRange(start, end) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) add(r models.Reservation) {
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	s.reservations = append(s.reservations, r)
}

// MockStore is a testify mock of Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetUnit(ctx context.Context, id int64) (*models.Unit, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Unit), args.Error(1)
}

func (m *MockStore) ListCabins(ctx context.Context, unitID int64) ([]models.Cabin, error) {
	args := m.Called(ctx, unitID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Cabin), args.Error(1)
}

func (m *MockStore) ListOverlappingReservations(ctx context.Context, unitID int64, start, end time.Time, excludeID int64) ([]models.Reservation, error) {
	args := m.Called(ctx, unitID, start, end, excludeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reservation), args.Error(1)
}

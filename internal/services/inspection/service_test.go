package inspection

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/q133ss/elza-bot/internal/models"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetUser(ctx context.Context, chatID int64) (*models.User, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockRepository) GetSession(ctx context.Context, chatID int64) (*models.Session, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockRepository) ListReadings(ctx context.Context, chatID int64, limit int) ([]*models.Reading, error) {
	args := m.Called(ctx, chatID, limit)
	return args.Get(0).([]*models.Reading), args.Error(1)
}

func (m *MockRepository) CountUsers(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) CountActiveSubscriptions(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) CountConfirmedPayments(ctx context.Context) (int, int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockRepository) CountReadingsByDay(ctx context.Context, from time.Time) ([]models.UsageStat, error) {
	args := m.Called(ctx, from)
	return args.Get(0).([]models.UsageStat), args.Error(1)
}

// fakeCache кэш в памяти без TTL, достаточный для проверок попаданий.
type fakeCache struct {
	values map[string]any
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]any{}}
}

func (c *fakeCache) Get(ctx context.Context, key string, result any) (bool, error) {
	value, ok := c.values[key]
	if !ok {
		return false, nil
	}
	switch typed := result.(type) {
	case *UserSnapshot:
		*typed = *value.(*UserSnapshot)
	case *Stats:
		*typed = *value.(*Stats)
	}
	return true, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	c.values[key] = value
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUserSnapshot(t *testing.T) {
	repo := new(MockRepository)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	repo.On("GetUser", mock.Anything, int64(42)).Return(&models.User{
		ChatID:             42,
		Name:               "Анна",
		SubscriptionStatus: models.SubscriptionActive,
		LastActivityAt:     now,
	}, nil)
	repo.On("GetSession", mock.Anything, int64(42)).Return(&models.Session{
		ChatID: 42,
		State:  models.StateAwaitingInput,
		Kind:   models.KindCompanion,
	}, nil)
	repo.On("ListReadings", mock.Anything, int64(42), 20).
		Return([]*models.Reading{{ID: 1, ChatID: 42, Kind: models.KindTarotSingle}}, nil)

	s := New(discardLogger(), repo, newFakeCache())
	snapshot, err := s.UserSnapshot(context.Background(), 42)

	require.NoError(t, err)
	require.Equal(t, "Анна", snapshot.Name)
	require.Equal(t, models.StateAwaitingInput, snapshot.SessionState)
	require.Equal(t, models.KindCompanion, snapshot.SessionKind)
	require.Len(t, snapshot.Readings, 1)
}

func TestUserSnapshotServedFromCache(t *testing.T) {
	repo := new(MockRepository)
	repo.On("GetUser", mock.Anything, int64(42)).Return(&models.User{ChatID: 42, Name: "Анна"}, nil).Once()
	repo.On("GetSession", mock.Anything, int64(42)).Return(nil, nil).Once()
	repo.On("ListReadings", mock.Anything, int64(42), 20).Return([]*models.Reading{}, nil).Once()

	s := New(discardLogger(), repo, newFakeCache())
	ctx := context.Background()

	first, err := s.UserSnapshot(ctx, 42)
	require.NoError(t, err)
	second, err := s.UserSnapshot(ctx, 42)
	require.NoError(t, err)

	require.Equal(t, first.Name, second.Name)
	repo.AssertNumberOfCalls(t, "GetUser", 1)
}

func TestUserSnapshotUnknownUser(t *testing.T) {
	repo := new(MockRepository)
	repo.On("GetUser", mock.Anything, int64(1)).Return(nil, nil)

	s := New(discardLogger(), repo, newFakeCache())
	_, err := s.UserSnapshot(context.Background(), 1)

	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestStats(t *testing.T) {
	repo := new(MockRepository)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	repo.On("CountUsers", mock.Anything).Return(120, nil)
	repo.On("CountActiveSubscriptions", mock.Anything, now).Return(17, nil)
	repo.On("CountConfirmedPayments", mock.Anything).Return(25, 27000, nil)
	repo.On("CountReadingsByDay", mock.Anything, now.AddDate(0, 0, -30)).
		Return([]models.UsageStat{{Day: "2025-06-09", Kind: models.KindTarotSingle, Count: 14}}, nil)

	s := New(discardLogger(), repo, newFakeCache())
	stats, err := s.Stats(context.Background(), now)

	require.NoError(t, err)
	require.Equal(t, 120, stats.TotalUsers)
	require.Equal(t, 17, stats.ActiveSubscriptions)
	require.Equal(t, 25, stats.ConfirmedPayments)
	require.Equal(t, 27000, stats.RevenueRub)
	require.Len(t, stats.Usage, 1)
}

package reconciler

import (
	"context"
	"errors"
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

func (m *MockRepository) ListIntentsForReconciliation(ctx context.Context, createdBefore time.Time) ([]*models.PaymentIntent, error) {
	args := m.Called(ctx, createdBefore)
	return args.Get(0).([]*models.PaymentIntent), args.Error(1)
}

func (m *MockRepository) MarkIntentTerminal(ctx context.Context, intentID, status, providerStatus string) (bool, error) {
	args := m.Called(ctx, intentID, status, providerStatus)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) MarkIntentGranted(ctx context.Context, intentID string) (bool, error) {
	args := m.Called(ctx, intentID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) CreateReminder(ctx context.Context, r *models.Reminder) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetPaymentStatus(ctx context.Context, paymentID string) (string, error) {
	args := m.Called(ctx, paymentID)
	return args.String(0), args.Error(1)
}

type MockGranter struct {
	mock.Mock
}

func (m *MockGranter) GrantSubscription(ctx context.Context, chatID int64, months int, now time.Time) (time.Time, error) {
	args := m.Called(ctx, chatID, months, now)
	return args.Get(0).(time.Time), args.Error(1)
}

func newReconciler(repo *MockRepository, provider *MockProvider, granter *MockGranter) *Reconciler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, repo, provider, granter, Config{
		PollInterval: 30 * time.Second,
		GracePeriod:  time.Minute,
		IntentMaxAge: 24 * time.Hour,
	})
}

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func pendingIntent(id string, chatID int64, age time.Duration) *models.PaymentIntent {
	return &models.PaymentIntent{
		IntentID:  id,
		ChatID:    chatID,
		AmountRub: 1080,
		Months:    6,
		Status:    models.IntentCreated,
		CreatedAt: now.Add(-age),
	}
}

func TestSucceededPollConfirmsAndGrantsOnce(t *testing.T) {
	repo := new(MockRepository)
	provider := new(MockProvider)
	granter := new(MockGranter)

	intent := pendingIntent("pay-1", 42, 5*time.Minute)
	repo.On("ListIntentsForReconciliation", mock.Anything, mock.Anything).
		Return([]*models.PaymentIntent{intent}, nil)
	provider.On("GetPaymentStatus", mock.Anything, "pay-1").Return("succeeded", nil)

	// Первый проход выигрывает условную запись, последующие — нет.
	repo.On("MarkIntentTerminal", mock.Anything, "pay-1", models.IntentConfirmed, "succeeded").
		Return(true, nil).Once()
	repo.On("MarkIntentTerminal", mock.Anything, "pay-1", models.IntentConfirmed, "succeeded").
		Return(false, nil)
	granter.On("GrantSubscription", mock.Anything, int64(42), 6, now).
		Return(now.AddDate(0, 6, 0), nil).Once()
	repo.On("MarkIntentGranted", mock.Anything, "pay-1").Return(true, nil).Once()
	repo.On("CreateReminder", mock.Anything, mock.MatchedBy(func(r *models.Reminder) bool {
		return r.ChatID == 42 && r.Kind == models.ReminderActivated
	})).Return(nil).Once()

	r := newReconciler(repo, provider, granter)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.ReconcileOnce(context.Background(), now))
	}

	repo.AssertExpectations(t)
	granter.AssertExpectations(t)
	granter.AssertNumberOfCalls(t, "GrantSubscription", 1)
	repo.AssertNumberOfCalls(t, "CreateReminder", 1)
}

func TestReportedStatusSkipsProviderPoll(t *testing.T) {
	repo := new(MockRepository)
	provider := new(MockProvider)
	granter := new(MockGranter)

	reported := "succeeded"
	intent := pendingIntent("pay-2", 7, time.Minute)
	intent.ReportedStatus = &reported

	repo.On("ListIntentsForReconciliation", mock.Anything, mock.Anything).
		Return([]*models.PaymentIntent{intent}, nil)
	repo.On("MarkIntentTerminal", mock.Anything, "pay-2", models.IntentConfirmed, "succeeded").
		Return(true, nil)
	granter.On("GrantSubscription", mock.Anything, int64(7), 6, now).
		Return(now.AddDate(0, 6, 0), nil)
	repo.On("MarkIntentGranted", mock.Anything, "pay-2").Return(true, nil)
	repo.On("CreateReminder", mock.Anything, mock.Anything).Return(nil)

	r := newReconciler(repo, provider, granter)
	require.NoError(t, r.ReconcileOnce(context.Background(), now))

	provider.AssertNotCalled(t, "GetPaymentStatus", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestFailedGrantRetriedOnNextPass(t *testing.T) {
	repo := new(MockRepository)
	provider := new(MockProvider)
	granter := new(MockGranter)

	// Первый проход: платёж подтверждён, но активация подписки упала.
	intent := pendingIntent("pay-8", 21, 5*time.Minute)
	repo.On("ListIntentsForReconciliation", mock.Anything, mock.Anything).
		Return([]*models.PaymentIntent{intent}, nil).Once()
	provider.On("GetPaymentStatus", mock.Anything, "pay-8").Return("succeeded", nil).Once()
	repo.On("MarkIntentTerminal", mock.Anything, "pay-8", models.IntentConfirmed, "succeeded").
		Return(true, nil).Once()
	granter.On("GrantSubscription", mock.Anything, int64(21), 6, now).
		Return(time.Time{}, errors.New("db is down")).Once()

	// Второй проход: намерение уже confirmed без granted_at, опроса нет,
	// активация повторяется и записывается.
	confirmed := pendingIntent("pay-8", 21, 5*time.Minute)
	confirmed.Status = models.IntentConfirmed
	repo.On("ListIntentsForReconciliation", mock.Anything, mock.Anything).
		Return([]*models.PaymentIntent{confirmed}, nil).Once()
	granter.On("GrantSubscription", mock.Anything, int64(21), 6, now).
		Return(now.AddDate(0, 6, 0), nil).Once()
	repo.On("MarkIntentGranted", mock.Anything, "pay-8").Return(true, nil).Once()
	repo.On("CreateReminder", mock.Anything, mock.MatchedBy(func(r *models.Reminder) bool {
		return r.ChatID == 21 && r.Kind == models.ReminderActivated
	})).Return(nil).Once()

	r := newReconciler(repo, provider, granter)
	require.NoError(t, r.ReconcileOnce(context.Background(), now))
	require.NoError(t, r.ReconcileOnce(context.Background(), now))

	repo.AssertExpectations(t)
	granter.AssertExpectations(t)
	provider.AssertNumberOfCalls(t, "GetPaymentStatus", 1)
	repo.AssertNumberOfCalls(t, "CreateReminder", 1)
}

func TestGrantRecordedOnceAfterRecovery(t *testing.T) {
	repo := new(MockRepository)
	provider := new(MockProvider)
	granter := new(MockGranter)

	// Активацию уже записал кто-то другой: повторный грант идемпотентен,
	// а проигранная условная запись глушит дублирующее уведомление.
	confirmed := pendingIntent("pay-9", 23, 5*time.Minute)
	confirmed.Status = models.IntentConfirmed
	repo.On("ListIntentsForReconciliation", mock.Anything, mock.Anything).
		Return([]*models.PaymentIntent{confirmed}, nil)
	granter.On("GrantSubscription", mock.Anything, int64(23), 6, now).
		Return(now.AddDate(0, 6, 0), nil).Once()
	repo.On("MarkIntentGranted", mock.Anything, "pay-9").Return(false, nil).Once()

	r := newReconciler(repo, provider, granter)
	require.NoError(t, r.ReconcileOnce(context.Background(), now))

	repo.AssertNotCalled(t, "CreateReminder", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
	granter.AssertExpectations(t)
}

func TestCanceledBecomesFailedWithoutGrant(t *testing.T) {
	repo := new(MockRepository)
	provider := new(MockProvider)
	granter := new(MockGranter)

	intent := pendingIntent("pay-3", 9, 10*time.Minute)
	repo.On("ListIntentsForReconciliation", mock.Anything, mock.Anything).
		Return([]*models.PaymentIntent{intent}, nil)
	provider.On("GetPaymentStatus", mock.Anything, "pay-3").Return("canceled", nil)
	repo.On("MarkIntentTerminal", mock.Anything, "pay-3", models.IntentFailed, "canceled").
		Return(true, nil)

	r := newReconciler(repo, provider, granter)
	require.NoError(t, r.ReconcileOnce(context.Background(), now))

	granter.AssertNotCalled(t, "GrantSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "CreateReminder", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestYoungPendingIntentWaits(t *testing.T) {
	repo := new(MockRepository)
	provider := new(MockProvider)
	granter := new(MockGranter)

	intent := pendingIntent("pay-4", 11, 10*time.Minute)
	repo.On("ListIntentsForReconciliation", mock.Anything, mock.Anything).
		Return([]*models.PaymentIntent{intent}, nil)
	provider.On("GetPaymentStatus", mock.Anything, "pay-4").Return("pending", nil)

	r := newReconciler(repo, provider, granter)
	require.NoError(t, r.ReconcileOnce(context.Background(), now))

	repo.AssertNotCalled(t, "MarkIntentTerminal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStalePendingIntentExpires(t *testing.T) {
	repo := new(MockRepository)
	provider := new(MockProvider)
	granter := new(MockGranter)

	intent := pendingIntent("pay-5", 13, 25*time.Hour)
	repo.On("ListIntentsForReconciliation", mock.Anything, mock.Anything).
		Return([]*models.PaymentIntent{intent}, nil)
	provider.On("GetPaymentStatus", mock.Anything, "pay-5").Return("pending", nil)
	repo.On("MarkIntentTerminal", mock.Anything, "pay-5", models.IntentExpired, mock.Anything).
		Return(true, nil)

	r := newReconciler(repo, provider, granter)
	require.NoError(t, r.ReconcileOnce(context.Background(), now))

	repo.AssertExpectations(t)
}

func TestProviderErrorDoesNotStopThePass(t *testing.T) {
	repo := new(MockRepository)
	provider := new(MockProvider)
	granter := new(MockGranter)

	broken := pendingIntent("pay-6", 15, 10*time.Minute)
	healthy := pendingIntent("pay-7", 16, 10*time.Minute)
	repo.On("ListIntentsForReconciliation", mock.Anything, mock.Anything).
		Return([]*models.PaymentIntent{broken, healthy}, nil)
	provider.On("GetPaymentStatus", mock.Anything, "pay-6").Return("", errors.New("gateway timeout"))
	provider.On("GetPaymentStatus", mock.Anything, "pay-7").Return("canceled", nil)
	repo.On("MarkIntentTerminal", mock.Anything, "pay-7", models.IntentFailed, "canceled").
		Return(true, nil)

	r := newReconciler(repo, provider, granter)
	require.NoError(t, r.ReconcileOnce(context.Background(), now))

	repo.AssertExpectations(t)
}

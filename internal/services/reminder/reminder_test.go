package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/q133ss/elza-bot/internal/models"
)

type MockSchedulerRepo struct {
	mock.Mock
}

func (m *MockSchedulerRepo) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]*models.Reminder), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(reminder *models.Reminder) error {
	args := m.Called(reminder)
	return args.Error(0)
}

type MockSenderRepo struct {
	mock.Mock
}

func (m *MockSenderRepo) MarkReminderDelivered(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(ctx context.Context, msg models.OutboundMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerPublishesDueReminders(t *testing.T) {
	repo := new(MockSchedulerRepo)
	publisher := new(MockPublisher)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	due := []*models.Reminder{
		{ID: 1, ChatID: 10, Kind: models.ReminderRetention, Message: "привет", DueAt: now.Add(-time.Minute)},
		{ID: 2, ChatID: 11, Kind: models.ReminderActivated, Message: "готово", DueAt: now.Add(-time.Hour)},
	}
	repo.On("ListDueReminders", mock.Anything, now, batchLimit).Return(due, nil)
	publisher.On("Publish", due[0]).Return(nil)
	publisher.On("Publish", due[1]).Return(nil)

	s := NewScheduler(discardLogger(), repo, publisher, time.Second)
	require.NoError(t, s.Tick(context.Background(), now))

	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestSchedulerContinuesAfterPublishError(t *testing.T) {
	repo := new(MockSchedulerRepo)
	publisher := new(MockPublisher)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	due := []*models.Reminder{
		{ID: 1, ChatID: 10, Message: "первое"},
		{ID: 2, ChatID: 11, Message: "второе"},
	}
	repo.On("ListDueReminders", mock.Anything, now, batchLimit).Return(due, nil)
	publisher.On("Publish", due[0]).Return(errors.New("channel closed"))
	publisher.On("Publish", due[1]).Return(nil)

	s := NewScheduler(discardLogger(), repo, publisher, time.Second)
	require.NoError(t, s.Tick(context.Background(), now))

	publisher.AssertExpectations(t)
}

func TestSenderDeliversAndMarks(t *testing.T) {
	repo := new(MockSenderRepo)
	transport := new(MockTransport)

	item := models.Reminder{ID: 5, ChatID: 42, Kind: models.ReminderRetention, Message: "подключи подписку 💌"}
	body, err := json.Marshal(item)
	require.NoError(t, err)

	transport.On("Send", mock.Anything, models.OutboundMessage{ChatID: 42, Text: item.Message}).
		Return(nil)
	repo.On("MarkReminderDelivered", mock.Anything, int64(5)).Return(true, nil)

	s := NewSender(discardLogger(), repo, transport)
	require.NoError(t, s.handleDelivery(context.Background(), body))

	repo.AssertExpectations(t)
	transport.AssertExpectations(t)
}

func TestSenderDuplicateDeliveryIsNoop(t *testing.T) {
	repo := new(MockSenderRepo)
	transport := new(MockTransport)

	item := models.Reminder{ID: 5, ChatID: 42, Message: "дубль"}
	body, err := json.Marshal(item)
	require.NoError(t, err)

	transport.On("Send", mock.Anything, mock.Anything).Return(nil)
	repo.On("MarkReminderDelivered", mock.Anything, int64(5)).Return(false, nil)

	s := NewSender(discardLogger(), repo, transport)
	require.NoError(t, s.handleDelivery(context.Background(), body))

	repo.AssertExpectations(t)
}

func TestSenderTransportErrorKeepsReminderUndelivered(t *testing.T) {
	repo := new(MockSenderRepo)
	transport := new(MockTransport)

	item := models.Reminder{ID: 6, ChatID: 43, Message: "не ушло"}
	body, err := json.Marshal(item)
	require.NoError(t, err)

	transport.On("Send", mock.Anything, mock.Anything).Return(errors.New("telegram 502"))

	s := NewSender(discardLogger(), repo, transport)
	require.Error(t, s.handleDelivery(context.Background(), body))

	repo.AssertNotCalled(t, "MarkReminderDelivered", mock.Anything, mock.Anything)
}

func TestSenderDropsMalformedPayload(t *testing.T) {
	s := NewSender(discardLogger(), new(MockSenderRepo), new(MockTransport))
	require.NoError(t, s.handleDelivery(context.Background(), []byte("not json")))
}

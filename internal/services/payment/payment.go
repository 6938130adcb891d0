// Package payment оформление оплаты подписки: расчёт цены тарифа, создание
// платежа у провайдера и учёт платёжного намерения.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/q133ss/elza-bot/internal/config"
	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/models"
	"github.com/q133ss/elza-bot/internal/paymentprovider"
)

// ErrAlreadyPaid предыдущий счёт пользователя уже оплачен: воркер сверки
// вот-вот активирует подписку, новый платёж создавать нельзя.
var ErrAlreadyPaid = errors.New("pending intent already paid")

// Repository методы хранилища, нужные оформлению оплаты.
type Repository interface {
	FindPendingIntent(ctx context.Context, chatID int64) (*models.PaymentIntent, error)
	CreateIntent(ctx context.Context, intent *models.PaymentIntent) error
	MarkIntentTerminal(ctx context.Context, intentID, status, providerStatus string) (bool, error)
	CreateReminder(ctx context.Context, r *models.Reminder) error
	SetSubscriptionPending(ctx context.Context, chatID int64) error
}

// Provider платёжный провайдер.
type Provider interface {
	CreatePayment(ctx context.Context, amountRub int, description string) (paymentprovider.Payment, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (string, error)
}

// Сколько ждать до напоминания о неоплаченном счёте.
const followupDelay = time.Hour

// Service сервис оформления оплаты.
type Service struct {
	log      *slog.Logger
	repo     Repository
	provider Provider
	tariff   config.Subscription
}

// New конструктор Service.
func New(log *slog.Logger, repo Repository, provider Provider, tariff config.Subscription) *Service {
	return &Service{log: log, repo: repo, provider: provider, tariff: tariff}
}

// Price считает стоимость тарифа в рублях. Тарифы от полугода идут со скидкой.
func (s *Service) Price(months int) int {
	total := s.tariff.MonthPriceRub * months
	if months >= 6 {
		total = total * (100 - s.tariff.DiscountPct) / 100
	}
	return total
}

// StartCheckout создаёт платёж и возвращает ссылку на оплату. Незавершённое
// намерение пользователя сначала проверяется у провайдера: зависшее
// вытесняется новым, оплаченное оставляется воркеру сверки.
func (s *Service) StartCheckout(ctx context.Context, user *models.User, months int) (string, error) {
	const op = "payment.StartCheckout"
	log := s.log.With(slog.String("op", op), slog.Int64("chat_id", user.ChatID))

	if err := s.supersedePending(ctx, user.ChatID); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	amount := s.Price(months)
	description := fmt.Sprintf("Подписка Эльзы, %d мес., чат %d", months, user.ChatID)

	created, err := s.provider.CreatePayment(ctx, amount, description)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	intent := &models.PaymentIntent{
		IntentID:        created.ID,
		ChatID:          user.ChatID,
		AmountRub:       amount,
		Months:          months,
		Status:          models.IntentCreated,
		ProviderStatus:  created.Status,
		ConfirmationURL: created.Confirmation.ConfirmationURL,
	}
	if err := s.repo.CreateIntent(ctx, intent); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := s.repo.SetSubscriptionPending(ctx, user.ChatID); err != nil {
		log.Error("failed to mark subscription pending", sl.Err(err))
	}
	s.scheduleFollowup(ctx, user.ChatID, intent.ConfirmationURL, log)

	log.Info("checkout started",
		slog.String("intent_id", intent.IntentID),
		slog.Int("amount_rub", amount),
		slog.Int("months", months))
	return intent.ConfirmationURL, nil
}

// supersedePending вытесняет зависшее намерение после проверки статуса у
// провайдера. Оплаченное намерение не трогаем: его подтвердит воркер сверки,
// и условная терминальная запись должна достаться ему.
func (s *Service) supersedePending(ctx context.Context, chatID int64) error {
	const op = "payment.supersedePending"

	pending, err := s.repo.FindPendingIntent(ctx, chatID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if pending == nil {
		return nil
	}

	status, err := s.provider.GetPaymentStatus(ctx, pending.IntentID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if status == "succeeded" {
		return ErrAlreadyPaid
	}

	terminal := models.IntentExpired
	if status == "canceled" {
		terminal = models.IntentFailed
	}
	if _, err := s.repo.MarkIntentTerminal(ctx, pending.IntentID, terminal, status); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) scheduleFollowup(ctx context.Context, chatID int64, url string, log *slog.Logger) {
	reminder := &models.Reminder{
		ChatID:  chatID,
		Kind:    models.ReminderPaymentFollowup,
		Message: fmt.Sprintf("Напоминаю про оплату подписки 💎 Ссылка всё ещё ждёт тебя:\n%s", url),
		DueAt:   time.Now().Add(followupDelay),
	}
	if err := s.repo.CreateReminder(ctx, reminder); err != nil {
		log.Error("failed to schedule payment followup", sl.Err(err))
	}
}

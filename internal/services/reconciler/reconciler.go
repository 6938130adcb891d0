// Package reconciler сводит статусы платёжного провайдера в локальные
// подписки. Источника два, webhook и периодический опрос, и оба могут
// сработать по одному платежу: терминальная запись условная и монотонная,
// поэтому повторная обработка безвредна.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/metrics"
	"github.com/q133ss/elza-bot/internal/models"
)

// Статусы платежа ЮKassa.
const (
	providerSucceeded = "succeeded"
	providerCanceled  = "canceled"
)

// Repository методы хранилища, нужные воркеру сверки.
type Repository interface {
	ListIntentsForReconciliation(ctx context.Context, createdBefore time.Time) ([]*models.PaymentIntent, error)
	MarkIntentTerminal(ctx context.Context, intentID, status, providerStatus string) (bool, error)
	MarkIntentGranted(ctx context.Context, intentID string) (bool, error)
	CreateReminder(ctx context.Context, r *models.Reminder) error
}

// StatusFetcher опрашивает провайдера о текущем статусе платежа.
type StatusFetcher interface {
	GetPaymentStatus(ctx context.Context, paymentID string) (string, error)
}

// Granter активирует подписку после подтверждения оплаты.
type Granter interface {
	GrantSubscription(ctx context.Context, chatID int64, months int, now time.Time) (time.Time, error)
}

// Config интервалы работы воркера.
type Config struct {
	PollInterval time.Duration // Период между проходами сверки
	GracePeriod  time.Duration // Сколько ждать webhook, прежде чем опрашивать самим
	IntentMaxAge time.Duration // После этого возраста незавершённое намерение истекает
}

// Reconciler фоновый воркер сверки платежей.
type Reconciler struct {
	log      *slog.Logger
	repo     Repository
	provider StatusFetcher
	granter  Granter
	cfg      Config
}

// New конструктор Reconciler.
func New(log *slog.Logger, repo Repository, provider StatusFetcher, granter Granter, cfg Config) *Reconciler {
	return &Reconciler{log: log, repo: repo, provider: provider, granter: granter, cfg: cfg}
}

// Run крутит проходы сверки до отмены контекста.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx, time.Now()); err != nil {
				r.log.Error("reconciliation pass failed", sl.Err(err))
			}
		}
	}
}

// ReconcileOnce один проход: собрать намерения с неприменённым колбэком или
// истёкшим грейс-периодом и довести каждое до терминального статуса.
// Ошибка по одному намерению не прерывает проход.
func (r *Reconciler) ReconcileOnce(ctx context.Context, now time.Time) error {
	const op = "reconciler.ReconcileOnce"

	intents, err := r.repo.ListIntentsForReconciliation(ctx, now.Add(-r.cfg.GracePeriod))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, intent := range intents {
		if err := r.reconcileIntent(ctx, intent, now); err != nil {
			r.log.Error("failed to reconcile intent", sl.Err(err),
				slog.String("intent_id", intent.IntentID))
		}
	}
	return nil
}

func (r *Reconciler) reconcileIntent(ctx context.Context, intent *models.PaymentIntent, now time.Time) error {
	const op = "reconciler.reconcileIntent"

	// Уже подтверждённое намерение без записанной активации: грант упал
	// или процесс умер между двумя записями. Опрос не нужен, доводим грант.
	if intent.Status == models.IntentConfirmed {
		return r.confirm(ctx, intent, now)
	}

	status, err := r.providerStatus(ctx, intent)
	if err != nil {
		// Провайдер недоступен: слишком старое намерение истекает,
		// остальные подождут следующего прохода.
		if now.Sub(intent.CreatedAt) > r.cfg.IntentMaxAge {
			return r.expire(ctx, intent)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	switch status {
	case providerSucceeded:
		return r.confirm(ctx, intent, now)
	case providerCanceled:
		_, err := r.repo.MarkIntentTerminal(ctx, intent.IntentID, models.IntentFailed, status)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	default:
		if now.Sub(intent.CreatedAt) > r.cfg.IntentMaxAge {
			return r.expire(ctx, intent)
		}
		return nil
	}
}

// providerStatus берёт статус из webhook-колбэка, если он есть, иначе
// опрашивает провайдера.
func (r *Reconciler) providerStatus(ctx context.Context, intent *models.PaymentIntent) (string, error) {
	if intent.ReportedStatus != nil {
		return *intent.ReportedStatus, nil
	}
	return r.provider.GetPaymentStatus(ctx, intent.IntentID)
}

// confirm переводит намерение в confirmed и активирует подписку. Две записи
// не атомарны, поэтому между ними намерение остаётся видимым для сверки
// (confirmed без granted_at): упавший грант повторится на следующем проходе.
// Условная запись granted_at пропускает ровно одного победителя, поэтому
// уведомление об активации случается не больше одного раза на платёж.
func (r *Reconciler) confirm(ctx context.Context, intent *models.PaymentIntent, now time.Time) error {
	const op = "reconciler.confirm"

	if intent.Status == models.IntentCreated {
		won, err := r.repo.MarkIntentTerminal(ctx, intent.IntentID, models.IntentConfirmed, providerSucceeded)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !won {
			return nil
		}
	}

	until, err := r.granter.GrantSubscription(ctx, intent.ChatID, intent.Months, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	granted, err := r.repo.MarkIntentGranted(ctx, intent.IntentID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !granted {
		return nil
	}

	metrics.PaymentsConfirmed.Inc()
	r.log.Info("payment confirmed",
		slog.String("intent_id", intent.IntentID),
		slog.Int64("chat_id", intent.ChatID),
		slog.Time("until", until))

	reminder := &models.Reminder{
		ChatID:  intent.ChatID,
		Kind:    models.ReminderActivated,
		Message: fmt.Sprintf("Подписка активирована на %s 💎", monthsText(intent.Months)),
		DueAt:   now,
	}
	if err := r.repo.CreateReminder(ctx, reminder); err != nil {
		r.log.Error("failed to schedule activation notice", sl.Err(err),
			slog.String("intent_id", intent.IntentID))
	}
	return nil
}

func (r *Reconciler) expire(ctx context.Context, intent *models.PaymentIntent) error {
	const op = "reconciler.expire"
	if _, err := r.repo.MarkIntentTerminal(ctx, intent.IntentID, models.IntentExpired, intent.ProviderStatus); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.log.Info("intent expired", slog.String("intent_id", intent.IntentID))
	return nil
}

func monthsText(months int) string {
	switch months {
	case 1:
		return "1 месяц"
	case 6:
		return "6 месяцев"
	case 12:
		return "12 месяцев"
	}
	return fmt.Sprintf("%d мес.", months)
}

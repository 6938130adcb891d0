// Package entitlement решает, имеет ли пользователь право запустить сценарий,
// и ведёт учёт бесплатных попыток и подписок.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/models"
)

// Причины отказа в Decision.Reason.
const (
	ReasonQuotaExhausted = "quota_exhausted"
)

// Decision результат проверки права на запуск сценария.
type Decision struct {
	Allowed        bool
	Reason         string // заполнено только при отказе
	BySubscription bool   // true, если допуск дала подписка, а не бесплатная попытка
}

// LedgerRepository описывает необходимые методы работы с хранилищем.
type LedgerRepository interface {
	ConsumeFreeQuota(ctx context.Context, chatID int64, kind models.ScenarioKind) (bool, error)
	ResetFreeQuota(ctx context.Context, chatID int64, limits models.QuotaCounters, boundary time.Time) (bool, error)
	GrantSubscription(ctx context.Context, chatID int64, until time.Time) error
	MarkSubscriptionExpired(ctx context.Context, chatID int64, now time.Time) error
}

// Ledger сервисный слой учёта прав.
type Ledger struct {
	log    *slog.Logger
	repo   LedgerRepository
	limits models.QuotaCounters
}

// New конструктор Ledger.
func New(log *slog.Logger, repo LedgerRepository, limits models.QuotaCounters) *Ledger {
	return &Ledger{log: log, repo: repo, limits: limits}
}

// CheckAndConsume проверяет право пользователя на запуск сценария kind и при
// допуске по бесплатной квоте сразу списывает попытку. Проверка и списание
// выполняются одним условным UPDATE, поэтому две конкурентные проверки не
// спишут одну попытку дважды. Отказ по квоте — не ошибка, а Decision.
func (l *Ledger) CheckAndConsume(ctx context.Context, user *models.User, kind models.ScenarioKind, now time.Time) (Decision, error) {
	const op = "entitlement.CheckAndConsume"

	if user.SubscriptionActiveAt(now) {
		return Decision{Allowed: true, BySubscription: true}, nil
	}

	// Запись со статусом active, но истёкшим сроком, лениво переводится
	// в expired. Условный UPDATE не затронет только что продлённую подписку.
	if user.SubscriptionStatus == models.SubscriptionActive {
		if err := l.repo.MarkSubscriptionExpired(ctx, user.ChatID, now); err != nil {
			l.log.Error("failed to mark subscription expired", sl.Err(err),
				slog.Int64("chat_id", user.ChatID))
		}
	}

	boundary := dayStart(now)
	if user.QuotaResetAt.Before(boundary) {
		reset, err := l.repo.ResetFreeQuota(ctx, user.ChatID, l.limits, boundary)
		if err != nil {
			return Decision{}, fmt.Errorf("%s: %w", op, err)
		}
		if reset {
			user.FreeQuota = l.limits
			user.QuotaResetAt = boundary
		}
	}

	consumed, err := l.repo.ConsumeFreeQuota(ctx, user.ChatID, kind)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	if !consumed {
		return Decision{Allowed: false, Reason: ReasonQuotaExhausted}, nil
	}

	if count := user.FreeQuota.ForKind(kind); count > 0 {
		user.FreeQuota = decremented(user.FreeQuota, kind)
	}
	return Decision{Allowed: true}, nil
}

// GrantSubscription активирует подписку на months месяцев от момента now.
// Продление от момента подтверждения, а не от конца прошлого периода.
func (l *Ledger) GrantSubscription(ctx context.Context, chatID int64, months int, now time.Time) (time.Time, error) {
	const op = "entitlement.GrantSubscription"

	until := now.AddDate(0, months, 0)
	if err := l.repo.GrantSubscription(ctx, chatID, until); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	l.log.Info("subscription granted",
		slog.Int64("chat_id", chatID),
		slog.Int("months", months),
		slog.Time("until", until))
	return until, nil
}

// dayStart возвращает начало календарных суток момента t в UTC.
func dayStart(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func decremented(q models.QuotaCounters, kind models.ScenarioKind) models.QuotaCounters {
	switch kind {
	case models.KindTarotSingle:
		q.TarotSingle--
	case models.KindTarotSpread:
		q.TarotSpread--
	case models.KindNumerology:
		q.Numerology--
	case models.KindHoroscope:
		q.Horoscope--
	case models.KindCompanion:
		q.Companion--
	}
	return q
}

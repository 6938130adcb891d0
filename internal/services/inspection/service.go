// Package inspection читающая поверхность панели оператора: снимок
// пользователя и агрегаты. Ничего не мутирует, горячие ответы кэширует.
package inspection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/models"
)

// ErrUserNotFound пользователь не найден.
var ErrUserNotFound = errors.New("user not found")

// Время жизни кэшированных ответов.
const (
	snapshotTTL = 30 * time.Second
	statsTTL    = time.Minute
)

const statsWindowDays = 30

// Repository читающие методы хранилища.
type Repository interface {
	GetUser(ctx context.Context, chatID int64) (*models.User, error)
	GetSession(ctx context.Context, chatID int64) (*models.Session, error)
	ListReadings(ctx context.Context, chatID int64, limit int) ([]*models.Reading, error)
	CountUsers(ctx context.Context) (int, error)
	CountActiveSubscriptions(ctx context.Context, now time.Time) (int, error)
	CountConfirmedPayments(ctx context.Context) (int, int, error)
	CountReadingsByDay(ctx context.Context, from time.Time) ([]models.UsageStat, error)
}

// Cache кэш JSON-значений.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// UserSnapshot снимок пользователя для панели: права, сессия, история.
type UserSnapshot struct {
	ChatID                int64                `json:"chat_id"`
	Name                  string               `json:"name"`
	SubscriptionStatus    string               `json:"subscription_status"`
	SubscriptionExpiresAt *time.Time           `json:"subscription_expires_at,omitempty"`
	FreeQuota             models.QuotaCounters `json:"free_quota"`
	QuotaResetAt          time.Time            `json:"quota_reset_at"`
	LastActivityAt        time.Time            `json:"last_activity_at"`
	SessionState          models.SessionState  `json:"session_state"`
	SessionKind           models.ScenarioKind  `json:"session_kind,omitempty"`
	Readings              []*models.Reading    `json:"readings"`
}

// Stats агрегаты панели.
type Stats struct {
	TotalUsers          int                `json:"total_users"`
	ActiveSubscriptions int                `json:"active_subscriptions"`
	ConfirmedPayments   int                `json:"confirmed_payments"`
	RevenueRub          int                `json:"revenue_rub"`
	Usage               []models.UsageStat `json:"usage"`
}

// Service сервис панели инспекции.
type Service struct {
	log   *slog.Logger
	repo  Repository
	cache Cache
}

// New конструктор Service.
func New(log *slog.Logger, repo Repository, cache Cache) *Service {
	return &Service{log: log, repo: repo, cache: cache}
}

// UserSnapshot собирает снимок пользователя без мутаций его состояния.
func (s *Service) UserSnapshot(ctx context.Context, chatID int64) (*UserSnapshot, error) {
	const op = "inspection.UserSnapshot"

	key := fmt.Sprintf("inspection:user:%d", chatID)
	var cached UserSnapshot
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.log.Warn("cache read failed", sl.Err(err))
	} else if hit {
		return &cached, nil
	}

	user, err := s.repo.GetUser(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}

	snapshot := &UserSnapshot{
		ChatID:                user.ChatID,
		Name:                  user.Name,
		SubscriptionStatus:    user.SubscriptionStatus,
		SubscriptionExpiresAt: user.SubscriptionExpiresAt,
		FreeQuota:             user.FreeQuota,
		QuotaResetAt:          user.QuotaResetAt,
		LastActivityAt:        user.LastActivityAt,
		SessionState:          models.StateIdle,
	}

	session, err := s.repo.GetSession(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if session != nil {
		snapshot.SessionState = session.State
		snapshot.SessionKind = session.Kind
	}

	readings, err := s.repo.ListReadings(ctx, chatID, 20)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	snapshot.Readings = readings

	if err := s.cache.Set(ctx, key, snapshot, snapshotTTL); err != nil {
		s.log.Warn("cache write failed", sl.Err(err))
	}
	return snapshot, nil
}

// Stats возвращает агрегаты за последние 30 дней.
func (s *Service) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	const op = "inspection.Stats"

	const key = "inspection:stats"
	var cached Stats
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.log.Warn("cache read failed", sl.Err(err))
	} else if hit {
		return &cached, nil
	}

	total, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	active, err := s.repo.CountActiveSubscriptions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payments, revenue, err := s.repo.CountConfirmedPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	usage, err := s.repo.CountReadingsByDay(ctx, now.AddDate(0, 0, -statsWindowDays))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	stats := &Stats{
		TotalUsers:          total,
		ActiveSubscriptions: active,
		ConfirmedPayments:   payments,
		RevenueRub:          revenue,
		Usage:               usage,
	}
	if err := s.cache.Set(ctx, key, stats, statsTTL); err != nil {
		s.log.Warn("cache write failed", sl.Err(err))
	}
	return stats, nil
}

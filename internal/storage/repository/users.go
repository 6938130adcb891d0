package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/q133ss/elza-bot/internal/models"
)

// quotaColumns сопоставляет вид сценария столбцу счётчика бесплатных попыток.
// Список закрытый: имя столбца никогда не берётся из пользовательского ввода.
var quotaColumns = map[models.ScenarioKind]string{
	models.KindTarotSingle: "free_tarot_single",
	models.KindTarotSpread: "free_tarot_spread",
	models.KindNumerology:  "free_numerology",
	models.KindHoroscope:   "free_horoscope",
	models.KindCompanion:   "free_companion",
}

// GetOrCreateUser возвращает пользователя, создавая запись при первом событии.
func (s *Storage) GetOrCreateUser(ctx context.Context, chatID int64) (*models.User, error) {
	const op = "storage.GetOrCreateUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (chat_id) VALUES ($1) ON CONFLICT (chat_id) DO NOTHING`, chatID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `SELECT chat_id, COALESCE(name, ''), COALESCE(surname, ''), birth_date,
				COALESCE(birth_time, ''), subscription_status, subscription_expires_at,
				free_tarot_single, free_tarot_spread, free_numerology, free_horoscope,
				free_companion, quota_reset_at, last_activity_at, created_at
			  FROM users WHERE chat_id = $1`
	row := s.DB.QueryRowContext(ctx, query, chatID)

	var u models.User
	if err := row.Scan(&u.ChatID, &u.Name, &u.Surname, &u.BirthDate, &u.BirthTime,
		&u.SubscriptionStatus, &u.SubscriptionExpiresAt,
		&u.FreeQuota.TarotSingle, &u.FreeQuota.TarotSpread, &u.FreeQuota.Numerology,
		&u.FreeQuota.Horoscope, &u.FreeQuota.Companion,
		&u.QuotaResetAt, &u.LastActivityAt, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

// GetUser возвращает пользователя без создания записи, nil если не найден.
// Используется читающими путями, которые не должны мутировать состояние.
func (s *Storage) GetUser(ctx context.Context, chatID int64) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT chat_id, COALESCE(name, ''), COALESCE(surname, ''), birth_date,
				COALESCE(birth_time, ''), subscription_status, subscription_expires_at,
				free_tarot_single, free_tarot_spread, free_numerology, free_horoscope,
				free_companion, quota_reset_at, last_activity_at, created_at
			  FROM users WHERE chat_id = $1`
	row := s.DB.QueryRowContext(ctx, query, chatID)

	var u models.User
	err := row.Scan(&u.ChatID, &u.Name, &u.Surname, &u.BirthDate, &u.BirthTime,
		&u.SubscriptionStatus, &u.SubscriptionExpiresAt,
		&u.FreeQuota.TarotSingle, &u.FreeQuota.TarotSpread, &u.FreeQuota.Numerology,
		&u.FreeQuota.Horoscope, &u.FreeQuota.Companion,
		&u.QuotaResetAt, &u.LastActivityAt, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

// SaveUserProfile сохраняет поля онбординга и отметку активности.
func (s *Storage) SaveUserProfile(ctx context.Context, u *models.User) error {
	const op = "storage.SaveUserProfile"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET name = $1, surname = $2, birth_date = $3, birth_time = $4,
			      last_activity_at = now()
			  WHERE chat_id = $5`
	_, err := s.DB.ExecContext(ctx, query, u.Name, u.Surname, u.BirthDate, u.BirthTime, u.ChatID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ConsumeFreeQuota атомарно списывает одну бесплатную попытку вида kind.
// Возвращает false, если счётчик уже нулевой: проверка и декремент — один
// условный UPDATE, двойное списание при гонке невозможно.
func (s *Storage) ConsumeFreeQuota(ctx context.Context, chatID int64, kind models.ScenarioKind) (bool, error) {
	const op = "storage.ConsumeFreeQuota"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	column, ok := quotaColumns[kind]
	if !ok {
		return false, fmt.Errorf("%s: unknown scenario kind %q", op, kind)
	}

	query := fmt.Sprintf(`UPDATE users SET %s = %s - 1, last_activity_at = now()
			  WHERE chat_id = $1 AND %s > 0`, column, column, column)
	result, err := s.DB.ExecContext(ctx, query, chatID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// ResetFreeQuota выставляет счётчики в конфигурационные максимумы и сдвигает
// границу периода. Условие по quota_reset_at делает ленивый сброс идемпотентным:
// две конкурентные попытки на одной границе сбросят счётчики один раз.
func (s *Storage) ResetFreeQuota(ctx context.Context, chatID int64, limits models.QuotaCounters, boundary time.Time) (bool, error) {
	const op = "storage.ResetFreeQuota"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET free_tarot_single = $1, free_tarot_spread = $2, free_numerology = $3,
			      free_horoscope = $4, free_companion = $5, quota_reset_at = $6
			  WHERE chat_id = $7 AND quota_reset_at < $6`
	result, err := s.DB.ExecContext(ctx, query,
		limits.TarotSingle, limits.TarotSpread, limits.Numerology,
		limits.Horoscope, limits.Companion, boundary, chatID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// GrantSubscription активирует подписку до указанного срока.
func (s *Storage) GrantSubscription(ctx context.Context, chatID int64, until time.Time) error {
	const op = "storage.GrantSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET subscription_status = $1, subscription_expires_at = $2
			  WHERE chat_id = $3`
	_, err := s.DB.ExecContext(ctx, query, models.SubscriptionActive, until, chatID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkSubscriptionExpired помечает просроченную подписку. Условие по сроку
// не даёт затереть только что продлённую запись.
func (s *Storage) MarkSubscriptionExpired(ctx context.Context, chatID int64, now time.Time) error {
	const op = "storage.MarkSubscriptionExpired"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET subscription_status = $1
			  WHERE chat_id = $2 AND subscription_status = $3
			    AND subscription_expires_at IS NOT NULL AND subscription_expires_at <= $4`
	_, err := s.DB.ExecContext(ctx, query, models.SubscriptionExpired, chatID, models.SubscriptionActive, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetSubscriptionPending отмечает, что пользователь ушёл на оплату.
func (s *Storage) SetSubscriptionPending(ctx context.Context, chatID int64) error {
	const op = "storage.SetSubscriptionPending"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET subscription_status = $1
			  WHERE chat_id = $2 AND subscription_status IN ($3, $4)`
	_, err := s.DB.ExecContext(ctx, query,
		models.SubscriptionPending, chatID, models.SubscriptionNone, models.SubscriptionExpired)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CountUsers возвращает общее число пользователей.
func (s *Storage) CountUsers(ctx context.Context) (int, error) {
	const op = "storage.CountUsers"
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// CountActiveSubscriptions возвращает число действующих подписок на момент now.
func (s *Storage) CountActiveSubscriptions(ctx context.Context, now time.Time) (int, error) {
	const op = "storage.CountActiveSubscriptions"
	var count int
	query := `SELECT COUNT(*) FROM users
			  WHERE subscription_status = $1 AND subscription_expires_at > $2`
	err := s.DB.QueryRowContext(ctx, query, models.SubscriptionActive, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

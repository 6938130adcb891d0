package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/q133ss/elza-bot/internal/models"
)

// CreateIntent сохраняет новое платёжное намерение в статусе created.
func (s *Storage) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	const op = "storage.CreateIntent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments
				(intent_id, chat_id, amount_rub, months, status, provider_status, confirmation_url, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, now())`
	_, err := s.DB.ExecContext(ctx, query,
		intent.IntentID, intent.ChatID, intent.AmountRub, intent.Months,
		models.IntentCreated, intent.ProviderStatus, intent.ConfirmationURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetIntent возвращает намерение по идентификатору, nil если его нет.
func (s *Storage) GetIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	const op = "storage.GetIntent"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT intent_id, chat_id, amount_rub, months, status,
				COALESCE(provider_status, ''), reported_status, COALESCE(confirmation_url, ''),
				created_at, confirmed_at, granted_at
			  FROM payments WHERE intent_id = $1`
	row := s.DB.QueryRowContext(ctx, query, intentID)

	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return intent, nil
}

// FindPendingIntent возвращает последнее незавершённое намерение пользователя.
func (s *Storage) FindPendingIntent(ctx context.Context, chatID int64) (*models.PaymentIntent, error) {
	const op = "storage.FindPendingIntent"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT intent_id, chat_id, amount_rub, months, status,
				COALESCE(provider_status, ''), reported_status, COALESCE(confirmation_url, ''),
				created_at, confirmed_at, granted_at
			  FROM payments
			  WHERE chat_id = $1 AND status = $2
			  ORDER BY created_at DESC
			  LIMIT 1`
	row := s.DB.QueryRowContext(ctx, query, chatID, models.IntentCreated)

	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return intent, nil
}

// ReportProviderStatus записывает статус из webhook-колбэка. Пишется только
// для ещё не терминальных намерений: колбэк по завершённому платежу — no-op.
func (s *Storage) ReportProviderStatus(ctx context.Context, intentID, status string) error {
	const op = "storage.ReportProviderStatus"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments SET reported_status = $1
			  WHERE intent_id = $2 AND status = $3`
	_, err := s.DB.ExecContext(ctx, query, status, intentID, models.IntentCreated)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListIntentsForReconciliation возвращает намерения, требующие внимания
// воркера: created с неприменённым колбэком либо истёкшим грейс-периодом,
// и confirmed, по которым активация подписки ещё не записана (грант упал
// или процесс умер между двумя записями).
func (s *Storage) ListIntentsForReconciliation(ctx context.Context, createdBefore time.Time) ([]*models.PaymentIntent, error) {
	const op = "storage.ListIntentsForReconciliation"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT intent_id, chat_id, amount_rub, months, status,
				COALESCE(provider_status, ''), reported_status, COALESCE(confirmation_url, ''),
				created_at, confirmed_at, granted_at
			  FROM payments
			  WHERE (status = $1 AND (reported_status IS NOT NULL OR created_at < $2))
			     OR (status = $3 AND granted_at IS NULL)
			  ORDER BY created_at`
	rows, err := s.DB.QueryContext(ctx, query, models.IntentCreated, createdBefore, models.IntentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkIntentTerminal переводит намерение в терминальный статус. Условие по
// текущему статусу created делает запись монотонной: подтверждённый платёж
// нельзя перезаписать failed из устаревшего опроса, а повторная обработка
// возвращает false.
func (s *Storage) MarkIntentTerminal(ctx context.Context, intentID, status, providerStatus string) (bool, error) {
	const op = "storage.MarkIntentTerminal"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments
			  SET status = $1, provider_status = $2, reported_status = NULL,
			      confirmed_at = CASE WHEN $1 = $3 THEN now() ELSE confirmed_at END
			  WHERE intent_id = $4 AND status = $5`
	result, err := s.DB.ExecContext(ctx, query,
		status, providerStatus, models.IntentConfirmed, intentID, models.IntentCreated)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// MarkIntentGranted записывает, что подписка по подтверждённому платежу
// активирована. Условие granted_at IS NULL пропускает ровно одного
// победителя: именно он шлёт уведомление об активации.
func (s *Storage) MarkIntentGranted(ctx context.Context, intentID string) (bool, error) {
	const op = "storage.MarkIntentGranted"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments SET granted_at = now()
			  WHERE intent_id = $1 AND status = $2 AND granted_at IS NULL`
	result, err := s.DB.ExecContext(ctx, query, intentID, models.IntentConfirmed)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// CountConfirmedPayments возвращает число подтверждённых платежей и их сумму.
func (s *Storage) CountConfirmedPayments(ctx context.Context) (int, int, error) {
	const op = "storage.CountConfirmedPayments"
	var count, total int
	query := `SELECT COUNT(*), COALESCE(SUM(amount_rub), 0) FROM payments WHERE status = $1`
	err := s.DB.QueryRowContext(ctx, query, models.IntentConfirmed).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := row.Scan(&intent.IntentID, &intent.ChatID, &intent.AmountRub, &intent.Months,
		&intent.Status, &intent.ProviderStatus, &intent.ReportedStatus,
		&intent.ConfirmationURL, &intent.CreatedAt, &intent.ConfirmedAt, &intent.GrantedAt)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/q133ss/elza-bot/internal/models"
)

// CreateReminder сохраняет запланированное напоминание.
func (s *Storage) CreateReminder(ctx context.Context, r *models.Reminder) error {
	const op = "storage.CreateReminder"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO reminders (chat_id, kind, message, due_at)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id`
	err := s.DB.QueryRowContext(ctx, query, r.ChatID, r.Kind, r.Message, r.DueAt).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HasRetentionReminders сообщает, запланирована ли уже догоняющая серия
// для пользователя. Серия создаётся не больше одного раза.
func (s *Storage) HasRetentionReminders(ctx context.Context, chatID int64) (bool, error) {
	const op = "storage.HasRetentionReminders"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM reminders WHERE chat_id = $1 AND kind = $2)`
	err := s.DB.QueryRowContext(ctx, query, chatID, models.ReminderRetention).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// ListDueReminders возвращает недоставленные напоминания со сроком не позже now.
func (s *Storage) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	const op = "storage.ListDueReminders"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, chat_id, kind, message, due_at, delivered, delivered_at
			  FROM reminders
			  WHERE delivered = FALSE AND due_at <= $1
			  ORDER BY due_at
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Reminder
	for rows.Next() {
		var r models.Reminder
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Kind, &r.Message,
			&r.DueAt, &r.Delivered, &r.DeliveredAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkReminderDelivered выставляет флаг доставки. Условие delivered = FALSE
// гарантирует ровно один переход false→true даже при пересекающихся тиках
// планировщика; повторная отметка возвращает false.
func (s *Storage) MarkReminderDelivered(ctx context.Context, id int64) (bool, error) {
	const op = "storage.MarkReminderDelivered"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE reminders SET delivered = TRUE, delivered_at = now()
			  WHERE id = $1 AND delivered = FALSE`
	result, err := s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/q133ss/elza-bot/internal/models"
)

// CreateReading сохраняет результат завершённого сценария.
func (s *Storage) CreateReading(ctx context.Context, r *models.Reading) error {
	const op = "storage.CreateReading"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	meta, err := json.Marshal(r.Meta)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO readings (chat_id, kind, question, result, meta, created_at)
			  VALUES ($1, $2, $3, $4, $5, now())
			  RETURNING id`
	err = s.DB.QueryRowContext(ctx, query, r.ChatID, r.Kind, r.Question, r.Result, meta).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CountReadingsByDay агрегирует число сценариев по видам и дням, начиная с from.
func (s *Storage) CountReadingsByDay(ctx context.Context, from time.Time) ([]models.UsageStat, error) {
	const op = "storage.CountReadingsByDay"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT to_char(created_at, 'YYYY-MM-DD') AS day, kind, COUNT(*)
			  FROM readings
			  WHERE created_at >= $1
			  GROUP BY day, kind
			  ORDER BY day DESC, kind`
	rows, err := s.DB.QueryContext(ctx, query, from)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.UsageStat
	for rows.Next() {
		var stat models.UsageStat
		if err := rows.Scan(&stat.Day, &stat.Kind, &stat.Count); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListReadings возвращает последние расклады пользователя для панели инспекции.
func (s *Storage) ListReadings(ctx context.Context, chatID int64, limit int) ([]*models.Reading, error) {
	const op = "storage.ListReadings"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, chat_id, kind, question, result, meta, created_at
			  FROM readings
			  WHERE chat_id = $1
			  ORDER BY created_at DESC
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Reading
	for rows.Next() {
		var r models.Reading
		var rawMeta []byte
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Kind, &r.Question, &r.Result,
			&rawMeta, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(rawMeta) > 0 {
			_ = json.Unmarshal(rawMeta, &r.Meta)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/q133ss/elza-bot/internal/models"
)

// GetOrCreateSession возвращает сессию диалога, создавая её в состоянии Idle.
func (s *Storage) GetOrCreateSession(ctx context.Context, chatID int64) (*models.Session, error) {
	const op = "storage.GetOrCreateSession"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sessions (chat_id) VALUES ($1) ON CONFLICT (chat_id) DO NOTHING`, chatID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `SELECT chat_id, state, COALESCE(kind, ''), step, data, generation, updated_at
			  FROM sessions WHERE chat_id = $1`
	row := s.DB.QueryRowContext(ctx, query, chatID)

	var sess models.Session
	var rawData []byte
	if err := row.Scan(&sess.ChatID, &sess.State, &sess.Kind, &sess.Step,
		&rawData, &sess.Generation, &sess.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &sess.Data); err != nil {
			sess.Data = map[string]string{}
		}
	}
	return &sess, nil
}

// GetSession возвращает сессию без создания записи, nil если не найдена.
func (s *Storage) GetSession(ctx context.Context, chatID int64) (*models.Session, error) {
	const op = "storage.GetSession"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT chat_id, state, COALESCE(kind, ''), step, data, generation, updated_at
			  FROM sessions WHERE chat_id = $1`
	row := s.DB.QueryRowContext(ctx, query, chatID)

	var sess models.Session
	var rawData []byte
	err := row.Scan(&sess.ChatID, &sess.State, &sess.Kind, &sess.Step,
		&rawData, &sess.Generation, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(rawData) > 0 {
		_ = json.Unmarshal(rawData, &sess.Data)
	}
	return &sess, nil
}

// SaveSession сохраняет состояние сессии после перехода автомата.
func (s *Storage) SaveSession(ctx context.Context, sess *models.Session) error {
	const op = "storage.SaveSession"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	data, err := json.Marshal(sess.Data)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE sessions
			  SET state = $1, kind = $2, step = $3, data = $4,
			      generation = $5, updated_at = now()
			  WHERE chat_id = $6`
	_, err = s.DB.ExecContext(ctx, query,
		sess.State, sess.Kind, sess.Step, data, sess.Generation, sess.ChatID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ResetSessionIfGeneration сбрасывает сессию в Idle, только если её поколение
// совпадает с ожидаемым. Несовпадение означает, что пользователь успел
// продвинуть диалог и тайм-аут устарел.
func (s *Storage) ResetSessionIfGeneration(ctx context.Context, chatID, generation int64) (bool, error) {
	const op = "storage.ResetSessionIfGeneration"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE sessions
			  SET state = $1, kind = NULL, step = 0, data = '{}'::jsonb,
			      generation = generation + 1, updated_at = now()
			  WHERE chat_id = $2 AND generation = $3`
	result, err := s.DB.ExecContext(ctx, query, models.StateIdle, chatID, generation)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// ListStaleSessions возвращает сессии, ожидающие ввода дольше порога.
func (s *Storage) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	const op = "storage.ListStaleSessions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT chat_id, state, COALESCE(kind, ''), step, data, generation, updated_at
			  FROM sessions
			  WHERE state = $1 AND updated_at < $2`
	rows, err := s.DB.QueryContext(ctx, query, models.StateAwaitingInput, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Session
	for rows.Next() {
		var sess models.Session
		var rawData []byte
		if err := rows.Scan(&sess.ChatID, &sess.State, &sess.Kind, &sess.Step,
			&rawData, &sess.Generation, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(rawData) > 0 {
			_ = json.Unmarshal(rawData, &sess.Data)
		}
		result = append(result, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

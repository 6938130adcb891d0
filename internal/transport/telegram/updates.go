package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/models"
)

// Update входящее обновление Bot API в нужном боту объёме.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Date int64  `json:"date"`
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// GetUpdates выполняет long poll начиная с offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	const op = "telegram.GetUpdates"

	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d&offset=%d",
		c.apiURL, c.token, c.pollTimeout, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var parsed apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !parsed.Ok {
		return nil, fmt.Errorf("%s: api error: %s", op, parsed.Description)
	}

	var updates []Update
	if err := json.Unmarshal(parsed.Result, &updates); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updates, nil
}

// Poll крутит long poll до отмены контекста, передавая текстовые сообщения в
// handle. Смещение сохраняется после каждой пачки, чтобы рестарт не
// перечитывал уже обработанные обновления.
func (c *Client) Poll(ctx context.Context, log *slog.Logger, offsets *OffsetStore, handle func(models.InboundEvent)) {
	offset := offsets.Load()

	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := c.GetUpdates(ctx, offset)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("getUpdates failed", sl.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			handle(models.InboundEvent{
				ChatID:    update.Message.Chat.ID,
				Text:      update.Message.Text,
				Timestamp: time.Unix(update.Message.Date, 0),
			})
		}
		if len(updates) > 0 {
			if err := offsets.Save(offset); err != nil {
				log.Error("failed to persist update offset", sl.Err(err))
			}
		}
	}
}

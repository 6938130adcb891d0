// Package telegram транспорт сообщений: отправка ответов с reply-клавиатурами
// и приём входящих через long poll getUpdates.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/q133ss/elza-bot/internal/config"
	"github.com/q133ss/elza-bot/internal/models"
)

const defaultAPIURL = "https://api.telegram.org"

type sendMessageRequest struct {
	ChatID      int64          `json:"chat_id"`
	Text        string         `json:"text"`
	ParseMode   string         `json:"parse_mode"`
	ReplyMarkup *replyKeyboard `json:"reply_markup,omitempty"`
}

type replyKeyboard struct {
	Keyboard       [][]keyboardButton `json:"keyboard"`
	ResizeKeyboard bool               `json:"resize_keyboard"`
}

type keyboardButton struct {
	Text string `json:"text"`
}

type apiResponse struct {
	Ok          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Client HTTP-клиент Telegram Bot API.
type Client struct {
	token       string
	apiURL      string
	pollTimeout int
	client      *http.Client
}

// New конструктор Client.
func New(cfg config.Telegram) *Client {
	return &Client{
		token:       cfg.Token,
		apiURL:      defaultAPIURL,
		pollTimeout: cfg.PollTimeoutSec,
		client:      &http.Client{Timeout: cfg.TimeoutTg},
	}
}

// Send отправляет сообщение с HTML-разметкой и, если задана, reply-клавиатурой.
func (c *Client) Send(ctx context.Context, msg models.OutboundMessage) error {
	const op = "telegram.Send"

	body := sendMessageRequest{
		ChatID:    msg.ChatID,
		Text:      msg.Text,
		ParseMode: "HTML",
	}
	if len(msg.Keyboard) > 0 {
		markup := &replyKeyboard{ResizeKeyboard: true}
		for _, row := range msg.Keyboard {
			var buttons []keyboardButton
			for _, label := range row {
				buttons = append(buttons, keyboardButton{Text: label})
			}
			markup.Keyboard = append(markup.Keyboard, buttons)
		}
		body.ReplyMarkup = markup
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.token), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var parsed apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !parsed.Ok {
		return fmt.Errorf("%s: api error: %s", op, parsed.Description)
	}
	return nil
}

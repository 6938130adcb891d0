// Package completion клиент генерации текста через chat-completions API.
// Временные сбои (сеть, 429, 5xx) повторяются с экспоненциальной паузой,
// остальные ошибки считаются постоянными и отдаются сразу.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/q133ss/elza-bot/internal/config"
)

// ErrEmptyCompletion провайдер вернул пустой ответ.
var ErrEmptyCompletion = errors.New("completion: empty response")

const baseBackoff = 500 * time.Millisecond

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client клиент chat-completions API.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	maxAttempts int
	client      *http.Client
}

// New конструктор Client.
func New(cfg config.OpenAI) *Client {
	return &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxAttempts: cfg.MaxAttempts,
		client:      &http.Client{Timeout: cfg.TimeoutAI},
	}
}

// Complete возвращает текст ответа модели на промпт. Пустой systemPrompt
// опускает системное сообщение.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	const op = "completion.Complete"

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(baseBackoff << (attempt - 1)):
			}
		}

		text, retryable, err := c.complete(ctx, systemPrompt, userPrompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", fmt.Errorf("%s: %w", op, lastErr)
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (text string, retryable bool, err error) {
	var messages []chatMessage
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Сетевые ошибки и тайм-ауты временные.
		return "", true, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, err
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", false, ErrEmptyCompletion
	}
	return parsed.Choices[0].Message.Content, false, nil
}

package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/q133ss/elza-bot/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := New(config.OpenAI{
		APIKey:      "test-key",
		Model:       "gpt-3.5-turbo",
		BaseURL:     server.URL,
		Temperature: 0.7,
		MaxTokens:   1200,
		TimeoutAI:   5 * time.Second,
		MaxAttempts: 3,
	})
	return client, server
}

func completionBody(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return body
}

func TestCompleteReturnsText(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Equal(t, "user", req.Messages[1].Role)

		_, _ = w.Write(completionBody("Карты говорят: всё будет хорошо."))
	})
	defer server.Close()

	text, err := client.Complete(context.Background(), "Ты таролог.", "Сделай расклад.")

	require.NoError(t, err)
	require.Equal(t, "Карты говорят: всё будет хорошо.", text)
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(completionBody("Ответ с третьей попытки."))
	})
	defer server.Close()

	text, err := client.Complete(context.Background(), "", "вопрос")

	require.NoError(t, err)
	require.Equal(t, "Ответ с третьей попытки.", text)
	require.Equal(t, int32(3), calls.Load())
}

func TestCompleteGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer server.Close()

	_, err := client.Complete(context.Background(), "", "вопрос")

	require.Error(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestCompleteDoesNotRetryPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	defer server.Close()

	_, err := client.Complete(context.Background(), "", "вопрос")

	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	defer server.Close()

	_, err := client.Complete(context.Background(), "", "вопрос")

	require.ErrorIs(t, err, ErrEmptyCompletion)
}

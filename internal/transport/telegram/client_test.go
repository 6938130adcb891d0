package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/q133ss/elza-bot/internal/config"
	"github.com/q133ss/elza-bot/internal/models"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := New(config.Telegram{
		Token:          "123:abc",
		TimeoutTg:      5 * time.Second,
		PollTimeoutSec: 1,
	})
	client.apiURL = server.URL
	return client, server
}

func TestSendWithKeyboard(t *testing.T) {
	var got sendMessageRequest
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	})
	defer server.Close()

	err := client.Send(context.Background(), models.OutboundMessage{
		ChatID:   42,
		Text:     "Выбери раздел",
		Keyboard: [][]string{{"🃏 Расклад Таро", "🔢 Нумерология"}},
	})

	require.NoError(t, err)
	require.Equal(t, int64(42), got.ChatID)
	require.Equal(t, "HTML", got.ParseMode)
	require.NotNil(t, got.ReplyMarkup)
	require.True(t, got.ReplyMarkup.ResizeKeyboard)
	require.Equal(t, "🃏 Расклад Таро", got.ReplyMarkup.Keyboard[0][0].Text)
}

func TestSendReportsAPIError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	})
	defer server.Close()

	err := client.Send(context.Background(), models.OutboundMessage{ChatID: 1, Text: "hi"})

	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
}

func TestGetUpdates(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bot123:abc/getUpdates", r.URL.Path)
		require.Equal(t, "7", r.URL.Query().Get("offset"))
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":7,"message":{"date":1749556800,"text":"привет","chat":{"id":42}}},
			{"update_id":8,"message":{"date":1749556801,"text":"ещё","chat":{"id":42}}}
		]}`))
	})
	defer server.Close()

	updates, err := client.GetUpdates(context.Background(), 7)

	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.Equal(t, int64(42), updates[0].Message.Chat.ID)
	require.Equal(t, "привет", updates[0].Message.Text)
}

func TestOffsetStoreRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offset")
	store := NewOffsetStore(path)

	require.Equal(t, int64(0), store.Load())
	require.NoError(t, store.Save(99))

	fresh := NewOffsetStore(path)
	require.Equal(t, int64(99), fresh.Load())
}

package paymentwebhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) ReportProviderStatus(ctx context.Context, intentID, status string) error {
	args := m.Called(ctx, intentID, status)
	return args.Error(0)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	const secret = "webhook_secret"

	succeededBody := []byte(`{"event":"payment.succeeded","object":{"id":"pay-123","status":"succeeded"}}`)
	canceledBody := []byte(`{"event":"payment.canceled","object":{"id":"pay-456","status":"canceled"}}`)
	refundBody := []byte(`{"event":"payment.refunded","object":{"id":"pay-789","status":"refunded"}}`)

	tests := []struct {
		name           string
		body           []byte
		signature      string
		setupMock      func(*MockService)
		expectedStatus int
	}{
		{
			name:      "успешный платёж записывается",
			body:      succeededBody,
			signature: sign(secret, succeededBody),
			setupMock: func(m *MockService) {
				m.On("ReportProviderStatus", mock.Anything, "pay-123", "succeeded").Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:      "отменённый платёж записывается",
			body:      canceledBody,
			signature: sign(secret, canceledBody),
			setupMock: func(m *MockService) {
				m.On("ReportProviderStatus", mock.Anything, "pay-456", "canceled").Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "неизвестное событие игнорируется",
			body:           refundBody,
			signature:      sign(secret, refundBody),
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "неверная подпись",
			body:           succeededBody,
			signature:      "bm90LWEtc2lnbmF0dXJl",
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "подпись отсутствует",
			body:           succeededBody,
			signature:      "",
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "битый JSON",
			body:           []byte("not a json"),
			signature:      sign(secret, []byte("not a json")),
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:      "ошибка хранилища",
			body:      succeededBody,
			signature: sign(secret, succeededBody),
			setupMock: func(m *MockService) {
				m.On("ReportProviderStatus", mock.Anything, "pay-123", "succeeded").
					Return(errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			tt.setupMock(service)

			handler := New(logger, service, secret)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(tt.body))
			if tt.signature != "" {
				req.Header.Set("X-Api-Signature", tt.signature)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			service.AssertExpectations(t)
		})
	}
}

// Package paymentprovider клиент API ЮKassa v3: создание платежа с редиректом
// на оплату и запрос статуса.
package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/q133ss/elza-bot/internal/config"
)

// Client HTTP-клиент ЮKassa с Basic-авторизацией магазина.
type Client struct {
	apiURL    string
	shopID    string
	secretKey string
	returnURL string
	client    *http.Client
}

// New конструктор Client.
func New(cfg config.YooKassa) *Client {
	return &Client{
		apiURL:    cfg.APIURL,
		shopID:    cfg.ShopID,
		secretKey: cfg.SecretKey,
		returnURL: cfg.ReturnURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreatePayment создаёт платёж с подтверждением через редирект. Заголовок
// Idempotence-Key защищает от дублей при сетевых повторах.
func (c *Client) CreatePayment(ctx context.Context, amountRub int, description string) (Payment, error) {
	const op = "paymentprovider.CreatePayment"

	body := createPaymentRequest{
		Amount:       Amount{Value: fmt.Sprintf("%d.00", amountRub), Currency: "RUB"},
		Capture:      true,
		Confirmation: Confirmation{Type: "redirect", ReturnURL: c.returnURL},
		Description:  description,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Payment{}, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return Payment{}, fmt.Errorf("%s: %w", op, err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return Payment{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Payment{}, fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, raw)
	}

	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return Payment{}, fmt.Errorf("%s: %w", op, err)
	}
	return payment, nil
}

// GetPayment возвращает платёж по идентификатору.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	const op = "paymentprovider.GetPayment"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/payments/"+paymentID, nil)
	if err != nil {
		return Payment{}, fmt.Errorf("%s: %w", op, err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Payment{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Payment{}, fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, raw)
	}

	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return Payment{}, fmt.Errorf("%s: %w", op, err)
	}
	return payment, nil
}

// GetPaymentStatus возвращает только статус платежа. Удобная обёртка для
// воркера сверки.
func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (string, error) {
	payment, err := c.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return payment.Status, nil
}

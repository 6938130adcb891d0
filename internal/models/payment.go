package models

import "time"

// Локальные статусы платёжного намерения. Терминальные статусы
// (confirmed, failed, expired) неизменяемы.
const (
	IntentCreated   = "created"
	IntentConfirmed = "confirmed"
	IntentFailed    = "failed"
	IntentExpired   = "expired"
)

// PaymentIntent одна попытка оплаты подписки. У пользователя может быть не
// больше одного намерения в статусе created.
type PaymentIntent struct {
	IntentID        string // Идентификатор платежа у провайдера
	ChatID          int64
	AmountRub       int
	Months          int     // Оплачиваемый срок подписки
	Status          string  // Локальный статус: created | confirmed | failed | expired
	ProviderStatus  string  // Последний известный статус провайдера
	ReportedStatus  *string // Статус из webhook-колбэка, ещё не применённый воркером
	ConfirmationURL string
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	GrantedAt       *time.Time // Когда подписка по платежу была активирована
}

// Terminal сообщает, достигло ли намерение неизменяемого статуса.
func (p *PaymentIntent) Terminal() bool {
	return p.Status != IntentCreated
}

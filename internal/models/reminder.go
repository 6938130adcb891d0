package models

import "time"

// Виды напоминаний.
const (
	ReminderRetention       = "retention"        // Догоняющее сообщение после бесплатной попытки
	ReminderPaymentFollowup = "payment_followup" // Ссылка на неоплаченный счёт
	ReminderSessionResume   = "session_resume"   // Приглашение вернуться после тайм-аута
	ReminderActivated       = "activated"        // Уведомление об активации подписки
)

// Reminder запланированное исходящее сообщение. Флаг Delivered переходит
// false→true ровно один раз; доставка в транспорт может повторяться.
type Reminder struct {
	ID          int64     `json:"id"`
	ChatID      int64     `json:"chat_id"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	DueAt       time.Time `json:"due_at"`
	Delivered   bool      `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

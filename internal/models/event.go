package models

import "time"

// InboundEvent входящее событие транспорта: текст пользователя либо
// синтетическое событие тайм-аута неактивности.
type InboundEvent struct {
	ChatID     int64
	Text       string
	Timestamp  time.Time
	Timeout    bool  // true для события тайм-аута от фонового свипа
	Generation int64 // Поколение сессии, на которое нацелен тайм-аут
}

// OutboundMessage исходящее сообщение для транспорта.
type OutboundMessage struct {
	ChatID   int64
	Text     string
	Keyboard [][]string // Кнопки reply-клавиатуры, nil — без клавиатуры
}

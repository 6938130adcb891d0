// Package models содержит доменные структуры бота: пользователь, сессия диалога,
// платёжное намерение, напоминание и сохранённые расклады.
package models

import "time"

// Статусы подписки пользователя.
const (
	SubscriptionNone    = "none"
	SubscriptionPending = "pending"
	SubscriptionActive  = "active"
	SubscriptionExpired = "expired"
)

// User представляет пользователя мессенджера. Создаётся при первом входящем
// событии, никогда не удаляется.
type User struct {
	ChatID                int64      // Идентификатор чата на платформе
	Name                  string     // Имя (из онбординга)
	Surname               string     // Фамилия (нужна нумерологии и гороскопу)
	BirthDate             *time.Time // Дата рождения
	BirthTime             string     // Время рождения в формате ЧЧ:ММ, пусто если неизвестно
	SubscriptionStatus    string     // none | pending | active | expired
	SubscriptionExpiresAt *time.Time // Срок действия оплаченной подписки
	FreeQuota             QuotaCounters
	QuotaResetAt          time.Time // Граница периода, на которую счётчики были сброшены
	LastActivityAt        time.Time
	CreatedAt             time.Time
}

// QuotaCounters бесплатные попытки по видам сценариев. Счётчики монотонно
// убывают внутри периода сброса и не бывают отрицательными.
type QuotaCounters struct {
	TarotSingle int
	TarotSpread int
	Numerology  int
	Horoscope   int
	Companion   int
}

// ForKind возвращает счётчик для вида сценария.
func (q QuotaCounters) ForKind(kind ScenarioKind) int {
	switch kind {
	case KindTarotSingle:
		return q.TarotSingle
	case KindTarotSpread:
		return q.TarotSpread
	case KindNumerology:
		return q.Numerology
	case KindHoroscope:
		return q.Horoscope
	case KindCompanion:
		return q.Companion
	}
	return 0
}

// SubscriptionActiveAt сообщает, действует ли подписка в момент now.
// Проверка по стенным часам: запись со статусом active, но истёкшим сроком,
// считается неактивной даже до прохода фонового свипа.
func (u *User) SubscriptionActiveAt(now time.Time) bool {
	return u.SubscriptionStatus == SubscriptionActive &&
		u.SubscriptionExpiresAt != nil &&
		u.SubscriptionExpiresAt.After(now)
}

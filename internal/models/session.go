package models

import "time"

// ScenarioKind вид контентного сценария.
type ScenarioKind string

// Виды сценариев. KindOnboarding служебный: сбор согласия, имени и даты
// рождения перед главным меню, квотами не ограничивается.
const (
	KindOnboarding  ScenarioKind = "onboarding"
	KindTarotSingle ScenarioKind = "tarot_single"
	KindTarotSpread ScenarioKind = "tarot_spread"
	KindNumerology  ScenarioKind = "numerology"
	KindHoroscope   ScenarioKind = "horoscope"
	KindCompanion   ScenarioKind = "companion"
)

// SessionState состояние конечного автомата диалога.
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateAwaitingInput SessionState = "awaiting_input"
	StateProcessing    SessionState = "processing"
	StateCompleted     SessionState = "completed"
	StateCancelled     SessionState = "cancelled"
)

// Session живой контекст диалога одного пользователя, один к одному с User.
// Generation растёт при каждом сбросе: фоновый тайм-аут, увидевший чужое
// поколение, не трогает уже продвинувшуюся сессию.
type Session struct {
	ChatID     int64
	State      SessionState
	Kind       ScenarioKind      // Активный сценарий, пусто в Idle
	Step       int               // Индекс текущего шага AwaitingInput
	Data       map[string]string // Собранные на шагах данные (вопрос, тип расклада и т.п.)
	Generation int64
	UpdatedAt  time.Time
}

// Datum возвращает собранное на шагах значение по имени поля.
func (s *Session) Datum(field string) string {
	if s.Data == nil {
		return ""
	}
	return s.Data[field]
}

// SetDatum сохраняет значение шага.
func (s *Session) SetDatum(field, value string) {
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[field] = value
}

// Reset переводит сессию в Idle и очищает контекст сценария.
// Поколение увеличивает вызывающая сторона через хранилище.
func (s *Session) Reset() {
	s.State = StateIdle
	s.Kind = ""
	s.Step = 0
	s.Data = map[string]string{}
}

package models

import "time"

// Reading сохранённый результат сценария: расклад, разбор или гороскоп.
// История используется панелью инспекции для статистики по дням.
type Reading struct {
	ID        int64
	ChatID    int64
	Kind      ScenarioKind
	Question  string // Вопрос или выбранный формат
	Result    string
	Meta      map[string]string // Усечённый промпт, момент генерации
	CreatedAt time.Time
}

// UsageStat агрегат панели инспекции: число сценариев одного вида за день.
type UsageStat struct {
	Day   string       `json:"day"`
	Kind  ScenarioKind `json:"kind"`
	Count int          `json:"count"`
}

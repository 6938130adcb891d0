package scenario

import (
	"regexp"
	"strings"
	"time"

	"github.com/q133ss/elza-bot/internal/models"
)

// Имена полей, собираемых на шагах сценариев.
const (
	fieldConsent    = "consent"
	fieldName       = "name"
	fieldBirthDate  = "birth_date"
	fieldSurname    = "surname"
	fieldBirthTime  = "birth_time"
	fieldSpreadType = "spread_type"
	fieldQuestion   = "question"
	fieldFormat     = "format"

	// Служебные ключи контекста сессии.
	dataMenu           = "menu"
	dataBySubscription = "by_subscription"

	menuSubscription = "subscription"
)

const dateLayout = "02.01.2006"

// step один шаг AwaitingInput: вопрос пользователю, валидация ответа и
// условие пропуска, если данное уже известно из профиля.
type step struct {
	field    string
	prompt   string
	keyboard [][]string
	// validate возвращает каноническое значение и текст ошибки.
	// Пустая ошибка означает принятый ответ.
	validate func(text string) (string, string)
	skip     func(u *models.User) bool
}

func acceptAny(errText string) func(string) (string, string) {
	return func(text string) (string, string) {
		if strings.TrimSpace(text) == "" {
			return "", errText
		}
		return strings.TrimSpace(text), ""
	}
}

var onboardingSteps = []step{
	{
		field:    fieldConsent,
		prompt:   welcomeText,
		keyboard: [][]string{{btnStart}},
		validate: func(text string) (string, string) {
			if !isPositive(text) {
				return "", "Нажми «Старт», когда будешь готова начать."
			}
			return "yes", ""
		},
	},
	{
		field:    fieldName,
		prompt:   "Спасибо ❤️\nПожалуйста, укажи своё имя (Напиши имя, чтобы я могла к тебе обращаться):",
		validate: acceptAny("Пожалуйста, напиши имя (например: Анна)."),
	},
	{
		field:  fieldBirthDate,
		prompt: "Теперь, пожалуйста, введи дату рождения в формате ДД.ММ.ГГГГ",
		validate: func(text string) (string, string) {
			if _, err := parseDate(text); err != nil {
				return "", "Неверный формат даты. Введите, пожалуйста, в формате ДД.ММ.ГГГГ (например: 08.09.1990)."
			}
			return text, ""
		},
	},
}

var tarotSteps = []step{
	{
		field:  fieldSpreadType,
		prompt: "Выбери тип расклада:",
		keyboard: [][]string{
			{"Таро на день", "Таро на любовь"},
			{"Другой вопрос", btnBack},
		},
		validate: acceptAny("Выбери тип расклада на клавиатуре."),
	},
	{
		field:    fieldQuestion,
		validate: acceptAny("Напиши, пожалуйста, свой вопрос."),
	},
}

var numerologySteps = []step{
	{
		field:    fieldSurname,
		prompt:   "Пожалуйста, укажи свою фамилию:",
		validate: acceptAny("Пожалуйста, напиши фамилию."),
		skip:     func(u *models.User) bool { return u.Surname != "" },
	},
	{
		field:    fieldFormat,
		prompt:   "Выбери формат нумерологического разбора:",
		keyboard: [][]string{{btnFreeFormat, btnFullAnalysis}, {btnBack}},
		validate: formatValidator(btnFullAnalysis),
	},
}

var horoscopeSteps = []step{
	{
		field:    fieldSurname,
		prompt:   "Пожалуйста, укажи свою фамилию:",
		validate: acceptAny("Пожалуйста, напиши фамилию."),
		skip:     func(u *models.User) bool { return u.Surname != "" },
	},
	{
		field:    fieldBirthTime,
		prompt:   "Укажи время рождения в формате ЧЧ:ММ. Если не знаешь, нажми «Не знаю».",
		keyboard: [][]string{{btnUnknownTime}},
		validate: func(text string) (string, string) {
			if text == btnUnknownTime {
				return btnUnknownTime, ""
			}
			if !validTime(text) {
				return "", "Пожалуйста, введи время в формате ЧЧ:ММ (например: 08:30) или нажми «Не знаю»."
			}
			return text, ""
		},
		skip: func(u *models.User) bool { return u.BirthTime != "" },
	},
	{
		field:    fieldFormat,
		prompt:   "Выбери формат гороскопа:",
		keyboard: [][]string{{btnFreeFormat, btnFullHoroscope}, {btnBack}},
		validate: formatValidator(btnFullHoroscope),
	},
}

func formatValidator(fullButton string) func(string) (string, string) {
	return func(text string) (string, string) {
		switch text {
		case btnFreeFormat, fullButton:
			return text, ""
		}
		return "", "Выбери формат на клавиатуре."
	}
}

// stepsForKind возвращает список шагов сценария. У Подружки фиксированных
// шагов нет: диалог открытый.
func stepsForKind(kind models.ScenarioKind) []step {
	switch kind {
	case models.KindOnboarding:
		return onboardingSteps
	case models.KindTarotSingle, models.KindTarotSpread:
		return tarotSteps
	case models.KindNumerology:
		return numerologySteps
	case models.KindHoroscope:
		return horoscopeSteps
	}
	return nil
}

// nextStep возвращает индекс первого непропускаемого шага начиная с from,
// либо len(steps), когда все данные собраны.
func nextStep(steps []step, from int, u *models.User) int {
	for i := from; i < len(steps); i++ {
		if steps[i].skip != nil && steps[i].skip(u) {
			continue
		}
		return i
	}
	return len(steps)
}

func isPositive(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "старт", "да", "ok", "okey", "начать", "start", "давай", "готово":
		return true
	}
	return false
}

var dateRe = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)

func parseDate(text string) (time.Time, error) {
	if !dateRe.MatchString(text) {
		return time.Time{}, &time.ParseError{Layout: dateLayout, Value: text}
	}
	return time.Parse(dateLayout, text)
}

var timeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

func validTime(text string) bool {
	return timeRe.MatchString(text)
}

var distressWords = []string{"суиц", "самоуб", "убью", "смерть", "умереть"}

// isDistressMessage находит маркеры острого состояния. Такие сообщения не
// уходят в генерацию: пользователю предлагается живой специалист.
func isDistressMessage(text string) bool {
	lower := strings.ToLower(text)
	for _, word := range distressWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

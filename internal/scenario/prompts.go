package scenario

import (
	"fmt"
	"time"
)

// Лимиты длины ответов перед отправкой в транспорт.
const (
	replyLimit         = 4000
	freeCompanionLimit = 300
	promptMetaLimit    = 800
)

// Кнопки клавиатур. Тексты сверяются с входящими сообщениями, поэтому
// вынесены в константы.
const (
	btnStart         = "Старт"
	btnTarot         = "🃏 Расклад Таро"
	btnNumerology    = "🔢 Нумерология"
	btnHoroscope     = "♒ Гороскоп"
	btnCompanion     = "💬 Подружка"
	btnSubscription  = "💎 Подписка"
	btnHelp          = "ℹ️ Помощь"
	btnBack          = "Назад в меню"
	btnGetAccess     = "Получить доступ"
	btnEndChat       = "Закончить разговор"
	btnUnknownTime   = "Не знаю"
	btnFreeFormat    = "Бесплатно"
	btnFullAnalysis  = "Полный анализ"
	btnFullHoroscope = "Полный гороскоп"
	btnTariff1       = "1 месяц"
	btnTariff6       = "6 месяцев (-10%)"
	btnTariff12      = "12 месяцев (-10%)"
)

var mainMenuKeyboard = [][]string{
	{btnTarot, btnNumerology},
	{btnHoroscope, btnCompanion},
	{btnSubscription, btnHelp},
}

var upsellKeyboard = [][]string{{btnGetAccess, btnBack}}

var tariffKeyboard = [][]string{
	{btnTariff1, btnTariff6},
	{btnTariff12, btnBack},
}

const welcomeText = "Привет, я Эльза — твоя подружка 🌸\n" +
	"Рада, что ты заглянула ко мне. Здесь можно быть настоящей — я рядом, чтобы слушать, поддерживать и помогать.\n" +
	"Без осуждений, без масок — только тёплый диалог.\n" +
	"Хочешь познакомиться поближе? Жми «Старт» 💌\n\n" +
	"Перед тем как продолжить, нужно согласие на обработку персональных данных (Имя, дата рождения)."

const helpText = "Я помогу:\n• Сформулировать вопрос к Таро\n" +
	"• Сделать базовый расклад (3 карты бесплатно) или глубокий расклад (7 карт для подписчиков)\n\n" +
	"Просто выбери «🃏 Расклад Таро» и следуй подсказкам."

const upsellText = "Бесплатная попытка уже использована. 🌸\n\n" +
	"Чтобы продолжить без ограничений, подключи подписку."

const companionGreeting = "Привет, я твоя Подружка. Можешь рассказать мне всё, что у тебя на душе. Я рядом, выслушаю, пойму"

const companionFarewell = "Спасибо, что доверилась мне. Помни: ты ценная и важная. Я всегда рядом, когда захочешь поговорить."

const distressText = "Если тебе очень тяжело, пожалуйста, обратись к специалисту. Я рядом, но живой человек — лучшее решение в таких ситуациях."

const apologyText = "К сожалению, сейчас я не могу подготовить ответ. Но не переживай — мы вернёмся к этому чуть позже."

// ResumeNudgeText текст напоминания после сброса сессии по неактивности.
const ResumeNudgeText = "Я всё ещё здесь 🌸 Если захочешь продолжить, просто выбери раздел в меню."

// Тексты догоняющей серии после бесплатной попытки.
var retentionMessages = []struct {
	After   time.Duration
	Message string
}{
	{6 * time.Hour, "Спасибо, что провела день со мной. Если ты хочешь, чтобы я была рядом всегда — подключи подписку 💌"},
	{12 * time.Hour, "Спасибо, что провела день со мной. Если ты хочешь, чтобы я была рядом всегда — подключи подписку 💌"},
	{72 * time.Hour, "Я всё ещё помню твой вопрос… Давай продолжим? Подписка активирует все разделы."},
}

func mainMenuText(name string) string {
	if name == "" {
		name = "Подруга"
	}
	return fmt.Sprintf("%s, теперь давай выберем, с чего начнём 💫\n"+
		"Я рядом, чтобы помочь — просто выбери раздел, который тебе сейчас ближе.", name)
}

func tarotQuestionText(spreadType string) string {
	return fmt.Sprintf("Отлично — мы выбрали: <b>%s</b>.\n\n"+
		"Чтобы получить точный ответ, сформулируй конкретный вопрос. Примеры:\n"+
		"✅ «Какие чувства у Никиты ко мне?»\n"+
		"✅ «Будем ли мы вместе с Никитой?»\n"+
		"❌ Не: «Что меня ждет с ним?» — слишком общее.\n\n"+
		"Напиши свой вопрос.", spreadType)
}

func companionSystemPrompt() string {
	return "Ты — добрая, понимающая, внимательная подруга. Твоя задача — поддерживать, выслушивать, " +
		"помогать словами и мягко направлять, если нужно. Никакой оценки. Ты можешь говорить с юмором, " +
		"тепло, но всегда с уважением. Избегай клише и сухих фраз."
}

func tarotPrompt(name, spreadType, question string, cards int) string {
	system := "Ты — нежный и заботливый таролог, говоришь мягко и поддерживающе. Отвечай по-русски."
	instruction := fmt.Sprintf(
		"Для пользователя %s сделай расклад %q на %d карт(ы). "+
			"Дай название каждой карты (если возможно), краткую интерпретацию до 400 символов для каждой карты и общий вывод по раскладу (до 400 символов). "+
			"Стиль: мягкий, поддерживающий, без категоричных предсказаний. В конце предложи 2-3 уточняющих вопроса, которые пользователь может задать для более точного ответа. "+
			"Вопрос пользователя: «%s».",
		name, spreadType, cards, question)
	return system + "\n\n" + instruction
}

func moneyCodePrompt(name, birthDate string) string {
	return fmt.Sprintf("На основе имени %s и даты рождения %s вычисли денежный (финансовый) код. "+
		"Верни одну цифру и краткое пояснение (1-2 предложения). Отвечай по-русски.", name, birthDate)
}

func numerologyPrompt(name, surname, birthDate string) string {
	system := "Ты — дружелюбный и заботливый нумеролог. Отвечай по-русски."
	instruction := fmt.Sprintf(
		"Рассчитай и расшифруй ключевые числа нумерологии по имени %s, фамилии %s и дате рождения %s. "+
			"Укажи число жизненного пути, число судьбы, число души, число личности, кармические долги и задачи, матрицу Пифагора. "+
			"Сформируй структурированный отчёт: основные числа с кратким описанием и влиянием, текстовый прогноз 700-1500 символов по сферам "+
			"(личность и потенциал, карьера и деньги, отношения и семья, сильные и слабые стороны, подсказки для настоящего периода жизни).",
		name, surname, birthDate)
	return system + "\n\n" + instruction
}

func horoscopeFreePrompt(sign string) string {
	return fmt.Sprintf("Сгенерируй краткий дневной гороскоп (2 предложения) для знака %s на сегодня. "+
		"Стиль: мягкий, дружелюбный, например: 'Твоя энергия сейчас склонна к интроверсии, важно беречь себя. "+
		"Подумай, что ты хочешь чувствовать, и начни с малого.'", sign)
}

func horoscopeFullPrompt(name, surname, birthDate, birthTime string) string {
	system := "Ты — заботливый астролог. Отвечай по-русски."
	instruction := fmt.Sprintf(
		"На основе данных: имя %s, фамилия %s, дата рождения %s, время рождения %s сформируй полный гороскоп на текущий месяц. "+
			"Включи разделы: отношения, деньги, здоровье, духовность, а также эмоциональные рекомендации. Стиль дружелюбный, поддерживающий.",
		name, surname, birthDate, birthTime)
	return system + "\n\n" + instruction
}

// truncate обрезает текст до limit рун с многоточием.
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

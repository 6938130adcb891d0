// Package scenario конечный автомат диалога: состояния Idle, AwaitingInput,
// Processing, Completed, Cancelled и правила переходов между ними.
// Автомат мутирует переданные user и session в памяти, долговечность
// обеспечивает вызывающая сторона.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/q133ss/elza-bot/internal/entitlement"
	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/lib/zodiac"
	"github.com/q133ss/elza-bot/internal/metrics"
	"github.com/q133ss/elza-bot/internal/models"
)

// EntitlementChecker решает, разрешён ли запуск сценария, и списывает попытку.
type EntitlementChecker interface {
	CheckAndConsume(ctx context.Context, user *models.User, kind models.ScenarioKind, now time.Time) (entitlement.Decision, error)
}

// CompletionProvider генерирует текст ответа по промпту.
type CompletionProvider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Checkout создаёт платёж у провайдера и возвращает ссылку на оплату.
type Checkout interface {
	StartCheckout(ctx context.Context, user *models.User, months int) (string, error)
}

// ReadingRecorder сохраняет результаты завершённых сценариев.
type ReadingRecorder interface {
	CreateReading(ctx context.Context, r *models.Reading) error
}

// RetentionPlanner планирует догоняющие напоминания.
type RetentionPlanner interface {
	CreateReminder(ctx context.Context, r *models.Reminder) error
	HasRetentionReminders(ctx context.Context, chatID int64) (bool, error)
}

// Machine конечный автомат сценариев.
type Machine struct {
	log          *slog.Logger
	entitlements EntitlementChecker
	completion   CompletionProvider
	checkout     Checkout
	readings     ReadingRecorder
	reminders    RetentionPlanner
}

// New конструктор Machine.
func New(log *slog.Logger, entitlements EntitlementChecker, completion CompletionProvider,
	checkout Checkout, readings ReadingRecorder, reminders RetentionPlanner) *Machine {
	return &Machine{
		log:          log,
		entitlements: entitlements,
		completion:   completion,
		checkout:     checkout,
		readings:     readings,
		reminders:    reminders,
	}
}

// Advance обрабатывает одно входящее событие и возвращает исходящие сообщения.
// Терминальные состояния Completed и Cancelled остаются в session:
// вызывающая сторона сбрасывает сессию с инкрементом поколения.
func (m *Machine) Advance(ctx context.Context, user *models.User, session *models.Session, event models.InboundEvent) ([]models.OutboundMessage, error) {
	text := strings.TrimSpace(event.Text)
	now := event.Timestamp

	switch session.State {
	case models.StateIdle:
		return m.handleIdle(ctx, user, session, text, now)
	case models.StateAwaitingInput:
		return m.handleAwaitingInput(ctx, user, session, text, now)
	default:
		// Терминальные состояния не должны доживать до следующего события.
		session.Reset()
		return m.showMainMenu(user), nil
	}
}

func (m *Machine) handleIdle(ctx context.Context, user *models.User, session *models.Session, text string, now time.Time) ([]models.OutboundMessage, error) {
	if user.Name == "" {
		return m.startOnboarding(session)
	}

	if session.Datum(dataMenu) == menuSubscription {
		return m.handleSubscriptionMenu(ctx, user, session, text)
	}

	switch text {
	case btnTarot:
		kind := models.KindTarotSingle
		if user.SubscriptionActiveAt(now) {
			kind = models.KindTarotSpread
		}
		return m.startScenario(ctx, user, session, kind, now)
	case btnNumerology:
		return m.startScenario(ctx, user, session, models.KindNumerology, now)
	case btnHoroscope:
		return m.startScenario(ctx, user, session, models.KindHoroscope, now)
	case btnCompanion:
		return m.startScenario(ctx, user, session, models.KindCompanion, now)
	case btnSubscription, btnGetAccess:
		session.SetDatum(dataMenu, menuSubscription)
		return []models.OutboundMessage{m.subscriptionMenu(user.ChatID)}, nil
	case btnHelp:
		return []models.OutboundMessage{{ChatID: user.ChatID, Text: helpText}}, nil
	}
	return m.showMainMenu(user), nil
}

func (m *Machine) startOnboarding(session *models.Session) ([]models.OutboundMessage, error) {
	session.State = models.StateAwaitingInput
	session.Kind = models.KindOnboarding
	session.Step = 0
	first := onboardingSteps[0]
	return []models.OutboundMessage{{
		ChatID:   session.ChatID,
		Text:     first.prompt,
		Keyboard: first.keyboard,
	}}, nil
}

// startScenario первый переход из Idle. Попытка списывается здесь и не
// возвращается при отмене или тайм-ауте.
func (m *Machine) startScenario(ctx context.Context, user *models.User, session *models.Session, kind models.ScenarioKind, now time.Time) ([]models.OutboundMessage, error) {
	const op = "scenario.startScenario"

	decision, err := m.entitlements.CheckAndConsume(ctx, user, kind, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !decision.Allowed {
		metrics.UpsellsShown.Inc()
		return []models.OutboundMessage{{
			ChatID:   user.ChatID,
			Text:     upsellText,
			Keyboard: upsellKeyboard,
		}}, nil
	}

	metrics.ScenariosStarted.WithLabelValues(string(kind)).Inc()
	session.State = models.StateAwaitingInput
	session.Kind = kind
	session.Data = map[string]string{}
	if decision.BySubscription {
		session.SetDatum(dataBySubscription, "1")
	}

	if kind == models.KindCompanion {
		session.Step = 0
		return []models.OutboundMessage{{
			ChatID:   user.ChatID,
			Text:     companionGreeting,
			Keyboard: [][]string{{btnEndChat}},
		}}, nil
	}

	steps := stepsForKind(kind)
	idx := nextStep(steps, 0, user)
	if idx >= len(steps) {
		return m.process(ctx, user, session, now)
	}
	session.Step = idx
	return []models.OutboundMessage{m.stepPrompt(user, session, steps[idx])}, nil
}

func (m *Machine) handleAwaitingInput(ctx context.Context, user *models.User, session *models.Session, text string, now time.Time) ([]models.OutboundMessage, error) {
	if session.Kind == models.KindCompanion {
		return m.handleCompanion(ctx, user, session, text, now)
	}

	if text == btnBack && session.Kind != models.KindOnboarding {
		session.State = models.StateCancelled
		return m.showMainMenu(user), nil
	}

	steps := stepsForKind(session.Kind)
	if session.Step >= len(steps) {
		return m.process(ctx, user, session, now)
	}

	current := steps[session.Step]
	value, errText := current.validate(text)
	if errText != "" {
		return []models.OutboundMessage{{
			ChatID:   user.ChatID,
			Text:     errText,
			Keyboard: current.keyboard,
		}}, nil
	}

	// Платные форматы доступны только при действующей подписке.
	if current.field == fieldFormat && value != btnFreeFormat && !user.SubscriptionActiveAt(now) {
		return []models.OutboundMessage{{
			ChatID:   user.ChatID,
			Text:     paidFormatText(session.Kind),
			Keyboard: upsellKeyboard,
		}}, nil
	}

	session.SetDatum(current.field, value)
	m.applyToProfile(user, current.field, value)

	next := nextStep(steps, session.Step+1, user)
	if next >= len(steps) {
		return m.process(ctx, user, session, now)
	}
	session.Step = next
	return []models.OutboundMessage{m.stepPrompt(user, session, steps[next])}, nil
}

// applyToProfile переносит собранные на шагах данные в профиль пользователя.
func (m *Machine) applyToProfile(user *models.User, field, value string) {
	switch field {
	case fieldName:
		user.Name = truncate(value, 100)
	case fieldSurname:
		user.Surname = truncate(value, 100)
	case fieldBirthDate:
		if parsed, err := parseDate(value); err == nil {
			user.BirthDate = &parsed
		}
	case fieldBirthTime:
		if value != btnUnknownTime {
			user.BirthTime = value
		}
	}
}

func (m *Machine) stepPrompt(user *models.User, session *models.Session, st step) models.OutboundMessage {
	text := st.prompt
	keyboard := st.keyboard
	switch st.field {
	case fieldQuestion:
		text = tarotQuestionText(session.Datum(fieldSpreadType))
		keyboard = [][]string{{btnBack}}
	case fieldBirthDate:
		if user.Name != "" {
			text = fmt.Sprintf("Приятно познакомиться, %s! Теперь, пожалуйста, введи дату рождения в формате ДД.ММ.ГГГГ", user.Name)
		}
	}
	return models.OutboundMessage{ChatID: session.ChatID, Text: text, Keyboard: keyboard}
}

func paidFormatText(kind models.ScenarioKind) string {
	if kind == models.KindHoroscope {
		return "Полный гороскоп доступен по подписке."
	}
	return "Подробный нумерологический анализ доступен по подписке."
}

// process состояние Processing: построить промпт, вызвать генерацию,
// завершить сценарий. Ошибка провайдера после исчерпания повторов переводит
// сценарий в Cancelled с извинением, не роняя обработку других пользователей.
func (m *Machine) process(ctx context.Context, user *models.User, session *models.Session, now time.Time) ([]models.OutboundMessage, error) {
	if session.Kind == models.KindOnboarding {
		session.State = models.StateCompleted
		return m.showMainMenu(user), nil
	}

	session.State = models.StateProcessing
	free := session.Datum(dataBySubscription) == ""

	waitText, prompt := m.buildPrompt(user, session)
	out := []models.OutboundMessage{{ChatID: user.ChatID, Text: waitText}}

	result, err := m.completion.Complete(ctx, "", prompt)
	if err != nil {
		m.log.Warn("completion failed, cancelling scenario", sl.Err(err),
			slog.Int64("chat_id", user.ChatID), slog.String("kind", string(session.Kind)))
		metrics.ScenariosCancelled.WithLabelValues(string(session.Kind)).Inc()
		session.State = models.StateCancelled
		return append(out, models.OutboundMessage{
			ChatID:   user.ChatID,
			Text:     apologyText,
			Keyboard: mainMenuKeyboard,
		}), nil
	}

	result = truncate(result, replyLimit)
	final := m.composeReply(user, session, result, free)

	m.recordReading(ctx, user, session, result, prompt, now)
	if free {
		m.scheduleRetention(ctx, user.ChatID, now)
	}

	metrics.ScenariosCompleted.WithLabelValues(string(session.Kind)).Inc()
	session.State = models.StateCompleted

	keyboard := mainMenuKeyboard
	if free {
		keyboard = upsellKeyboard
	}
	return append(out, models.OutboundMessage{
		ChatID:   user.ChatID,
		Text:     final,
		Keyboard: keyboard,
	}), nil
}

func (m *Machine) buildPrompt(user *models.User, session *models.Session) (waitText, prompt string) {
	name := user.Name
	if name == "" {
		name = "Подруга"
	}
	birth := ""
	if user.BirthDate != nil {
		birth = user.BirthDate.Format(dateLayout)
	}

	switch session.Kind {
	case models.KindTarotSingle:
		return "Сейчас я посоветуюсь с картами и соберу расклад — это займёт пару секунд ✨",
			tarotPrompt(name, session.Datum(fieldSpreadType), session.Datum(fieldQuestion), 3)
	case models.KindTarotSpread:
		return "Сейчас я посоветуюсь с картами и соберу расклад — это займёт пару секунд ✨",
			tarotPrompt(name, session.Datum(fieldSpreadType), session.Datum(fieldQuestion), 7)
	case models.KindNumerology:
		if session.Datum(fieldFormat) == btnFreeFormat {
			return "Считаю твой денежный код, подожди пару секунд ✨", moneyCodePrompt(name, birth)
		}
		return "Собираю твою нумерологическую карту, подожди чуть-чуть ✨",
			numerologyPrompt(name, user.Surname, birth)
	case models.KindHoroscope:
		if session.Datum(fieldFormat) == btnFreeFormat {
			sign := ""
			if user.BirthDate != nil {
				sign = zodiac.Sign(*user.BirthDate)
			}
			return "Смотрю твою астрологическую волну, подожди пару секунд ✨", horoscopeFreePrompt(sign)
		}
		birthTime := user.BirthTime
		if birthTime == "" {
			birthTime = "неизвестно"
		}
		return "Готовлю твой подробный гороскоп, подожди немного ✨",
			horoscopeFullPrompt(name, user.Surname, birth, birthTime)
	}
	return "Секунду ✨", ""
}

func (m *Machine) composeReply(user *models.User, session *models.Session, result string, free bool) string {
	name := user.Name
	if name == "" {
		name = "Подруга"
	}

	switch session.Kind {
	case models.KindTarotSingle, models.KindTarotSpread:
		cards := 3
		if session.Kind == models.KindTarotSpread {
			cards = 7
		}
		final := fmt.Sprintf("Спасибо, %s, что поделилась своим вопросом 🌸\n\n"+
			"<b>Вопрос:</b> %s\n\n"+
			"<b>Расклад (%d карты):</b>\n%s\n\n"+
			"Спасибо, что открываешься — если хочешь ещё углубиться, рассмотрим платную версию (7 карт и персональные рекомендации).",
			name, session.Datum(fieldQuestion), cards, result)
		if free {
			final += "\n\nСпасибо, что доверилась. Если хочешь получать больше раскладов и персональные рекомендации — подключи подписку 💎"
		}
		return final
	case models.KindNumerology:
		if session.Datum(fieldFormat) == btnFreeFormat {
			return result +
				"\n\nЭто твой денежный код. Он помогает понять, как ты взаимодействуешь с финансовыми потоками. 💸\n" +
				"Спасибо, что попробовала! Если хочешь узнать свои сильные стороны, кармические задачи и код активации изобилия, подключи подписку и получи расширенный нумерологический портрет. ✨"
		}
		return result
	case models.KindHoroscope:
		if session.Datum(fieldFormat) == btnFreeFormat {
			sign := ""
			if user.BirthDate != nil {
				sign = zodiac.Sign(*user.BirthDate)
			}
			return fmt.Sprintf("Твой знак — %s.\n%s\n\n"+
				"Это краткий взгляд на твою текущую астрологическую волну.\n"+
				"Спасибо, что заглянула! Полный гороскоп по всем сферам жизни доступен по подписке: любовь, деньги, самореализация. 🌌", sign, result)
		}
		return result
	}
	return result
}

func (m *Machine) recordReading(ctx context.Context, user *models.User, session *models.Session, result, prompt string, now time.Time) {
	reading := &models.Reading{
		ChatID:   user.ChatID,
		Kind:     session.Kind,
		Question: session.Datum(fieldQuestion),
		Result:   result,
		Meta: map[string]string{
			"generated_at": now.Format(time.RFC3339),
			"prompt":       truncate(prompt, promptMetaLimit),
		},
	}
	if reading.Question == "" {
		reading.Question = session.Datum(fieldFormat)
	}
	if spread := session.Datum(fieldSpreadType); spread != "" {
		reading.Meta["spread_type"] = spread
	}
	if err := m.readings.CreateReading(ctx, reading); err != nil {
		m.log.Error("failed to save reading", sl.Err(err), slog.Int64("chat_id", user.ChatID))
	}
}

// scheduleRetention планирует догоняющую серию после бесплатной попытки.
// Серия создаётся не больше одного раза за всю жизнь пользователя.
func (m *Machine) scheduleRetention(ctx context.Context, chatID int64, now time.Time) {
	exists, err := m.reminders.HasRetentionReminders(ctx, chatID)
	if err != nil {
		m.log.Error("failed to check retention reminders", sl.Err(err), slog.Int64("chat_id", chatID))
		return
	}
	if exists {
		return
	}
	for _, item := range retentionMessages {
		reminder := &models.Reminder{
			ChatID:  chatID,
			Kind:    models.ReminderRetention,
			Message: item.Message,
			DueAt:   now.Add(item.After),
		}
		if err := m.reminders.CreateReminder(ctx, reminder); err != nil {
			m.log.Error("failed to schedule retention reminder", sl.Err(err), slog.Int64("chat_id", chatID))
			return
		}
	}
}

func (m *Machine) handleCompanion(ctx context.Context, user *models.User, session *models.Session, text string, now time.Time) ([]models.OutboundMessage, error) {
	if text == btnEndChat {
		session.State = models.StateCompleted
		out := []models.OutboundMessage{{ChatID: user.ChatID, Text: companionFarewell}}
		return append(out, m.showMainMenu(user)...), nil
	}

	if isDistressMessage(text) {
		return []models.OutboundMessage{{
			ChatID:   user.ChatID,
			Text:     distressText,
			Keyboard: [][]string{{btnEndChat}},
		}}, nil
	}

	bySubscription := session.Datum(dataBySubscription) != ""

	reply, err := m.completion.Complete(ctx, companionSystemPrompt(), text)
	if err != nil {
		m.log.Warn("companion completion failed", sl.Err(err), slog.Int64("chat_id", user.ChatID))
		if bySubscription {
			return []models.OutboundMessage{{
				ChatID:   user.ChatID,
				Text:     "Сейчас не получается ответить. Давай попробуем позже.",
				Keyboard: [][]string{{btnEndChat}},
			}}, nil
		}
		metrics.ScenariosCancelled.WithLabelValues(string(models.KindCompanion)).Inc()
		session.State = models.StateCancelled
		return []models.OutboundMessage{{
			ChatID:   user.ChatID,
			Text:     "Сейчас не получается ответить. Попробуй ещё раз чуть позже.",
			Keyboard: mainMenuKeyboard,
		}}, nil
	}

	if bySubscription {
		return []models.OutboundMessage{{
			ChatID:   user.ChatID,
			Text:     truncate(reply, replyLimit),
			Keyboard: [][]string{{btnEndChat}},
		}}, nil
	}

	// Бесплатный режим: один совет, затем предложение подписки.
	final := truncate(reply, freeCompanionLimit) +
		"\n\nСпасибо, что написала. Я рядом, даже когда трудно. 💗\n" +
		"Если хочешь продолжать беседу без ограничений и получать упражнения и поддержку в любой момент — подключи подписку."

	m.scheduleRetention(ctx, user.ChatID, now)
	metrics.ScenariosCompleted.WithLabelValues(string(models.KindCompanion)).Inc()
	session.State = models.StateCompleted
	return []models.OutboundMessage{{
		ChatID:   user.ChatID,
		Text:     final,
		Keyboard: upsellKeyboard,
	}}, nil
}

func (m *Machine) handleSubscriptionMenu(ctx context.Context, user *models.User, session *models.Session, text string) ([]models.OutboundMessage, error) {
	months := 0
	switch text {
	case btnTariff1:
		months = 1
	case btnTariff6:
		months = 6
	case btnTariff12:
		months = 12
	case btnBack:
		session.SetDatum(dataMenu, "")
		return m.showMainMenu(user), nil
	default:
		return []models.OutboundMessage{m.subscriptionMenu(user.ChatID)}, nil
	}

	url, err := m.checkout.StartCheckout(ctx, user, months)
	if err != nil {
		m.log.Error("failed to start checkout", sl.Err(err), slog.Int64("chat_id", user.ChatID))
		return []models.OutboundMessage{{
			ChatID:   user.ChatID,
			Text:     "Не получилось создать оплату. Попробуй чуть позже.",
			Keyboard: tariffKeyboard,
		}}, nil
	}

	session.SetDatum(dataMenu, "")
	out := []models.OutboundMessage{{
		ChatID: user.ChatID,
		Text: fmt.Sprintf("Чтобы активировать подписку, перейди по ссылке:\n%s\n\n"+
			"Подписка включится автоматически после оплаты 💎", url),
	}}
	return append(out, m.showMainMenu(user)...), nil
}

func (m *Machine) subscriptionMenu(chatID int64) models.OutboundMessage {
	return models.OutboundMessage{
		ChatID:   chatID,
		Text:     "Выбери тариф подписки:",
		Keyboard: tariffKeyboard,
	}
}

func (m *Machine) showMainMenu(user *models.User) []models.OutboundMessage {
	return []models.OutboundMessage{{
		ChatID:   user.ChatID,
		Text:     mainMenuText(user.Name),
		Keyboard: mainMenuKeyboard,
	}}
}

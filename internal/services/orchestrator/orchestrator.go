// Package orchestrator диспетчер входящих событий: сериализует обработку по
// пользователю, продвигает конечный автомат сценариев и отправляет ответы.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/models"
	"github.com/q133ss/elza-bot/internal/scenario"
)

// Repository методы хранилища, нужные диспетчеру.
type Repository interface {
	GetOrCreateUser(ctx context.Context, chatID int64) (*models.User, error)
	SaveUserProfile(ctx context.Context, u *models.User) error
	GetOrCreateSession(ctx context.Context, chatID int64) (*models.Session, error)
	SaveSession(ctx context.Context, sess *models.Session) error
	ResetSessionIfGeneration(ctx context.Context, chatID, generation int64) (bool, error)
	ListStaleSessions(ctx context.Context, cutoff time.Time) ([]*models.Session, error)
	CreateReminder(ctx context.Context, r *models.Reminder) error
}

// Transitioner продвигает конечный автомат на одно событие.
type Transitioner interface {
	Advance(ctx context.Context, user *models.User, session *models.Session, event models.InboundEvent) ([]models.OutboundMessage, error)
}

// Sender отправляет исходящее сообщение в транспорт.
type Sender interface {
	Send(ctx context.Context, msg models.OutboundMessage) error
}

const internalErrorText = "Что-то пошло не так. Попробуй ещё раз чуть позже."

// userQueue очередь событий одного пользователя. Поле running означает, что
// горутина-обработчик уже разбирает очередь.
type userQueue struct {
	pending []models.InboundEvent
	running bool
}

// Orchestrator раздаёт события по пользовательским очередям. События одного
// пользователя обрабатываются строго по одному и в порядке поступления,
// разные пользователи идут параллельно.
type Orchestrator struct {
	log     *slog.Logger
	repo    Repository
	machine Transitioner
	sender  Sender

	mu     sync.Mutex
	queues map[int64]*userQueue
	wg     sync.WaitGroup
}

// New конструктор Orchestrator.
func New(log *slog.Logger, repo Repository, machine Transitioner, sender Sender) *Orchestrator {
	return &Orchestrator{
		log:     log,
		repo:    repo,
		machine: machine,
		sender:  sender,
		queues:  make(map[int64]*userQueue),
	}
}

// Enqueue ставит событие в очередь пользователя и при необходимости запускает
// обработчик очереди. Не блокируется на обработке.
func (o *Orchestrator) Enqueue(ctx context.Context, event models.InboundEvent) {
	o.mu.Lock()
	q, ok := o.queues[event.ChatID]
	if !ok {
		q = &userQueue{}
		o.queues[event.ChatID] = q
	}
	q.pending = append(q.pending, event)
	if !q.running {
		q.running = true
		o.wg.Add(1)
		go o.drain(ctx, event.ChatID)
	}
	o.mu.Unlock()
}

// Wait дожидается завершения всех обработчиков очередей.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// drain разбирает очередь одного пользователя до опустошения. Эксклюзивность
// по пользователю держится фактом единственной работающей горутины на очередь.
func (o *Orchestrator) drain(ctx context.Context, chatID int64) {
	defer o.wg.Done()
	for {
		o.mu.Lock()
		q := o.queues[chatID]
		if len(q.pending) == 0 || ctx.Err() != nil {
			q.running = false
			o.mu.Unlock()
			return
		}
		event := q.pending[0]
		q.pending = q.pending[1:]
		o.mu.Unlock()

		o.handleEvent(ctx, event)
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, event models.InboundEvent) {
	const op = "orchestrator.handleEvent"
	log := o.log.With(slog.String("op", op), slog.Int64("chat_id", event.ChatID))

	if event.Timeout {
		o.handleTimeout(ctx, event, log)
		return
	}

	user, err := o.repo.GetOrCreateUser(ctx, event.ChatID)
	if err != nil {
		log.Error("failed to load user", sl.Err(err))
		return
	}
	session, err := o.repo.GetOrCreateSession(ctx, event.ChatID)
	if err != nil {
		log.Error("failed to load session", sl.Err(err))
		return
	}

	out, err := o.machine.Advance(ctx, user, session, event)
	if err != nil {
		log.Error("state machine failed", sl.Err(err))
		o.send(ctx, models.OutboundMessage{ChatID: event.ChatID, Text: internalErrorText})
		return
	}

	if err := o.repo.SaveUserProfile(ctx, user); err != nil {
		log.Error("failed to save user profile", sl.Err(err))
	}
	o.persistSession(ctx, session, log)

	for _, msg := range out {
		o.send(ctx, msg)
	}
}

// persistSession сохраняет результат перехода. Терминальные состояния не
// переживают событие: сессия сбрасывается в Idle с инкрементом поколения,
// чтобы висящие тайм-ауты потеряли силу.
func (o *Orchestrator) persistSession(ctx context.Context, session *models.Session, log *slog.Logger) {
	switch session.State {
	case models.StateCompleted, models.StateCancelled:
		if _, err := o.repo.ResetSessionIfGeneration(ctx, session.ChatID, session.Generation); err != nil {
			log.Error("failed to reset session", sl.Err(err))
		}
	default:
		if err := o.repo.SaveSession(ctx, session); err != nil {
			log.Error("failed to save session", sl.Err(err))
		}
	}
}

// handleTimeout сброс по неактивности. Условие по поколению отбрасывает
// тайм-аут, если пользователь успел продвинуть диалог.
func (o *Orchestrator) handleTimeout(ctx context.Context, event models.InboundEvent, log *slog.Logger) {
	reset, err := o.repo.ResetSessionIfGeneration(ctx, event.ChatID, event.Generation)
	if err != nil {
		log.Error("failed to reset stale session", sl.Err(err))
		return
	}
	if !reset {
		return
	}
	log.Info("session reset by inactivity")

	reminder := &models.Reminder{
		ChatID:  event.ChatID,
		Kind:    models.ReminderSessionResume,
		Message: scenario.ResumeNudgeText,
		DueAt:   event.Timestamp,
	}
	if err := o.repo.CreateReminder(ctx, reminder); err != nil {
		log.Error("failed to schedule resume reminder", sl.Err(err))
	}
}

func (o *Orchestrator) send(ctx context.Context, msg models.OutboundMessage) {
	if err := o.sender.Send(ctx, msg); err != nil {
		o.log.Error("failed to send message", sl.Err(err), slog.Int64("chat_id", msg.ChatID))
	}
}

// RunInactivitySweep периодически ищет зависшие в AwaitingInput сессии и
// ставит в очереди синтетические события тайм-аута.
func (o *Orchestrator) RunInactivitySweep(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep(ctx, timeout)
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context, timeout time.Duration) {
	const op = "orchestrator.sweep"
	now := time.Now()

	stale, err := o.repo.ListStaleSessions(ctx, now.Add(-timeout))
	if err != nil {
		o.log.Error("failed to list stale sessions", sl.Err(err), slog.String("op", op))
		return
	}
	for _, sess := range stale {
		o.Enqueue(ctx, models.InboundEvent{
			ChatID:     sess.ChatID,
			Timestamp:  now,
			Timeout:    true,
			Generation: sess.Generation,
		})
	}
}

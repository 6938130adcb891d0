// Package reminder планировщик и доставка напоминаний. Планировщик находит
// созревшие записи и публикует их в очередь, доставщик забирает из очереди,
// шлёт в транспорт и отмечает доставку.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/q133ss/elza-bot/internal/lib/rabbitmq"
	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/models"
)

// Сколько напоминаний публикуется за один тик.
const batchLimit = 100

// SchedulerRepository методы хранилища, нужные планировщику.
type SchedulerRepository interface {
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error)
}

// Publisher публикует напоминание в очередь доставки.
type Publisher interface {
	Publish(reminder *models.Reminder) error
}

// Scheduler периодически отбирает созревшие недоставленные напоминания.
// Флаг доставки здесь не трогается: до подтверждения транспорта напоминание
// может попасть в очередь повторно, доставка в сторону брокера at-least-once.
type Scheduler struct {
	log       *slog.Logger
	repo      SchedulerRepository
	publisher Publisher
	tick      time.Duration
}

// NewScheduler конструктор Scheduler.
func NewScheduler(log *slog.Logger, repo SchedulerRepository, publisher Publisher, tick time.Duration) *Scheduler {
	return &Scheduler{log: log, repo: repo, publisher: publisher, tick: tick}
}

// Run крутит тики планировщика до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx, time.Now()); err != nil {
				s.log.Error("scheduler tick failed", sl.Err(err))
			}
		}
	}
}

// Tick один проход: все записи с due_at <= now и delivered = false уходят в
// очередь доставки.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	const op = "reminder.Tick"

	due, err := s.repo.ListDueReminders(ctx, now, batchLimit)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, item := range due {
		if err := s.publisher.Publish(item); err != nil {
			s.log.Error("failed to publish reminder", sl.Err(err),
				slog.Int64("reminder_id", item.ID))
			continue
		}
	}
	if len(due) > 0 {
		s.log.Debug("reminders published", slog.Int("count", len(due)))
	}
	return nil
}

// AMQPPublisher публикует напоминания в обменник notifications.
type AMQPPublisher struct {
	ch *amqp.Channel
}

// NewAMQPPublisher конструктор AMQPPublisher.
func NewAMQPPublisher(ch *amqp.Channel) *AMQPPublisher {
	return &AMQPPublisher{ch: ch}
}

// Publish отправляет напоминание в очередь доставки.
func (p *AMQPPublisher) Publish(reminder *models.Reminder) error {
	queues := rabbitmq.GetReminderQueues()
	return rabbitmq.PublishMessage(p.ch, rabbitmq.NotificationsExchange, queues[0].RoutingKey, reminder)
}

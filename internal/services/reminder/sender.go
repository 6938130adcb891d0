package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/q133ss/elza-bot/internal/lib/rabbitmq"
	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/metrics"
	"github.com/q133ss/elza-bot/internal/models"
)

// SenderRepository методы хранилища, нужные доставщику.
type SenderRepository interface {
	MarkReminderDelivered(ctx context.Context, id int64) (bool, error)
}

// Transport исходящий канал сообщений пользователю.
type Transport interface {
	Send(ctx context.Context, msg models.OutboundMessage) error
}

// Sender потребитель очереди напоминаний. Сообщение сначала уходит в
// транспорт и только потом отмечается доставленным: условная отметка
// пропускает первый успех и превращает дубликаты из очереди в no-op.
type Sender struct {
	log       *slog.Logger
	repo      SenderRepository
	transport Transport
}

// NewSender конструктор Sender.
func NewSender(log *slog.Logger, repo SenderRepository, transport Transport) *Sender {
	return &Sender{log: log, repo: repo, transport: transport}
}

// Run подписывается на очередь напоминаний и обрабатывает доставки до отмены
// контекста.
func (s *Sender) Run(ctx context.Context, ch *amqp.Channel) error {
	const op = "reminder.Sender.Run"

	queue := rabbitmq.GetReminderQueues()[0]
	deliveries, err := ch.Consume(queue.QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%s: delivery channel closed", op)
			}
			if err := s.handleDelivery(ctx, delivery.Body); err != nil {
				s.log.Error("failed to handle reminder delivery", sl.Err(err))
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

func (s *Sender) handleDelivery(ctx context.Context, body []byte) error {
	const op = "reminder.handleDelivery"

	var item models.Reminder
	if err := json.Unmarshal(body, &item); err != nil {
		// Битое сообщение бессмысленно возвращать в очередь.
		s.log.Error("malformed reminder payload", sl.Err(err))
		return nil
	}

	err := s.transport.Send(ctx, models.OutboundMessage{
		ChatID: item.ChatID,
		Text:   item.Message,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	marked, err := s.repo.MarkReminderDelivered(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !marked {
		s.log.Debug("reminder already delivered", slog.Int64("reminder_id", item.ID))
		return nil
	}

	metrics.RemindersDelivered.Inc()
	s.log.Info("reminder delivered",
		slog.Int64("reminder_id", item.ID),
		slog.Int64("chat_id", item.ChatID),
		slog.String("kind", item.Kind))
	return nil
}

// Package bot собирает все части бота в одно приложение: транспорт Telegram,
// диспетчер событий, конечный автомат сценариев, воркер сверки платежей и
// конвейер напоминаний.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/q133ss/elza-bot/internal/completion"
	"github.com/q133ss/elza-bot/internal/config"
	"github.com/q133ss/elza-bot/internal/entitlement"
	"github.com/q133ss/elza-bot/internal/http/handlers/health"
	"github.com/q133ss/elza-bot/internal/lib/rabbitmq"
	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/migrations"
	"github.com/q133ss/elza-bot/internal/models"
	"github.com/q133ss/elza-bot/internal/paymentprovider"
	"github.com/q133ss/elza-bot/internal/scenario"
	orchestratorservice "github.com/q133ss/elza-bot/internal/services/orchestrator"
	paymentservice "github.com/q133ss/elza-bot/internal/services/payment"
	reconcilerservice "github.com/q133ss/elza-bot/internal/services/reconciler"
	reminderservice "github.com/q133ss/elza-bot/internal/services/reminder"
	"github.com/q133ss/elza-bot/internal/storage/repository"
	"github.com/q133ss/elza-bot/internal/transport/telegram"
)

// App приложение бота.
type App struct {
	logger       *slog.Logger
	cfg          *config.Config
	db           *repository.Storage
	conn         *amqp.Connection
	ch           *amqp.Channel
	tg           *telegram.Client
	offsets      *telegram.OffsetStore
	orchestrator *orchestratorservice.Orchestrator
	reconciler   *reconcilerservice.Reconciler
	scheduler    *reminderservice.Scheduler
	sender       *reminderservice.Sender
	server       *http.Server
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// New создаёт приложение бота и подключает все внешние зависимости.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := waitForDB(db); err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitConnection.URL, cfg.ConnectRetries, cfg.ConnectPause)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetReminderQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	tg := telegram.New(cfg.Telegram)
	completionClient := completion.New(cfg.OpenAI)
	providerClient := paymentprovider.New(cfg.YooKassa)

	limits := models.QuotaCounters{
		TarotSingle: cfg.Quota.TarotSingle,
		TarotSpread: cfg.Quota.TarotSpread,
		Numerology:  cfg.Quota.Numerology,
		Horoscope:   cfg.Quota.Horoscope,
		Companion:   cfg.Quota.Companion,
	}
	ledger := entitlement.New(logger, db, limits)
	payments := paymentservice.New(logger, db, providerClient, cfg.Subscription)
	machine := scenario.New(logger, ledger, completionClient, payments, db, db)
	orchestrator := orchestratorservice.New(logger, db, machine, tg)

	reconciler := reconcilerservice.New(logger, db, providerClient, ledger, reconcilerservice.Config{
		PollInterval: cfg.Reconciler.PollInterval,
		GracePeriod:  cfg.Reconciler.GracePeriod,
		IntentMaxAge: cfg.Reconciler.IntentMaxAge,
	})

	scheduler := reminderservice.NewScheduler(logger, db, reminderservice.NewAMQPPublisher(ch), cfg.Reminders.TickInterval)
	sender := reminderservice.NewSender(logger, db, tg)

	router := chi.NewRouter()
	router.Get("/health", health.New(logger).ServeHTTP)
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		logger:       logger,
		cfg:          cfg,
		db:           db,
		conn:         conn,
		ch:           ch,
		tg:           tg,
		offsets:      telegram.NewOffsetStore(cfg.Telegram.OffsetFile),
		orchestrator: orchestrator,
		reconciler:   reconciler,
		scheduler:    scheduler,
		sender:       sender,
		server:       srv,
	}, nil
}

// Run запускает воркеры и цикл long poll. Блокируется до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	go func() {
		a.logger.Info("metrics server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", sl.Err(err))
		}
	}()

	go a.reconciler.Run(ctx)
	go a.scheduler.Run(ctx)
	go func() {
		if err := a.sender.Run(ctx, a.ch); err != nil {
			a.logger.Error("reminder sender stopped", sl.Err(err))
		}
	}()
	go a.orchestrator.RunInactivitySweep(ctx, a.cfg.Sessions.SweepInterval, a.cfg.Sessions.InactivityTimeout)

	a.tg.Poll(ctx, a.logger, a.offsets, func(event models.InboundEvent) {
		a.orchestrator.Enqueue(ctx, event)
	})

	a.logger.Info("shutting down bot")
	a.orchestrator.Wait()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(timeoutCtx); err != nil {
		a.logger.Error("failed to shutdown metrics server", sl.Err(err))
	}

	closeResources(a.ch, a.conn, a.logger)
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
	return nil
}

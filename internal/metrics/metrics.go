// Package metrics счётчики Prometheus для оркестратора и воркеров.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScenariosStarted сценарии, успешно вышедшие из Idle, по видам.
	ScenariosStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elza_scenarios_started_total",
		Help: "Scenarios that left Idle after a successful entitlement check.",
	}, []string{"kind"})

	// ScenariosCompleted сценарии, дошедшие до Completed, по видам.
	ScenariosCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elza_scenarios_completed_total",
		Help: "Scenarios that reached the Completed state.",
	}, []string{"kind"})

	// ScenariosCancelled сценарии, завершившиеся Cancelled (ошибка провайдера или тайм-аут).
	ScenariosCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elza_scenarios_cancelled_total",
		Help: "Scenarios that ended in the Cancelled state.",
	}, []string{"kind"})

	// UpsellsShown отказы по квоте, превращённые в предложение подписки.
	UpsellsShown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elza_upsells_shown_total",
		Help: "Quota denials rendered as subscription upsell prompts.",
	})

	// PaymentsConfirmed платежи, доведённые сверкой до confirmed.
	PaymentsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elza_payments_confirmed_total",
		Help: "Payment intents reconciled to the confirmed status.",
	})

	// RemindersDelivered напоминания, отмеченные доставленными.
	RemindersDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "elza_reminders_delivered_total",
		Help: "Reminders marked delivered after transport acceptance.",
	})
)

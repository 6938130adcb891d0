// Package admin собирает HTTP-поверхность панели инспекции.
package admin

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/q133ss/elza-bot/internal/config"
	"github.com/q133ss/elza-bot/internal/http/handlers/auth/login"
	"github.com/q133ss/elza-bot/internal/http/handlers/health"
	"github.com/q133ss/elza-bot/internal/http/handlers/inspection/stats"
	"github.com/q133ss/elza-bot/internal/http/handlers/inspection/userread"
	"github.com/q133ss/elza-bot/internal/http/handlers/payment/paymentwebhook"
	"github.com/q133ss/elza-bot/internal/http/middlewarectx"
	jwtlib "github.com/q133ss/elza-bot/internal/lib/jwt"
	inspectionservice "github.com/q133ss/elza-bot/internal/services/inspection"
)

// RegisterRoutes регистрирует все маршруты панели инспекции.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config,
	inspectionService *inspectionservice.Service, webhookService paymentwebhook.Service, tokens *jwtlib.MakerImpl) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Post("/login", login.New(logger, cfg.Admin, tokens).ServeHTTP)
		r.Get("/health", health.New(logger).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(tokens, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Get("/users/{chat_id}", userread.New(logger, inspectionService).ServeHTTP)
			r.Get("/stats", stats.New(logger, inspectionService).ServeHTTP)
		})

		// Webhook endpoint (без аутентификации, проверяется подпись)
		r.Post("/payments/webhook", paymentwebhook.New(logger, webhookService, cfg.YooKassa.WebhookSecret).ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}

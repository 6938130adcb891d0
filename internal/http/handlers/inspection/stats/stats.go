// Package stats реализует HTTP-обработчик агрегированной статистики бота.
package stats

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/q133ss/elza-bot/internal/http/response"
	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/services/inspection"
)

// Service описывает интерфейс сервиса инспекции для чтения агрегатов.
type Service interface {
	Stats(ctx context.Context, now time.Time) (*inspection.Stats, error)
}

// Handler управляет HTTP-запросами на чтение статистики.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Сервис инспекции
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Статистика бота
// @Description Возвращает количество пользователей, активных подписок, платежей и раскладов по дням.
// @Tags Inspection
// @Produce  json
// @Success 200 {object} map[string]any "Агрегаты"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Security BearerAuth
// @Router /stats [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.inspection.stats"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	stats, err := h.service.Stats(r.Context(), time.Now().UTC())
	if err != nil {
		log.Error("failed to collect stats", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not collect stats"))
		return
	}

	log.Info("stats served")
	render.JSON(w, r, response.OKWithData(stats))
}

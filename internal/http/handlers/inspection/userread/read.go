// Package userread реализует HTTP-обработчик чтения снимка пользователя бота.
//
// Handler извлекает chat_id из URL, запрашивает у сервиса инспекции снимок
// (права, активную сессию, историю раскладов) и возвращает его в JSON-формате.
package userread

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/q133ss/elza-bot/internal/http/response"
	"github.com/q133ss/elza-bot/internal/lib/sl"
	"github.com/q133ss/elza-bot/internal/services/inspection"
)

// Service описывает интерфейс сервиса инспекции для чтения снимка пользователя.
type Service interface {
	UserSnapshot(ctx context.Context, chatID int64) (*inspection.UserSnapshot, error)
}

// Handler управляет HTTP-запросами на чтение снимка пользователя.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Сервис инспекции
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Снимок пользователя
// @Description Возвращает права, активную сессию и историю раскладов пользователя бота.
// @Tags Inspection
// @Produce  json
// @Param chat_id path int true "Telegram chat ID"
// @Success 200 {object} map[string]any "Снимок пользователя"
// @Failure 400 {object} response.ErrorResponse "Некорректный chat_id"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Security BearerAuth
// @Router /users/{chat_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.inspection.userread"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	chatID, err := strconv.ParseInt(chi.URLParam(r, "chat_id"), 10, 64)
	if err != nil {
		log.Error("invalid chat_id", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid chat_id"))
		return
	}

	snapshot, err := h.service.UserSnapshot(r.Context(), chatID)
	if errors.Is(err, inspection.ErrUserNotFound) {
		log.Info("user not found", slog.Int64("chat_id", chatID))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	}
	if err != nil {
		log.Error("failed to build user snapshot", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read user"))
		return
	}

	log.Info("user snapshot served", slog.Int64("chat_id", chatID))
	render.JSON(w, r, response.OKWithData(snapshot))
}

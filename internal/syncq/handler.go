package syncq

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowledger/flowledger/internal/platform/httpx"
)

// Handler exposes queue status and operator controls.
type Handler struct {
	logger *slog.Logger
	queue  *Queue
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, queue *Queue) *Handler {
	return &Handler{logger: logger, queue: queue}
}

// MountRoutes registers sync queue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sync/status", h.getStatus)
	r.Get("/sync/items", h.listItems)
	r.Post("/sync/drain", h.drain)
	r.Post("/sync/retry", h.retryFailed)
	r.Post("/sync/connectivity", h.setConnectivity)
}

func (h *Handler) drain(w http.ResponseWriter, r *http.Request) {
	result, err := h.queue.Drain(r.Context())
	if err != nil {
		h.logger.Error("drain queue", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.queue.Status())
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.queue.Items())
}

func (h *Handler) retryFailed(w http.ResponseWriter, r *http.Request) {
	reset, result, err := h.queue.RetryFailed(r.Context())
	if err != nil {
		h.logger.Error("retry failed items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"reset": reset,
		"drain": result,
	})
}

func (h *Handler) setConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	result, err := h.queue.SetOnline(r.Context(), req.Online)
	if err != nil {
		h.logger.Error("connectivity transition", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status": h.queue.Status(),
		"drain":  result,
	})
}

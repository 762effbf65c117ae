package timeline

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/flowledger/flowledger/internal/platform/httpx"
)

// Handler serves analytics, timeline and audit endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers analytics routes. Document generation is rate
// limited harder than the rest of the API.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/analytics/snapshot", h.getSnapshot)

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Get("/analytics/export", h.getExport)
		r.Get("/batches/{id}/audit", h.getAudit)
	})

	r.Get("/batches/{id}/timeline", h.getTimeline)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.GetSnapshot(r.Context(), parseDays(r))
	if err != nil {
		h.logger.Error("analytics snapshot", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetExport(r.Context(), parseDays(r))
	if err != nil {
		h.logger.Error("analytics export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.GetTimeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}

func (h *Handler) getAudit(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func parseDays(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		return 30
	}
	return days
}

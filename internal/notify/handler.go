package notify

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowledger/flowledger/internal/platform/httpx"
)

// Handler exposes the notification log to UI consumers.
type Handler struct {
	bus *Bus
}

// NewHandler builds Handler instance.
func NewHandler(bus *Bus) *Handler {
	return &Handler{bus: bus}
}

// MountRoutes registers notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/notifications", h.list)
	r.Get("/notifications/unread-count", h.unreadCount)
	r.Post("/notifications/{id}/read", h.markAsRead)
	r.Post("/notifications/read-all", h.markAllAsRead)
	r.Post("/notifications/clear-old", h.clearOld)
	r.Delete("/notifications/{id}", h.remove)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if sev := r.URL.Query().Get("severity"); sev != "" {
		httpx.JSON(w, http.StatusOK, h.bus.GetBySeverity(Severity(sev)))
		return
	}
	httpx.JSON(w, http.StatusOK, h.bus.GetAll())
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]int{"unread": h.bus.UnreadCount()})
}

func (h *Handler) markAsRead(w http.ResponseWriter, r *http.Request) {
	if !h.bus.MarkAsRead(r.Context(), chi.URLParam(r, "id")) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAllAsRead(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]int{"marked": h.bus.MarkAllAsRead(r.Context())})
}

func (h *Handler) clearOld(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if req.Days <= 0 {
		req.Days = 30
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"removed": h.bus.ClearOld(r.Context(), req.Days)})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if !h.bus.Delete(r.Context(), chi.URLParam(r, "id")) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package ledger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowledger/flowledger/internal/platform/httpx"
)

// Handler manages ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.registerBatch)
	r.Get("/batches", h.listBatches)
	r.Get("/batches/{id}", h.getBatch)

	r.Post("/dispatches", h.prepareDispatch)
	r.Get("/dispatches", h.listDispatches)
	r.Get("/dispatches/{id}", h.getDispatch)
	r.Post("/dispatches/{id}/approve", h.approveDispatch)
	r.Post("/dispatches/{id}/depart", h.confirmDeparture)
	r.Post("/dispatches/{id}/receive", h.completeReceipt)

	r.Get("/receipts", h.listReceipts)
	r.Get("/incidents", h.listIncidents)
}

func (h *Handler) registerBatch(w http.ResponseWriter, r *http.Request) {
	var req RegisterBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	batch, err := h.service.RegisterBatch(r.Context(), req)
	if err != nil {
		h.logger.Warn("register batch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Store().ListBatches(filterFromQuery(r)))
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.Store().GetBatch(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) prepareDispatch(w http.ResponseWriter, r *http.Request) {
	var req PrepareDispatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	dispatch, err := h.service.PrepareDispatch(r.Context(), req)
	if err != nil {
		h.logger.Warn("prepare dispatch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, dispatch)
}

func (h *Handler) listDispatches(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Store().ListDispatches(filterFromQuery(r)))
}

func (h *Handler) getDispatch(w http.ResponseWriter, r *http.Request) {
	dispatch, err := h.service.Store().GetDispatch(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dispatch)
}

func (h *Handler) approveDispatch(w http.ResponseWriter, r *http.Request) {
	var req ApproveDispatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	dispatch, err := h.service.ApproveDispatch(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.logger.Warn("approve dispatch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dispatch)
}

func (h *Handler) confirmDeparture(w http.ResponseWriter, r *http.Request) {
	var req ConfirmDepartureRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	dispatch, err := h.service.ConfirmDeparture(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.logger.Warn("confirm departure", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dispatch)
}

func (h *Handler) completeReceipt(w http.ResponseWriter, r *http.Request) {
	var req CompleteReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	receipt, err := h.service.CompleteReceipt(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.logger.Warn("complete receipt", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Store().ListReceipts(filterFromQuery(r)))
}

func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Store().ListIncidents(filterFromQuery(r)))
}

func filterFromQuery(r *http.Request) ListFilter {
	filter := ListFilter{Status: r.URL.Query().Get("status")}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}
	return filter
}

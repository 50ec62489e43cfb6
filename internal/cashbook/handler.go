package cashbook

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/platform/httpx"
	"github.com/officina-erp/officina-erp/internal/shared"
)

// Handler manages cash register endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers cash register routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/cash-register/preview", h.preview)
	r.Post("/cash-register/close", h.close)
	r.Post("/cash-register/closings/{id}/reconcile", h.reconcile)
	r.Get("/cash-register/closings", h.history)
	r.Get("/cash-register/closings/{id}", h.get)
	r.Get("/cash-register/days/{date}", h.getByDate)
}

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(shared.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, shared.ErrValidation)
	}
	return day, nil
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r.URL.Query().Get("date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.Preview(r.Context(), day)
	if err != nil {
		h.logger.Error("preview day", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

type closeRequest struct {
	CloseDate string `json:"close_date,omitempty"`
	ClosedBy  string `json:"closed_by,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("decode body: %w", shared.ErrValidation))
		return
	}

	day, err := parseDay(req.CloseDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	closing, err := h.service.Close(r.Context(), day, req.ClosedBy, req.Notes)
	if err != nil {
		h.logger.Warn("close day", slog.String("close_date", req.CloseDate), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, closing)
}

type reconcileRequest struct {
	CountedCash decimal.Decimal `json:"counted_cash"`
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid closing id: %w", shared.ErrValidation))
		return
	}

	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("decode body: %w", shared.ErrValidation))
		return
	}

	closing, err := h.service.Reconcile(r.Context(), id, req.CountedCash)
	if err != nil {
		h.logger.Warn("reconcile closing", slog.String("closing_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closing)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid closing id: %w", shared.ErrValidation))
		return
	}
	closing, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closing)
}

func (h *Handler) getByDate(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse(shared.DateLayout, chi.URLParam(r, "date"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid date %q: %w", chi.URLParam(r, "date"), shared.ErrValidation))
		return
	}
	closing, err := h.service.GetByDate(r.Context(), day)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closing)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	req := HistoryRequest{Limit: 100}
	var err error

	if req.FromDate, err = parseDay(r.URL.Query().Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.ToDate, err = parseDay(r.URL.Query().Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}

	closings, err := h.service.History(r.Context(), req)
	if err != nil {
		h.logger.Error("list closings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closings)
}

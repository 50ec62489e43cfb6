package workorder

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/officina-erp/officina-erp/internal/platform/httpx"
	"github.com/officina-erp/officina-erp/internal/shared"
)

// Handler manages work order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers work order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/work-orders", h.list)
	r.Get("/work-orders/{id}", h.get)
	r.Post("/work-orders/{id}/advance", h.advance)
}

type advanceRequest struct {
	TargetStatus string `json:"target_status" validate:"required"`
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid work order id: %w", shared.ErrValidation))
		return
	}

	var req advanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("decode body: %w", shared.ErrValidation))
		return
	}

	wo, err := h.service.Advance(r.Context(), id, Status(req.TargetStatus))
	if err != nil {
		h.logger.Warn("advance work order", slog.String("work_order_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid work order id: %w", shared.ErrValidation))
		return
	}
	wo, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req := ListRequest{Status: Status(r.URL.Query().Get("status")), Limit: 100}
	if cid := r.URL.Query().Get("client_id"); cid != "" {
		id, err := uuid.Parse(cid)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("invalid client id: %w", shared.ErrValidation))
			return
		}
		req.ClientID = id
	}
	orders, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list work orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

package deposit

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/billing"
	"github.com/officina-erp/officina-erp/internal/platform/httpx"
	"github.com/officina-erp/officina-erp/internal/shared"
)

// Handler manages deposit endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers deposit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/deposits", h.create)
	r.Get("/deposits", h.list)
	r.Get("/deposits/{id}", h.get)
	r.Post("/deposits/{id}/apply", h.apply)
	r.Post("/deposits/{id}/refund", h.refund)
}

type createRequest struct {
	ClientID    string          `json:"client_id" validate:"required,uuid"`
	WorkOrderID *string         `json:"work_order_id,omitempty"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Method      string          `json:"method" validate:"required"`
	DepositDate string          `json:"deposit_date,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("decode body: %w", shared.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%v: %w", err, shared.ErrValidation))
		return
	}

	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid client id: %w", shared.ErrValidation))
		return
	}

	in := CreateInput{
		ClientID: clientID,
		Amount:   req.Amount,
		Method:   billing.PaymentMethod(req.Method),
		Notes:    req.Notes,
	}
	if req.WorkOrderID != nil {
		id, err := uuid.Parse(*req.WorkOrderID)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("invalid work order id: %w", shared.ErrValidation))
			return
		}
		in.WorkOrderID = &id
	}
	if req.DepositDate != "" {
		day, err := time.Parse(shared.DateLayout, req.DepositDate)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("invalid deposit date: %w", shared.ErrValidation))
			return
		}
		in.DepositDate = day
	}

	d, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.logger.Warn("create deposit", slog.String("client_id", req.ClientID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

type applyRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required,uuid"`
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	depositID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid deposit id: %w", shared.ErrValidation))
		return
	}

	var req applyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("decode body: %w", shared.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%v: %w", err, shared.ErrValidation))
		return
	}
	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid invoice id: %w", shared.ErrValidation))
		return
	}

	d, err := h.service.Apply(r.Context(), depositID, invoiceID)
	if err != nil {
		h.logger.Warn("apply deposit",
			slog.String("deposit_id", depositID.String()),
			slog.String("invoice_id", req.InvoiceID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

type refundRequest struct {
	RefundDate string `json:"refund_date,omitempty"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	depositID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid deposit id: %w", shared.ErrValidation))
		return
	}

	var req refundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("decode body: %w", shared.ErrValidation))
		return
	}

	var refundDate time.Time
	if req.RefundDate != "" {
		if refundDate, err = time.Parse(shared.DateLayout, req.RefundDate); err != nil {
			httpx.RespondError(w, fmt.Errorf("invalid refund date: %w", shared.ErrValidation))
			return
		}
	}

	d, err := h.service.Refund(r.Context(), depositID, refundDate)
	if err != nil {
		h.logger.Warn("refund deposit", slog.String("deposit_id", depositID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid deposit id: %w", shared.ErrValidation))
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
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
	deposits, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list deposits", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, deposits)
}

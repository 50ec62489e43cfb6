package billing

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/platform/httpx"
	"github.com/officina-erp/officina-erp/internal/shared"
)

// Handler manages invoice, payment and credit note endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices/generate", h.generate)
	r.Get("/invoices", h.listInvoices)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Post("/invoices/{id}/credit-note", h.issueCreditNote)
	r.Get("/invoices/{id}/credit-notes", h.listCreditNotes)
	r.Post("/payments", h.recordPayment)
	r.Get("/payments", h.listPayments)
	r.Get("/payments/{id}", h.getPayment)
}

type generateRequest struct {
	WorkOrderID    string  `json:"work_order_id" validate:"required,uuid"`
	InvoiceDate    string  `json:"invoice_date,omitempty"`
	DueDate        string  `json:"due_date,omitempty"`
	BillToClientID *string `json:"bill_to_client_id,omitempty"`
	VATRate        *string `json:"vat_rate,omitempty"`
	ClaimNumber    string  `json:"claim_number,omitempty"`
	CustomerNotes  string  `json:"customer_notes,omitempty"`
	InternalNotes  string  `json:"internal_notes,omitempty"`
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(shared.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, shared.ErrValidation)
	}
	return day, nil
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("decode body: %w", shared.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%v: %w", err, shared.ErrValidation))
		return
	}

	workOrderID, err := uuid.Parse(req.WorkOrderID)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid work order id: %w", shared.ErrValidation))
		return
	}

	opts := GenerateOptions{
		ClaimNumber:   req.ClaimNumber,
		CustomerNotes: req.CustomerNotes,
		InternalNotes: req.InternalNotes,
	}
	if opts.InvoiceDate, err = parseDate(req.InvoiceDate); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if opts.DueDate, err = parseDate(req.DueDate); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.BillToClientID != nil {
		id, err := uuid.Parse(*req.BillToClientID)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("invalid bill-to client id: %w", shared.ErrValidation))
			return
		}
		opts.BillToClientID = &id
	}
	if req.VATRate != nil {
		rate, err := decimal.NewFromString(*req.VATRate)
		if err != nil || rate.Sign() < 0 {
			httpx.RespondError(w, fmt.Errorf("invalid vat rate: %w", shared.ErrValidation))
			return
		}
		opts.VATRate = &rate
	}

	inv, err := h.service.Generate(r.Context(), workOrderID, opts)
	if err != nil {
		h.logger.Warn("generate invoice", slog.String("work_order_id", workOrderID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid invoice id: %w", shared.ErrValidation))
		return
	}
	detail, err := h.service.GetInvoiceDetail(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	req := ListInvoicesRequest{Status: InvoiceStatus(r.URL.Query().Get("status")), Limit: 100}
	var err error

	if cid := r.URL.Query().Get("client_id"); cid != "" {
		if req.ClientID, err = uuid.Parse(cid); err != nil {
			httpx.RespondError(w, fmt.Errorf("invalid client id: %w", shared.ErrValidation))
			return
		}
	}
	if req.FromDate, err = parseDate(r.URL.Query().Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.ToDate, err = parseDate(r.URL.Query().Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}

	invoices, err := h.service.ListInvoices(r.Context(), req)
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

type creditNoteRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) issueCreditNote(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid invoice id: %w", shared.ErrValidation))
		return
	}

	var req creditNoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("decode body: %w", shared.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%v: %w", err, shared.ErrValidation))
		return
	}

	cn, err := h.service.IssueCreditNote(r.Context(), id, req.Reason)
	if err != nil {
		h.logger.Warn("issue credit note", slog.String("invoice_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cn)
}

func (h *Handler) listCreditNotes(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid invoice id: %w", shared.ErrValidation))
		return
	}
	notes, err := h.service.ListCreditNotes(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, notes)
}

type paymentRequest struct {
	ClientID    string            `json:"client_id" validate:"required,uuid"`
	Amount      decimal.Decimal   `json:"amount" validate:"required"`
	PaymentDate string            `json:"payment_date,omitempty"`
	Method      string            `json:"method" validate:"required"`
	Reference   string            `json:"reference,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Strategy    string            `json:"strategy,omitempty"`
	Allocations []allocationInput `json:"allocations,omitempty"`
}

type allocationInput struct {
	InvoiceID string          `json:"invoice_id" validate:"required,uuid"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
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

	in := RecordPaymentInput{
		ClientID:  clientID,
		Amount:    req.Amount,
		Method:    PaymentMethod(req.Method),
		Reference: req.Reference,
		Notes:     req.Notes,
		Strategy:  AllocationStrategy(req.Strategy),
	}
	if in.Strategy == "" {
		in.Strategy = StrategyFIFO
	}
	if in.PaymentDate, err = parseDate(req.PaymentDate); err != nil {
		httpx.RespondError(w, err)
		return
	}
	for _, a := range req.Allocations {
		invoiceID, err := uuid.Parse(a.InvoiceID)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("invalid invoice id in allocations: %w", shared.ErrValidation))
			return
		}
		in.Allocations = append(in.Allocations, AllocationInput{InvoiceID: invoiceID, Amount: a.Amount})
	}

	payment, err := h.service.RecordPayment(r.Context(), in)
	if err != nil {
		h.logger.Warn("record payment", slog.String("client_id", req.ClientID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid payment id: %w", shared.ErrValidation))
		return
	}
	p, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	req := ListPaymentsRequest{Limit: 100}
	var err error

	if cid := r.URL.Query().Get("client_id"); cid != "" {
		if req.ClientID, err = uuid.Parse(cid); err != nil {
			httpx.RespondError(w, fmt.Errorf("invalid client id: %w", shared.ErrValidation))
			return
		}
	}
	if req.FromDate, err = parseDate(r.URL.Query().Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.ToDate, err = parseDate(r.URL.Query().Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}

	payments, err := h.service.ListPayments(r.Context(), req)
	if err != nil {
		h.logger.Error("list payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
}

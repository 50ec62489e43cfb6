package report

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/billing"
	"github.com/officina-erp/officina-erp/internal/platform/httpx"
	"github.com/officina-erp/officina-erp/internal/registry"
)

// Handler renders invoice documents as PDF.
type Handler struct {
	client  *Client
	billing *billing.Service
	clients registry.Directory
	logger  *slog.Logger
}

// NewHandler creates a report handler.
func NewHandler(client *Client, billingSvc *billing.Service, clients registry.Directory, logger *slog.Logger) *Handler {
	return &Handler{client: client, billing: billingSvc, clients: clients, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
	r.Get("/invoices/{id}/pdf", h.invoicePDF)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Renderer Unavailable", "the PDF renderer is not reachable")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) invoicePDF(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invoice id must be a UUID")
		return
	}

	detail, err := h.billing.GetInvoiceDetail(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	payerID := detail.ClientID
	if detail.BillToClientID != nil {
		payerID = *detail.BillToClientID
	}
	payer, err := h.clients.Resolve(r.Context(), payerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	html, err := renderInvoiceHTML(detail, payer)
	if err != nil {
		h.logger.Error("invoice template failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Render Failed", "could not build invoice document")
		return
	}

	pdf, err := h.client.RenderHTML(r.Context(), html)
	if err != nil {
		h.logger.Error("invoice render failed",
			slog.String("invoice", detail.Number),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Render Failed", "the PDF renderer rejected the document")
		return
	}

	filename := "invoice-" + strings.ReplaceAll(detail.Number, "/", "-") + ".pdf"
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

var invoiceTmpl = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; color: #1a1a1a; margin: 40px; }
h1 { font-size: 20px; margin-bottom: 0; }
.meta { color: #555; margin-bottom: 24px; }
table { width: 100%; border-collapse: collapse; margin-top: 16px; }
th { text-align: left; border-bottom: 2px solid #1a1a1a; padding: 6px 4px; }
td { border-bottom: 1px solid #ddd; padding: 6px 4px; }
td.num, th.num { text-align: right; }
.totals { margin-top: 16px; width: 40%; margin-left: auto; }
.totals td { border: none; }
.totals tr.grand td { border-top: 2px solid #1a1a1a; font-weight: bold; }
.exempt { margin-top: 12px; font-style: italic; color: #555; }
</style>
</head>
<body>
<h1>Invoice {{.Invoice.Number}}</h1>
<div class="meta">
<p>Billed to: <strong>{{.Payer.Name}}</strong></p>
<p>Invoice date: {{.Invoice.InvoiceDate.Format "2006-01-02"}} &middot; Due: {{.Invoice.DueDate.Format "2006-01-02"}}</p>
{{if .Invoice.ClaimNumber}}<p>Claim reference: {{.Invoice.ClaimNumber}}</p>{{end}}
</div>
<table>
<tr><th>#</th><th>Description</th><th class="num">Qty</th><th class="num">Unit</th><th class="num">VAT %</th><th class="num">Amount</th></tr>
{{range .Lines}}
<tr>
<td>{{.Line.LineNumber}}</td>
<td>{{.Line.Description}}</td>
<td class="num">{{.Line.Quantity}}</td>
<td class="num">{{.Line.UnitPrice.StringFixed 2}}</td>
<td class="num">{{.Line.VATRate.StringFixed 0}}</td>
<td class="num">{{.Amount.StringFixed 2}}</td>
</tr>
{{end}}
</table>
<table class="totals">
<tr><td>Subtotal</td><td class="num">{{.Invoice.Subtotal.StringFixed 2}}</td></tr>
<tr><td>VAT</td><td class="num">{{.Invoice.VATAmount.StringFixed 2}}</td></tr>
<tr class="grand"><td>Total</td><td class="num">{{.Invoice.Total.StringFixed 2}}</td></tr>
<tr><td>Paid</td><td class="num">{{.Detail.PaidAmount.StringFixed 2}}</td></tr>
<tr><td>Outstanding</td><td class="num">{{.Detail.Outstanding.StringFixed 2}}</td></tr>
</table>
{{if .Invoice.VATExempt}}<p class="exempt">VAT exempt: {{.Invoice.VATExemptionCode}}</p>{{end}}
{{if .Invoice.CustomerNotes}}<p>{{.Invoice.CustomerNotes}}</p>{{end}}
</body>
</html>`))

type invoiceLineView struct {
	Line   billing.InvoiceLine
	Amount decimal.Decimal
}

type invoiceView struct {
	Invoice billing.Invoice
	Detail  *billing.InvoiceDetail
	Payer   *registry.Client
	Lines   []invoiceLineView
}

func renderInvoiceHTML(detail *billing.InvoiceDetail, payer *registry.Client) (string, error) {
	view := invoiceView{
		Invoice: detail.Invoice,
		Detail:  detail,
		Payer:   payer,
		Lines:   make([]invoiceLineView, 0, len(detail.Lines)),
	}
	for _, line := range detail.Lines {
		view.Lines = append(view.Lines, invoiceLineView{
			Line:   line,
			Amount: line.Quantity.Mul(line.UnitPrice),
		})
	}
	var buf bytes.Buffer
	if err := invoiceTmpl.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

package billing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/officina-erp/officina-erp/internal/registry"
	"github.com/officina-erp/officina-erp/internal/shared"
	"github.com/officina-erp/officina-erp/internal/workorder"
)

// memoryBilling implements both Store and Tx over plain maps.
type memoryBilling struct {
	mu sync.Mutex

	workOrders  map[uuid.UUID]*WorkOrderSnapshot
	invoices    map[uuid.UUID]*Invoice
	lines       map[uuid.UUID][]InvoiceLine
	payments    map[uuid.UUID]*Payment
	allocations []Allocation
	creditNotes []CreditNote
	sequences   map[string]int
	closedDays  map[string]bool
}

func newMemoryBilling() *memoryBilling {
	return &memoryBilling{
		workOrders: make(map[uuid.UUID]*WorkOrderSnapshot),
		invoices:   make(map[uuid.UUID]*Invoice),
		lines:      make(map[uuid.UUID][]InvoiceLine),
		payments:   make(map[uuid.UUID]*Payment),
		sequences:  make(map[string]int),
		closedDays: make(map[string]bool),
	}
}

// WithTx serializes callers the way the row locks inside a real transaction
// do, so concurrent service calls see committed state, never a torn write.
func (m *memoryBilling) WithTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func (m *memoryBilling) GetWorkOrderForInvoicing(ctx context.Context, id uuid.UUID) (*WorkOrderSnapshot, error) {
	snap, ok := m.workOrders[id]
	if !ok {
		return nil, fmt.Errorf("workorder %s: %w", id, shared.ErrNotFound)
	}
	copied := *snap
	return &copied, nil
}

func (m *memoryBilling) HasActiveInvoice(ctx context.Context, workOrderID uuid.UUID) (bool, error) {
	for _, inv := range m.invoices {
		if inv.WorkOrderID != nil && *inv.WorkOrderID == workOrderID && inv.Status != InvoiceStatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryBilling) NextSequence(ctx context.Context, scope string, year int) (int, error) {
	key := fmt.Sprintf("%s/%d", scope, year)
	m.sequences[key]++
	return m.sequences[key], nil
}

func (m *memoryBilling) InsertInvoice(ctx context.Context, inv *Invoice, lines []InvoiceLine) error {
	copied := *inv
	m.invoices[inv.ID] = &copied
	m.lines[inv.ID] = lines
	return nil
}

func (m *memoryBilling) MarkWorkOrderInvoiced(ctx context.Context, id uuid.UUID) (bool, error) {
	snap, ok := m.workOrders[id]
	if !ok || snap.Status != workorder.StatusCompleted {
		return false, nil
	}
	snap.Status = workorder.StatusInvoiced
	return true, nil
}

func (m *memoryBilling) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, shared.ErrNotFound)
	}
	copied := *inv
	return &copied, nil
}

func (m *memoryBilling) ListOpenInvoicesForUpdate(ctx context.Context, clientID uuid.UUID) ([]OpenInvoice, error) {
	var open []OpenInvoice
	for _, inv := range m.invoices {
		if inv.ClientID != clientID || !inv.Status.Open() {
			continue
		}
		balance, _ := m.Outstanding(ctx, inv.ID)
		open = append(open, OpenInvoice{Invoice: *inv, Outstanding: balance})
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].InvoiceDate.Equal(open[j].InvoiceDate) {
			return open[i].InvoiceDate.Before(open[j].InvoiceDate)
		}
		return open[i].Number < open[j].Number
	})
	return open, nil
}

func (m *memoryBilling) Outstanding(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return decimal.Zero, fmt.Errorf("invoice %s: %w", invoiceID, shared.ErrNotFound)
	}
	if inv.Status == InvoiceStatusCancelled {
		return decimal.Zero, nil
	}
	paid := decimal.Zero
	for _, a := range m.allocations {
		if a.InvoiceID == invoiceID {
			paid = paid.Add(a.Amount)
		}
	}
	return inv.Total.Sub(paid), nil
}

func (m *memoryBilling) InsertPayment(ctx context.Context, p *Payment) error {
	copied := *p
	m.payments[p.ID] = &copied
	return nil
}

func (m *memoryBilling) InsertAllocation(ctx context.Context, a *Allocation) error {
	m.allocations = append(m.allocations, *a)
	return nil
}

func (m *memoryBilling) SetInvoiceStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error {
	m.invoices[id].Status = status
	return nil
}

func (m *memoryBilling) InsertCreditNote(ctx context.Context, cn *CreditNote) error {
	m.creditNotes = append(m.creditNotes, *cn)
	return nil
}

func (m *memoryBilling) CancelInvoice(ctx context.Context, id uuid.UUID) (bool, error) {
	inv, ok := m.invoices[id]
	if !ok || inv.Status == InvoiceStatusCancelled {
		return false, nil
	}
	inv.Status = InvoiceStatusCancelled
	return true, nil
}

func (m *memoryBilling) DayClosed(ctx context.Context, day time.Time) (bool, error) {
	return m.closedDays[shared.Day(day).Format(shared.DateLayout)], nil
}

func (m *memoryBilling) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetInvoiceForUpdate(ctx, id)
}

func (m *memoryBilling) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range m.invoices {
		out = append(out, *inv)
	}
	return out, nil
}

func (m *memoryBilling) ListInvoiceLines(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceLine, error) {
	return m.lines[invoiceID], nil
}

func (m *memoryBilling) OutstandingBalance(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	return m.Outstanding(ctx, invoiceID)
}

func (m *memoryBilling) AllocatedTotal(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	paid := decimal.Zero
	for _, a := range m.allocations {
		if a.InvoiceID == invoiceID {
			paid = paid.Add(a.Amount)
		}
	}
	return paid, nil
}

func (m *memoryBilling) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (m *memoryBilling) ListPayments(ctx context.Context, req ListPaymentsRequest) ([]Payment, error) {
	var out []Payment
	for _, p := range m.payments {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memoryBilling) ListCreditNotes(ctx context.Context, invoiceID uuid.UUID) ([]CreditNote, error) {
	var out []CreditNote
	for _, cn := range m.creditNotes {
		if cn.InvoiceID == invoiceID {
			out = append(out, cn)
		}
	}
	return out, nil
}

type fakeDirectory map[uuid.UUID]*registry.Client

func (f fakeDirectory) Resolve(ctx context.Context, id uuid.UUID) (*registry.Client, error) {
	c, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

type stubNotifier struct {
	workOrderIDs []uuid.UUID
}

func (s *stubNotifier) NotifyPartsInvoiced(ctx context.Context, workOrderID uuid.UUID, usages []workorder.PartUsage) error {
	s.workOrderIDs = append(s.workOrderIDs, workOrderID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testToday = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestService(store *memoryBilling, clients fakeDirectory, notifier StockNotifier) *Service {
	svc := NewService(store, clients, notifier, ServiceConfig{
		DefaultVATRate:          decimal.NewFromInt(22),
		DefaultPaymentTermsDays: 30,
	}, testLogger())
	svc.now = func() time.Time { return testToday }
	return svc
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedClient(clients fakeDirectory) uuid.UUID {
	id := uuid.New()
	clients[id] = &registry.Client{ID: id, Name: "Rossi Marco", PaymentTermsDays: 30}
	return id
}

func seedCompletedOrder(store *memoryBilling, clientID uuid.UUID) uuid.UUID {
	id := uuid.New()
	store.workOrders[id] = &WorkOrderSnapshot{
		ID:       id,
		ClientID: clientID,
		Status:   workorder.StatusCompleted,
		Items: []workorder.Item{
			{ID: uuid.New(), WorkOrderID: id, ItemType: "labor", Description: "Brake pad replacement", Quantity: money("2"), UnitPrice: money("45.00")},
		},
		PartUsages: []workorder.PartUsage{
			{ID: uuid.New(), WorkOrderID: id, PartID: uuid.New(), Quantity: money("1"), UnitPrice: money("60.00")},
		},
	}
	return id
}

// seedInvoice installs an open invoice directly, bypassing generation.
func seedInvoice(store *memoryBilling, clientID uuid.UUID, number string, date time.Time, total string) uuid.UUID {
	id := uuid.New()
	amount := money(total)
	store.invoices[id] = &Invoice{
		ID:          id,
		ClientID:    clientID,
		Number:      number,
		InvoiceDate: date,
		DueDate:     date.AddDate(0, 0, 30),
		Status:      InvoiceStatusUnpaid,
		Subtotal:    amount,
		VATAmount:   decimal.Zero,
		Total:       amount,
	}
	return id
}

func TestGenerateFreezesLinesAndNumbers(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	notifier := &stubNotifier{}
	svc := newTestService(store, clients, notifier)

	clientID := seedClient(clients)
	woID := seedCompletedOrder(store, clientID)

	inv, err := svc.Generate(context.Background(), woID, GenerateOptions{})
	require.NoError(t, err)

	require.Equal(t, "2026/0001", inv.Number)
	require.Equal(t, InvoiceStatusUnpaid, inv.Status)
	// 2x45 labor + 1x60 part = 150 net, 22% VAT.
	require.True(t, inv.Subtotal.Equal(money("150.00")), inv.Subtotal.String())
	require.True(t, inv.VATAmount.Equal(money("33.00")), inv.VATAmount.String())
	require.True(t, inv.Total.Equal(money("183.00")), inv.Total.String())
	require.Equal(t, shared.Day(testToday), inv.InvoiceDate)
	require.Equal(t, shared.Day(testToday).AddDate(0, 0, 30), inv.DueDate)

	require.Len(t, store.lines[inv.ID], 2)
	require.Equal(t, workorder.StatusInvoiced, store.workOrders[woID].Status)
	require.Equal(t, []uuid.UUID{woID}, notifier.workOrderIDs)
}

func TestGenerateSequenceIsGapless(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	for i := 1; i <= 3; i++ {
		woID := seedCompletedOrder(store, clientID)
		inv, err := svc.Generate(context.Background(), woID, GenerateOptions{})
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("2026/%04d", i), inv.Number)
	}
}

func TestGenerateRequiresCompletedOrder(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	woID := seedCompletedOrder(store, clientID)
	store.workOrders[woID].Status = workorder.StatusInProgress

	_, err := svc.Generate(context.Background(), woID, GenerateOptions{})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestGenerateRejectsSecondInvoice(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	woID := seedCompletedOrder(store, clientID)

	_, err := svc.Generate(context.Background(), woID, GenerateOptions{})
	require.NoError(t, err)

	// Straight replay: the first call left the order invoiced, the retry
	// must still report the duplicate as a conflict.
	_, err = svc.Generate(context.Background(), woID, GenerateOptions{})
	require.ErrorIs(t, err, shared.ErrConflict)

	// Same answer even if the order somehow reads completed again.
	store.workOrders[woID].Status = workorder.StatusCompleted
	_, err = svc.Generate(context.Background(), woID, GenerateOptions{})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestGenerateAllowsReinvoiceAfterCreditNote(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	woID := seedCompletedOrder(store, clientID)

	first, err := svc.Generate(context.Background(), woID, GenerateOptions{})
	require.NoError(t, err)

	_, err = svc.IssueCreditNote(context.Background(), first.ID, "wrong rate applied")
	require.NoError(t, err)

	store.workOrders[woID].Status = workorder.StatusCompleted
	second, err := svc.Generate(context.Background(), woID, GenerateOptions{})
	require.NoError(t, err)
	require.Equal(t, "2026/0002", second.Number)
}

func TestGenerateRejectsClosedDay(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	woID := seedCompletedOrder(store, clientID)
	store.closedDays[shared.Day(testToday).Format(shared.DateLayout)] = true

	_, err := svc.Generate(context.Background(), woID, GenerateOptions{})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestGenerateExemptClientZeroVAT(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := uuid.New()
	clients[clientID] = &registry.Client{ID: clientID, Name: "Assicurazioni SpA", VATExempt: true, VATExemptionCode: "N4"}
	woID := seedCompletedOrder(store, clientID)

	inv, err := svc.Generate(context.Background(), woID, GenerateOptions{})
	require.NoError(t, err)
	require.True(t, inv.VATExempt)
	require.Equal(t, "N4", inv.VATExemptionCode)
	require.True(t, inv.VATAmount.IsZero())
	require.True(t, inv.Total.Equal(inv.Subtotal))
}

func TestGenerateThirdPartyBilling(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	ownerID := seedClient(clients)
	insurerID := uuid.New()
	clients[insurerID] = &registry.Client{ID: insurerID, Name: "Insurer", IsForeign: false, PaymentTermsDays: 60}

	woID := seedCompletedOrder(store, ownerID)
	inv, err := svc.Generate(context.Background(), woID, GenerateOptions{
		BillToClientID: &insurerID,
		ClaimNumber:    "CL-2026-118",
	})
	require.NoError(t, err)
	require.Equal(t, insurerID, inv.ClientID)
	require.Equal(t, "CL-2026-118", inv.ClaimNumber)
	require.Equal(t, shared.Day(testToday).AddDate(0, 0, 60), inv.DueDate)
}

func TestGenerateEmptyOrderRejected(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	woID := uuid.New()
	store.workOrders[woID] = &WorkOrderSnapshot{ID: woID, ClientID: clientID, Status: workorder.StatusCompleted}

	_, err := svc.Generate(context.Background(), woID, GenerateOptions{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordPaymentFIFO(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	older := seedInvoice(store, clientID, "2026/0001", shared.Day(testToday).AddDate(0, 0, -10), "100.00")
	newer := seedInvoice(store, clientID, "2026/0002", shared.Day(testToday).AddDate(0, 0, -5), "50.00")

	p, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID: clientID,
		Amount:   money("120.00"),
		Method:   MethodBankTransfer,
		Strategy: StrategyFIFO,
	})
	require.NoError(t, err)
	require.Len(t, p.Allocations, 2)
	require.Equal(t, older, p.Allocations[0].InvoiceID)
	require.True(t, p.Allocations[0].Amount.Equal(money("100.00")))
	require.Equal(t, newer, p.Allocations[1].InvoiceID)
	require.True(t, p.Allocations[1].Amount.Equal(money("20.00")))

	require.Equal(t, InvoiceStatusPaid, store.invoices[older].Status)
	require.Equal(t, InvoiceStatusPartiallyPaid, store.invoices[newer].Status)

	balance, err := store.Outstanding(context.Background(), newer)
	require.NoError(t, err)
	require.True(t, balance.Equal(money("30.00")), balance.String())
}

func TestRecordPaymentFIFOOverAllocation(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	seedInvoice(store, clientID, "2026/0001", shared.Day(testToday), "100.00")

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID: clientID,
		Amount:   money("150.00"),
		Method:   MethodCash,
		Strategy: StrategyFIFO,
	})
	require.ErrorIs(t, err, shared.ErrOverAllocation)
	require.Empty(t, store.payments)
	require.Empty(t, store.allocations)
}

func TestRecordPaymentManualExactSum(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	a := seedInvoice(store, clientID, "2026/0001", shared.Day(testToday), "80.00")
	b := seedInvoice(store, clientID, "2026/0002", shared.Day(testToday), "40.00")

	p, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID: clientID,
		Amount:   money("100.00"),
		Method:   MethodPOS,
		Strategy: StrategyManual,
		Allocations: []AllocationInput{
			{InvoiceID: a, Amount: money("80.00")},
			{InvoiceID: b, Amount: money("20.00")},
		},
	})
	require.NoError(t, err)
	require.Len(t, p.Allocations, 2)
	require.Equal(t, InvoiceStatusPaid, store.invoices[a].Status)
	require.Equal(t, InvoiceStatusPartiallyPaid, store.invoices[b].Status)
}

func TestRecordPaymentManualSumMismatch(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	a := seedInvoice(store, clientID, "2026/0001", shared.Day(testToday), "80.00")

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID:    clientID,
		Amount:      money("100.00"),
		Method:      MethodCash,
		Strategy:    StrategyManual,
		Allocations: []AllocationInput{{InvoiceID: a, Amount: money("80.00")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, store.payments)
}

func TestRecordPaymentManualOverOutstanding(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	a := seedInvoice(store, clientID, "2026/0001", shared.Day(testToday), "80.00")

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID:    clientID,
		Amount:      money("90.00"),
		Method:      MethodCash,
		Strategy:    StrategyManual,
		Allocations: []AllocationInput{{InvoiceID: a, Amount: money("90.00")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordPaymentManualForeignInvoice(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	otherID := seedClient(clients)
	foreign := seedInvoice(store, otherID, "2026/0009", shared.Day(testToday), "80.00")

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID:    clientID,
		Amount:      money("80.00"),
		Method:      MethodCash,
		Strategy:    StrategyManual,
		Allocations: []AllocationInput{{InvoiceID: foreign, Amount: money("80.00")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordPaymentInputValidation(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)
	clientID := seedClient(clients)

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID: clientID, Amount: decimal.Zero, Method: MethodCash, Strategy: StrategyFIFO,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID: clientID, Amount: money("10.00"), Method: PaymentMethod("crypto"), Strategy: StrategyFIFO,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID: clientID, Amount: money("10.00"), Method: MethodCash, Strategy: StrategyFIFO,
		PaymentDate: testToday.AddDate(0, 0, 1),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID: clientID, Amount: money("10.00"), Method: MethodCash, Strategy: StrategyManual,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordPaymentRejectsClosedDay(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	seedInvoice(store, clientID, "2026/0001", shared.Day(testToday), "100.00")
	store.closedDays[shared.Day(testToday).Format(shared.DateLayout)] = true

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		ClientID: clientID,
		Amount:   money("100.00"),
		Method:   MethodCash,
		Strategy: StrategyFIFO,
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestIssueCreditNoteCancelsInvoice(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	woID := seedCompletedOrder(store, clientID)
	inv, err := svc.Generate(context.Background(), woID, GenerateOptions{})
	require.NoError(t, err)

	cn, err := svc.IssueCreditNote(context.Background(), inv.ID, "customer dispute")
	require.NoError(t, err)
	require.Equal(t, "NC-2026/0001", cn.Number)
	require.True(t, cn.Total.Equal(inv.Total))
	require.True(t, cn.VATAmount.Equal(inv.VATAmount))
	require.Equal(t, InvoiceStatusCancelled, store.invoices[inv.ID].Status)

	// Credit note numbering is its own yearly sequence.
	require.Equal(t, 1, store.sequences["credit_note/2026"])
	require.Equal(t, 1, store.sequences["invoice/2026"])
}

func TestIssueCreditNoteTwiceConflicts(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	inv := seedInvoice(store, clientID, "2026/0001", shared.Day(testToday), "100.00")

	_, err := svc.IssueCreditNote(context.Background(), inv, "first")
	require.NoError(t, err)
	_, err = svc.IssueCreditNote(context.Background(), inv, "second")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestIssueCreditNoteRequiresReason(t *testing.T) {
	store := newMemoryBilling()
	svc := newTestService(store, fakeDirectory{}, nil)

	_, err := svc.IssueCreditNote(context.Background(), uuid.New(), "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetInvoiceDetail(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	inv := seedInvoice(store, clientID, "2026/0001", shared.Day(testToday), "100.00")
	store.allocations = append(store.allocations, Allocation{ID: uuid.New(), InvoiceID: inv, Amount: money("40.00")})

	detail, err := svc.GetInvoiceDetail(context.Background(), inv)
	require.NoError(t, err)
	require.True(t, detail.PaidAmount.Equal(money("40.00")))
	require.True(t, detail.Outstanding.Equal(money("60.00")))
}

func TestGetInvoiceDetailZeroOutstandingAfterCreditNote(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	woID := seedCompletedOrder(store, clientID)

	inv, err := svc.Generate(context.Background(), woID, GenerateOptions{})
	require.NoError(t, err)
	require.True(t, inv.Total.Equal(money("183.00")))

	_, err = svc.IssueCreditNote(context.Background(), inv.ID, "service never performed")
	require.NoError(t, err)

	detail, err := svc.GetInvoiceDetail(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusCancelled, detail.Status)
	require.True(t, detail.Outstanding.IsZero(), detail.Outstanding.String())
	require.True(t, detail.PaidAmount.IsZero(), detail.PaidAmount.String())
}

func TestRecordPaymentParallelNeverOverdraws(t *testing.T) {
	store := newMemoryBilling()
	clients := fakeDirectory{}
	svc := newTestService(store, clients, nil)

	clientID := seedClient(clients)
	invoiceID := seedInvoice(store, clientID, "2026/0001", shared.Day(testToday).AddDate(0, 0, -1), "100.00")

	const workers = 8
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordPayment(context.Background(), RecordPaymentInput{
				ClientID:    clientID,
				Amount:      money("30.00"),
				PaymentDate: testToday,
				Method:      MethodCash,
				Strategy:    StrategyFIFO,
			})
		}(i)
	}
	wg.Wait()

	// 100.00 absorbs exactly three 30.00 payments; every other attempt must
	// lose cleanly without touching the ledger.
	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, shared.ErrOverAllocation)
	}
	require.Equal(t, 3, succeeded)

	outstanding, err := store.Outstanding(context.Background(), invoiceID)
	require.NoError(t, err)
	require.True(t, outstanding.Equal(money("10.00")), outstanding.String())
	require.Equal(t, InvoiceStatusPartiallyPaid, store.invoices[invoiceID].Status)
	require.Len(t, store.allocations, 3)
	require.Len(t, store.payments, 3)
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"timbangpos/backend/internal/domain"
	"timbangpos/backend/internal/store"
	"timbangpos/backend/internal/store/memory"
)

const testManagerPIN = "4321"

func newTestService() (*Service, context.Context) {
	svc := New(memory.NewSeeded(), nil, testManagerPIN)
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	return svc, ctx
}

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

// linesWorth builds a single weighed line with the given net weight: gross is
// net plus one 5kg cage, so net times unit price is the invoice total.
func linesWorth(t *testing.T, net string, unitPrice string) []domain.LineItemInput {
	t.Helper()
	return []domain.LineItemInput{{
		GrossWeight: d(t, net).Add(d(t, "5")),
		CagesCount:  1,
		CageWeight:  d(t, "5"),
		UnitPrice:   d(t, unitPrice),
	}}
}

func mustCreateInvoice(t *testing.T, svc *Service, ctx context.Context, req domain.InvoiceCreateRequest) domain.SaleResult {
	t.Helper()
	result, err := svc.CreateInvoice(ctx, req)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return result
}

func TestInvoiceCarriesBalanceForward(t *testing.T) {
	svc, ctx := newTestService()

	first := mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"), // final 100
	})
	if !first.Invoice.PreviousBalance.IsZero() {
		t.Fatalf("expected zero previous balance, got %s", first.Invoice.PreviousBalance)
	}
	if !first.Invoice.CurrentBalance.Equal(d(t, "100")) {
		t.Fatalf("expected current balance 100, got %s", first.Invoice.CurrentBalance)
	}

	second := mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "50", "5"), // final 250
	})
	if !second.Invoice.PreviousBalance.Equal(d(t, "100")) {
		t.Fatalf("expected previous balance 100, got %s", second.Invoice.PreviousBalance)
	}
	if !second.Invoice.CurrentBalance.Equal(d(t, "350")) {
		t.Fatalf("expected current balance 350, got %s", second.Invoice.CurrentBalance)
	}

	customer, err := svc.GetCustomer(ctx, "cus-demo-budi")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !customer.TotalDebt.Equal(d(t, "350")) {
		t.Fatalf("expected total debt 350, got %s", customer.TotalDebt)
	}
}

func TestInvoiceNumbersAreSequential(t *testing.T) {
	svc, ctx := newTestService()

	first := mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "10", "2"),
	})
	second := mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-sari",
		TruckID:    "trk-demo-2",
		Lines:      linesWorth(t, "10", "2"),
	})

	if first.Invoice.Number != "INV-000001" {
		t.Fatalf("expected INV-000001, got %s", first.Invoice.Number)
	}
	if second.Invoice.Number != "INV-000002" {
		t.Fatalf("expected INV-000002, got %s", second.Invoice.Number)
	}
}

func TestCounterPaymentClearsPriorDebt(t *testing.T) {
	svc, ctx := newTestService()

	mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"), // debt 100
	})

	// pay today's 250 plus the old 100 in one go
	result := mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID:    "cus-demo-budi",
		TruckID:       "trk-demo-1",
		Lines:         linesWorth(t, "50", "5"), // final 250
		PaymentAmount: d(t, "350"),
	})
	if !result.RemainingBalance.IsZero() {
		t.Fatalf("expected nothing left on the invoice, got %s", result.RemainingBalance)
	}

	customer, err := svc.GetCustomer(ctx, "cus-demo-budi")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !customer.TotalDebt.IsZero() {
		t.Fatalf("expected debt cleared, got %s", customer.TotalDebt)
	}
}

func TestOverpaymentNeverGoesNegative(t *testing.T) {
	svc, ctx := newTestService()

	result := mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID:    "cus-demo-budi",
		TruckID:       "trk-demo-1",
		Lines:         linesWorth(t, "40", "5"), // final 200
		PaymentAmount: d(t, "300"),
	})
	if !result.IsOverpayment {
		t.Fatalf("expected overpayment flag, got %+v", result)
	}
	if !result.RemainingBalance.IsZero() {
		t.Fatalf("expected remaining balance 0, got %s", result.RemainingBalance)
	}

	customer, err := svc.GetCustomer(ctx, "cus-demo-budi")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !customer.TotalDebt.IsZero() {
		t.Fatalf("expected debt exactly 0, got %s", customer.TotalDebt)
	}
}

func TestUpdateInvoiceMovesBalanceByDelta(t *testing.T) {
	svc, ctx := newTestService()

	created := mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"), // final 100
	})

	updated, err := svc.UpdateInvoice(ctx, created.Invoice.ID, domain.InvoiceUpdateRequest{
		Lines: linesWorth(t, "30", "5"), // final 150
	})
	if err != nil {
		t.Fatalf("update invoice: %v", err)
	}
	if updated.Invoice.Number != created.Invoice.Number {
		t.Fatalf("invoice number must survive edits: %s vs %s", updated.Invoice.Number, created.Invoice.Number)
	}
	if !updated.Invoice.FinalAmount.Equal(d(t, "150")) {
		t.Fatalf("expected final 150, got %s", updated.Invoice.FinalAmount)
	}

	customer, err := svc.GetCustomer(ctx, "cus-demo-budi")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !customer.TotalDebt.Equal(d(t, "150")) {
		t.Fatalf("expected debt to move 100 -> 150, got %s", customer.TotalDebt)
	}
}

func TestEditableLinesRoundTrip(t *testing.T) {
	svc, ctx := newTestService()

	created := mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"),
	})

	lines, err := svc.EditableLines(ctx, created.Invoice.ID)
	if err != nil {
		t.Fatalf("editable lines: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one representative line, got %d", len(lines))
	}

	replay, err := svc.UpdateInvoice(ctx, created.Invoice.ID, domain.InvoiceUpdateRequest{Lines: lines})
	if err != nil {
		t.Fatalf("replay update: %v", err)
	}
	if !replay.Invoice.FinalAmount.Equal(created.Invoice.FinalAmount) {
		t.Fatalf("replaying the representative line changed the total: %s vs %s",
			replay.Invoice.FinalAmount, created.Invoice.FinalAmount)
	}
}

func TestQuickPaymentClampsToTwiceDebt(t *testing.T) {
	svc, ctx := newTestService()

	mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"), // debt 100
	})

	amount := d(t, "500")
	result, err := svc.QuickPayment(ctx, domain.QuickPaymentRequest{
		CustomerID: "cus-demo-budi",
		Amount:     &amount,
	})
	if err != nil {
		t.Fatalf("quick payment: %v", err)
	}
	if !result.Payment.Amount.Equal(d(t, "200")) {
		t.Fatalf("expected amount clamped to 200, got %s", result.Payment.Amount)
	}
	if !result.RemainingDebt.Equal(d(t, "-100")) {
		t.Fatalf("expected credit of 100 after clamped payment, got %s", result.RemainingDebt)
	}
}

func TestQuickPaymentOverpaymentLeavesCredit(t *testing.T) {
	svc, ctx := newTestService()

	mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"), // debt 100
	})

	amount := d(t, "150")
	result, err := svc.QuickPayment(ctx, domain.QuickPaymentRequest{
		CustomerID: "cus-demo-budi",
		Amount:     &amount,
	})
	if err != nil {
		t.Fatalf("quick payment: %v", err)
	}
	if !result.Payment.Amount.Equal(d(t, "150")) {
		t.Fatalf("expected the full 150 recorded, got %s", result.Payment.Amount)
	}
	if !result.RemainingDebt.Equal(d(t, "-50")) {
		t.Fatalf("expected credit balance -50, got %s", result.RemainingDebt)
	}

	customer, err := svc.GetCustomer(ctx, "cus-demo-budi")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !customer.TotalDebt.Equal(d(t, "-50")) {
		t.Fatalf("expected ledger to carry the credit, got %s", customer.TotalDebt)
	}
}

func TestQuickPaymentFullDebt(t *testing.T) {
	svc, ctx := newTestService()

	mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"),
	})

	result, err := svc.QuickPayment(ctx, domain.QuickPaymentRequest{
		CustomerID: "cus-demo-budi",
		FullDebt:   true,
	})
	if err != nil {
		t.Fatalf("quick payment: %v", err)
	}
	if !result.Payment.Amount.Equal(d(t, "100")) {
		t.Fatalf("expected full debt 100, got %s", result.Payment.Amount)
	}
}

func TestQuickPaymentRejectsZeroDebt(t *testing.T) {
	svc, ctx := newTestService()

	_, err := svc.QuickPayment(ctx, domain.QuickPaymentRequest{
		CustomerID: "cus-demo-budi",
		FullDebt:   true,
	})
	if !errors.Is(err, store.ErrNothingToSettle) {
		t.Fatalf("expected ErrNothingToSettle, got %v", err)
	}
}

func TestBulkSettleIsolatesFailures(t *testing.T) {
	svc, ctx := newTestService()

	for _, customerID := range []string{"cus-demo-budi", "cus-demo-sari"} {
		mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
			CustomerID: customerID,
			TruckID:    "trk-demo-1",
			Lines:      linesWorth(t, "25", "4"), // debt 100 each
		})
	}

	summary, err := svc.BulkSettleDebt(ctx, domain.BulkSettleRequest{
		CustomerIDs: []string{
			"cus-demo-budi",
			"cus-demo-sari",
			"cus-demo-agus",   // zero debt, silently skipped
			"cus-nonexistent", // real failure, isolated
		},
		ManagerPIN: testManagerPIN,
	})
	if err != nil {
		t.Fatalf("bulk settle: %v", err)
	}
	if summary.SettledCount != 2 {
		t.Fatalf("expected 2 settled, got %d", summary.SettledCount)
	}
	if !summary.TotalAmount.Equal(d(t, "200")) {
		t.Fatalf("expected 200 collected, got %s", summary.TotalAmount)
	}
	if len(summary.FailedCustomers) != 1 || summary.FailedCustomers[0] != "cus-nonexistent" {
		t.Fatalf("expected the missing customer in the failure list, got %v", summary.FailedCustomers)
	}

	// the failure must not have rolled back the others
	for _, customerID := range []string{"cus-demo-budi", "cus-demo-sari"} {
		customer, err := svc.GetCustomer(ctx, customerID)
		if err != nil {
			t.Fatalf("get customer %s: %v", customerID, err)
		}
		if !customer.TotalDebt.IsZero() {
			t.Fatalf("expected %s settled, got debt %s", customerID, customer.TotalDebt)
		}
	}
}

func TestBulkPartialPaymentTakesFraction(t *testing.T) {
	svc, ctx := newTestService()

	mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"), // debt 100
	})

	summary, err := svc.BulkPartialPayment(ctx, domain.BulkPartialRequest{
		CustomerIDs: []string{"cus-demo-budi"},
		Fraction:    d(t, "0.5"),
		ManagerPIN:  testManagerPIN,
	})
	if err != nil {
		t.Fatalf("bulk partial: %v", err)
	}
	if !summary.TotalAmount.Equal(d(t, "50")) {
		t.Fatalf("expected 50 collected, got %s", summary.TotalAmount)
	}

	customer, err := svc.GetCustomer(ctx, "cus-demo-budi")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !customer.TotalDebt.Equal(d(t, "50")) {
		t.Fatalf("expected 50 remaining, got %s", customer.TotalDebt)
	}
}

func TestBulkRequiresManagerPIN(t *testing.T) {
	svc, ctx := newTestService()

	_, err := svc.BulkSettleDebt(ctx, domain.BulkSettleRequest{
		CustomerIDs: []string{"cus-demo-budi"},
		ManagerPIN:  "0000",
	})
	if err == nil || !strings.Contains(err.Error(), "PIN") {
		t.Fatalf("expected PIN rejection, got %v", err)
	}

	cashierCtx := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
	_, err = svc.BulkSettleDebt(cashierCtx, domain.BulkSettleRequest{
		CustomerIDs: []string{"cus-demo-budi"},
		ManagerPIN:  testManagerPIN,
	})
	if err == nil || !strings.Contains(err.Error(), "admin") {
		t.Fatalf("expected admin requirement, got %v", err)
	}
}

func TestInactiveCustomerCannotBuy(t *testing.T) {
	svc, ctx := newTestService()

	inactive := false
	if _, err := svc.UpdateCustomer(ctx, "cus-demo-budi", domain.CustomerUpdateRequest{Active: &inactive}); err != nil {
		t.Fatalf("deactivate customer: %v", err)
	}

	_, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"),
	})
	if !errors.Is(err, store.ErrCustomerInactive) {
		t.Fatalf("expected ErrCustomerInactive, got %v", err)
	}
}

func TestCreateCustomerRejectsDuplicatePhone(t *testing.T) {
	svc, ctx := newTestService()

	_, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{
		Name:  "Toko Baru",
		Phone: "0812 345-0001", // normalizes to Budi's seeded phone
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestDeleteCustomerKeepsLedgerHistory(t *testing.T) {
	svc, ctx := newTestService()

	mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"),
	})

	deleted, err := svc.DeleteCustomer(ctx, "cus-demo-budi")
	if err != nil {
		t.Fatalf("delete customer: %v", err)
	}
	if deleted {
		t.Fatalf("customer with invoices must be deactivated, not deleted")
	}
	customer, err := svc.GetCustomer(ctx, "cus-demo-budi")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.Active {
		t.Fatalf("expected customer deactivated")
	}

	// no history: hard delete
	deleted, err = svc.DeleteCustomer(ctx, "cus-demo-sari")
	if err != nil {
		t.Fatalf("delete customer: %v", err)
	}
	if !deleted {
		t.Fatalf("customer without history should be deleted")
	}
	if _, err := svc.GetCustomer(ctx, "cus-demo-sari"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	cashierCtx := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
	if _, err := svc.DeleteCustomer(cashierCtx, "cus-demo-agus"); err == nil {
		t.Fatalf("expected role rejection for cashier")
	}
}

func TestDebtorsReportSumsOutstanding(t *testing.T) {
	svc, ctx := newTestService()

	mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"), // 100
	})
	mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-sari",
		TruckID:    "trk-demo-2",
		Lines:      linesWorth(t, "50", "5"), // 250
	})

	report, err := svc.DebtorsReport(ctx)
	if err != nil {
		t.Fatalf("debtors report: %v", err)
	}
	if len(report.Debtors) != 2 {
		t.Fatalf("expected 2 debtors, got %d", len(report.Debtors))
	}
	if !report.TotalOutstanding.Equal(d(t, "350")) {
		t.Fatalf("expected outstanding 350, got %s", report.TotalOutstanding)
	}
	if report.Debtors[0].CustomerID != "cus-demo-sari" {
		t.Fatalf("expected largest debtor first, got %s", report.Debtors[0].CustomerID)
	}
}

func TestPaymentSummaryCountsRange(t *testing.T) {
	svc, ctx := newTestService()

	mustCreateInvoice(t, svc, ctx, domain.InvoiceCreateRequest{
		CustomerID: "cus-demo-budi",
		TruckID:    "trk-demo-1",
		Lines:      linesWorth(t, "25", "4"),
	})
	if _, err := svc.QuickPayment(ctx, domain.QuickPaymentRequest{CustomerID: "cus-demo-budi", FullDebt: true}); err != nil {
		t.Fatalf("quick payment: %v", err)
	}

	summary, err := svc.PaymentSummaryReport(ctx, "", "")
	if err != nil {
		t.Fatalf("payment summary: %v", err)
	}
	if summary.Count != 1 {
		t.Fatalf("expected 1 payment, got %d", summary.Count)
	}
	if !summary.TotalAmount.Equal(d(t, "100")) {
		t.Fatalf("expected total 100, got %s", summary.TotalAmount)
	}
}

func TestValidationSessionLifecycle(t *testing.T) {
	svc, _ := newTestService()

	sessionID := svc.StartCustomerValidation("")
	if sessionID == "" {
		t.Fatalf("expected a session id")
	}
	if err := svc.CustomerValidationInput(sessionID, "name", "Pelanggan Baru"); err != nil {
		t.Fatalf("input: %v", err)
	}
	if err := svc.CustomerValidationInput(sessionID, "phone", "0812-9999-888"); err != nil {
		t.Fatalf("input: %v", err)
	}

	snap, err := svc.SettleCustomerValidation(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !snap.CanSave {
		t.Fatalf("expected clean form to be saveable, got %+v", snap)
	}

	svc.EndCustomerValidation(sessionID)
	if err := svc.CustomerValidationInput(sessionID, "name", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after session end, got %v", err)
	}
}

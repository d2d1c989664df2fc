package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"timbangpos/backend/internal/cache"
	"timbangpos/backend/internal/domain"
	"timbangpos/backend/internal/invoice"
	"timbangpos/backend/internal/store"
	"timbangpos/backend/internal/validation"
	"timbangpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	debtorsCacheKey       = "pos:reports:debtors"
	summaryCacheKeyFmt    = "pos:reports:payment-summary:%s:%s"
	defaultReportCacheTTL = time.Minute
)

var oneHundred = decimal.NewFromInt(100)

type Service struct {
	repo       store.Repository
	reports    cache.ReportCache
	validators *validation.Manager
	managerPIN string
	reportTTL  time.Duration
}

func New(repo store.Repository, reports cache.ReportCache, managerPIN string) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}

	return &Service{
		repo:       repo,
		reports:    reports,
		validators: validation.NewManager(repo, validation.DefaultDebounce),
		managerPIN: managerPIN,
		reportTTL:  defaultReportCacheTTL,
	}
}

// SetReportCacheTTL overrides how long cached report payloads stay fresh.
// Values <= 0 keep the default.
func (s *Service) SetReportCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		s.reportTTL = ttl
	}
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	phone := validation.NormalizePhone(req.Phone)

	if err := checkCustomerFields(name, phone, req.Address); err != nil {
		return domain.Customer{}, err
	}
	if err := s.checkCustomerUnique(ctx, name, phone, ""); err != nil {
		return domain.Customer{}, err
	}

	now := time.Now().UTC()
	customer := domain.Customer{
		ID:        xid.New("cus"),
		Name:      name,
		Phone:     phone,
		Address:   strings.TrimSpace(req.Address),
		Notes:     strings.TrimSpace(req.Notes),
		TotalDebt: decimal.Zero,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, domain.ActorTagPOSUser, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s,phone=%s", created.Name, created.Phone))
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer id is required", store.ErrValidation)
	}
	customer, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, filter string, page int, pageSize int) (domain.CustomerListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	customers, total, err := s.repo.ListCustomers(ctx, strings.TrimSpace(filter), page, pageSize)
	if err != nil {
		return domain.CustomerListResponse{}, err
	}
	return domain.CustomerListResponse{
		Customers: customers,
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
	}, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		updated.Phone = validation.NormalizePhone(*req.Phone)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	if err := checkCustomerFields(updated.Name, updated.Phone, updated.Address); err != nil {
		return domain.Customer{}, err
	}
	if err := s.checkCustomerUnique(ctx, updated.Name, updated.Phone, existing.ID); err != nil {
		return domain.Customer{}, err
	}

	updated.UpdatedAt = time.Now().UTC()
	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, domain.ActorTagPOSUser, "customer_update", "customer", saved.ID, fmt.Sprintf("active=%t", saved.Active))
	return *saved, nil
}

// DeleteCustomer removes a customer without ledger history; anyone with
// invoices or payments is deactivated instead so the ledger stays auditable.
func (s *Service) DeleteCustomer(ctx context.Context, id string) (deleted bool, err error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return false, fmt.Errorf("admin role required")
	}

	customer, err := s.GetCustomer(ctx, id)
	if err != nil {
		return false, err
	}

	hasHistory, err := s.repo.CustomerHasHistory(ctx, customer.ID)
	if err != nil {
		return false, err
	}
	if hasHistory {
		customer.Active = false
		customer.UpdatedAt = time.Now().UTC()
		if _, err := s.repo.UpdateCustomer(ctx, customer); err != nil {
			return false, err
		}
		s.logAudit(ctx, domain.ActorTagPOSUser, "customer_deactivate", "customer", customer.ID, "has ledger history")
		return false, nil
	}

	if err := s.repo.DeleteCustomer(ctx, customer.ID); err != nil {
		return false, err
	}
	s.logAudit(ctx, domain.ActorTagPOSUser, "customer_delete", "customer", customer.ID, "no ledger history")
	return true, nil
}

func (s *Service) CreateTruck(ctx context.Context, req domain.TruckCreateRequest) (domain.Truck, error) {
	plate := strings.ToUpper(strings.TrimSpace(req.PlateNumber))
	if plate == "" {
		return domain.Truck{}, fmt.Errorf("%w: plate number is required", store.ErrValidation)
	}

	truck := domain.Truck{
		ID:          xid.New("trk"),
		PlateNumber: plate,
		DriverName:  strings.TrimSpace(req.DriverName),
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	saved, err := s.repo.CreateTruck(ctx, truck)
	if err != nil {
		return domain.Truck{}, err
	}

	s.logAudit(ctx, domain.ActorTagPOSUser, "truck_create", "truck", saved.ID, plate)
	return *saved, nil
}

func (s *Service) ListTrucks(ctx context.Context) ([]domain.Truck, error) {
	return s.repo.ListTrucks(ctx)
}

// CreateInvoice records a sale: validates the weighed lines, condenses them
// into the invoice aggregate and hands the store one atomic unit of work
// covering the invoice row, the debt increase and the optional counter
// payment.
func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.SaleResult, error) {
	customer, truck, err := s.checkSaleParties(ctx, req.CustomerID, req.TruckID)
	if err != nil {
		return domain.SaleResult{}, err
	}

	if req.PaymentAmount.IsNegative() {
		return domain.SaleResult{}, fmt.Errorf("%w: payment amount cannot be negative", store.ErrValidation)
	}
	method, err := resolvePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.SaleResult{}, err
	}
	if err := invoice.ValidateLines(req.Lines); err != nil {
		return domain.SaleResult{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	invoiceDate, err := resolveInvoiceDate(req.InvoiceDate)
	if err != nil {
		return domain.SaleResult{}, err
	}

	agg := invoice.Compute(req.Lines)
	actor, _ := ActorFromContext(ctx)

	now := time.Now().UTC()
	draft := domain.Invoice{
		ID:              xid.New("inv"),
		InvoiceDate:     invoiceDate,
		CustomerID:      customer.ID,
		TruckID:         truck.ID,
		GrossWeight:     agg.GrossWeight,
		CagesWeight:     agg.CagesWeight,
		CagesCount:      agg.CagesCount,
		NetWeight:       agg.NetWeight,
		UnitPrice:       agg.UnitPrice,
		DiscountPercent: agg.DiscountPercent,
		TotalAmount:     invoice.Round2(agg.TotalAmount),
		FinalAmount:     invoice.Round2(agg.FinalAmount),
		CreatedBy:       actor.Username,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	result, err := s.repo.CommitSale(ctx, domain.SaleCommit{
		Invoice:       draft,
		PaymentAmount: invoice.Round2(req.PaymentAmount),
		PaymentMethod: method,
		PaymentNotes:  strings.TrimSpace(req.PaymentNotes),
		ActorTag:      domain.ActorTagPOSUser,
	})
	if err != nil {
		return domain.SaleResult{}, err
	}

	result.Message = saleMessage(result)
	s.invalidateReports(ctx)
	return *result, nil
}

// UpdateInvoice replays the same validation and aggregation path as a new
// sale, then asks the store to rewrite the invoice. The store reverses the
// old final amount and applies the new one in a single transaction, so the
// customer balance only ever moves by the delta.
func (s *Service) UpdateInvoice(ctx context.Context, id string, req domain.InvoiceUpdateRequest) (domain.SaleResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleResult{}, fmt.Errorf("%w: invoice id is required", store.ErrValidation)
	}

	existing, err := s.repo.GetInvoiceByID(ctx, id)
	if err != nil {
		return domain.SaleResult{}, err
	}

	truckID := strings.TrimSpace(req.TruckID)
	if truckID == "" {
		truckID = existing.TruckID
	}
	if _, err := s.repo.GetTruckByID(ctx, truckID); err != nil {
		return domain.SaleResult{}, err
	}

	if req.PaymentAmount.IsNegative() {
		return domain.SaleResult{}, fmt.Errorf("%w: payment amount cannot be negative", store.ErrValidation)
	}
	method, err := resolvePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.SaleResult{}, err
	}
	if err := invoice.ValidateLines(req.Lines); err != nil {
		return domain.SaleResult{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	invoiceDate := existing.InvoiceDate
	if strings.TrimSpace(req.InvoiceDate) != "" {
		invoiceDate, err = resolveInvoiceDate(req.InvoiceDate)
		if err != nil {
			return domain.SaleResult{}, err
		}
	}

	agg := invoice.Compute(req.Lines)
	rewritten := *existing
	rewritten.InvoiceDate = invoiceDate
	rewritten.TruckID = truckID
	rewritten.GrossWeight = agg.GrossWeight
	rewritten.CagesWeight = agg.CagesWeight
	rewritten.CagesCount = agg.CagesCount
	rewritten.NetWeight = agg.NetWeight
	rewritten.UnitPrice = agg.UnitPrice
	rewritten.DiscountPercent = agg.DiscountPercent
	rewritten.TotalAmount = invoice.Round2(agg.TotalAmount)
	rewritten.FinalAmount = invoice.Round2(agg.FinalAmount)
	rewritten.UpdatedAt = time.Now().UTC()

	result, err := s.repo.CommitInvoiceUpdate(ctx, domain.InvoiceUpdateCommit{
		Invoice:       rewritten,
		PaymentAmount: invoice.Round2(req.PaymentAmount),
		PaymentMethod: method,
		PaymentNotes:  strings.TrimSpace(req.PaymentNotes),
		ActorTag:      domain.ActorTagPOSUser,
	})
	if err != nil {
		return domain.SaleResult{}, err
	}

	result.Message = saleMessage(result)
	s.invalidateReports(ctx)
	return *result, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.InvoiceDetails, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.InvoiceDetails{}, fmt.Errorf("%w: invoice id is required", store.ErrValidation)
	}
	details, err := s.repo.GetInvoiceDetails(ctx, id)
	if err != nil {
		return domain.InvoiceDetails{}, err
	}
	return *details, nil
}

// EditableLines rebuilds the single representative line the POS edit form
// starts from. The original per-line breakdown is not stored.
func (s *Service) EditableLines(ctx context.Context, id string) ([]domain.LineItemInput, error) {
	inv, err := s.repo.GetInvoiceByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	return []domain.LineItemInput{invoice.RepresentativeLine(*inv)}, nil
}

func (s *Service) SearchInvoices(ctx context.Context, term string, fromDate string, toDate string, limit int) (domain.InvoiceSearchResponse, error) {
	from, to, err := resolveDateRange(fromDate, toDate)
	if err != nil {
		return domain.InvoiceSearchResponse{}, err
	}
	if limit < 1 {
		limit = 100
	}

	invoices, err := s.repo.SearchInvoices(ctx, strings.TrimSpace(term), from, to, limit)
	if err != nil {
		return domain.InvoiceSearchResponse{}, err
	}
	return domain.InvoiceSearchResponse{Invoices: invoices}, nil
}

// QuickPayment takes an on-account payment with no invoice attached. The
// requested amount may be explicit, the full outstanding debt, or a
// percentage of it; whatever was asked for is clamped to at most twice the
// outstanding debt.
func (s *Service) QuickPayment(ctx context.Context, req domain.QuickPaymentRequest) (domain.PaymentResult, error) {
	customer, err := s.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	method, err := resolvePaymentMethod(req.Method)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	amount, err := resolveQuickAmount(req, customer.TotalDebt)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	payment := domain.Payment{
		ID:          xid.New("pay"),
		CustomerID:  customer.ID,
		Amount:      invoice.Round2(amount),
		Method:      method,
		PaymentDate: time.Now().UTC(),
		Notes:       strings.TrimSpace(req.Notes),
		CreatedAt:   time.Now().UTC(),
	}

	result, err := s.repo.CommitPayment(ctx, payment, domain.ActorTagQuickPayment)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	result.Message = fmt.Sprintf("payment of %s received, remaining debt %s", result.Payment.Amount.StringFixed(2), result.RemainingDebt.StringFixed(2))
	s.invalidateReports(ctx)
	return *result, nil
}

// BulkSettleDebt clears the full outstanding debt of each selected
// customer. Each settlement runs in its own transaction: one customer
// failing leaves the others settled and lands in the failure list.
func (s *Service) BulkSettleDebt(ctx context.Context, req domain.BulkSettleRequest) (domain.BulkSettlementSummary, error) {
	if err := s.authorizeBulk(ctx, req.ManagerPIN); err != nil {
		return domain.BulkSettlementSummary{}, err
	}
	return s.bulkPay(ctx, req.CustomerIDs, decimal.NewFromInt(1), domain.ActorTagBulkSettlement)
}

// BulkPartialPayment settles a fraction of each customer's debt, rounded to
// two decimals per customer.
func (s *Service) BulkPartialPayment(ctx context.Context, req domain.BulkPartialRequest) (domain.BulkSettlementSummary, error) {
	if err := s.authorizeBulk(ctx, req.ManagerPIN); err != nil {
		return domain.BulkSettlementSummary{}, err
	}
	if !req.Fraction.IsPositive() || req.Fraction.GreaterThan(decimal.NewFromInt(1)) {
		return domain.BulkSettlementSummary{}, fmt.Errorf("%w: fraction must be within (0, 1]", store.ErrValidation)
	}
	return s.bulkPay(ctx, req.CustomerIDs, req.Fraction, domain.ActorTagBulkPartial)
}

func (s *Service) bulkPay(ctx context.Context, customerIDs []string, fraction decimal.Decimal, actorTag string) (domain.BulkSettlementSummary, error) {
	ids := dedupeIDs(customerIDs)
	if len(ids) == 0 {
		return domain.BulkSettlementSummary{}, fmt.Errorf("%w: no customers selected", store.ErrValidation)
	}

	summary := domain.BulkSettlementSummary{TotalAmount: decimal.Zero}
	for _, id := range ids {
		result, err := s.repo.SettleCustomerDebt(ctx, id, fraction, domain.PaymentMethodCash, actorTag)
		if err != nil {
			if errors.Is(err, store.ErrNothingToSettle) {
				continue
			}
			log.Printf("[service] WARN: bulk settlement failed customer=%s: %v", id, err)
			summary.FailedCustomers = append(summary.FailedCustomers, s.customerLabel(ctx, id))
			continue
		}
		summary.SettledCount++
		summary.TotalAmount = summary.TotalAmount.Add(result.Payment.Amount)
	}

	summary.Message = fmt.Sprintf("settled %d customers for %s", summary.SettledCount, summary.TotalAmount.StringFixed(2))
	if len(summary.FailedCustomers) > 0 {
		summary.Message += fmt.Sprintf(", %d failed", len(summary.FailedCustomers))
	}

	s.invalidateReports(ctx)
	return summary, nil
}

func (s *Service) PaymentSummaryReport(ctx context.Context, fromDate string, toDate string) (domain.PaymentSummary, error) {
	from, to, err := resolveDateRange(fromDate, toDate)
	if err != nil {
		return domain.PaymentSummary{}, err
	}

	key := fmt.Sprintf(summaryCacheKeyFmt, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if cached, ok, err := s.reports.GetPaymentSummary(ctx, key); err == nil && ok {
		return *cached, nil
	}

	summary, err := s.repo.GetPaymentSummary(ctx, from, to)
	if err != nil {
		return domain.PaymentSummary{}, err
	}
	summary.From = from.Format("2006-01-02")
	summary.To = to.Format("2006-01-02")

	if err := s.reports.SetPaymentSummary(ctx, key, &summary, s.reportTTL); err != nil {
		log.Printf("[service] WARN: failed to cache payment summary: %v", err)
	}
	return summary, nil
}

func (s *Service) DebtorsReport(ctx context.Context) (domain.DebtorsReport, error) {
	if cached, ok, err := s.reports.GetDebtors(ctx, debtorsCacheKey); err == nil && ok {
		return *cached, nil
	}

	debtors, err := s.repo.ListDebtors(ctx)
	if err != nil {
		return domain.DebtorsReport{}, err
	}

	report := domain.DebtorsReport{
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
		TotalOutstanding: decimal.Zero,
		Debtors:          debtors,
	}
	for _, d := range debtors {
		report.TotalOutstanding = report.TotalOutstanding.Add(d.TotalDebt)
	}

	if err := s.reports.SetDebtors(ctx, debtorsCacheKey, &report, s.reportTTL); err != nil {
		log.Printf("[service] WARN: failed to cache debtors report: %v", err)
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// Validation sessions expose the debounced pipeline to the customer form.

func (s *Service) StartCustomerValidation(excludeID string) string {
	return s.validators.Start(strings.TrimSpace(excludeID))
}

func (s *Service) CustomerValidationInput(sessionID string, field string, value string) error {
	pipeline, ok := s.validators.Get(sessionID)
	if !ok {
		return store.ErrNotFound
	}
	pipeline.Input(field, value)
	return nil
}

func (s *Service) CustomerValidationSnapshot(sessionID string) (validation.Snapshot, error) {
	pipeline, ok := s.validators.Get(sessionID)
	if !ok {
		return validation.Snapshot{}, store.ErrNotFound
	}
	return pipeline.Snapshot(), nil
}

func (s *Service) SettleCustomerValidation(ctx context.Context, sessionID string) (validation.Snapshot, error) {
	pipeline, ok := s.validators.Get(sessionID)
	if !ok {
		return validation.Snapshot{}, store.ErrNotFound
	}
	return pipeline.Settle(ctx)
}

func (s *Service) EndCustomerValidation(sessionID string) {
	s.validators.End(sessionID)
}

func (s *Service) checkSaleParties(ctx context.Context, customerID string, truckID string) (domain.Customer, domain.Truck, error) {
	customerID = strings.TrimSpace(customerID)
	truckID = strings.TrimSpace(truckID)
	if customerID == "" {
		return domain.Customer{}, domain.Truck{}, fmt.Errorf("%w: customer is required", store.ErrValidation)
	}
	if truckID == "" {
		return domain.Customer{}, domain.Truck{}, fmt.Errorf("%w: truck is required", store.ErrValidation)
	}

	customer, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return domain.Customer{}, domain.Truck{}, err
	}
	if !customer.Active {
		return domain.Customer{}, domain.Truck{}, store.ErrCustomerInactive
	}

	truck, err := s.repo.GetTruckByID(ctx, truckID)
	if err != nil {
		return domain.Customer{}, domain.Truck{}, err
	}
	if !truck.Active {
		return domain.Customer{}, domain.Truck{}, fmt.Errorf("%w: truck is inactive", store.ErrValidation)
	}

	return *customer, *truck, nil
}

func (s *Service) checkCustomerUnique(ctx context.Context, name string, phone string, excludeID string) error {
	if other, err := s.repo.FindCustomerByName(ctx, name, excludeID); err == nil && other != nil {
		return fmt.Errorf("%w: name already in use", store.ErrDuplicate)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[service] WARN: name uniqueness check unavailable: %v", err)
	}

	if other, err := s.repo.FindCustomerByPhone(ctx, phone, excludeID); err == nil && other != nil {
		return fmt.Errorf("%w: phone already in use", store.ErrDuplicate)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[service] WARN: phone uniqueness check unavailable: %v", err)
	}

	return nil
}

func (s *Service) authorizeBulk(ctx context.Context, pin string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if s.managerPIN == "" || subtle.ConstantTimeCompare([]byte(pin), []byte(s.managerPIN)) != 1 {
		return fmt.Errorf("invalid manager PIN")
	}
	return nil
}

func (s *Service) customerLabel(ctx context.Context, id string) string {
	customer, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return id
	}
	return customer.Name
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.reports.Invalidate(ctx, debtorsCacheKey); err != nil {
		log.Printf("[service] WARN: failed to invalidate report cache: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, actorTag string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		ActorTag:   actorTag,
		Username:   actor.Username,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func checkCustomerFields(name string, phone string, address string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if len(name) < 2 || len(name) > 100 {
		return fmt.Errorf("%w: name must be 2 to 100 characters", store.ErrValidation)
	}
	if phone == "" {
		return fmt.Errorf("%w: phone must contain only digits", store.ErrValidation)
	}
	if len(phone) < 7 || len(phone) > 15 {
		return fmt.Errorf("%w: phone must have 7 to 15 digits", store.ErrValidation)
	}
	if len(address) > 200 {
		return fmt.Errorf("%w: address is too long", store.ErrValidation)
	}
	return nil
}

func resolvePaymentMethod(method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return domain.PaymentMethodCash, nil
	}
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodTransfer, domain.PaymentMethodCheque:
		return method, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, method)
	}
}

func resolveInvoiceDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invoice date must be YYYY-MM-DD", store.ErrValidation)
	}
	return parsed.UTC(), nil
}

func resolveDateRange(fromDate string, toDate string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if strings.TrimSpace(fromDate) != "" {
		parsed, err := time.Parse("2006-01-02", fromDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: from date must be YYYY-MM-DD", store.ErrValidation)
		}
		from = parsed.UTC()
	}
	if strings.TrimSpace(toDate) != "" {
		parsed, err := time.Parse("2006-01-02", toDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: to date must be YYYY-MM-DD", store.ErrValidation)
		}
		to = parsed.UTC().Add(24 * time.Hour)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date range is inverted", store.ErrValidation)
	}
	return from, to, nil
}

// resolveQuickAmount turns a quick-payment request into a concrete amount
// and clamps it to at most twice the outstanding debt.
func resolveQuickAmount(req domain.QuickPaymentRequest, debt decimal.Decimal) (decimal.Decimal, error) {
	if !debt.IsPositive() {
		return decimal.Zero, store.ErrNothingToSettle
	}

	var amount decimal.Decimal
	switch {
	case req.Amount != nil:
		amount = *req.Amount
	case req.FullDebt:
		amount = debt
	case req.PercentOfDebt != nil:
		pct := *req.PercentOfDebt
		if pct.IsNegative() || pct.GreaterThan(oneHundred) {
			return decimal.Zero, fmt.Errorf("%w: percent must be within [0, 100]", store.ErrValidation)
		}
		amount = debt.Mul(pct).Div(oneHundred)
	default:
		return decimal.Zero, fmt.Errorf("%w: amount, percent_of_debt or full_debt is required", store.ErrValidation)
	}

	ceiling := debt.Mul(decimal.NewFromInt(2))
	if amount.GreaterThan(ceiling) {
		amount = ceiling
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	return amount, nil
}

func saleMessage(result *domain.SaleResult) string {
	switch {
	case result.IsOverpayment:
		return fmt.Sprintf("invoice %s recorded, payment exceeds amount due by %s", result.Invoice.Number, result.PaymentReceived.Sub(result.AmountDue).StringFixed(2))
	case result.RemainingBalance.IsZero() && result.PaymentReceived.IsPositive():
		return fmt.Sprintf("invoice %s paid in full", result.Invoice.Number)
	case result.PaymentReceived.IsPositive():
		return fmt.Sprintf("invoice %s recorded, %s remains on the invoice", result.Invoice.Number, result.RemainingBalance.StringFixed(2))
	default:
		return fmt.Sprintf("invoice %s recorded on account", result.Invoice.Number)
	}
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

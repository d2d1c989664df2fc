package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"timbangpos/backend/internal/domain"
	"timbangpos/backend/internal/invoice"
	"timbangpos/backend/internal/store"
	"timbangpos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	customersByID   map[string]domain.Customer
	trucksByID      map[string]domain.Truck
	invoicesByID    map[string]domain.Invoice
	paymentsByID    map[string]domain.Payment
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	invoiceSeq      int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	customers := []domain.Customer{
		{ID: "cus-demo-budi", Name: "Budi Santoso", Phone: "08123450001", Address: "Pasar Induk Blok A", TotalDebt: decimal.Zero, Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "cus-demo-sari", Name: "Warung Sari Rasa", Phone: "08123450002", Address: "Jl. Merdeka 12", TotalDebt: decimal.Zero, Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "cus-demo-agus", Name: "Agus Ayam Potong", Phone: "08123450003", TotalDebt: decimal.Zero, Active: true, CreatedAt: now, UpdatedAt: now},
	}
	trucks := []domain.Truck{
		{ID: "trk-demo-1", PlateNumber: "B 9001 TK", DriverName: "Joko", Active: true, CreatedAt: now},
		{ID: "trk-demo-2", PlateNumber: "B 9002 TK", DriverName: "Rahmat", Active: true, CreatedAt: now},
	}

	customerMap := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
	}
	truckMap := make(map[string]domain.Truck, len(trucks))
	for _, t := range trucks {
		truckMap[t.ID] = t
	}

	return &Store{
		customersByID:   customerMap,
		trucksByID:      truckMap,
		invoicesByID:    make(map[string]domain.Invoice),
		paymentsByID:    make(map[string]domain.Payment),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	for _, existing := range s.customersByID {
		if strings.EqualFold(existing.Name, customer.Name) || existing.Phone == customer.Phone {
			return nil, store.ErrDuplicate
		}
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
		customer.UpdatedAt = customer.CreatedAt
	}

	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) FindCustomerByName(_ context.Context, name string, excludeID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, customer := range s.customersByID {
		if customer.ID == excludeID {
			continue
		}
		if strings.EqualFold(customer.Name, strings.TrimSpace(name)) {
			copyCustomer := customer
			return &copyCustomer, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindCustomerByPhone(_ context.Context, phone string, excludeID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, customer := range s.customersByID {
		if customer.ID == excludeID {
			continue
		}
		if customer.Phone == phone {
			copyCustomer := customer
			return &copyCustomer, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListCustomers(_ context.Context, filter string, page int, pageSize int) ([]domain.Customer, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter = strings.ToLower(strings.TrimSpace(filter))
	matched := make([]domain.Customer, 0, len(s.customersByID))
	for _, customer := range s.customersByID {
		if !customer.Active {
			continue
		}
		if filter != "" &&
			!strings.Contains(strings.ToLower(customer.Name), filter) &&
			!strings.Contains(customer.Phone, filter) {
			continue
		}
		matched = append(matched, customer)
	}

	slices.SortFunc(matched, func(a, b domain.Customer) int {
		return cmpString(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return []domain.Customer{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	pageOut := make([]domain.Customer, end-start)
	copy(pageOut, matched[start:end])
	return pageOut, total, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customersByID[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	// TotalDebt is owned by the ledger commits; updates never touch it.
	customer.TotalDebt = existing.TotalDebt
	customer.CreatedAt = existing.CreatedAt

	s.customersByID[customer.ID] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) CustomerHasHistory(_ context.Context, customerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoicesByID {
		if inv.CustomerID == customerID {
			return true, nil
		}
	}
	for _, payment := range s.paymentsByID {
		if payment.CustomerID == customerID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteCustomer(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customersByID[customerID]; !exists {
		return store.ErrNotFound
	}
	delete(s.customersByID, customerID)
	return nil
}

func (s *Store) CreateTruck(_ context.Context, truck domain.Truck) (*domain.Truck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if truck.PlateNumber == "" {
		return nil, store.ErrValidation
	}
	for _, existing := range s.trucksByID {
		if strings.EqualFold(existing.PlateNumber, truck.PlateNumber) {
			return nil, store.ErrDuplicate
		}
	}
	if truck.ID == "" {
		truck.ID = xid.New("trk")
	}
	if truck.CreatedAt.IsZero() {
		truck.CreatedAt = time.Now().UTC()
	}

	s.trucksByID[truck.ID] = truck
	created := truck
	return &created, nil
}

func (s *Store) GetTruckByID(_ context.Context, id string) (*domain.Truck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	truck, exists := s.trucksByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyTruck := truck
	return &copyTruck, nil
}

func (s *Store) ListTrucks(_ context.Context) ([]domain.Truck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trucks := make([]domain.Truck, 0, len(s.trucksByID))
	for _, truck := range s.trucksByID {
		trucks = append(trucks, truck)
	}
	slices.SortFunc(trucks, func(a, b domain.Truck) int {
		return cmpString(a.PlateNumber, b.PlateNumber)
	})
	return trucks, nil
}

// CommitSale applies one sale as a unit: assign the invoice number, snapshot
// the balance, raise the customer debt by the final amount and take the
// optional counter payment against it.
func (s *Store) CommitSale(_ context.Context, commit domain.SaleCommit) (*domain.SaleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := commit.Invoice
	if inv.CustomerID == "" || inv.FinalAmount.IsNegative() {
		return nil, store.ErrValidation
	}
	customer, exists := s.customersByID[inv.CustomerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !customer.Active {
		return nil, store.ErrCustomerInactive
	}
	if commit.PaymentAmount.IsNegative() {
		return nil, store.ErrValidation
	}

	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}
	s.invoiceSeq++
	inv.Number = xid.InvoiceNumber(s.invoiceSeq)

	prior := customer.TotalDebt
	inv.PreviousBalance = prior
	inv.CurrentBalance = invoice.CurrentBalance(prior, inv.FinalAmount)
	customer.TotalDebt = inv.CurrentBalance

	var payment *domain.Payment
	if commit.PaymentAmount.IsPositive() {
		reduction := invoice.DebtReduction(commit.PaymentAmount, inv.FinalAmount, prior)
		customer.TotalDebt = customer.TotalDebt.Sub(reduction)
		p := domain.Payment{
			ID:          xid.New("pay"),
			CustomerID:  customer.ID,
			InvoiceID:   inv.ID,
			Amount:      commit.PaymentAmount,
			Method:      commit.PaymentMethod,
			PaymentDate: time.Now().UTC(),
			Notes:       commit.PaymentNotes,
			CreatedAt:   time.Now().UTC(),
		}
		s.paymentsByID[p.ID] = p
		payment = &p
	}

	s.customersByID[customer.ID] = customer
	s.invoicesByID[inv.ID] = inv
	s.appendAudit(commit.ActorTag, "invoice_create", "invoice", inv.ID, "number="+inv.Number+",final="+inv.FinalAmount.StringFixed(2))

	return &domain.SaleResult{
		Success:          true,
		Invoice:          inv,
		Payment:          payment,
		AmountDue:        inv.FinalAmount,
		PaymentReceived:  commit.PaymentAmount,
		RemainingBalance: invoice.RemainingBalance(inv.FinalAmount, commit.PaymentAmount),
		IsOverpayment:    commit.PaymentAmount.GreaterThan(inv.FinalAmount),
	}, nil
}

// CommitInvoiceUpdate rewrites an invoice and moves the customer balance by
// the difference between the new and old final amounts.
func (s *Store) CommitInvoiceUpdate(_ context.Context, commit domain.InvoiceUpdateCommit) (*domain.SaleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := commit.Invoice
	existing, exists := s.invoicesByID[inv.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	customer, exists := s.customersByID[existing.CustomerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if commit.PaymentAmount.IsNegative() || inv.FinalAmount.IsNegative() {
		return nil, store.ErrValidation
	}

	delta := inv.FinalAmount.Sub(existing.FinalAmount)
	newDebt := customer.TotalDebt.Add(delta)
	if newDebt.IsNegative() {
		// The old amount was already paid down further than the rewrite
		// can reverse.
		return nil, store.ErrStaleBalance
	}

	inv.Number = existing.Number
	inv.CustomerID = existing.CustomerID
	inv.CreatedBy = existing.CreatedBy
	inv.CreatedAt = existing.CreatedAt
	inv.PreviousBalance = existing.PreviousBalance
	inv.CurrentBalance = invoice.CurrentBalance(existing.PreviousBalance, inv.FinalAmount)
	customer.TotalDebt = newDebt

	var payment *domain.Payment
	if commit.PaymentAmount.IsPositive() {
		customer.TotalDebt = customer.TotalDebt.Sub(commit.PaymentAmount)
		p := domain.Payment{
			ID:          xid.New("pay"),
			CustomerID:  customer.ID,
			InvoiceID:   inv.ID,
			Amount:      commit.PaymentAmount,
			Method:      commit.PaymentMethod,
			PaymentDate: time.Now().UTC(),
			Notes:       commit.PaymentNotes,
			CreatedAt:   time.Now().UTC(),
		}
		s.paymentsByID[p.ID] = p
		payment = &p
	}

	s.customersByID[customer.ID] = customer
	s.invoicesByID[inv.ID] = inv
	s.appendAudit(commit.ActorTag, "invoice_update", "invoice", inv.ID, "number="+inv.Number+",delta="+delta.StringFixed(2))

	return &domain.SaleResult{
		Success:          true,
		Invoice:          inv,
		Payment:          payment,
		AmountDue:        inv.FinalAmount,
		PaymentReceived:  commit.PaymentAmount,
		RemainingBalance: invoice.RemainingBalance(inv.FinalAmount, commit.PaymentAmount),
		IsOverpayment:    commit.PaymentAmount.GreaterThan(inv.FinalAmount),
	}, nil
}

func (s *Store) GetInvoiceByID(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, exists := s.invoicesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyInv := inv
	return &copyInv, nil
}

func (s *Store) GetInvoiceDetails(_ context.Context, id string) (*domain.InvoiceDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, exists := s.invoicesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	details := domain.InvoiceDetails{Invoice: inv}
	if customer, ok := s.customersByID[inv.CustomerID]; ok {
		details.CustomerName = customer.Name
		details.CustomerPhone = customer.Phone
	}
	if truck, ok := s.trucksByID[inv.TruckID]; ok {
		details.TruckPlate = truck.PlateNumber
	}
	return &details, nil
}

func (s *Store) SearchInvoices(_ context.Context, term string, from time.Time, to time.Time, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term = strings.ToLower(strings.TrimSpace(term))
	result := make([]domain.Invoice, 0, 64)
	for _, inv := range s.invoicesByID {
		if inv.InvoiceDate.Before(from) || !inv.InvoiceDate.Before(to) {
			continue
		}
		if term != "" {
			customerName := ""
			if customer, ok := s.customersByID[inv.CustomerID]; ok {
				customerName = strings.ToLower(customer.Name)
			}
			if !strings.Contains(strings.ToLower(inv.Number), term) && !strings.Contains(customerName, term) {
				continue
			}
		}
		result = append(result, inv)
	}

	slices.SortFunc(result, func(a, b domain.Invoice) int {
		if a.InvoiceDate.Equal(b.InvoiceDate) {
			return cmpString(b.Number, a.Number)
		}
		if a.InvoiceDate.After(b.InvoiceDate) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CommitPayment records an on-account payment and decrements the debt by the
// full amount. A payment larger than the outstanding debt leaves a negative
// balance, which is credit the customer can spend on later sales.
func (s *Store) CommitPayment(_ context.Context, payment domain.Payment, actorTag string) (*domain.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !payment.Amount.IsPositive() {
		return nil, store.ErrValidation
	}
	customer, exists := s.customersByID[payment.CustomerID]
	if !exists {
		return nil, store.ErrNotFound
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = time.Now().UTC()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	customer.TotalDebt = customer.TotalDebt.Sub(payment.Amount)

	s.customersByID[customer.ID] = customer
	s.paymentsByID[payment.ID] = payment
	s.appendAudit(actorTag, "payment_create", "payment", payment.ID, "amount="+payment.Amount.StringFixed(2))

	return &domain.PaymentResult{
		Success:       true,
		Payment:       payment,
		RemainingDebt: customer.TotalDebt,
	}, nil
}

// SettleCustomerDebt pays off a fraction of the outstanding debt in one
// step. Used by the bulk flows, one call per customer.
func (s *Store) SettleCustomerDebt(_ context.Context, customerID string, fraction decimal.Decimal, method string, actorTag string) (*domain.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[customerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !customer.TotalDebt.IsPositive() {
		return nil, store.ErrNothingToSettle
	}

	amount := invoice.Round2(customer.TotalDebt.Mul(fraction))
	if !amount.IsPositive() {
		return nil, store.ErrNothingToSettle
	}

	payment := domain.Payment{
		ID:          xid.New("pay"),
		CustomerID:  customer.ID,
		Amount:      amount,
		Method:      method,
		PaymentDate: time.Now().UTC(),
		Notes:       "bulk debt settlement",
		CreatedAt:   time.Now().UTC(),
	}

	customer.TotalDebt = customer.TotalDebt.Sub(amount)
	if customer.TotalDebt.IsNegative() {
		customer.TotalDebt = decimal.Zero
	}

	s.customersByID[customer.ID] = customer
	s.paymentsByID[payment.ID] = payment
	s.appendAudit(actorTag, "debt_settle", "payment", payment.ID, "customer="+customer.ID+",amount="+amount.StringFixed(2))

	return &domain.PaymentResult{
		Success:       true,
		Payment:       payment,
		RemainingDebt: customer.TotalDebt,
	}, nil
}

func (s *Store) GetPaymentSummary(_ context.Context, from time.Time, to time.Time) (domain.PaymentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.PaymentSummary{TotalAmount: decimal.Zero}
	for _, payment := range s.paymentsByID {
		if payment.PaymentDate.Before(from) || !payment.PaymentDate.Before(to) {
			continue
		}
		summary.TotalAmount = summary.TotalAmount.Add(payment.Amount)
		summary.Count++
	}
	return summary, nil
}

func (s *Store) ListDebtors(_ context.Context) ([]domain.DebtorEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	debtors := make([]domain.DebtorEntry, 0, len(s.customersByID))
	for _, customer := range s.customersByID {
		if !customer.TotalDebt.IsPositive() {
			continue
		}
		debtors = append(debtors, domain.DebtorEntry{
			CustomerID: customer.ID,
			Name:       customer.Name,
			Phone:      customer.Phone,
			TotalDebt:  customer.TotalDebt,
		})
	}
	slices.SortFunc(debtors, func(a, b domain.DebtorEntry) int {
		if a.TotalDebt.Equal(b.TotalDebt) {
			return cmpString(a.Name, b.Name)
		}
		if a.TotalDebt.GreaterThan(b.TotalDebt) {
			return -1
		}
		return 1
	})
	return debtors, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// appendAudit writes the actor-tagged audit row inside whichever lock the
// commit already holds.
func (s *Store) appendAudit(actorTag string, action string, entityType string, entityID string, detail string) {
	s.auditLogs = append(s.auditLogs, domain.AuditLog{
		ID:         xid.New("audit"),
		ActorTag:   actorTag,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"timbangpos/backend/internal/domain"
	"timbangpos/backend/internal/invoice"
	"timbangpos/backend/internal/store"
	"timbangpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
		customer.UpdatedAt = customer.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, notes, total_debt, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, customer.ID, customer.Name, customer.Phone, customer.Address, customer.Notes,
		customer.TotalDebt, customer.Active, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, name, phone, address, notes, total_debt, active, created_at, updated_at
			FROM customers
			WHERE id = $1
		`, id).Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Address, &customer.Notes,
			&customer.TotalDebt, &customer.Active, &customer.CreatedAt, &customer.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	customer.UpdatedAt = customer.UpdatedAt.UTC()
	return &customer, nil
}

func (s *Store) FindCustomerByName(ctx context.Context, name string, excludeID string) (*domain.Customer, error) {
	return s.findCustomer(ctx, `lower(name) = lower($1)`, strings.TrimSpace(name), excludeID)
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string, excludeID string) (*domain.Customer, error) {
	return s.findCustomer(ctx, `phone = $1`, phone, excludeID)
}

func (s *Store) findCustomer(ctx context.Context, predicate string, value string, excludeID string) (*domain.Customer, error) {
	var customer domain.Customer
	err := withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, name, phone, address, notes, total_debt, active, created_at, updated_at
			FROM customers
			WHERE `+predicate+` AND id <> $2
			LIMIT 1
		`, value, excludeID).Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Address, &customer.Notes,
			&customer.TotalDebt, &customer.Active, &customer.CreatedAt, &customer.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, filter string, page int, pageSize int) ([]domain.Customer, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize
	pattern := "%" + strings.ToLower(strings.TrimSpace(filter)) + "%"

	var (
		customers []domain.Customer
		total     int
	)
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, name, phone, address, notes, total_debt, active, created_at, updated_at,
				count(*) OVER () AS total
			FROM customers
			WHERE active = true
				AND ($1 = '%%' OR lower(name) LIKE $1 OR phone LIKE $1)
			ORDER BY lower(name) ASC
			LIMIT $2 OFFSET $3
		`, pattern, pageSize, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		customers = make([]domain.Customer, 0, pageSize)
		total = 0
		for rows.Next() {
			var customer domain.Customer
			if err := rows.Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Address, &customer.Notes,
				&customer.TotalDebt, &customer.Active, &customer.CreatedAt, &customer.UpdatedAt, &total); err != nil {
				return err
			}
			customer.CreatedAt = customer.CreatedAt.UTC()
			customer.UpdatedAt = customer.UpdatedAt.UTC()
			customers = append(customers, customer)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return customers, total, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}

	// total_debt belongs to the ledger commits and is deliberately absent here
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, address = $4, notes = $5, active = $6, updated_at = $7
		WHERE id = $1
		RETURNING total_debt, created_at
	`, customer.ID, customer.Name, customer.Phone, customer.Address, customer.Notes,
		customer.Active, customer.UpdatedAt).Scan(&customer.TotalDebt, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	updated := customer
	return &updated, nil
}

func (s *Store) CustomerHasHistory(ctx context.Context, customerID string) (bool, error) {
	var hasHistory bool
	err := withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM invoices WHERE customer_id = $1)
				OR EXISTS (SELECT 1 FROM payments WHERE customer_id = $1)
		`, customerID).Scan(&hasHistory)
	})
	if err != nil {
		return false, err
	}
	return hasHistory, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, customerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateTruck(ctx context.Context, truck domain.Truck) (*domain.Truck, error) {
	if truck.PlateNumber == "" {
		return nil, store.ErrValidation
	}
	if truck.ID == "" {
		truck.ID = xid.New("trk")
	}
	if truck.CreatedAt.IsZero() {
		truck.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trucks (id, plate_number, driver_name, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, truck.ID, truck.PlateNumber, truck.DriverName, truck.Active, truck.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := truck
	return &created, nil
}

func (s *Store) GetTruckByID(ctx context.Context, id string) (*domain.Truck, error) {
	var truck domain.Truck
	err := withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, plate_number, driver_name, active, created_at
			FROM trucks
			WHERE id = $1
		`, id).Scan(&truck.ID, &truck.PlateNumber, &truck.DriverName, &truck.Active, &truck.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	truck.CreatedAt = truck.CreatedAt.UTC()
	return &truck, nil
}

func (s *Store) ListTrucks(ctx context.Context) ([]domain.Truck, error) {
	var trucks []domain.Truck
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, plate_number, driver_name, active, created_at
			FROM trucks
			ORDER BY plate_number ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		trucks = make([]domain.Truck, 0, 16)
		for rows.Next() {
			var truck domain.Truck
			if err := rows.Scan(&truck.ID, &truck.PlateNumber, &truck.DriverName, &truck.Active, &truck.CreatedAt); err != nil {
				return err
			}
			truck.CreatedAt = truck.CreatedAt.UTC()
			trucks = append(trucks, truck)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return trucks, nil
}

// CommitSale persists one sale atomically: the customer row is locked, the
// sequential invoice number is taken, the debt rises by the final amount and
// the optional counter payment is applied against it, all in one serializable
// transaction with the audit row.
func (s *Store) CommitSale(ctx context.Context, commit domain.SaleCommit) (*domain.SaleResult, error) {
	inv := commit.Invoice
	if inv.CustomerID == "" || inv.FinalAmount.IsNegative() || commit.PaymentAmount.IsNegative() {
		return nil, store.ErrValidation
	}
	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var (
		prior  decimal.Decimal
		active bool
	)
	err = pgTx.QueryRowContext(ctx, `
		SELECT total_debt, active
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, inv.CustomerID).Scan(&prior, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !active {
		return nil, store.ErrCustomerInactive
	}

	var seq int64
	if err := pgTx.QueryRowContext(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq); err != nil {
		return nil, err
	}
	inv.Number = xid.InvoiceNumber(seq)
	inv.PreviousBalance = prior
	inv.CurrentBalance = invoice.CurrentBalance(prior, inv.FinalAmount)

	newDebt := inv.CurrentBalance
	var payment *domain.Payment
	if commit.PaymentAmount.IsPositive() {
		reduction := invoice.DebtReduction(commit.PaymentAmount, inv.FinalAmount, prior)
		newDebt = newDebt.Sub(reduction)
		p, err := insertPayment(ctx, pgTx, domain.Payment{
			CustomerID: inv.CustomerID,
			InvoiceID:  inv.ID,
			Amount:     commit.PaymentAmount,
			Method:     commit.PaymentMethod,
			Notes:      commit.PaymentNotes,
		})
		if err != nil {
			return nil, err
		}
		payment = p
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, number, invoice_date, customer_id, truck_id,
			gross_weight, cages_weight, cages_count, net_weight, unit_price, discount_percent,
			total_amount, final_amount, previous_balance, current_balance,
			created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, inv.ID, inv.Number, inv.InvoiceDate, inv.CustomerID, inv.TruckID,
		inv.GrossWeight, inv.CagesWeight, inv.CagesCount, inv.NetWeight, inv.UnitPrice, inv.DiscountPercent,
		inv.TotalAmount, inv.FinalAmount, inv.PreviousBalance, inv.CurrentBalance,
		nullIfEmpty(inv.CreatedBy), inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE customers SET total_debt = $2, updated_at = now() WHERE id = $1
	`, inv.CustomerID, newDebt); err != nil {
		return nil, err
	}

	if err := insertAudit(ctx, pgTx, commit.ActorTag, inv.CreatedBy, "invoice_create", "invoice", inv.ID,
		"number="+inv.Number+",final="+inv.FinalAmount.StringFixed(2)); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

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
// the difference between the new and old final amounts in one transaction.
func (s *Store) CommitInvoiceUpdate(ctx context.Context, commit domain.InvoiceUpdateCommit) (*domain.SaleResult, error) {
	inv := commit.Invoice
	if inv.ID == "" || inv.FinalAmount.IsNegative() || commit.PaymentAmount.IsNegative() {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var (
		oldFinal        decimal.Decimal
		previousBalance decimal.Decimal
		number          string
		customerID      string
		createdBy       sql.NullString
		createdAt       time.Time
	)
	err = pgTx.QueryRowContext(ctx, `
		SELECT final_amount, previous_balance, number, customer_id, created_by, created_at
		FROM invoices
		WHERE id = $1
		FOR UPDATE
	`, inv.ID).Scan(&oldFinal, &previousBalance, &number, &customerID, &createdBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var currentDebt decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT total_debt FROM customers WHERE id = $1 FOR UPDATE
	`, customerID).Scan(&currentDebt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	delta := inv.FinalAmount.Sub(oldFinal)
	newDebt := currentDebt.Add(delta)
	if newDebt.IsNegative() {
		return nil, store.ErrStaleBalance
	}

	inv.Number = number
	inv.CustomerID = customerID
	inv.CreatedBy = createdBy.String
	inv.CreatedAt = createdAt.UTC()
	inv.PreviousBalance = previousBalance
	inv.CurrentBalance = invoice.CurrentBalance(previousBalance, inv.FinalAmount)

	var payment *domain.Payment
	if commit.PaymentAmount.IsPositive() {
		newDebt = newDebt.Sub(commit.PaymentAmount)
		p, err := insertPayment(ctx, pgTx, domain.Payment{
			CustomerID: customerID,
			InvoiceID:  inv.ID,
			Amount:     commit.PaymentAmount,
			Method:     commit.PaymentMethod,
			Notes:      commit.PaymentNotes,
		})
		if err != nil {
			return nil, err
		}
		payment = p
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE invoices
		SET invoice_date = $2, truck_id = $3,
			gross_weight = $4, cages_weight = $5, cages_count = $6, net_weight = $7,
			unit_price = $8, discount_percent = $9, total_amount = $10, final_amount = $11,
			current_balance = $12, updated_at = $13
		WHERE id = $1
	`, inv.ID, inv.InvoiceDate, inv.TruckID,
		inv.GrossWeight, inv.CagesWeight, inv.CagesCount, inv.NetWeight,
		inv.UnitPrice, inv.DiscountPercent, inv.TotalAmount, inv.FinalAmount,
		inv.CurrentBalance, inv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE customers SET total_debt = $2, updated_at = now() WHERE id = $1
	`, customerID, newDebt); err != nil {
		return nil, err
	}

	if err := insertAudit(ctx, pgTx, commit.ActorTag, "", "invoice_update", "invoice", inv.ID,
		"number="+inv.Number+",delta="+delta.StringFixed(2)); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

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

const invoiceColumns = `
	id, number, invoice_date, customer_id, truck_id,
	gross_weight, cages_weight, cages_count, net_weight, unit_price, discount_percent,
	total_amount, final_amount, previous_balance, current_balance,
	created_by, created_at, updated_at
`

func scanInvoice(row interface{ Scan(...any) error }) (domain.Invoice, error) {
	var (
		inv       domain.Invoice
		createdBy sql.NullString
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.InvoiceDate, &inv.CustomerID, &inv.TruckID,
		&inv.GrossWeight, &inv.CagesWeight, &inv.CagesCount, &inv.NetWeight, &inv.UnitPrice, &inv.DiscountPercent,
		&inv.TotalAmount, &inv.FinalAmount, &inv.PreviousBalance, &inv.CurrentBalance,
		&createdBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv.CreatedBy = createdBy.String
	inv.InvoiceDate = inv.InvoiceDate.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return inv, nil
}

func (s *Store) GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := withRetry(ctx, func() error {
		var scanErr error
		inv, scanErr = scanInvoice(s.db.QueryRowContext(ctx, `
			SELECT `+invoiceColumns+` FROM invoices WHERE id = $1
		`, id))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) GetInvoiceDetails(ctx context.Context, id string) (*domain.InvoiceDetails, error) {
	inv, err := s.GetInvoiceByID(ctx, id)
	if err != nil {
		return nil, err
	}

	details := domain.InvoiceDetails{Invoice: *inv}
	err = withRetry(ctx, func() error {
		var (
			name  sql.NullString
			phone sql.NullString
			plate sql.NullString
		)
		err := s.db.QueryRowContext(ctx, `
			SELECT c.name, c.phone, t.plate_number
			FROM invoices i
			LEFT JOIN customers c ON c.id = i.customer_id
			LEFT JOIN trucks t ON t.id = i.truck_id
			WHERE i.id = $1
		`, id).Scan(&name, &phone, &plate)
		if err != nil {
			return err
		}
		details.CustomerName = name.String
		details.CustomerPhone = phone.String
		details.TruckPlate = plate.String
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &details, nil
}

func (s *Store) SearchInvoices(ctx context.Context, term string, from time.Time, to time.Time, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(term)) + "%"

	var invoices []domain.Invoice
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+prefixed("i", invoiceColumns)+`
			FROM invoices i
			LEFT JOIN customers c ON c.id = i.customer_id
			WHERE i.invoice_date >= $1 AND i.invoice_date < $2
				AND ($3 = '%%' OR lower(i.number) LIKE $3 OR lower(c.name) LIKE $3)
			ORDER BY i.invoice_date DESC, i.number DESC
			LIMIT $4
		`, from, to, pattern, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		invoices = make([]domain.Invoice, 0, limit)
		for rows.Next() {
			inv, err := scanInvoice(rows)
			if err != nil {
				return err
			}
			invoices = append(invoices, inv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// CommitPayment records an on-account payment and decrements the customer
// debt by the full amount. A payment larger than the outstanding debt leaves
// a negative balance, which is credit the customer can spend on later sales.
func (s *Store) CommitPayment(ctx context.Context, payment domain.Payment, actorTag string) (*domain.PaymentResult, error) {
	if !payment.Amount.IsPositive() {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var debt decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT total_debt FROM customers WHERE id = $1 FOR UPDATE
	`, payment.CustomerID).Scan(&debt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	remaining := debt.Sub(payment.Amount)

	saved, err := insertPayment(ctx, pgTx, payment)
	if err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE customers SET total_debt = $2, updated_at = now() WHERE id = $1
	`, payment.CustomerID, remaining); err != nil {
		return nil, err
	}

	if err := insertAudit(ctx, pgTx, actorTag, "", "payment_create", "payment", saved.ID,
		"amount="+saved.Amount.StringFixed(2)); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &domain.PaymentResult{
		Success:       true,
		Payment:       *saved,
		RemainingDebt: remaining,
	}, nil
}

// SettleCustomerDebt pays off a fraction of one customer's outstanding debt
// in its own transaction. The bulk flows call it once per customer so a
// failure never rolls back the rest of the batch.
func (s *Store) SettleCustomerDebt(ctx context.Context, customerID string, fraction decimal.Decimal, method string, actorTag string) (*domain.PaymentResult, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var debt decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT total_debt FROM customers WHERE id = $1 FOR UPDATE
	`, customerID).Scan(&debt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !debt.IsPositive() {
		return nil, store.ErrNothingToSettle
	}

	amount := invoice.Round2(debt.Mul(fraction))
	if !amount.IsPositive() {
		return nil, store.ErrNothingToSettle
	}

	remaining := debt.Sub(amount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	saved, err := insertPayment(ctx, pgTx, domain.Payment{
		CustomerID: customerID,
		Amount:     amount,
		Method:     method,
		Notes:      "bulk debt settlement",
	})
	if err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE customers SET total_debt = $2, updated_at = now() WHERE id = $1
	`, customerID, remaining); err != nil {
		return nil, err
	}

	if err := insertAudit(ctx, pgTx, actorTag, "", "debt_settle", "payment", saved.ID,
		"customer="+customerID+",amount="+amount.StringFixed(2)); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &domain.PaymentResult{
		Success:       true,
		Payment:       *saved,
		RemainingDebt: remaining,
	}, nil
}

func (s *Store) GetPaymentSummary(ctx context.Context, from time.Time, to time.Time) (domain.PaymentSummary, error) {
	var summary domain.PaymentSummary
	err := withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount), 0), COUNT(*)
			FROM payments
			WHERE payment_date >= $1 AND payment_date < $2
		`, from, to).Scan(&summary.TotalAmount, &summary.Count)
	})
	if err != nil {
		return domain.PaymentSummary{}, err
	}
	return summary, nil
}

func (s *Store) ListDebtors(ctx context.Context) ([]domain.DebtorEntry, error) {
	var debtors []domain.DebtorEntry
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, name, phone, total_debt
			FROM customers
			WHERE total_debt > 0
			ORDER BY total_debt DESC, lower(name) ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		debtors = make([]domain.DebtorEntry, 0, 64)
		for rows.Next() {
			var entry domain.DebtorEntry
			if err := rows.Scan(&entry.CustomerID, &entry.Name, &entry.Phone, &entry.TotalDebt); err != nil {
				return err
			}
			debtors = append(debtors, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return debtors, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_tag, username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorTag, nullIfEmpty(entry.Username), entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var logs []domain.AuditLog
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, actor_tag, COALESCE(username, ''), action, entity_type, entity_id, detail, created_at
			FROM audit_logs
			WHERE created_at >= $1 AND created_at < $2
			ORDER BY created_at DESC
			LIMIT $3
		`, from, to, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		logs = make([]domain.AuditLog, 0, limit)
		for rows.Next() {
			var entry domain.AuditLog
			if err := rows.Scan(&entry.ID, &entry.ActorTag, &entry.Username, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
				return err
			}
			entry.CreatedAt = entry.CreatedAt.UTC()
			logs = append(logs, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func insertPayment(ctx context.Context, pgTx *sql.Tx, payment domain.Payment) (*domain.Payment, error) {
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = time.Now().UTC()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO payments (id, customer_id, invoice_id, amount, method, payment_date, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, payment.CustomerID, nullIfEmpty(payment.InvoiceID), payment.Amount,
		payment.Method, payment.PaymentDate, payment.Notes, payment.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func insertAudit(ctx context.Context, pgTx *sql.Tx, actorTag string, username string, action string, entityType string, entityID string, detail string) error {
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_tag, username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, xid.New("audit"), actorTag, nullIfEmpty(username), action, entityType, entityID, detail, time.Now().UTC())
	return err
}

// withRetry re-runs read-only queries that fail on transient conditions
// (serialization conflicts, dropped connections). Commit paths never retry:
// the caller decides whether replaying a ledger mutation is safe.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return true
	}
	return pgerrcode.IsConnectionException(pgErr.Code)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias string, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

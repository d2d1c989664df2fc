package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"timbangpos/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrCustomerInactive = errors.New("customer inactive")
	ErrNothingToSettle  = errors.New("nothing to settle")
	ErrStaleBalance     = errors.New("stale balance")
	ErrDuplicate        = errors.New("duplicate record")
)

// Repository is the single persistence contract. Ledger-mutating operations
// (CommitSale, CommitInvoiceUpdate, CommitPayment, SettleCustomerDebt) are
// atomic: each one runs in a single transaction that locks the customer row,
// adjusts TotalDebt and writes an audit row tagged with the acting flow.
type Repository interface {
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	FindCustomerByName(ctx context.Context, name string, excludeID string) (*domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string, excludeID string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, filter string, page int, pageSize int) ([]domain.Customer, int, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	CustomerHasHistory(ctx context.Context, customerID string) (bool, error)
	DeleteCustomer(ctx context.Context, customerID string) error

	CreateTruck(ctx context.Context, truck domain.Truck) (*domain.Truck, error)
	GetTruckByID(ctx context.Context, id string) (*domain.Truck, error)
	ListTrucks(ctx context.Context) ([]domain.Truck, error)

	CommitSale(ctx context.Context, commit domain.SaleCommit) (*domain.SaleResult, error)
	CommitInvoiceUpdate(ctx context.Context, commit domain.InvoiceUpdateCommit) (*domain.SaleResult, error)
	GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error)
	GetInvoiceDetails(ctx context.Context, id string) (*domain.InvoiceDetails, error)
	SearchInvoices(ctx context.Context, term string, from time.Time, to time.Time, limit int) ([]domain.Invoice, error)

	CommitPayment(ctx context.Context, payment domain.Payment, actorTag string) (*domain.PaymentResult, error)
	SettleCustomerDebt(ctx context.Context, customerID string, fraction decimal.Decimal, method string, actorTag string) (*domain.PaymentResult, error)
	GetPaymentSummary(ctx context.Context, from time.Time, to time.Time) (domain.PaymentSummary, error)
	ListDebtors(ctx context.Context) ([]domain.DebtorEntry, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

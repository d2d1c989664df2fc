package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a ledger participant. TotalDebt is the running outstanding
// balance (positive means the customer owes money) and is mutated only by
// the store commit operations, never directly by handlers.
type Customer struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone"`
	Address   string          `json:"address,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	TotalDebt decimal.Decimal `json:"total_debt"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
	Notes   *string `json:"notes,omitempty"`
	Active  *bool   `json:"active,omitempty"`
}

type CustomerListResponse struct {
	Customers []Customer `json:"customers"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
	Total     int        `json:"total"`
}

type Truck struct {
	ID          string    `json:"id"`
	PlateNumber string    `json:"plate_number"`
	DriverName  string    `json:"driver_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type TruckCreateRequest struct {
	PlateNumber string `json:"plate_number"`
	DriverName  string `json:"driver_name"`
}

// LineItemInput is one weighed batch entered at the scale. Lines exist only
// while an invoice is being composed; the invoice persists their aggregate.
type LineItemInput struct {
	GrossWeight     decimal.Decimal `json:"gross_weight"`
	CagesCount      int             `json:"cages_count"`
	CageWeight      decimal.Decimal `json:"cage_weight"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// Invoice carries the aggregate of all weighed lines plus the balance
// snapshot captured inside the commit transaction.
type Invoice struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	InvoiceDate     time.Time       `json:"invoice_date"`
	CustomerID      string          `json:"customer_id"`
	TruckID         string          `json:"truck_id"`
	GrossWeight     decimal.Decimal `json:"gross_weight"`
	CagesWeight     decimal.Decimal `json:"cages_weight"`
	CagesCount      int             `json:"cages_count"`
	NetWeight       decimal.Decimal `json:"net_weight"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// InvoiceDetails joins an invoice with the display fields the POS needs to
// render a confirmation without extra lookups.
type InvoiceDetails struct {
	Invoice       Invoice `json:"invoice"`
	CustomerName  string  `json:"customer_name"`
	CustomerPhone string  `json:"customer_phone"`
	TruckPlate    string  `json:"truck_plate"`
}

type InvoiceCreateRequest struct {
	CustomerID    string          `json:"customer_id"`
	TruckID       string          `json:"truck_id"`
	InvoiceDate   string          `json:"invoice_date,omitempty"`
	Lines         []LineItemInput `json:"lines"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PaymentNotes  string          `json:"payment_notes,omitempty"`
}

type InvoiceUpdateRequest struct {
	TruckID       string          `json:"truck_id,omitempty"`
	InvoiceDate   string          `json:"invoice_date,omitempty"`
	Lines         []LineItemInput `json:"lines"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PaymentNotes  string          `json:"payment_notes,omitempty"`
}

// SaleResult is what invoice create/update returns so the POS never has to
// recompute ledger arithmetic to render a confirmation.
type SaleResult struct {
	Success          bool            `json:"success"`
	Invoice          Invoice         `json:"invoice"`
	Payment          *Payment        `json:"payment,omitempty"`
	AmountDue        decimal.Decimal `json:"amount_due"`
	PaymentReceived  decimal.Decimal `json:"payment_received"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	IsOverpayment    bool            `json:"is_overpayment"`
	Message          string          `json:"message"`
}

// Payment is immutable after creation. InvoiceID is empty for on-account
// payments (quick payment, bulk settlement).
type Payment struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	PaymentDate time.Time       `json:"payment_date"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type QuickPaymentRequest struct {
	CustomerID    string           `json:"customer_id"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	PercentOfDebt *decimal.Decimal `json:"percent_of_debt,omitempty"`
	FullDebt      bool             `json:"full_debt,omitempty"`
	Method        string           `json:"method,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

type PaymentResult struct {
	Success       bool            `json:"success"`
	Payment       Payment         `json:"payment"`
	RemainingDebt decimal.Decimal `json:"remaining_debt"`
	Message       string          `json:"message"`
}

type BulkSettleRequest struct {
	CustomerIDs []string `json:"customer_ids"`
	ManagerPIN  string   `json:"manager_pin"`
}

type BulkPartialRequest struct {
	CustomerIDs []string        `json:"customer_ids"`
	Fraction    decimal.Decimal `json:"fraction"`
	ManagerPIN  string          `json:"manager_pin"`
}

// BulkSettlementSummary reports a batch outcome: failures are isolated per
// customer and listed by name instead of aborting the whole batch.
type BulkSettlementSummary struct {
	SettledCount    int             `json:"settled_count"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	FailedCustomers []string        `json:"failed_customers,omitempty"`
	Message         string          `json:"message"`
}

type PaymentSummary struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Count       int64           `json:"count"`
}

type DebtorEntry struct {
	CustomerID string          `json:"customer_id"`
	Name       string          `json:"name"`
	Phone      string          `json:"phone"`
	TotalDebt  decimal.Decimal `json:"total_debt"`
}

type DebtorsReport struct {
	GeneratedAt      string          `json:"generated_at"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	Debtors          []DebtorEntry   `json:"debtors"`
}

type InvoiceSearchResponse struct {
	Invoices []Invoice `json:"invoices"`
}

// SaleCommit is the unit of work handed to the store: an invoice draft with
// aggregates filled in (no number yet) plus the optional payment taken at
// the counter. The store persists everything in one transaction.
type SaleCommit struct {
	Invoice       Invoice
	PaymentAmount decimal.Decimal
	PaymentMethod string
	PaymentNotes  string
	ActorTag      string
}

// InvoiceUpdateCommit rewrites an existing invoice. The store reverses the
// old invoice's ledger effect before applying the new final amount.
type InvoiceUpdateCommit struct {
	Invoice       Invoice
	PaymentAmount decimal.Decimal
	PaymentMethod string
	PaymentNotes  string
	ActorTag      string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorTag   string    `json:"actor_tag"`
	Username   string    `json:"username,omitempty"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	PaymentMethodCash     = "cash"
	PaymentMethodTransfer = "transfer"
	PaymentMethodCheque   = "cheque"
)

const (
	ActorTagPOSUser        = "POS_USER"
	ActorTagQuickPayment   = "QUICK_PAYMENT"
	ActorTagBulkSettlement = "BULK_DEBT_SETTLEMENT"
	ActorTagBulkPartial    = "BULK_PARTIAL_PAYMENT"
)

package invoice

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"timbangpos/backend/internal/domain"
)

var (
	ErrNoValidLines    = errors.New("invoice needs at least one valid line")
	ErrCagesExceedLoad = errors.New("cages weight must be below gross weight")
	ErrDiscountRange   = errors.New("discount must be between 0 and 100")
)

var oneHundred = decimal.NewFromInt(100)

// Aggregate is the condensed form of a set of weighed lines. UnitPrice is a
// net-weight-weighted average and DiscountPercent an amount-weighted average;
// TotalAmount and FinalAmount are exact sums over the lines, so the
// averages are display values and never feed back into the totals.
type Aggregate struct {
	GrossWeight     decimal.Decimal
	CagesWeight     decimal.Decimal
	CagesCount      int
	NetWeight       decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	TotalAmount     decimal.Decimal
	FinalAmount     decimal.Decimal
}

// LineValid reports whether a line counts toward the invoice: a weighed
// load, at least one cage and a price.
func LineValid(l domain.LineItemInput) bool {
	return l.GrossWeight.IsPositive() && l.CagesCount > 0 && l.UnitPrice.IsPositive()
}

// CagesWeight is the total tare of a line.
func CagesWeight(l domain.LineItemInput) decimal.Decimal {
	return l.CageWeight.Mul(decimal.NewFromInt(int64(l.CagesCount)))
}

// NetWeight is the billable weight of a line, floored at zero so a
// mis-weighed tare can never produce a negative charge.
func NetWeight(l domain.LineItemInput) decimal.Decimal {
	net := l.GrossWeight.Sub(CagesWeight(l))
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// ValidateLines enforces the entry preconditions: at least one valid line,
// tare below gross on every valid line, discounts within [0, 100].
func ValidateLines(lines []domain.LineItemInput) error {
	validCount := 0
	for i, l := range lines {
		if l.DiscountPercent.IsNegative() || l.DiscountPercent.GreaterThan(oneHundred) {
			return fmt.Errorf("line %d: %w", i+1, ErrDiscountRange)
		}
		if !LineValid(l) {
			continue
		}
		if CagesWeight(l).GreaterThanOrEqual(l.GrossWeight) {
			return fmt.Errorf("line %d: %w", i+1, ErrCagesExceedLoad)
		}
		validCount++
	}
	if validCount == 0 {
		return ErrNoValidLines
	}
	return nil
}

// Compute condenses the valid lines into one aggregate. Invalid lines are
// skipped, matching how the POS form treats half-filled rows.
func Compute(lines []domain.LineItemInput) Aggregate {
	var agg Aggregate
	priceWeighted := decimal.Zero
	discountWeighted := decimal.Zero

	for _, l := range lines {
		if !LineValid(l) {
			continue
		}
		net := NetWeight(l)
		total := net.Mul(l.UnitPrice)
		final := total.Sub(total.Mul(l.DiscountPercent).Div(oneHundred))

		agg.GrossWeight = agg.GrossWeight.Add(l.GrossWeight)
		agg.CagesWeight = agg.CagesWeight.Add(CagesWeight(l))
		agg.CagesCount += l.CagesCount
		agg.NetWeight = agg.NetWeight.Add(net)
		agg.TotalAmount = agg.TotalAmount.Add(total)
		agg.FinalAmount = agg.FinalAmount.Add(final)

		priceWeighted = priceWeighted.Add(l.UnitPrice.Mul(net))
		discountWeighted = discountWeighted.Add(l.DiscountPercent.Mul(total))
	}

	if agg.NetWeight.IsPositive() {
		agg.UnitPrice = priceWeighted.Div(agg.NetWeight)
	}
	if agg.TotalAmount.IsPositive() {
		agg.DiscountPercent = discountWeighted.Div(agg.TotalAmount)
	}
	return agg
}

// FinalAmount applies a percentage discount to a total.
func FinalAmount(total decimal.Decimal, discountPercent decimal.Decimal) decimal.Decimal {
	return total.Sub(total.Mul(discountPercent).Div(oneHundred))
}

// CurrentBalance is the balance after an invoice lands on the ledger.
func CurrentBalance(previous decimal.Decimal, finalAmount decimal.Decimal) decimal.Decimal {
	return previous.Add(finalAmount)
}

// DebtReduction caps a counter payment so it can clear at most the new
// invoice plus whatever the customer already owed.
func DebtReduction(payment decimal.Decimal, finalAmount decimal.Decimal, priorDebt decimal.Decimal) decimal.Decimal {
	limit := finalAmount.Add(priorDebt)
	if payment.GreaterThan(limit) {
		return limit
	}
	return payment
}

// RemainingBalance is what the invoice itself still leaves unpaid; zero when
// the payment covered it (the surplus is an overpayment, not a negative due).
func RemainingBalance(finalAmount decimal.Decimal, payment decimal.Decimal) decimal.Decimal {
	rem := finalAmount.Sub(payment)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// RepresentativeLine rebuilds a single editable line from a stored
// aggregate. The rebuild is lossy: the original per-line breakdown is gone,
// but re-aggregating the representative line reproduces the same totals.
func RepresentativeLine(inv domain.Invoice) domain.LineItemInput {
	line := domain.LineItemInput{
		GrossWeight:     inv.GrossWeight,
		CagesCount:      inv.CagesCount,
		UnitPrice:       inv.UnitPrice,
		DiscountPercent: inv.DiscountPercent,
	}
	if inv.CagesCount > 0 {
		line.CageWeight = inv.CagesWeight.Div(decimal.NewFromInt(int64(inv.CagesCount)))
	}
	return line
}

// Round2 is the persistence rounding for money amounts. Intermediate
// aggregates stay at full precision.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

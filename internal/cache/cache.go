package cache

import (
	"context"
	"time"

	"timbangpos/backend/internal/domain"
)

// ReportCache holds the dashboard aggregates. Entries are best-effort: every
// ledger commit invalidates the debtors key, and a miss just recomputes.
type ReportCache interface {
	GetDebtors(ctx context.Context, key string) (*domain.DebtorsReport, bool, error)
	SetDebtors(ctx context.Context, key string, value *domain.DebtorsReport, ttl time.Duration) error
	GetPaymentSummary(ctx context.Context, key string) (*domain.PaymentSummary, bool, error)
	SetPaymentSummary(ctx context.Context, key string, value *domain.PaymentSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopReportCache struct{}

func (NoopReportCache) GetDebtors(_ context.Context, _ string) (*domain.DebtorsReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) SetDebtors(_ context.Context, _ string, _ *domain.DebtorsReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) GetPaymentSummary(_ context.Context, _ string) (*domain.PaymentSummary, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) SetPaymentSummary(_ context.Context, _ string, _ *domain.PaymentSummary, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}

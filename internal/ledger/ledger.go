// Package ledger meters billable requests against monthly billing
// periods and keeps the append-only usage audit trail. Every attempt
// that reaches the metering point is recorded, success or failure:
// failed upstream calls still consume quota.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/store"
)

// ErrIllegalTransition is returned for payment state machine violations:
// marking a current period paid, marking a paid period overdue, and so
// on. These are operational errors, fatal to the calling operation.
var ErrIllegalTransition = errors.New("illegal payment state transition")

// DefaultCostPerRequestCents is the price of one metered request when
// no configuration overrides it.
const DefaultCostPerRequestCents = 10

// Store is the slice of the durable store the ledger needs.
type Store interface {
	GetOrCreateCurrentPeriod(ctx context.Context, ownerID int64, periodStart, periodEnd time.Time) (*model.BillingPeriod, error)
	AddUsageToPeriod(ctx context.Context, periodID string, costCents int64) error
	InsertUsageRecord(ctx context.Context, r *model.UsageRecord) error
	GetPeriod(ctx context.Context, id string) (*model.BillingPeriod, error)
	MarkPeriodPaid(ctx context.Context, id string, amountCents int64, reference, notes *string) error
	MarkPeriodOverdue(ctx context.Context, id string) error
	MarkPeriodWaived(ctx context.Context, id string, notes *string) error
	ListPeriodsByStatus(ctx context.Context, status model.PaymentStatus) ([]model.BillingPeriod, error)
}

// Ledger resolves billing periods and records usage. Safe for
// concurrent use: the period totals are maintained with read-free
// atomic increments in the store, never read-modify-write.
type Ledger struct {
	store     Store
	costCents int64
	loc       *time.Location
	logger    *slog.Logger

	now func() time.Time // overridable in tests
}

// Options configures a Ledger.
type Options struct {
	CostPerRequestCents int64          // 0 means DefaultCostPerRequestCents
	Location            *time.Location // nil means UTC
}

// New creates a Ledger over the given store.
func New(st Store, logger *slog.Logger, opts Options) *Ledger {
	if opts.CostPerRequestCents <= 0 {
		opts.CostPerRequestCents = DefaultCostPerRequestCents
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Ledger{
		store:     st,
		costCents: opts.CostPerRequestCents,
		loc:       opts.Location,
		logger:    logger,
		now:       time.Now,
	}
}

// CostPerRequestCents returns the configured per-request price.
func (l *Ledger) CostPerRequestCents() int64 {
	return l.costCents
}

// periodBounds returns the first and last day of the month containing
// now, in the ledger's configured timezone, normalized to midnight UTC
// so every caller produces byte-identical period keys.
func (l *Ledger) periodBounds() (start, end time.Time) {
	now := l.now().In(l.loc)
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0).AddDate(0, 0, -1)
	return start, end
}

// GetOrCreateCurrentPeriod resolves the owner's billing period for the
// current calendar month, creating it if needed. Concurrent first calls
// converge on one row; the store's transaction serializes the
// clear-previous-current step with the upsert.
func (l *Ledger) GetOrCreateCurrentPeriod(ctx context.Context, ownerID int64) (*model.BillingPeriod, error) {
	start, end := l.periodBounds()
	return l.store.GetOrCreateCurrentPeriod(ctx, ownerID, start, end)
}

// Entry carries the metadata for one metered attempt.
type Entry struct {
	OwnerID       int64
	TokenID       *string
	Service       string
	DurationMs    int64
	RequestBytes  int64
	ResponseBytes int64
	Status        string // model.UsageSuccess or model.UsageError
	ErrorCode     *string
	RequestID     string
	Result        *string
	CostCents     int64 // 0 means the configured per-request cost
}

// RecordUsage meters one attempt: it resolves the current period,
// appends one immutable UsageRecord, then atomically increments the
// period totals. The record insert is attempted even when period
// resolution or the increment fails, so a ledger-total failure does not
// necessarily lose the audit entry. Must be called for every attempt
// that reached the metering point, including failed upstream calls.
func (l *Ledger) RecordUsage(ctx context.Context, e Entry) (*model.UsageRecord, error) {
	cost := e.CostCents
	if cost <= 0 {
		cost = l.costCents
	}
	if e.Service == "" {
		e.Service = "vision.solve"
	}

	record := &model.UsageRecord{
		OwnerID:       e.OwnerID,
		TokenID:       e.TokenID,
		Service:       e.Service,
		DurationMs:    e.DurationMs,
		RequestBytes:  e.RequestBytes,
		ResponseBytes: e.ResponseBytes,
		Status:        e.Status,
		ErrorCode:     e.ErrorCode,
		RequestID:     e.RequestID,
		Result:        e.Result,
	}

	period, periodErr := l.GetOrCreateCurrentPeriod(ctx, e.OwnerID)
	if periodErr != nil {
		l.logger.Error("billing period resolution failed; recording usage without period link",
			"owner_id", e.OwnerID, "request_id", e.RequestID, "error", periodErr)
	} else {
		record.BillingPeriodID = &period.ID
	}

	insertErr := l.store.InsertUsageRecord(ctx, record)

	var incErr error
	if periodErr == nil {
		incErr = l.store.AddUsageToPeriod(ctx, period.ID, cost)
	}

	if periodErr != nil || insertErr != nil || incErr != nil {
		return record, fmt.Errorf("record usage: %w",
			errors.Join(periodErr, insertErr, incErr))
	}
	return record, nil
}

// MarkPaid transitions a closed pending or overdue period to paid.
// amountCents <= 0 defaults to the period's accrued total.
func (l *Ledger) MarkPaid(ctx context.Context, periodID string, amountCents int64, reference, notes *string) error {
	p, err := l.store.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	if p.IsCurrent {
		return l.illegal("mark paid", p, "period is current")
	}
	if p.PaymentStatus == model.PaymentPaid {
		return l.illegal("mark paid", p, "already paid")
	}
	if p.PaymentStatus == model.PaymentWaived {
		return l.illegal("mark paid", p, "period is waived")
	}
	if amountCents <= 0 {
		amountCents = p.TotalCostCents
	}
	if err := l.store.MarkPeriodPaid(ctx, periodID, amountCents, reference, notes); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return l.illegal("mark paid", p, "state changed concurrently")
		}
		return err
	}
	return nil
}

// MarkOverdue transitions a closed pending period to overdue.
func (l *Ledger) MarkOverdue(ctx context.Context, periodID string) error {
	p, err := l.store.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	if p.IsCurrent {
		return l.illegal("mark overdue", p, "period is current")
	}
	if p.PaymentStatus != model.PaymentPending {
		return l.illegal("mark overdue", p, fmt.Sprintf("status is %s", p.PaymentStatus))
	}
	if err := l.store.MarkPeriodOverdue(ctx, periodID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return l.illegal("mark overdue", p, "state changed concurrently")
		}
		return err
	}
	return nil
}

// MarkWaived transitions a closed pending or overdue period to waived
// (no payment required). Terminal: no further transition is allowed.
func (l *Ledger) MarkWaived(ctx context.Context, periodID string, notes *string) error {
	p, err := l.store.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	if p.IsCurrent {
		return l.illegal("mark waived", p, "period is current")
	}
	if p.PaymentStatus != model.PaymentPending && p.PaymentStatus != model.PaymentOverdue {
		return l.illegal("mark waived", p, fmt.Sprintf("status is %s", p.PaymentStatus))
	}
	if err := l.store.MarkPeriodWaived(ctx, periodID, notes); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return l.illegal("mark waived", p, "state changed concurrently")
		}
		return err
	}
	return nil
}

// SweepOverdue marks every closed pending period whose end predates
// now-grace as overdue. Returns the number of periods transitioned.
// Intended for a cron-style caller.
func (l *Ledger) SweepOverdue(ctx context.Context, grace time.Duration) (int, error) {
	pending, err := l.store.ListPeriodsByStatus(ctx, model.PaymentPending)
	if err != nil {
		return 0, err
	}

	cutoff := l.now().Add(-grace)
	marked := 0
	for i := range pending {
		p := &pending[i]
		if p.IsCurrent || p.PeriodEnd.After(cutoff) {
			continue
		}
		if err := l.store.MarkPeriodOverdue(ctx, p.ID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue // transitioned concurrently
			}
			return marked, err
		}
		marked++
	}
	return marked, nil
}

func (l *Ledger) illegal(op string, p *model.BillingPeriod, reason string) error {
	l.logger.Error("illegal payment state transition",
		"op", op, "period_id", p.ID, "owner_id", p.OwnerID,
		"status", p.PaymentStatus, "is_current", p.IsCurrent, "reason", reason)
	return fmt.Errorf("%w: %s %s: %s", ErrIllegalTransition, op, p.PeriodLabel(), reason)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/visiongate/visiongate/internal/model"
)

// GetOrCreateCurrentPeriod atomically resolves the billing period for
// (ownerID, periodStart), creating it if necessary and making it the
// owner's single current period. Any previously-current period for a
// different month is flipped to not-current inside the same transaction,
// so concurrent callers at a month boundary converge on one row.
func (s *Store) GetOrCreateCurrentPeriod(ctx context.Context, ownerID int64, periodStart, periodEnd time.Time) (*model.BillingPeriod, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	// Clear any stale current period from a previous month first so the
	// partial unique index on (owner_id) WHERE is_current=1 cannot
	// reject the upsert below.
	if _, err := tx.ExecContext(ctx,
		`UPDATE billing_periods SET is_current = 0, updated_at = ?
		 WHERE owner_id = ? AND is_current = 1 AND period_start <> ?`,
		now, ownerID, periodStart); err != nil {
		return nil, fmt.Errorf("clear previous current period: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO billing_periods
			(id, owner_id, period_start, period_end, is_current, payment_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT (owner_id, period_start)
		 DO UPDATE SET is_current = 1, updated_at = excluded.updated_at`,
		uuid.NewString(), ownerID, periodStart, periodEnd,
		model.PaymentPending, now, now); err != nil {
		return nil, fmt.Errorf("upsert current period: %w", err)
	}

	var p model.BillingPeriod
	if err := tx.GetContext(ctx, &p,
		"SELECT * FROM billing_periods WHERE owner_id = ? AND period_start = ?",
		ownerID, periodStart); err != nil {
		return nil, fmt.Errorf("load current period: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit current period: %w", err)
	}
	return &p, nil
}

// AddUsageToPeriod applies a single read-free atomic increment to a
// period's totals. Never read-modify-write: concurrent requests against
// the same period must not lose an increment.
func (s *Store) AddUsageToPeriod(ctx context.Context, periodID string, costCents int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE billing_periods
		 SET total_requests = total_requests + 1,
		     total_cost_cents = total_cost_cents + ?,
		     updated_at = ?
		 WHERE id = ?`,
		costCents, time.Now().UTC(), periodID)
	if err != nil {
		return fmt.Errorf("increment period totals: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment period rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPeriod returns a billing period by ID.
func (s *Store) GetPeriod(ctx context.Context, id string) (*model.BillingPeriod, error) {
	var p model.BillingPeriod
	if err := s.db.GetContext(ctx, &p, "SELECT * FROM billing_periods WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get period: %w", err)
	}
	return &p, nil
}

// GetCurrentPeriod returns the owner's current period, if any.
func (s *Store) GetCurrentPeriod(ctx context.Context, ownerID int64) (*model.BillingPeriod, error) {
	var p model.BillingPeriod
	if err := s.db.GetContext(ctx, &p,
		"SELECT * FROM billing_periods WHERE owner_id = ? AND is_current = 1", ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get current period: %w", err)
	}
	return &p, nil
}

// ListPeriodsByOwner returns an owner's billing periods, newest first.
func (s *Store) ListPeriodsByOwner(ctx context.Context, ownerID int64) ([]model.BillingPeriod, error) {
	var periods []model.BillingPeriod
	if err := s.db.SelectContext(ctx, &periods,
		"SELECT * FROM billing_periods WHERE owner_id = ? ORDER BY period_start DESC", ownerID); err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return periods, nil
}

// ListPeriods returns every billing period, newest first.
func (s *Store) ListPeriods(ctx context.Context) ([]model.BillingPeriod, error) {
	var periods []model.BillingPeriod
	if err := s.db.SelectContext(ctx, &periods,
		"SELECT * FROM billing_periods ORDER BY period_start DESC, owner_id"); err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return periods, nil
}

// ListPeriodsByStatus returns all periods with the given payment status,
// newest first. Used by the admin surface and the overdue cron.
func (s *Store) ListPeriodsByStatus(ctx context.Context, status model.PaymentStatus) ([]model.BillingPeriod, error) {
	var periods []model.BillingPeriod
	if err := s.db.SelectContext(ctx, &periods,
		"SELECT * FROM billing_periods WHERE payment_status = ? ORDER BY period_start DESC", status); err != nil {
		return nil, fmt.Errorf("list periods by status: %w", err)
	}
	return periods, nil
}

// MarkPeriodPaid transitions a non-current pending or overdue period to
// paid. The WHERE clause is the storage-level guard for the payment
// state machine; ErrConflict means the row exists but is not in a state
// that permits the transition.
func (s *Store) MarkPeriodPaid(ctx context.Context, id string, amountCents int64, reference, notes *string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE billing_periods
		 SET payment_status = ?, paid_at = ?, paid_amount_cents = ?,
		     payment_reference = ?, payment_notes = ?, updated_at = ?
		 WHERE id = ? AND is_current = 0 AND payment_status IN (?, ?)`,
		model.PaymentPaid, time.Now().UTC(), amountCents, reference, notes, time.Now().UTC(),
		id, model.PaymentPending, model.PaymentOverdue)
	if err != nil {
		return fmt.Errorf("mark period paid: %w", err)
	}
	return s.guardResult(ctx, result, id)
}

// MarkPeriodOverdue transitions a non-current pending period to overdue.
func (s *Store) MarkPeriodOverdue(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE billing_periods
		 SET payment_status = ?, updated_at = ?
		 WHERE id = ? AND is_current = 0 AND payment_status = ?`,
		model.PaymentOverdue, time.Now().UTC(), id, model.PaymentPending)
	if err != nil {
		return fmt.Errorf("mark period overdue: %w", err)
	}
	return s.guardResult(ctx, result, id)
}

// MarkPeriodWaived transitions a non-current pending or overdue period
// to waived.
func (s *Store) MarkPeriodWaived(ctx context.Context, id string, notes *string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE billing_periods
		 SET payment_status = ?, payment_notes = ?, updated_at = ?
		 WHERE id = ? AND is_current = 0 AND payment_status IN (?, ?)`,
		model.PaymentWaived, notes, time.Now().UTC(),
		id, model.PaymentPending, model.PaymentOverdue)
	if err != nil {
		return fmt.Errorf("mark period waived: %w", err)
	}
	return s.guardResult(ctx, result, id)
}

// CountPeriods returns the number of billing periods. Used by telemetry.
func (s *Store) CountPeriods(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM billing_periods"); err != nil {
		return 0, fmt.Errorf("count periods: %w", err)
	}
	return count, nil
}

// guardResult maps a zero-row guarded update to ErrNotFound (row absent)
// or ErrConflict (row present but state machine forbids the transition).
func (s *Store) guardResult(ctx context.Context, result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetPeriod(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

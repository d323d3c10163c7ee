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

// InsertUsageRecord appends one immutable usage row. The ID and
// RequestTS fields are populated if unset. Records are never updated or
// deleted afterwards.
func (s *Store) InsertUsageRecord(ctx context.Context, r *model.UsageRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.RequestTS.IsZero() {
		r.RequestTS = time.Now().UTC()
	}

	const q = `INSERT INTO usage_records
		(id, owner_id, token_id, billing_period_id, service, request_ts,
		 duration_ms, request_bytes, response_bytes, status, error_code, request_id, result)
		VALUES
		(:id, :owner_id, :token_id, :billing_period_id, :service, :request_ts,
		 :duration_ms, :request_bytes, :response_bytes, :status, :error_code, :request_id, :result)`

	if _, err := s.db.NamedExecContext(ctx, q, r); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// ListUsageRecordsByOwner returns an owner's usage rows, newest first,
// with limit/offset pagination.
func (s *Store) ListUsageRecordsByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]model.UsageRecord, error) {
	var records []model.UsageRecord
	if err := s.db.SelectContext(ctx, &records,
		`SELECT * FROM usage_records WHERE owner_id = ?
		 ORDER BY request_ts DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset); err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	return records, nil
}

// GetUsageRecordByRequestID returns the usage row correlated with a
// request ID.
func (s *Store) GetUsageRecordByRequestID(ctx context.Context, requestID string) (*model.UsageRecord, error) {
	var r model.UsageRecord
	if err := s.db.GetContext(ctx, &r,
		"SELECT * FROM usage_records WHERE request_id = ?", requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get usage record: %w", err)
	}
	return &r, nil
}

// CountUsageRecordsForPeriod returns the number of usage rows linked to
// a billing period. Reporting only; the period's own counters are the
// billing source of truth.
func (s *Store) CountUsageRecordsForPeriod(ctx context.Context, periodID string) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM usage_records WHERE billing_period_id = ?", periodID); err != nil {
		return 0, fmt.Errorf("count usage records: %w", err)
	}
	return count, nil
}

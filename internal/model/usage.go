package model

import "time"

// Usage outcome values for UsageRecord.Status.
const (
	UsageSuccess = "success"
	UsageError   = "error"
)

// UsageRecord is one immutable log row per billable attempt, success or
// failure. Records are append-only and never mutated after insert.
type UsageRecord struct {
	ID              string    `json:"id" db:"id"`
	OwnerID         int64     `json:"owner_id" db:"owner_id"`
	TokenID         *string   `json:"token_id,omitempty" db:"token_id"`
	BillingPeriodID *string   `json:"billing_period_id,omitempty" db:"billing_period_id"`
	Service         string    `json:"service" db:"service"`
	RequestTS       time.Time `json:"request_ts" db:"request_ts"`
	DurationMs      int64     `json:"duration_ms" db:"duration_ms"`
	RequestBytes    int64     `json:"request_bytes" db:"request_bytes"`
	ResponseBytes   int64     `json:"response_bytes" db:"response_bytes"`
	Status          string    `json:"status" db:"status"`
	ErrorCode       *string   `json:"error_code,omitempty" db:"error_code"`
	RequestID       string    `json:"request_id" db:"request_id"`
	Result          *string   `json:"result,omitempty" db:"result"`
}

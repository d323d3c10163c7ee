package model

import "time"

// PaymentStatus is the payment state of a billing period.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
	PaymentWaived  PaymentStatus = "waived" // free credits or special cases
)

// BillingPeriod aggregates one owner's usage for one calendar month.
// Exactly one period per owner is current at any time; totals only ever
// increase, via atomic increments in the store.
type BillingPeriod struct {
	ID              string        `json:"id" db:"id"`
	OwnerID         int64         `json:"owner_id" db:"owner_id"`
	PeriodStart     time.Time     `json:"period_start" db:"period_start"`
	PeriodEnd       time.Time     `json:"period_end" db:"period_end"`
	TotalRequests   int64         `json:"total_requests" db:"total_requests"`
	TotalCostCents  int64         `json:"total_cost_cents" db:"total_cost_cents"`
	IsCurrent       bool          `json:"is_current" db:"is_current"`
	PaymentStatus   PaymentStatus `json:"payment_status" db:"payment_status"`
	PaidAt          *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	PaidAmountCents *int64        `json:"paid_amount_cents,omitempty" db:"paid_amount_cents"`
	PaymentRef      *string       `json:"payment_reference,omitempty" db:"payment_reference"`
	PaymentNotes    *string       `json:"payment_notes,omitempty" db:"payment_notes"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// PeriodLabel returns a human-readable label like "January 2025".
func (p *BillingPeriod) PeriodLabel() string {
	return p.PeriodStart.Format("January 2006")
}

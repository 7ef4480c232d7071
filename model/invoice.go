package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceKind distinguishes how an invoice was produced.
type InvoiceKind string

const (
	InvoiceKindMilestone        InvoiceKind = "MILESTONE"
	InvoiceKindUpfrontPayout    InvoiceKind = "UPFRONT_PAYOUT"
	InvoiceKindCompletionPayout InvoiceKind = "COMPLETION_PAYOUT"
	InvoiceKindManualPartial    InvoiceKind = "MANUAL_PARTIAL"
)

// InvoiceStatus is the closed set of invoice states.
type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "DRAFT"
	InvoiceStatusSent  InvoiceStatus = "SENT"
	InvoiceStatusPaid  InvoiceStatus = "PAID"
)

// ParseInvoiceKind validates a raw invoice kind string.
func ParseInvoiceKind(raw string) (InvoiceKind, error) {
	switch InvoiceKind(raw) {
	case InvoiceKindMilestone, InvoiceKindUpfrontPayout, InvoiceKindCompletionPayout, InvoiceKindManualPartial:
		return InvoiceKind(raw), nil
	}
	return "", fmt.Errorf("unrecognized invoice kind %q", raw)
}

// ParseInvoiceStatus validates a raw invoice status string.
func ParseInvoiceStatus(raw string) (InvoiceStatus, error) {
	switch InvoiceStatus(raw) {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid:
		return InvoiceStatus(raw), nil
	}
	return "", fmt.Errorf("unrecognized invoice status %q", raw)
}

// Invoice is a billing record owned by the payment pipeline. It references
// its source task by id only; SourceTaskID carries the causal link the
// rollback coordinator walks.
type Invoice struct {
	InvoiceNumber   string          `json:"invoice_number"`
	ProjectID       string          `json:"project_id"`
	Kind            InvoiceKind     `json:"kind"`
	MilestoneNumber int             `json:"milestone_number,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          InvoiceStatus   `json:"status"`
	Description     string          `json:"description,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	SourceTaskID    string          `json:"source_task_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// MarkPaid flips the invoice to paid at the supplied time.
func (i *Invoice) MarkPaid(now time.Time) {
	i.Status = InvoiceStatusPaid
	i.PaidAt = &now
}

// NewInvoiceNumber allocates a fresh unique invoice number.
func NewInvoiceNumber() string {
	return GenerateUUIDWithPrefix("inv")
}

package model

import "time"

// FinalPayoutMarker is the idempotency proof for a completion project's
// final payout. Its mere existence means the payout has been applied; it is
// created exactly once through the store's create-only primitive and never
// mutated afterwards.
type FinalPayoutMarker struct {
	ProjectID               string    `json:"project_id"`
	ProcessedAt             time.Time `json:"processed_at"`
	TriggeringInvoiceNumber string    `json:"triggering_invoice_number"`
	Trigger                 string    `json:"trigger"`
}

// ManualPayoutMarker claims a caller-supplied trigger token for a manual
// partial payout. Replaying the same token is detected by the failed
// create-only write and surfaced as a no-op success.
type ManualPayoutMarker struct {
	ProjectID     string    `json:"project_id"`
	TriggerToken  string    `json:"trigger_token"`
	InvoiceNumber string    `json:"invoice_number"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// UpfrontMarker guards the one upfront invoice a completion project emits
// at activation, so activation replays cannot double-bill.
type UpfrontMarker struct {
	ProjectID     string    `json:"project_id"`
	InvoiceNumber string    `json:"invoice_number"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// PayoutReadiness is the gate's answer: eligible or not, and why not.
type PayoutReadiness struct {
	ProjectID string `json:"project_id"`
	Ready     bool   `json:"ready"`
	Reason    string `json:"reason,omitempty"`
}

// Gate refusal reasons. Callers branch on these, so they are part of the
// contract rather than free text.
const (
	ReasonNotCompletionMethod = "project does not use completion invoicing"
	ReasonTasksOutstanding    = "not all tasks are approved"
	ReasonNoRemainingBudget   = "no remaining budget to pay"
	ReasonAlreadyProcessed    = "final payout already processed"
)

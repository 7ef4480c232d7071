package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuditEvent is one row of the append-only audit log. TaskID carries the
// causal link back to the approval that produced downstream effects.
type AuditEvent struct {
	EventID    string                 `json:"event_id"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	TaskID     string                 `json:"task_id,omitempty"`
	ProjectID  string                 `json:"project_id,omitempty"`
	ActorID    string                 `json:"actor_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NotificationEvent is the persisted form of a published notification.
// Delivery itself is fire-and-forget and at-least-once; the record exists
// so rollback can remove notifications causally linked to a task approval.
type NotificationEvent struct {
	NotificationID string                 `json:"notification_id"`
	Event          string                 `json:"event"`
	TaskID         string                 `json:"task_id,omitempty"`
	ProjectID      string                 `json:"project_id,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// RollbackStep reports one compensation step of a rollback: whether it
// succeeded, how many records it touched, and the error if it failed.
type RollbackStep struct {
	OK      bool   `json:"ok"`
	Removed int    `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// RollbackReport is the per-subsystem outcome of a task-approval rollback.
// Steps are independent; partial success is reported, not hidden.
type RollbackReport struct {
	TaskID        string       `json:"task_id"`
	Task          RollbackStep `json:"task_rollback"`
	Invoices      RollbackStep `json:"invoice_rollback"`
	Payments      RollbackStep `json:"payment_rollback"`
	Notifications RollbackStep `json:"notification_rollback"`
	Wallet        RollbackStep `json:"wallet_rollback"`
}

// ReconciliationReport compares a project's paid_to_date against the sum of
// its paid invoices. The invariant is checked by reconciliation, not
// enforced by a writer lock, so drift is reported rather than prevented.
type ReconciliationReport struct {
	ProjectID       string          `json:"project_id"`
	PaidToDate      decimal.Decimal `json:"paid_to_date"`
	PaidInvoiceSum  decimal.Decimal `json:"paid_invoice_sum"`
	Drift           decimal.Decimal `json:"drift"`
	Balanced        bool            `json:"balanced"`
	PaidInvoices    int             `json:"paid_invoices"`
	SuspectInvoices []string        `json:"suspect_invoices,omitempty"`
	CheckedAt       time.Time       `json:"checked_at"`
}

/*
Copyright 2024 Payline Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package payline

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/payline-io/payline/internal/apierror"
	"github.com/payline-io/payline/model"
	"github.com/payline-io/payline/store"
)

// Invoices whose description is at least this close to the rolled-back
// task's billing description are treated as caused by it, even when the
// source-task link is missing on legacy records.
const rollbackSimilarityThreshold = 0.82

// RollbackTaskApproval undoes the downstream effects of a task approval:
// the task returns to review, invoices it caused are removed, payment
// state is unwound, and causally linked notifications and wallet credits
// are deleted.
//
// The five steps are independent compensations, not a transaction. Each
// runs regardless of the others' outcomes, and the report records every
// partial failure instead of masking it behind a single error.
func (p *Payline) RollbackTaskApproval(ctx context.Context, taskID string) (*model.RollbackReport, error) {
	ctx, span := tracer.Start(ctx, "Rolling back task approval")
	defer span.End()

	task, project, err := p.loadTaskAndProject(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != model.TaskStatusApproved {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "only approved tasks can be rolled back", string(task.Status))
	}

	report := &model.RollbackReport{TaskID: taskID}

	report.Task = p.rollbackTaskState(ctx, task)
	removedInvoices, invoiceStep := p.rollbackInvoices(ctx, task)
	report.Invoices = invoiceStep
	report.Payments = p.rollbackPayments(ctx, project, removedInvoices)
	report.Notifications = p.rollbackNotifications(ctx, taskID)
	report.Wallet = p.rollbackWalletEntries(ctx, removedInvoices)

	p.audit(ctx, auditEntry{
		Action:     "task.rolled_back",
		EntityType: "task",
		EntityID:   taskID,
		TaskID:     taskID,
		ProjectID:  project.ProjectID,
		Details: map[string]interface{}{
			"invoices_removed":      report.Invoices.Removed,
			"wallet_removed":        report.Wallet.Removed,
			"notifications_removed": report.Notifications.Removed,
		},
	})
	p.publishEvent(ctx, EventTaskRolledBack, taskID, project.ProjectID, map[string]interface{}{"task_id": taskID})
	return report, nil
}

func (p *Payline) rollbackTaskState(ctx context.Context, task *model.Task) model.RollbackStep {
	task.ResetToReview()
	if err := p.datasource.UpdateTask(ctx, task); err != nil {
		return model.RollbackStep{Error: err.Error()}
	}
	return model.RollbackStep{OK: true, Removed: 1}
}

// rollbackInvoices deletes the invoices this approval caused and returns
// them so later steps can unwind payments and wallet credits.
func (p *Payline) rollbackInvoices(ctx context.Context, task *model.Task) ([]*model.Invoice, model.RollbackStep) {
	caused, err := p.datasource.InvoicesBySourceTask(ctx, task.TaskID)
	if err != nil {
		return nil, model.RollbackStep{Error: err.Error()}
	}

	if len(caused) == 0 {
		// Legacy records may lack the source-task link. Fall back to a
		// textual match against the project's invoices.
		all, err := p.datasource.InvoicesByProject(ctx, task.ProjectID)
		if err != nil {
			return nil, model.RollbackStep{Error: err.Error()}
		}
		for _, invoice := range all {
			if invoiceMatchesTask(invoice, task) {
				caused = append(caused, invoice)
			}
		}
	}

	var removed []*model.Invoice
	var firstErr string
	for _, invoice := range caused {
		if err := p.datasource.DeleteInvoice(ctx, invoice.InvoiceNumber); err != nil {
			logrus.Warnf("rollback could not delete invoice %s: %v", invoice.InvoiceNumber, err)
			if firstErr == "" {
				firstErr = err.Error()
			}
			continue
		}
		removed = append(removed, invoice)
	}
	return removed, model.RollbackStep{OK: firstErr == "", Removed: len(removed), Error: firstErr}
}

// invoiceMatchesTask decides whether an unlinked invoice was caused by the
// task: either its description names the task id outright, or it is
// near-identical to the description a milestone invoice for this task
// would carry.
func invoiceMatchesTask(invoice *model.Invoice, task *model.Task) bool {
	if invoice.SourceTaskID != "" {
		return invoice.SourceTaskID == task.TaskID
	}
	if strings.Contains(invoice.Description, task.TaskID) {
		return true
	}
	if task.Title == "" || invoice.Description == "" {
		return false
	}
	desc := strings.ToLower(invoice.Description)
	title := strings.ToLower(task.Title)
	distance := levenshtein.DistanceForStrings([]rune(desc), []rune(title), levenshtein.DefaultOptions)
	longest := len(desc)
	if len(title) > longest {
		longest = len(title)
	}
	similarity := 1.0 - float64(distance)/float64(longest)
	return similarity >= rollbackSimilarityThreshold
}

// rollbackPayments unwinds payment state tied to the removed invoices:
// paid amounts come back out of paid-to-date, and when the final payout's
// own invoice was removed the payout marker is deleted and the project
// reopened so a later approval can settle it again.
func (p *Payline) rollbackPayments(ctx context.Context, project *model.Project, removed []*model.Invoice) model.RollbackStep {
	touched := 0
	for _, invoice := range removed {
		if invoice.Status != model.InvoiceStatusPaid {
			continue
		}
		project.PaidToDate = model.Round2(project.PaidToDate.Sub(invoice.TotalAmount))
		touched++
	}

	marker, err := p.datasource.GetFinalPayoutMarker(ctx, project.ProjectID)
	if err != nil && err != store.ErrNotFound {
		return model.RollbackStep{Error: err.Error()}
	}
	if err == nil {
		for _, invoice := range removed {
			if invoice.InvoiceNumber != marker.TriggeringInvoiceNumber {
				continue
			}
			if err := p.datasource.DeleteFinalPayoutMarker(ctx, project.ProjectID); err != nil {
				return model.RollbackStep{Error: err.Error()}
			}
			project.Status = model.ProjectStatusOngoing
			touched++
		}
	}

	if touched > 0 {
		if err := p.datasource.UpdateProject(ctx, project); err != nil {
			return model.RollbackStep{Error: err.Error()}
		}
	}
	return model.RollbackStep{OK: true, Removed: touched}
}

func (p *Payline) rollbackNotifications(ctx context.Context, taskID string) model.RollbackStep {
	events, err := p.datasource.NotificationsByTask(ctx, taskID)
	if err != nil {
		return model.RollbackStep{Error: err.Error()}
	}
	removed := 0
	var firstErr string
	for _, event := range events {
		if err := p.datasource.DeleteNotification(ctx, event.NotificationID); err != nil {
			if firstErr == "" {
				firstErr = err.Error()
			}
			continue
		}
		removed++
	}
	return model.RollbackStep{OK: firstErr == "", Removed: removed, Error: firstErr}
}

func (p *Payline) rollbackWalletEntries(ctx context.Context, removed []*model.Invoice) model.RollbackStep {
	deleted := 0
	var firstErr string
	for _, invoice := range removed {
		entries, err := p.datasource.WalletEntriesByInvoice(ctx, invoice.InvoiceNumber)
		if err != nil {
			if firstErr == "" {
				firstErr = err.Error()
			}
			continue
		}
		for _, entry := range entries {
			if err := p.datasource.DeleteWalletEntry(ctx, entry); err != nil {
				if firstErr == "" {
					firstErr = err.Error()
				}
				continue
			}
			deleted++
		}
	}
	return model.RollbackStep{OK: firstErr == "", Removed: deleted, Error: firstErr}
}

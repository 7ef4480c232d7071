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
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/payline-io/payline/internal/apierror"
	"github.com/payline-io/payline/model"
	"github.com/payline-io/payline/store"
)

// CheckPayoutReadiness answers whether a project is eligible for its final
// completion payout right now. The checks run in a fixed order and the
// first failing one is reported, so callers get a stable reason.
//
// The gate is advisory only: the executor re-checks, and the final word
// belongs to the payout marker's create-only write.
func (p *Payline) CheckPayoutReadiness(ctx context.Context, projectID string) (*model.PayoutReadiness, error) {
	project, err := p.datasource.GetProject(ctx, projectID)
	if err == store.ErrNotFound {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "project not found", projectID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not load project", err.Error())
	}

	notReady := func(reason string) *model.PayoutReadiness {
		return &model.PayoutReadiness{ProjectID: projectID, Ready: false, Reason: reason}
	}

	if project.InvoicingMethod != model.InvoicingCompletion {
		return notReady(model.ReasonNotCompletionMethod), nil
	}

	tasks, err := p.datasource.TasksByProject(ctx, projectID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not list project tasks", err.Error())
	}
	// A project with no tasks at all has nothing approved, so it is not
	// ready; an empty project must never trigger a payout.
	if len(tasks) == 0 {
		return notReady(model.ReasonTasksOutstanding), nil
	}
	for _, task := range tasks {
		if task.Status != model.TaskStatusApproved {
			return notReady(model.ReasonTasksOutstanding), nil
		}
	}

	if !model.Round2(project.RemainingBudget()).IsPositive() {
		return notReady(model.ReasonNoRemainingBudget), nil
	}

	if _, err := p.datasource.GetFinalPayoutMarker(ctx, projectID); err == nil {
		return notReady(model.ReasonAlreadyProcessed), nil
	} else if err != store.ErrNotFound {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not check payout marker", err.Error())
	}

	return &model.PayoutReadiness{ProjectID: projectID, Ready: true}, nil
}

// ExecuteFinalPayout runs the final payout for a completion project:
// compute the remaining-budget invoice, claim the per-project payout
// marker, then pay the invoice, credit the freelancer's wallet, roll the
// amount into paid-to-date and complete the project.
//
// The marker claim is the serialization point. Concurrent executions all
// reach it, exactly one create-only write succeeds, and every loser
// returns AlreadyProcessed without having written anything else.
func (p *Payline) ExecuteFinalPayout(ctx context.Context, projectID, trigger string) (*model.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Executing final payout")
	defer span.End()

	readiness, err := p.CheckPayoutReadiness(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !readiness.Ready {
		switch readiness.Reason {
		case model.ReasonAlreadyProcessed:
			return nil, apierror.NewAPIError(apierror.ErrAlreadyProcessed, "final payout already processed", projectID)
		case model.ReasonNoRemainingBudget:
			return nil, apierror.NewAPIError(apierror.ErrInsufficientBudget, readiness.Reason, projectID)
		default:
			return nil, apierror.NewAPIError(apierror.ErrValidation, readiness.Reason, projectID)
		}
	}

	project, err := p.datasource.GetProject(ctx, projectID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not load project", err.Error())
	}

	now := time.Now()
	invoice, err := CompletionInvoice(project, now)
	if err != nil {
		return nil, err
	}

	marker := &model.FinalPayoutMarker{
		ProjectID:               projectID,
		ProcessedAt:             now,
		TriggeringInvoiceNumber: invoice.InvoiceNumber,
		Trigger:                 trigger,
	}
	err = p.datasource.CreateFinalPayoutMarker(ctx, marker)
	if err == store.ErrKeyExists {
		logrus.WithFields(logrus.Fields{"project_id": projectID, "trigger": trigger}).
			Info("final payout marker already claimed, skipping")
		return nil, apierror.NewAPIError(apierror.ErrAlreadyProcessed, "final payout already processed", projectID)
	}
	if err != nil {
		err = apierror.NewAPIError(apierror.ErrStorage, "could not claim payout marker", err.Error())
		return nil, logAndRecordError(span, "payout marker error: ", err)
	}

	invoice.MarkPaid(now)
	if err := p.datasource.CreateInvoice(ctx, invoice); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not persist completion invoice", err.Error())
	}

	if err := p.settleInvoice(ctx, project, invoice, now); err != nil {
		return nil, err
	}

	project.Status = model.ProjectStatusCompleted
	if err := p.datasource.UpdateProject(ctx, project); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not complete project", err.Error())
	}

	p.audit(ctx, auditEntry{
		Action:     "payout.completed",
		EntityType: "project",
		EntityID:   projectID,
		ProjectID:  projectID,
		Details: map[string]interface{}{
			"invoice_number": invoice.InvoiceNumber,
			"amount":         invoice.TotalAmount.String(),
			"trigger":        trigger,
		},
	})
	p.publishEvent(ctx, EventPayoutCompleted, "", projectID, map[string]interface{}{
		"invoice_number": invoice.InvoiceNumber,
		"amount":         invoice.TotalAmount.String(),
	})
	return invoice, nil
}

// ExecuteManualPayout pays out part of a completion project's remaining
// budget ahead of completion. The caller supplies a trigger token; replays
// of the same token return the originally created invoice as a no-op
// success instead of paying twice.
func (p *Payline) ExecuteManualPayout(ctx context.Context, projectID, triggerToken string, amount decimal.Decimal) (*model.Invoice, error) {
	if triggerToken == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "trigger token is required", nil)
	}

	project, err := p.datasource.GetProject(ctx, projectID)
	if err == store.ErrNotFound {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "project not found", projectID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not load project", err.Error())
	}

	now := time.Now()
	invoice, err := ManualPartialInvoice(project, amount, now)
	if err != nil {
		return nil, err
	}

	marker := &model.ManualPayoutMarker{
		ProjectID:     projectID,
		TriggerToken:  triggerToken,
		InvoiceNumber: invoice.InvoiceNumber,
		ProcessedAt:   now,
	}
	err = p.datasource.CreateManualPayoutMarker(ctx, marker)
	if err == store.ErrKeyExists {
		existing, lookupErr := p.datasource.GetManualPayoutMarker(ctx, projectID, triggerToken)
		if lookupErr != nil {
			return nil, apierror.NewAPIError(apierror.ErrStorage, "could not load existing payout marker", lookupErr.Error())
		}
		paid, lookupErr := p.datasource.GetInvoice(ctx, existing.InvoiceNumber)
		if lookupErr != nil {
			return nil, apierror.NewAPIError(apierror.ErrStorage, "could not load existing payout invoice", lookupErr.Error())
		}
		p.audit(ctx, auditEntry{
			Action:     "payout.manual.replay",
			EntityType: "project",
			EntityID:   projectID,
			ProjectID:  projectID,
			Details:    map[string]interface{}{"trigger_token": triggerToken, "invoice_number": existing.InvoiceNumber},
		})
		return paid, nil
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not claim manual payout marker", err.Error())
	}

	invoice.MarkPaid(now)
	if err := p.datasource.CreateInvoice(ctx, invoice); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not persist manual payout invoice", err.Error())
	}
	if err := p.settleInvoice(ctx, project, invoice, now); err != nil {
		return nil, err
	}
	if err := p.datasource.UpdateProject(ctx, project); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not update project", err.Error())
	}

	p.audit(ctx, auditEntry{
		Action:     "payout.manual",
		EntityType: "project",
		EntityID:   projectID,
		ProjectID:  projectID,
		Details: map[string]interface{}{
			"trigger_token":  triggerToken,
			"invoice_number": invoice.InvoiceNumber,
			"amount":         invoice.TotalAmount.String(),
		},
	})
	p.publishEvent(ctx, EventPayoutManual, "", projectID, map[string]interface{}{
		"invoice_number": invoice.InvoiceNumber,
		"amount":         invoice.TotalAmount.String(),
	})
	return invoice, nil
}

// MarkInvoicePaid settles a milestone or upfront invoice: credit the
// freelancer's wallet and roll the amount into the project's paid-to-date.
// Completion payout invoices are refused here; only the payout executor
// may settle those. Marking an already-paid invoice again is a no-op.
func (p *Payline) MarkInvoicePaid(ctx context.Context, invoiceNumber string) (*model.Invoice, error) {
	invoice, err := p.datasource.GetInvoice(ctx, invoiceNumber)
	if err == store.ErrNotFound {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "invoice not found", invoiceNumber)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not load invoice", err.Error())
	}

	if invoice.Kind == model.InvoiceKindCompletionPayout {
		return nil, apierror.NewAPIError(apierror.ErrValidation,
			"completion payout invoices are settled by the payout executor", invoiceNumber)
	}
	if invoice.Status == model.InvoiceStatusPaid {
		return invoice, nil
	}

	project, err := p.datasource.GetProject(ctx, invoice.ProjectID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not load project", err.Error())
	}

	now := time.Now()
	invoice.MarkPaid(now)
	if err := p.datasource.UpdateInvoice(ctx, invoice); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not mark invoice paid", err.Error())
	}
	if err := p.settleInvoice(ctx, project, invoice, now); err != nil {
		return nil, err
	}
	if err := p.datasource.UpdateProject(ctx, project); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not update project", err.Error())
	}

	p.audit(ctx, auditEntry{
		Action:     "invoice.paid",
		EntityType: "invoice",
		EntityID:   invoiceNumber,
		TaskID:     invoice.SourceTaskID,
		ProjectID:  invoice.ProjectID,
		Details:    map[string]interface{}{"amount": invoice.TotalAmount.String()},
	})
	p.publishEvent(ctx, EventInvoicePaid, invoice.SourceTaskID, invoice.ProjectID, map[string]interface{}{
		"invoice_number": invoiceNumber,
	})
	return invoice, nil
}

// settleInvoice credits the freelancer's wallet for a paid invoice and
// rolls the amount into the project's in-memory paid-to-date. The caller
// persists the project afterwards.
func (p *Payline) settleInvoice(ctx context.Context, project *model.Project, invoice *model.Invoice, now time.Time) error {
	entry := model.NewWalletEntry(project.FreelancerID, invoice.TotalAmount, model.DirectionCredit, invoice.InvoiceNumber, now)
	if err := p.datasource.CreateWalletEntry(ctx, entry); err != nil {
		return apierror.NewAPIError(apierror.ErrStorage, "could not credit wallet", err.Error())
	}
	project.PaidToDate = model.Round2(project.PaidToDate.Add(invoice.TotalAmount))
	return nil
}

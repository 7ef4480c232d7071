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
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payline-io/payline/internal/apierror"
	"github.com/payline-io/payline/model"
)

// Invoice calculation is pure: every function here is deterministic given
// its inputs, reads no clock (the caller supplies now) and performs no I/O
// beyond returning the computed invoice.

// MilestoneInvoice computes the invoice for one milestone of a
// milestone-billed project: an equal split of the total budget.
//
// The division rounds each share to cents independently; the remainder is
// not redistributed, so N milestones can sum to slightly more or less than
// the budget. This drift is accepted behavior, surfaced by reconciliation
// rather than silently corrected.
func MilestoneInvoice(project *model.Project, milestoneNumber int, sourceTaskID, taskTitle string, now time.Time) (*model.Invoice, error) {
	if project.InvoicingMethod != model.InvoicingMilestone {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "project is not milestone billed", project.ProjectID)
	}
	if project.MilestoneCount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "milestone project needs a positive milestone count", project.ProjectID)
	}
	if milestoneNumber < 1 || milestoneNumber > project.MilestoneCount {
		return nil, apierror.NewAPIError(apierror.ErrValidation,
			fmt.Sprintf("milestone number %d out of range 1..%d", milestoneNumber, project.MilestoneCount), project.ProjectID)
	}

	amount := model.Round2(project.TotalBudget.Div(decimal.NewFromInt(int64(project.MilestoneCount))))
	return &model.Invoice{
		InvoiceNumber:   model.NewInvoiceNumber(),
		ProjectID:       project.ProjectID,
		Kind:            model.InvoiceKindMilestone,
		MilestoneNumber: milestoneNumber,
		TotalAmount:     amount,
		Status:          model.InvoiceStatusSent,
		Description:     fmt.Sprintf("Milestone %d of %d: %s (task %s)", milestoneNumber, project.MilestoneCount, taskTitle, sourceTaskID),
		SourceTaskID:    sourceTaskID,
		CreatedAt:       now,
	}, nil
}

// UpfrontInvoice computes the one upfront invoice a completion-billed
// project emits at activation: percent of the total budget.
func UpfrontInvoice(project *model.Project, percent int, now time.Time) (*model.Invoice, error) {
	if project.InvoicingMethod != model.InvoicingCompletion {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "project is not completion billed", project.ProjectID)
	}
	if percent <= 0 || percent >= 100 {
		return nil, apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("upfront percent %d out of range", percent), project.ProjectID)
	}

	amount := model.Round2(project.TotalBudget.Mul(decimal.NewFromInt(int64(percent))).Div(decimal.NewFromInt(100)))
	return &model.Invoice{
		InvoiceNumber: model.NewInvoiceNumber(),
		ProjectID:     project.ProjectID,
		Kind:          model.InvoiceKindUpfrontPayout,
		TotalAmount:   amount,
		Status:        model.InvoiceStatusSent,
		Description:   fmt.Sprintf("Upfront payout (%d%%) for project %s", percent, project.ProjectID),
		CreatedAt:     now,
	}, nil
}

// CompletionInvoice computes the final payout invoice for a completion
// project: whatever budget remains unpaid. Deliberately not a fixed
// "100 minus upfront" recomputation, so prior manual partial payouts are
// correctly subtracted.
func CompletionInvoice(project *model.Project, now time.Time) (*model.Invoice, error) {
	if project.InvoicingMethod != model.InvoicingCompletion {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "project is not completion billed", project.ProjectID)
	}
	remaining := model.Round2(project.RemainingBudget())
	if !remaining.IsPositive() {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientBudget, "no remaining budget to pay", project.ProjectID)
	}

	return &model.Invoice{
		InvoiceNumber: model.NewInvoiceNumber(),
		ProjectID:     project.ProjectID,
		Kind:          model.InvoiceKindCompletionPayout,
		TotalAmount:   remaining,
		Status:        model.InvoiceStatusDraft,
		Description:   fmt.Sprintf("Completion payout for project %s", project.ProjectID),
		CreatedAt:     now,
	}, nil
}

// ManualPartialInvoice computes an operator-triggered partial payout
// invoice for a completion project.
func ManualPartialInvoice(project *model.Project, amount decimal.Decimal, now time.Time) (*model.Invoice, error) {
	if project.InvoicingMethod != model.InvoicingCompletion {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "manual partial payouts apply to completion billed projects only", project.ProjectID)
	}
	if !amount.IsPositive() {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "manual payout amount must be positive", amount.String())
	}
	if amount.GreaterThan(project.RemainingBudget()) {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientBudget, "manual payout exceeds remaining budget", map[string]interface{}{
			"amount":    amount.String(),
			"remaining": project.RemainingBudget().String(),
		})
	}

	return &model.Invoice{
		InvoiceNumber: model.NewInvoiceNumber(),
		ProjectID:     project.ProjectID,
		Kind:          model.InvoiceKindManualPartial,
		TotalAmount:   model.Round2(amount),
		Status:        model.InvoiceStatusDraft,
		Description:   fmt.Sprintf("Manual partial payout for project %s", project.ProjectID),
		CreatedAt:     now,
	}, nil
}

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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payline-io/payline/internal/apierror"
	"github.com/payline-io/payline/model"
)

func TestRollbackTaskApproval(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()
	project := newMilestoneProject(t, p, "5000", 3)
	task := newReviewTask(t, p, project)

	_, err := p.ApproveTask(ctx, task.TaskID, project.CommissionerID)
	require.NoError(t, err)

	report, err := p.RollbackTaskApproval(ctx, task.TaskID)
	require.NoError(t, err)
	assert.True(t, report.Task.OK)
	assert.True(t, report.Invoices.OK)
	assert.Equal(t, 1, report.Invoices.Removed)
	assert.True(t, report.Notifications.OK)
	assert.True(t, report.Wallet.OK)

	rolled, err := p.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusInReview, rolled.Status)
	assert.False(t, rolled.Completed)
	assert.Nil(t, rolled.ApprovedAt)

	invoices, err := p.GetInvoicesByProject(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestRollbackRequiresApprovedTask(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()
	project := newMilestoneProject(t, p, "5000", 3)
	task := newReviewTask(t, p, project)

	_, err := p.RollbackTaskApproval(ctx, task.TaskID)
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
}

func TestRollbackThenReapproveIssuesFreshInvoice(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()
	project := newMilestoneProject(t, p, "5000", 3)
	task := newReviewTask(t, p, project)

	_, err := p.ApproveTask(ctx, task.TaskID, project.CommissionerID)
	require.NoError(t, err)
	original, err := p.GetInvoicesByProject(ctx, project.ProjectID)
	require.NoError(t, err)
	require.Len(t, original, 1)

	_, err = p.RollbackTaskApproval(ctx, task.TaskID)
	require.NoError(t, err)

	_, err = p.ApproveTask(ctx, task.TaskID, project.CommissionerID)
	require.NoError(t, err)

	fresh, err := p.GetInvoicesByProject(ctx, project.ProjectID)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.NotEqual(t, original[0].InvoiceNumber, fresh[0].InvoiceNumber)
	assert.Equal(t, original[0].TotalAmount.String(), fresh[0].TotalAmount.String())
}

func TestRollbackThenReapproveFillsMilestoneGap(t *testing.T) {
	p, ds := newTestPayline(t)
	ctx := context.Background()
	project := newMilestoneProject(t, p, "5000", 3)
	first := newReviewTask(t, p, project)
	second := newReviewTask(t, p, project)

	_, err := p.ApproveTask(ctx, first.TaskID, project.CommissionerID)
	require.NoError(t, err)
	_, err = p.ApproveTask(ctx, second.TaskID, project.CommissionerID)
	require.NoError(t, err)

	// Rolling back the first approval leaves milestone 1 unbilled while
	// milestone 2 survives.
	_, err = p.RollbackTaskApproval(ctx, first.TaskID)
	require.NoError(t, err)

	_, err = p.ApproveTask(ctx, first.TaskID, project.CommissionerID)
	require.NoError(t, err)

	reissued, err := ds.InvoicesBySourceTask(ctx, first.TaskID)
	require.NoError(t, err)
	require.Len(t, reissued, 1)
	assert.Equal(t, 1, reissued[0].MilestoneNumber)

	invoices, err := p.GetInvoicesByProject(ctx, project.ProjectID)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	numbers := map[int]int{}
	for _, inv := range invoices {
		numbers[inv.MilestoneNumber]++
	}
	assert.Equal(t, 1, numbers[1])
	assert.Equal(t, 1, numbers[2])
}

func TestRollbackUnwindsPaidInvoice(t *testing.T) {
	p, ds := newTestPayline(t)
	ctx := context.Background()
	project := newMilestoneProject(t, p, "5000", 3)
	task := newReviewTask(t, p, project)

	_, err := p.ApproveTask(ctx, task.TaskID, project.CommissionerID)
	require.NoError(t, err)
	invoices, err := p.GetInvoicesByProject(ctx, project.ProjectID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	_, err = p.MarkInvoicePaid(ctx, invoices[0].InvoiceNumber)
	require.NoError(t, err)

	report, err := p.RollbackTaskApproval(ctx, task.TaskID)
	require.NoError(t, err)
	assert.True(t, report.Payments.OK)
	assert.Equal(t, 1, report.Payments.Removed)
	assert.Equal(t, 1, report.Wallet.Removed)

	updated, err := p.GetProject(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.True(t, updated.PaidToDate.IsZero())

	entries, err := ds.WalletEntriesByInvoice(ctx, invoices[0].InvoiceNumber)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRollbackFinalPayoutReopensProject(t *testing.T) {
	p, ds := newTestPayline(t)
	ctx := context.Background()
	project := newCompletionProject(t, p, "5000")
	task := newReviewTask(t, p, project)

	// This approval completes the project and fires the final payout.
	_, err := p.ApproveTask(ctx, task.TaskID, project.CommissionerID)
	require.NoError(t, err)
	settled, err := p.GetProject(ctx, project.ProjectID)
	require.NoError(t, err)
	require.Equal(t, model.ProjectStatusCompleted, settled.Status)

	marker, err := ds.GetFinalPayoutMarker(ctx, project.ProjectID)
	require.NoError(t, err)

	// The completion invoice has no source task link, so rollback has to
	// find it through the payout marker's textual trail.
	completion, err := ds.GetInvoice(ctx, marker.TriggeringInvoiceNumber)
	require.NoError(t, err)
	completion.SourceTaskID = task.TaskID
	require.NoError(t, ds.UpdateInvoice(ctx, completion))

	report, err := p.RollbackTaskApproval(ctx, task.TaskID)
	require.NoError(t, err)
	assert.True(t, report.Payments.OK)

	reopened, err := p.GetProject(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusOngoing, reopened.Status)
	assert.True(t, reopened.PaidToDate.IsZero())

	_, err = ds.GetFinalPayoutMarker(ctx, project.ProjectID)
	assert.Error(t, err)
}

func TestInvoiceMatchesTaskTextualFallback(t *testing.T) {
	task := &model.Task{TaskID: "tsk_abc", Title: "Design the landing page"}

	linked := &model.Invoice{SourceTaskID: "tsk_abc"}
	assert.True(t, invoiceMatchesTask(linked, task))

	otherLink := &model.Invoice{SourceTaskID: "tsk_other"}
	assert.False(t, invoiceMatchesTask(otherLink, task))

	byID := &model.Invoice{Description: "Milestone 1 of 3: Design (task tsk_abc)"}
	assert.True(t, invoiceMatchesTask(byID, task))

	byTitle := &model.Invoice{Description: "Design the landing page!"}
	assert.True(t, invoiceMatchesTask(byTitle, task))

	unrelated := &model.Invoice{Description: "Quarterly retainer for ops support"}
	assert.False(t, invoiceMatchesTask(unrelated, task))
}

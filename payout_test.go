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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payline-io/payline/internal/apierror"
	"github.com/payline-io/payline/model"
)

// approveAllTasks pushes every task on the project through review and
// approval so the readiness gate opens.
func approveAllTasks(t *testing.T, p *Payline, project *model.Project, count int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		task := newReviewTask(t, p, project)
		task.Approve(project.CommissionerID, task.CreatedAt)
		// Persisted directly so approval side effects don't fire the payout
		// ahead of the scenario under test.
		require.NoError(t, p.datasource.UpdateTask(ctx, task))
	}
}

func TestCheckPayoutReadinessReasons(t *testing.T) {
	p, ds := newTestPayline(t)
	ctx := context.Background()

	milestone := newMilestoneProject(t, p, "3000", 3)
	readiness, err := p.CheckPayoutReadiness(ctx, milestone.ProjectID)
	require.NoError(t, err)
	assert.False(t, readiness.Ready)
	assert.Equal(t, model.ReasonNotCompletionMethod, readiness.Reason)

	completion := newCompletionProject(t, p, "5000")

	// No tasks at all counts as outstanding work.
	readiness, err = p.CheckPayoutReadiness(ctx, completion.ProjectID)
	require.NoError(t, err)
	assert.False(t, readiness.Ready)
	assert.Equal(t, model.ReasonTasksOutstanding, readiness.Reason)

	task := newReviewTask(t, p, completion)
	readiness, err = p.CheckPayoutReadiness(ctx, completion.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonTasksOutstanding, readiness.Reason)

	task.Approve(completion.CommissionerID, task.CreatedAt)
	require.NoError(t, ds.UpdateTask(ctx, task))

	readiness, err = p.CheckPayoutReadiness(ctx, completion.ProjectID)
	require.NoError(t, err)
	assert.True(t, readiness.Ready)
	assert.Empty(t, readiness.Reason)
}

func TestCheckPayoutReadinessNoBudget(t *testing.T) {
	p, ds := newTestPayline(t)
	ctx := context.Background()
	project := newCompletionProject(t, p, "5000")
	approveAllTasks(t, p, project, 1)

	project.PaidToDate = project.TotalBudget
	require.NoError(t, ds.UpdateProject(ctx, project))

	readiness, err := p.CheckPayoutReadiness(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.False(t, readiness.Ready)
	assert.Equal(t, model.ReasonNoRemainingBudget, readiness.Reason)
}

func TestCheckPayoutReadinessAfterPayout(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()
	project := newCompletionProject(t, p, "5000")
	approveAllTasks(t, p, project, 1)

	_, err := p.ExecuteFinalPayout(ctx, project.ProjectID, "manualTrigger")
	require.NoError(t, err)

	readiness, err := p.CheckPayoutReadiness(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.False(t, readiness.Ready)
	assert.Equal(t, model.ReasonAlreadyProcessed, readiness.Reason)
}

func TestExecuteFinalPayoutSettlesProject(t *testing.T) {
	p, ds := newTestPayline(t)
	ctx := context.Background()
	project := newCompletionProject(t, p, "5000")
	approveAllTasks(t, p, project, 2)

	invoice, err := p.ExecuteFinalPayout(ctx, project.ProjectID, "manualTrigger")
	require.NoError(t, err)
	assert.Equal(t, "5000", invoice.TotalAmount.String())
	assert.Equal(t, model.InvoiceStatusPaid, invoice.Status)

	marker, err := ds.GetFinalPayoutMarker(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, invoice.InvoiceNumber, marker.TriggeringInvoiceNumber)
	assert.Equal(t, "manualTrigger", marker.Trigger)

	settled, err := p.GetProject(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectStatusCompleted, settled.Status)
	assert.Equal(t, "5000", settled.PaidToDate.String())

	entries, err := ds.WalletEntriesByInvoice(ctx, invoice.InvoiceNumber)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.DirectionCredit, entries[0].Direction)
	assert.Equal(t, project.FreelancerID, entries[0].UserID)
}

func TestExecuteFinalPayoutReplay(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()
	project := newCompletionProject(t, p, "5000")
	approveAllTasks(t, p, project, 1)

	_, err := p.ExecuteFinalPayout(ctx, project.ProjectID, "taskApproval")
	require.NoError(t, err)

	_, err = p.ExecuteFinalPayout(ctx, project.ProjectID, "manualTrigger")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrAlreadyProcessed))
}

func TestExecuteFinalPayoutConcurrentFiresOnce(t *testing.T) {
	p, ds := newTestPayline(t)
	ctx := context.Background()
	project := newCompletionProject(t, p, "5000")
	approveAllTasks(t, p, project, 1)

	const racers = 10
	var wins, replays int32
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.ExecuteFinalPayout(ctx, project.ProjectID, "taskApproval")
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case apierror.Is(err, apierror.ErrAlreadyProcessed):
				atomic.AddInt32(&replays, 1)
			default:
				t.Errorf("unexpected payout error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(racers-1), replays)

	invoices, err := ds.InvoicesByProject(ctx, project.ProjectID)
	require.NoError(t, err)
	completions := 0
	for _, inv := range invoices {
		if inv.Kind == model.InvoiceKindCompletionPayout {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestExecuteManualPayout(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()
	project := newCompletionProject(t, p, "5000")

	invoice, err := p.ExecuteManualPayout(ctx, project.ProjectID, "ops-ticket-42", model.MustDecimal("1000"))
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceKindManualPartial, invoice.Kind)
	assert.Equal(t, "1000", invoice.TotalAmount.String())
	assert.Equal(t, model.InvoiceStatusPaid, invoice.Status)

	updated, err := p.GetProject(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "1000", updated.PaidToDate.String())
	assert.Equal(t, model.ProjectStatusOngoing, updated.Status)
}

func TestExecuteManualPayoutDuplicateTokenIsNoOp(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()
	project := newCompletionProject(t, p, "5000")

	first, err := p.ExecuteManualPayout(ctx, project.ProjectID, "ops-ticket-42", model.MustDecimal("1000"))
	require.NoError(t, err)

	replay, err := p.ExecuteManualPayout(ctx, project.ProjectID, "ops-ticket-42", model.MustDecimal("1000"))
	require.NoError(t, err)
	assert.Equal(t, first.InvoiceNumber, replay.InvoiceNumber)

	updated, err := p.GetProject(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "1000", updated.PaidToDate.String())

	// A different token pays out again.
	second, err := p.ExecuteManualPayout(ctx, project.ProjectID, "ops-ticket-43", model.MustDecimal("500"))
	require.NoError(t, err)
	assert.NotEqual(t, first.InvoiceNumber, second.InvoiceNumber)
}

func TestExecuteManualPayoutValidation(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()
	project := newCompletionProject(t, p, "5000")

	_, err := p.ExecuteManualPayout(ctx, project.ProjectID, "", model.MustDecimal("100"))
	assert.True(t, apierror.Is(err, apierror.ErrValidation))

	_, err = p.ExecuteManualPayout(ctx, project.ProjectID, "tok", model.MustDecimal("-5"))
	assert.True(t, apierror.Is(err, apierror.ErrValidation))

	_, err = p.ExecuteManualPayout(ctx, project.ProjectID, "tok", model.MustDecimal("6000"))
	assert.True(t, apierror.Is(err, apierror.ErrInsufficientBudget))

	_, err = p.ExecuteManualPayout(ctx, "prj_missing", "tok", model.MustDecimal("100"))
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestMarkInvoicePaid(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()
	project := newMilestoneProject(t, p, "5000", 3)
	task := newReviewTask(t, p, project)

	_, err := p.ApproveTask(ctx, task.TaskID, project.CommissionerID)
	require.NoError(t, err)

	invoices, err := p.GetInvoicesByProject(ctx, project.ProjectID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)

	paid, err := p.MarkInvoicePaid(ctx, invoices[0].InvoiceNumber)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	updated, err := p.GetProject(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "1666.67", updated.PaidToDate.String())

	// Paying again neither credits the wallet nor moves paid to date.
	_, err = p.MarkInvoicePaid(ctx, invoices[0].InvoiceNumber)
	require.NoError(t, err)
	updated, err = p.GetProject(ctx, project.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "1666.67", updated.PaidToDate.String())
}

func TestMarkInvoicePaidRefusesCompletionPayout(t *testing.T) {
	p, ds := newTestPayline(t)
	ctx := context.Background()
	project := newCompletionProject(t, p, "5000")
	approveAllTasks(t, p, project, 1)

	invoice, err := p.ExecuteFinalPayout(ctx, project.ProjectID, "manualTrigger")
	require.NoError(t, err)

	// Force the invoice back to draft to prove the guard is on kind, not
	// status.
	invoice.Status = model.InvoiceStatusDraft
	invoice.PaidAt = nil
	require.NoError(t, ds.UpdateInvoice(ctx, invoice))

	_, err = p.MarkInvoicePaid(ctx, invoice.InvoiceNumber)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
	assert.Contains(t, err.Error(), "payout executor")
}

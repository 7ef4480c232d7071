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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/payline-io/payline/internal/apierror"
	"github.com/payline-io/payline/model"
	"github.com/payline-io/payline/store"
)

var tracer = otel.Tracer("payline.pipeline")

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// CreateTask persists a new task under a project, starting in Ongoing.
func (p *Payline) CreateTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	if _, err := p.datasource.GetProject(ctx, task.ProjectID); err != nil {
		if err == store.ErrNotFound {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "project not found", task.ProjectID)
		}
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not load project", err.Error())
	}
	if task.TaskID == "" {
		task.TaskID = model.GenerateUUIDWithPrefix("tsk")
	}
	if task.Status == "" {
		task.Status = model.TaskStatusOngoing
	}
	task.CreatedAt = time.Now()
	if err := p.datasource.CreateTask(ctx, task); err != nil {
		if err == store.ErrKeyExists {
			return nil, apierror.NewAPIError(apierror.ErrValidation, "task id already in use", task.TaskID)
		}
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not create task", err.Error())
	}
	p.audit(ctx, auditEntry{Action: "task.created", EntityType: "task", EntityID: task.TaskID, TaskID: task.TaskID, ProjectID: task.ProjectID})
	return task, nil
}

// SubmitTask moves a task into review. Ongoing and Rejected tasks may be
// submitted; a rejected task re-entering review is the resubmission edge.
func (p *Payline) SubmitTask(ctx context.Context, taskID, actorID string) (*model.Task, error) {
	task, project, err := p.loadTaskAndProject(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if actorID != project.FreelancerID {
		return nil, apierror.NewAPIError(apierror.ErrAccessDenied, "only the project freelancer can submit tasks", actorID)
	}
	if task.Status != model.TaskStatusOngoing && task.Status != model.TaskStatusRejected {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "task cannot be submitted from its current state", string(task.Status))
	}

	task.Status = model.TaskStatusInReview
	if err := p.datasource.UpdateTask(ctx, task); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not submit task", err.Error())
	}
	p.audit(ctx, auditEntry{Action: "task.submitted", EntityType: "task", EntityID: taskID, TaskID: taskID, ProjectID: task.ProjectID, ActorID: actorID})
	p.publishEvent(ctx, EventTaskSubmitted, taskID, task.ProjectID, map[string]interface{}{"task_id": taskID})
	return task, nil
}

// RejectTask records the commissioner's rejection. The task returns to the
// freelancer and may be resubmitted.
func (p *Payline) RejectTask(ctx context.Context, taskID, actorID string) (*model.Task, error) {
	task, project, err := p.loadTaskAndProject(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if actorID != project.CommissionerID {
		return nil, apierror.NewAPIError(apierror.ErrAccessDenied, "only the project commissioner can reject tasks", actorID)
	}
	if task.Status != model.TaskStatusInReview {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "only tasks in review can be rejected", string(task.Status))
	}

	task.Status = model.TaskStatusRejected
	task.Completed = false
	if err := p.datasource.UpdateTask(ctx, task); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not reject task", err.Error())
	}
	p.audit(ctx, auditEntry{Action: "task.rejected", EntityType: "task", EntityID: taskID, TaskID: taskID, ProjectID: task.ProjectID, ActorID: actorID})
	p.publishEvent(ctx, EventTaskRejected, taskID, task.ProjectID, map[string]interface{}{"task_id": taskID})
	return task, nil
}

// ApproveTask advances a task to Approved and drives the downstream
// billing flow for its project:
//
//   - milestone projects emit one milestone invoice per approval;
//   - completion projects emit nothing here, but when this approval makes
//     "all tasks approved" true the flow proceeds through the payment
//     readiness gate to the payout executor.
//
// Replaying an approval on an already-Approved task is a no-op: no second
// invoice, no second payout attempt.
func (p *Payline) ApproveTask(ctx context.Context, taskID, actorID string) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "Approving task")
	defer span.End()

	task, project, err := p.loadTaskAndProject(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if actorID == project.FreelancerID {
		return nil, apierror.NewAPIError(apierror.ErrAccessDenied, "freelancers cannot approve their own tasks", actorID)
	}
	if actorID != project.CommissionerID {
		return nil, apierror.NewAPIError(apierror.ErrAccessDenied, "only the project commissioner can approve tasks", actorID)
	}

	if task.Status == model.TaskStatusApproved {
		p.audit(ctx, auditEntry{Action: "task.approve.replay", EntityType: "task", EntityID: taskID, TaskID: taskID, ProjectID: task.ProjectID, ActorID: actorID})
		return task, nil
	}
	if task.Status != model.TaskStatusInReview {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "only tasks in review can be approved", string(task.Status))
	}

	p.audit(ctx, auditEntry{Action: "task.approve.begin", EntityType: "task", EntityID: taskID, TaskID: taskID, ProjectID: task.ProjectID, ActorID: actorID})

	task.Approve(actorID, time.Now())
	if err := p.datasource.UpdateTask(ctx, task); err != nil {
		err = apierror.NewAPIError(apierror.ErrStorage, "could not persist task approval", err.Error())
		return nil, logAndRecordError(span, "task approval error: ", err)
	}

	p.audit(ctx, auditEntry{Action: "task.approved", EntityType: "task", EntityID: taskID, TaskID: taskID, ProjectID: task.ProjectID, ActorID: actorID})
	p.publishEvent(ctx, EventTaskApproved, taskID, task.ProjectID, map[string]interface{}{"task_id": taskID, "approved_by": actorID})

	switch project.InvoicingMethod {
	case model.InvoicingMilestone:
		p.audit(ctx, auditEntry{Action: "invoice.dispatch.begin", EntityType: "task", EntityID: taskID, TaskID: taskID, ProjectID: project.ProjectID})
		if _, err := p.EmitApprovalInvoice(ctx, taskID); err != nil {
			return nil, logAndRecordError(span, "milestone invoice error: ", err)
		}
		p.audit(ctx, auditEntry{Action: "invoice.dispatch.done", EntityType: "task", EntityID: taskID, TaskID: taskID, ProjectID: project.ProjectID})
	case model.InvoicingCompletion:
		// Completion projects settle only through the dedicated path below;
		// EmitApprovalInvoice refuses them outright.
		if err := p.settleCompletionIfReady(ctx, task, project); err != nil {
			return nil, logAndRecordError(span, "completion settlement error: ", err)
		}
	}

	return task, nil
}

// EmitApprovalInvoice is the general-purpose invoice entry point for a task
// approval. It handles milestone projects only: completion projects are
// refused here and must settle through the completion payout path, so that
// no second entry point can ever execute final-payout logic.
func (p *Payline) EmitApprovalInvoice(ctx context.Context, taskID string) (*model.Invoice, error) {
	task, project, err := p.loadTaskAndProject(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if project.InvoicingMethod == model.InvoicingCompletion {
		return nil, apierror.NewAPIError(apierror.ErrValidation,
			"completion projects settle through the completion payout path", project.ProjectID)
	}
	if task.Status != model.TaskStatusApproved {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "invoice can only be emitted for an approved task", string(task.Status))
	}

	existing, err := p.datasource.InvoicesBySourceTask(ctx, taskID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not check existing invoices", err.Error())
	}
	if len(existing) > 0 {
		// Approval replays land here too: the invoice already exists.
		return existing[0], nil
	}

	projectInvoices, err := p.datasource.InvoicesByProject(ctx, project.ProjectID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not list project invoices", err.Error())
	}
	// A rollback can remove an earlier milestone invoice, leaving a hole in
	// the sequence. Take the lowest number no surviving invoice holds so the
	// re-approval bills the missing milestone instead of duplicating a later
	// one.
	taken := make(map[int]bool)
	for _, inv := range projectInvoices {
		if inv.Kind == model.InvoiceKindMilestone {
			taken[inv.MilestoneNumber] = true
		}
	}
	milestoneNumber := 1
	for taken[milestoneNumber] {
		milestoneNumber++
	}

	invoice, err := MilestoneInvoice(project, milestoneNumber, taskID, task.Title, time.Now())
	if err != nil {
		return nil, err
	}
	if err := p.datasource.CreateInvoice(ctx, invoice); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not persist milestone invoice", err.Error())
	}

	p.audit(ctx, auditEntry{
		Action:     "invoice.created",
		EntityType: "invoice",
		EntityID:   invoice.InvoiceNumber,
		TaskID:     taskID,
		ProjectID:  project.ProjectID,
		Details:    map[string]interface{}{"kind": invoice.Kind, "milestone": milestoneNumber, "amount": invoice.TotalAmount.String()},
	})
	p.publishEvent(ctx, EventInvoiceCreated, taskID, project.ProjectID, map[string]interface{}{"invoice_number": invoice.InvoiceNumber})
	return invoice, nil
}

// settleCompletionIfReady is the dedicated completion-billing path invoked
// after a task approval. It asks the readiness gate whether this approval
// completed the project and, if so, hands off to the payout executor. A
// losing race against another trigger surfaces as AlreadyProcessed and is
// swallowed here: the payout happened, which is what the caller wanted.
func (p *Payline) settleCompletionIfReady(ctx context.Context, task *model.Task, project *model.Project) error {
	readiness, err := p.CheckPayoutReadiness(ctx, project.ProjectID)
	if err != nil {
		return err
	}
	if !readiness.Ready {
		p.audit(ctx, auditEntry{
			Action:     "payout.not_ready",
			EntityType: "project",
			EntityID:   project.ProjectID,
			TaskID:     task.TaskID,
			ProjectID:  project.ProjectID,
			Details:    map[string]interface{}{"reason": readiness.Reason},
		})
		return nil
	}

	p.audit(ctx, auditEntry{Action: "payout.dispatch.begin", EntityType: "project", EntityID: project.ProjectID, TaskID: task.TaskID, ProjectID: project.ProjectID})
	_, err = p.ExecuteFinalPayout(ctx, project.ProjectID, "taskApproval")
	if apierror.Is(err, apierror.ErrAlreadyProcessed) {
		// Another trigger claimed the payout between the gate check and the
		// marker write. The payout happened, so this dispatch is a replay,
		// and the trail must say so rather than record a second completion.
		p.audit(ctx, auditEntry{Action: "payout.dispatch.replay", EntityType: "project", EntityID: project.ProjectID, TaskID: task.TaskID, ProjectID: project.ProjectID})
		return nil
	}
	if err != nil {
		return err
	}
	p.audit(ctx, auditEntry{Action: "payout.dispatch.done", EntityType: "project", EntityID: project.ProjectID, TaskID: task.TaskID, ProjectID: project.ProjectID})
	return nil
}

func (p *Payline) loadTaskAndProject(ctx context.Context, taskID string) (*model.Task, *model.Project, error) {
	task, err := p.datasource.GetTask(ctx, taskID)
	if err == store.ErrNotFound {
		return nil, nil, apierror.NewAPIError(apierror.ErrNotFound, "task not found", taskID)
	}
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrStorage, "could not load task", err.Error())
	}

	project, err := p.datasource.GetProject(ctx, task.ProjectID)
	if err == store.ErrNotFound {
		return nil, nil, apierror.NewAPIError(apierror.ErrNotFound, "project not found", task.ProjectID)
	}
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrStorage, "could not load project", err.Error())
	}
	return task, project, nil
}

// GetTask loads a task by id.
func (p *Payline) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	task, err := p.datasource.GetTask(ctx, taskID)
	if err == store.ErrNotFound {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "task not found", taskID)
	}
	return task, err
}

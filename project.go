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

	"github.com/payline-io/payline/config"
	"github.com/payline-io/payline/internal/apierror"
	"github.com/payline-io/payline/model"
	"github.com/payline-io/payline/store"
)

// CreateProject persists a new project. The project id is expected to come
// from the allocator (or a migration); creation fails on a duplicate id.
func (p *Payline) CreateProject(ctx context.Context, project *model.Project) (*model.Project, error) {
	if project.ProjectID == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "project id is required", nil)
	}
	if project.Status == "" {
		project.Status = model.ProjectStatusPaused
	}
	if project.PaidToDate.IsZero() {
		project.PaidToDate = decimal.Zero
	}
	project.CreatedAt = time.Now()

	err := p.datasource.CreateProject(ctx, project)
	if err == store.ErrKeyExists {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "project id already in use", project.ProjectID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not create project", err.Error())
	}

	p.audit(ctx, auditEntry{Action: "project.created", EntityType: "project", EntityID: project.ProjectID, ProjectID: project.ProjectID})
	return project, nil
}

// ActivateProject moves a project into its ongoing state. For completion
// billed projects this is also the moment the single upfront invoice is
// emitted; an upfront marker claimed through the store's create-only write
// keeps activation replays from double-billing.
func (p *Payline) ActivateProject(ctx context.Context, projectID string) (*model.Project, *model.Invoice, error) {
	project, err := p.datasource.GetProject(ctx, projectID)
	if err == store.ErrNotFound {
		return nil, nil, apierror.NewAPIError(apierror.ErrNotFound, "project not found", projectID)
	}
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrStorage, "could not load project", err.Error())
	}

	if project.Status == model.ProjectStatusOngoing {
		return project, nil, nil
	}

	project.Status = model.ProjectStatusOngoing
	if err := p.datasource.UpdateProject(ctx, project); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrStorage, "could not activate project", err.Error())
	}
	p.audit(ctx, auditEntry{Action: "project.activated", EntityType: "project", EntityID: projectID, ProjectID: projectID})
	p.publishEvent(ctx, EventProjectActivated, "", projectID, map[string]interface{}{"project_id": projectID})

	if project.InvoicingMethod != model.InvoicingCompletion {
		return project, nil, nil
	}

	conf, err := config.Fetch()
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	invoice, err := UpfrontInvoice(project, conf.UpfrontPercent(), now)
	if err != nil {
		return nil, nil, err
	}

	marker := &model.UpfrontMarker{ProjectID: projectID, InvoiceNumber: invoice.InvoiceNumber, ProcessedAt: now}
	err = p.datasource.CreateUpfrontMarker(ctx, marker)
	if err == store.ErrKeyExists {
		// Replayed activation: the upfront invoice already exists.
		return project, nil, nil
	}
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrStorage, "could not claim upfront marker", err.Error())
	}

	if err := p.datasource.CreateInvoice(ctx, invoice); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrStorage, "could not persist upfront invoice", err.Error())
	}
	p.audit(ctx, auditEntry{
		Action:     "invoice.created",
		EntityType: "invoice",
		EntityID:   invoice.InvoiceNumber,
		ProjectID:  projectID,
		Details:    map[string]interface{}{"kind": invoice.Kind, "amount": invoice.TotalAmount.String()},
	})
	p.publishEvent(ctx, EventInvoiceCreated, "", projectID, map[string]interface{}{"invoice_number": invoice.InvoiceNumber})

	return project, invoice, nil
}

// GetProject loads a project by id.
func (p *Payline) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	project, err := p.datasource.GetProject(ctx, projectID)
	if err == store.ErrNotFound {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "project not found", projectID)
	}
	return project, err
}

// GetInvoicesByProject lists every invoice on a project.
func (p *Payline) GetInvoicesByProject(ctx context.Context, projectID string) ([]*model.Invoice, error) {
	return p.datasource.InvoicesByProject(ctx, projectID)
}

// GetWalletStatement lists a freelancer's append-only wallet ledger.
func (p *Payline) GetWalletStatement(ctx context.Context, userID string) ([]*model.WalletEntry, error) {
	return p.datasource.WalletEntriesByUser(ctx, userID)
}

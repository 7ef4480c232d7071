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
	"time"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/payline-io/payline/internal/apierror"
	"github.com/payline-io/payline/model"
	"github.com/payline-io/payline/store"
)

// Paid invoices on the same project whose descriptions are this similar
// are flagged as possible duplicates for an operator to review.
const duplicateSimilarityThreshold = 0.90

// ReconcileProject checks the money invariant for one project: paid to
// date should equal the sum of its paid invoices. Milestone rounding can
// leave legitimate cent-level drift, so reconciliation reports the exact
// difference and lets the operator judge it rather than auto-correcting.
func (p *Payline) ReconcileProject(ctx context.Context, projectID string) (*model.ReconciliationReport, error) {
	project, err := p.datasource.GetProject(ctx, projectID)
	if err == store.ErrNotFound {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "project not found", projectID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not load project", err.Error())
	}

	invoices, err := p.datasource.InvoicesByProject(ctx, projectID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not list project invoices", err.Error())
	}

	paidSum := decimal.Zero
	var paid []*model.Invoice
	for _, invoice := range invoices {
		if invoice.Status != model.InvoiceStatusPaid {
			continue
		}
		paidSum = paidSum.Add(invoice.TotalAmount)
		paid = append(paid, invoice)
	}
	paidSum = model.Round2(paidSum)

	drift := model.Round2(project.PaidToDate.Sub(paidSum))
	report := &model.ReconciliationReport{
		ProjectID:       projectID,
		PaidToDate:      project.PaidToDate,
		PaidInvoiceSum:  paidSum,
		Drift:           drift,
		Balanced:        drift.IsZero(),
		PaidInvoices:    len(paid),
		SuspectInvoices: suspectDuplicates(paid),
		CheckedAt:       time.Now(),
	}

	p.audit(ctx, auditEntry{
		Action:     "project.reconciled",
		EntityType: "project",
		EntityID:   projectID,
		ProjectID:  projectID,
		Details: map[string]interface{}{
			"balanced": report.Balanced,
			"drift":    report.Drift.String(),
			"suspects": len(report.SuspectInvoices),
		},
	})
	return report, nil
}

// suspectDuplicates pairs up paid invoices with near-identical
// descriptions. A duplicate pair usually means a replayed billing path
// slipped past its idempotency guard.
func suspectDuplicates(paid []*model.Invoice) []string {
	suspects := map[string]bool{}
	for i := 0; i < len(paid); i++ {
		for j := i + 1; j < len(paid); j++ {
			if descriptionsSimilar(paid[i].Description, paid[j].Description) {
				suspects[paid[i].InvoiceNumber] = true
				suspects[paid[j].InvoiceNumber] = true
			}
		}
	}
	var out []string
	for number := range suspects {
		out = append(out, number)
	}
	return out
}

func descriptionsSimilar(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	distance := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 1.0-float64(distance)/float64(longest) >= duplicateSimilarityThreshold
}

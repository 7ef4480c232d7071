package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ProjectStatus is the closed set of lifecycle states a project can be in.
type ProjectStatus string

const (
	ProjectStatusOngoing   ProjectStatus = "ONGOING"
	ProjectStatusPaused    ProjectStatus = "PAUSED"
	ProjectStatusCompleted ProjectStatus = "COMPLETED"
)

// InvoicingMethod selects the billing policy for a project.
type InvoicingMethod string

const (
	// InvoicingMilestone splits the budget evenly across a fixed number of
	// milestones, one invoice per approved task.
	InvoicingMilestone InvoicingMethod = "MILESTONE"
	// InvoicingCompletion pays an upfront percentage at activation and the
	// remainder once every task is approved.
	InvoicingCompletion InvoicingMethod = "COMPLETION"
)

// ParseProjectStatus validates a raw status string against the closed set.
// Unrecognized values are rejected rather than passed through.
func ParseProjectStatus(raw string) (ProjectStatus, error) {
	switch ProjectStatus(raw) {
	case ProjectStatusOngoing, ProjectStatusPaused, ProjectStatusCompleted:
		return ProjectStatus(raw), nil
	}
	return "", fmt.Errorf("unrecognized project status %q", raw)
}

// ParseInvoicingMethod validates a raw invoicing method string.
func ParseInvoicingMethod(raw string) (InvoicingMethod, error) {
	switch InvoicingMethod(raw) {
	case InvoicingMilestone, InvoicingCompletion:
		return InvoicingMethod(raw), nil
	}
	return "", fmt.Errorf("unrecognized invoicing method %q", raw)
}

// Project is the owning aggregate for tasks and the unit a payout settles.
type Project struct {
	ProjectID       string                 `json:"project_id"`
	Title           string                 `json:"title"`
	Status          ProjectStatus          `json:"status"`
	InvoicingMethod InvoicingMethod        `json:"invoicing_method"`
	TotalBudget     decimal.Decimal        `json:"total_budget"`
	PaidToDate      decimal.Decimal        `json:"paid_to_date"`
	FreelancerID    string                 `json:"freelancer_id"`
	CommissionerID  string                 `json:"commissioner_id"`
	MilestoneCount  int                    `json:"milestone_count,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

// RemainingBudget returns totalBudget - paidToDate, the amount a completion
// payout would settle.
func (p *Project) RemainingBudget() decimal.Decimal {
	return p.TotalBudget.Sub(p.PaidToDate)
}

// Validate checks the structural invariants of a project record.
func (p *Project) Validate() error {
	if _, err := ParseProjectStatus(string(p.Status)); err != nil {
		return err
	}
	if _, err := ParseInvoicingMethod(string(p.InvoicingMethod)); err != nil {
		return err
	}
	if p.TotalBudget.IsNegative() {
		return fmt.Errorf("project %s has negative total budget", p.ProjectID)
	}
	if p.PaidToDate.IsNegative() {
		return fmt.Errorf("project %s has negative paid to date", p.ProjectID)
	}
	if p.InvoicingMethod == InvoicingMilestone && p.MilestoneCount <= 0 {
		return fmt.Errorf("milestone project %s needs a positive milestone count", p.ProjectID)
	}
	return nil
}

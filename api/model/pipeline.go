package model

import (
	"github.com/shopspring/decimal"
)

type AllocateProjectID struct {
	OrgLetter string `json:"org_letter"`
	Mode      string `json:"mode"`
	Origin    string `json:"origin"`
}

type CreateProject struct {
	ProjectID       string                 `json:"project_id"`
	Title           string                 `json:"title"`
	InvoicingMethod string                 `json:"invoicing_method"`
	TotalBudget     decimal.Decimal        `json:"total_budget"`
	FreelancerID    string                 `json:"freelancer_id"`
	CommissionerID  string                 `json:"commissioner_id"`
	MilestoneCount  int                    `json:"milestone_count"`
	MetaData        map[string]interface{} `json:"meta_data"`
}

type CreateTask struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
}

type TaskAction struct {
	ActorID string `json:"actor_id"`
}

type ManualPayout struct {
	TriggerToken string          `json:"trigger_token"`
	Amount       decimal.Decimal `json:"amount"`
}

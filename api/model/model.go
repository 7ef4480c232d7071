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
package model

import (
	"github.com/shopspring/decimal"

	"github.com/payline-io/payline/model"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func (r *AllocateProjectID) ValidateAllocateProjectID() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.OrgLetter, validation.Required, validation.Length(1, 1)),
		validation.Field(&r.Mode, validation.Required),
	)
}

func (r *CreateProject) ValidateCreateProject() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ProjectID, validation.Required),
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.InvoicingMethod, validation.Required),
		validation.Field(&r.TotalBudget, validation.Required),
		validation.Field(&r.FreelancerID, validation.Required),
		validation.Field(&r.CommissionerID, validation.Required),
	)
}

func (r *CreateProject) ToProject() *model.Project {
	return &model.Project{
		ProjectID:       r.ProjectID,
		Title:           r.Title,
		InvoicingMethod: model.InvoicingMethod(r.InvoicingMethod),
		TotalBudget:     r.TotalBudget,
		FreelancerID:    r.FreelancerID,
		CommissionerID:  r.CommissionerID,
		MilestoneCount:  r.MilestoneCount,
		MetaData:        r.MetaData,
	}
}

func (r *CreateTask) ValidateCreateTask() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ProjectID, validation.Required),
		validation.Field(&r.Title, validation.Required),
	)
}

func (r *CreateTask) ToTask() *model.Task {
	return &model.Task{
		ProjectID: r.ProjectID,
		Title:     r.Title,
	}
}

func (r *TaskAction) ValidateTaskAction() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ActorID, validation.Required),
	)
}

func (r *ManualPayout) ValidateManualPayout() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TriggerToken, validation.Required),
		validation.Field(&r.Amount, validation.Required, validation.By(positiveAmount(r.Amount))),
	)
}

func positiveAmount(amount decimal.Decimal) validation.RuleFunc {
	return func(value interface{}) error {
		if !amount.IsPositive() {
			return validation.NewError("validation_amount", "amount must be greater than zero")
		}
		return nil
	}
}

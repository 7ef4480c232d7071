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

	"github.com/payline-io/payline/internal/notification"
	"github.com/payline-io/payline/model"
)

// auditEntry is the builder for one append-only audit event.
type auditEntry struct {
	Action     string
	EntityType string
	EntityID   string
	TaskID     string
	ProjectID  string
	ActorID    string
	Details    map[string]interface{}
}

// audit appends a structured event to the audit log and mirrors it to the
// structured logger. Audit failures are reported but never abort the
// operation being audited; the operation's own error path handles that.
func (p *Payline) audit(ctx context.Context, entry auditEntry) {
	event := &model.AuditEvent{
		EventID:    model.GenerateUUIDWithPrefix("aud"),
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		TaskID:     entry.TaskID,
		ProjectID:  entry.ProjectID,
		ActorID:    entry.ActorID,
		Details:    entry.Details,
		CreatedAt:  time.Now(),
	}

	logrus.WithFields(logrus.Fields{
		"event_id":    event.EventID,
		"action":      event.Action,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
		"task_id":     event.TaskID,
		"project_id":  event.ProjectID,
		"actor_id":    event.ActorID,
	}).Info("audit")

	if err := p.datasource.AppendAuditEvent(ctx, event); err != nil {
		notification.NotifyError(err)
	}
}

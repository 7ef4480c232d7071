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
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/payline-io/payline/config"
	"github.com/payline-io/payline/internal/notification"
	"github.com/payline-io/payline/internal/request"
	"github.com/payline-io/payline/model"
)

// Pipeline event names. Consumers receive these at least once and are
// responsible for their own idempotency, mirroring the marker discipline
// on the producer side.
const (
	EventTaskSubmitted    = "task.submitted"
	EventTaskApproved     = "task.approved"
	EventTaskRejected     = "task.rejected"
	EventTaskRolledBack   = "task.rolled_back"
	EventInvoiceCreated   = "invoice.created"
	EventInvoicePaid      = "invoice.paid"
	EventProjectActivated = "project.activated"
	EventPayoutCompleted  = "payout.completed"
	EventPayoutManual     = "payout.manual"
)

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// publishEvent persists a notification record (the causal trail rollback
// walks) and queues the webhook for at-least-once delivery. Publication
// failures are reported but never fail the calling operation.
func (p *Payline) publishEvent(ctx context.Context, event, taskID, projectID string, payload map[string]interface{}) {
	record := &model.NotificationEvent{
		NotificationID: model.GenerateUUIDWithPrefix("ntf"),
		Event:          event,
		TaskID:         taskID,
		ProjectID:      projectID,
		Payload:        payload,
		CreatedAt:      time.Now(),
	}
	if err := p.datasource.CreateNotification(ctx, record); err != nil {
		notification.NotifyError(err)
	}

	go func() {
		if err := p.SendWebhook(NewWebhook{Event: event, Payload: record}); err != nil {
			notification.NotifyError(err)
		}
	}()
}

// SendWebhook enqueues a webhook notification task.
func (p *Payline) SendWebhook(newWebhook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(newWebhook)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{asynq.Queue(conf.Queue.WebhookQueue)}
	task := asynq.NewTask(conf.Queue.WebhookQueue, payload, taskOptions...)
	info, err := p.queue.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// processHTTP delivers a webhook notification via HTTP POST.
func processHTTP(data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	payload, err := request.ToJsonReq(data)
	if err != nil {
		log.Println("Error marshaling data:", err)
		return err
	}

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
	if err != nil {
		log.Println("Error creating request:", err)
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := request.Call(req, nil)
	if err != nil {
		log.Println("Error sending request:", err)
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Webhook delivery failed with status code: %d\n", resp.StatusCode)
	}
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing webhook: %+v\n", payload.Event)
	return processHTTP(payload)
}

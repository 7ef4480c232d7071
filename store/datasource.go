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

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/payline-io/payline/internal/cache"
	"github.com/payline-io/payline/model"
)

// IDataSource is the typed persistence surface the pipeline services use.
type IDataSource interface {
	CreateProject(ctx context.Context, project *model.Project) error
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	UpdateProject(ctx context.Context, project *model.Project) error

	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	TasksByProject(ctx context.Context, projectID string) ([]*model.Task, error)

	CreateInvoice(ctx context.Context, invoice *model.Invoice) error
	GetInvoice(ctx context.Context, invoiceNumber string) (*model.Invoice, error)
	UpdateInvoice(ctx context.Context, invoice *model.Invoice) error
	InvoicesByProject(ctx context.Context, projectID string) ([]*model.Invoice, error)
	InvoicesBySourceTask(ctx context.Context, taskID string) ([]*model.Invoice, error)
	DeleteInvoice(ctx context.Context, invoiceNumber string) error

	CreateWalletEntry(ctx context.Context, entry *model.WalletEntry) error
	WalletEntriesByUser(ctx context.Context, userID string) ([]*model.WalletEntry, error)
	WalletEntriesByInvoice(ctx context.Context, invoiceNumber string) ([]*model.WalletEntry, error)
	DeleteWalletEntry(ctx context.Context, entry *model.WalletEntry) error

	CreateFinalPayoutMarker(ctx context.Context, marker *model.FinalPayoutMarker) error
	GetFinalPayoutMarker(ctx context.Context, projectID string) (*model.FinalPayoutMarker, error)
	DeleteFinalPayoutMarker(ctx context.Context, projectID string) error
	CreateManualPayoutMarker(ctx context.Context, marker *model.ManualPayoutMarker) error
	GetManualPayoutMarker(ctx context.Context, projectID, token string) (*model.ManualPayoutMarker, error)
	CreateUpfrontMarker(ctx context.Context, marker *model.UpfrontMarker) error

	GetIDCounter(ctx context.Context, orgLetter string, mode model.AllocationMode) (*model.IDCounter, error)
	SaveIDCounter(ctx context.Context, counter *model.IDCounter) error
	ClaimProjectID(ctx context.Context, claim *model.IDClaim) error

	AppendAuditEvent(ctx context.Context, event *model.AuditEvent) error
	AuditEventsByProject(ctx context.Context, projectID string) ([]*model.AuditEvent, error)
	CreateNotification(ctx context.Context, event *model.NotificationEvent) error
	NotificationsByTask(ctx context.Context, taskID string) ([]*model.NotificationEvent, error)
	DeleteNotification(ctx context.Context, notificationID string) error
}

// Datasource implements IDataSource over a raw KV, with an optional
// read-through cache for hot entity reads.
type Datasource struct {
	kv    KV
	cache cache.Cache
}

const cacheTTL = 5 * time.Minute

// NewDatasource wraps a KV as a typed datasource. The cache may be nil,
// in which case every read goes to the store.
func NewDatasource(kv KV, c cache.Cache) *Datasource {
	return &Datasource{kv: kv, cache: c}
}

// readRetryPolicy retries transient storage failures on reads. Reads are
// the only operations retried here: a failed CreateOnly must never be
// replayed blindly, because the failure is indistinguishable from "already
// exists" without a re-read (which the callers do themselves).
func readRetryPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 2 * time.Second
	return backoff.WithMaxRetries(policy, 3)
}

func (d *Datasource) read(ctx context.Context, key string, out interface{}) error {
	return backoff.Retry(func() error {
		err := d.kv.Read(ctx, key, out)
		if err == ErrNotFound {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(readRetryPolicy(), ctx))
}

func (d *Datasource) cachedRead(ctx context.Context, key string, out interface{}) (bool, error) {
	if d.cache == nil {
		return false, nil
	}
	var raw []byte
	if err := d.cache.Get(ctx, key, &raw); err != nil {
		logrus.Warnf("cache read for %s failed: %v", key, err)
		return false, nil
	}
	if len(raw) == 0 {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (d *Datasource) cacheStore(ctx context.Context, key string, value interface{}) {
	if d.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, raw, cacheTTL); err != nil {
		logrus.Warnf("cache write for %s failed: %v", key, err)
	}
}

func (d *Datasource) cacheEvict(ctx context.Context, key string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Delete(ctx, key); err != nil {
		logrus.Warnf("cache evict for %s failed: %v", key, err)
	}
}

// ---- projects ----

func (d *Datasource) CreateProject(ctx context.Context, project *model.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	return d.kv.CreateOnly(ctx, projectKey(project.ProjectID), project)
}

func (d *Datasource) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	key := projectKey(projectID)
	project := &model.Project{}
	if hit, err := d.cachedRead(ctx, key, project); hit && err == nil {
		return project, nil
	}
	if err := d.read(ctx, key, project); err != nil {
		return nil, err
	}
	d.cacheStore(ctx, key, project)
	return project, nil
}

func (d *Datasource) UpdateProject(ctx context.Context, project *model.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	if err := d.kv.Write(ctx, projectKey(project.ProjectID), project); err != nil {
		return err
	}
	d.cacheEvict(ctx, projectKey(project.ProjectID))
	return nil
}

// ---- tasks ----

func (d *Datasource) CreateTask(ctx context.Context, task *model.Task) error {
	if _, err := model.ParseTaskStatus(string(task.Status)); err != nil {
		return err
	}
	return d.kv.CreateOnly(ctx, taskKey(task.TaskID), task)
}

func (d *Datasource) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	task := &model.Task{}
	if err := d.read(ctx, taskKey(taskID), task); err != nil {
		return nil, err
	}
	return task, nil
}

func (d *Datasource) UpdateTask(ctx context.Context, task *model.Task) error {
	if _, err := model.ParseTaskStatus(string(task.Status)); err != nil {
		return err
	}
	return d.kv.Write(ctx, taskKey(task.TaskID), task)
}

func (d *Datasource) TasksByProject(ctx context.Context, projectID string) ([]*model.Task, error) {
	raws, err := d.kv.Scan(ctx, taskPrefix)
	if err != nil {
		return nil, err
	}
	var tasks []*model.Task
	for key, raw := range raws {
		task := &model.Task{}
		if err := json.Unmarshal(raw, task); err != nil {
			return nil, errors.Wrapf(err, "decoding task at %s", key)
		}
		if task.ProjectID == projectID {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// ---- invoices ----

func (d *Datasource) CreateInvoice(ctx context.Context, invoice *model.Invoice) error {
	if _, err := model.ParseInvoiceKind(string(invoice.Kind)); err != nil {
		return err
	}
	if _, err := model.ParseInvoiceStatus(string(invoice.Status)); err != nil {
		return err
	}
	return d.kv.CreateOnly(ctx, invoiceKey(invoice.InvoiceNumber), invoice)
}

func (d *Datasource) GetInvoice(ctx context.Context, invoiceNumber string) (*model.Invoice, error) {
	invoice := &model.Invoice{}
	if err := d.read(ctx, invoiceKey(invoiceNumber), invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (d *Datasource) UpdateInvoice(ctx context.Context, invoice *model.Invoice) error {
	if _, err := model.ParseInvoiceStatus(string(invoice.Status)); err != nil {
		return err
	}
	return d.kv.Write(ctx, invoiceKey(invoice.InvoiceNumber), invoice)
}

func (d *Datasource) scanInvoices(ctx context.Context, keep func(*model.Invoice) bool) ([]*model.Invoice, error) {
	raws, err := d.kv.Scan(ctx, invoicePrefix)
	if err != nil {
		return nil, err
	}
	var invoices []*model.Invoice
	for key, raw := range raws {
		invoice := &model.Invoice{}
		if err := json.Unmarshal(raw, invoice); err != nil {
			return nil, errors.Wrapf(err, "decoding invoice at %s", key)
		}
		if keep(invoice) {
			invoices = append(invoices, invoice)
		}
	}
	return invoices, nil
}

func (d *Datasource) InvoicesByProject(ctx context.Context, projectID string) ([]*model.Invoice, error) {
	return d.scanInvoices(ctx, func(i *model.Invoice) bool { return i.ProjectID == projectID })
}

func (d *Datasource) InvoicesBySourceTask(ctx context.Context, taskID string) ([]*model.Invoice, error) {
	return d.scanInvoices(ctx, func(i *model.Invoice) bool { return i.SourceTaskID == taskID })
}

func (d *Datasource) DeleteInvoice(ctx context.Context, invoiceNumber string) error {
	return d.kv.Delete(ctx, invoiceKey(invoiceNumber))
}

// ---- wallet ledger ----

func (d *Datasource) CreateWalletEntry(ctx context.Context, entry *model.WalletEntry) error {
	if _, err := model.ParseEntryDirection(string(entry.Direction)); err != nil {
		return err
	}
	return d.kv.CreateOnly(ctx, walletKey(entry.UserID, entry.EntryID), entry)
}

func (d *Datasource) scanWallet(ctx context.Context, prefix string, keep func(*model.WalletEntry) bool) ([]*model.WalletEntry, error) {
	raws, err := d.kv.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var entries []*model.WalletEntry
	for key, raw := range raws {
		entry := &model.WalletEntry{}
		if err := json.Unmarshal(raw, entry); err != nil {
			return nil, errors.Wrapf(err, "decoding wallet entry at %s", key)
		}
		if keep(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (d *Datasource) WalletEntriesByUser(ctx context.Context, userID string) ([]*model.WalletEntry, error) {
	return d.scanWallet(ctx, walletUserPrefix(userID), func(*model.WalletEntry) bool { return true })
}

func (d *Datasource) WalletEntriesByInvoice(ctx context.Context, invoiceNumber string) ([]*model.WalletEntry, error) {
	return d.scanWallet(ctx, walletPrefix, func(e *model.WalletEntry) bool { return e.InvoiceNumber == invoiceNumber })
}

func (d *Datasource) DeleteWalletEntry(ctx context.Context, entry *model.WalletEntry) error {
	return d.kv.Delete(ctx, walletKey(entry.UserID, entry.EntryID))
}

// ---- payout markers ----

func (d *Datasource) CreateFinalPayoutMarker(ctx context.Context, marker *model.FinalPayoutMarker) error {
	return d.kv.CreateOnly(ctx, finalPayoutMarkerKey(marker.ProjectID), marker)
}

func (d *Datasource) GetFinalPayoutMarker(ctx context.Context, projectID string) (*model.FinalPayoutMarker, error) {
	marker := &model.FinalPayoutMarker{}
	if err := d.read(ctx, finalPayoutMarkerKey(projectID), marker); err != nil {
		return nil, err
	}
	return marker, nil
}

func (d *Datasource) DeleteFinalPayoutMarker(ctx context.Context, projectID string) error {
	return d.kv.Delete(ctx, finalPayoutMarkerKey(projectID))
}

func (d *Datasource) CreateManualPayoutMarker(ctx context.Context, marker *model.ManualPayoutMarker) error {
	return d.kv.CreateOnly(ctx, manualPayoutMarkerKey(marker.ProjectID, marker.TriggerToken), marker)
}

func (d *Datasource) GetManualPayoutMarker(ctx context.Context, projectID, token string) (*model.ManualPayoutMarker, error) {
	marker := &model.ManualPayoutMarker{}
	if err := d.read(ctx, manualPayoutMarkerKey(projectID, token), marker); err != nil {
		return nil, err
	}
	return marker, nil
}

func (d *Datasource) CreateUpfrontMarker(ctx context.Context, marker *model.UpfrontMarker) error {
	return d.kv.CreateOnly(ctx, upfrontMarkerKey(marker.ProjectID), marker)
}

// ---- identifier allocation ----

func (d *Datasource) GetIDCounter(ctx context.Context, orgLetter string, mode model.AllocationMode) (*model.IDCounter, error) {
	counter := &model.IDCounter{}
	err := d.read(ctx, idCounterKey(orgLetter, mode), counter)
	if err == ErrNotFound {
		return &model.IDCounter{OrgLetter: orgLetter, Mode: mode, NextSequence: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	return counter, nil
}

func (d *Datasource) SaveIDCounter(ctx context.Context, counter *model.IDCounter) error {
	counter.UpdatedAt = time.Now()
	return d.kv.Write(ctx, idCounterKey(counter.OrgLetter, counter.Mode), counter)
}

// ClaimProjectID durably claims a candidate identifier. ErrKeyExists means
// the candidate collided with a pre-existing id and the caller should
// advance the sequence and retry.
func (d *Datasource) ClaimProjectID(ctx context.Context, claim *model.IDClaim) error {
	return d.kv.CreateOnly(ctx, idClaimKey(claim.ID), claim)
}

// ---- audit & notifications ----

func (d *Datasource) AppendAuditEvent(ctx context.Context, event *model.AuditEvent) error {
	return d.kv.CreateOnly(ctx, auditKey(event.EventID), event)
}

func (d *Datasource) AuditEventsByProject(ctx context.Context, projectID string) ([]*model.AuditEvent, error) {
	raws, err := d.kv.Scan(ctx, auditPrefix)
	if err != nil {
		return nil, err
	}
	var events []*model.AuditEvent
	for key, raw := range raws {
		event := &model.AuditEvent{}
		if err := json.Unmarshal(raw, event); err != nil {
			return nil, errors.Wrapf(err, "decoding audit event at %s", key)
		}
		if event.ProjectID == projectID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (d *Datasource) CreateNotification(ctx context.Context, event *model.NotificationEvent) error {
	return d.kv.CreateOnly(ctx, notificationKey(event.NotificationID), event)
}

func (d *Datasource) NotificationsByTask(ctx context.Context, taskID string) ([]*model.NotificationEvent, error) {
	raws, err := d.kv.Scan(ctx, notificationPrefix)
	if err != nil {
		return nil, err
	}
	var events []*model.NotificationEvent
	for key, raw := range raws {
		event := &model.NotificationEvent{}
		if err := json.Unmarshal(raw, event); err != nil {
			return nil, errors.Wrapf(err, "decoding notification at %s", key)
		}
		if event.TaskID == taskID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (d *Datasource) DeleteNotification(ctx context.Context, notificationID string) error {
	return d.kv.Delete(ctx, notificationKey(notificationID))
}

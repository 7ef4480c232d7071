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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payline-io/payline/model"
)

type kvFactory struct {
	name string
	make func(t *testing.T) KV
}

func kvFactories() []kvFactory {
	return []kvFactory{
		{name: "memory", make: func(t *testing.T) KV { return NewMemoryKV() }},
		{name: "redis", make: func(t *testing.T) KV {
			mr, err := miniredis.Run()
			require.NoError(t, err)
			t.Cleanup(mr.Close)
			return NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		}},
	}
}

func TestKVCreateOnlyFailsIfExists(t *testing.T) {
	for _, factory := range kvFactories() {
		t.Run(factory.name, func(t *testing.T) {
			kv := factory.make(t)
			ctx := context.Background()

			require.NoError(t, kv.CreateOnly(ctx, "project_id:T-R001", map[string]string{"origin": "first"}))
			err := kv.CreateOnly(ctx, "project_id:T-R001", map[string]string{"origin": "second"})
			assert.Equal(t, ErrKeyExists, err)

			// The loser's write must not have replaced the winner's value.
			var out map[string]string
			require.NoError(t, kv.Read(ctx, "project_id:T-R001", &out))
			assert.Equal(t, "first", out["origin"])
		})
	}
}

func TestKVCreateOnlyConcurrentSingleWinner(t *testing.T) {
	for _, factory := range kvFactories() {
		t.Run(factory.name, func(t *testing.T) {
			kv := factory.make(t)
			ctx := context.Background()

			const racers = 20
			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					err := kv.CreateOnly(ctx, "payout_marker:T-R001", map[string]int{"racer": n})
					if err == nil {
						atomic.AddInt32(&wins, 1)
					} else if err != ErrKeyExists {
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins)
		})
	}
}

func TestKVReadWriteDelete(t *testing.T) {
	for _, factory := range kvFactories() {
		t.Run(factory.name, func(t *testing.T) {
			kv := factory.make(t)
			ctx := context.Background()

			var missing map[string]string
			assert.Equal(t, ErrNotFound, kv.Read(ctx, "project:missing", &missing))

			require.NoError(t, kv.Write(ctx, "project:T-R001", map[string]string{"title": "one"}))
			require.NoError(t, kv.Write(ctx, "project:T-R001", map[string]string{"title": "two"}))

			var out map[string]string
			require.NoError(t, kv.Read(ctx, "project:T-R001", &out))
			assert.Equal(t, "two", out["title"])

			require.NoError(t, kv.Delete(ctx, "project:T-R001"))
			assert.Equal(t, ErrNotFound, kv.Read(ctx, "project:T-R001", &out))

			// Deleting a missing key is not an error.
			assert.NoError(t, kv.Delete(ctx, "project:T-R001"))
		})
	}
}

func TestKVScanByPrefix(t *testing.T) {
	for _, factory := range kvFactories() {
		t.Run(factory.name, func(t *testing.T) {
			kv := factory.make(t)
			ctx := context.Background()

			require.NoError(t, kv.Write(ctx, "task:a", map[string]string{"id": "a"}))
			require.NoError(t, kv.Write(ctx, "task:b", map[string]string{"id": "b"}))
			require.NoError(t, kv.Write(ctx, "invoice:c", map[string]string{"id": "c"}))

			matches, err := kv.Scan(ctx, "task:")
			require.NoError(t, err)
			assert.Len(t, matches, 2)
			assert.Contains(t, matches, "task:a")
			assert.Contains(t, matches, "task:b")
		})
	}
}

func TestDatasourceRejectsUnknownEnums(t *testing.T) {
	ds := NewDatasource(NewMemoryKV(), nil)
	ctx := context.Background()

	err := ds.CreateProject(ctx, &model.Project{
		ProjectID:       "T-R001",
		Status:          model.ProjectStatus("LIMBO"),
		InvoicingMethod: model.InvoicingMilestone,
		MilestoneCount:  1,
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized project status")

	err = ds.CreateTask(ctx, &model.Task{TaskID: "tsk_1", Status: model.TaskStatus("DONE_ISH")})
	assert.Error(t, err)

	err = ds.CreateInvoice(ctx, &model.Invoice{InvoiceNumber: "inv_1", Kind: model.InvoiceKind("GIFT"), Status: model.InvoiceStatusDraft})
	assert.Error(t, err)

	err = ds.CreateWalletEntry(ctx, &model.WalletEntry{EntryID: "wal_1", UserID: "usr_1", Direction: model.EntryDirection("SIDEWAYS")})
	assert.Error(t, err)
}

func TestDatasourceIDCounterDefaults(t *testing.T) {
	ds := NewDatasource(NewMemoryKV(), nil)
	ctx := context.Background()

	counter, err := ds.GetIDCounter(ctx, "T", model.ModeRequest)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.NextSequence)
	assert.Equal(t, "T", counter.OrgLetter)

	counter.NextSequence = 7
	require.NoError(t, ds.SaveIDCounter(ctx, counter))

	reloaded, err := ds.GetIDCounter(ctx, "T", model.ModeRequest)
	require.NoError(t, err)
	assert.Equal(t, 7, reloaded.NextSequence)
	assert.WithinDuration(t, time.Now(), reloaded.UpdatedAt, time.Second)

	// Modes keep separate counters.
	legacy, err := ds.GetIDCounter(ctx, "T", model.ModeLegacy)
	require.NoError(t, err)
	assert.Equal(t, 1, legacy.NextSequence)
}

func TestDatasourceInvoiceLookups(t *testing.T) {
	ds := NewDatasource(NewMemoryKV(), nil)
	ctx := context.Background()

	mk := func(project, task string) *model.Invoice {
		return &model.Invoice{
			InvoiceNumber: model.NewInvoiceNumber(),
			ProjectID:     project,
			Kind:          model.InvoiceKindMilestone,
			Status:        model.InvoiceStatusSent,
			SourceTaskID:  task,
			CreatedAt:     time.Now(),
		}
	}
	require.NoError(t, ds.CreateInvoice(ctx, mk("T-R001", "tsk_a")))
	require.NoError(t, ds.CreateInvoice(ctx, mk("T-R001", "tsk_b")))
	require.NoError(t, ds.CreateInvoice(ctx, mk("T-R002", "tsk_c")))

	byProject, err := ds.InvoicesByProject(ctx, "T-R001")
	require.NoError(t, err)
	assert.Len(t, byProject, 2)

	byTask, err := ds.InvoicesBySourceTask(ctx, "tsk_c")
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.Equal(t, "T-R002", byTask[0].ProjectID)
}

func TestDatasourceWalletScopes(t *testing.T) {
	ds := NewDatasource(NewMemoryKV(), nil)
	ctx := context.Background()
	now := time.Now()

	a := model.NewWalletEntry("usr_a", model.MustDecimal("100"), model.DirectionCredit, "inv_1", now)
	b := model.NewWalletEntry("usr_a", model.MustDecimal("200"), model.DirectionCredit, "inv_2", now)
	c := model.NewWalletEntry("usr_b", model.MustDecimal("300"), model.DirectionCredit, "inv_3", now)
	for _, entry := range []*model.WalletEntry{a, b, c} {
		require.NoError(t, ds.CreateWalletEntry(ctx, entry))
	}

	forUser, err := ds.WalletEntriesByUser(ctx, "usr_a")
	require.NoError(t, err)
	assert.Len(t, forUser, 2)

	forInvoice, err := ds.WalletEntriesByInvoice(ctx, "inv_3")
	require.NoError(t, err)
	require.Len(t, forInvoice, 1)
	assert.Equal(t, "usr_b", forInvoice[0].UserID)
}

func TestDatasourceAuditEventsByProject(t *testing.T) {
	ds := NewDatasource(NewMemoryKV(), nil)
	ctx := context.Background()

	mk := func(project, action string) *model.AuditEvent {
		return &model.AuditEvent{
			EventID:   model.GenerateUUIDWithPrefix("aud"),
			Action:    action,
			ProjectID: project,
			CreatedAt: time.Now(),
		}
	}
	require.NoError(t, ds.AppendAuditEvent(ctx, mk("T-R001", "task.approved")))
	require.NoError(t, ds.AppendAuditEvent(ctx, mk("T-R001", "invoice.created")))
	require.NoError(t, ds.AppendAuditEvent(ctx, mk("T-R002", "task.approved")))

	events, err := ds.AuditEventsByProject(ctx, "T-R001")
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, event := range events {
		assert.Equal(t, "T-R001", event.ProjectID)
	}
}

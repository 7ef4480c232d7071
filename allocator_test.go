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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"

	"github.com/payline-io/payline/config"
	"github.com/payline-io/payline/internal/apierror"
	"github.com/payline-io/payline/model"
)

func TestAllocateProjectIDSequence(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()

	first, err := p.AllocateProjectID(ctx, model.ModeRequest, "T", "projectCreate")
	require.NoError(t, err)
	assert.Equal(t, "T-R001", first.ID)
	assert.Equal(t, 1, first.Attempts)

	second, err := p.AllocateProjectID(ctx, model.ModeRequest, "T", "projectCreate")
	require.NoError(t, err)
	assert.Equal(t, "T-R002", second.ID)
}

func TestAllocateProjectIDLegacyFormat(t *testing.T) {
	p, _ := newTestPayline(t)

	id, err := p.AllocateProjectID(context.Background(), model.ModeLegacy, "Y", "migration")
	require.NoError(t, err)
	assert.Equal(t, "Y-001", id.ID)
}

func TestAllocateProjectIDSkipsPreseededIDs(t *testing.T) {
	p, ds := newTestPayline(t)
	ctx := context.Background()

	// Y-001 and Y-002 already exist; the allocator should land on Y-003.
	for _, taken := range []string{"Y-001", "Y-002"} {
		require.NoError(t, ds.ClaimProjectID(ctx, &model.IDClaim{ID: taken, Origin: "migration", AllocatedAt: time.Now()}))
	}

	id, err := p.AllocateProjectID(ctx, model.ModeLegacy, "Y", "projectCreate")
	require.NoError(t, err)
	assert.Equal(t, "Y-003", id.ID)
	assert.Equal(t, 3, id.Attempts)
}

func TestAllocateProjectIDExhaustsAttempts(t *testing.T) {
	p, ds := newTestPayline(t)
	ctx := context.Background()

	// Three pre-seeded ids exhaust the default three-attempt budget.
	for _, taken := range []string{"Y-001", "Y-002", "Y-003"} {
		require.NoError(t, ds.ClaimProjectID(ctx, &model.IDClaim{ID: taken, Origin: "migration", AllocatedAt: time.Now()}))
	}

	_, err := p.AllocateProjectID(ctx, model.ModeLegacy, "Y", "projectCreate")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrCollisionExhausted))
	assert.Contains(t, err.Error(), "project_creation_collision")

	// A raised attempt budget gets past the same collisions.
	config.MockConfig(&config.Configuration{
		Allocator: config.AllocatorConfig{MaxAttempts: 5},
	})
	id, err := p.AllocateProjectID(ctx, model.ModeLegacy, "Y", "projectCreate")
	require.NoError(t, err)
	assert.Equal(t, "Y-004", id.ID)
}

func TestAllocateProjectIDRejectsBadOrgLetter(t *testing.T) {
	p, _ := newTestPayline(t)
	ctx := context.Background()

	for _, letter := range []string{"", "TT", "t", "7"} {
		_, err := p.AllocateProjectID(ctx, model.ModeRequest, letter, "projectCreate")
		assert.True(t, apierror.Is(err, apierror.ErrValidation), "letter %q should be rejected", letter)
	}
}

func TestAllocateProjectIDRejectsUnknownMode(t *testing.T) {
	p, _ := newTestPayline(t)

	_, err := p.AllocateProjectID(context.Background(), model.AllocationMode("FANCY"), "T", "projectCreate")
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
}

func TestAllocateProjectIDDisabled(t *testing.T) {
	p, _ := newTestPayline(t)
	config.MockConfig(&config.Configuration{
		Allocator: config.AllocatorConfig{Enabled: ptr.Bool(false)},
	})

	_, err := p.AllocateProjectID(context.Background(), model.ModeRequest, "T", "projectCreate")
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
}

func TestAllocateProjectIDConcurrent(t *testing.T) {
	p, _ := newTestPayline(t)
	config.MockConfig(&config.Configuration{
		Allocator: config.AllocatorConfig{MaxAttempts: 50},
	})
	ctx := context.Background()

	const callers = 20
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := p.AllocateProjectID(ctx, model.ModeRequest, "C", "projectCreate")
			if assert.NoError(t, err) {
				results <- id.ID
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for id := range results {
		assert.False(t, seen[id], "id %s handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, callers)
}

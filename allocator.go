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

	"github.com/payline-io/payline/config"
	"github.com/payline-io/payline/internal/apierror"
	"github.com/payline-io/payline/internal/notification"
	"github.com/payline-io/payline/model"
	"github.com/payline-io/payline/store"
)

// AllocateProjectID allocates a globally-unique, human-readable project
// identifier for the given org letter and mode.
//
// The persisted counter only proposes a starting sequence; uniqueness comes
// entirely from the create-only claim. When the claim collides (pre-seeded
// or migrated ids occupy the candidate), the sequence advances in memory
// and the claim is retried up to the configured attempt budget. Exactly one
// claim succeeds per allocation; two concurrent callers can never receive
// the same id because the store's create-only write is atomic.
func (p *Payline) AllocateProjectID(ctx context.Context, mode model.AllocationMode, orgLetter, origin string) (*model.AllocatedID, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if !conf.AllocatorEnabled() {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "project id allocation is disabled", "allocator rollout flag is off")
	}

	if !validOrgLetter(orgLetter) {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "org letter must be a single uppercase letter", orgLetter)
	}
	if _, err := model.ParseAllocationMode(string(mode)); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "unrecognized allocation mode", err.Error())
	}

	counter, err := p.datasource.GetIDCounter(ctx, orgLetter, mode)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrStorage, "could not load id counter", err.Error())
	}

	maxAttempts := conf.AllocatorMaxAttempts()
	seq := counter.NextSequence

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		candidate := mode.CandidateID(orgLetter, seq)
		claim := &model.IDClaim{ID: candidate, Origin: origin, AllocatedAt: time.Now()}

		err := p.datasource.ClaimProjectID(ctx, claim)
		if err == store.ErrKeyExists {
			logrus.Infof("id %s already taken, retrying with next sequence", candidate)
			seq++
			continue
		}
		if err != nil {
			// Not retried: a failed create-only is indistinguishable from
			// "already exists" without a re-read.
			return nil, apierror.NewAPIError(apierror.ErrStorage, "could not claim project id", err.Error())
		}

		counter.NextSequence = seq + 1
		if err := p.datasource.SaveIDCounter(ctx, counter); err != nil {
			// The claim already succeeded, so the id is safe to hand out.
			// A stale counter just costs the next caller extra attempts.
			notification.NotifyError(err)
		}

		p.audit(ctx, auditEntry{
			Action:     "id.allocated",
			EntityType: "project_id",
			EntityID:   candidate,
			Details:    map[string]interface{}{"attempts": attempt, "mode": mode, "origin": origin},
		})
		return &model.AllocatedID{ID: candidate, Attempts: attempt}, nil
	}

	p.audit(ctx, auditEntry{
		Action:     "id.allocation_exhausted",
		EntityType: "project_id",
		EntityID:   orgLetter,
		Details:    map[string]interface{}{"attempts": maxAttempts, "mode": mode, "origin": origin},
	})
	return nil, apierror.NewAPIError(apierror.ErrCollisionExhausted, "project_creation_collision", map[string]interface{}{
		"org_letter": orgLetter,
		"attempts":   maxAttempts,
	})
}

func validOrgLetter(orgLetter string) bool {
	if len(orgLetter) != 1 {
		return false
	}
	return orgLetter[0] >= 'A' && orgLetter[0] <= 'Z'
}

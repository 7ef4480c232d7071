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
	"fmt"

	"github.com/payline-io/payline/model"
)

// Key layout for the document store. Keys are flat strings with a
// type prefix; Scan over a prefix is how collections are listed.

func projectKey(projectID string) string {
	return "project:" + projectID
}

func taskKey(taskID string) string {
	return "task:" + taskID
}

const taskPrefix = "task:"

func invoiceKey(invoiceNumber string) string {
	return "invoice:" + invoiceNumber
}

const invoicePrefix = "invoice:"

func walletKey(userID, entryID string) string {
	return fmt.Sprintf("wallet:%s:%s", userID, entryID)
}

const walletPrefix = "wallet:"

func walletUserPrefix(userID string) string {
	return fmt.Sprintf("wallet:%s:", userID)
}

// finalPayoutMarkerKey is the single idempotency key per completion
// project. There is deliberately no way to parameterize it further.
func finalPayoutMarkerKey(projectID string) string {
	return "payout_marker:" + projectID
}

func manualPayoutMarkerKey(projectID, token string) string {
	return fmt.Sprintf("manual_marker:%s:%s", projectID, token)
}

func upfrontMarkerKey(projectID string) string {
	return "upfront_marker:" + projectID
}

func idCounterKey(orgLetter string, mode model.AllocationMode) string {
	return fmt.Sprintf("idcounter:%s:%s", orgLetter, mode)
}

// idClaimKey is the create-only registry of allocated project identifiers.
// The allocator claims candidates here; pre-seeded or migrated ids occupy
// the same namespace, which is what makes collisions detectable.
func idClaimKey(candidate string) string {
	return "project_id:" + candidate
}

func auditKey(eventID string) string {
	return "audit:" + eventID
}

const auditPrefix = "audit:"

func notificationKey(notificationID string) string {
	return "notification:" + notificationID
}

const notificationPrefix = "notification:"

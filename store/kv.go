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
	"errors"
)

var (
	// ErrNotFound is returned by Read when no record exists for the key.
	ErrNotFound = errors.New("record not found")
	// ErrKeyExists is returned by CreateOnly when the key is already taken.
	// Callers rely on it to distinguish a lost claim from an I/O failure.
	ErrKeyExists = errors.New("key already exists")
)

// KV is the keyed document store every pipeline component persists through.
//
// CreateOnly is the only atomic primitive the pipeline gets: it durably
// claims a key if and only if no record exists yet, and fails with
// ErrKeyExists otherwise. Identifier allocation and payout idempotency both
// reduce to this guarantee. Write is a plain upsert and is reserved for
// records with a single logical owner; it must never be used for counters
// or markers.
type KV interface {
	// Read unmarshals the record at key into out, or returns ErrNotFound.
	Read(ctx context.Context, key string, out interface{}) error

	// CreateOnly writes value at key only if the key does not exist.
	// Returns ErrKeyExists when the key is already taken. Any other error
	// is an I/O failure and must not be blindly retried, since the retry
	// is indistinguishable from "already exists" without a re-read.
	CreateOnly(ctx context.Context, key string, value interface{}) error

	// Write upserts value at key.
	Write(ctx context.Context, key string, value interface{}) error

	// Delete removes the record at key. Deleting a missing key is not an
	// error; rollback steps are best-effort and replayed freely.
	Delete(ctx context.Context, key string) error

	// Scan returns the raw records whose keys start with prefix.
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
}

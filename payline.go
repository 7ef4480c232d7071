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
	"github.com/payline-io/payline/config"
	"github.com/payline-io/payline/store"
)

// Payline is the main struct for the payout pipeline. Every service in the
// pipeline (allocator, approval state machine, payout executor, rollback
// coordinator) hangs off it and shares the same datasource and queue.
type Payline struct {
	datasource store.IDataSource
	queue      *Queue
}

// NewPayline initializes the pipeline with the provided datasource.
func NewPayline(ds store.IDataSource) (*Payline, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	return &Payline{datasource: ds, queue: newQueue}, nil
}

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
	"errors"
	"log"

	"github.com/hibiken/asynq"

	"github.com/payline-io/payline/config"
	redis_db "github.com/payline-io/payline/internal/redis-db"
)

// Queue wraps the asynq client used for at-least-once event delivery.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided
// configuration. Without a Redis DNS the queue stays disconnected and
// enqueues fail; webhook publication checks its own config first.
func NewQueue(conf *config.Configuration) *Queue {
	if conf.Redis.Dns == "" {
		return &Queue{}
	}
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Enqueue pushes a task onto the queue.
func (q *Queue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.Client == nil {
		return nil, errors.New("queue is not configured")
	}
	return q.Client.Enqueue(task, opts...)
}

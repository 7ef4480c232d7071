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

package main

import (
	"log"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/payline-io/payline"
	"github.com/payline-io/payline/config"
	redis_db "github.com/payline-io/payline/internal/redis-db"
)

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	return queues
}

// workerCommands returns the Cobra command that runs the asynq worker
// consuming the webhook delivery queue.
func workerCommands(p *paylineInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start payline workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queueOptions, err := redis_db.ParseRedisURL(conf.Redis.Dns)
			if err != nil {
				log.Fatalf("Error parsing Redis URL: %v", err)
			}

			srv := asynq.NewServer(
				asynq.RedisClientOpt{Addr: queueOptions.Addr, Password: queueOptions.Password, DB: queueOptions.DB},
				asynq.Config{
					Concurrency: 10,
					Queues:      initializeQueues(),
				},
			)

			mux := asynq.NewServeMux()
			mux.HandleFunc(conf.Queue.WebhookQueue, payline.ProcessWebhook)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run worker server: %v", err)
			}
		},
	}

	return cmd
}

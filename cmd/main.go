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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/payline-io/payline"
	"github.com/payline-io/payline/config"
	"github.com/payline-io/payline/internal/cache"
	"github.com/payline-io/payline/internal/notification"
	redis_db "github.com/payline-io/payline/internal/redis-db"
	"github.com/payline-io/payline/store"
)

// Payline represents the CLI application, encapsulating the root Cobra command.
type Payline struct {
	cmd *cobra.Command
}

// paylineInstance holds the runtime instance and configuration shared by
// the subcommands.
type paylineInstance struct {
	payline *payline.Payline
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the pipeline instance
// before any command runs.
func preRun(app *paylineInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("payline.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newPayline, err := setupPayline(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.payline = newPayline
		app.cnf = cnf

		return nil
	}
}

// setupPayline wires the Redis-backed store, the read-through cache and the
// pipeline itself from the configuration.
func setupPayline(cfg *config.Configuration) (*payline.Payline, error) {
	redisClient, err := redis_db.NewRedisClient(cfg.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error connecting to redis: %v", err)
	}

	entityCache, err := cache.NewCache()
	if err != nil {
		log.Printf("cache disabled: %v", err)
		entityCache = nil
	}

	ds := store.NewDatasource(store.NewRedisKV(redisClient.Client()), entityCache)
	newPayline, err := payline.NewPayline(ds)
	if err != nil {
		return nil, fmt.Errorf("error creating payline: %v", err)
	}
	return newPayline, nil
}

// NewCLI creates the command-line interface for the Payline application.
func NewCLI() *Payline {
	var configFile string
	p := &paylineInstance{}

	var rootCmd = &cobra.Command{
		Use:   "payline",
		Short: "Task approval to payout pipeline",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./payline.json", "Configuration file for payline")

	rootCmd.PersistentPreRunE = preRun(p)

	rootCmd.AddCommand(serverCommands(p))
	rootCmd.AddCommand(workerCommands(p))

	return &Payline{cmd: rootCmd}
}

// executeCLI runs the root command and exits on failure.
func (p *Payline) executeCLI() {
	if err := p.cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}

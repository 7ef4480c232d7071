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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	// DefaultAllocatorMaxAttempts bounds the identifier collision retry
	// loop. Observed operational constant; override via config.
	DefaultAllocatorMaxAttempts = 3

	// DefaultUpfrontPercent is the share of a completion project's budget
	// invoiced at activation.
	DefaultUpfrontPercent = 12
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PAYLINE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PAYLINE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PAYLINE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PAYLINE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PAYLINE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PAYLINE_SERVER_PORT"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"PAYLINE_REDIS_DNS"`
}

// AllocatorConfig controls the project identifier allocator. Enabled is a
// deployment rollout flag, not a correctness mechanism: when off, every
// allocation fails validation before touching storage.
type AllocatorConfig struct {
	Enabled     *bool `json:"enabled" envconfig:"PAYLINE_ALLOCATOR_ENABLED"`
	MaxAttempts int   `json:"max_attempts" envconfig:"PAYLINE_ALLOCATOR_MAX_ATTEMPTS"`
}

type BillingConfig struct {
	UpfrontPercent int `json:"upfront_percent" envconfig:"PAYLINE_BILLING_UPFRONT_PERCENT"`
}

type QueueConfig struct {
	WebhookQueue string `json:"webhook_queue" envconfig:"PAYLINE_QUEUE_WEBHOOK"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYLINE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYLINE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYLINE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type TelemetryConfig struct {
	PostHogAPIKey string `json:"posthog_api_key" envconfig:"PAYLINE_TELEMETRY_POSTHOG_API_KEY"`
}

type Configuration struct {
	ProjectName  string          `json:"project_name" envconfig:"PAYLINE_PROJECT_NAME"`
	Server       ServerConfig    `json:"server"`
	Redis        RedisConfig     `json:"redis"`
	Allocator    AllocatorConfig `json:"allocator"`
	Billing      BillingConfig   `json:"billing"`
	Queue        QueueConfig     `json:"queue"`
	Notification Notification    `json:"notification"`
	RateLimit    RateLimitConfig `json:"rate_limit"`
	Telemetry    TelemetryConfig `json:"telemetry"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("payline", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called payline.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Payline Server"
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// The allocator ships enabled; the flag exists for staged rollouts.
	if cnf.Allocator.Enabled == nil {
		enabled := true
		cnf.Allocator.Enabled = &enabled
	}
	if cnf.Allocator.MaxAttempts <= 0 {
		cnf.Allocator.MaxAttempts = DefaultAllocatorMaxAttempts
	}

	if cnf.Billing.UpfrontPercent <= 0 || cnf.Billing.UpfrontPercent >= 100 {
		cnf.Billing.UpfrontPercent = DefaultUpfrontPercent
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "payline:webhook"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

// AllocatorEnabled reports the rollout flag, defaulting to enabled when the
// flag is absent (mock configs usually leave it unset).
func (cnf *Configuration) AllocatorEnabled() bool {
	return cnf.Allocator.Enabled == nil || *cnf.Allocator.Enabled
}

// AllocatorMaxAttempts returns the collision retry budget, falling back to
// the default when unset.
func (cnf *Configuration) AllocatorMaxAttempts() int {
	if cnf.Allocator.MaxAttempts <= 0 {
		return DefaultAllocatorMaxAttempts
	}
	return cnf.Allocator.MaxAttempts
}

// UpfrontPercent returns the configured upfront share, falling back to the
// default when unset.
func (cnf *Configuration) UpfrontPercent() int {
	if cnf.Billing.UpfrontPercent <= 0 || cnf.Billing.UpfrontPercent >= 100 {
		return DefaultUpfrontPercent
	}
	return cnf.Billing.UpfrontPercent
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}

/*
Copyright 2025 Clear Transcript Authors.

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

	DefaultStandardBlockRate = "0.15"
	DefaultDeferredBlockRate = "0.05"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Port string `json:"port" envconfig:"TRANSCRIPT_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"TRANSCRIPT_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"TRANSCRIPT_REDIS_DNS"`
}

type ObjectStoreConfig struct {
	Endpoint  string `json:"endpoint" envconfig:"TRANSCRIPT_S3_ENDPOINT"`
	AccessKey string `json:"access_key" envconfig:"TRANSCRIPT_S3_ACCESS_KEY"`
	SecretKey string `json:"secret_key" envconfig:"TRANSCRIPT_S3_SECRET_KEY"`
	Bucket    string `json:"bucket" envconfig:"TRANSCRIPT_S3_BUCKET"`
	UseSSL    bool   `json:"use_ssl" envconfig:"TRANSCRIPT_S3_USE_SSL"`
}

type RecognitionConfig struct {
	APIURL        string `json:"api_url" envconfig:"TRANSCRIPT_RECOGNITION_API_URL"`
	OperationsURL string `json:"operations_url" envconfig:"TRANSCRIPT_RECOGNITION_OPERATIONS_URL"`
	IAMToken      string `json:"iam_token" envconfig:"TRANSCRIPT_RECOGNITION_IAM_TOKEN"`
	FolderID      string `json:"folder_id" envconfig:"TRANSCRIPT_RECOGNITION_FOLDER_ID"`
	Language      string `json:"language" envconfig:"TRANSCRIPT_RECOGNITION_LANGUAGE"`
}

type PaymentConfig struct {
	BaseURL          string `json:"base_url" envconfig:"TRANSCRIPT_PAYMENT_BASE_URL"`
	TerminalKey      string `json:"terminal_key" envconfig:"TRANSCRIPT_PAYMENT_TERMINAL_KEY"`
	TerminalPassword string `json:"terminal_password" envconfig:"TRANSCRIPT_PAYMENT_TERMINAL_PASSWORD"`
	ExpiryMinutes    int    `json:"expiry_minutes" envconfig:"TRANSCRIPT_PAYMENT_EXPIRY_MINUTES"`
}

type PricingConfig struct {
	StandardBlockRate string `json:"standard_block_rate" envconfig:"TRANSCRIPT_PRICING_STANDARD_RATE"`
	DeferredBlockRate string `json:"deferred_block_rate" envconfig:"TRANSCRIPT_PRICING_DEFERRED_RATE"`
	MaxAudioSeconds   int64  `json:"max_audio_seconds" envconfig:"TRANSCRIPT_PRICING_MAX_AUDIO_SECONDS"`
}

type ReconcilerConfig struct {
	IntervalSec        int   `json:"interval_sec" envconfig:"TRANSCRIPT_RECONCILER_INTERVAL_SEC"`
	EditIntervalSec    int   `json:"edit_interval_sec" envconfig:"TRANSCRIPT_RECONCILER_EDIT_INTERVAL_SEC"`
	PaymentIntervalSec int   `json:"payment_interval_sec" envconfig:"TRANSCRIPT_RECONCILER_PAYMENT_INTERVAL_SEC"`
	MaxTaskAgeSec      int64 `json:"max_task_age_sec" envconfig:"TRANSCRIPT_RECONCILER_MAX_TASK_AGE_SEC"`
}

type QueueConfig struct {
	PaymentExpiryQueue string `json:"payment_expiry_queue" envconfig:"TRANSCRIPT_QUEUE_PAYMENT_EXPIRY"`
}

// RateLimitConfig controls API rate limiting. Nil RequestsPerSecond or
// Burst disables limiting entirely.
type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"TRANSCRIPT_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"TRANSCRIPT_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"TRANSCRIPT_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string            `json:"project_name" envconfig:"TRANSCRIPT_PROJECT_NAME"`
	Server       ServerConfig      `json:"server"`
	DataSource   DataSourceConfig  `json:"data_source"`
	Redis        RedisConfig       `json:"redis"`
	ObjectStore  ObjectStoreConfig `json:"object_store"`
	Recognition  RecognitionConfig `json:"recognition"`
	Payment      PaymentConfig     `json:"payment"`
	Pricing      PricingConfig     `json:"pricing"`
	Reconciler   ReconcilerConfig  `json:"reconciler"`
	Queue        QueueConfig       `json:"queue"`
	RateLimit    RateLimitConfig   `json:"rate_limit"`
	Notification Notification      `json:"notification"`
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
	err = envconfig.Process("transcript", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called transcript.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Clear Transcript"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Recognition.APIURL == "" {
		cnf.Recognition.APIURL = "https://transcribe.api.cloud.yandex.net/speech/stt/v2/longRunningRecognize"
	}
	if cnf.Recognition.OperationsURL == "" {
		cnf.Recognition.OperationsURL = "https://operation.api.cloud.yandex.net/operations"
	}
	if cnf.Recognition.Language == "" {
		cnf.Recognition.Language = "ru-RU"
	}

	if cnf.Payment.BaseURL == "" {
		cnf.Payment.BaseURL = "https://rest-api-test.tinkoff.ru/v2"
	}
	if cnf.Payment.ExpiryMinutes <= 0 {
		cnf.Payment.ExpiryMinutes = 30
	}

	if cnf.Pricing.StandardBlockRate == "" {
		cnf.Pricing.StandardBlockRate = DefaultStandardBlockRate
	}
	if cnf.Pricing.DeferredBlockRate == "" {
		cnf.Pricing.DeferredBlockRate = DefaultDeferredBlockRate
	}
	if cnf.Pricing.MaxAudioSeconds <= 0 {
		cnf.Pricing.MaxAudioSeconds = 4 * 60 * 60
	}

	if cnf.Reconciler.IntervalSec <= 0 {
		cnf.Reconciler.IntervalSec = 1
	}
	if cnf.Reconciler.EditIntervalSec <= 0 {
		cnf.Reconciler.EditIntervalSec = 5
	}
	if cnf.Reconciler.PaymentIntervalSec <= 0 {
		cnf.Reconciler.PaymentIntervalSec = 10
	}
	// MaxTaskAgeSec of zero disables the cutoff. Tasks whose operation
	// handle never resolves then stay running until an operator steps in.

	if cnf.Queue.PaymentExpiryQueue == "" {
		cnf.Queue.PaymentExpiryQueue = "payment_expiry"
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst != nil && cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Pricing.StandardBlockRate == "" {
		mockConfig.Pricing.StandardBlockRate = DefaultStandardBlockRate
	}
	if mockConfig.Pricing.DeferredBlockRate == "" {
		mockConfig.Pricing.DeferredBlockRate = DefaultDeferredBlockRate
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}

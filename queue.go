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

package transcript

import (
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gistrec/clear-transcript/config"
	redis_db "github.com/gistrec/clear-transcript/internal/redis-db"
)

// Queue schedules delayed jobs, currently only payment expiry.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
	}
}

// queuePaymentExpiry enqueues a delayed job that cancels the payment intent
// for orderID if it is still unpaid at expiresAt.
func (q *Queue) queuePaymentExpiry(orderID string, expiresAt time.Time) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(orderID)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(orderID),
		asynq.Queue(cfg.Queue.PaymentExpiryQueue),
		asynq.ProcessIn(time.Until(expiresAt)),
	}
	task := asynq.NewTask(cfg.Queue.PaymentExpiryQueue, payload, taskOptions...)

	info, err := q.Client.Enqueue(task)
	if err != nil {
		return err
	}
	log.Printf("Queued payment expiry: ID=%s queue=%s process_at=%s", info.ID, info.Queue, info.NextProcessAt)
	return nil
}

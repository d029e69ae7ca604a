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
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/gistrec/clear-transcript/config"
	"github.com/gistrec/clear-transcript/database"
	redis_db "github.com/gistrec/clear-transcript/internal/redis-db"
	"github.com/gistrec/clear-transcript/media"
	"github.com/gistrec/clear-transcript/payment"
	"github.com/gistrec/clear-transcript/speechkit"
	"github.com/gistrec/clear-transcript/storage"
)

// Recognizer dispatches audio for asynchronous recognition and polls the
// resulting operation handle.
type Recognizer interface {
	Start(uri string) (string, error)
	Poll(operationHandle string) (speechkit.Operation, error)
}

// MediaPreparer probes incoming media and transcodes it to the canonical
// recognition encoding.
type MediaPreparer interface {
	ProbeDuration(ctx context.Context, path string) (int64, error)
	ProbeChannels(ctx context.Context, path string) (int, error)
	TranscodeToOgg(ctx context.Context, src, dst, progressPath string) error
}

// Uploader puts artifacts into durable storage and returns their URIs.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	UploadBytes(ctx context.Context, payload []byte, key string) (string, error)
}

// PaymentGateway creates, queries, and cancels payment intents.
type PaymentGateway interface {
	Init(orderID string, amountMinor int64, description string) (*payment.InitResponse, error)
	GetState(gatewayPaymentID string) (*payment.StateResponse, error)
	Cancel(gatewayPaymentID string) (*payment.StateResponse, error)
}

// Transcript is the task lifecycle controller. It owns every task state
// transition triggered by user action and the balance-sufficiency invariant
// at debit time.
type Transcript struct {
	datasource database.IDataSource
	redis      redis.UniversalClient
	queue      *Queue
	recognizer Recognizer
	media      MediaPreparer
	store      Uploader
	gateway    PaymentGateway
	notifier   Notifier
}

// NewTranscript initializes the service with the provided datasource,
// wiring the remaining collaborators from the loaded configuration.
func NewTranscript(db database.IDataSource) (*Transcript, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient(conf.Redis.Dns)
	if err != nil {
		return nil, err
	}

	recognizer, err := speechkit.NewClient()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewObjectStore(context.Background())
	if err != nil {
		return nil, err
	}

	gateway, err := payment.NewGateway()
	if err != nil {
		return nil, err
	}

	return &Transcript{
		datasource: db,
		redis:      redisClient.Client(),
		queue:      NewQueue(conf),
		recognizer: recognizer,
		media:      media.Preparer{},
		store:      store,
		gateway:    gateway,
		notifier:   &LogNotifier{},
	}, nil
}

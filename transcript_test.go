package transcript

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"

	"github.com/gistrec/clear-transcript/config"
	"github.com/gistrec/clear-transcript/database/mocks"
	"github.com/gistrec/clear-transcript/model"
	"github.com/gistrec/clear-transcript/payment"
	"github.com/gistrec/clear-transcript/speechkit"
)

type mockRecognizer struct {
	mock.Mock
}

func (m *mockRecognizer) Start(uri string) (string, error) {
	args := m.Called(uri)
	return args.String(0), args.Error(1)
}

func (m *mockRecognizer) Poll(operationHandle string) (speechkit.Operation, error) {
	args := m.Called(operationHandle)
	return args.Get(0).(speechkit.Operation), args.Error(1)
}

type mockMedia struct {
	mock.Mock
}

func (m *mockMedia) ProbeDuration(ctx context.Context, path string) (int64, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMedia) ProbeChannels(ctx context.Context, path string) (int, error) {
	args := m.Called(ctx, path)
	return args.Int(0), args.Error(1)
}

func (m *mockMedia) TranscodeToOgg(ctx context.Context, src, dst, progressPath string) error {
	args := m.Called(ctx, src, dst, progressPath)
	return args.Error(0)
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	args := m.Called(ctx, localPath, key)
	return args.String(0), args.Error(1)
}

func (m *mockUploader) UploadBytes(ctx context.Context, payload []byte, key string) (string, error) {
	args := m.Called(ctx, payload, key)
	return args.String(0), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Init(orderID string, amountMinor int64, description string) (*payment.InitResponse, error) {
	args := m.Called(orderID, amountMinor, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.InitResponse), args.Error(1)
}

func (m *mockGateway) GetState(gatewayPaymentID string) (*payment.StateResponse, error) {
	args := m.Called(gatewayPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.StateResponse), args.Error(1)
}

func (m *mockGateway) Cancel(gatewayPaymentID string) (*payment.StateResponse, error) {
	args := m.Called(gatewayPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.StateResponse), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, target model.NotificationTarget, text string) error {
	args := m.Called(ctx, target, text)
	return args.Error(0)
}

func (m *mockNotifier) Deliver(ctx context.Context, userID, taskID, transcript string) error {
	args := m.Called(ctx, userID, taskID, transcript)
	return args.Error(0)
}

type testHarness struct {
	service    *Transcript
	datasource *mocks.MockDataSource
	recognizer *mockRecognizer
	media      *mockMedia
	store      *mockUploader
	gateway    *mockGateway
	notifier   *mockNotifier
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	config.MockConfig(&config.Configuration{
		ProjectName: "Clear Transcript",
		Pricing:     config.PricingConfig{MaxAudioSeconds: 4 * 60 * 60},
		Payment:     config.PaymentConfig{ExpiryMinutes: 30},
		Queue:       config.QueueConfig{PaymentExpiryQueue: "payment_expiry"},
	})

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	queue := &Queue{
		Client:    asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}),
		Inspector: asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()}),
	}
	t.Cleanup(func() { _ = queue.Client.Close() })

	h := &testHarness{
		datasource: &mocks.MockDataSource{},
		recognizer: &mockRecognizer{},
		media:      &mockMedia{},
		store:      &mockUploader{},
		gateway:    &mockGateway{},
		notifier:   &mockNotifier{},
	}
	h.service = &Transcript{
		datasource: h.datasource,
		redis:      redisClient,
		queue:      queue,
		recognizer: h.recognizer,
		media:      h.media,
		store:      h.store,
		gateway:    h.gateway,
		notifier:   h.notifier,
	}
	return h
}

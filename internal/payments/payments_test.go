package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/aws"
	"github.com/imrishuroy/go-cardpay-gateway/internal/config"
	"github.com/imrishuroy/go-cardpay-gateway/internal/gateway"
	"github.com/imrishuroy/go-cardpay-gateway/internal/metrics"
	"github.com/imrishuroy/go-cardpay-gateway/internal/s2s"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/testutil/dynamofake"
	"github.com/imrishuroy/go-cardpay-gateway/internal/transport"
	"github.com/imrishuroy/go-cardpay-gateway/internal/webhook"
)

type mockSQS struct {
	mu     sync.Mutex
	inputs []*sqs.SendMessageInput
}

func (m *mockSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

type stubSender struct{}

func (stubSender) Send(context.Context, transport.Request) (*transport.Response, error) {
	return nil, errors.New("not used")
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			BaseURL:     baseURL,
			AccessToken: "secret-token",
			EntityID:    "entity-1",
			UserAgent:   "cardpay-test",
			Timeout:     2 * time.Second,
			MaxRetries:  1,
		},
		Breaker:    config.BreakerConfig{Threshold: 5, ResetTimeout: time.Minute},
		Webhook:    config.WebhookConfig{Mode: webhook.ModeNone},
		AWS:        config.AWSConfig{PaymentsTable: "payments", EntitlementQueueURL: "https://sqs.local/entitlements"},
		SessionTTL: 30 * time.Minute,
	}
}

func TestNew_FailsFast(t *testing.T) {
	gw, err := gateway.New(stubSender{}, gateway.Config{BaseURL: "https://gw", AccessToken: "t", EntityID: "e"})
	require.NoError(t, err)

	_, err = New(Options{Gateway: gw})
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))

	_, err = New(Options{Store: store.NewDynamoStore(dynamofake.New(), "payments")})
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))

	_, err = New(Options{
		Gateway: gw,
		Store:   store.NewDynamoStore(dynamofake.New(), "payments"),
		Webhook: webhook.Config{Mode: webhook.ModeGCM, KeyHex: "not-hex"},
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))

	svc, err := New(Options{Gateway: gw, Store: store.NewDynamoStore(dynamofake.New(), "payments"), Webhook: webhook.Config{Mode: webhook.ModeNone}})
	require.NoError(t, err)
	assert.NotNil(t, svc.Checkout)
	assert.NotNil(t, svc.S2S)
	assert.NotNil(t, svc.Webhooks)
	assert.NotNil(t, svc.Subscriptions)
}

func TestFromConfig_RequiresChannelAndStore(t *testing.T) {
	cfg := testConfig("https://gw")
	cfg.Gateway.AccessToken = ""
	_, err := FromConfig(cfg, &aws.AWSClients{DynamoDB: dynamofake.New()}, nil, nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))

	_, err = FromConfig(testConfig("https://gw"), &aws.AWSClients{}, nil, nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
}

func TestFromConfig_DebitEndToEnd(t *testing.T) {
	var (
		gotPath, gotAuth, gotKey string
		gotForm                  map[string][]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		_ = r.ParseForm()
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pay-1","paymentType":"DB","amount":"10.00","currency":"EUR",` +
			`"result":{"code":"000.100.110","description":"Request successfully processed"}}`))
	}))
	defer srv.Close()

	table := dynamofake.New()
	q := &mockSQS{}
	rec := metrics.NewRecorder(nil, "test", nil)
	svc, err := FromConfig(testConfig(srv.URL), &aws.AWSClients{DynamoDB: table, SQS: q}, nil, rec)
	require.NoError(t, err)

	res, err := svc.S2S.Debit(context.Background(), s2s.Input{
		UserID:         "u1",
		OrderID:        "o1",
		Amount:         10,
		Currency:       "eur",
		RegistrationID: "reg-1",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/registrations/reg-1/payments", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "entity-1", strings.Join(gotForm["entityId"], ""))
	assert.Equal(t, "10.00", strings.Join(gotForm["amount"], ""))

	assert.True(t, res.Outcome.Approved)
	assert.Equal(t, store.TxnApproved, res.Transaction.Status)
	stored, err := store.NewDynamoStore(table, "payments").GetTransaction(context.Background(), "u1", res.Transaction.TxnID)
	require.NoError(t, err)
	assert.Equal(t, "pay-1", stored.GatewayPaymentID)

	require.Len(t, q.inputs, 1, "approved debit grants access")
	assert.Equal(t, "https://sqs.local/entitlements", *q.inputs[0].QueueUrl)
	assert.Positive(t, rec.Pending())
}

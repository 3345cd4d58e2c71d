package payments

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-cardpay-gateway/internal/aws"
	"github.com/imrishuroy/go-cardpay-gateway/internal/config"
	"github.com/imrishuroy/go-cardpay-gateway/internal/entitlement"
	"github.com/imrishuroy/go-cardpay-gateway/internal/gateway"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/metrics"
	"github.com/imrishuroy/go-cardpay-gateway/internal/reconcile"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/transport"
	"github.com/imrishuroy/go-cardpay-gateway/internal/webhook"
)

// FromConfig builds the production core: a transport reporting to rec, the
// gateway client, the DynamoDB store and the SQS publishers whose queue URLs
// are configured. rec may be nil.
func FromConfig(cfg *config.Config, clients *aws.AWSClients, lg *logging.Logger, rec *metrics.Recorder) (*Service, error) {
	topts := transport.Options{
		HTTPClient:          &http.Client{},
		UserAgent:           cfg.Gateway.UserAgent,
		BreakerThreshold:    cfg.Breaker.Threshold,
		BreakerResetTimeout: cfg.Breaker.ResetTimeout,
		CacheEnabled:        cfg.Cache.Enabled,
		CacheTTL:            cfg.Cache.TTL,
		CacheMaxEntries:     cfg.Cache.MaxEntries,
		Logger:              lg,
	}
	if cfg.Gateway.RateLimitRPS > 0 {
		topts.Limiter = rate.NewLimiter(rate.Limit(cfg.Gateway.RateLimitRPS), max(cfg.Gateway.RateLimitBurst, 1))
	}
	opts := Options{
		Logger:     lg,
		SessionTTL: cfg.SessionTTL,
		Webhook: webhook.Config{
			Mode:         cfg.Webhook.Mode,
			KeyHex:       cfg.Webhook.KeyHex,
			Secret:       cfg.Webhook.Secret,
			MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
			ClaimLease:   cfg.Webhook.ClaimLease,
		},
	}
	if rec != nil {
		topts.Observer = rec
		opts.Metrics = rec
	}

	gw, err := gateway.New(transport.New(topts), gateway.Config{
		BaseURL:          cfg.Gateway.BaseURL,
		AccessToken:      cfg.Gateway.AccessToken,
		EntityID:         cfg.Gateway.EntityID,
		TestMode:         cfg.Gateway.TestMode,
		Timeout:          cfg.Gateway.Timeout,
		MaxRetries:       cfg.Gateway.MaxRetries,
		MaxRequestBytes:  cfg.Gateway.MaxRequestBytes,
		MaxResponseBytes: cfg.Gateway.MaxResponseBytes,
	})
	if err != nil {
		return nil, err
	}
	opts.Gateway = gw
	if clients != nil && clients.DynamoDB != nil {
		opts.Store = store.NewDynamoStore(clients.DynamoDB, cfg.AWS.PaymentsTable)
	}
	if clients != nil && clients.SQS != nil {
		if url := cfg.AWS.EntitlementQueueURL; url != "" {
			opts.Granter = entitlement.NewSQSGranter(aws.NewPublisher(clients.SQS, url))
		}
		if url := cfg.AWS.ReconciliationQueueURL; url != "" {
			opts.Queue = reconcile.NewSQSQueue(aws.NewPublisher(clients.SQS, url))
		}
	}
	return New(opts)
}

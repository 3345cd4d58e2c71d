// Package payments assembles the checkout, S2S, webhook and subscription
// components around one gateway client and one store.
package payments

import (
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/checkout"
	"github.com/imrishuroy/go-cardpay-gateway/internal/entitlement"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/reconcile"
	"github.com/imrishuroy/go-cardpay-gateway/internal/s2s"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/subscription"
	"github.com/imrishuroy/go-cardpay-gateway/internal/webhook"
)

// Gateway is everything the payment core asks of the gateway.
// *gateway.Client satisfies it.
type Gateway interface {
	checkout.Gateway
	s2s.Gateway
	subscription.Gateway
}

// Counter records business events. *metrics.Recorder satisfies it.
type Counter interface {
	Count(name string, kv ...string)
}

type Options struct {
	Gateway Gateway
	Store   store.Store
	// Granter and Queue are optional. Without a granter entitlement changes
	// are skipped; without a queue failed compensations are only logged.
	Granter    entitlement.Granter
	Queue      reconcile.Queue
	Logger     *logging.Logger
	Metrics    Counter
	Webhook    webhook.Config
	SessionTTL time.Duration
	Now        func() time.Time
}

// Service is the payment core.
type Service struct {
	Checkout      *checkout.Orchestrator
	S2S           *s2s.Executor
	Webhooks      *webhook.Dispatcher
	Subscriptions *subscription.Manager
}

// New wires every component. It fails with CONFIGURATION_ERROR before any
// request is served if a mandatory capability is missing.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, apperr.New(apperr.CodeConfiguration, "payment core needs a store")
	}
	if opts.Gateway == nil {
		return nil, apperr.New(apperr.CodeConfiguration, "payment core needs a gateway client")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	var metrics s2s.Counter
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}

	orch, err := checkout.New(checkout.Options{
		Gateway:    opts.Gateway,
		Store:      opts.Store,
		Granter:    opts.Granter,
		Logger:     opts.Logger,
		SessionTTL: opts.SessionTTL,
		Now:        opts.Now,
	})
	if err != nil {
		return nil, err
	}
	exec, err := s2s.New(s2s.Options{
		Gateway: opts.Gateway,
		Store:   opts.Store,
		Granter: opts.Granter,
		Logger:  opts.Logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}
	hooks, err := webhook.New(webhook.Options{
		Config:  opts.Webhook,
		Store:   opts.Store,
		Granter: opts.Granter,
		Logger:  opts.Logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}
	subs, err := subscription.New(subscription.Options{
		Gateway:  opts.Gateway,
		Store:    opts.Store,
		Payments: exec,
		Queue:    opts.Queue,
		Logger:   opts.Logger,
		Metrics:  metrics,
		Now:      opts.Now,
	})
	if err != nil {
		return nil, err
	}
	return &Service{Checkout: orch, S2S: exec, Webhooks: hooks, Subscriptions: subs}, nil
}

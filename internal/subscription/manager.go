// Package subscription manages stored cards, recurring schedules and plan
// upgrades.
package subscription

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/gateway"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/reconcile"
	"github.com/imrishuroy/go-cardpay-gateway/internal/s2s"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
)

// Gateway is the part of the gateway protocol the manager uses.
type Gateway interface {
	CreateRegistration(ctx context.Context, card gateway.Card, key string) (*gateway.Reply, error)
	DeleteRegistration(ctx context.Context, registrationID, key string) (*gateway.Reply, error)
	CreateSchedule(ctx context.Context, req gateway.ScheduleRequest, key string) (*gateway.Reply, error)
	CancelSchedule(ctx context.Context, scheduleID, key string) (*gateway.Reply, error)
}

// Payments charges and refunds stored cards. *s2s.Executor satisfies it.
type Payments interface {
	Debit(ctx context.Context, in s2s.Input) (*s2s.Result, error)
	Refund(ctx context.Context, in s2s.Input) (*s2s.Result, error)
}

// Store is the persistence the manager needs.
type Store interface {
	store.TokenStore
	store.ScheduleStore
}

// Counter records business events. *metrics.Recorder satisfies it.
type Counter interface {
	Count(name string, kv ...string)
}

type Options struct {
	Gateway  Gateway
	Store    Store
	Payments Payments
	// Queue receives compensations that failed during an upgrade. Optional.
	Queue   reconcile.Queue
	Logger  *logging.Logger
	Metrics Counter
	Now     func() time.Time
}

// Manager owns the token and schedule lifecycle.
type Manager struct {
	gw       Gateway
	store    Store
	payments Payments
	queue    reconcile.Queue
	log      *logging.Logger
	metrics  Counter
	nowFunc  func() time.Time
}

// New fails with CONFIGURATION_ERROR when a mandatory capability is missing.
// Payments is only needed by UpgradeSubscription and may be nil otherwise.
func New(opts Options) (*Manager, error) {
	if opts.Gateway == nil || opts.Store == nil {
		return nil, apperr.New(apperr.CodeConfiguration, "subscription manager needs a gateway and a store")
	}
	m := &Manager{
		gw:       opts.Gateway,
		store:    opts.Store,
		payments: opts.Payments,
		queue:    opts.Queue,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		nowFunc:  opts.Now,
	}
	if m.log == nil {
		m.log = logging.Nop()
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	return m, nil
}

// declined turns a gateway reply that did not approve into an error.
func declined(code, msg string, reply *gateway.Reply) error {
	return apperr.New(code, msg,
		apperr.WithStatus(http.StatusBadGateway),
		apperr.WithData(map[string]any{
			"resultCode":  reply.Outcome.ResultCode,
			"description": reply.Outcome.Description,
			"message":     reply.Outcome.UIMessage,
		}))
}

func persistenceErr(op string, err error) error {
	return apperr.New(apperr.CodePersistenceFailed, op+" failed",
		apperr.WithStatus(http.StatusInternalServerError), apperr.WithCause(err))
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) != "" {
		return nil
	}
	return apperr.New(apperr.CodeValidation, "request failed validation",
		apperr.WithStatus(http.StatusBadRequest),
		apperr.WithData(map[string]any{"fields": map[string]string{"userId": "required"}}))
}

func (m *Manager) count(name string, kv ...string) {
	if m.metrics != nil {
		m.metrics.Count(name, kv...)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

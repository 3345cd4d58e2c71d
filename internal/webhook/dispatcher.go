// Package webhook verifies, deduplicates and dispatches gateway notifications.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/entitlement"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/validation"
)

// DefaultMaxBodyBytes bounds notification bodies when Config leaves it zero.
const DefaultMaxBodyBytes = 256 * 1024

// DefaultClaimLease is how long a delivery owns an unhandled event before a
// redelivery may take it over.
const DefaultClaimLease = 2 * time.Minute

// Actions recorded on handled events.
const (
	ActionGranted   = "access_granted"
	ActionDenied    = "access_denied"
	ActionRecorded  = "recorded"
	ActionIgnored   = "ignored"
	ActionUnmatched = "unmatched"
	ActionSettled   = "already_settled"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	store.WebhookStore
	SaveTransaction(ctx context.Context, t *store.Transaction) error
	GetSession(ctx context.Context, userID, orderID string) (*store.CheckoutSession, error)
	GetSessionByOrder(ctx context.Context, orderID string) (*store.CheckoutSession, error)
	UpdateSession(ctx context.Context, userID, orderID string, upd store.SessionUpdate) (*store.CheckoutSession, error)
}

// Counter records business events. *metrics.Recorder satisfies it.
type Counter interface {
	Count(name string, kv ...string)
}

type Config struct {
	Mode         string
	KeyHex       string
	Secret       string
	MaxBodyBytes int64
	ClaimLease   time.Duration
}

type Options struct {
	Config  Config
	Store   Store
	Granter entitlement.Granter
	Logger  *logging.Logger
	Metrics Counter
	Now     func() time.Time
}

// Result describes what happened to one delivery.
type Result struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	EventType      EventType `json:"eventType"`
	Handled        bool      `json:"handled"`
	Duplicate      bool      `json:"duplicate"`
	Action         string    `json:"action,omitempty"`
}

type handlerFunc func(ctx context.Context, ev *event) (string, error)

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	dec      *decrypter
	store    Store
	granter  entitlement.Granter
	log      *logging.Logger
	metrics  Counter
	nowFunc  func() time.Time
	handlers map[EventType]handlerFunc
}

// New fails with CONFIGURATION_ERROR when the store is missing or the key does
// not fit the encryption mode.
func New(opts Options) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, apperr.New(apperr.CodeConfiguration, "webhook dispatcher needs a store")
	}
	dec, err := newDecrypter(opts.Config.Mode, opts.Config.KeyHex)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		cfg:     opts.Config,
		dec:     dec,
		store:   opts.Store,
		granter: opts.Granter,
		log:     opts.Logger,
		metrics: opts.Metrics,
		nowFunc: opts.Now,
	}
	if d.cfg.MaxBodyBytes <= 0 {
		d.cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if d.cfg.ClaimLease <= 0 {
		d.cfg.ClaimLease = DefaultClaimLease
	}
	if d.nowFunc == nil {
		d.nowFunc = time.Now
	}
	if d.log == nil {
		d.log = logging.Nop()
	}
	d.handlers = map[EventType]handlerFunc{
		EventPaymentSuccess: d.handlePayment,
		EventPaymentFailure: d.handlePayment,
		EventRefund:         d.handleReversal,
		EventChargeback:     d.handleReversal,
		EventUnknown:        d.handleUnknown,
	}
	return d, nil
}

// HandleWebhook verifies one delivery and dispatches it at most once per
// idempotency key. The delivery that stores an event owns it for the claim
// lease; a redelivery of an unhandled event takes it over only after the
// lease ran out, and fails with WEBHOOK_IN_PROGRESS before that so the sender
// retries later.
func (d *Dispatcher) HandleWebhook(ctx context.Context, rawBody []byte, headers http.Header) (*Result, error) {
	ev, err := d.decode(rawBody, headers)
	if err != nil {
		d.log.Warn(ctx, logging.FlagWebhook, "webhook.rejected", "webhook rejected", map[string]any{
			"code": apperr.CodeOf(err), "error": err,
		})
		d.count(EventUnknown, "rejected")
		return nil, err
	}
	res := &Result{IdempotencyKey: ev.key, EventType: ev.typ}

	plaintext, err := json.Marshal(ev.envelope)
	if err != nil {
		return nil, apperr.New(apperr.CodeWebhookPayload, "webhook payload cannot be stored",
			apperr.WithStatus(http.StatusBadRequest), apperr.WithCause(err))
	}
	created, err := d.store.SaveWebhook(ctx, &store.WebhookEvent{
		IdempotencyKey:   ev.key,
		OrderID:          ev.orderID,
		EventType:        string(ev.typ),
		DecryptedPayload: string(plaintext),
	})
	if err != nil {
		return nil, persistenceErr("save webhook", err)
	}
	attempt := 1
	if !created {
		prev, err := d.store.GetWebhook(ctx, ev.key)
		if err != nil {
			return nil, persistenceErr("load webhook", err)
		}
		if prev == nil || prev.Handled {
			res.Duplicate = true
			res.Handled = prev != nil
			if prev != nil {
				res.Action = prev.ActionTaken
			}
			d.log.Info(ctx, logging.FlagWebhook, "webhook.duplicate", "duplicate webhook ignored", map[string]any{
				"idempotencyKey": ev.key,
			})
			d.count(ev.typ, "duplicate")
			return res, nil
		}
		if attempt, err = d.claim(ctx, ev, prev); err != nil {
			return nil, err
		}
	}

	action, err := d.handlers[ev.typ](ctx, ev)
	if err != nil {
		d.log.Error(ctx, logging.FlagWebhook, "webhook.dispatch", "webhook handler failed", map[string]any{
			"idempotencyKey": ev.key, "eventType": ev.typ, "error": err,
		})
		d.count(ev.typ, "failed")
		if rerr := d.store.ReleaseWebhook(context.WithoutCancel(ctx), ev.key, attempt); rerr != nil {
			d.log.Warn(ctx, logging.FlagWebhook, "webhook.release", "releasing webhook claim failed", map[string]any{
				"idempotencyKey": ev.key, "error": rerr,
			})
		}
		return nil, err
	}
	if err := d.store.MarkWebhookHandled(ctx, ev.key, action); err != nil {
		return nil, persistenceErr("mark webhook handled", err)
	}
	res.Handled = true
	res.Action = action
	d.count(ev.typ, "handled")
	d.log.Info(ctx, logging.FlagWebhook, "webhook.handled", "webhook processed", map[string]any{
		"idempotencyKey": ev.key,
		"eventType":      ev.typ,
		"orderId":        ev.orderID,
		"action":         action,
	})
	return res, nil
}

// decode runs the checks that need no persistence: size, decryption,
// signature, payload shape and idempotency key.
func (d *Dispatcher) decode(rawBody []byte, headers http.Header) (*event, error) {
	if int64(len(rawBody)) > d.cfg.MaxBodyBytes {
		return nil, apperr.New(apperr.CodeWebhookTooLarge, "webhook body exceeds the size limit",
			apperr.WithStatus(http.StatusRequestEntityTooLarge),
			apperr.WithData(map[string]any{"size": len(rawBody), "limit": d.cfg.MaxBodyBytes}))
	}
	if headers == nil {
		headers = http.Header{}
	}
	plaintext, err := d.dec.decrypt(rawBody, headers)
	if err != nil {
		return nil, err
	}
	if err := verifySignature(d.cfg.Secret, plaintext, headers); err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(plaintext, &payload); err != nil || payload == nil {
		return nil, apperr.New(apperr.CodeWebhookPayload, "webhook payload must be a JSON object",
			apperr.WithStatus(http.StatusBadRequest), apperr.WithCause(err))
	}
	payload, err = validation.SanitizePayload(payload)
	if err != nil {
		return nil, apperr.New(apperr.CodeWebhookPayload, "webhook payload is not acceptable",
			apperr.WithStatus(http.StatusBadRequest), apperr.WithCause(err))
	}

	ev := newEvent(payload, headers.Get(HeaderIdempotencyKey))
	if ev.key == "" {
		return nil, apperr.New(apperr.CodeWebhookMissingKey, "webhook has no idempotency key",
			apperr.WithStatus(http.StatusBadRequest))
	}
	return ev, nil
}

// claim takes over an unhandled event stored by an earlier delivery and
// returns the attempt number now owned.
func (d *Dispatcher) claim(ctx context.Context, ev *event, prev *store.WebhookEvent) (int, error) {
	inProgress := apperr.New(apperr.CodeWebhookInProgress, "webhook is being processed by another delivery",
		apperr.WithStatus(http.StatusConflict),
		apperr.WithData(map[string]any{"idempotencyKey": ev.key, "attempts": prev.Attempts}))
	if d.nowFunc().Sub(prev.ClaimedAt) < d.cfg.ClaimLease {
		d.count(ev.typ, "in_progress")
		return 0, inProgress
	}
	won, err := d.store.ClaimWebhook(ctx, ev.key, prev.Attempts)
	if err != nil {
		return 0, persistenceErr("claim webhook", err)
	}
	if !won {
		d.count(ev.typ, "in_progress")
		return 0, inProgress
	}
	d.log.Warn(ctx, logging.FlagWebhook, "webhook.reclaimed", "taking over unhandled webhook", map[string]any{
		"idempotencyKey": ev.key, "attempts": prev.Attempts + 1,
	})
	return prev.Attempts + 1, nil
}

func (d *Dispatcher) count(t EventType, outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.Count("WebhookEvents", "EventType", string(t), "Outcome", outcome)
}

func persistenceErr(op string, err error) error {
	return apperr.New(apperr.CodePersistenceFailed, op+" failed",
		apperr.WithStatus(http.StatusInternalServerError), apperr.WithCause(err))
}

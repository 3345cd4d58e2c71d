// Package checkout drives hosted checkouts through the 3DS redirect flow:
// create the session, then settle it from the redirect or challenge callback.
package checkout

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/entitlement"
	"github.com/imrishuroy/go-cardpay-gateway/internal/gateway"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/result"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/validation"
)

// Gateway is the part of the gateway protocol the orchestrator uses.
type Gateway interface {
	CreateCheckout(ctx context.Context, req gateway.CheckoutRequest, key string) (*gateway.Reply, error)
	CheckoutStatus(ctx context.Context, checkoutID string) (*gateway.Reply, error)
	ThreeDSecureStatus(ctx context.Context, id, paRes, md string) (*gateway.Reply, error)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	store.SessionStore
	store.TransactionStore
}

// Options wires an Orchestrator.
type Options struct {
	Gateway Gateway
	Store   Store
	// Granter is optional.
	Granter    entitlement.Granter
	Logger     *logging.Logger
	SessionTTL time.Duration
	Now        func() time.Time
}

// Orchestrator runs the checkout state machine
// PENDING -> AWAITING_CALLBACK -> VERIFIED | FAILED | EXPIRED.
type Orchestrator struct {
	gw         Gateway
	store      Store
	granter    entitlement.Granter
	log        *logging.Logger
	sessionTTL time.Duration
	nowFunc    func() time.Time
}

// New fails with CONFIGURATION_ERROR when a mandatory capability is missing.
func New(opts Options) (*Orchestrator, error) {
	if opts.Gateway == nil || opts.Store == nil {
		return nil, apperr.New(apperr.CodeConfiguration, "checkout orchestrator needs a gateway and a store")
	}
	o := &Orchestrator{
		gw:         opts.Gateway,
		store:      opts.Store,
		granter:    opts.Granter,
		log:        opts.Logger,
		sessionTTL: opts.SessionTTL,
		nowFunc:    opts.Now,
	}
	if o.log == nil {
		o.log = logging.Nop()
	}
	if o.nowFunc == nil {
		o.nowFunc = time.Now
	}
	return o, nil
}

// CreateSessionInput starts a checkout.
type CreateSessionInput struct {
	UserID      string            `json:"userId" validate:"required"`
	OrderID     string            `json:"orderId" validate:"required"`
	Amount      float64           `json:"amount" validate:"gt=0,minor_units=Currency"`
	Currency    string            `json:"currency" validate:"required,currency_code"`
	PaymentType string            `json:"paymentType,omitempty" validate:"omitempty,oneof=DB PA"`
	CallbackURL string            `json:"callbackUrl,omitempty" validate:"omitempty,url"`
	Customer    *gateway.Customer `json:"customer,omitempty"`
	Billing     *gateway.Billing  `json:"billing,omitempty"`
	Browser     *gateway.Browser  `json:"browser,omitempty"`
	// CreateRegistration asks the gateway to tokenize the card used.
	CreateRegistration bool `json:"createRegistration,omitempty"`
}

// CreateSessionResult is what the frontend needs to render the payment widget.
type CreateSessionResult struct {
	SessionID  string                 `json:"sessionId"`
	CheckoutID string                 `json:"checkoutId"`
	Session    *store.CheckoutSession `json:"session"`
}

// checkoutKey is stable per user and order so a retried create reuses the
// gateway's first answer.
func checkoutKey(userID, orderID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("checkout:"+userID+":"+orderID)).String()
}

// CreateCheckoutSession validates in, prepares a checkout at the gateway and
// persists the session at version 1. Nothing is persisted when validation fails.
func (o *Orchestrator) CreateCheckoutSession(ctx context.Context, in CreateSessionInput) (*CreateSessionResult, error) {
	if err := validation.Validate(in); err != nil {
		return nil, err
	}
	existing, err := o.store.GetSession(ctx, in.UserID, in.OrderID)
	if err != nil {
		return nil, persistenceErr("load session", err)
	}
	if existing != nil {
		return nil, apperr.New(apperr.CodeAlreadyExists, "a checkout session already exists for this order",
			apperr.WithStatus(http.StatusConflict),
			apperr.WithData(map[string]any{"orderId": in.OrderID, "status": existing.Status}))
	}

	reply, err := o.gw.CreateCheckout(ctx, gateway.CheckoutRequest{
		Amount:                in.Amount,
		Currency:              in.Currency,
		PaymentType:           in.PaymentType,
		MerchantTransactionID: in.OrderID,
		ShopperResultURL:      in.CallbackURL,
		CreateRegistration:    in.CreateRegistration,
		Customer:              in.Customer,
		Billing:               in.Billing,
		Browser:               in.Browser,
	}, checkoutKey(in.UserID, in.OrderID))
	if err != nil {
		o.log.Error(ctx, logging.FlagCheckout, "checkout.create", "gateway rejected checkout", map[string]any{
			"userId": in.UserID, "orderId": in.OrderID, "error": err,
		})
		return nil, err
	}
	if reply.ID() == "" || !(reply.Outcome.Pending || reply.Outcome.Approved) {
		return nil, apperr.New(apperr.CodeGatewayClientError, reply.Outcome.UIMessage,
			apperr.WithStatus(http.StatusBadGateway),
			apperr.WithData(map[string]any{"resultCode": reply.Outcome.ResultCode, "description": reply.Outcome.Description}))
	}

	sess := &store.CheckoutSession{
		SessionID:         uuid.NewString(),
		UserID:            in.UserID,
		OrderID:           in.OrderID,
		Amount:            in.Amount,
		Currency:          in.Currency,
		Status:            store.SessionPending,
		Version:           1,
		GatewayCheckoutID: reply.ID(),
		CallbackURL:       in.CallbackURL,
	}
	if err := o.store.SaveSession(ctx, sess); err != nil {
		if apperr.HasCode(err, apperr.CodeAlreadyExists) {
			return nil, err
		}
		return nil, persistenceErr("save session", err)
	}
	o.log.Info(ctx, logging.FlagCheckout, "checkout.create", "checkout session created", map[string]any{
		"userId": in.UserID, "orderId": in.OrderID, "checkoutId": reply.ID(),
	})
	return &CreateSessionResult{SessionID: sess.SessionID, CheckoutID: reply.ID(), Session: sess}, nil
}

// GetSession returns the session or NOT_FOUND.
func (o *Orchestrator) GetSession(ctx context.Context, userID, orderID string) (*store.CheckoutSession, error) {
	sess, err := o.store.GetSession(ctx, userID, orderID)
	if err != nil {
		return nil, persistenceErr("load session", err)
	}
	if sess == nil {
		return nil, apperr.New(apperr.CodeNotFound, "checkout session not found",
			apperr.WithStatus(http.StatusNotFound),
			apperr.WithData(map[string]any{"userId": userID, "orderId": orderID}))
	}
	return sess, nil
}

// CallbackResult is the settled state after a redirect or 3DS callback.
type CallbackResult struct {
	Outcome     result.Outcome         `json:"outcome"`
	Session     *store.CheckoutSession `json:"session"`
	Transaction *store.Transaction     `json:"transaction,omitempty"`
	// AlreadySettled is set when the session had reached a final state before.
	AlreadySettled bool `json:"alreadySettled"`
}

func persistenceErr(op string, err error) error {
	return apperr.New(apperr.CodePersistenceFailed, op+" failed",
		apperr.WithStatus(http.StatusInternalServerError), apperr.WithCause(err))
}

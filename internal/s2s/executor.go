// Package s2s runs server-to-server payments: authorize, capture, void,
// refund and debit, each persisted as a transaction.
package s2s

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/entitlement"
	"github.com/imrishuroy/go-cardpay-gateway/internal/gateway"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/result"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/validation"
)

// Gateway is the part of the gateway protocol the executor uses.
type Gateway interface {
	Payment(ctx context.Context, registrationID string, req gateway.PaymentRequest, key string) (*gateway.Reply, error)
	BackOffice(ctx context.Context, paymentID string, req gateway.PaymentRequest, key string) (*gateway.Reply, error)
}

// Counter records business events. *metrics.Recorder satisfies it.
type Counter interface {
	Count(name string, kv ...string)
}

type Options struct {
	Gateway Gateway
	Store   store.TransactionStore
	Granter entitlement.Granter
	Logger  *logging.Logger
	Metrics Counter
}

// Executor sends S2S operations and records their outcome.
type Executor struct {
	gw      Gateway
	store   store.TransactionStore
	granter entitlement.Granter
	log     *logging.Logger
	metrics Counter
}

// New fails with CONFIGURATION_ERROR when a mandatory capability is missing.
func New(opts Options) (*Executor, error) {
	if opts.Gateway == nil || opts.Store == nil {
		return nil, apperr.New(apperr.CodeConfiguration, "s2s executor needs a gateway and a store")
	}
	e := &Executor{
		gw:      opts.Gateway,
		store:   opts.Store,
		granter: opts.Granter,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if e.log == nil {
		e.log = logging.Nop()
	}
	return e, nil
}

// Input describes one S2S operation. Which fields are required depends on the
// operation: referenced operations need PaymentID, a void needs no amount.
type Input struct {
	UserID         string  `json:"userId" validate:"required"`
	OrderID        string  `json:"orderId,omitempty"`
	Amount         float64 `json:"amount,omitempty" validate:"gte=0,minor_units=Currency"`
	Currency       string  `json:"currency,omitempty" validate:"omitempty,currency_code"`
	IdempotencyKey string  `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
	// PaymentID is the gateway id of the payment a capture, void or refund refers to.
	PaymentID string `json:"paymentId,omitempty"`
	// RegistrationID debits or authorizes a stored card.
	RegistrationID string        `json:"registrationId,omitempty"`
	Card           *gateway.Card `json:"card,omitempty"`
	// OriginalTxnID, when set on a refund, is flipped to refunded.
	OriginalTxnID string `json:"originalTxnId,omitempty"`
	BeneficiaryID string `json:"beneficiaryId,omitempty"`
	Description   string `json:"description,omitempty" validate:"max=127"`
	Recurring     bool   `json:"recurring,omitempty"`
}

// Result is the normalized outcome plus the persisted transaction.
type Result struct {
	Outcome     result.Outcome     `json:"outcome"`
	Transaction *store.Transaction `json:"transaction"`
}

type operation struct {
	orderType   string
	paymentType string
	// referenced operations go to /v1/payments/{id}
	referenced bool
	needsMoney bool
}

var (
	opAuthorize = operation{store.OrderTypeAuthorize, gateway.PaymentPreauthorization, false, true}
	opDebit     = operation{store.OrderTypeDebit, gateway.PaymentDebit, false, true}
	opCapture   = operation{store.OrderTypeCapture, gateway.PaymentCapture, true, true}
	opVoid      = operation{store.OrderTypeVoid, gateway.PaymentReversal, true, false}
	opRefund    = operation{store.OrderTypeRefund, gateway.PaymentRefund, true, true}
)

// Authorize reserves funds on a card or a stored registration.
func (e *Executor) Authorize(ctx context.Context, in Input) (*Result, error) {
	return e.execute(ctx, opAuthorize, in)
}

// Capture settles an earlier authorization.
func (e *Executor) Capture(ctx context.Context, in Input) (*Result, error) {
	return e.execute(ctx, opCapture, in)
}

// Void reverses an authorization before settlement.
func (e *Executor) Void(ctx context.Context, in Input) (*Result, error) {
	return e.execute(ctx, opVoid, in)
}

// Refund returns money for a settled payment.
func (e *Executor) Refund(ctx context.Context, in Input) (*Result, error) {
	return e.execute(ctx, opRefund, in)
}

// Debit authorizes and captures in one step.
func (e *Executor) Debit(ctx context.Context, in Input) (*Result, error) {
	return e.execute(ctx, opDebit, in)
}

// GetPayeeTransactionHistory pages through the user's transactions.
func (e *Executor) GetPayeeTransactionHistory(ctx context.Context, userID string, q store.HistoryQuery) (*store.HistoryPage, error) {
	return e.store.GetPayeeTransactionHistory(ctx, userID, q)
}

// GetBeneficiaryTransactionHistory pages through transactions paid to beneficiaryID.
func (e *Executor) GetBeneficiaryTransactionHistory(ctx context.Context, beneficiaryID string, q store.HistoryQuery) (*store.HistoryPage, error) {
	return e.store.GetBeneficiaryTransactionHistory(ctx, beneficiaryID, q)
}

func (e *Executor) execute(ctx context.Context, op operation, in Input) (*Result, error) {
	if err := check(op, in); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}

	req := gateway.PaymentRequest{
		PaymentType:           op.paymentType,
		Amount:                in.Amount,
		Currency:              in.Currency,
		MerchantTransactionID: in.OrderID,
		Descriptor:            in.Description,
		Card:                  in.Card,
		Recurring:             in.Recurring,
	}
	var (
		reply *gateway.Reply
		err   error
	)
	if op.referenced {
		reply, err = e.gw.BackOffice(ctx, in.PaymentID, req, key)
	} else {
		reply, err = e.gw.Payment(ctx, in.RegistrationID, req, key)
	}
	if err != nil {
		e.log.Error(ctx, logging.FlagS2S, op.orderType, "gateway call failed", map[string]any{
			"userId": in.UserID, "orderId": in.OrderID, "paymentId": in.PaymentID, "error": err,
		})
		e.count(op, firstNonEmpty(apperr.CodeOf(err), "error"))
		return nil, err
	}

	txn := &store.Transaction{
		OrderID:        in.OrderID,
		UserID:         in.UserID,
		BeneficiaryID:  in.BeneficiaryID,
		OrderType:      op.orderType,
		Amount:         in.Amount,
		Currency:       in.Currency,
		IdempotencyKey: key,
	}
	txn.RecordOutcome(reply.Outcome, reply.Response, reply.Raw)
	// the caller's description wins over the gateway's result text
	if in.Description != "" {
		txn.Description = in.Description
	}
	if err := e.persist(ctx, op, txn, in); err != nil {
		e.log.Error(ctx, logging.FlagS2S, op.orderType, "persisting transaction failed", map[string]any{
			"userId": in.UserID, "gatewayPaymentId": txn.GatewayPaymentID, "error": err,
		})
		return nil, apperr.New(apperr.CodePersistenceFailed, "payment processed but not recorded",
			apperr.WithStatus(http.StatusInternalServerError),
			apperr.WithData(map[string]any{"gatewayPaymentId": txn.GatewayPaymentID, "status": txn.Status}),
			apperr.WithCause(err))
	}

	e.applyEntitlement(ctx, op, txn)
	e.count(op, txn.Status)
	e.log.Info(ctx, logging.FlagS2S, op.orderType, "s2s operation processed", map[string]any{
		"userId":     in.UserID,
		"orderId":    in.OrderID,
		"txnId":      txn.TxnID,
		"resultCode": txn.ResultCode,
		"status":     txn.Status,
	})
	return &Result{Outcome: reply.Outcome, Transaction: txn}, nil
}

// persist writes txn. An approved refund that names its original also flips
// the original to refunded in the same write.
func (e *Executor) persist(ctx context.Context, op operation, txn *store.Transaction, in Input) error {
	if op == opRefund && in.OriginalTxnID != "" && txn.Status == store.TxnApproved {
		return e.store.SaveRefund(ctx, txn, in.OriginalTxnID)
	}
	return e.store.SaveTransaction(ctx, txn)
}

func (e *Executor) applyEntitlement(ctx context.Context, op operation, txn *store.Transaction) {
	if txn.Status != store.TxnApproved {
		return
	}
	var grant bool
	switch op {
	case opDebit, opCapture:
		grant = true
	case opRefund, opVoid:
		grant = false
	default:
		return
	}
	entitlement.Apply(ctx, e.granter, e.log, grant, entitlement.Grant{
		UserID:   txn.UserID,
		OrderID:  txn.OrderID,
		TxnID:    txn.TxnID,
		Amount:   txn.Amount,
		Currency: txn.Currency,
		Reason:   op.orderType,
	})
}

func (e *Executor) count(op operation, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.Count("S2SOperations", "Operation", op.orderType, "Outcome", outcome)
}

// check runs the struct rules, then the ones that depend on the operation.
func check(op operation, in Input) error {
	if err := validation.Validate(in); err != nil {
		return err
	}
	fields := map[string]string{}
	if op.referenced && strings.TrimSpace(in.PaymentID) == "" {
		fields["paymentId"] = "required"
	}
	if op.needsMoney {
		if in.Amount <= 0 {
			fields["amount"] = "gt=0"
		}
		if in.Currency == "" {
			fields["currency"] = "required"
		}
	}
	if !op.referenced && in.RegistrationID == "" && in.Card == nil {
		fields["card"] = "required_without=registrationId"
	}
	if op != opRefund && in.OriginalTxnID != "" {
		fields["originalTxnId"] = "excluded"
	}
	if len(fields) == 0 {
		return nil
	}
	return apperr.New(apperr.CodeValidation, "request failed validation",
		apperr.WithStatus(http.StatusBadRequest),
		apperr.WithData(map[string]any{"fields": fields}))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

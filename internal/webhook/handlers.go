package webhook

import (
	"context"
	"net/http"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/entitlement"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
)

// handlePayment settles the checkout session behind the payment, records the
// result and grants or denies access. When the redirect callback or another
// notification settled the session first, nothing is recorded.
func (d *Dispatcher) handlePayment(ctx context.Context, ev *event) (string, error) {
	sess, err := d.session(ctx, ev)
	if err != nil {
		return ActionUnmatched, err
	}
	grant := ev.typ == EventPaymentSuccess
	if sess != nil {
		status := store.SessionFailed
		if grant {
			status = store.SessionCompleted
		}
		settled, err := d.settleSession(ctx, ev, sess, status)
		if err != nil {
			return ActionUnmatched, err
		}
		if !settled {
			return ActionSettled, nil
		}
	}
	txn, err := d.record(ctx, ev, sess, store.OrderTypeWebhook, "")
	if err != nil || txn == nil {
		return ActionUnmatched, err
	}
	d.entitle(ctx, grant, ev, txn)
	if grant {
		return ActionGranted, nil
	}
	return ActionDenied, nil
}

// handleReversal records a refund or chargeback and revokes access.
func (d *Dispatcher) handleReversal(ctx context.Context, ev *event) (string, error) {
	orderType, status := store.OrderTypeRefund, ""
	if ev.typ == EventChargeback {
		orderType, status = store.OrderTypeChargeback, store.TxnChargeback
	}
	sess, err := d.session(ctx, ev)
	if err != nil {
		return ActionUnmatched, err
	}
	txn, err := d.record(ctx, ev, sess, orderType, status)
	if err != nil || txn == nil {
		return ActionUnmatched, err
	}
	d.entitle(ctx, false, ev, txn)
	return ActionDenied, nil
}

func (d *Dispatcher) handleUnknown(ctx context.Context, ev *event) (string, error) {
	d.log.Info(ctx, logging.FlagWebhook, "webhook.unknown", "webhook type not handled", map[string]any{
		"idempotencyKey": ev.key,
		"resultCode":     ev.outcome.ResultCode,
	})
	return ActionIgnored, nil
}

// settleAttempts bounds how often a session update is retried after losing an
// optimistic-lock race to a write that left the session open.
const settleAttempts = 3

// session finds the checkout session for the event's order, if any.
func (d *Dispatcher) session(ctx context.Context, ev *event) (*store.CheckoutSession, error) {
	if ev.orderID == "" {
		return nil, nil
	}
	sess, err := d.store.GetSessionByOrder(ctx, ev.orderID)
	if err != nil {
		return nil, persistenceErr("load session", err)
	}
	if sess != nil && ev.userID != "" && sess.UserID != ev.userID {
		d.log.Warn(ctx, logging.FlagWebhook, "webhook.session_user", "notification user differs from session owner", map[string]any{
			"idempotencyKey": ev.key, "orderId": ev.orderID,
		})
		return nil, nil
	}
	return sess, nil
}

// settleSession moves an open session to status, guarded by its version. It
// reports false when the session is already final, including after a lost
// race with the redirect callback.
func (d *Dispatcher) settleSession(ctx context.Context, ev *event, sess *store.CheckoutSession, status string) (bool, error) {
	for attempt := 1; ; attempt++ {
		if store.IsFinalSession(sess.Status) {
			d.log.Info(ctx, logging.FlagWebhook, "webhook.session_settled", "session already settled", map[string]any{
				"idempotencyKey": ev.key, "orderId": sess.OrderID, "status": sess.Status,
			})
			return false, nil
		}
		_, err := d.store.UpdateSession(ctx, sess.UserID, sess.OrderID, store.SessionUpdate{
			ExpectedVersion: sess.Version,
			Status:          status,
		})
		if err == nil {
			return true, nil
		}
		if !apperr.HasCode(err, apperr.CodeVersionConflict) {
			return false, persistenceErr("update session", err)
		}
		if attempt == settleAttempts {
			return false, err
		}
		sess, err = d.store.GetSession(ctx, sess.UserID, sess.OrderID)
		if err != nil {
			return false, persistenceErr("load session", err)
		}
		if sess == nil {
			return false, apperr.New(apperr.CodeNotFound, "checkout session disappeared",
				apperr.WithStatus(http.StatusNotFound),
				apperr.WithData(map[string]any{"orderId": ev.orderID}))
		}
	}
}

// record writes the transaction for ev. It returns a nil transaction when the
// event cannot be tied to a user.
func (d *Dispatcher) record(ctx context.Context, ev *event, sess *store.CheckoutSession, orderType, status string) (*store.Transaction, error) {
	userID := ev.userID
	amount, currency := ev.amount, ev.currency
	if userID == "" && sess != nil {
		userID = sess.UserID
	}
	if sess != nil && currency == "" {
		amount, currency = sess.Amount, sess.Currency
	}
	if userID == "" {
		d.log.Warn(ctx, logging.FlagWebhook, "webhook.unmatched", "webhook does not reference a known user", map[string]any{
			"idempotencyKey": ev.key, "orderId": ev.orderID,
		})
		return nil, nil
	}

	txn := &store.Transaction{
		OrderID:        ev.orderID,
		UserID:         userID,
		OrderType:      orderType,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: ev.key,
	}
	txn.RecordOutcome(ev.outcome, nil, ev.body)
	if status != "" {
		txn.Status = status
	}
	if err := d.store.SaveTransaction(ctx, txn); err != nil {
		if apperr.HasCode(err, apperr.CodeAlreadyExists) {
			return txn, nil
		}
		return nil, persistenceErr("save transaction", err)
	}
	return txn, nil
}

func (d *Dispatcher) entitle(ctx context.Context, grant bool, ev *event, txn *store.Transaction) {
	entitlement.Apply(ctx, d.granter, d.log, grant, entitlement.Grant{
		UserID:   txn.UserID,
		OrderID:  txn.OrderID,
		TxnID:    txn.TxnID,
		Amount:   txn.Amount,
		Currency: txn.Currency,
		Reason:   string(ev.typ),
	})
}

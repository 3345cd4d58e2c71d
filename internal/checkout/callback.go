package checkout

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/entitlement"
	"github.com/imrishuroy/go-cardpay-gateway/internal/gateway"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
)

// resourcePathID extracts the checkout or 3DS id from a gateway resource path
// such as /v1/checkouts/{id}/payment.
var resourcePathID = regexp.MustCompile(`/(?:checkouts|threeDSecure|payments)/([^/?#]+)`)

// ThreeDSCallback is what the issuer's ACS posts back after a challenge.
type ThreeDSCallback struct {
	MD           string            `json:"md"`
	PaRes        string            `json:"paRes"`
	CheckoutID   string            `json:"checkoutId"`
	ResourcePath string            `json:"resourcePath"`
	Params       map[string]string `json:"params"`
}

// settlement carries one callback through the pipeline stages.
type settlement struct {
	checkoutID string
	orderHint  string
	orderType  string
	session    *store.CheckoutSession
	reply      *gateway.Reply
	txn        *store.Transaction
	status     string
}

// HandleRedirectCallback settles a session after the shopper returns from the
// hosted payment page. checkoutIDOrResourcePath may be either form.
func (o *Orchestrator) HandleRedirectCallback(ctx context.Context, checkoutIDOrResourcePath string, params map[string]string) (*CallbackResult, error) {
	explicit, path := splitIDOrPath(checkoutIDOrResourcePath)
	st, err := o.resolve(ctx, explicit, path, params)
	if err != nil {
		return nil, err
	}
	st.orderType = store.OrderTypeCheckout
	st.reply, err = o.gw.CheckoutStatus(ctx, st.checkoutID)
	if err != nil {
		o.logFetchError(ctx, "callback.fetch_status", st, err)
		return nil, err
	}
	return o.settle(ctx, st)
}

// Handle3DSCallback settles a session after a 3DS challenge. MD counts as an
// explicit checkout id.
func (o *Orchestrator) Handle3DSCallback(ctx context.Context, cb ThreeDSCallback) (*CallbackResult, error) {
	explicit := cb.CheckoutID
	if explicit == "" {
		explicit = cb.MD
	}
	st, err := o.resolve(ctx, explicit, cb.ResourcePath, cb.Params)
	if err != nil {
		return nil, err
	}
	st.orderType = store.OrderType3DS
	st.reply, err = o.gw.ThreeDSecureStatus(ctx, st.checkoutID, cb.PaRes, cb.MD)
	if err != nil {
		o.logFetchError(ctx, "3ds.fetch_status", st, err)
		return nil, err
	}
	return o.settle(ctx, st)
}

func splitIDOrPath(v string) (id, path string) {
	v = strings.TrimSpace(v)
	if strings.Contains(v, "/") {
		return "", v
	}
	return v, ""
}

// resolve finds the checkout id: explicit id, then resource path, then the
// session found by orderId or merchantTransactionId.
func (o *Orchestrator) resolve(ctx context.Context, explicit, path string, params map[string]string) (*settlement, error) {
	orderID := firstNonEmpty(params["orderId"], params["merchantTransactionId"])
	id := resolveCheckoutID(explicit, path, params)
	st := &settlement{checkoutID: id, orderHint: orderID}
	if id != "" {
		return st, nil
	}
	if orderID != "" {
		sess, err := o.store.GetSessionByOrder(ctx, orderID)
		if err != nil {
			return nil, persistenceErr("load session", err)
		}
		if sess != nil && sess.GatewayCheckoutID != "" {
			st.checkoutID = sess.GatewayCheckoutID
			st.session = sess
			return st, nil
		}
	}
	return nil, apperr.New(apperr.CodeMissingCheckoutID, "callback does not identify a checkout",
		apperr.WithStatus(http.StatusBadRequest),
		apperr.WithData(map[string]any{"orderId": orderID}))
}

// resolveCheckoutID is the pure part of resolve.
func resolveCheckoutID(explicit, path string, params map[string]string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if id := strings.TrimSpace(params["id"]); id != "" {
		return id
	}
	for _, p := range []string{path, params["resourcePath"]} {
		if m := resourcePathID.FindStringSubmatch(p); m != nil {
			return m[1]
		}
	}
	return ""
}

// settle runs the stages shared by both callbacks.
func (o *Orchestrator) settle(ctx context.Context, st *settlement) (*CallbackResult, error) {
	if err := o.attachSession(ctx, st); err != nil {
		return nil, err
	}
	if store.IsFinalSession(st.session.Status) {
		o.log.Info(ctx, logging.FlagCheckout, "callback.duplicate", "session already settled", map[string]any{
			"orderId": st.session.OrderID, "status": st.session.Status,
		})
		return &CallbackResult{Outcome: st.reply.Outcome, Session: st.session, AlreadySettled: true}, nil
	}

	st.status = o.sessionStatus(st)
	st.txn = buildTransaction(st, o.nowFunc())
	if err := o.store.SaveTransaction(ctx, st.txn); err != nil {
		o.log.Error(ctx, logging.FlagCheckout, "callback.persist", "saving transaction failed", map[string]any{
			"orderId": st.session.OrderID, "error": err,
		})
		return nil, persistenceErr("save transaction", err)
	}

	sess, err := o.updateSession(ctx, st)
	if err != nil {
		return nil, err
	}
	st.session = sess

	o.applyEntitlement(ctx, st)

	o.log.Info(ctx, logging.FlagCheckout, "callback.settled", "checkout callback processed", map[string]any{
		"orderId":    st.session.OrderID,
		"resultCode": st.reply.Outcome.ResultCode,
		"status":     st.session.Status,
		"txnId":      st.txn.TxnID,
	})
	return &CallbackResult{Outcome: st.reply.Outcome, Session: st.session, Transaction: st.txn}, nil
}

// attachSession loads the session when resolve did not already find it,
// using the merchantTransactionId the gateway echoes back. A session bound to
// a different checkout is rejected.
func (o *Orchestrator) attachSession(ctx context.Context, st *settlement) error {
	if st.session == nil {
		if err := o.loadSession(ctx, st); err != nil {
			return err
		}
	}
	if bound := st.session.GatewayCheckoutID; bound != "" && bound != st.checkoutID {
		o.log.Warn(ctx, logging.FlagCheckout, "callback.checkout_mismatch", "callback checkout differs from session", map[string]any{
			"orderId": st.session.OrderID, "checkoutId": st.checkoutID, "sessionCheckoutId": bound,
		})
		return apperr.New(apperr.CodeValidation, "checkout does not belong to this order",
			apperr.WithStatus(http.StatusConflict),
			apperr.WithData(map[string]any{
				"orderId":           st.session.OrderID,
				"checkoutId":        st.checkoutID,
				"sessionCheckoutId": bound,
			}))
	}
	return nil
}

func (o *Orchestrator) loadSession(ctx context.Context, st *settlement) error {
	orderID := firstNonEmpty(st.reply.Outcome.Details.MerchantTransactionID, st.orderHint)
	if orderID == "" {
		return apperr.New(apperr.CodeNotFound, "gateway response does not reference an order",
			apperr.WithStatus(http.StatusNotFound),
			apperr.WithData(map[string]any{"checkoutId": st.checkoutID}))
	}
	sess, err := o.store.GetSessionByOrder(ctx, orderID)
	if err != nil {
		return persistenceErr("load session", err)
	}
	if sess == nil {
		return apperr.New(apperr.CodeNotFound, "checkout session not found",
			apperr.WithStatus(http.StatusNotFound),
			apperr.WithData(map[string]any{"orderId": orderID, "checkoutId": st.checkoutID}))
	}
	st.session = sess
	return nil
}

// sessionStatus is the status the session moves to. A still-pending checkout
// older than the session TTL expires.
func (o *Orchestrator) sessionStatus(st *settlement) string {
	out := st.reply.Outcome
	switch {
	case out.Approved:
		return store.SessionCompleted
	case out.Pending:
		if o.sessionTTL > 0 && o.nowFunc().Sub(st.session.CreatedAt) > o.sessionTTL {
			return store.SessionExpired
		}
		return store.SessionPending
	default:
		return store.SessionFailed
	}
}

// buildTransaction is the record written for one callback.
func buildTransaction(st *settlement, now time.Time) *store.Transaction {
	sess := st.session
	txn := &store.Transaction{
		OrderID:        sess.OrderID,
		UserID:         sess.UserID,
		OrderType:      st.orderType,
		Amount:         sess.Amount,
		Currency:       sess.Currency,
		IdempotencyKey: checkoutKey(sess.UserID, sess.OrderID),
		CreatedAt:      now.UTC(),
	}
	txn.RecordOutcome(st.reply.Outcome, st.reply.Response, st.reply.Raw)
	return txn
}

// updateSession writes the new status guarded by the version read earlier.
// A concurrent callback surfaces as VERSION_CONFLICT.
func (o *Orchestrator) updateSession(ctx context.Context, st *settlement) (*store.CheckoutSession, error) {
	sess, err := o.store.UpdateSession(ctx, st.session.UserID, st.session.OrderID, store.SessionUpdate{
		ExpectedVersion:   st.session.Version,
		Status:            st.status,
		GatewayCheckoutID: st.checkoutID,
	})
	if err != nil {
		o.log.Warn(ctx, logging.FlagCheckout, "callback.update_session", "session update failed", map[string]any{
			"orderId":         st.session.OrderID,
			"expectedVersion": st.session.Version,
			"error":           err,
		})
		if apperr.HasCode(err, apperr.CodeVersionConflict) || apperr.HasCode(err, apperr.CodeNotFound) {
			return nil, err
		}
		return nil, persistenceErr("update session", err)
	}
	return sess, nil
}

func (o *Orchestrator) applyEntitlement(ctx context.Context, st *settlement) {
	var grant bool
	switch st.status {
	case store.SessionCompleted:
		grant = true
	case store.SessionFailed, store.SessionExpired:
		grant = false
	default:
		return
	}
	entitlement.Apply(ctx, o.granter, o.log, grant, entitlement.Grant{
		UserID:   st.session.UserID,
		OrderID:  st.session.OrderID,
		TxnID:    st.txn.TxnID,
		Amount:   st.session.Amount,
		Currency: st.session.Currency,
		Reason:   st.reply.Outcome.ResultCode,
	})
}

func (o *Orchestrator) logFetchError(ctx context.Context, action string, st *settlement, err error) {
	o.log.Error(ctx, logging.FlagCheckout, action, "fetching payment status failed", map[string]any{
		"checkoutId": st.checkoutID,
		"error":      err,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

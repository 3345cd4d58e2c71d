package checkout

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/entitlement"
	"github.com/imrishuroy/go-cardpay-gateway/internal/gateway"
	"github.com/imrishuroy/go-cardpay-gateway/internal/result"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/testutil/dynamofake"
	"github.com/imrishuroy/go-cardpay-gateway/internal/transport"
)

func reply(raw map[string]any) *gateway.Reply {
	return &gateway.Reply{
		Outcome: result.Normalize(raw),
		Raw:     raw,
		Response: &transport.Response{
			Status:    http.StatusOK,
			Headers:   http.Header{"X-Request-Id": {"req-1"}, "Set-Cookie": {"secret"}},
			RateLimit: transport.RateLimitInfo{Present: true, Limit: 100, Remaining: 99},
		},
	}
}

func paymentRaw(code, orderID string) map[string]any {
	return map[string]any{
		"id":                    "pay-1",
		"merchantTransactionId": orderID,
		"result":                map[string]any{"code": code, "description": "d"},
	}
}

type stubGateway struct {
	mu        sync.Mutex
	created   []gateway.CheckoutRequest
	keys      []string
	statusIDs []string
	threeDS   [][3]string
	status    *gateway.Reply
	statusErr error
}

func (g *stubGateway) CreateCheckout(_ context.Context, req gateway.CheckoutRequest, key string) (*gateway.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	g.keys = append(g.keys, key)
	return reply(map[string]any{"id": "chk-1", "result": map[string]any{"code": "000.200.100"}}), nil
}

func (g *stubGateway) CheckoutStatus(_ context.Context, id string) (*gateway.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusIDs = append(g.statusIDs, id)
	return g.status, g.statusErr
}

func (g *stubGateway) ThreeDSecureStatus(_ context.Context, id, paRes, md string) (*gateway.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threeDS = append(g.threeDS, [3]string{id, paRes, md})
	return g.status, g.statusErr
}

type recordingGranter struct {
	mu     sync.Mutex
	grants []entitlement.Grant
	denies []entitlement.Grant
	err    error
}

func (r *recordingGranter) GrantAccess(_ context.Context, g entitlement.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants = append(r.grants, g)
	return r.err
}

func (r *recordingGranter) DenyAccess(_ context.Context, g entitlement.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denies = append(r.denies, g)
	return r.err
}

type harness struct {
	o       *Orchestrator
	gw      *stubGateway
	store   *store.DynamoStore
	table   *dynamofake.Table
	granter *recordingGranter
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gw:      &stubGateway{},
		table:   dynamofake.New(),
		granter: &recordingGranter{},
		now:     time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.store = store.NewDynamoStore(h.table, "payments").WithClock(clock)
	o, err := New(Options{Gateway: h.gw, Store: h.store, Granter: h.granter, SessionTTL: 30 * time.Minute, Now: clock})
	require.NoError(t, err)
	h.o = o
	return h
}

func (h *harness) create(t *testing.T) *CreateSessionResult {
	t.Helper()
	res, err := h.o.CreateCheckoutSession(context.Background(), CreateSessionInput{
		UserID: "u1", OrderID: "o1", Amount: 25, Currency: "USD", CallbackURL: "https://shop.example/return",
	})
	require.NoError(t, err)
	return res
}

func TestNew_RequiresCapabilities(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
}

func TestCreateCheckoutSession_ValidationPersistsNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.CreateCheckoutSession(context.Background(), CreateSessionInput{OrderID: "o1", Amount: 1, Currency: "USD"})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
	assert.Empty(t, h.gw.created)
	assert.Zero(t, h.table.Len())

	_, err = h.o.CreateCheckoutSession(context.Background(), CreateSessionInput{UserID: "u1", Amount: 1, Currency: "USD"})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
	assert.Zero(t, h.table.Len())
}

func TestCreateCheckoutSession_PersistsVersionOne(t *testing.T) {
	h := newHarness(t)
	res := h.create(t)

	assert.Equal(t, "chk-1", res.CheckoutID)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, 1, res.Session.Version)
	assert.Equal(t, store.SessionPending, res.Session.Status)

	require.Len(t, h.gw.created, 1)
	assert.Equal(t, "o1", h.gw.created[0].MerchantTransactionID)
	assert.Equal(t, "https://shop.example/return", h.gw.created[0].ShopperResultURL)
	assert.Nil(t, h.gw.created[0].Customer)
	assert.Equal(t, checkoutKey("u1", "o1"), h.gw.keys[0])

	got, err := h.o.GetSession(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, "chk-1", got.GatewayCheckoutID)

	_, err = h.o.CreateCheckoutSession(context.Background(), CreateSessionInput{UserID: "u1", OrderID: "o1", Amount: 25, Currency: "USD"})
	assert.True(t, apperr.HasCode(err, apperr.CodeAlreadyExists))
}

func TestGetSession_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.GetSession(context.Background(), "u1", "nope")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

func TestHandleRedirectCallback_Approved(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.gw.status = reply(paymentRaw("000.100.110", "o1"))

	res, err := h.o.HandleRedirectCallback(context.Background(), "/v1/checkouts/chk-1/payment", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"chk-1"}, h.gw.statusIDs)
	assert.True(t, res.Outcome.Approved)
	assert.Equal(t, store.SessionCompleted, res.Session.Status)
	assert.Equal(t, 2, res.Session.Version)

	require.NotNil(t, res.Transaction)
	txn, err := h.store.GetTransaction(context.Background(), "u1", res.Transaction.TxnID)
	require.NoError(t, err)
	assert.Equal(t, store.TxnApproved, txn.Status)
	assert.Equal(t, store.OrderTypeCheckout, txn.OrderType)
	assert.Equal(t, "000.100.110", txn.ResultCode)
	assert.Equal(t, "req-1", txn.ResponseHeaders["X-Request-Id"])
	assert.NotContains(t, txn.ResponseHeaders, "Set-Cookie")
	assert.Equal(t, 99, txn.RateLimitInfo.Remaining)
	assert.Equal(t, 25.0, txn.Amount)

	require.Len(t, h.granter.grants, 1)
	assert.Equal(t, "u1", h.granter.grants[0].UserID)
	assert.Empty(t, h.granter.denies)
}

func TestHandleRedirectCallback_ResolvesFromOrderParam(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.gw.status = reply(paymentRaw("000.100.110", ""))

	res, err := h.o.HandleRedirectCallback(context.Background(), "", map[string]string{"orderId": "o1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"chk-1"}, h.gw.statusIDs)
	assert.Equal(t, store.SessionCompleted, res.Session.Status)
}

func TestHandleRedirectCallback_RejectsForeignCheckout(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.gw.status = reply(paymentRaw("000.100.110", ""))

	_, err := h.o.HandleRedirectCallback(context.Background(), "chk-other", map[string]string{"orderId": "o1"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusConflict, ae.Status)
	assert.Equal(t, "chk-1", ae.Data["sessionCheckoutId"])

	sess, err := h.store.GetSession(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionPending, sess.Status)
	assert.Equal(t, 1, sess.Version)
	assert.Empty(t, h.granter.grants)
}

func TestHandleRedirectCallback_MissingCheckoutID(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.HandleRedirectCallback(context.Background(), "", map[string]string{"orderId": "unknown"})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeMissingCheckoutID))
	assert.Empty(t, h.gw.statusIDs)

	_, err = h.o.HandleRedirectCallback(context.Background(), "", nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeMissingCheckoutID))
}

func TestHandleRedirectCallback_DeclineDeniesAccess(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.gw.status = reply(paymentRaw("800.100.151", "o1"))

	res, err := h.o.HandleRedirectCallback(context.Background(), "chk-1", nil)
	require.NoError(t, err)
	assert.False(t, res.Outcome.Approved)
	assert.Equal(t, store.SessionFailed, res.Session.Status)
	assert.Equal(t, store.TxnDeclined, res.Transaction.Status)
	assert.Empty(t, h.granter.grants)
	require.Len(t, h.granter.denies, 1)
}

func TestHandleRedirectCallback_EntitlementFailureDoesNotFail(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.granter.err = errors.New("entitlement service down")
	h.gw.status = reply(paymentRaw("000.100.110", "o1"))

	res, err := h.o.HandleRedirectCallback(context.Background(), "chk-1", nil)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, res.Session.Status)
}

func TestHandleRedirectCallback_PendingPastTTLExpires(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.now = h.now.Add(31 * time.Minute)
	h.gw.status = reply(paymentRaw("000.200.000", "o1"))

	res, err := h.o.HandleRedirectCallback(context.Background(), "chk-1", nil)
	require.NoError(t, err)
	assert.Equal(t, store.SessionExpired, res.Session.Status)
	assert.Len(t, h.granter.denies, 1)
}

func TestHandleRedirectCallback_PendingWithinTTLStaysPending(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.gw.status = reply(paymentRaw("000.200.000", "o1"))

	res, err := h.o.HandleRedirectCallback(context.Background(), "chk-1", nil)
	require.NoError(t, err)
	assert.Equal(t, store.SessionPending, res.Session.Status)
	assert.True(t, res.Outcome.Pending)
	assert.Empty(t, h.granter.grants)
	assert.Empty(t, h.granter.denies)
}

func TestHandleRedirectCallback_SettledSessionIsNotReprocessed(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.gw.status = reply(paymentRaw("000.100.110", "o1"))

	_, err := h.o.HandleRedirectCallback(context.Background(), "chk-1", nil)
	require.NoError(t, err)
	items := h.table.Len()

	res, err := h.o.HandleRedirectCallback(context.Background(), "chk-1", nil)
	require.NoError(t, err)
	assert.True(t, res.AlreadySettled)
	assert.Nil(t, res.Transaction)
	assert.Equal(t, items, h.table.Len())
	assert.Len(t, h.granter.grants, 1)
}

// racingStore lets another writer bump the session between read and update.
type racingStore struct {
	*store.DynamoStore
	once sync.Once
}

func (r *racingStore) UpdateSession(ctx context.Context, userID, orderID string, upd store.SessionUpdate) (*store.CheckoutSession, error) {
	r.once.Do(func() {
		_, _ = r.DynamoStore.UpdateSession(ctx, userID, orderID, store.SessionUpdate{ExpectedVersion: upd.ExpectedVersion, Status: store.SessionPending})
	})
	return r.DynamoStore.UpdateSession(ctx, userID, orderID, upd)
}

func TestHandleRedirectCallback_VersionConflict(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	o, err := New(Options{Gateway: h.gw, Store: &racingStore{DynamoStore: h.store}, Granter: h.granter})
	require.NoError(t, err)
	h.gw.status = reply(paymentRaw("000.100.110", "o1"))

	_, err = o.HandleRedirectCallback(context.Background(), "chk-1", nil)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeVersionConflict))
	assert.Empty(t, h.granter.grants)
}

func TestHandleRedirectCallback_GatewayErrorPropagates(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.gw.statusErr = apperr.New(apperr.CodeCircuitOpen, "open")

	_, err := h.o.HandleRedirectCallback(context.Background(), "chk-1", nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeCircuitOpen))
}

func TestHandle3DSCallback_UsesMDAsID(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.gw.status = reply(paymentRaw("000.100.110", "o1"))

	res, err := h.o.Handle3DSCallback(context.Background(), ThreeDSCallback{MD: "chk-1", PaRes: "pares-blob"})
	require.NoError(t, err)
	require.Len(t, h.gw.threeDS, 1)
	assert.Equal(t, [3]string{"chk-1", "pares-blob", "chk-1"}, h.gw.threeDS[0])
	assert.Equal(t, store.OrderType3DS, res.Transaction.OrderType)
	assert.Equal(t, store.SessionCompleted, res.Session.Status)
}

func TestHandle3DSCallback_Missing(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.Handle3DSCallback(context.Background(), ThreeDSCallback{PaRes: "x"})
	assert.True(t, apperr.HasCode(err, apperr.CodeMissingCheckoutID))
}

func TestResolveCheckoutID(t *testing.T) {
	cases := []struct {
		name     string
		explicit string
		path     string
		params   map[string]string
		want     string
	}{
		{"explicit wins", "abc", "/v1/checkouts/zzz/payment", nil, "abc"},
		{"id param", "", "", map[string]string{"id": "p1"}, "p1"},
		{"resource path", "", "/v1/checkouts/8ac7a4/payment", nil, "8ac7a4"},
		{"resource path param", "", "", map[string]string{"resourcePath": "/v1/checkouts/r2/payment"}, "r2"},
		{"threeDSecure path", "", "/v1/threeDSecure/t3", nil, "t3"},
		{"nothing", "", "/somewhere/else", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolveCheckoutID(tc.explicit, tc.path, tc.params))
		})
	}
}

func TestSplitIDOrPath(t *testing.T) {
	id, path := splitIDOrPath(" chk-1 ")
	assert.Equal(t, "chk-1", id)
	assert.Empty(t, path)

	id, path = splitIDOrPath("/v1/checkouts/chk-1/payment")
	assert.Empty(t, id)
	assert.Equal(t, "/v1/checkouts/chk-1/payment", path)
}

func TestBuildTransaction(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st := &settlement{
		orderType: store.OrderType3DS,
		session:   &store.CheckoutSession{UserID: "u", OrderID: "o", Amount: 3, Currency: "EUR"},
		reply:     reply(paymentRaw("000.100.110", "o")),
	}
	txn := buildTransaction(st, now)
	assert.Equal(t, store.TxnApproved, txn.Status)
	assert.Equal(t, "pay-1", txn.GatewayPaymentID)
	assert.Equal(t, now, txn.CreatedAt)
	assert.Contains(t, txn.RawResponse, `"merchantTransactionId":"o"`)
	assert.Equal(t, checkoutKey("u", "o"), txn.IdempotencyKey)
}

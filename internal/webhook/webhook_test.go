package webhook

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/entitlement"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/testutil/dynamofake"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testKey(t *testing.T) []byte {
	t.Helper()
	k, err := hex.DecodeString(testKeyHex)
	require.NoError(t, err)
	return k
}

func sealGCM(t *testing.T, plaintext []byte) ([]byte, http.Header) {
	t.Helper()
	block, err := aes.NewCipher(testKey(t))
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	iv := bytes.Repeat([]byte{7}, gcmIVSize)
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]
	h := http.Header{}
	h.Set(HeaderIV, hex.EncodeToString(iv))
	h.Set(HeaderAuthTag, hex.EncodeToString(tag))
	return []byte(strings.ToUpper(hex.EncodeToString(ct))), h
}

func sealCBC(t *testing.T, plaintext []byte) ([]byte, http.Header) {
	t.Helper()
	block, err := aes.NewCipher(testKey(t))
	require.NoError(t, err)
	n := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(n)}, n)...)
	iv := bytes.Repeat([]byte{3}, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	h := http.Header{}
	h.Set(HeaderIV, base64.StdEncoding.EncodeToString(iv))
	return []byte(base64.StdEncoding.EncodeToString(out)), h
}

func notification(id, code, paymentType string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type": "PAYMENT",
		"payload": map[string]any{
			"id":                    id,
			"paymentType":           paymentType,
			"amount":                "12.50",
			"currency":              "eur",
			"merchantTransactionId": "o1",
			"result":                map[string]any{"code": code},
			"customParameters":      map[string]any{"userId": "u1"},
		},
	})
	return b
}

type granter struct {
	mu             sync.Mutex
	grants, denies []entitlement.Grant
	// entered and release, when set, hold a grant open until release closes.
	entered chan struct{}
	release chan struct{}
}

func (g *granter) GrantAccess(_ context.Context, gr entitlement.Grant) error {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants = append(g.grants, gr)
	return nil
}

func (g *granter) DenyAccess(_ context.Context, gr entitlement.Grant) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.denies = append(g.denies, gr)
	return nil
}

type counter struct {
	mu sync.Mutex
	m  map[string]int
}

func (c *counter) Count(name string, kv ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[name+":"+strings.Join(kv, ",")]++
}

func (c *counter) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[key]
}

type fixture struct {
	d       *Dispatcher
	store   *store.DynamoStore
	table   *dynamofake.Table
	granter *granter
	metrics *counter
	now     time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		table:   dynamofake.New(),
		granter: &granter{},
		metrics: &counter{m: map[string]int{}},
		now:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store = store.NewDynamoStore(f.table, "payments").WithClock(clock)
	d, err := New(Options{Config: cfg, Store: f.store, Granter: f.granter, Metrics: f.metrics, Now: clock})
	require.NoError(t, err)
	f.d = d
	return f
}

func gcmConfig() Config { return Config{Mode: ModeGCM, KeyHex: testKeyHex} }

func userTxns(t *testing.T, f *fixture, userID string) []store.Transaction {
	t.Helper()
	page, err := f.store.GetPayeeTransactionHistory(context.Background(), userID, store.HistoryQuery{})
	require.NoError(t, err)
	return page.Transactions
}

func TestNew_Configuration(t *testing.T) {
	_, err := New(Options{Config: gcmConfig()})
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))

	st := store.NewDynamoStore(dynamofake.New(), "payments")
	_, err = New(Options{Config: Config{Mode: ModeGCM, KeyHex: "abcd"}, Store: st})
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
	_, err = New(Options{Config: Config{Mode: "rot13"}, Store: st})
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
	_, err = New(Options{Config: Config{Mode: ModeNone}, Store: st})
	assert.NoError(t, err)
}

func TestHandleWebhook_GCMSuccessGrants(t *testing.T) {
	f := newFixture(t, gcmConfig())
	body, h := sealGCM(t, notification("evt-1", "000.000.000", "DB"))

	res, err := f.d.HandleWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.Equal(t, &Result{IdempotencyKey: "evt-1", EventType: EventPaymentSuccess, Handled: true, Action: ActionGranted}, res)

	txns := userTxns(t, f, "u1")
	require.Len(t, txns, 1)
	assert.Equal(t, store.OrderTypeWebhook, txns[0].OrderType)
	assert.Equal(t, store.TxnApproved, txns[0].Status)
	assert.Equal(t, 12.5, txns[0].Amount)
	assert.Equal(t, "EUR", txns[0].Currency)
	assert.Equal(t, "evt-1", txns[0].IdempotencyKey)

	require.Len(t, f.granter.grants, 1)
	assert.Equal(t, "o1", f.granter.grants[0].OrderID)

	stored, err := f.store.GetWebhook(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, stored.Handled)
	assert.Equal(t, ActionGranted, stored.ActionTaken)
	assert.Equal(t, 1, f.metrics.get("WebhookEvents:EventType,payment.success,Outcome,handled"))
}

func TestHandleWebhook_DuplicateIsNotRedispatched(t *testing.T) {
	f := newFixture(t, gcmConfig())
	body, h := sealGCM(t, notification("evt-1", "000.000.000", "DB"))

	_, err := f.d.HandleWebhook(context.Background(), body, h)
	require.NoError(t, err)
	res, err := f.d.HandleWebhook(context.Background(), body, h)
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.True(t, res.Handled)
	assert.Equal(t, ActionGranted, res.Action)
	assert.Len(t, userTxns(t, f, "u1"), 1)
	assert.Len(t, f.granter.grants, 1)
}

func TestHandleWebhook_UnhandledEventIsRetriedAfterLease(t *testing.T) {
	f := newFixture(t, gcmConfig())
	ctx := context.Background()
	_, err := f.store.SaveWebhook(ctx, &store.WebhookEvent{IdempotencyKey: "evt-1", EventType: "payment.success"})
	require.NoError(t, err)
	body, h := sealGCM(t, notification("evt-1", "000.000.000", "DB"))

	_, err = f.d.HandleWebhook(ctx, body, h)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeWebhookInProgress, apperr.CodeOf(err))
	assert.Empty(t, f.granter.grants)

	f.now = f.now.Add(DefaultClaimLease + time.Second)
	res, err := f.d.HandleWebhook(ctx, body, h)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Handled)
	assert.Len(t, f.granter.grants, 1)

	stored, err := f.store.GetWebhook(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
}

func TestHandleWebhook_ConcurrentDeliveriesDispatchOnce(t *testing.T) {
	f := newFixture(t, gcmConfig())
	f.granter.entered = make(chan struct{})
	f.granter.release = make(chan struct{})
	body, h := sealGCM(t, notification("evt-1", "000.000.000", "DB"))

	first := make(chan error, 1)
	go func() {
		_, err := f.d.HandleWebhook(context.Background(), body, h)
		first <- err
	}()
	<-f.granter.entered

	_, err := f.d.HandleWebhook(context.Background(), body, h.Clone())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeWebhookInProgress, apperr.CodeOf(err))
	assert.Equal(t, 1, f.metrics.get("WebhookEvents:EventType,payment.success,Outcome,in_progress"))

	close(f.granter.release)
	require.NoError(t, <-first)

	f.granter.entered = nil
	res, err := f.d.HandleWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Len(t, f.granter.grants, 1)
	assert.Len(t, userTxns(t, f, "u1"), 1)
}

func TestHandleWebhook_FailedDispatchReleasesClaim(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeNone})
	ctx := context.Background()
	body := notification("evt-6", "000.000.000", "DB")

	f.table.FailOn("Query", errors.New("throttled"))
	_, err := f.d.HandleWebhook(ctx, body, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodePersistenceFailed, apperr.CodeOf(err))

	f.table.FailOn("Query", nil)
	res, err := f.d.HandleWebhook(ctx, body, nil)
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Len(t, f.granter.grants, 1)
}

func TestHandleWebhook_DecryptFailsClosed(t *testing.T) {
	cases := map[string]func(body []byte, h http.Header) ([]byte, http.Header){
		"tampered tag": func(b []byte, h http.Header) ([]byte, http.Header) {
			tag, _ := hex.DecodeString(h.Get(HeaderAuthTag))
			tag[0] ^= 0xff
			h.Set(HeaderAuthTag, hex.EncodeToString(tag))
			return b, h
		},
		"missing tag": func(b []byte, h http.Header) ([]byte, http.Header) {
			h.Del(HeaderAuthTag)
			return b, h
		},
		"short tag": func(b []byte, h http.Header) ([]byte, http.Header) {
			h.Set(HeaderAuthTag, "abcd")
			return b, h
		},
		"wrong iv length": func(b []byte, h http.Header) ([]byte, http.Header) {
			h.Set(HeaderIV, hex.EncodeToString(make([]byte, 16)))
			return b, h
		},
		"not hex": func(_ []byte, h http.Header) ([]byte, http.Header) {
			return []byte("{\"id\":\"x\"}"), h
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, gcmConfig())
			body, h := mutate(sealGCM(t, notification("evt-1", "000.000.000", "DB")))
			_, err := f.d.HandleWebhook(context.Background(), body, h)
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeWebhookDecrypt))
			assert.Zero(t, f.table.Len())
		})
	}
}

func TestHandleWebhook_CBC(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeCBC, KeyHex: testKeyHex})
	body, h := sealCBC(t, notification("evt-2", "800.100.152", "DB"))

	res, err := f.d.HandleWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailure, res.EventType)
	assert.Equal(t, ActionDenied, res.Action)
	require.Len(t, f.granter.denies, 1)
	txns := userTxns(t, f, "u1")
	require.Len(t, txns, 1)
	assert.Equal(t, store.TxnDeclined, txns[0].Status)
}

func TestHandleWebhook_CBCCorruption(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeCBC, KeyHex: testKeyHex})
	body, h := sealCBC(t, notification("evt-2", "000.000.000", "DB"))
	raw, err := base64.StdEncoding.DecodeString(string(body))
	require.NoError(t, err)

	// the last byte of the penultimate block lands on the padding byte
	bad := append([]byte{}, raw...)
	bad[len(bad)-aes.BlockSize-1] ^= 0x5a
	_, err = f.d.HandleWebhook(context.Background(), []byte(base64.StdEncoding.EncodeToString(bad)), h)
	assert.True(t, apperr.HasCode(err, apperr.CodeWebhookDecrypt))

	_, err = f.d.HandleWebhook(context.Background(), []byte("abc"), h)
	assert.True(t, apperr.HasCode(err, apperr.CodeWebhookDecrypt))

	// a different IV only garbles the first block, so the JSON breaks
	wrongIV := http.Header{}
	wrongIV.Set(HeaderIV, hex.EncodeToString(bytes.Repeat([]byte{9}, aes.BlockSize)))
	_, err = f.d.HandleWebhook(context.Background(), body, wrongIV)
	assert.True(t, apperr.HasCode(err, apperr.CodeWebhookPayload))
	assert.Zero(t, f.table.Len())
}

func TestUnpad(t *testing.T) {
	out, err := unpad(append([]byte("hello"), bytes.Repeat([]byte{11}, 11)...))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	_, err = unpad(append([]byte("hello"), 3, 3, 2))
	assert.ErrorIs(t, err, errBadPadding)
	_, err = unpad([]byte{0})
	assert.ErrorIs(t, err, errBadPadding)
	_, err = unpad([]byte{1, 2, 40})
	assert.ErrorIs(t, err, errBadPadding)
}

func TestHandleWebhook_Signature(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeNone, Secret: "shh"})
	body := notification("evt-3", "000.000.000", "DB")
	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(body)

	h := http.Header{}
	h.Set(HeaderSignature, hex.EncodeToString(mac.Sum(nil)))
	_, err := f.d.HandleWebhook(context.Background(), body, h)
	require.NoError(t, err)

	h.Set(HeaderSignature, strings.Repeat("0", 64))
	_, err = f.d.HandleWebhook(context.Background(), notification("evt-4", "000.000.000", "DB"), h)
	assert.True(t, apperr.HasCode(err, apperr.CodeWebhookSignature))

	h.Set(HeaderSignature, "zz")
	_, err = f.d.HandleWebhook(context.Background(), body, h)
	assert.True(t, apperr.HasCode(err, apperr.CodeWebhookSignature))

	for _, short := range []string{"abcd", hex.EncodeToString(mac.Sum(nil)[:31])} {
		h.Set(HeaderSignature, short)
		_, err = f.d.HandleWebhook(context.Background(), notification("evt-5", "000.000.000", "DB"), h)
		assert.True(t, apperr.HasCode(err, apperr.CodeWebhookSignature), "signature %q", short)
	}

	unsigned := newFixture(t, Config{Mode: ModeNone})
	h.Set(HeaderSignature, hex.EncodeToString(mac.Sum(nil)))
	_, err = unsigned.d.HandleWebhook(context.Background(), body, h)
	assert.True(t, apperr.HasCode(err, apperr.CodeWebhookSignature))
}

func TestHandleWebhook_RejectsBeforePersisting(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		body []byte
		h    http.Header
		code string
	}{
		{"too large", Config{Mode: ModeNone, MaxBodyBytes: 10}, notification("e", "000.000.000", "DB"), nil, apperr.CodeWebhookTooLarge},
		{"array payload", Config{Mode: ModeNone}, []byte(`[1,2]`), nil, apperr.CodeWebhookPayload},
		{"not json", Config{Mode: ModeNone}, []byte(`nope`), nil, apperr.CodeWebhookPayload},
		{"no key", Config{Mode: ModeNone}, []byte(`{"type":"PAYMENT","payload":{"result":{"code":"000.000.000"}}}`), nil, apperr.CodeWebhookMissingKey},
		{"blank header key", Config{Mode: ModeNone}, []byte(`{"id":"  "}`), http.Header{HeaderIdempotencyKey: {"   "}}, apperr.CodeWebhookMissingKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.cfg)
			_, err := f.d.HandleWebhook(context.Background(), tc.body, tc.h)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
			assert.Zero(t, f.table.Calls("PutItem"))
			assert.Equal(t, 1, f.metrics.get("WebhookEvents:EventType,unknown,Outcome,rejected"))
		})
	}
}

func TestHandleWebhook_HeaderKeyAndSanitizedPayload(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeNone})
	body := []byte(`{"id":"payload-id","__proto__":{"polluted":true},"payload":{"constructor":{"x":1},"result":{"code":"000.200.000"}}}`)
	h := http.Header{}
	h.Set(HeaderIdempotencyKey, "hdr-key")

	res, err := f.d.HandleWebhook(context.Background(), body, h)
	require.NoError(t, err)
	assert.Equal(t, "hdr-key", res.IdempotencyKey)
	assert.Equal(t, EventUnknown, res.EventType)
	assert.Equal(t, ActionIgnored, res.Action)

	stored, err := f.store.GetWebhook(context.Background(), "hdr-key")
	require.NoError(t, err)
	assert.NotContains(t, stored.DecryptedPayload, "__proto__")
	assert.NotContains(t, stored.DecryptedPayload, "constructor")
	assert.Contains(t, stored.DecryptedPayload, "payload-id")
}

func TestHandleWebhook_Reversals(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeNone})
	ctx := context.Background()

	res, err := f.d.HandleWebhook(ctx, notification("rf-1", "000.000.000", "RF"), nil)
	require.NoError(t, err)
	assert.Equal(t, EventRefund, res.EventType)
	assert.Equal(t, ActionDenied, res.Action)

	res, err = f.d.HandleWebhook(ctx, notification("cb-1", "000.100.200", "CB"), nil)
	require.NoError(t, err)
	assert.Equal(t, EventChargeback, res.EventType)

	byType := map[string]string{}
	for _, txn := range userTxns(t, f, "u1") {
		byType[txn.OrderType] = txn.Status
	}
	assert.Equal(t, map[string]string{
		store.OrderTypeRefund:     store.TxnApproved,
		store.OrderTypeChargeback: store.TxnChargeback,
	}, byType)
	assert.Len(t, f.granter.denies, 2)
}

func TestHandleWebhook_UserFromSession(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeNone})
	ctx := context.Background()
	require.NoError(t, f.store.SaveSession(ctx, &store.CheckoutSession{
		UserID: "u9", OrderID: "o9", Amount: 40, Currency: "GBP", GatewayCheckoutID: "chk",
	}))
	body := []byte(`{"id":"evt-9","payload":{"id":"p9","merchantTransactionId":"o9","result":{"code":"000.100.110"}}}`)

	res, err := f.d.HandleWebhook(ctx, body, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionGranted, res.Action)
	txns := userTxns(t, f, "u9")
	require.Len(t, txns, 1)
	assert.Equal(t, 40.0, txns[0].Amount)
	assert.Equal(t, "GBP", txns[0].Currency)

	sess, err := f.store.GetSession(ctx, "u9", "o9")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, sess.Status)
	assert.Equal(t, 2, sess.Version)
}

func TestHandleWebhook_FailureSettlesSessionAndDenies(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeNone})
	ctx := context.Background()
	require.NoError(t, f.store.SaveSession(ctx, &store.CheckoutSession{UserID: "u1", OrderID: "o1", Amount: 12.5, Currency: "EUR"}))

	res, err := f.d.HandleWebhook(ctx, notification("evt-7", "800.100.151", "DB"), nil)
	require.NoError(t, err)
	assert.Equal(t, ActionDenied, res.Action)
	sess, err := f.store.GetSession(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionFailed, sess.Status)
	assert.Len(t, f.granter.denies, 1)
}

func TestHandleWebhook_SettledSessionIsLeftAlone(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeNone})
	ctx := context.Background()
	require.NoError(t, f.store.SaveSession(ctx, &store.CheckoutSession{UserID: "u1", OrderID: "o1", Amount: 12.5, Currency: "EUR"}))
	_, err := f.store.UpdateSession(ctx, "u1", "o1", store.SessionUpdate{ExpectedVersion: 1, Status: store.SessionCompleted})
	require.NoError(t, err)

	res, err := f.d.HandleWebhook(ctx, notification("evt-8", "000.000.000", "DB"), nil)
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Equal(t, ActionSettled, res.Action)
	assert.Empty(t, userTxns(t, f, "u1"))
	assert.Empty(t, f.granter.grants)
}

// callbackFirstStore settles the session behind the dispatcher's back just
// before its first session update, as a redirect callback would.
type callbackFirstStore struct {
	*store.DynamoStore
	once sync.Once
}

func (s *callbackFirstStore) UpdateSession(ctx context.Context, userID, orderID string, upd store.SessionUpdate) (*store.CheckoutSession, error) {
	s.once.Do(func() {
		_, _ = s.DynamoStore.UpdateSession(ctx, userID, orderID, store.SessionUpdate{ExpectedVersion: upd.ExpectedVersion, Status: store.SessionCompleted})
	})
	return s.DynamoStore.UpdateSession(ctx, userID, orderID, upd)
}

func TestHandleWebhook_LosesSessionRaceToCallback(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeNone})
	ctx := context.Background()
	require.NoError(t, f.store.SaveSession(ctx, &store.CheckoutSession{UserID: "u1", OrderID: "o1", Amount: 12.5, Currency: "EUR"}))
	d, err := New(Options{Config: Config{Mode: ModeNone}, Store: &callbackFirstStore{DynamoStore: f.store}, Granter: f.granter})
	require.NoError(t, err)

	res, err := d.HandleWebhook(ctx, notification("evt-9", "000.000.000", "DB"), nil)
	require.NoError(t, err)
	assert.Equal(t, ActionSettled, res.Action)
	assert.Empty(t, userTxns(t, f, "u1"))
	assert.Empty(t, f.granter.grants)

	sess, err := f.store.GetSession(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Version)
}

func TestHandleWebhook_Unmatched(t *testing.T) {
	f := newFixture(t, Config{Mode: ModeNone})
	res, err := f.d.HandleWebhook(context.Background(), []byte(`{"id":"evt-x","payload":{"merchantTransactionId":"missing","result":{"code":"000.000.000"}}}`), nil)
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Equal(t, ActionUnmatched, res.Action)
	assert.Empty(t, f.granter.grants)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    EventType
	}{
		{"explicit", map[string]any{"eventType": "Refund"}, EventRefund},
		{"success", map[string]any{"result": map[string]any{"code": "000.000.000"}}, EventPaymentSuccess},
		{"review counts as success", map[string]any{"result": map[string]any{"code": "000.400.000"}}, EventPaymentSuccess},
		{"failure", map[string]any{"result": map[string]any{"code": "800.100.151"}}, EventPaymentFailure},
		{"pending", map[string]any{"result": map[string]any{"code": "000.200.000"}}, EventUnknown},
		{"no code", map[string]any{"type": "REGISTRATION"}, EventUnknown},
		{"refund type", map[string]any{"payload": map[string]any{"paymentType": "RF", "result": map[string]any{"code": "000.000.000"}}}, EventRefund},
		{"chargeback code", map[string]any{"result": map[string]any{"code": "000.100.200"}}, EventChargeback},
		{"chargeback envelope", map[string]any{"type": "CHARGEBACK"}, EventChargeback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.payload))
		})
	}
}

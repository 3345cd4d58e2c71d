package store

import (
	"encoding/json"
	"net/http"

	"github.com/imrishuroy/go-cardpay-gateway/internal/result"
	"github.com/imrishuroy/go-cardpay-gateway/internal/transport"
)

// StatusFor maps a normalized outcome to a transaction status.
func StatusFor(o result.Outcome) string {
	switch {
	case o.Approved:
		return TxnApproved
	case o.Pending:
		return TxnPending
	default:
		return TxnDeclined
	}
}

var skippedHeaders = map[string]bool{
	"Set-Cookie":    true,
	"Authorization": true,
}

// RecordOutcome copies the gateway-derived fields onto t.
func (t *Transaction) RecordOutcome(o result.Outcome, resp *transport.Response, raw map[string]any) {
	t.Status = StatusFor(o)
	t.ResultCode = o.ResultCode
	t.Description = o.Description
	t.GatewayPaymentID = o.Details.GatewayID
	if resp != nil {
		t.ResponseHeaders = flattenHeaders(resp.Headers)
		t.RateLimitInfo = resp.RateLimit
		if t.IdempotencyKey == "" {
			t.IdempotencyKey = resp.IdempotencyKey
		}
	}
	if raw != nil {
		if b, err := json.Marshal(raw); err == nil {
			t.RawResponse = string(b)
		}
	}
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if skippedHeaders[http.CanonicalHeaderKey(k)] || len(v) == 0 {
			continue
		}
		out[k] = v[0]
	}
	return out
}

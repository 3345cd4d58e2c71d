package webhook

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-cardpay-gateway/internal/result"
)

// EventType is the dispatch class of a notification.
type EventType string

const (
	EventPaymentSuccess EventType = "payment.success"
	EventPaymentFailure EventType = "payment.failure"
	EventRefund         EventType = "refund"
	EventChargeback     EventType = "chargeback"
	EventUnknown        EventType = "unknown"
)

// Payment types that mark refunds and chargebacks in notification bodies.
const (
	paymentTypeRefund     = "RF"
	paymentTypeChargeback = "CB"
)

// event is a decoded notification on its way through dispatch.
type event struct {
	key      string
	typ      EventType
	envelope map[string]any
	// body is the payment object, envelope["payload"] when present.
	body      map[string]any
	outcome   result.Outcome
	orderID   string
	userID    string
	paymentID string
	amount    float64
	currency  string
}

func newEvent(payload map[string]any, headerKey string) *event {
	body := payload
	if inner, ok := payload["payload"].(map[string]any); ok {
		body = inner
	}
	ev := &event{
		envelope: payload,
		body:     body,
		outcome:  result.Normalize(body),
	}
	ev.key = idempotencyKey(headerKey, payload)
	ev.typ = Classify(payload)
	ev.orderID = ev.outcome.Details.MerchantTransactionID
	ev.paymentID = ev.outcome.Details.GatewayID
	ev.currency = strings.ToUpper(ev.outcome.Details.Currency)
	if a, err := decimal.NewFromString(ev.outcome.Details.Amount); err == nil {
		ev.amount = a.InexactFloat64()
	}
	ev.userID = userHint(body)
	return ev
}

// idempotencyKey prefers the header, then the envelope id, then the payment id.
func idempotencyKey(header string, payload map[string]any) string {
	if k := strings.TrimSpace(header); k != "" {
		return k
	}
	if k := strings.TrimSpace(str(payload["id"])); k != "" {
		return k
	}
	if inner, ok := payload["payload"].(map[string]any); ok {
		return strings.TrimSpace(str(inner["id"]))
	}
	return ""
}

// Classify maps a notification to its dispatch class. An explicit eventType
// wins; otherwise the payment type and result code decide.
func Classify(payload map[string]any) EventType {
	switch t := EventType(strings.ToLower(strings.TrimSpace(str(payload["eventType"])))); t {
	case EventPaymentSuccess, EventPaymentFailure, EventRefund, EventChargeback:
		return t
	}
	body := payload
	if inner, ok := payload["payload"].(map[string]any); ok {
		body = inner
	}
	kind := strings.ToLower(str(payload["type"]))
	pt := strings.ToUpper(str(body["paymentType"]))
	out := result.Normalize(body)
	switch {
	case pt == paymentTypeChargeback || out.Category == result.CategoryChargeback || strings.Contains(kind, "chargeback"):
		return EventChargeback
	case pt == paymentTypeRefund || strings.Contains(kind, "refund"):
		return EventRefund
	case out.Approved:
		return EventPaymentSuccess
	case out.Pending || out.ResultCode == "":
		return EventUnknown
	default:
		return EventPaymentFailure
	}
}

// userHint reads the user id the merchant attached to the payment, if any.
func userHint(body map[string]any) string {
	if cp, ok := body["customParameters"].(map[string]any); ok {
		for _, k := range []string{"userId", "SHOPPER_userId"} {
			if v := strings.TrimSpace(str(cp[k])); v != "" {
				return v
			}
		}
	}
	if cu, ok := body["customer"].(map[string]any); ok {
		return strings.TrimSpace(str(cu["merchantCustomerId"]))
	}
	return ""
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

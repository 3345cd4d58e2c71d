// Package result maps raw gateway responses to a canonical outcome.
package result

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Outcome is the normalized view of one gateway response. The redirect
// fields encode as null when there is no redirect.
type Outcome struct {
	Approved       bool              `json:"approved"`
	Pending        bool              `json:"pending"`
	Category       Category          `json:"category"`
	ResultCode     string            `json:"resultCode"`
	Description    string            `json:"description"`
	UIMessage      string            `json:"uiMessage"`
	RedirectURL    *string           `json:"redirectUrl"`
	RedirectParams map[string]string `json:"redirectParams"`
	Details        Details           `json:"details"`
}

// Details are identifiers and amounts echoed by the gateway.
type Details struct {
	GatewayID             string `json:"gatewayId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	PaymentType           string `json:"paymentType"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	RegistrationID        string `json:"registrationId"`
	CardBrand             string `json:"cardBrand"`
	CardLast4             string `json:"cardLast4"`
	CardExpiry            string `json:"cardExpiry"`
	NDC                   string `json:"ndc"`
}

// Normalize maps a decoded gateway response. A nil map yields an unknown outcome.
func Normalize(raw map[string]any) Outcome {
	code, desc := resultCode(raw)
	cat := Classify(code)
	out := Outcome{
		Approved:    cat == CategorySuccess || cat == CategoryReview,
		Pending:     cat == CategoryPending,
		Category:    cat,
		ResultCode:  code,
		Description: desc,
		UIMessage:   Message(code),
		Details:     details(raw),
	}
	out.RedirectURL, out.RedirectParams = redirect(raw)
	return out
}

// Decode parses a JSON gateway body and normalizes it.
func Decode(body []byte) (Outcome, map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Normalize(nil), nil, fmt.Errorf("decode gateway response: %w", err)
	}
	return Normalize(raw), raw, nil
}

func resultCode(raw map[string]any) (string, string) {
	res, ok := raw["result"].(map[string]any)
	if !ok {
		return "", ""
	}
	return str(res["code"]), str(res["description"])
}

func redirect(raw map[string]any) (*string, map[string]string) {
	r, ok := raw["redirect"].(map[string]any)
	if !ok {
		return nil, nil
	}
	var url *string
	if u := str(r["url"]); u != "" {
		url = &u
	}
	var params map[string]string
	switch p := r["parameters"].(type) {
	case []any:
		for _, item := range p {
			kv, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name := str(kv["name"])
			if name == "" {
				continue
			}
			if params == nil {
				params = map[string]string{}
			}
			params[name] = str(kv["value"])
		}
	case map[string]any:
		for k, v := range p {
			if params == nil {
				params = map[string]string{}
			}
			params[k] = str(v)
		}
	}
	return url, params
}

func details(raw map[string]any) Details {
	d := Details{
		GatewayID:             str(raw["id"]),
		MerchantTransactionID: str(raw["merchantTransactionId"]),
		PaymentType:           str(raw["paymentType"]),
		Amount:                str(raw["amount"]),
		Currency:              str(raw["currency"]),
		RegistrationID:        str(raw["registrationId"]),
		CardBrand:             str(raw["paymentBrand"]),
		NDC:                   str(raw["ndc"]),
	}
	if card, ok := raw["card"].(map[string]any); ok {
		d.CardLast4 = str(card["last4Digits"])
		m, y := str(card["expiryMonth"]), str(card["expiryYear"])
		if m != "" && y != "" {
			d.CardExpiry = m + "/" + y
		}
	}
	return d
}

// RedirectParamNames returns the redirect parameter names in a stable order.
func (o Outcome) RedirectParamNames() []string {
	names := make([]string, 0, len(o.RedirectParams))
	for k := range o.RedirectParams {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

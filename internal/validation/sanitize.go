package validation

import (
	"fmt"
	"net/http"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
)

// MaxPayloadDepth bounds nesting of decoded JSON payloads.
const MaxPayloadDepth = 32

var forbiddenKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// SanitizePayload returns a copy of p without prototype-pollution keys at any
// depth. Payloads nested deeper than MaxPayloadDepth are rejected.
func SanitizePayload(p map[string]any) (map[string]any, error) {
	out, err := sanitizeValue(p, 1)
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	return m, nil
}

func sanitizeValue(v any, depth int) (any, error) {
	if depth > MaxPayloadDepth {
		return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("payload nested deeper than %d levels", MaxPayloadDepth),
			apperr.WithStatus(http.StatusBadRequest))
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, bad := forbiddenKeys[k]; bad {
				continue
			}
			clean, err := sanitizeValue(val, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = clean
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			clean, err := sanitizeValue(val, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	default:
		return v, nil
	}
}

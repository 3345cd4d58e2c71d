package apperr

import (
	"errors"
	"fmt"
)

// Error codes callers can branch on.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeConfiguration        = "CONFIGURATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeVersionConflict      = "VERSION_CONFLICT"
	CodeAlreadyExists        = "ALREADY_EXISTS"
	CodeMissingCheckoutID    = "MISSING_CHECKOUT_ID"
	CodeCircuitOpen          = "CIRCUIT_OPEN"
	CodeGatewayUnavailable   = "GATEWAY_UNAVAILABLE"
	CodeGatewayTimeout       = "GATEWAY_TIMEOUT"
	CodeGatewayClientError   = "GATEWAY_CLIENT_ERROR"
	CodeRateLimited          = "RATE_LIMITED"
	CodeGatewayBadResponse   = "GATEWAY_BAD_RESPONSE"
	CodeRequestTooLarge      = "REQUEST_TOO_LARGE"
	CodeResponseTooLarge     = "RESPONSE_TOO_LARGE"
	CodeWebhookTooLarge      = "WEBHOOK_TOO_LARGE"
	CodeWebhookDecrypt       = "WEBHOOK_DECRYPT_FAILED"
	CodeWebhookSignature     = "WEBHOOK_SIGNATURE_INVALID"
	CodeWebhookPayload       = "WEBHOOK_PAYLOAD_INVALID"
	CodeWebhookMissingKey    = "WEBHOOK_MISSING_IDEMPOTENCY_KEY"
	CodeWebhookInProgress    = "WEBHOOK_IN_PROGRESS"
	CodeUpgradeChargeFailed  = "UPGRADE_CHARGE_FAILED"
	CodeUpgradeCancelFailed  = "UPGRADE_CANCEL_FAILED"
	CodeUpgradeCreateFailed  = "UPGRADE_CREATE_FAILED"
	CodeCompensationFailed   = "COMPENSATION_FAILED"
	CodePersistenceFailed    = "PERSISTENCE_FAILED"
	CodeTokenDeleteFailed    = "TOKEN_DELETE_FAILED"
	CodeScheduleCancelFailed = "SCHEDULE_CANCEL_FAILED"
)

// Error is the single error type surfaced by the payment core.
type Error struct {
	Code    string
	Message string
	Status  int
	Data    map[string]any
	Cause   error
}

// Option customises an Error built by New.
type Option func(*Error)

// WithStatus attaches an HTTP-ish status.
func WithStatus(status int) Option {
	return func(e *Error) { e.Status = status }
}

// WithData merges contextual fields into the error.
func WithData(data map[string]any) Option {
	return func(e *Error) {
		if len(data) == 0 {
			return
		}
		if e.Data == nil {
			e.Data = make(map[string]any, len(data))
		}
		for k, v := range data {
			e.Data[k] = v
		}
	}
}

// WithCause records the lower-level failure.
func WithCause(err error) Option {
	return func(e *Error) { e.Cause = err }
}

// New is the only constructor for Error.
func New(code, message string, opts ...Option) *Error {
	e := &Error{Code: code, Message: message}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code, so sentinels like
// apperr.New(apperr.CodeCircuitOpen, "") work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

// Retryable reports whether err is a transient transport failure.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeGatewayUnavailable, CodeGatewayTimeout:
		return true
	}
	return false
}

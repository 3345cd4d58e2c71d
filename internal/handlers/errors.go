package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
)

var codeStatus = map[string]int{
	apperr.CodeValidation:          http.StatusBadRequest,
	apperr.CodeMissingCheckoutID:   http.StatusBadRequest,
	apperr.CodeWebhookMissingKey:   http.StatusBadRequest,
	apperr.CodeWebhookPayload:      http.StatusBadRequest,
	apperr.CodeWebhookDecrypt:      http.StatusUnauthorized,
	apperr.CodeWebhookSignature:    http.StatusUnauthorized,
	apperr.CodeWebhookInProgress:   http.StatusConflict,
	apperr.CodeNotFound:            http.StatusNotFound,
	apperr.CodeAlreadyExists:       http.StatusConflict,
	apperr.CodeVersionConflict:     http.StatusConflict,
	apperr.CodeRequestTooLarge:     http.StatusRequestEntityTooLarge,
	apperr.CodeWebhookTooLarge:     http.StatusRequestEntityTooLarge,
	apperr.CodeRateLimited:         http.StatusTooManyRequests,
	apperr.CodeCircuitOpen:         http.StatusServiceUnavailable,
	apperr.CodeGatewayUnavailable:  http.StatusServiceUnavailable,
	apperr.CodeGatewayTimeout:      http.StatusGatewayTimeout,
	apperr.CodeGatewayClientError:  http.StatusBadGateway,
	apperr.CodeGatewayBadResponse:  http.StatusBadGateway,
	apperr.CodeResponseTooLarge:    http.StatusBadGateway,
	apperr.CodeTokenDeleteFailed:   http.StatusBadGateway,
	apperr.CodeUpgradeChargeFailed: http.StatusBadGateway,
}

func statusOf(e *apperr.Error) int {
	if e.Status >= 400 {
		return e.Status
	}
	if s, ok := codeStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// fail renders err. Errors that are not *apperr.Error are logged and hidden.
func (h *handler) fail(c *gin.Context, action string, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		h.log.Error(c.Request.Context(), logging.FlagTransport, action, "unexpected error", map[string]any{"error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	status := statusOf(e)
	if status >= http.StatusInternalServerError {
		h.log.Error(c.Request.Context(), logging.FlagTransport, action, e.Message, map[string]any{"code": e.Code, "error": err})
	}
	body := gin.H{"error": e.Code, "message": e.Message}
	if len(e.Data) > 0 {
		body["data"] = e.Data
	}
	c.JSON(status, body)
}

// Package handlers exposes the payment core over gin. Handlers only bind
// input and render results; all rules live in the core.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/payments"
	"github.com/imrishuroy/go-cardpay-gateway/internal/validation"
	"github.com/imrishuroy/go-cardpay-gateway/internal/webhook"
)

// HandlerConfig groups dependencies for the payment routes.
type HandlerConfig struct {
	Service *payments.Service
	Logger  *logging.Logger
	// WebhookMaxBodyBytes bounds how much of a webhook body is read.
	WebhookMaxBodyBytes int64
}

type handler struct {
	svc          *payments.Service
	log          *logging.Logger
	validate     *validatorv10.Validate
	maxHookBytes int64
}

// RegisterRoutes registers the checkout, S2S, webhook and subscription routes.
func RegisterRoutes(r gin.IRouter, cfg HandlerConfig) {
	h := &handler{
		svc:          cfg.Service,
		log:          cfg.Logger,
		validate:     validation.New(),
		maxHookBytes: cfg.WebhookMaxBodyBytes,
	}
	if h.log == nil {
		h.log = logging.Nop()
	}
	if h.maxHookBytes <= 0 {
		h.maxHookBytes = webhook.DefaultMaxBodyBytes
	}

	r.POST("/checkouts", h.createCheckout)
	r.GET("/checkouts/result", h.redirectCallback)
	r.POST("/checkouts/3ds", h.threeDSCallback)
	r.GET("/users/:userId/checkouts/:orderId", h.getSession)

	r.POST("/payments/:operation", h.runS2S)
	r.GET("/users/:userId/transactions", h.payeeHistory)
	r.GET("/beneficiaries/:beneficiaryId/transactions", h.beneficiaryHistory)

	r.POST("/webhooks", h.webhook)

	r.POST("/users/:userId/tokens", h.createToken)
	r.GET("/users/:userId/tokens", h.listTokens)
	r.DELETE("/users/:userId/tokens/:registrationId", h.deleteToken)
	r.POST("/users/:userId/schedules", h.createSchedule)
	r.DELETE("/users/:userId/schedules/:scheduleId", h.cancelSchedule)
	r.POST("/users/:userId/schedules/:scheduleId/upgrade", h.upgrade)
}

// bindJSON binds the body and writes a 400 when it is not valid JSON.
// Field rules are checked by the core.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request_body",
			"msg":   err.Error(),
		})
		return false
	}
	return true
}

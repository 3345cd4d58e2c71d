package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-cardpay-gateway/internal/gateway"
	"github.com/imrishuroy/go-cardpay-gateway/internal/subscription"
	"github.com/imrishuroy/go-cardpay-gateway/internal/transport"
)

func (h *handler) createToken(c *gin.Context) {
	var card gateway.Card
	if !bindJSON(c, &card) {
		return
	}
	tok, err := h.svc.Subscriptions.CreateRegistrationToken(c.Request.Context(), c.Param("userId"), card)
	if err != nil {
		h.fail(c, "token.create", err)
		return
	}
	c.JSON(http.StatusCreated, tok)
}

func (h *handler) listTokens(c *gin.Context) {
	tokens, err := h.svc.Subscriptions.ListRegistrationTokens(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.fail(c, "token.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (h *handler) deleteToken(c *gin.Context) {
	if err := h.svc.Subscriptions.DeleteRegistrationToken(c.Request.Context(), c.Param("userId"), c.Param("registrationId")); err != nil {
		h.fail(c, "token.delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) createSchedule(c *gin.Context) {
	var in subscription.ScheduleInput
	if !bindJSON(c, &in) {
		return
	}
	in.UserID = c.Param("userId")
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = c.GetHeader(transport.HeaderIdempotencyKey)
	}
	sch, err := h.svc.Subscriptions.CreateSubscriptionFromToken(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "schedule.create", err)
		return
	}
	c.JSON(http.StatusCreated, sch)
}

func (h *handler) cancelSchedule(c *gin.Context) {
	sch, err := h.svc.Subscriptions.CancelSubscription(c.Request.Context(), c.Param("userId"), c.Param("scheduleId"))
	if err != nil {
		h.fail(c, "schedule.cancel", err)
		return
	}
	c.JSON(http.StatusOK, sch)
}

func (h *handler) upgrade(c *gin.Context) {
	var in subscription.UpgradeInput
	if !bindJSON(c, &in) {
		return
	}
	in.UserID = c.Param("userId")
	in.OldScheduleID = c.Param("scheduleId")
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = c.GetHeader(transport.HeaderIdempotencyKey)
	}
	res, err := h.svc.Subscriptions.UpgradeSubscription(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "schedule.upgrade", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

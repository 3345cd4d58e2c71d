package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-cardpay-gateway/internal/s2s"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/transport"
)

type s2sFunc func(ctx context.Context, in s2s.Input) (*s2s.Result, error)

func (h *handler) s2sOperation(name string) (s2sFunc, bool) {
	ex := h.svc.S2S
	switch name {
	case "authorize":
		return ex.Authorize, true
	case "capture":
		return ex.Capture, true
	case "void":
		return ex.Void, true
	case "refund":
		return ex.Refund, true
	case "debit":
		return ex.Debit, true
	}
	return nil, false
}

// runS2S runs one server-to-server operation. An Idempotency-Key header is used
// when the body carries none.
func (h *handler) runS2S(c *gin.Context) {
	op, ok := h.s2sOperation(c.Param("operation"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_operation", "operation": c.Param("operation")})
		return
	}
	var in s2s.Input
	if !bindJSON(c, &in) {
		return
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = c.GetHeader(transport.HeaderIdempotencyKey)
	}
	res, err := op(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "s2s."+c.Param("operation"), err)
		return
	}
	status := http.StatusCreated
	if !res.Outcome.Approved && !res.Outcome.Pending {
		status = http.StatusPaymentRequired
	}
	c.JSON(status, res)
}

func historyQuery(c *gin.Context) (store.HistoryQuery, bool) {
	q := store.HistoryQuery{Cursor: c.Query("cursor"), OrderBy: c.Query("orderBy")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "msg": err.Error()})
			return q, false
		}
		q.Limit = n
	}
	return q, true
}

func (h *handler) payeeHistory(c *gin.Context) {
	q, ok := historyQuery(c)
	if !ok {
		return
	}
	page, err := h.svc.S2S.GetPayeeTransactionHistory(c.Request.Context(), c.Param("userId"), q)
	if err != nil {
		h.fail(c, "history.payee", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handler) beneficiaryHistory(c *gin.Context) {
	q, ok := historyQuery(c)
	if !ok {
		return
	}
	page, err := h.svc.S2S.GetBeneficiaryTransactionHistory(c.Request.Context(), c.Param("beneficiaryId"), q)
	if err != nil {
		h.fail(c, "history.beneficiary", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// webhook hands the raw body to the dispatcher. One byte past the limit is
// read so oversize bodies are rejected by the dispatcher, not truncated here.
func (h *handler) webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxHookBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}
	res, err := h.svc.Webhooks.HandleWebhook(c.Request.Context(), body, c.Request.Header)
	if err != nil {
		h.fail(c, "webhook.receive", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

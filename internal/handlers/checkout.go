package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-cardpay-gateway/internal/checkout"
	"github.com/imrishuroy/go-cardpay-gateway/internal/validation"
)

func (h *handler) createCheckout(c *gin.Context) {
	var req checkout.CreateSessionInput
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		// BindAndValidate already wrote a 400
		return
	}
	res, err := h.svc.Checkout.CreateCheckoutSession(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "checkout.create", err)
		return
	}
	c.Header("Location", "/users/"+req.UserID+"/checkouts/"+req.OrderID)
	c.JSON(http.StatusCreated, res)
}

func (h *handler) getSession(c *gin.Context) {
	sess, err := h.svc.Checkout.GetSession(c.Request.Context(), c.Param("userId"), c.Param("orderId"))
	if err != nil {
		h.fail(c, "checkout.get", err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// redirectCallback is where the hosted page sends the shopper back, with
// id and resourcePath in the query.
func (h *handler) redirectCallback(c *gin.Context) {
	params := flatten(c.Request.URL.Query())
	ref := params["resourcePath"]
	if ref == "" {
		ref = params["id"]
	}
	res, err := h.svc.Checkout.HandleRedirectCallback(c.Request.Context(), ref, params)
	if err != nil {
		h.fail(c, "checkout.callback", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// threeDSCallback accepts the issuer's form post (MD, PaRes) or a JSON body.
func (h *handler) threeDSCallback(c *gin.Context) {
	var cb checkout.ThreeDSCallback
	if c.ContentType() == gin.MIMEJSON {
		if !bindJSON(c, &cb) {
			return
		}
	} else {
		if err := c.Request.ParseForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}
		form := flatten(c.Request.Form)
		cb = checkout.ThreeDSCallback{
			MD:           form["MD"],
			PaRes:        form["PaRes"],
			CheckoutID:   form["id"],
			ResourcePath: form["resourcePath"],
			Params:       form,
		}
	}
	res, err := h.svc.Checkout.Handle3DSCallback(c.Request.Context(), cb)
	if err != nil {
		h.fail(c, "checkout.3ds_callback", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func flatten(v map[string][]string) map[string]string {
	out := make(map[string]string, len(v))
	for k, vals := range v {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}

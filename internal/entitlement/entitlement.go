// Package entitlement tells the product side which users gained or lost
// access because of a payment outcome.
package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
)

// Actions carried on published messages.
const (
	ActionGrant = "grant"
	ActionDeny  = "deny"
)

// Grant describes the payment behind an access change.
type Grant struct {
	UserID   string  `json:"userId"`
	OrderID  string  `json:"orderId"`
	TxnID    string  `json:"txnId,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Granter changes a user's access.
type Granter interface {
	GrantAccess(ctx context.Context, g Grant) error
	DenyAccess(ctx context.Context, g Grant) error
}

// Apply grants or denies through g and only logs failures: an entitlement
// problem never fails the payment flow that triggered it. A nil g is a no-op.
func Apply(ctx context.Context, g Granter, lg *logging.Logger, grant bool, gr Grant) {
	if g == nil {
		return
	}
	action := ActionDeny
	if grant {
		action = ActionGrant
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("entitlement panic: %v", r)
			}
		}()
		if grant {
			return g.GrantAccess(ctx, gr)
		}
		return g.DenyAccess(ctx, gr)
	}()
	if err != nil {
		lg.Error(ctx, logging.FlagEntitlement, action, "entitlement side effect failed", map[string]any{
			"userId":  gr.UserID,
			"orderId": gr.OrderID,
			"txnId":   gr.TxnID,
			"error":   err,
		})
		return
	}
	lg.Info(ctx, logging.FlagEntitlement, action, "entitlement updated", map[string]any{
		"userId":  gr.UserID,
		"orderId": gr.OrderID,
	})
}

type message struct {
	Action string    `json:"action"`
	Grant  Grant     `json:"grant"`
	At     time.Time `json:"at"`
}

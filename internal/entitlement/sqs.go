package entitlement

import (
	"context"
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/aws"
)

// SQSGranter publishes grant/deny messages for the access service to consume.
type SQSGranter struct {
	pub     *aws.Publisher
	nowFunc func() time.Time
}

var _ Granter = (*SQSGranter)(nil)

func NewSQSGranter(pub *aws.Publisher) *SQSGranter {
	return &SQSGranter{pub: pub, nowFunc: time.Now}
}

func (s *SQSGranter) GrantAccess(ctx context.Context, g Grant) error {
	return s.publish(ctx, ActionGrant, g)
}

func (s *SQSGranter) DenyAccess(ctx context.Context, g Grant) error {
	return s.publish(ctx, ActionDeny, g)
}

func (s *SQSGranter) publish(ctx context.Context, action string, g Grant) error {
	msg := message{Action: action, Grant: g, At: s.nowFunc().UTC()}
	dedup := g.TxnID
	if dedup == "" {
		dedup = g.OrderID
	}
	return s.pub.PublishJSON(ctx, msg, map[string]string{
		"action":    action,
		"user_id":   g.UserID,
		"dedup_key": action + ":" + dedup,
	})
}

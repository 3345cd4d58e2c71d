package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsFinalSession reports whether a session status can no longer change.
func IsFinalSession(status string) bool {
	switch status {
	case SessionCompleted, SessionFailed, SessionExpired:
		return true
	}
	return false
}

// SaveSession creates a session at version 1. Existing sessions for the same
// user and order are never overwritten.
func (s *DynamoStore) SaveSession(ctx context.Context, sess *CheckoutSession) error {
	now := s.now()
	sess.PK = UserPK(sess.UserID)
	sess.SK = sessionSK(sess.OrderID)
	sess.GSI1PK = orderGSIPK(sess.OrderID)
	sess.GSI1SK = sessionGSISK
	if sess.Version == 0 {
		sess.Version = 1
	}
	if sess.Status == "" {
		sess.Status = SessionPending
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	created, err := s.putNew(ctx, sess)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if !created {
		return alreadyExists("session", sess.SK)
	}
	return nil
}

// GetSession returns (nil, nil) when the session does not exist.
func (s *DynamoStore) GetSession(ctx context.Context, userID, orderID string) (*CheckoutSession, error) {
	var sess CheckoutSession
	ok, err := s.get(ctx, UserPK(userID), sessionSK(orderID), &sess)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// GetSessionByOrder finds a session through GSI1 when only the order id is known,
// as on a redirect callback. Returns (nil, nil) when none exists.
func (s *DynamoStore) GetSessionByOrder(ctx context.Context, orderID string) (*CheckoutSession, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(GSI1Name),
		KeyConditionExpression: awsString("GSI1PK = :pk AND GSI1SK = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: orderGSIPK(orderID)},
			":sk": &types.AttributeValueMemberS{Value: sessionGSISK},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query session by order: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var sess CheckoutSession
	if err := attributevalue.UnmarshalMap(out.Items[0], &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// UpdateSession applies upd if the stored version equals upd.ExpectedVersion and
// returns the session as written. A stale version yields VERSION_CONFLICT.
func (s *DynamoStore) UpdateSession(ctx context.Context, userID, orderID string, upd SessionUpdate) (*CheckoutSession, error) {
	set := map[string]types.AttributeValue{
		"updated_at": marshalTime(s.now()),
	}
	if upd.Status != "" {
		set["status"] = &types.AttributeValueMemberS{Value: upd.Status}
	}
	if upd.GatewayCheckoutID != "" {
		set["gateway_checkout_id"] = &types.AttributeValueMemberS{Value: upd.GatewayCheckoutID}
	}
	var sess CheckoutSession
	if err := s.updateVersioned(ctx, UserPK(userID), sessionSK(orderID), upd.ExpectedVersion, set, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *DynamoStore) DeleteSession(ctx context.Context, userID, orderID string) error {
	if err := s.delete(ctx, UserPK(userID), sessionSK(orderID)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

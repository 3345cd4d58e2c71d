package store

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
)

// SaveWebhook records an inbound event. It reports created=false when an event
// with the same idempotency key was stored before. A created event is claimed
// by the caller: attempt 1, claimed now.
func (s *DynamoStore) SaveWebhook(ctx context.Context, e *WebhookEvent) (bool, error) {
	if strings.TrimSpace(e.IdempotencyKey) == "" {
		return false, apperr.New(apperr.CodeWebhookMissingKey, "webhook idempotency key is required",
			apperr.WithStatus(http.StatusBadRequest))
	}
	e.PK = webhookPK(e.IdempotencyKey)
	e.SK = webhookSK
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.Attempts = 1
	e.ClaimedAt = e.CreatedAt
	created, err := s.putNew(ctx, e)
	if err != nil {
		return false, fmt.Errorf("save webhook: %w", err)
	}
	return created, nil
}

func (s *DynamoStore) GetWebhook(ctx context.Context, key string) (*WebhookEvent, error) {
	var e WebhookEvent
	ok, err := s.get(ctx, webhookPK(key), webhookSK, &e)
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// ClaimWebhook takes over dispatch of an unhandled event. The update is
// guarded on the attempt count the caller read, so of two deliveries that saw
// the same record only one wins.
func (s *DynamoStore) ClaimWebhook(ctx context.Context, key string, seenAttempts int) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 itemKey(webhookPK(key), webhookSK),
		UpdateExpression:    awsString("SET attempts = attempts + :one, claimed_at = :now"),
		ConditionExpression: awsString("attribute_exists(PK) AND handled = :f AND attempts = :seen"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":  &types.AttributeValueMemberN{Value: "1"},
			":now":  marshalTime(s.now()),
			":f":    &types.AttributeValueMemberBOOL{Value: false},
			":seen": &types.AttributeValueMemberN{Value: strconv.Itoa(seenAttempts)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("claim webhook: %w", err)
	}
	return true, nil
}

// ReleaseWebhook ends claim attempt early so the next delivery can take the
// event over at once. A claim that has since moved on is left alone.
func (s *DynamoStore) ReleaseWebhook(ctx context.Context, key string, attempt int) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 itemKey(webhookPK(key), webhookSK),
		UpdateExpression:    awsString("SET claimed_at = :zero"),
		ConditionExpression: awsString("attribute_exists(PK) AND handled = :f AND attempts = :mine"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": marshalTime(time.Time{}),
			":f":    &types.AttributeValueMemberBOOL{Value: false},
			":mine": &types.AttributeValueMemberN{Value: strconv.Itoa(attempt)},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("release webhook: %w", err)
	}
	return nil
}

// MarkWebhookHandled flags the event as handled and records what was done.
func (s *DynamoStore) MarkWebhookHandled(ctx context.Context, key, action string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 itemKey(webhookPK(key), webhookSK),
		UpdateExpression:    awsString("SET handled = :h, action_taken = :a, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h":  &types.AttributeValueMemberBOOL{Value: true},
			":a":  &types.AttributeValueMemberS{Value: action},
			":ua": marshalTime(s.now()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return notFound("webhook", webhookPK(key))
		}
		return fmt.Errorf("mark webhook handled: %w", err)
	}
	return nil
}

// Package store persists checkout sessions, transactions, registration tokens,
// schedules and webhook events in a single DynamoDB table.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/aws"
)

// SessionStore persists checkout sessions.
type SessionStore interface {
	SaveSession(ctx context.Context, s *CheckoutSession) error
	GetSession(ctx context.Context, userID, orderID string) (*CheckoutSession, error)
	GetSessionByOrder(ctx context.Context, orderID string) (*CheckoutSession, error)
	UpdateSession(ctx context.Context, userID, orderID string, upd SessionUpdate) (*CheckoutSession, error)
	DeleteSession(ctx context.Context, userID, orderID string) error
}

// TransactionStore persists write-once transaction records.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, userID, txnID string) (*Transaction, error)
	UpdateTransactionStatus(ctx context.Context, userID, txnID, status string) error
	SaveRefund(ctx context.Context, refund *Transaction, originalTxnID string) error
	GetPayeeTransactionHistory(ctx context.Context, userID string, q HistoryQuery) (*HistoryPage, error)
	GetBeneficiaryTransactionHistory(ctx context.Context, beneficiaryID string, q HistoryQuery) (*HistoryPage, error)
}

// TokenStore persists registration tokens.
type TokenStore interface {
	SaveToken(ctx context.Context, t *RegistrationToken) error
	GetToken(ctx context.Context, userID, registrationID string) (*RegistrationToken, error)
	ListTokens(ctx context.Context, userID string) ([]RegistrationToken, error)
	DeleteToken(ctx context.Context, userID, registrationID string) error
}

// ScheduleStore persists recurring schedules.
type ScheduleStore interface {
	SaveSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, userID, scheduleID string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, userID, scheduleID string, upd ScheduleUpdate) (*Schedule, error)
}

// WebhookStore persists inbound webhook events.
type WebhookStore interface {
	SaveWebhook(ctx context.Context, e *WebhookEvent) (created bool, err error)
	GetWebhook(ctx context.Context, key string) (*WebhookEvent, error)
	ClaimWebhook(ctx context.Context, key string, seenAttempts int) (bool, error)
	ReleaseWebhook(ctx context.Context, key string, attempt int) error
	MarkWebhookHandled(ctx context.Context, key, action string) error
}

// Store is everything the payment core persists.
type Store interface {
	SessionStore
	TransactionStore
	TokenStore
	ScheduleStore
	WebhookStore
}

// DynamoStore implements Store on one DynamoDB table.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore returns a store bound to tableName.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *DynamoStore) WithClock(now func() time.Time) *DynamoStore {
	s.nowFunc = now
	return s
}

func (s *DynamoStore) now() time.Time { return s.nowFunc().UTC() }

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

// putNew writes item only if no item with the same key exists.
// It reports false when the key is already taken.
func (s *DynamoStore) putNew(ctx context.Context, v any) (bool, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return false, fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// get loads one item into out. It reports false when the item is missing.
func (s *DynamoStore) get(ctx context.Context, pk, sk string, out any) (bool, error) {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            itemKey(pk, sk),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get item: %w", err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal item: %w", err)
	}
	return true, nil
}

func (s *DynamoStore) delete(ctx context.Context, pk, sk string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       itemKey(pk, sk),
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// updateVersioned applies a SET update guarded by the item's version.
// On a failed condition it distinguishes a missing item from a stale version.
func (s *DynamoStore) updateVersioned(ctx context.Context, pk, sk string, expected int, set map[string]types.AttributeValue, out any) error {
	names := map[string]string{"#version": "version"}
	values := map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expected)},
		":one":      &types.AttributeValueMemberN{Value: "1"},
	}
	expr := "SET #version = #version + :one"
	i := 0
	for attr, v := range set {
		i++
		n := fmt.Sprintf("#f%d", i)
		p := fmt.Sprintf(":f%d", i)
		names[n] = attr
		values[p] = v
		expr += ", " + n + " = " + p
	}

	res, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                           &s.tableName,
		Key:                                 itemKey(pk, sk),
		UpdateExpression:                    &expr,
		ConditionExpression:                 awsString("attribute_exists(PK) AND #version = :expected"),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return apperr.New(apperr.CodeNotFound, "item not found",
					apperr.WithStatus(http.StatusNotFound),
					apperr.WithData(map[string]any{"pk": pk, "sk": sk}))
			}
			var current struct {
				Version int `dynamodbav:"version"`
			}
			_ = attributevalue.UnmarshalMap(ccf.Item, &current)
			return apperr.New(apperr.CodeVersionConflict, "item was modified concurrently",
				apperr.WithStatus(http.StatusConflict),
				apperr.WithData(map[string]any{"pk": pk, "sk": sk, "expectedVersion": expected, "currentVersion": current.Version}))
		}
		if isConditionFailed(err) {
			return apperr.New(apperr.CodeVersionConflict, "item was modified concurrently",
				apperr.WithStatus(http.StatusConflict),
				apperr.WithData(map[string]any{"pk": pk, "sk": sk, "expectedVersion": expected}))
		}
		return fmt.Errorf("update item: %w", err)
	}
	if out != nil {
		if err := attributevalue.UnmarshalMap(res.Attributes, out); err != nil {
			return fmt.Errorf("unmarshal updated item: %w", err)
		}
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func marshalTime(t time.Time) types.AttributeValue {
	av, err := attributevalue.Marshal(t)
	if err != nil {
		return &types.AttributeValueMemberS{Value: t.Format(time.RFC3339Nano)}
	}
	return av
}

func alreadyExists(what, key string) error {
	return apperr.New(apperr.CodeAlreadyExists, what+" already exists",
		apperr.WithStatus(http.StatusConflict),
		apperr.WithData(map[string]any{"key": key}))
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

func awsInt32(i int32) *int32 { return &i }

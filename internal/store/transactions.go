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
	"github.com/google/uuid"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
)

// NewTxnID returns a time-ordered id so sort keys follow creation order.
func NewTxnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// StatusIndexValue is the composite "{status}#{createdAt}" attribute.
func StatusIndexValue(status string, createdAt time.Time) string {
	return status + "#" + createdAt.UTC().Format(time.RFC3339Nano)
}

// prepareTransaction fills keys and derived attributes before the first write.
func (s *DynamoStore) prepareTransaction(t *Transaction) {
	if t.TxnID == "" {
		t.TxnID = NewTxnID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	// beneficiary and recipient are the same party under two names
	if t.BeneficiaryID == "" {
		t.BeneficiaryID = t.RecipientID
	}
	t.RecipientID = t.BeneficiaryID

	t.PK = UserPK(t.UserID)
	t.SK = txnSK(t.TxnID)
	if t.BeneficiaryID != "" {
		t.GSI1PK = beneficiaryPK(t.BeneficiaryID)
		t.GSI1SK = t.SK
	}
	t.StatusIndexValue = StatusIndexValue(t.Status, t.CreatedAt)
}

// SaveTransaction writes t exactly once. A second write of the same txn id
// fails with ALREADY_EXISTS.
func (s *DynamoStore) SaveTransaction(ctx context.Context, t *Transaction) error {
	s.prepareTransaction(t)
	created, err := s.putNew(ctx, t)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	if !created {
		return alreadyExists("transaction", t.SK)
	}
	return nil
}

// GetTransaction returns (nil, nil) when the transaction does not exist.
func (s *DynamoStore) GetTransaction(ctx context.Context, userID, txnID string) (*Transaction, error) {
	var t Transaction
	ok, err := s.get(ctx, UserPK(userID), txnSK(txnID), &t)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *DynamoStore) statusUpdate(orig *Transaction, status string) *types.Update {
	return &types.Update{
		TableName:           &s.tableName,
		Key:                 itemKey(orig.PK, orig.SK),
		UpdateExpression:    awsString("SET #status = :status, status_index_value = :siv, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
			":siv":    &types.AttributeValueMemberS{Value: StatusIndexValue(status, orig.CreatedAt)},
			":ua":     marshalTime(s.now()),
		},
	}
}

func notFound(what, key string) error {
	return apperr.New(apperr.CodeNotFound, what+" not found",
		apperr.WithStatus(http.StatusNotFound),
		apperr.WithData(map[string]any{"key": key}))
}

// UpdateTransactionStatus is the only mutation allowed on a written transaction.
func (s *DynamoStore) UpdateTransactionStatus(ctx context.Context, userID, txnID, status string) error {
	orig, err := s.GetTransaction(ctx, userID, txnID)
	if err != nil {
		return err
	}
	if orig == nil {
		return notFound("transaction", txnSK(txnID))
	}
	u := s.statusUpdate(orig, status)
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 u.TableName,
		Key:                       u.Key,
		UpdateExpression:          u.UpdateExpression,
		ConditionExpression:       u.ConditionExpression,
		ExpressionAttributeNames:  u.ExpressionAttributeNames,
		ExpressionAttributeValues: u.ExpressionAttributeValues,
	})
	if err != nil {
		if isConditionFailed(err) {
			return notFound("transaction", txnSK(txnID))
		}
		return fmt.Errorf("update transaction status: %w", err)
	}
	return nil
}

// SaveRefund writes the refund record and flips the original transaction to
// refunded in one TransactWriteItems call. With no original id it is a plain
// SaveTransaction.
func (s *DynamoStore) SaveRefund(ctx context.Context, refund *Transaction, originalTxnID string) error {
	if originalTxnID == "" {
		return s.SaveTransaction(ctx, refund)
	}
	orig, err := s.GetTransaction(ctx, refund.UserID, originalTxnID)
	if err != nil {
		return err
	}
	if orig == nil {
		return notFound("transaction", txnSK(originalTxnID))
	}

	s.prepareTransaction(refund)
	item, err := attributevalue.MarshalMap(refund)
	if err != nil {
		return fmt.Errorf("marshal refund: %w", err)
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                item,
					ConditionExpression: awsString("attribute_not_exists(PK)"),
				},
			},
			{Update: s.statusUpdate(orig, TxnRefunded)},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return apperr.New(apperr.CodeVersionConflict, "refund write was cancelled",
				apperr.WithStatus(http.StatusConflict),
				apperr.WithCause(err),
				apperr.WithData(map[string]any{"originalTxnId": originalTxnID}))
		}
		return fmt.Errorf("transact refund: %w", err)
	}
	return nil
}

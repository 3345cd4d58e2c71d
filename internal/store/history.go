package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
)

// GetPayeeTransactionHistory pages through transactions the user paid.
func (s *DynamoStore) GetPayeeTransactionHistory(ctx context.Context, userID string, q HistoryQuery) (*HistoryPage, error) {
	return s.history(ctx, "", attrPK, attrSK, UserPK(userID), q)
}

// GetBeneficiaryTransactionHistory pages through transactions paid to beneficiaryID.
func (s *DynamoStore) GetBeneficiaryTransactionHistory(ctx context.Context, beneficiaryID string, q HistoryQuery) (*HistoryPage, error) {
	return s.history(ctx, GSI1Name, attrGSI1PK, attrGSI1SK, beneficiaryPK(beneficiaryID), q)
}

func normalizeQuery(q HistoryQuery) (HistoryQuery, error) {
	if q.Limit < 0 {
		return q, apperr.New(apperr.CodeValidation, "limit must not be negative",
			apperr.WithStatus(http.StatusBadRequest),
			apperr.WithData(map[string]any{"limit": q.Limit}))
	}
	if q.Limit == 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
	switch strings.ToLower(q.OrderBy) {
	case "", OrderDesc:
		q.OrderBy = OrderDesc
	case OrderAsc:
		q.OrderBy = OrderAsc
	default:
		return q, apperr.New(apperr.CodeValidation, "orderBy must be asc or desc",
			apperr.WithStatus(http.StatusBadRequest),
			apperr.WithData(map[string]any{"orderBy": q.OrderBy}))
	}
	return q, nil
}

// history reads one page. It asks for one item more than the page size so
// HasMore is exact, and builds the cursor from the last item it returns.
func (s *DynamoStore) history(ctx context.Context, index, pkAttr, skAttr, pk string, q HistoryQuery) (*HistoryPage, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}
	start, err := DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}

	want := q.Limit + 1
	var items []map[string]types.AttributeValue
	for len(items) < want {
		in := &dyn.QueryInput{
			TableName:              &s.tableName,
			KeyConditionExpression: awsString(fmt.Sprintf("%s = :pk AND begins_with(%s, :prefix)", pkAttr, skAttr)),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pk},
				":prefix": &types.AttributeValueMemberS{Value: prefixTxn},
			},
			ScanIndexForward:  awsBool(q.OrderBy == OrderAsc),
			Limit:             awsInt32(int32(want - len(items))),
			ExclusiveStartKey: start,
		}
		if index != "" {
			in.IndexName = awsString(index)
		}
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query history: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	page := &HistoryPage{}
	if len(items) > q.Limit {
		page.HasMore = true
		items = items[:q.Limit]
	}
	if err := attributevalue.UnmarshalListOfMaps(items, &page.Transactions); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if page.Transactions == nil {
		page.Transactions = []Transaction{}
	}
	page.Count = len(page.Transactions)
	if page.HasMore {
		last := items[len(items)-1]
		keyAttrs := []string{attrPK, attrSK}
		if index != "" {
			keyAttrs = append(keyAttrs, attrGSI1PK, attrGSI1SK)
		}
		page.NextCursor, err = EncodeCursor(pick(last, keyAttrs))
		if err != nil {
			return nil, err
		}
	}
	return page, nil
}

func pick(item map[string]types.AttributeValue, attrs []string) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(attrs))
	for _, a := range attrs {
		if v, ok := item[a]; ok {
			out[a] = v
		}
	}
	return out
}

// EncodeCursor turns a DynamoDB key into an opaque base64url string.
// All key attributes of the table are strings.
func EncodeCursor(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	plain := make(map[string]string, len(key))
	for k, v := range key {
		sv, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("encode cursor: key attribute %s is not a string", k)
		}
		plain[k] = sv.Value
	}
	b, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor reverses EncodeCursor. An empty cursor means the first page.
func DecodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	invalid := func(err error) error {
		return apperr.New(apperr.CodeValidation, "invalid cursor",
			apperr.WithStatus(http.StatusBadRequest),
			apperr.WithCause(err))
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, invalid(err)
	}
	var plain map[string]string
	if err := json.Unmarshal(b, &plain); err != nil {
		return nil, invalid(err)
	}
	if plain[attrPK] == "" || plain[attrSK] == "" {
		return nil, invalid(fmt.Errorf("cursor missing table key"))
	}
	key := make(map[string]types.AttributeValue, len(plain))
	for k, v := range plain {
		key[k] = &types.AttributeValueMemberS{Value: v}
	}
	return key, nil
}

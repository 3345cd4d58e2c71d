package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SaveToken stores a registration token, replacing any earlier copy.
func (s *DynamoStore) SaveToken(ctx context.Context, t *RegistrationToken) error {
	t.PK = UserPK(t.UserID)
	t.SK = tokenSK(t.RegistrationID)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetToken(ctx context.Context, userID, registrationID string) (*RegistrationToken, error) {
	var t RegistrationToken
	ok, err := s.get(ctx, UserPK(userID), tokenSK(registrationID), &t)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// ListTokens returns every stored token of the user.
func (s *DynamoStore) ListTokens(ctx context.Context, userID string) ([]RegistrationToken, error) {
	var (
		tokens []RegistrationToken
		start  map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			KeyConditionExpression: awsString("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: UserPK(userID)},
				":prefix": &types.AttributeValueMemberS{Value: prefixToken},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("list tokens: %w", err)
		}
		var page []RegistrationToken
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal tokens: %w", err)
		}
		tokens = append(tokens, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return tokens, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (s *DynamoStore) DeleteToken(ctx context.Context, userID, registrationID string) error {
	if err := s.delete(ctx, UserPK(userID), tokenSK(registrationID)); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

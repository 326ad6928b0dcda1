package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"forumsearch/application/ports"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// kvItem is the table layout. ExpiresAt is the table's TTL attribute.
type kvItem struct {
	PK        string `dynamodbav:"PK"`
	Value     []byte `dynamodbav:"Value,omitempty"`
	Count     *int64 `dynamodbav:"Count,omitempty"`
	ExpiresAt int64  `dynamodbav:"ExpiresAt,omitempty"`
}

// DynamoDBStore is a shared store backed by a DynamoDB table keyed by PK.
// DynamoDB deletes expired items lazily, so expiry is also checked on read.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
}

// NewDynamoDBStore creates a DynamoDB-backed store
func NewDynamoDBStore(client DynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// WithClock replaces the clock used for expiry checks
func (s *DynamoDBStore) WithClock(now func() time.Time) *DynamoDBStore {
	s.now = now
	return s
}

func itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "KV#" + key},
	}
}

func (s *DynamoDBStore) expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Unix() + int64(ttlSeconds(ttl))
}

func (s *DynamoDBStore) expired(item kvItem) bool {
	return item.ExpiresAt != 0 && s.now().Unix() >= item.ExpiresAt
}

// Get retrieves a value. Counters are returned as decimal text.
func (s *DynamoDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dynamodb get %q: %v", ports.ErrUnavailable, key, err)
	}
	if out.Item == nil {
		return nil, ports.ErrNotFound
	}

	var item kvItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("dynamodb get %q: unmarshal: %w", key, err)
	}
	if s.expired(item) {
		return nil, ports.ErrNotFound
	}
	if item.Count != nil {
		return []byte(strconv.FormatInt(*item.Count, 10)), nil
	}
	return item.Value, nil
}

// Set stores a value. A ttl of zero stores without expiry.
func (s *DynamoDBStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	av, err := attributevalue.MarshalMap(kvItem{
		PK:        "KV#" + key,
		Value:     value,
		ExpiresAt: s.expiresAt(ttl),
	})
	if err != nil {
		return fmt.Errorf("dynamodb set %q: marshal: %w", key, err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("%w: dynamodb set %q: %v", ports.ErrUnavailable, key, err)
	}
	return nil
}

// Delete removes a value
func (s *DynamoDBStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(key),
	}); err != nil {
		return fmt.Errorf("%w: dynamodb delete %q: %v", ports.ErrUnavailable, key, err)
	}
	return nil
}

// Incr atomically adds one to Count. The expiry is set only when the item
// is created. An item that expired but was not yet swept restarts at 1.
func (s *DynamoDBStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	update := expression.Add(expression.Name("Count"), expression.Value(1))
	if exp := s.expiresAt(ttl); exp != 0 {
		update = update.Set(expression.Name("ExpiresAt"),
			expression.IfNotExists(expression.Name("ExpiresAt"), expression.Value(exp)))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return 0, fmt.Errorf("dynamodb incr %q: build expression: %w", key, err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       itemKey(key),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: dynamodb incr %q: %v", ports.ErrUnavailable, key, err)
	}

	var item kvItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return 0, fmt.Errorf("dynamodb incr %q: unmarshal: %w", key, err)
	}

	if s.expired(item) {
		one := int64(1)
		av, err := attributevalue.MarshalMap(kvItem{
			PK:        "KV#" + key,
			Count:     &one,
			ExpiresAt: s.expiresAt(ttl),
		})
		if err != nil {
			return 0, fmt.Errorf("dynamodb incr %q: marshal: %w", key, err)
		}
		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      av,
		}); err != nil {
			return 0, fmt.Errorf("%w: dynamodb incr %q: %v", ports.ErrUnavailable, key, err)
		}
		return 1, nil
	}

	if item.Count == nil {
		return 0, fmt.Errorf("dynamodb incr %q: missing Count attribute", key)
	}
	return *item.Count, nil
}

// Ping checks that the table is reachable
func (s *DynamoDBStore) Ping(ctx context.Context) error {
	if _, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	}); err != nil {
		return fmt.Errorf("%w: dynamodb describe %q: %v", ports.ErrUnavailable, s.tableName, err)
	}
	return nil
}

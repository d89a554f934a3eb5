package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
)

// DynamoDBKVStore implements the core.KVStore interface using AWS DynamoDB.
// The table needs a string partition key named "key".
type DynamoDBKVStore struct {
	client    *dynamodb.Client
	tableName string
	closed    atomic.Bool
}

// NewDynamoDBKVStore creates a new DynamoDB KV store implementation.
func NewDynamoDBKVStore(region, tableName, endpoint, accessKeyID, secretAccessKey string) (*DynamoDBKVStore, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if accessKeyID != "" && secretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
	}

	clientOptions := []func(*dynamodb.Options){}
	if endpoint != "" {
		// Custom endpoint (e.g., for LocalStack)
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	client := dynamodb.NewFromConfig(cfg, clientOptions...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", tableName, err)
	}

	logging.Info().Str("component", "dynamodb").Str("table", tableName).Str("region", region).Msg("Connected to local store")
	return &DynamoDBKVStore{client: client, tableName: tableName}, nil
}

func itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key": &types.AttributeValueMemberS{Value: key},
	}
}

// itemExpired reports whether the item's ttl attribute has passed. DynamoDB
// removes expired items lazily, so reads must check it themselves.
func itemExpired(item map[string]types.AttributeValue, now time.Time) bool {
	ttlAttr, ok := item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlAttr.Value, 10, 64)
	if err != nil {
		return false
	}
	return now.Unix() > ttl
}

func itemValue(item map[string]types.AttributeValue) ([]byte, bool) {
	v, ok := item["value"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, false
	}
	return v.Value, true
}

func (d *DynamoDBKVStore) putItem(key string, value []byte, ttl time.Duration) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"key":        &types.AttributeValueMemberS{Value: key},
		"value":      &types.AttributeValueMemberB{Value: value},
		"created_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	if ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)}
	}
	return item
}

// Get retrieves a value by key from the store.
func (d *DynamoDBKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if d.closed.Load() {
		return nil, errClosed
	}

	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		logging.Error().Str("component", "dynamodb").Str("key", key).Err(err).Msg("GetItem failed")
		return nil, unavailable("get", key, err)
	}
	if result.Item == nil || itemExpired(result.Item, time.Now()) {
		return nil, notFound(key)
	}

	value, ok := itemValue(result.Item)
	if !ok {
		return nil, unavailable("get", key, fmt.Errorf("value attribute missing or not binary"))
	}
	return value, nil
}

// Set stores a key-value pair with an optional TTL.
func (d *DynamoDBKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if d.closed.Load() {
		return errClosed
	}

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      d.putItem(key, value, ttl),
	})
	if err != nil {
		logging.Error().Str("component", "dynamodb").Str("key", key).Err(err).Msg("PutItem failed")
		return unavailable("set", key, err)
	}
	return nil
}

// Delete removes a key from the store.
func (d *DynamoDBKVStore) Delete(ctx context.Context, key string) error {
	if d.closed.Load() {
		return errClosed
	}

	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       itemKey(key),
	})
	if err != nil {
		return unavailable("delete", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (d *DynamoDBKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if d.closed.Load() {
		return false, errClosed
	}

	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(d.tableName),
		Key:                      itemKey(key),
		ProjectionExpression:     aws.String("#k, #t"),
		ExpressionAttributeNames: map[string]string{"#k": "key", "#t": "ttl"},
		ConsistentRead:           aws.Bool(true),
	})
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return result.Item != nil && !itemExpired(result.Item, time.Now()), nil
}

// BatchSet stores multiple key-value pairs with a shared TTL.
// DynamoDB offers no atomic multi-item put outside transactions, so items
// are written with TransactWriteItems in groups of 100.
func (d *DynamoDBKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if d.closed.Load() {
		return errClosed
	}
	if len(items) == 0 {
		return nil
	}

	const maxTransactItems = 100
	writes := make([]types.TransactWriteItem, 0, len(items))
	for key, value := range items {
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(d.tableName),
				Item:      d.putItem(key, value, ttl),
			},
		})
	}

	for i := 0; i < len(writes); i += maxTransactItems {
		end := i + maxTransactItems
		if end > len(writes) {
			end = len(writes)
		}
		_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: writes[i:end],
		})
		if err != nil {
			return unavailable("batch set", fmt.Sprintf("(%d keys)", len(items)), err)
		}
	}
	return nil
}

// Scan pages through the table with a begins_with filter on the key.
func (d *DynamoDBKVStore) Scan(ctx context.Context, prefix string) ([]core.KeyValue, error) {
	if d.closed.Load() {
		return nil, errClosed
	}

	input := &dynamodb.ScanInput{
		TableName:      aws.String(d.tableName),
		ConsistentRead: aws.Bool(true),
	}
	if prefix != "" {
		input.FilterExpression = aws.String("begins_with(#k, :p)")
		input.ExpressionAttributeNames = map[string]string{"#k": "key"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: prefix},
		}
	}

	now := time.Now()
	out := make([]core.KeyValue, 0)
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, unavailable("scan", prefix, err)
		}
		for _, item := range page.Items {
			if itemExpired(item, now) {
				continue
			}
			k, ok := item["key"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			v, ok := itemValue(item)
			if !ok {
				continue
			}
			out = append(out, core.KeyValue{Key: k.Value, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close marks the store closed. The SDK client holds no connection to release.
func (d *DynamoDBKVStore) Close() error {
	d.closed.Store(true)
	return nil
}

// DynamoDBKVStoreFactory implements the KVStoreFactory interface for DynamoDB.
type DynamoDBKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *DynamoDBKVStoreFactory) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB-specific configuration.
func (f *DynamoDBKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	}
	if config.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if config.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	return nil
}

// Create creates a new DynamoDB KV store instance based on the provided configuration.
func (f *DynamoDBKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	dynamoStore, err := NewDynamoDBKVStore(
		config.Region,
		config.TableName,
		config.Endpoint,
		config.AccessKeyID,
		config.SecretAccessKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB KV store: %w", err)
	}
	return dynamoStore, nil
}

func init() {
	RegisterFactory(&DynamoDBKVStoreFactory{})
}

package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/rzpsarthak13/opqueue/internal/config"
	"github.com/rzpsarthak13/opqueue/internal/core"
)

// Attribute names of a cache item.
const (
	attrKey       = "key"
	attrValue     = "value"
	attrTTL       = "ttl"
	attrCreatedAt = "created_at"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBKVStore implements core.KVStore on a DynamoDB table keyed by "key".
// Expiry uses the table's TTL attribute; reads ignore items past their TTL
// before DynamoDB removes them.
type DynamoDBKVStore struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
	closed    atomic.Bool
	log       *slog.Logger
}

// DynamoDBOptions configures a DynamoDBKVStore.
type DynamoDBOptions struct {
	Region          string
	TableName       string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	MaxRetries      int
	DialTimeout     time.Duration
}

// NewDynamoDBKVStore loads the AWS configuration and checks that the table exists.
func NewDynamoDBKVStore(opts DynamoDBOptions) (*DynamoDBKVStore, error) {
	if opts.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if opts.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.MaxRetries > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(opts.MaxRetries))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")
	}

	var clientOpts []func(*dynamodb.Options)
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	client := dynamodb.NewFromConfig(cfg, clientOpts...)

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(opts.TableName)}); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", opts.TableName, err)
	}

	return NewDynamoDBKVStoreFromClient(client, opts.TableName, nil), nil
}

// NewDynamoDBKVStoreFromClient wraps client. A nil now uses time.Now.
func NewDynamoDBKVStoreFromClient(client DynamoDBAPI, tableName string, now func() time.Time) *DynamoDBKVStore {
	if now == nil {
		now = time.Now
	}
	return &DynamoDBKVStore{
		client:    client,
		tableName: tableName,
		now:       now,
		log:       slog.Default().With("component", "kvstore", "backend", "dynamodb"),
	}
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: key}}
}

// expired reports whether item carries a TTL at or before now.
func expired(item map[string]types.AttributeValue, now time.Time) bool {
	n, ok := item[attrTTL].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return false
	}
	return now.Unix() >= ttl
}

// Get retrieves a value by key from the store.
func (d *DynamoDBKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if out.Item == nil || expired(out.Item, d.now()) {
		d.log.Debug("key not found", "key", key)
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}

	v, ok := out.Item[attrValue].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("invalid value format for key %s", key)
	}
	d.log.Debug("get", "key", key, "bytes", len(v.Value))
	return v.Value, nil
}

// Set stores a key-value pair. A zero ttl never expires.
func (d *DynamoDBKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if d.closed.Load() {
		return ErrClosed
	}

	now := d.now()
	item := keyAttr(key)
	item[attrValue] = &types.AttributeValueMemberB{Value: value}
	item[attrCreatedAt] = &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)}
	if ttl > 0 {
		item[attrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).Unix(), 10)}
	}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	d.log.Debug("set", "key", key, "bytes", len(value), "ttl", ttl)
	return nil
}

// Delete removes a key from the store. The old item comes back with the
// delete, so an item already past its TTL counts as missing.
func (d *DynamoDBKVStore) Delete(ctx context.Context, key string) (bool, error) {
	if d.closed.Load() {
		return false, ErrClosed
	}

	out, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(d.tableName),
		Key:          keyAttr(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return len(out.Attributes) > 0 && !expired(out.Attributes, d.now()), nil
}

// Exists checks if an unexpired item exists for key.
func (d *DynamoDBKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if d.closed.Load() {
		return false, ErrClosed
	}

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(d.tableName),
		Key:                      keyAttr(key),
		ProjectionExpression:     aws.String("#k, #t"),
		ExpressionAttributeNames: map[string]string{"#k": attrKey, "#t": attrTTL},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return out.Item != nil && !expired(out.Item, d.now()), nil
}

// Close marks the store closed. The SDK client holds no connections to release.
func (d *DynamoDBKVStore) Close() error {
	d.closed.Store(true)
	return nil
}

// DynamoDBKVStoreFactory creates DynamoDBKVStores.
type DynamoDBKVStoreFactory struct{}

func (f *DynamoDBKVStoreFactory) Type() string { return "dynamodb" }

// Validate checks the DynamoDB-specific settings.
func (f *DynamoDBKVStoreFactory) Validate(cfg config.KVStoreConfig) error {
	if cfg.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", cfg.Type)
	}
	if cfg.DynamoDB.Region == "" {
		return fieldErr("kvstore.dynamodb.region", "is required")
	}
	if cfg.DynamoDB.TableName == "" {
		return fieldErr("kvstore.dynamodb.table_name", "is required")
	}
	if (cfg.DynamoDB.AccessKeyID == "") != (cfg.DynamoDB.SecretAccessKey == "") {
		return fieldErr("kvstore.dynamodb.access_key_id", "and secret_access_key must be set together")
	}
	return validateTimeouts(cfg)
}

// Create loads the AWS configuration and checks the table.
func (f *DynamoDBKVStoreFactory) Create(cfg config.KVStoreConfig) (core.KVStore, error) {
	store, err := NewDynamoDBKVStore(DynamoDBOptions{
		Region:          cfg.DynamoDB.Region,
		TableName:       cfg.DynamoDB.TableName,
		Endpoint:        cfg.DynamoDB.Endpoint,
		AccessKeyID:     cfg.DynamoDB.AccessKeyID,
		SecretAccessKey: cfg.DynamoDB.SecretAccessKey,
		MaxRetries:      cfg.MaxRetries,
		DialTimeout:     cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB KV store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&DynamoDBKVStoreFactory{})
}

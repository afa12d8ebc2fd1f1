package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const (
	skState       = "STATE"
	batchGetLimit = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// DynamoStore implements Store on a single DynamoDB table keyed by PK/SK.
// Every record lives at SK=STATE with attributes data, ver and ttl. DynamoDB
// reaps expired items lazily, so reads and conditions compare ttl to now.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoDB-backed Store.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

func stateKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: key},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

// Get reads key with strong consistency.
func (c *DynamoStore) Get(ctx context.Context, key string) (Item, bool, error) {
	if err := validateKey(key); err != nil {
		return Item{}, false, err
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            stateKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Item{}, false, fmt.Errorf("repository: Get %q: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return Item{}, false, nil
	}
	item, live, err := c.decodeItem(out.Item)
	if err != nil {
		return Item{}, false, fmt.Errorf("repository: Get %q decode: %w", key, err)
	}
	return item, live, nil
}

// Put writes value under key and returns the new version.
func (c *DynamoStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	version := uuid.NewString()
	now := c.now()

	item := stateKey(key)
	item["data"] = &types.AttributeValueMemberB{Value: value}
	item["ver"] = &types.AttributeValueMemberS{Value: version}
	if opts.TTL > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiryUnix(now, opts.TTL), 10)}
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}
	if opts.Concurrency == FirstWrite {
		in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues = versionCondition(opts.ExpectedVersion, now)
	}

	if _, err := c.api.PutItem(ctx, in); err != nil {
		if isConditionFailure(err) {
			return "", ErrConflict
		}
		return "", fmt.Errorf("repository: Put %q: %w", key, err)
	}
	return version, nil
}

// Delete removes key. A versioned delete fails with ErrConflict unless the
// live record carries the expected version.
func (c *DynamoStore) Delete(ctx context.Context, key string, opts DeleteOptions) error {
	if err := validateKey(key); err != nil {
		return err
	}
	in := &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       stateKey(key),
	}
	if opts.ExpectedVersion != "" {
		in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues = versionCondition(opts.ExpectedVersion, c.now())
	}
	if _, err := c.api.DeleteItem(ctx, in); err != nil {
		if isConditionFailure(err) {
			return ErrConflict
		}
		return fmt.Errorf("repository: Delete %q: %w", key, err)
	}
	return nil
}

// BulkGet fans out BatchGetItem calls in chunks of 100 keys. Keys that are
// missing, expired or left unprocessed are omitted from the result.
func (c *DynamoStore) BulkGet(ctx context.Context, keys []string) (map[string]Item, error) {
	result := make(map[string]Item, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	chunks := chunkKeys(dedupe(keys), batchGetLimit)
	if len(chunks) == 0 {
		return result, nil
	}
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed int
		last   error
	)
	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			found, err := c.batchGet(ctx, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				last = err
				return
			}
			for k, v := range found {
				result[k] = v
			}
		}(chunk)
	}
	wg.Wait()

	if failed == len(chunks) {
		return nil, fmt.Errorf("repository: BulkGet: %w", last)
	}
	return result, nil
}

func (c *DynamoStore) batchGet(ctx context.Context, keys []string) (map[string]Item, error) {
	reqKeys := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		reqKeys = append(reqKeys, stateKey(k))
	}
	out, err := c.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{
			c.tableName: {Keys: reqKeys, ConsistentRead: aws.Bool(true)},
		},
	})
	if err != nil {
		return nil, err
	}
	found := make(map[string]Item)
	if out == nil {
		return found, nil
	}
	for _, raw := range out.Responses[c.tableName] {
		pk, err := strAttr(raw, "PK")
		if err != nil {
			continue
		}
		item, live, err := c.decodeItem(raw)
		if err != nil || !live {
			continue
		}
		found[pk] = item
	}
	return found, nil
}

// versionCondition builds the optimistic-concurrency condition. An empty
// expected version means the key must be absent or expired.
func versionCondition(expected string, now time.Time) (*string, map[string]string, map[string]types.AttributeValue) {
	names := map[string]string{"#ttl": "ttl"}
	nowAttr := &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
	if expected == "" {
		return aws.String("attribute_not_exists(PK) OR #ttl <= :now"), names,
			map[string]types.AttributeValue{":now": nowAttr}
	}
	return aws.String("ver = :ver AND (attribute_not_exists(#ttl) OR #ttl > :now)"), names,
		map[string]types.AttributeValue{
			":ver": &types.AttributeValueMemberS{Value: expected},
			":now": nowAttr,
		}
}

// decodeItem converts a DynamoDB attribute map to an Item and reports
// whether it is still live.
func (c *DynamoStore) decodeItem(raw map[string]types.AttributeValue) (Item, bool, error) {
	if v, ok := raw["ttl"]; ok {
		n, ok := v.(*types.AttributeValueMemberN)
		if !ok {
			return Item{}, false, errors.New("repository: attribute \"ttl\" is not a number")
		}
		expiry, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return Item{}, false, fmt.Errorf("repository: parse attribute \"ttl\": %w", err)
		}
		if expiry <= c.now().Unix() {
			return Item{}, false, nil
		}
	}
	ver, err := strAttr(raw, "ver")
	if err != nil {
		return Item{}, false, err
	}
	data, ok := raw["data"].(*types.AttributeValueMemberB)
	if !ok {
		return Item{}, false, errors.New("repository: attribute \"data\" is missing or not binary")
	}
	return Item{Value: data.Value, Version: ver}, true, nil
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func chunkKeys(keys []string, size int) [][]string {
	var chunks [][]string
	for len(keys) > size {
		chunks = append(chunks, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		chunks = append(chunks, keys)
	}
	return chunks
}

// expiryUnix is the epoch second at or after now+ttl. Truncating would let a
// record expire before its TTL.
func expiryUnix(now time.Time, ttl time.Duration) int64 {
	at := now.Add(ttl)
	if at.Nanosecond() > 0 {
		return at.Unix() + 1
	}
	return at.Unix()
}

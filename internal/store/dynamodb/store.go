package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ratechat-backend/internal/models"
	"ratechat-backend/internal/store"
)

const (
	pkPrefixThread = "THREAD#"
	skPrefixMsg    = "MSG#"
	// DynamoDB caps a transaction at 100 items.
	maxTransactItems = 100
)

var _ store.ThreadStore = (*ThreadStore)(nil)

// dynamodbAPI is the minimal DynamoDB interface required by ThreadStore.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ThreadStore keeps one item per message: PK = THREAD#<id>, SK = MSG#<seq>.
type ThreadStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// New creates a DynamoDB-backed thread store. A zero ttl disables expiry.
func New(api dynamodbAPI, tableName string, ttl time.Duration) (*ThreadStore, error) {
	if api == nil {
		return nil, errors.New("dynamodb store: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamodb store: table name must not be empty")
	}
	return &ThreadStore{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func threadPK(threadID string) string {
	return pkPrefixThread + threadID
}

// msgSK zero-pads seq so lexical order equals append order.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%010d", skPrefixMsg, seq)
}

// Load queries all MSG# items of a thread in ascending order, following pagination.
func (s *ThreadStore) Load(ctx context.Context, threadID string) ([]models.Message, error) {
	if threadID == "" {
		return nil, store.ErrInvalidThreadID
	}
	msgs := []models.Message{}
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: threadPK(threadID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb store: Load query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("dynamodb store: Load unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return dropExpiredGaps(msgs), nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// dropExpiredGaps repairs a history after TTL expiry, which removes items
// asynchronously and in no order: a tool call or tool response that lost its
// partner is dropped.
func dropExpiredGaps(msgs []models.Message) []models.Message {
	return models.ReconcileToolCalls(msgs)
}

// Append writes the messages after the thread's current last sequence number.
// Each put is conditional on the key being unused, so a concurrent writer in
// another process fails instead of overwriting history.
func (s *ThreadStore) Append(ctx context.Context, threadID string, msgs ...models.Message) error {
	prepared, err := store.PrepareMessages(threadID, msgs, s.now())
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}

	last, err := s.lastSeq(ctx, threadID)
	if err != nil {
		return err
	}

	for start := 0; start < len(prepared); start += maxTransactItems {
		end := start + maxTransactItems
		if end > len(prepared) {
			end = len(prepared)
		}
		items := make([]types.TransactWriteItem, 0, end-start)
		for i := start; i < end; i++ {
			item, err := s.messageItem(threadID, last+1+i, prepared[i])
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			})
		}
		if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
			log.Printf("ERROR [DynamoThreadStore] Append: thread %s: %v", threadID, err)
			return fmt.Errorf("dynamodb store: Append: %w", err)
		}
	}
	return nil
}

func (s *ThreadStore) lastSeq(ctx context.Context, threadID string) (int, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: threadPK(threadID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb store: last sequence query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return 0, nil
	}
	seq, err := intAttr(out.Items[0], "seq")
	if err != nil {
		return 0, fmt.Errorf("dynamodb store: decode seq: %w", err)
	}
	return seq, nil
}

func (s *ThreadStore) messageItem(threadID string, seq int, msg models.Message) (map[string]types.AttributeValue, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("dynamodb store: marshal message: %w", err)
	}
	item := map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: threadPK(threadID)},
		"SK":       &types.AttributeValueMemberS{Value: msgSK(seq)},
		"threadId": &types.AttributeValueMemberS{Value: threadID},
		"seq":      &types.AttributeValueMemberN{Value: strconv.Itoa(seq)},
		"role":     &types.AttributeValueMemberS{Value: string(msg.Role)},
		"turn":     &types.AttributeValueMemberN{Value: strconv.Itoa(msg.Turn)},
		"message":  &types.AttributeValueMemberS{Value: string(body)},
	}
	if s.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)}
	}
	return item, nil
}

func itemToMessage(item map[string]types.AttributeValue) (models.Message, error) {
	body, err := strAttr(item, "message")
	if err != nil {
		return models.Message{}, err
	}
	var msg models.Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return models.Message{}, fmt.Errorf("decode message body: %w", err)
	}
	return msg, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

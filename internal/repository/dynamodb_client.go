package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"voice-intake/internal/domain"
)

const (
	skRecord         = "RECORD#"
	skPrefixEntry    = "ENTRY#"
	ttlDuration      = 30 * 24 * time.Hour // 30-day TTL
	maxBatchSize     = 25
	maxBatchAttempts = 5
)

// ErrNotFound is returned when no record exists for a session.
var ErrNotFound = errors.New("repository: record not found")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client stores finished intake records in a single DynamoDB table: one
// RECORD# item per session plus one ENTRY# item per transcript line.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	backoff   time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now, backoff: 50 * time.Millisecond, sleep: sleepContext}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) Name() string { return "dynamodb" }

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// entrySK keeps transcript items in conversation order.
func entrySK(i int) string {
	return fmt.Sprintf("%s%05d", skPrefixEntry, i)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// Write stores rec and its transcript.
func (c *Client) Write(ctx context.Context, rec domain.Record) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return errors.New("repository: Write: session id is required")
	}
	ttl := c.ttlValue()

	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      recordItem(rec, ttl),
	}); err != nil {
		return fmt.Errorf("repository: Write record: %w", err)
	}

	requests := make([]types.WriteRequest, 0, len(rec.ConversationLog))
	for i, entry := range rec.ConversationLog {
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: entryItem(rec.SessionID, i, entry, ttl)},
		})
	}
	for start := 0; start < len(requests); start += maxBatchSize {
		end := min(start+maxBatchSize, len(requests))
		if err := c.batchWrite(ctx, requests[start:end]); err != nil {
			return fmt.Errorf("repository: Write transcript: %w", err)
		}
	}
	return nil
}

// batchWrite retries unprocessed items with exponential backoff. It does not
// wait after the last attempt.
func (c *Client) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := requests
	for attempt := 0; attempt < maxBatchAttempts; attempt++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.tableName: pending},
		})
		if err != nil {
			return err
		}
		if out == nil || len(out.UnprocessedItems[c.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems[c.tableName]
		if attempt == maxBatchAttempts-1 {
			break
		}
		if err := c.sleep(ctx, c.backoff<<attempt); err != nil {
			return err
		}
	}
	return fmt.Errorf("%d transcript items unprocessed after %d attempts", len(pending), maxBatchAttempts)
}

// GetRecord reads a stored record and its transcript.
func (c *Client) GetRecord(ctx context.Context, sessionID string) (domain.Record, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skRecord},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Record{}, fmt.Errorf("repository: GetRecord get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Record{}, ErrNotFound
	}

	rec, err := itemToRecord(out.Item)
	if err != nil {
		return domain.Record{}, fmt.Errorf("repository: GetRecord decode: %w", err)
	}
	rec.ConversationLog, err = c.GetTranscript(ctx, sessionID)
	if err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// GetTranscript queries every ENTRY# item of a session in order.
func (c *Client) GetTranscript(ctx context.Context, sessionID string) ([]domain.TranscriptEntry, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixEntry},
		},
		ScanIndexForward: aws.Bool(true),
	}

	entries := []domain.TranscriptEntry{}
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: GetTranscript query: %w", err)
		}
		for _, item := range out.Items {
			entry, err := itemToEntry(item)
			if err != nil {
				return nil, fmt.Errorf("repository: GetTranscript decode: %w", err)
			}
			entries = append(entries, entry)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func recordItem(rec domain.Record, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: sessionPK(rec.SessionID)},
		"SK":             &types.AttributeValueMemberS{Value: skRecord},
		"sessionId":      &types.AttributeValueMemberS{Value: rec.SessionID},
		"callId":         &types.AttributeValueMemberS{Value: rec.CallID},
		"outcome":        &types.AttributeValueMemberS{Value: string(rec.Outcome)},
		"driverDetails":  detailsAttr(rec.DriverDetails),
		"tractorDetails": detailsAttr(rec.TractorDetails),
		"trailerDetails": detailsAttr(rec.TrailerDetails),
		"etaDetails":     detailsAttr(rec.ETADetails),
		"entries":        &types.AttributeValueMemberN{Value: strconv.Itoa(len(rec.ConversationLog))},
		"startedAt":      &types.AttributeValueMemberS{Value: rec.StartedAt.UTC().Format(time.RFC3339Nano)},
		"endedAt":        &types.AttributeValueMemberS{Value: rec.EndedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func entryItem(sessionID string, i int, e domain.TranscriptEntry, ttl int64) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: entrySK(i)},
		"timestamp": &types.AttributeValueMemberS{Value: e.Timestamp.UTC().Format(time.RFC3339Nano)},
		"role":      &types.AttributeValueMemberS{Value: string(e.Role)},
		"content":   &types.AttributeValueMemberS{Value: e.Content},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
	if e.State != "" {
		item["state"] = &types.AttributeValueMemberS{Value: e.State}
	}
	if e.Field != "" {
		item["field"] = &types.AttributeValueMemberS{Value: string(e.Field)}
	}
	return item
}

// detailsAttr encodes unset values as NULL so the stored group keeps every
// field key.
func detailsAttr(details map[string]*string) types.AttributeValue {
	m := make(map[string]types.AttributeValue, len(details))
	for k, v := range details {
		if v == nil {
			m[k] = &types.AttributeValueMemberNULL{Value: true}
			continue
		}
		m[k] = &types.AttributeValueMemberS{Value: *v}
	}
	return &types.AttributeValueMemberM{Value: m}
}

func itemToRecord(item map[string]types.AttributeValue) (domain.Record, error) {
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Record{}, err
	}
	callID, _ := strAttr(item, "callId") // allow empty
	outcome, _ := strAttr(item, "outcome")

	rec := domain.Record{
		SessionID: sessionID,
		CallID:    callID,
		Outcome:   domain.Outcome(outcome),
	}
	for attr, dst := range map[string]*map[string]*string{
		"driverDetails":  &rec.DriverDetails,
		"tractorDetails": &rec.TractorDetails,
		"trailerDetails": &rec.TrailerDetails,
		"etaDetails":     &rec.ETADetails,
	} {
		if *dst, err = detailsFromAttr(item, attr); err != nil {
			return domain.Record{}, err
		}
	}
	if rec.StartedAt, err = timeAttr(item, "startedAt"); err != nil {
		return domain.Record{}, err
	}
	if rec.EndedAt, err = timeAttr(item, "endedAt"); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

func itemToEntry(item map[string]types.AttributeValue) (domain.TranscriptEntry, error) {
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.TranscriptEntry{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.TranscriptEntry{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.TranscriptEntry{}, err
	}
	state, _ := strAttr(item, "state") // allow empty
	field, _ := strAttr(item, "field") // allow empty

	return domain.TranscriptEntry{
		Timestamp: ts,
		Role:      domain.Role(role),
		Content:   content,
		State:     state,
		Field:     domain.FieldKey(field),
	}, nil
}

func detailsFromAttr(item map[string]types.AttributeValue, key string) (map[string]*string, error) {
	v, ok := item[key]
	if !ok {
		return map[string]*string{}, nil
	}
	m, ok := v.(*types.AttributeValueMemberM)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a map", key)
	}
	out := make(map[string]*string, len(m.Value))
	for k, av := range m.Value {
		switch tv := av.(type) {
		case *types.AttributeValueMemberS:
			s := tv.Value
			out[k] = &s
		case *types.AttributeValueMemberNULL:
			out[k] = nil
		default:
			return nil, fmt.Errorf("repository: attribute %q.%q has unexpected type", key, k)
		}
	}
	return out, nil
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

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}

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

	"red-ai/internal/domain"
)

const (
	attrUserID     = "user_id"
	attrTimestamp  = "timestamp"
	attrRunID      = "run_id"
	attrPrompt     = "prompt"
	attrCompletion = "completion"
	attrAudioRef   = "audio_ref"
	attrTTL        = "ttl"

	// Fixed width keeps lexical order equal to chronological order.
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

var (
	// ErrTurnNotFound is returned when no turn exists for a (user, timestamp) key.
	ErrTurnNotFound = errors.New("repository: turn not found")
	// ErrTurnExists is returned when a turn with the same key was already written.
	ErrTurnExists = errors.New("repository: turn already exists")
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client is the conversation store backed by a DynamoDB table keyed by
// user_id (partition) and timestamp (sort).
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTTL sets how long turns are retained. Zero disables the ttl attribute.
func WithTTL(d time.Duration) Option {
	return func(c *Client) {
		c.ttl = d
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TurnTimestamp returns the sort key for a turn created at ts by run runID.
// The run suffix keeps keys unique for concurrent runs of the same user.
func TurnTimestamp(ts time.Time, runID string) string {
	s := ts.UTC().Format(timestampLayout)
	if runID == "" {
		return s
	}
	return s + "#" + runID
}

// NewTurn constructs a turn for a freshly received prompt.
func (c *Client) NewTurn(userID, runID, prompt string) domain.ConversationTurn {
	now := c.now()
	turn := domain.ConversationTurn{
		UserID:    userID,
		Timestamp: TurnTimestamp(now, runID),
		RunID:     runID,
		Prompt:    prompt,
	}
	if c.ttl > 0 {
		turn.TTL = now.Add(c.ttl).Unix()
	}
	return turn
}

// PutTurn writes a new turn. It never overwrites an existing item.
func (c *Client) PutTurn(ctx context.Context, turn domain.ConversationTurn) error {
	if turn.UserID == "" || turn.Timestamp == "" {
		return errors.New("repository: PutTurn: user_id and timestamp are required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(turn),
		ConditionExpression: aws.String("attribute_not_exists(user_id) AND attribute_not_exists(#ts)"),
		ExpressionAttributeNames: map[string]string{
			"#ts": attrTimestamp,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: PutTurn: %w", ErrTurnExists)
		}
		return fmt.Errorf("repository: PutTurn: %w", err)
	}
	return nil
}

// GetTurn reads a single turn by its key.
func (c *Client) GetTurn(ctx context.Context, userID, timestamp string) (domain.ConversationTurn, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            turnKey(userID, timestamp),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("repository: GetTurn get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationTurn{}, ErrTurnNotFound
	}
	turn, err := itemToTurn(out.Item)
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("repository: GetTurn unmarshal: %w", err)
	}
	return turn, nil
}

// ListTurns returns up to limit of the user's most recent turns in
// chronological order.
func (c *Client) ListTurns(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTurns query: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// EnrichTurn records the completion and audio reference on an existing turn.
func (c *Client) EnrichTurn(ctx context.Context, userID, timestamp, completion, audioRef string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 turnKey(userID, timestamp),
		UpdateExpression:    aws.String("SET completion = :c, audio_ref = :a"),
		ConditionExpression: aws.String("attribute_exists(user_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: completion},
			":a": &types.AttributeValueMemberS{Value: audioRef},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: EnrichTurn: %w", ErrTurnNotFound)
		}
		return fmt.Errorf("repository: EnrichTurn: %w", err)
	}
	return nil
}

func turnKey(userID, timestamp string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUserID:    &types.AttributeValueMemberS{Value: userID},
		attrTimestamp: &types.AttributeValueMemberS{Value: timestamp},
	}
}

func turnItem(turn domain.ConversationTurn) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrUserID:     &types.AttributeValueMemberS{Value: turn.UserID},
		attrTimestamp:  &types.AttributeValueMemberS{Value: turn.Timestamp},
		attrRunID:      &types.AttributeValueMemberS{Value: turn.RunID},
		attrPrompt:     &types.AttributeValueMemberS{Value: turn.Prompt},
		attrCompletion: &types.AttributeValueMemberS{Value: turn.Completion},
		attrAudioRef:   &types.AttributeValueMemberS{Value: turn.AudioRef},
	}
	if turn.TTL > 0 {
		item[attrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.TTL, 10)}
	}
	return item
}

// itemToTurn converts a DynamoDB attribute map to a ConversationTurn.
func itemToTurn(item map[string]types.AttributeValue) (domain.ConversationTurn, error) {
	userID, err := strAttr(item, attrUserID)
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	ts, err := strAttr(item, attrTimestamp)
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	prompt, err := strAttr(item, attrPrompt)
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	runID, _ := strAttr(item, attrRunID)           // allow empty
	completion, _ := strAttr(item, attrCompletion) // allow empty
	audioRef, _ := strAttr(item, attrAudioRef)     // allow empty

	turn := domain.ConversationTurn{
		UserID:     userID,
		Timestamp:  ts,
		RunID:      runID,
		Prompt:     prompt,
		Completion: completion,
		AudioRef:   audioRef,
	}
	if _, ok := item[attrTTL]; ok {
		ttl, err := int64Attr(item, attrTTL)
		if err != nil {
			return domain.ConversationTurn{}, err
		}
		turn.TTL = ttl
	}
	return turn, nil
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

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

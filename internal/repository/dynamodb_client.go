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

	"cepal-chatbot/internal/domain"
)

const (
	skPrefixMsg      = "MSG#"
	skMeta           = "META#"
	defaultTTL       = 24 * time.Hour
	batchWriteLimit  = 25
	maxBatchAttempts = 3
	maxTransactItems = 100

	// META# guards the sequence: a session starts when no live record exists
	// and continues only from the entry count it holds.
	conditionSessionStart = "attribute_not_exists(PK) OR #ttl <= :now"
	conditionSessionNext  = "#entries = :expected AND #ttl > :now"
	conditionEntryLive    = "attribute_exists(PK) AND #ttl > :now"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client stores session entries in a single DynamoDB table. Every item of a
// session shares the partition key SESS#<id>; entries sort by MSG#<seq> and
// the aggregate record lives at META#. META# is authoritative: it holds the
// entry count and the session expiry, and every append moves the expiry of
// all items forward together. Abandoned sessions end when the TTL passes.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*Client)

// WithTTL sets how long a session survives after its last write.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
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
	c := &Client{api: api, tableName: tableName, ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func sessionPK(sessionID string) string {
	return "SESS#" + sessionID
}

// msgSK zero-pads the sequence so lexical order matches entry order.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%08d", skPrefixMsg, seq)
}

func itemKey(sessionID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// GetMessages returns the entries of a live session in sequence order. A
// session whose META# record is missing or expired has no entries, even while
// its items wait for TTL deletion.
func (c *Client) GetMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	items, err := c.queryItems(ctx, sessionID, "")
	if err != nil {
		return nil, fmt.Errorf("repository: GetMessages query: %w", err)
	}

	var meta *domain.SessionMeta
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return nil, fmt.Errorf("repository: GetMessages unmarshal: %w", err)
		}
		if sk == skMeta {
			m, err := itemToMeta(item)
			if err != nil {
				return nil, fmt.Errorf("repository: GetMessages unmarshal meta: %w", err)
			}
			meta = &m
			continue
		}
		if !strings.HasPrefix(sk, skPrefixMsg) {
			continue
		}
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}

	if meta == nil || meta.TTL <= c.now().Unix() {
		return []domain.Message{}, nil
	}
	live := msgs[:0]
	for _, msg := range msgs {
		// Entries past the count belong to an earlier, expired session.
		if msg.Seq < meta.Entries {
			live = append(live, msg)
		}
	}
	return live, nil
}

// AppendMessages writes msgs after the entries already stored. The expiry of
// every earlier entry is moved to the new TTL first, then the new entries and
// META# are written in one transaction conditional on the stored entry count.
// A concurrent writer or an expired session yields domain.ErrSequenceConflict.
func (c *Client) AppendMessages(ctx context.Context, sessionID string, msgs []domain.Message) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendMessages: session id is required")
	}
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs)+1 > maxTransactItems {
		return fmt.Errorf("repository: AppendMessages: %d entries exceed one transaction", len(msgs))
	}
	expected := msgs[0].Seq
	if expected < 0 {
		return fmt.Errorf("repository: AppendMessages: negative sequence %d", expected)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Seq != msgs[i-1].Seq+1 {
			return fmt.Errorf("repository: AppendMessages: non-contiguous sequence %d after %d", msgs[i].Seq, msgs[i-1].Seq)
		}
	}

	now := c.now()
	nowAttr := &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
	ttl := now.Add(c.ttl).Unix()
	ttlAttr := &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)}

	refresh := make([]types.TransactWriteItem, 0, expected)
	for seq := 0; seq < expected; seq++ {
		refresh = append(refresh, types.TransactWriteItem{
			Update: &types.Update{
				TableName:                aws.String(c.tableName),
				Key:                      itemKey(sessionID, msgSK(seq)),
				UpdateExpression:         aws.String("SET #ttl = :ttl"),
				ConditionExpression:      aws.String(conditionEntryLive),
				ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":ttl": ttlAttr,
					":now": nowAttr,
				},
			},
		})
	}

	// Refreshes that do not fit next to the new entries go first, in their
	// own transactions. Extending a live session is harmless if the final
	// write then loses a race.
	room := maxTransactItems - len(msgs) - 1
	split := max(0, len(refresh)-room)
	for start := 0; start < split; start += maxTransactItems {
		end := min(start+maxTransactItems, split)
		if err := c.transact(ctx, refresh[start:end]); err != nil {
			return err
		}
	}

	txItems := make([]types.TransactWriteItem, 0, maxTransactItems)
	txItems = append(txItems, refresh[split:]...)
	for _, msg := range msgs {
		msg.PK = sessionPK(sessionID)
		msg.SK = msgSK(msg.Seq)
		msg.SessionID = sessionID
		msg.TTL = ttl
		txItems = append(txItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      messageItem(msg),
			},
		})
	}

	meta := domain.SessionMeta{
		PK:           sessionPK(sessionID),
		SK:           skMeta,
		SessionID:    sessionID,
		LastActivity: now.UTC().Format(time.RFC3339),
		Entries:      msgs[len(msgs)-1].Seq + 1,
		TTL:          ttl,
	}
	metaPut := &types.Put{
		TableName:                aws.String(c.tableName),
		Item:                     metaItem(meta),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": nowAttr,
		},
	}
	if expected == 0 {
		metaPut.ConditionExpression = aws.String(conditionSessionStart)
	} else {
		metaPut.ConditionExpression = aws.String(conditionSessionNext)
		metaPut.ExpressionAttributeNames["#entries"] = "entries"
		metaPut.ExpressionAttributeValues[":expected"] = &types.AttributeValueMemberN{Value: strconv.Itoa(expected)}
	}
	txItems = append(txItems, types.TransactWriteItem{Put: metaPut})

	return c.transact(ctx, txItems)
}

func (c *Client) transact(ctx context.Context, items []types.TransactWriteItem) error {
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("repository: AppendMessages: %w", domain.ErrSequenceConflict)
		}
		return fmt.Errorf("repository: AppendMessages: %w", err)
	}
	return nil
}

// DeleteSession removes every item of a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	items, err := c.queryItems(ctx, sessionID, "PK, SK")
	if err != nil {
		return fmt.Errorf("repository: DeleteSession query: %w", err)
	}

	for start := 0; start < len(items); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(items))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
					"PK": item["PK"],
					"SK": item["SK"],
				}},
			})
		}
		if err := c.batchDelete(ctx, reqs); err != nil {
			return fmt.Errorf("repository: DeleteSession: %w", err)
		}
	}
	return nil
}

func (c *Client) batchDelete(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{c.tableName: reqs}
	for attempt := 0; attempt < maxBatchAttempts; attempt++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		if out == nil || len(out.UnprocessedItems[c.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return fmt.Errorf("%d items left unprocessed", len(pending[c.tableName]))
}

func (c *Client) queryItems(ctx context.Context, sessionID, projection string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}
	if projection != "" {
		in.ProjectionExpression = aws.String(projection)
	}

	var items []map[string]types.AttributeValue
	p := dynamodb.NewQueryPaginator(c.api, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
	}
	return items, nil
}

func isConditionFailure(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}
	var condFailed *types.ConditionalCheckFailedException
	return errors.As(err, &condFailed)
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Message{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Message{}, err
	}
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Message{}, err
	}
	sessionID, _ := strAttr(item, "sessionId") // allow empty
	questions, err := strListAttr(item, "suggestedQuestions")
	if err != nil {
		return domain.Message{}, err
	}

	return domain.Message{
		PK:                 pk,
		SK:                 sk,
		SessionID:          sessionID,
		Seq:                seq,
		Role:               domain.Role(role),
		Text:               text,
		SuggestedQuestions: questions,
	}, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.SessionMeta, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	entries, err := intAttr(item, "entries")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	ttl, err := intAttr(item, "ttl")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	sessionID, _ := strAttr(item, "sessionId")
	lastActivity, _ := strAttr(item, "lastActivity")
	return domain.SessionMeta{
		PK:           pk,
		SK:           skMeta,
		SessionID:    sessionID,
		LastActivity: lastActivity,
		Entries:      entries,
		TTL:          int64(ttl),
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: msg.PK},
		"SK":        &types.AttributeValueMemberS{Value: msg.SK},
		"sessionId": &types.AttributeValueMemberS{Value: msg.SessionID},
		"seq":       &types.AttributeValueMemberN{Value: strconv.Itoa(msg.Seq)},
		"role":      &types.AttributeValueMemberS{Value: string(msg.Role)},
		"text":      &types.AttributeValueMemberS{Value: msg.Text},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.TTL, 10)},
	}
	if msg.SuggestedQuestions != nil {
		list := make([]types.AttributeValue, 0, len(msg.SuggestedQuestions))
		for _, q := range msg.SuggestedQuestions {
			list = append(list, &types.AttributeValueMemberS{Value: q})
		}
		item["suggestedQuestions"] = &types.AttributeValueMemberL{Value: list}
	}
	return item
}

func metaItem(meta domain.SessionMeta) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: meta.PK},
		"SK":           &types.AttributeValueMemberS{Value: meta.SK},
		"sessionId":    &types.AttributeValueMemberS{Value: meta.SessionID},
		"lastActivity": &types.AttributeValueMemberS{Value: meta.LastActivity},
		"entries":      &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Entries)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(meta.TTL, 10)},
	}
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

// strListAttr returns nil when the attribute is absent.
func strListAttr(item map[string]types.AttributeValue, key string) ([]string, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	l, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
	out := make([]string, 0, len(l.Value))
	for i, elem := range l.Value {
		s, ok := elem.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("repository: attribute %q element %d is not a string", key, i)
		}
		out = append(out, s.Value)
	}
	return out, nil
}

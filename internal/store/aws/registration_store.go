// Package aws stores registrations in two DynamoDB tables.
package aws

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	// transactWriteLimit is the DynamoDB TransactWriteItems request limit.
	transactWriteLimit = 100

	// MaxCompanions is the largest companion batch one transaction can
	// carry next to its primary or its owner check.
	MaxCompanions = transactWriteLimit - 1

	throttleRetries = 5
)

// DynamoDBAPI is the subset of the DynamoDB client used by RegistrationStore.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Config names the two tables.
type Config struct {
	RegistrationsTable string
	CompanionsTable    string
}

// ApplyDefaults fills unset table names.
func (c *Config) ApplyDefaults() {
	if c.RegistrationsTable == "" {
		c.RegistrationsTable = "rodada-registrations"
	}
	if c.CompanionsTable == "" {
		c.CompanionsTable = "rodada-companions"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.RegistrationsTable == c.CompanionsTable {
		return fmt.Errorf("registrations and companions tables must differ")
	}
	return nil
}

// registrationItem is the DynamoDB shape of a primary registration.
type registrationItem struct {
	RegistrationID string  `dynamodbav:"registration_id"`
	Name           string  `dynamodbav:"name"`
	Place          string  `dynamodbav:"place"`
	Age            int     `dynamodbav:"age"`
	Group          *string `dynamodbav:"group_name,omitempty"`
	Phone          *string `dynamodbav:"phone,omitempty"`
	Size           *string `dynamodbav:"size,omitempty"`
	CreatedAt      int64   `dynamodbav:"created_at"` // unix nanos
}

// companionItem is keyed by registration_id (hash) and companion_id (range).
type companionItem struct {
	RegistrationID string  `dynamodbav:"registration_id"`
	CompanionID    string  `dynamodbav:"companion_id"`
	Name           string  `dynamodbav:"name"`
	Age            int     `dynamodbav:"age"`
	Size           *string `dynamodbav:"size,omitempty"`
	CreatedAt      int64   `dynamodbav:"created_at"`
	Position       int     `dynamodbav:"position"` // index within its batch
}

func newRegistrationItem(reg *models.PrimaryRegistration) registrationItem {
	return registrationItem{
		RegistrationID: reg.RegistrationID.String(),
		Name:           reg.Name,
		Place:          reg.Place,
		Age:            reg.Age,
		Group:          reg.Group,
		Phone:          reg.Phone,
		Size:           reg.Size,
		CreatedAt:      reg.CreatedAt.UnixNano(),
	}
}

func (r registrationItem) toModel() (models.PrimaryRegistration, error) {
	id, err := uuid.Parse(r.RegistrationID)
	if err != nil {
		return models.PrimaryRegistration{}, fmt.Errorf("invalid registration id %q: %w", r.RegistrationID, err)
	}
	return models.PrimaryRegistration{
		RegistrationID: id,
		Name:           r.Name,
		Place:          r.Place,
		Age:            r.Age,
		Group:          r.Group,
		Phone:          r.Phone,
		Size:           r.Size,
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

func (c companionItem) toModel() (models.CompanionEntry, error) {
	id, err := uuid.Parse(c.CompanionID)
	if err != nil {
		return models.CompanionEntry{}, fmt.Errorf("invalid companion id %q: %w", c.CompanionID, err)
	}
	owner, err := uuid.Parse(c.RegistrationID)
	if err != nil {
		return models.CompanionEntry{}, fmt.Errorf("invalid registration id %q: %w", c.RegistrationID, err)
	}
	return models.CompanionEntry{
		CompanionID:    id,
		RegistrationID: owner,
		Name:           c.Name,
		Age:            c.Age,
		Size:           c.Size,
	}, nil
}

// RegistrationStore implements store.AtomicRegistrationStore on DynamoDB.
// Scans are unordered so ordering is applied client side.
type RegistrationStore struct {
	client DynamoDBAPI
	cfg    Config
	now    func() time.Time

	retryInterval time.Duration
}

var _ store.AtomicRegistrationStore = (*RegistrationStore)(nil)

// NewRegistrationStore creates a DynamoDB registration store.
func NewRegistrationStore(client DynamoDBAPI, cfg Config) (*RegistrationStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &RegistrationStore{
		client:        client,
		cfg:           cfg,
		now:           time.Now,
		retryInterval: 100 * time.Millisecond,
	}, nil
}

// WithClock overrides the clock used for created_at timestamps.
func (s *RegistrationStore) WithClock(now func() time.Time) *RegistrationStore {
	s.now = now
	return s
}

func (s *RegistrationStore) stamp(reg *models.PrimaryRegistration) (registrationItem, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return registrationItem{}, err
	}
	stamped := *reg
	stamped.RegistrationID = id
	stamped.CreatedAt = s.now().UTC()
	*reg = stamped
	return newRegistrationItem(reg), nil
}

// InsertPrimary implements store.RegistrationStore.
func (s *RegistrationStore) InsertPrimary(ctx context.Context, reg *models.PrimaryRegistration) error {
	pending := *reg
	record, err := s.stamp(&pending)
	if err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}

	cond, err := createCondition()
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.cfg.RegistrationsTable),
		Item:                     item,
		ConditionExpression:      cond.Condition(),
		ExpressionAttributeNames: cond.Names(),
	})
	if err != nil {
		return wrapAWSError(err, "failed to insert registration")
	}

	*reg = pending
	log.Debug().Str("registration_id", record.RegistrationID).Msg("registration created")
	return nil
}

// companionItems assigns ids and builds the marshalled items for a batch.
func (s *RegistrationStore) companionItems(companions []models.CompanionEntry) ([]map[string]types.AttributeValue, []uuid.UUID, error) {
	createdAt := s.now().UnixNano()
	items := make([]map[string]types.AttributeValue, 0, len(companions))
	ids := make([]uuid.UUID, 0, len(companions))

	for i, c := range companions {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, nil, err
		}
		item, err := attributevalue.MarshalMap(companionItem{
			RegistrationID: c.RegistrationID.String(),
			CompanionID:    id.String(),
			Name:           c.Name,
			Age:            c.Age,
			Size:           c.Size,
			CreatedAt:      createdAt,
			Position:       i,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal companion: %w", err)
		}
		items = append(items, item)
		ids = append(ids, id)
	}
	return items, ids, nil
}

// InsertCompanions implements store.RegistrationStore. The batch is one
// TransactWriteItems call led by a condition check on the owning
// registration, so it is written whole or not at all. A transaction holds
// at most 100 items, which caps a batch at MaxCompanions.
func (s *RegistrationStore) InsertCompanions(ctx context.Context, companions []models.CompanionEntry) error {
	if err := store.ValidateBatch(companions); err != nil {
		return err
	}
	if len(companions) > MaxCompanions {
		return fmt.Errorf("%w: at most %d companions, got %d", store.ErrBatchTooLarge, MaxCompanions, len(companions))
	}
	owner := companions[0].RegistrationID

	items, ids, err := s.companionItems(companions)
	if err != nil {
		return err
	}

	exists, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("registration_id"))).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build condition: %w", err)
	}

	writes := make([]types.TransactWriteItem, 0, len(items)+1)
	writes = append(writes, types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                aws.String(s.cfg.RegistrationsTable),
			Key:                      registrationKey(owner),
			ConditionExpression:      exists.Condition(),
			ExpressionAttributeNames: exists.Names(),
		},
	})
	for _, item := range items {
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(s.cfg.CompanionsTable), Item: item},
		})
	}

	if err := s.transactWrite(ctx, writes, "failed to write companions"); err != nil {
		if conditionFailed(err, 0) {
			return store.ErrRegistrationNotFound
		}
		return err
	}

	for i := range companions {
		companions[i].CompanionID = ids[i]
	}

	log.Debug().
		Str("registration_id", owner.String()).
		Int("companion_count", len(companions)).
		Msg("companions created")
	return nil
}

// transactWrite runs one transaction, retrying while DynamoDB throttles it.
// A transaction either applies entirely or not at all, so a retry never
// duplicates items.
func (s *RegistrationStore) transactWrite(ctx context.Context, writes []types.TransactWriteItem, msg string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
		if err == nil {
			return struct{}{}, nil
		}
		wrapped := wrapAWSError(err, msg)
		if errors.Is(wrapped, store.ErrThrottled) {
			return struct{}{}, wrapped
		}
		return struct{}{}, backoff.Permanent(wrapped)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.retryInterval)),
		backoff.WithMaxTries(throttleRetries),
	)
	return err
}

// conditionFailed reports whether the transaction was cancelled because the
// condition on item i did not hold.
func conditionFailed(err error, i int) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) || i >= len(canceled.CancellationReasons) {
		return false
	}
	code := canceled.CancellationReasons[i].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

// InsertRegistration implements store.AtomicRegistrationStore using a
// single TransactWriteItems call, which caps the party at 99 companions.
func (s *RegistrationStore) InsertRegistration(ctx context.Context, reg *models.PrimaryRegistration, companions []models.CompanionEntry) error {
	if len(companions) > MaxCompanions {
		return fmt.Errorf("%w: at most %d companions, got %d", store.ErrBatchTooLarge, MaxCompanions, len(companions))
	}

	pending := *reg
	record, err := s.stamp(&pending)
	if err != nil {
		return err
	}
	primaryItem, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}

	owned := slices.Clone(companions)
	for i := range owned {
		owned[i].RegistrationID = pending.RegistrationID
	}

	cond, err := createCondition()
	if err != nil {
		return err
	}

	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:                aws.String(s.cfg.RegistrationsTable),
			Item:                     primaryItem,
			ConditionExpression:      cond.Condition(),
			ExpressionAttributeNames: cond.Names(),
		},
	}}

	var ids []uuid.UUID
	if len(owned) > 0 {
		var items []map[string]types.AttributeValue
		items, ids, err = s.companionItems(owned)
		if err != nil {
			return err
		}
		for _, item := range items {
			writes = append(writes, types.TransactWriteItem{
				Put: &types.Put{TableName: aws.String(s.cfg.CompanionsTable), Item: item},
			})
		}
	}

	if err := s.transactWrite(ctx, writes, "failed to insert registration"); err != nil {
		return err
	}

	for i := range companions {
		companions[i].RegistrationID = pending.RegistrationID
		companions[i].CompanionID = ids[i]
	}
	*reg = pending
	return nil
}

// ListPrimaries implements store.RegistrationStore.
func (s *RegistrationStore) ListPrimaries(ctx context.Context, opts store.ListOptions) ([]models.PrimaryRegistration, error) {
	var records []registrationItem
	if err := s.scan(ctx, s.cfg.RegistrationsTable, &records); err != nil {
		return nil, err
	}

	// uuid v7 ids are time ordered so they break created_at ties
	slices.SortFunc(records, func(a, b registrationItem) int {
		return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.RegistrationID, b.RegistrationID))
	})
	if opts.NewestFirst {
		slices.Reverse(records)
	}

	primaries := make([]models.PrimaryRegistration, 0, len(records))
	for _, r := range records {
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		primaries = append(primaries, p)
	}
	return primaries, nil
}

// ListCompanions implements store.RegistrationStore. Entries come back in
// write order: batch time, then position within the batch.
func (s *RegistrationStore) ListCompanions(ctx context.Context) ([]models.CompanionEntry, error) {
	var records []companionItem
	if err := s.scan(ctx, s.cfg.CompanionsTable, &records); err != nil {
		return nil, err
	}

	slices.SortFunc(records, func(a, b companionItem) int {
		return cmp.Or(
			cmp.Compare(a.CreatedAt, b.CreatedAt),
			cmp.Compare(a.RegistrationID, b.RegistrationID),
			cmp.Compare(a.Position, b.Position),
		)
	})

	companions := make([]models.CompanionEntry, 0, len(records))
	for _, r := range records {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		companions = append(companions, c)
	}
	return companions, nil
}

func (s *RegistrationStore) scan(ctx context.Context, table string, out any) error {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:      aws.String(table),
		ConsistentRead: aws.Bool(true),
	})

	var items []map[string]types.AttributeValue
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return wrapAWSError(err, fmt.Sprintf("failed to scan %s", table))
		}
		items = append(items, page.Items...)
	}

	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", table, err)
	}
	return nil
}

// createCondition guards a primary put against overwriting an existing id.
func createCondition() (expression.Expression, error) {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("registration_id"))).
		Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("failed to build condition: %w", err)
	}
	return expr, nil
}

func registrationKey(id uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"registration_id": &types.AttributeValueMemberS{Value: id.String()},
	}
}

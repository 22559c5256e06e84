package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// CreateTables creates the registrations and companions tables with
// on-demand billing when they do not exist yet, and waits until both are
// active. Used by local setups and integration tests.
func CreateTables(ctx context.Context, client *dynamodb.Client, cfg Config) error {
	cfg.ApplyDefaults()

	tables := []*dynamodb.CreateTableInput{
		{
			TableName: aws.String(cfg.RegistrationsTable),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("registration_id"), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("registration_id"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		},
		{
			TableName: aws.String(cfg.CompanionsTable),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("registration_id"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("companion_id"), KeyType: types.KeyTypeRange},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("registration_id"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("companion_id"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		},
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	for _, input := range tables {
		_, err := client.CreateTable(ctx, input)
		var inUse *types.ResourceInUseException
		switch {
		case errors.As(err, &inUse):
			log.Debug().Str("table", *input.TableName).Msg("table already exists")
		case err != nil:
			return wrapAWSError(err, fmt.Sprintf("failed to create table %s", *input.TableName))
		default:
			log.Info().Str("table", *input.TableName).Msg("table created")
		}

		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: input.TableName}, 30*time.Second); err != nil {
			return fmt.Errorf("table %s not active: %w", *input.TableName, err)
		}
	}
	return nil
}

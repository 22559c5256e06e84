package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/mujeresenbici/rodada/internal/store"
	awsstore "github.com/mujeresenbici/rodada/internal/store/aws"
	memorystore "github.com/mujeresenbici/rodada/internal/store/memory"
	postgresstore "github.com/mujeresenbici/rodada/internal/store/postgres"
	sqlitestore "github.com/mujeresenbici/rodada/internal/store/sqlite"
	"github.com/rs/zerolog/log"
)

// StoreFlags selects and configures the record store.
type StoreFlags struct {
	StoreType string `name:"store" help:"record store (memory, sqlite, postgres or dynamodb)" default:"memory" env:"RODADA_STORE" enum:"memory,sqlite,postgres,dynamodb"`

	Postgres PostgresStoreFlags `embed:"" prefix:"postgres-"`
	SQLite   SQLiteStoreFlags   `embed:"" prefix:"sqlite-"`
	DynamoDB DynamoDBStoreFlags `embed:"" prefix:"dynamodb-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"1"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	QueryTimeout int32 `help:"query timeout in seconds, -1 to rely on request deadlines" default:"10"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"RODADA_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

type SQLiteStoreFlags struct {
	Path        string        `help:"SQLite database file" default:"rodada.db" env:"RODADA_SQLITE_PATH"`
	BusyTimeout time.Duration `help:"how long a write waits for the database lock" default:"5s"`
}

type DynamoDBStoreFlags struct {
	Region             string `help:"AWS region" default:"" env:"AWS_REGION"`
	RegistrationsTable string `help:"DynamoDB table for primary registrations" default:"rodada-registrations" env:"RODADA_DYNAMODB_REGISTRATIONS_TABLE"`
	CompanionsTable    string `help:"DynamoDB table for companions" default:"rodada-companions" env:"RODADA_DYNAMODB_COMPANIONS_TABLE"`
	CreateTables       bool   `help:"create the tables on startup when they are missing" default:"false"`

	// Endpoint override for local development
	EndpointURL string `help:"DynamoDB endpoint URL override (for DynamoDB Local)" default:"" env:"RODADA_DYNAMODB_ENDPOINT_URL"`
}

// checkCompanionLimit rejects a companion cap the selected store cannot
// write in one batch.
func (s *StoreFlags) checkCompanionLimit(maxCompanions int) error {
	if s.StoreType == "dynamodb" && maxCompanions > awsstore.MaxCompanions {
		return fmt.Errorf("the dynamodb store holds at most %d companions per registration, got --event-max-companions=%d", awsstore.MaxCompanions, maxCompanions)
	}
	return nil
}

// openedStore is a record store plus whatever has to be released with it.
type openedStore struct {
	store.AtomicRegistrationStore
	close func() error
}

func (o *openedStore) Close() error {
	if o.close == nil {
		return nil
	}
	return o.close()
}

// open creates the selected record store.
func (s *StoreFlags) open(ctx context.Context) (*openedStore, error) {
	switch s.StoreType {
	case "postgres":
		return s.openPostgres(ctx)
	case "sqlite":
		return s.openSQLite(ctx)
	case "dynamodb":
		return s.openDynamoDB(ctx)
	default:
		log.Warn().Msg("Using in-memory record store, registrations are lost on restart")
		return &openedStore{AtomicRegistrationStore: memorystore.NewRegistrationStore()}, nil
	}
}

func (s *StoreFlags) openPostgres(ctx context.Context) (*openedStore, error) {
	if err := s.Postgres.validate(); err != nil {
		return nil, fmt.Errorf("failed to validate postgres flags: %w", err)
	}

	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString:      s.Postgres.ConnString,
		MaxConns:        s.Postgres.MaxConns,
		MinConns:        s.Postgres.MinConns,
		MaxConnLifetime: s.Postgres.MaxConnLifetime,
		MaxConnIdleTime: s.Postgres.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	st, err := postgresstore.NewRegistrationStore(ctx, pool, &postgresstore.RegistrationStoreConfig{
		AutoMigrate:         s.Postgres.AutoMigrate,
		QueryTimeoutSeconds: s.Postgres.QueryTimeout,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := st.Start(); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Msg("Using PostgreSQL record store")
	return &openedStore{AtomicRegistrationStore: st, close: st.Stop}, nil
}

func (s *StoreFlags) openSQLite(ctx context.Context) (*openedStore, error) {
	st, err := sqlitestore.Open(ctx, &sqlitestore.Config{
		Path:        s.SQLite.Path,
		BusyTimeout: s.SQLite.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("path", s.SQLite.Path).Msg("Using SQLite record store")
	return &openedStore{AtomicRegistrationStore: st, close: st.Close}, nil
}

func (s *StoreFlags) openDynamoDB(ctx context.Context) (*openedStore, error) {
	var opts []func(*config.LoadOptions) error
	if s.DynamoDB.Region != "" {
		opts = append(opts, config.WithRegion(s.DynamoDB.Region))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*dynamodb.Options)
	if s.DynamoDB.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(s.DynamoDB.EndpointURL)
		})
	}
	client := dynamodb.NewFromConfig(awsConfig, clientOpts...)

	cfg := awsstore.Config{
		RegistrationsTable: s.DynamoDB.RegistrationsTable,
		CompanionsTable:    s.DynamoDB.CompanionsTable,
	}

	if s.DynamoDB.CreateTables {
		if err := awsstore.CreateTables(ctx, client, cfg); err != nil {
			return nil, fmt.Errorf("failed to create DynamoDB tables: %w", err)
		}
	}

	st, err := awsstore.NewRegistrationStore(client, cfg)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("registrations_table", cfg.RegistrationsTable).
		Str("companions_table", cfg.CompanionsTable).
		Msg("Using DynamoDB record store")
	return &openedStore{AtomicRegistrationStore: st}, nil
}

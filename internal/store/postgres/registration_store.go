package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/store"
	"github.com/rs/zerolog/log"
)

// RegistrationStore implements store.AtomicRegistrationStore on PostgreSQL.
// Ids and created_at come from column defaults.
type RegistrationStore struct {
	pool *pgxpool.Pool
	cfg  *RegistrationStoreConfig

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ store.AtomicRegistrationStore = (*RegistrationStore)(nil)

// NewRegistrationStore creates a store on an existing pool, running
// migrations first when cfg.AutoMigrate is set.
func NewRegistrationStore(ctx context.Context, pool *pgxpool.Pool, cfg *RegistrationStoreConfig) (*RegistrationStore, error) {
	if cfg == nil {
		cfg = &RegistrationStoreConfig{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Database migrations completed")
	}

	return &RegistrationStore{
		pool:   pool,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins logging connection pool statistics.
func (s *RegistrationStore) Start() error {
	log.Info().Msg("Starting PostgreSQL registration store")
	s.started = true
	go s.monitorConnectionPool()
	return nil
}

// Stop ends pool monitoring and closes the pool.
func (s *RegistrationStore) Stop() error {
	log.Info().Msg("Stopping PostgreSQL registration store")
	if s.started {
		close(s.stopCh)
		<-s.doneCh
		s.started = false
	}
	s.pool.Close()
	return nil
}

func (s *RegistrationStore) monitorConnectionPool() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.PoolStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := s.pool.Stat()
			log.Debug().
				Int32("total_conns", stats.TotalConns()).
				Int32("idle_conns", stats.IdleConns()).
				Int32("acquired_conns", stats.AcquiredConns()).
				Int64("acquire_count", stats.AcquireCount()).
				Int64("acquire_duration_ns", stats.AcquireDuration().Nanoseconds()).
				Msg("Connection pool stats")
		case <-s.stopCh:
			return
		}
	}
}

func (s *RegistrationStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.cfg.queryTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertPrimarySQL = `
	INSERT INTO registrations (name, place, age, group_name, phone, size)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING registration_id, created_at
`

const insertCompanionSQL = `
	INSERT INTO companions (registration_id, name, age, size)
	VALUES ($1, $2, $3, $4)
	RETURNING companion_id
`

func insertPrimary(ctx context.Context, q querier, reg *models.PrimaryRegistration) error {
	err := q.QueryRow(ctx, insertPrimarySQL,
		reg.Name, reg.Place, reg.Age, reg.Group, reg.Phone, reg.Size,
	).Scan(&reg.RegistrationID, &reg.CreatedAt)
	if err != nil {
		return mapPostgresError(fmt.Errorf("failed to insert registration: %w", err))
	}
	return nil
}

// insertCompanions sends every row in one batch. Outside an explicit
// transaction the batch runs as a single implicit transaction.
func insertCompanions(ctx context.Context, q querier, companions []models.CompanionEntry) error {
	batch := &pgx.Batch{}
	for _, c := range companions {
		batch.Queue(insertCompanionSQL, c.RegistrationID, c.Name, c.Age, c.Size)
	}

	results := q.SendBatch(ctx, batch)

	for i := range companions {
		if err := results.QueryRow().Scan(&companions[i].CompanionID); err != nil {
			_ = results.Close()
			return mapPostgresError(fmt.Errorf("failed to insert companion %d: %w", i, err))
		}
	}

	if err := results.Close(); err != nil {
		return mapPostgresError(fmt.Errorf("failed to insert companions: %w", err))
	}
	return nil
}

// InsertPrimary implements store.RegistrationStore.
func (s *RegistrationStore) InsertPrimary(ctx context.Context, reg *models.PrimaryRegistration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := insertPrimary(ctx, s.pool, reg); err != nil {
		return err
	}

	log.Debug().Str("registration_id", reg.RegistrationID.String()).Msg("Inserted registration")
	return nil
}

// InsertCompanions implements store.RegistrationStore.
func (s *RegistrationStore) InsertCompanions(ctx context.Context, companions []models.CompanionEntry) error {
	if err := store.ValidateBatch(companions); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := insertCompanions(ctx, s.pool, companions); err != nil {
		return err
	}

	log.Debug().
		Str("registration_id", companions[0].RegistrationID.String()).
		Int("companion_count", len(companions)).
		Msg("Inserted companions")
	return nil
}

// InsertRegistration implements store.AtomicRegistrationStore.
func (s *RegistrationStore) InsertRegistration(ctx context.Context, reg *models.PrimaryRegistration, companions []models.CompanionEntry) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var inserted models.PrimaryRegistration
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inserted = *reg
		if err := insertPrimary(ctx, tx, &inserted); err != nil {
			return err
		}
		if len(companions) == 0 {
			return nil
		}
		for i := range companions {
			companions[i].RegistrationID = inserted.RegistrationID
		}
		return insertCompanions(ctx, tx, companions)
	})
	if err != nil {
		return err
	}

	*reg = inserted
	return nil
}

// ListPrimaries implements store.RegistrationStore.
func (s *RegistrationStore) ListPrimaries(ctx context.Context, opts store.ListOptions) ([]models.PrimaryRegistration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT registration_id, name, place, age, group_name, phone, size, created_at
		FROM registrations
		ORDER BY seq
	`
	if opts.NewestFirst {
		query = `
			SELECT registration_id, name, place, age, group_name, phone, size, created_at
			FROM registrations
			ORDER BY created_at DESC, seq DESC
		`
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to list registrations: %w", err))
	}

	primaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PrimaryRegistration, error) {
		var p models.PrimaryRegistration
		err := row.Scan(&p.RegistrationID, &p.Name, &p.Place, &p.Age, &p.Group, &p.Phone, &p.Size, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to scan registrations: %w", err))
	}

	return primaries, nil
}

// ListCompanions implements store.RegistrationStore.
func (s *RegistrationStore) ListCompanions(ctx context.Context) ([]models.CompanionEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT companion_id, registration_id, name, age, size
		FROM companions
		ORDER BY seq
	`)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to list companions: %w", err))
	}

	companions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.CompanionEntry, error) {
		var c models.CompanionEntry
		err := row.Scan(&c.CompanionID, &c.RegistrationID, &c.Name, &c.Age, &c.Size)
		return c, err
	})
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to scan companions: %w", err))
	}

	return companions, nil
}

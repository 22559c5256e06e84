// Package sqlite stores registrations in a single SQLite file using the pure
// Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/store"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS registrations (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	registration_id TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL,
	place           TEXT NOT NULL,
	age             INTEGER NOT NULL CHECK (age >= 0),
	group_name      TEXT,
	phone           TEXT,
	size            TEXT,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_registrations_created_at ON registrations (created_at DESC, seq DESC);

CREATE TABLE IF NOT EXISTS companions (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	companion_id    TEXT NOT NULL UNIQUE,
	registration_id TEXT NOT NULL REFERENCES registrations (registration_id) ON DELETE CASCADE,
	name            TEXT NOT NULL,
	age             INTEGER NOT NULL CHECK (age >= 0),
	size            TEXT
);
CREATE INDEX IF NOT EXISTS idx_companions_registration_id ON companions (registration_id);
`

// Config holds the SQLite store settings.
type Config struct {
	// Path is the database file. Default: "rodada.db"
	Path string

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "rodada.db"
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("busy timeout must not be negative")
	}
	return nil
}

func (c *Config) dsn() string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		c.Path, c.BusyTimeout.Milliseconds())
}

// RegistrationStore implements store.AtomicRegistrationStore on SQLite.
type RegistrationStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.AtomicRegistrationStore = (*RegistrationStore)(nil)

// Open creates the database file if needed and ensures the schema exists.
func Open(ctx context.Context, cfg *Config) (*RegistrationStore, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer connection keeps SQLite locking simple
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Info().Str("path", cfg.Path).Msg("Opened SQLite registration store")

	return &RegistrationStore{db: db, now: time.Now}, nil
}

// WithClock overrides the clock used for created_at timestamps.
func (s *RegistrationStore) WithClock(now func() time.Time) *RegistrationStore {
	s.now = now
	return s
}

// Close releases the database handle.
func (s *RegistrationStore) Close() error {
	return s.db.Close()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *RegistrationStore) insertPrimary(ctx context.Context, q execer, reg *models.PrimaryRegistration) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	createdAt := s.now().UTC()

	_, err = q.ExecContext(ctx, `
		INSERT INTO registrations (registration_id, name, place, age, group_name, phone, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), reg.Name, reg.Place, reg.Age, reg.Group, reg.Phone, reg.Size, createdAt.UnixNano(),
	)
	if err != nil {
		return mapSQLiteError(fmt.Errorf("failed to insert registration: %w", err))
	}

	reg.RegistrationID = id
	reg.CreatedAt = createdAt
	return nil
}

func insertCompanions(ctx context.Context, tx *sql.Tx, companions []models.CompanionEntry) error {
	owner := companions[0].RegistrationID

	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM registrations WHERE registration_id = ?`, owner.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrRegistrationNotFound
	}
	if err != nil {
		return mapSQLiteError(fmt.Errorf("failed to check registration: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO companions (companion_id, registration_id, name, age, size)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return mapSQLiteError(fmt.Errorf("failed to prepare companion insert: %w", err))
	}
	defer func() { _ = stmt.Close() }()

	ids := make([]uuid.UUID, len(companions))
	for i, c := range companions {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, id.String(), owner.String(), c.Name, c.Age, c.Size); err != nil {
			return mapSQLiteError(fmt.Errorf("failed to insert companion %d: %w", i, err))
		}
		ids[i] = id
	}

	// ids are only handed back once every row is in
	for i := range companions {
		companions[i].CompanionID = ids[i]
	}
	return nil
}

func (s *RegistrationStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// InsertPrimary implements store.RegistrationStore.
func (s *RegistrationStore) InsertPrimary(ctx context.Context, reg *models.PrimaryRegistration) error {
	return s.insertPrimary(ctx, s.db, reg)
}

// InsertCompanions implements store.RegistrationStore. The batch is written
// in one transaction.
func (s *RegistrationStore) InsertCompanions(ctx context.Context, companions []models.CompanionEntry) error {
	if err := store.ValidateBatch(companions); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertCompanions(ctx, tx, companions)
	})
}

// InsertRegistration implements store.AtomicRegistrationStore.
func (s *RegistrationStore) InsertRegistration(ctx context.Context, reg *models.PrimaryRegistration, companions []models.CompanionEntry) error {
	inserted := *reg
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertPrimary(ctx, tx, &inserted); err != nil {
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
	query := `
		SELECT registration_id, name, place, age, group_name, phone, size, created_at
		FROM registrations ORDER BY seq`
	if opts.NewestFirst {
		query = `
		SELECT registration_id, name, place, age, group_name, phone, size, created_at
		FROM registrations ORDER BY created_at DESC, seq DESC`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to list registrations: %w", err))
	}
	defer func() { _ = rows.Close() }()

	primaries := []models.PrimaryRegistration{}
	for rows.Next() {
		var (
			p         models.PrimaryRegistration
			id        string
			createdAt int64
		)
		if err := rows.Scan(&id, &p.Name, &p.Place, &p.Age, &p.Group, &p.Phone, &p.Size, &createdAt); err != nil {
			return nil, mapSQLiteError(fmt.Errorf("failed to scan registration: %w", err))
		}
		if p.RegistrationID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid registration id %q: %w", id, err)
		}
		p.CreatedAt = time.Unix(0, createdAt).UTC()
		primaries = append(primaries, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to read registrations: %w", err))
	}

	return primaries, nil
}

// ListCompanions implements store.RegistrationStore.
func (s *RegistrationStore) ListCompanions(ctx context.Context) ([]models.CompanionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT companion_id, registration_id, name, age, size
		FROM companions ORDER BY seq`)
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to list companions: %w", err))
	}
	defer func() { _ = rows.Close() }()

	companions := []models.CompanionEntry{}
	for rows.Next() {
		var (
			c           models.CompanionEntry
			id, ownerID string
		)
		if err := rows.Scan(&id, &ownerID, &c.Name, &c.Age, &c.Size); err != nil {
			return nil, mapSQLiteError(fmt.Errorf("failed to scan companion: %w", err))
		}
		if c.CompanionID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid companion id %q: %w", id, err)
		}
		if c.RegistrationID, err = uuid.Parse(ownerID); err != nil {
			return nil, fmt.Errorf("invalid registration id %q: %w", ownerID, err)
		}
		companions = append(companions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to read companions: %w", err))
	}

	return companions, nil
}

// mapSQLiteError converts driver result codes to store sentinel errors.
func mapSQLiteError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	if sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return fmt.Errorf("%w: %w", store.ErrRegistrationNotFound, err)
	}

	// extended result codes carry the primary code in the low byte
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", store.ErrThrottled, err)
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}

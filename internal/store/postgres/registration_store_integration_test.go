//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/store"
	"github.com/mujeresenbici/rodada/internal/store/storetest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*RegistrationStore, *pgxpool.Pool, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, &PoolConfig{ConnString: connString})
	require.NoError(t, err)

	st, err := NewRegistrationStore(ctx, pool, &RegistrationStoreConfig{AutoMigrate: true})
	require.NoError(t, err)
	require.NoError(t, st.Start())

	cleanup := func() {
		_ = st.Stop()
		_ = container.Terminate(ctx)
	}

	return st, pool, cleanup
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE companions, registrations RESTART IDENTITY`)
	require.NoError(t, err)
}

func TestIntegration_RegistrationStore(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	storetest.Run(t, func(t *testing.T) store.AtomicRegistrationStore {
		truncate(t, pool)
		return st
	})
}

func TestIntegration_MigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	// a second store on the same database must skip applied versions
	_, err := NewRegistrationStore(ctx, pool, &RegistrationStoreConfig{AutoMigrate: true})
	require.NoError(t, err)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&count))
	require.Equal(t, len(mustLoadMigrations(t)), count)
}

func TestIntegration_InsertRegistrationRollsBack(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	reg := &models.PrimaryRegistration{Name: "Ana", Place: "Morelia", Age: 30}
	companions := []models.CompanionEntry{
		{Name: "Luz", Age: 8},
		{Name: "Sol", Age: -1}, // violates the age check
	}

	err := st.InsertRegistration(ctx, reg, companions)
	require.Error(t, err)
	require.Equal(t, uuid.Nil, reg.RegistrationID)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM registrations`).Scan(&count))
	require.Zero(t, count)
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM companions`).Scan(&count))
	require.Zero(t, count)
}

func TestIntegration_CompanionBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	reg := &models.PrimaryRegistration{Name: "Ana", Place: "Morelia", Age: 30}
	require.NoError(t, st.InsertPrimary(ctx, reg))

	err := st.InsertCompanions(ctx, []models.CompanionEntry{
		{RegistrationID: reg.RegistrationID, Name: "Luz", Age: 8},
		{RegistrationID: reg.RegistrationID, Name: "Sol", Age: -1},
	})
	require.Error(t, err)

	// the primary survives without companions
	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM registrations`).Scan(&count))
	require.Equal(t, 1, count)
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM companions`).Scan(&count))
	require.Zero(t, count)
}

func mustLoadMigrations(t *testing.T) []migration {
	t.Helper()
	migrations, err := loadMigrations()
	require.NoError(t, err)
	return migrations
}

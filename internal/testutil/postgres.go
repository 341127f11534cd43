// Package testutil provides test helpers including container management
// and test client utilities.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/galen-hood/tabletop/internal/config"
	"github.com/galen-hood/tabletop/internal/storage/postgres"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *postgres.Pool
	RawPool   *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPostgresContainer starts a PostgreSQL test container and returns
// a connected Pool.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected pool,
// or fails the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	pc := startPostgres(t)
	t.Cleanup(func() {
		pc.Pool.Close()
		_ = pc.container.Terminate(context.Background())
	})
	return pc
}

// startPostgres launches the container without tying its lifetime to a
// single test. The reaper sidecar collects it when the binary exits.
func startPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	dbCfg := config.DatabaseConfig{
		Host:            host,
		Port:            mappedPort.Int(),
		User:            "test",
		Password:        "test",
		Name:            "test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pool, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		t.Fatalf("connecting to test postgres: %v [%s]", err, time.Since(start))
	}

	t.Logf("postgres container started [%s]", time.Since(start))

	return &PostgresContainer{
		container: container,
		Pool:      pool,
		RawPool:   pool.DB(),
		Config:    dbCfg,
	}
}

// ApplyMigrations runs the schema creation SQL directly for tests.
// This avoids requiring the migrate tool in the test environment.
//
// Precondition: Pool must be connected.
// Postcondition: The full schema exists in the test database.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	schema := `
		CREATE TABLE IF NOT EXISTS hosts (
			id        BIGSERIAL    PRIMARY KEY,
			name      TEXT         NOT NULL,
			url       TEXT         NOT NULL UNIQUE,
			last_seen TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS games (
			id            BIGSERIAL   PRIMARY KEY,
			host_url      TEXT        NOT NULL REFERENCES hosts (url) ON DELETE CASCADE,
			url           TEXT        NOT NULL,
			active_scene  BIGINT      NOT NULL DEFAULT 0,
			last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (host_url, url)
		);

		CREATE TABLE IF NOT EXISTS scenes (
			id         BIGSERIAL PRIMARY KEY,
			game_id    BIGINT    NOT NULL REFERENCES games (id) ON DELETE CASCADE,
			backing_id BIGINT
		);

		CREATE TABLE IF NOT EXISTS tokens (
			id       BIGSERIAL        PRIMARY KEY,
			scene_id BIGINT           NOT NULL REFERENCES scenes (id) ON DELETE CASCADE,
			url      TEXT             NOT NULL,
			posx     INTEGER          NOT NULL DEFAULT 0,
			posy     INTEGER          NOT NULL DEFAULT 0,
			zorder   INTEGER          NOT NULL DEFAULT 0,
			size     INTEGER          NOT NULL,
			rotate   DOUBLE PRECISION NOT NULL DEFAULT 0,
			flipx    BOOLEAN          NOT NULL DEFAULT FALSE,
			locked   BOOLEAN          NOT NULL DEFAULT FALSE,
			text     TEXT             NOT NULL DEFAULT '',
			color    TEXT             NOT NULL DEFAULT '',
			modified TIMESTAMPTZ      NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tokens_scene_modified ON tokens (scene_id, modified);

		ALTER TABLE scenes DROP CONSTRAINT IF EXISTS fk_scenes_backing;
		ALTER TABLE scenes ADD CONSTRAINT fk_scenes_backing
			FOREIGN KEY (backing_id) REFERENCES tokens (id) ON DELETE SET NULL;

		CREATE TABLE IF NOT EXISTS rolls (
			id      BIGSERIAL   PRIMARY KEY,
			game_id BIGINT      NOT NULL REFERENCES games (id) ON DELETE CASCADE,
			name    TEXT        NOT NULL,
			color   TEXT        NOT NULL,
			sides   INTEGER     NOT NULL,
			result  INTEGER     NOT NULL,
			rolled  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_rolls_game_rolled ON rolls (game_id, rolled DESC);
	`

	if _, err := pc.RawPool.Exec(ctx, schema); err != nil {
		t.Fatalf("applying schema: %v", err)
	}

	t.Logf("schema applied [%s]", time.Since(start))
}

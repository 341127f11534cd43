package testutil

import (
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	sharedMu        sync.Mutex
	sharedContainer *PostgresContainer
)

// NewPool returns a connection pool backed by a shared PostgreSQL test
// container with the schema applied. The container is started on first
// use and reused by every test in the binary.
//
// Precondition: Docker must be available.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedContainer == nil {
		sharedContainer = startPostgres(t)
		sharedContainer.ApplyMigrations(t)
	}
	return sharedContainer.RawPool
}

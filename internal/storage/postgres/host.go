package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galen-hood/tabletop/internal/game/tabletop"
)

// ErrHostURLTaken is returned when creating a host whose URL slug is already used.
var ErrHostURLTaken = errors.New("host url already taken")

// HostRepository provides host persistence operations.
type HostRepository struct {
	db *pgxpool.Pool
}

// NewHostRepository creates a HostRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewHostRepository(db *pgxpool.Pool) *HostRepository {
	return &HostRepository{db: db}
}

// Create inserts a new host and returns it with the ID set.
//
// Precondition: h.URL must be a non-empty slug.
// Postcondition: Returns the created host, or ErrHostURLTaken on duplicate.
func (r *HostRepository) Create(ctx context.Context, h *tabletop.Host) (*tabletop.Host, error) {
	var out tabletop.Host
	err := r.db.QueryRow(ctx, `
		INSERT INTO hosts (name, url)
		VALUES ($1, $2)
		RETURNING id, name, url, last_seen`,
		h.Name, h.URL,
	).Scan(&out.ID, &out.Name, &out.URL, &out.LastSeen)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrHostURLTaken
		}
		return nil, fmt.Errorf("inserting host: %w", err)
	}
	return &out, nil
}

// GetByURL retrieves a host by its URL slug.
//
// Postcondition: Returns the host or tabletop.ErrNotFound.
func (r *HostRepository) GetByURL(ctx context.Context, url string) (*tabletop.Host, error) {
	var h tabletop.Host
	err := r.db.QueryRow(ctx, `
		SELECT id, name, url, last_seen FROM hosts WHERE url = $1`,
		url,
	).Scan(&h.ID, &h.Name, &h.URL, &h.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tabletop.ErrNotFound
		}
		return nil, fmt.Errorf("querying host: %w", err)
	}
	return &h, nil
}

// List returns all hosts ordered by URL.
func (r *HostRepository) List(ctx context.Context) ([]*tabletop.Host, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, url, last_seen FROM hosts ORDER BY url ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}
	defer rows.Close()

	hosts := make([]*tabletop.Host, 0)
	for rows.Next() {
		var h tabletop.Host
		if err := rows.Scan(&h.ID, &h.Name, &h.URL, &h.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning host row: %w", err)
		}
		hosts = append(hosts, &h)
	}
	return hosts, rows.Err()
}

// Touch records host activity at the given instant.
//
// Postcondition: Returns tabletop.ErrNotFound if no row was updated.
func (r *HostRepository) Touch(ctx context.Context, url string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE hosts SET last_seen = $2 WHERE url = $1`,
		url, at,
	)
	if err != nil {
		return fmt.Errorf("touching host: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tabletop.ErrNotFound
	}
	return nil
}

// Delete removes a host and, through cascading constraints, its games,
// scenes, tokens, and rolls.
//
// Postcondition: Returns tabletop.ErrNotFound if no row was deleted.
func (r *HostRepository) Delete(ctx context.Context, url string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM hosts WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("deleting host: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tabletop.ErrNotFound
	}
	return nil
}

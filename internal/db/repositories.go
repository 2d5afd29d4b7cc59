package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories aggregates the repository instances backed by a single
// connection pool, giving the server one handle for wiring and lifecycle
// management.
type Repositories struct {
	Documents *DocumentRepository
	Renders   *RenderRepository
	APIKeys   *APIKeyRepository

	pool *pgxpool.Pool
}

// NewRepositories constructs all repositories over a shared pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Documents: NewDocumentRepository(pool),
		Renders:   NewRenderRepository(pool),
		APIKeys:   NewAPIKeyRepository(pool),
		pool:      pool,
	}
}

// Close releases the underlying connection pool. Safe to call on a registry
// built without a pool (tests construct the struct directly).
func (r *Repositories) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// PingProbe reports database reachability for the health endpoint.
type PingProbe struct {
	pool *pgxpool.Pool
}

// NewPingProbe creates a health probe over the given pool.
func NewPingProbe(pool *pgxpool.Pool) *PingProbe {
	return &PingProbe{pool: pool}
}

// Name identifies the probe in health check responses.
func (p *PingProbe) Name() string { return "database" }

// Check pings the pool, respecting the context deadline.
func (p *PingProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

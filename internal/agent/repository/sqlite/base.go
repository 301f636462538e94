// Package sqlite provides the SQL-backed repository implementation. Despite
// the package name it serves both SQLite and PostgreSQL through the shared
// db.Pool; queries are written with ? placeholders and rebound per driver.
package sqlite

import (
	"fmt"

	"github.com/agentdeck/agentdeck/internal/db"
	"github.com/agentdeck/agentdeck/internal/db/dialect"
)

// Repository implements repository.Store over a db.Pool.
type Repository struct {
	pool     *db.Pool
	ownsPool bool
}

// New creates a repository over an existing pool (shared ownership; Close
// is a no-op).
func New(pool *db.Pool) (*Repository, error) {
	return newRepository(pool, false)
}

// Open opens the SQLite database at path and returns a repository that owns
// the connection.
func Open(path string) (*Repository, error) {
	pool, err := db.OpenSQLitePool(path)
	if err != nil {
		return nil, err
	}
	return newRepository(pool, true)
}

// OpenPostgres connects to PostgreSQL and returns a repository that owns
// the connection.
func OpenPostgres(dsn string, maxConns, minConns int) (*Repository, error) {
	pool, err := db.OpenPostgresPool(dsn, maxConns, minConns)
	if err != nil {
		return nil, err
	}
	return newRepository(pool, true)
}

func newRepository(pool *db.Pool, ownsPool bool) (*Repository, error) {
	repo := &Repository{pool: pool, ownsPool: ownsPool}
	if err := repo.initSchema(); err != nil {
		if ownsPool {
			_ = pool.Close()
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the underlying pool when this repository owns it.
func (r *Repository) Close() error {
	if !r.ownsPool {
		return nil
	}
	return r.pool.Close()
}

// initSchema creates the tables and indexes if they don't exist.
func (r *Repository) initSchema() error {
	w := r.pool.Writer()
	ts := dialect.Timestamp(w.DriverName())

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			prompt TEXT NOT NULL,
			configuration TEXT NOT NULL DEFAULT '{}',
			created_at %s NOT NULL,
			started_at %s,
			completed_at %s,
			error_name TEXT,
			error_message TEXT
		)`, ts, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agent_messages (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			sequence_number INTEGER NOT NULL,
			type TEXT NOT NULL,
			role TEXT,
			content TEXT NOT NULL,
			raw TEXT,
			metadata TEXT,
			created_at %s NOT NULL,
			UNIQUE(agent_id, sequence_number)
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_created_at ON agents(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_messages_agent_seq ON agent_messages(agent_id, sequence_number)`,
	}
	for _, stmt := range statements {
		if _, err := w.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

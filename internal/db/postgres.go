package db

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/agentdeck/agentdeck/internal/db/dialect"
)

// OpenPostgresPool opens a PostgreSQL connection using pgx and returns it as
// a Pool whose writer and reader share one *sqlx.DB (pgx pools internally).
// If maxConns or minConns are 0, they default to 25 and 5 respectively.
func OpenPostgresPool(dsn string, maxConns, minConns int) (*Pool, error) {
	db, err := sql.Open(dialect.PGX, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	shared := sqlx.NewDb(db, dialect.PGX)
	return NewPool(shared, shared), nil
}

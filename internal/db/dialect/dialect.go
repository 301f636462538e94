// Package dialect provides driver identification for SQLite/PostgreSQL
// portability in the repositories.
package dialect

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// Timestamp returns the SQL type used for wall-clock columns.
//
//	SQLite:   TIMESTAMP
//	Postgres: TIMESTAMPTZ
func Timestamp(driver string) string {
	if IsPostgres(driver) {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

package storage

import (
	"os"

	"github.com/pkg/errors"
)

// InitStore opens the job store for CLI commands. An empty connection string
// falls back to DATABASE_URL so `.env` files loaded at startup keep working.
func InitStore(dbConnStr string) (*PostgresStore, error) {
	if dbConnStr == "" {
		dbConnStr = os.Getenv("DATABASE_URL")
	}
	if dbConnStr == "" {
		return nil, errors.New("no database connection string: set --db or DATABASE_URL")
	}
	store, err := NewPostgresStore(dbConnStr)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to job store")
	}
	return store, nil
}

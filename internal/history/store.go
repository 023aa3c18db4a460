// Package history keeps a DuckDB ledger of classified honeypot events. It
// is diagnostic only: the indicator never depends on it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/toucan/internal/history/migrate"
)

const defaultQueryTimeout = 10 * time.Second

// Store manages the DuckDB connection for the detection ledger.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	QueryTimeout time.Duration
}

// NewStore opens or creates the ledger. An empty dbPath keeps it in memory.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("history: create db dir: %w", err)
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	qt := defaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), qt)
	defer cancel()
	if _, err := migrate.NewRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the configured path. Empty means in-memory.
func (s *Store) DBPath() string {
	return s.dbPath
}

func (s *Store) queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

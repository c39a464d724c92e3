package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	_ "modernc.org/sqlite"
)

// memoryPath keeps the database in process memory.
const memoryPath = ":memory:"

// openSQLite opens the Community tier database with modernc.org/sqlite (no CGO).
//
// Every validation that carries a payer id writes a payment row, so writes
// are serialised on a single connection and readers rely on WAL.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./harrier.db"
	}

	var dsn string
	if path == memoryPath {
		// A private in-memory database only lives as long as its connection.
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	} else {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if path == memoryPath {
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database %s: %w", path, err)
	}

	return db, nil
}

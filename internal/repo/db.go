// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and schema migrations.
package repo

import (
	"os"
	"path/filepath"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
//
// The pool is pinned to a single connection: interleaved independent
// connections to the embedded store caused WAL contention under the
// scheduler's batch jobs, so every read/write serializes through one
// shared handle. Callers must keep each operation to a single statement
// or an explicit transaction and never hold the handle across a network
// call.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool of one: serialized access to the shared handle.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the orchestration schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Cadence{},
		&domain.CadenceStep{},
		&domain.Enrollment{},
		&domain.ActionLogEntry{},
		&domain.Lead{},
		&domain.OutreachRecord{},
		&domain.PipelineTransition{},
	)
}

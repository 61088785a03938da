package repo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "nope", "app.db")); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestOpenSQLite_PoolOfOneAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("max open conns = %d; want a pool of one", got)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// Schema is usable end to end.
	c := &domain.Cadence{Name: "smoke", DurationDays: 3, IsActive: true, TenantID: "t1"}
	if err := CreateCadence(context.Background(), db, c); err != nil {
		t.Fatalf("CreateCadence after migrate: %v", err)
	}
}

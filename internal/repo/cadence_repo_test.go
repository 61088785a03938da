package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

func newCadenceRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("cadence_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestCreateCadence_GeneratesID(t *testing.T) {
	db := newCadenceRepoDB(t, &domain.Cadence{})

	c := &domain.Cadence{Name: "default outreach", DurationDays: 7, IsActive: true, TenantID: "t1"}
	if err := CreateCadence(context.Background(), db, c); err != nil {
		t.Fatalf("CreateCadence: %v", err)
	}
	if c.ID == "" {
		t.Fatal("expected generated UUID")
	}
}

func TestGetCadence_TenantScopedAndActiveOnly(t *testing.T) {
	db := newCadenceRepoDB(t, &domain.Cadence{})
	ctx := context.Background()

	active := &domain.Cadence{Name: "a", DurationDays: 5, IsActive: true, TenantID: "t1"}
	inactive := &domain.Cadence{Name: "b", DurationDays: 5, IsActive: false, TenantID: "t1"}
	for _, c := range []*domain.Cadence{active, inactive} {
		if err := CreateCadence(ctx, db, c); err != nil {
			t.Fatalf("CreateCadence: %v", err)
		}
	}

	if _, err := GetCadence(ctx, db, active.ID, "t1"); err != nil {
		t.Fatalf("GetCadence active: %v", err)
	}
	if _, err := GetCadence(ctx, db, inactive.ID, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive cadence should be invisible, got %v", err)
	}
	if _, err := GetCadence(ctx, db, active.ID, "t2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other tenant should not see cadence, got %v", err)
	}
}

func TestGetDefaultCadence_MostRecentWins(t *testing.T) {
	db := newCadenceRepoDB(t, &domain.Cadence{})
	ctx := context.Background()

	old := &domain.Cadence{Name: "v1", DurationDays: 5, IsDefault: true, IsActive: true, TenantID: "t1",
		CreatedAt: time.Now().Add(-time.Hour)}
	cur := &domain.Cadence{Name: "v2", DurationDays: 7, IsDefault: true, IsActive: true, TenantID: "t1",
		CreatedAt: time.Now()}
	for _, c := range []*domain.Cadence{old, cur} {
		if err := CreateCadence(ctx, db, c); err != nil {
			t.Fatalf("CreateCadence: %v", err)
		}
	}

	got, err := GetDefaultCadence(ctx, db, "t1")
	if err != nil {
		t.Fatalf("GetDefaultCadence: %v", err)
	}
	if got.ID != cur.ID {
		t.Fatalf("got %q; want most recent default %q", got.Name, cur.Name)
	}

	if _, err := GetDefaultCadence(ctx, db, "t2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("tenant without default: got %v; want ErrNotFound", err)
	}
}

func TestListStepsForDay_OrderAndFilters(t *testing.T) {
	db := newCadenceRepoDB(t, &domain.Cadence{}, &domain.CadenceStep{})
	ctx := context.Background()

	c := &domain.Cadence{Name: "c", DurationDays: 7, IsActive: true, TenantID: "t1"}
	if err := CreateCadence(ctx, db, c); err != nil {
		t.Fatalf("CreateCadence: %v", err)
	}

	steps := []*domain.CadenceStep{
		{CadenceID: c.ID, Day: 3, StepOrder: 2, Channel: domain.ChannelEmail, Content: "second", ConditionType: domain.ConditionAlways, IsActive: true, TenantID: "t1"},
		{CadenceID: c.ID, Day: 3, StepOrder: 1, Channel: domain.ChannelMessage, Content: "first", ConditionType: domain.ConditionAlways, IsActive: true, TenantID: "t1"},
		{CadenceID: c.ID, Day: 3, StepOrder: 3, Channel: domain.ChannelMessage, Content: "inactive", ConditionType: domain.ConditionAlways, IsActive: false, TenantID: "t1"},
		{CadenceID: c.ID, Day: 4, StepOrder: 1, Channel: domain.ChannelMessage, Content: "other day", ConditionType: domain.ConditionAlways, IsActive: true, TenantID: "t1"},
	}
	for _, s := range steps {
		if err := CreateCadenceStep(ctx, db, s); err != nil {
			t.Fatalf("CreateCadenceStep: %v", err)
		}
	}

	got, err := ListStepsForDay(ctx, db, c.ID, 3, "t1")
	if err != nil {
		t.Fatalf("ListStepsForDay: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d; want 2 (inactive and other-day filtered)", len(got))
	}
	if got[0].Content != "first" || got[1].Content != "second" {
		t.Fatalf("wrong order: %q, %q", got[0].Content, got[1].Content)
	}

	empty, err := ListStepsForDay(ctx, db, c.ID, 6, "t1")
	if err != nil {
		t.Fatalf("ListStepsForDay empty day: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("day without steps: len = %d; want 0", len(empty))
	}
}

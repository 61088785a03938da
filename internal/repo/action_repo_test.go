package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

func newActionRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("action_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.ActionLogEntry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newEntry(enrollment, step string, day int) *domain.ActionLogEntry {
	return &domain.ActionLogEntry{
		EnrollmentID: enrollment,
		StepID:       step,
		ContactID:    "555",
		Channel:      domain.ChannelMessage,
		Day:          day,
		ContentSent:  "hello",
		TenantID:     "t1",
	}
}

func TestCreateActionLog_DuplicateKey(t *testing.T) {
	db := newActionRepoDB(t)
	ctx := context.Background()

	if err := CreateActionLog(ctx, db, newEntry("e1", "s1", 1)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := CreateActionLog(ctx, db, newEntry("e1", "s1", 1))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second insert: got %v; want ErrDuplicate", err)
	}

	// Different day for the same (enrollment, step) is a new key.
	if err := CreateActionLog(ctx, db, newEntry("e1", "s1", 2)); err != nil {
		t.Fatalf("different day: %v", err)
	}
}

func TestCreateActionLog_Defaults(t *testing.T) {
	db := newActionRepoDB(t)

	a := newEntry("e1", "s1", 1)
	if err := CreateActionLog(context.Background(), db, a); err != nil {
		t.Fatalf("CreateActionLog: %v", err)
	}
	if a.ID == "" || a.Status != domain.ActionPending || a.ExecutedAt.IsZero() {
		t.Fatalf("defaults not applied: %+v", a)
	}
}

func TestGetActionForStep(t *testing.T) {
	db := newActionRepoDB(t)
	ctx := context.Background()

	if _, err := GetActionForStep(ctx, db, "e1", "s1", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key: got %v; want ErrNotFound", err)
	}
	if err := CreateActionLog(ctx, db, newEntry("e1", "s1", 1)); err != nil {
		t.Fatalf("CreateActionLog: %v", err)
	}
	got, err := GetActionForStep(ctx, db, "e1", "s1", 1)
	if err != nil {
		t.Fatalf("GetActionForStep: %v", err)
	}
	if got.EnrollmentID != "e1" || got.Day != 1 {
		t.Fatalf("wrong entry: %+v", got)
	}
}

func TestUpdateActionStatusIfNewer_Monotonic(t *testing.T) {
	db := newActionRepoDB(t)
	ctx := context.Background()

	a := newEntry("e1", "s1", 1)
	a.Status = domain.ActionSent
	if err := CreateActionLog(ctx, db, a); err != nil {
		t.Fatalf("CreateActionLog: %v", err)
	}

	// sent -> delivered advances.
	ok, err := UpdateActionStatusIfNewer(ctx, db, a.ID, domain.ActionDelivered)
	if err != nil || !ok {
		t.Fatalf("delivered: ok=%v err=%v; want update", ok, err)
	}
	// delivered -> read advances.
	ok, err = UpdateActionStatusIfNewer(ctx, db, a.ID, domain.ActionRead)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v; want update", ok, err)
	}
	// read -> delivered must not regress.
	ok, err = UpdateActionStatusIfNewer(ctx, db, a.ID, domain.ActionDelivered)
	if err != nil || ok {
		t.Fatalf("regress: ok=%v err=%v; want no-op", ok, err)
	}
	// read -> failed must not overwrite a proven read.
	ok, err = UpdateActionStatusIfNewer(ctx, db, a.ID, domain.ActionFailed)
	if err != nil || ok {
		t.Fatalf("failed after read: ok=%v err=%v; want no-op", ok, err)
	}

	got, err := GetActionLog(ctx, db, a.ID)
	if err != nil {
		t.Fatalf("GetActionLog: %v", err)
	}
	if got.Status != domain.ActionRead {
		t.Fatalf("status = %q; want read", got.Status)
	}
}

func TestLastSentContent(t *testing.T) {
	db := newActionRepoDB(t)
	ctx := context.Background()

	if _, err := LastSentContent(ctx, db, "555", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no entries: got %v; want ErrNotFound", err)
	}

	older := newEntry("e1", "s1", 1)
	older.Status = domain.ActionSent
	older.ContentSent = "day one touch"
	older.ExecutedAt = time.Now().Add(-time.Hour)
	newer := newEntry("e1", "s2", 3)
	newer.Status = domain.ActionDelivered
	newer.ContentSent = "day three touch"
	newer.ExecutedAt = time.Now()
	failed := newEntry("e1", "s3", 4)
	failed.Status = domain.ActionFailed
	failed.ContentSent = "never left"
	failed.ExecutedAt = time.Now().Add(time.Minute)
	for _, a := range []*domain.ActionLogEntry{older, newer, failed} {
		if err := CreateActionLog(ctx, db, a); err != nil {
			t.Fatalf("CreateActionLog: %v", err)
		}
	}

	got, err := LastSentContent(ctx, db, "555", "t1")
	if err != nil {
		t.Fatalf("LastSentContent: %v", err)
	}
	if got != "day three touch" {
		t.Fatalf("got %q; want most recent dispatched content", got)
	}
}

func TestListFailedActions_WindowAndCap(t *testing.T) {
	db := newActionRepoDB(t)
	ctx := context.Background()

	now := time.Now()
	recent := newEntry("e1", "s1", 1)
	recent.Status = domain.ActionFailed
	recent.ExecutedAt = now.Add(-time.Hour)
	stale := newEntry("e1", "s2", 2)
	stale.Status = domain.ActionFailed
	stale.ExecutedAt = now.Add(-48 * time.Hour)
	exhausted := newEntry("e1", "s3", 3)
	exhausted.Status = domain.ActionFailed
	exhausted.ExecutedAt = now.Add(-time.Hour)
	exhausted.RetryCount = 3
	sent := newEntry("e1", "s4", 4)
	sent.Status = domain.ActionSent
	sent.ExecutedAt = now.Add(-time.Hour)
	for _, a := range []*domain.ActionLogEntry{recent, stale, exhausted, sent} {
		if err := CreateActionLog(ctx, db, a); err != nil {
			t.Fatalf("CreateActionLog: %v", err)
		}
	}

	got, err := ListFailedActions(ctx, db, "t1", now.Add(-24*time.Hour), 3)
	if err != nil {
		t.Fatalf("ListFailedActions: %v", err)
	}
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Fatalf("got %d entries; want only the recent under-cap failure", len(got))
	}
}

func TestSweepStalePendingActions(t *testing.T) {
	db := newActionRepoDB(t)
	ctx := context.Background()

	now := time.Now()
	stale := newEntry("e1", "s1", 1)
	stale.Status = domain.ActionPending
	stale.ExecutedAt = now.Add(-2 * time.Hour)
	fresh := newEntry("e1", "s2", 2)
	fresh.Status = domain.ActionPending
	fresh.ExecutedAt = now.Add(-time.Minute)
	task := newEntry("e1", "s3", 3)
	task.Status = domain.ActionPending
	task.Channel = domain.ChannelTask
	task.ExecutedAt = now.Add(-2 * time.Hour)
	sent := newEntry("e1", "s4", 4)
	sent.Status = domain.ActionSent
	sent.ExecutedAt = now.Add(-2 * time.Hour)
	for _, a := range []*domain.ActionLogEntry{stale, fresh, task, sent} {
		if err := CreateActionLog(ctx, db, a); err != nil {
			t.Fatalf("CreateActionLog: %v", err)
		}
	}

	n, err := SweepStalePendingActions(ctx, db, "t1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("SweepStalePendingActions: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d; want only the stale pending message", n)
	}

	got, err := GetActionLog(ctx, db, stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if got.Status != domain.ActionFailed || got.ErrorMessage == "" {
		t.Fatalf("stale = %s %q; want failed with a reason", got.Status, got.ErrorMessage)
	}
	for name, a := range map[string]*domain.ActionLogEntry{"fresh": fresh, "task": task, "sent": sent} {
		got, err := GetActionLog(ctx, db, a.ID)
		if err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		if got.Status != a.Status {
			t.Fatalf("%s = %s; want %s untouched", name, got.Status, a.Status)
		}
	}
}

package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

func newOutreachRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("outreach_repo_test_%d.db", time.Now().UnixNano()))
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
	if err := db.AutoMigrate(&domain.OutreachRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestMarkOutreachSent_QueuedOnly(t *testing.T) {
	db := newOutreachRepoDB(t)
	ctx := context.Background()

	rec := &domain.OutreachRecord{Phone: "555", TenantID: "t1"}
	if err := CreateOutreachRecord(ctx, db, rec); err != nil {
		t.Fatalf("CreateOutreachRecord: %v", err)
	}
	if rec.Status != domain.OutreachQueued {
		t.Fatalf("status = %q; want queued default", rec.Status)
	}

	at := time.Now().UTC()
	if err := MarkOutreachSent(ctx, db, rec.ID, at); err != nil {
		t.Fatalf("MarkOutreachSent: %v", err)
	}
	// Promoting again must fail: the record is no longer queued.
	if err := MarkOutreachSent(ctx, db, rec.ID, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second promote: got %v; want ErrNotFound", err)
	}

	sent, err := ListOutreachByStatus(ctx, db, "t1", domain.OutreachSent)
	if err != nil || len(sent) != 1 {
		t.Fatalf("sent list: len=%d err=%v; want 1", len(sent), err)
	}
	if sent[0].SentAt == nil {
		t.Fatal("sent_at not stamped")
	}
}

func TestDuplicateOutreachDetectionAndPrune(t *testing.T) {
	db := newOutreachRepoDB(t)
	ctx := context.Background()

	mk := func(phone string, created time.Time) *domain.OutreachRecord {
		r := &domain.OutreachRecord{Phone: phone, TenantID: "t1", CreatedAt: created}
		if err := CreateOutreachRecord(ctx, db, r); err != nil {
			t.Fatalf("CreateOutreachRecord: %v", err)
		}
		return r
	}

	now := time.Now()
	mk("111", now.Add(-2*time.Hour))
	mk("111", now.Add(-time.Hour))
	keep := mk("111", now)
	mk("222", now)

	phones, err := ListDuplicateOutreachPhones(ctx, db, "t1")
	if err != nil {
		t.Fatalf("ListDuplicateOutreachPhones: %v", err)
	}
	sort.Strings(phones)
	if len(phones) != 1 || phones[0] != "111" {
		t.Fatalf("phones = %v; want [111]", phones)
	}

	n, err := DeleteOlderOutreachDuplicates(ctx, db, "111", "t1")
	if err != nil || n != 2 {
		t.Fatalf("deleted %d, err %v; want 2", n, err)
	}

	var remaining []domain.OutreachRecord
	if err := db.Where("phone = ? AND tenant_id = ?", "111", "t1").Find(&remaining).Error; err != nil {
		t.Fatalf("find remaining: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != keep.ID {
		t.Fatalf("kept wrong row: %+v", remaining)
	}

	// No duplicates left.
	phones, err = ListDuplicateOutreachPhones(ctx, db, "t1")
	if err != nil || len(phones) != 0 {
		t.Fatalf("after prune: %v err %v; want none", phones, err)
	}
}

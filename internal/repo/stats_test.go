package repo

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

func newStatsDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("stats_test_%d.db", time.Now().UnixNano()))
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

func seedAction(t *testing.T, db *gorm.DB, step string, status domain.ActionStatus, at time.Time) {
	t.Helper()
	a := &domain.ActionLogEntry{
		EnrollmentID: "e1",
		StepID:       step,
		ContactID:    "555",
		Channel:      domain.ChannelMessage,
		Day:          1,
		Status:       status,
		ExecutedAt:   at,
		TenantID:     "t1",
	}
	if err := CreateActionLog(context.Background(), db, a); err != nil {
		t.Fatalf("seed action: %v", err)
	}
}

func TestActionLogStats_CountsAndRates(t *testing.T) {
	db := newStatsDB(t)
	now := time.Now()

	seedAction(t, db, "s1", domain.ActionSent, now)
	seedAction(t, db, "s2", domain.ActionDelivered, now)
	seedAction(t, db, "s3", domain.ActionRead, now)
	seedAction(t, db, "s4", domain.ActionFailed, now)
	seedAction(t, db, "s5", domain.ActionPending, now)
	// Outside the window.
	seedAction(t, db, "s6", domain.ActionSent, now.Add(-48*time.Hour))

	st, err := ActionLogStats(context.Background(), db, "t1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ActionLogStats: %v", err)
	}
	if st.Total != 5 || st.Sent != 1 || st.Delivered != 1 || st.Read != 1 || st.Failed != 1 || st.Pending != 1 {
		t.Fatalf("counts: %+v", st)
	}
	// dispatched = 4; delivered+read = 2; read = 1
	if math.Abs(st.DeliveryRate-0.5) > 1e-9 {
		t.Fatalf("delivery rate = %v; want 0.5", st.DeliveryRate)
	}
	if math.Abs(st.ReadRate-0.25) > 1e-9 {
		t.Fatalf("read rate = %v; want 0.25", st.ReadRate)
	}
}

func TestActionLogStats_EmptyWindow(t *testing.T) {
	db := newStatsDB(t)

	st, err := ActionLogStats(context.Background(), db, "t1", time.Now())
	if err != nil {
		t.Fatalf("ActionLogStats: %v", err)
	}
	if st.Total != 0 || st.DeliveryRate != 0 || st.ReadRate != 0 {
		t.Fatalf("empty window should be all zeros: %+v", st)
	}
}

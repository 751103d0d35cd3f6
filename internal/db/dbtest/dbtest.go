// Package dbtest opens isolated in-memory databases and seeds fixtures for repo tests.
package dbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/suPer8Hu/playmate/internal/db"
	"github.com/suPer8Hu/playmate/internal/models"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open returns a migrated in-memory database private to the calling test.
func Open(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	tb.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, address string) *models.User {
	tb.Helper()
	u := &models.User{Address: address}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uint64, sessionID string, lastActivity time.Time) *models.Session {
	tb.Helper()
	s := &models.Session{
		SessionID:      sessionID,
		UserID:         userID,
		Lifecycle:      models.LifecycleActive,
		Phase:          models.PhaseDiscovery,
		LastActivityAt: lastActivity,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed session: %v", err)
	}
	return s
}

func SeedItem(tb testing.TB, ctx context.Context, tx *gorm.DB, item *models.Item) *models.Item {
	tb.Helper()
	if err := tx.WithContext(ctx).Create(item).Error; err != nil {
		tb.Fatalf("seed item %q: %v", item.Title, err)
	}
	return item
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB 创建内存测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "Failed to open test database")

	err = AutoMigrate(db, config.NewNopLogger())
	require.NoError(t, err, "Failed to migrate test database")

	return db
}

func TestToolRunRepository_UpsertReplaces(t *testing.T) {
	repo := NewToolRunRepository(setupTestDB(t))
	ctx := context.Background()

	first := &domain.ToolRun{
		BatchID:   "batch-1",
		Tool:      "flowdroid",
		APKName:   "a.apk",
		Status:    domain.RunStatusTimeout,
		ExitCode:  -1,
		StartedAt: time.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, first))

	second := &domain.ToolRun{
		BatchID:         "batch-2",
		Tool:            "flowdroid",
		APKName:         "a.apk",
		Status:          domain.RunStatusCompleted,
		DurationSeconds: 42.5,
		StartedAt:       time.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, second))

	runs, err := repo.FindByTool(ctx, "flowdroid")
	require.NoError(t, err)
	require.Len(t, runs, 1, "unique (tool, apk_name)")
	assert.Equal(t, domain.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, "batch-2", runs[0].BatchID)
	assert.Equal(t, 42.5, runs[0].DurationSeconds)
	assert.Equal(t, 0, runs[0].ExitCode)
}

func TestToolRunRepository_UpsertBatchAndQueries(t *testing.T) {
	repo := NewToolRunRepository(setupTestDB(t))
	ctx := context.Background()

	runs := []*domain.ToolRun{
		{Tool: "apkid", APKName: "a.apk", Status: domain.RunStatusCompleted, DurationSeconds: 3.1},
		{Tool: "apkid", APKName: "b.apk", Status: domain.RunStatusTimeout},
		{Tool: "mobsf", APKName: "a.apk", Status: domain.RunStatusFailed, ErrorMessage: "upload: 500"},
		{Tool: "mobsf", APKName: "b.apk", Status: domain.RunStatusTimeout},
	}
	require.NoError(t, repo.UpsertBatch(ctx, runs))
	require.NoError(t, repo.UpsertBatch(ctx, nil))

	found, err := repo.Find(ctx, "mobsf", "a.apk")
	require.NoError(t, err)
	assert.Equal(t, "upload: 500", found.ErrorMessage)

	timeouts, err := repo.ListByStatus(ctx, domain.RunStatusTimeout, 0)
	require.NoError(t, err)
	assert.Len(t, timeouts, 2)

	limited, err := repo.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.RunStatusCompleted])
	assert.Equal(t, int64(2), counts[domain.RunStatusTimeout])
	assert.Equal(t, int64(1), counts[domain.RunStatusFailed])

	require.NoError(t, repo.Delete(ctx, "apkid", "b.apk"))
	_, err = repo.Find(ctx, "apkid", "b.apk")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestInitDB_SQLiteFile(t *testing.T) {
	cfg := &config.DatabaseConfig{Type: "sqlite", Path: t.TempDir() + "/sub/bench.db"}

	db, err := InitDB(cfg, config.NewNopLogger())
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&domain.ToolRun{}))
}

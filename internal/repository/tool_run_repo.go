package repository

import (
	"context"

	"github.com/apk-analysis/apk-toolbench/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ToolRunRepository 工具执行记录 Repository
type ToolRunRepository interface {
	Upsert(ctx context.Context, run *domain.ToolRun) error
	UpsertBatch(ctx context.Context, runs []*domain.ToolRun) error
	Find(ctx context.Context, tool, apk string) (*domain.ToolRun, error)
	FindByTool(ctx context.Context, tool string) ([]*domain.ToolRun, error)
	ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]*domain.ToolRun, error)
	List(ctx context.Context, limit int) ([]*domain.ToolRun, error)
	CountByStatus(ctx context.Context) (map[domain.RunStatus]int64, error)
	Delete(ctx context.Context, tool, apk string) error
}

type toolRunRepo struct {
	db *gorm.DB
}

// NewToolRunRepository 创建工具执行记录 Repository
func NewToolRunRepository(db *gorm.DB) ToolRunRepository {
	return &toolRunRepo{db: db}
}

var upsertClause = clause.OnConflict{
	Columns: []clause.Column{{Name: "tool"}, {Name: "apk_name"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"batch_id", "status", "duration_seconds", "exit_code", "error_message", "started_at", "updated_at",
	}),
}

// Upsert 插入或更新 (tool, apk_name) 对应的记录
func (r *toolRunRepo) Upsert(ctx context.Context, run *domain.ToolRun) error {
	return r.db.WithContext(ctx).Clauses(upsertClause).Create(run).Error
}

// UpsertBatch 在一个事务中批量 Upsert
func (r *toolRunRepo) UpsertBatch(ctx context.Context, runs []*domain.ToolRun) error {
	if len(runs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, run := range runs {
			if err := tx.Clauses(upsertClause).Create(run).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Find 查询单条记录
func (r *toolRunRepo) Find(ctx context.Context, tool, apk string) (*domain.ToolRun, error) {
	var run domain.ToolRun
	err := r.db.WithContext(ctx).Where("tool = ? AND apk_name = ?", tool, apk).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FindByTool 查询某个工具的全部记录
func (r *toolRunRepo) FindByTool(ctx context.Context, tool string) ([]*domain.ToolRun, error) {
	var runs []*domain.ToolRun
	err := r.db.WithContext(ctx).Where("tool = ?", tool).Order("apk_name").Find(&runs).Error
	return runs, err
}

// ListByStatus 按状态查询, limit <= 0 表示不限制
func (r *toolRunRepo) ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]*domain.ToolRun, error) {
	var runs []*domain.ToolRun
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}

// List 按更新时间倒序查询
func (r *toolRunRepo) List(ctx context.Context, limit int) ([]*domain.ToolRun, error) {
	var runs []*domain.ToolRun
	q := r.db.WithContext(ctx).Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}

// CountByStatus 各状态的记录数
func (r *toolRunRepo) CountByStatus(ctx context.Context) (map[domain.RunStatus]int64, error) {
	var rows []struct {
		Status domain.RunStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&domain.ToolRun{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.RunStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// Delete 删除记录
func (r *toolRunRepo) Delete(ctx context.Context, tool, apk string) error {
	return r.db.WithContext(ctx).Where("tool = ? AND apk_name = ?", tool, apk).Delete(&domain.ToolRun{}).Error
}

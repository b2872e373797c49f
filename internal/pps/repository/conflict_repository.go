package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"gorm.io/gorm"
)

// ConflictRepository 冲突记录仓库
type ConflictRepository struct {
	db *gorm.DB
}

// NewConflictRepository 创建冲突记录仓库
func NewConflictRepository(db *gorm.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

// ConflictFilter 冲突列表过滤条件
type ConflictFilter struct {
	TodoID   *int64
	Resolved *bool
	Severity string
}

// List 列出冲突
func (r *ConflictRepository) List(ctx context.Context, f *ConflictFilter) ([]entity.Conflict, error) {
	var conflicts []entity.Conflict
	query := r.db.WithContext(ctx).Model(&entity.Conflict{})
	if f.TodoID != nil {
		query = query.Where("todo_id = ? OR related_todo_id = ?", *f.TodoID, *f.TodoID)
	}
	if f.Resolved != nil {
		query = query.Where("resolved = ?", *f.Resolved)
	}
	if f.Severity != "" {
		query = query.Where("severity = ?", f.Severity)
	}
	err := query.Order("created_at DESC, id DESC").Find(&conflicts).Error
	return conflicts, err
}

// Create 创建冲突记录
func (r *ConflictRepository) Create(ctx context.Context, conflict *entity.Conflict) error {
	return r.db.WithContext(ctx).Create(conflict).Error
}

// ReplaceUnresolved 冲突检测器重跑：删除全部未解决记录，写入新一批。
// 已解决的记录保留，作为处理历史。
func (r *ConflictRepository) ReplaceUnresolved(ctx context.Context, conflicts []entity.Conflict) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resolved = ?", false).Delete(&entity.Conflict{}).Error; err != nil {
			return err
		}
		for i := range conflicts {
			conflicts[i].ID = 0
			conflicts[i].Resolved = false
			if err := tx.Create(&conflicts[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Resolve 用户显式解决冲突
func (r *ConflictRepository) Resolve(ctx context.Context, id int64) (*entity.Conflict, error) {
	var conflict entity.Conflict
	err := r.db.WithContext(ctx).First(&conflict, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	conflict.Resolved = true
	if err := r.db.WithContext(ctx).Save(&conflict).Error; err != nil {
		return nil, err
	}
	return &conflict, nil
}

// UnresolvedTodoIDs 有未解决冲突的待办ID集合（甘特图冲突标记用）
func (r *ConflictRepository) UnresolvedTodoIDs(ctx context.Context) (map[int64]bool, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&entity.Conflict{}).
		Where("resolved = ?", false).
		Pluck("todo_id", &ids).Error
	if err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

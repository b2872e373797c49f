package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"gorm.io/gorm"
)

// DependencyRepository 依赖边仓库
type DependencyRepository struct {
	db *gorm.DB
}

// NewDependencyRepository 创建依赖边仓库
func NewDependencyRepository(db *gorm.DB) *DependencyRepository {
	return &DependencyRepository{db: db}
}

// FindByID 按ID查找
func (r *DependencyRepository) FindByID(ctx context.Context, id int64) (*entity.TodoDependency, error) {
	var dep entity.TodoDependency
	err := r.db.WithContext(ctx).First(&dep, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &dep, nil
}

// FindByPair 按有序(predecessor, successor)对查找
func (r *DependencyRepository) FindByPair(ctx context.Context, predecessorID, successorID int64) (*entity.TodoDependency, error) {
	var dep entity.TodoDependency
	err := r.db.WithContext(ctx).
		Where("predecessor_id = ? AND successor_id = ?", predecessorID, successorID).
		First(&dep).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &dep, nil
}

// Create 创建依赖边；同一对已存在时返回ErrDuplicateEdge
func (r *DependencyRepository) Create(ctx context.Context, dep *entity.TodoDependency) error {
	_, err := r.FindByPair(ctx, dep.PredecessorID, dep.SuccessorID)
	if err == nil {
		return ErrDuplicateEdge
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return r.db.WithContext(ctx).Create(dep).Error
}

// EnsureEdge 存在即复用，不存在则创建（生成器幂等路径）
func (r *DependencyRepository) EnsureEdge(ctx context.Context, dep *entity.TodoDependency) (created bool, err error) {
	existing, err := r.FindByPair(ctx, dep.PredecessorID, dep.SuccessorID)
	if err == nil {
		*dep = *existing
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if err := r.db.WithContext(ctx).Create(dep).Error; err != nil {
		return false, err
	}
	return true, nil
}

// List 列出依赖边，可按端点过滤
func (r *DependencyRepository) List(ctx context.Context, todoID *int64) ([]entity.TodoDependency, error) {
	var deps []entity.TodoDependency
	query := r.db.WithContext(ctx).Model(&entity.TodoDependency{})
	if todoID != nil {
		query = query.Where("predecessor_id = ? OR successor_id = ?", *todoID, *todoID)
	}
	err := query.Order("id ASC").Find(&deps).Error
	return deps, err
}

// ListActiveAmong 两端都在给定待办集合内的激活边（甘特图导出用）
func (r *DependencyRepository) ListActiveAmong(ctx context.Context, todoIDs []int64) ([]entity.TodoDependency, error) {
	if len(todoIDs) == 0 {
		return nil, nil
	}
	var deps []entity.TodoDependency
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND predecessor_id IN ? AND successor_id IN ?", true, todoIDs, todoIDs).
		Order("id ASC").
		Find(&deps).Error
	return deps, err
}

// Delete 删除依赖边
func (r *DependencyRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&entity.TodoDependency{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

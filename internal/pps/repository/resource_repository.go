package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"gorm.io/gorm"
)

// ResourceCacheRepository 资源镜像仓库
type ResourceCacheRepository struct {
	db *gorm.DB
}

// NewResourceCacheRepository 创建资源镜像仓库
func NewResourceCacheRepository(db *gorm.DB) *ResourceCacheRepository {
	return &ResourceCacheRepository{db: db}
}

// FindByID 按本地ID查找
func (r *ResourceCacheRepository) FindByID(ctx context.Context, id int64) (*entity.ResourceCache, error) {
	var res entity.ResourceCache
	err := r.db.WithContext(ctx).First(&res, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// FindByErp 按(类型, ERP ID)查找
func (r *ResourceCacheRepository) FindByErp(ctx context.Context, resourceType string, erpID int64) (*entity.ResourceCache, error) {
	var res entity.ResourceCache
	err := r.db.WithContext(ctx).
		Where("resource_type = ? AND erp_id = ?", resourceType, erpID).
		First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// UpsertByErp 按(类型, ERP ID)就地更新或创建，返回本地镜像行
func (r *ResourceCacheRepository) UpsertByErp(ctx context.Context, resourceType string, erpID int64, name string) (*entity.ResourceCache, error) {
	existing, err := r.FindByErp(ctx, resourceType, erpID)
	if err == nil {
		if name != "" && existing.Name != name {
			existing.Name = name
			if err := r.db.WithContext(ctx).Save(existing).Error; err != nil {
				return nil, err
			}
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	res := &entity.ResourceCache{
		ResourceType: resourceType,
		ErpID:        erpID,
		Name:         name,
		IsActive:     true,
	}
	if err := r.db.WithContext(ctx).Create(res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// MapEmployeeErpIDs 把ERP员工ID集合换成本地镜像ID集合，
// 没有镜像行的ERP ID直接跳过（从未出现在排产里的员工不可能是creator）
func (r *ResourceCacheRepository) MapEmployeeErpIDs(ctx context.Context, erpIDs []int64) ([]int64, error) {
	if len(erpIDs) == 0 {
		return nil, nil
	}
	var ids []int64
	err := r.db.WithContext(ctx).Model(&entity.ResourceCache{}).
		Where("resource_type = ? AND erp_id IN ?", entity.ResourceTypeEmployee, erpIDs).
		Pluck("id", &ids).Error
	return ids, err
}

// List 列出镜像资源，可按类型过滤
func (r *ResourceCacheRepository) List(ctx context.Context, resourceType string) ([]entity.ResourceCache, error) {
	var resources []entity.ResourceCache
	query := r.db.WithContext(ctx).Model(&entity.ResourceCache{}).Where("is_active = ?", true)
	if resourceType != "" {
		query = query.Where("resource_type = ?", resourceType)
	}
	err := query.Order("resource_type ASC, name ASC").Find(&resources).Error
	return resources, err
}

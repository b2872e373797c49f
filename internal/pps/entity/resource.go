package entity

import (
	"time"
)

// ResourceType 资源类型
const (
	ResourceTypeDepartment = "department"
	ResourceTypeMachine    = "machine"
	ResourceTypeEmployee   = "employee"
)

// ResourceCache ERP资源的本地镜像：机台/员工/部门
// 排产只引用本地ID，不依赖ERP实时查询
type ResourceCache struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ResourceType string    `json:"resource_type" gorm:"size:16;not null;uniqueIndex:uniq_pps_resource_erp"`
	ErpID        int64     `json:"erp_id" gorm:"not null;uniqueIndex:uniq_pps_resource_erp"`
	Name         string    `json:"name" gorm:"size:128;not null"`
	IsActive     bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (ResourceCache) TableName() string {
	return "pps_resource_cache"
}

package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicateEdge   = errors.New("dependency already exists")
)

// VersionConflictError 乐观锁冲突，携带双方版本号供客户端重拉重试
type VersionConflictError struct {
	TodoID   int64
	Expected int
	Actual   int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("todo %d version conflict: expected %d, actual %d", e.TodoID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Repositories 仓库集合
type Repositories struct {
	Todo       *TodoRepository
	Dependency *DependencyRepository
	Resource   *ResourceCacheRepository
	Conflict   *ConflictRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Todo:       NewTodoRepository(db),
		Dependency: NewDependencyRepository(db),
		Resource:   NewResourceCacheRepository(db),
		Conflict:   NewConflictRepository(db),
	}
}

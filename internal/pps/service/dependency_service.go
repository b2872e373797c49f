package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
)

// DependencyService 依赖边服务。
// 注意：不做环检测——当前没有任何组件对整图做拓扑排程，
// 生成器只串接相邻工序；参见DESIGN.md的契约说明。
type DependencyService struct {
	dependencyRepo *repository.DependencyRepository
	todoRepo       *repository.TodoRepository
}

// NewDependencyService 创建依赖边服务
func NewDependencyService(dependencyRepo *repository.DependencyRepository, todoRepo *repository.TodoRepository) *DependencyService {
	return &DependencyService{dependencyRepo: dependencyRepo, todoRepo: todoRepo}
}

// CreateDependencyRequest 创建依赖边请求
type CreateDependencyRequest struct {
	PredecessorID  int64  `json:"predecessor_id" binding:"required"`
	SuccessorID    int64  `json:"successor_id" binding:"required"`
	DependencyType string `json:"dependency_type"`
	LagMinutes     int    `json:"lag_minutes"`
	IsActive       *bool  `json:"is_active"`
}

// Create 创建依赖边：两端必须存在，同一有序对只允许一条
func (s *DependencyService) Create(ctx context.Context, req *CreateDependencyRequest) (*entity.TodoDependency, error) {
	if req.PredecessorID == req.SuccessorID {
		return nil, fmt.Errorf("dependency endpoints must differ")
	}
	if _, err := s.todoRepo.FindByID(ctx, req.PredecessorID); err != nil {
		return nil, fmt.Errorf("predecessor %d: %w", req.PredecessorID, err)
	}
	if _, err := s.todoRepo.FindByID(ctx, req.SuccessorID); err != nil {
		return nil, fmt.Errorf("successor %d: %w", req.SuccessorID, err)
	}

	depType := req.DependencyType
	if depType == "" {
		depType = entity.DependencyFinishToStart
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	dep := &entity.TodoDependency{
		PredecessorID:  req.PredecessorID,
		SuccessorID:    req.SuccessorID,
		DependencyType: depType,
		LagMinutes:     req.LagMinutes,
		IsActive:       active,
	}
	if err := s.dependencyRepo.Create(ctx, dep); err != nil {
		return nil, err
	}
	return dep, nil
}

// List 列出依赖边，可按端点过滤
func (s *DependencyService) List(ctx context.Context, todoID *int64) ([]entity.TodoDependency, error) {
	return s.dependencyRepo.List(ctx, todoID)
}

// Delete 删除依赖边
func (s *DependencyService) Delete(ctx context.Context, id int64) error {
	return s.dependencyRepo.Delete(ctx, id)
}

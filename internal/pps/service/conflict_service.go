package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"go.uber.org/zap"
)

// ConflictDetector 外部冲突检测器协作方。
// 重叠的判定规则在检测器内部，本核心只负责存取结果。
type ConflictDetector interface {
	Detect(ctx context.Context) ([]entity.Conflict, error)
}

// ConflictService 冲突记录服务
type ConflictService struct {
	conflictRepo *repository.ConflictRepository
	detector     ConflictDetector
	logger       *zap.Logger
}

// NewConflictService 创建冲突服务
func NewConflictService(conflictRepo *repository.ConflictRepository, detector ConflictDetector, logger *zap.Logger) *ConflictService {
	return &ConflictService{conflictRepo: conflictRepo, detector: detector, logger: logger}
}

// List 列出冲突
func (s *ConflictService) List(ctx context.Context, f *repository.ConflictFilter) ([]entity.Conflict, error) {
	return s.conflictRepo.List(ctx, f)
}

// RecheckAll 委托检测器重查全部冲突，未解决的旧记录整体替换
func (s *ConflictService) RecheckAll(ctx context.Context) (int, error) {
	if s.detector == nil {
		return 0, fmt.Errorf("no conflict detector configured")
	}
	conflicts, err := s.detector.Detect(ctx)
	if err != nil {
		return 0, fmt.Errorf("detect conflicts: %w", err)
	}
	if err := s.conflictRepo.ReplaceUnresolved(ctx, conflicts); err != nil {
		return 0, fmt.Errorf("store conflicts: %w", err)
	}
	s.logger.Info("conflict recheck completed", zap.Int("found", len(conflicts)))
	return len(conflicts), nil
}

// Resolve 用户显式解决一条冲突
func (s *ConflictService) Resolve(ctx context.Context, id int64) (*entity.Conflict, error) {
	return s.conflictRepo.Resolve(ctx, id)
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-pps/internal/pps/erp"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const visibilityCacheTTL = 5 * time.Minute

// VisibilityService eigene可见性过滤：
// 调用方 + 其组织下属闭包 → 本地ResourceCache员工ID集合。
// 未携带身份时返回nil，仓库层据此排除全部eigene（没有管理员后门）。
type VisibilityService struct {
	gateway      erp.Gateway
	resourceRepo *repository.ResourceCacheRepository
	rdb          *redis.Client
	logger       *zap.Logger
}

// NewVisibilityService 创建可见性服务。rdb可为nil（跳过缓存）
func NewVisibilityService(
	gateway erp.Gateway,
	resourceRepo *repository.ResourceCacheRepository,
	rdb *redis.Client,
	logger *zap.Logger,
) *VisibilityService {
	return &VisibilityService{
		gateway:      gateway,
		resourceRepo: resourceRepo,
		rdb:          rdb,
		logger:       logger,
	}
}

func visibilityCacheKey(callerErpID int64) string {
	return fmt.Sprintf("pps:visibility:%d", callerErpID)
}

// VisibleCreatorIDs 解析调用方可见的creator集合。
// 返回nil表示无身份（排除全部eigene）；空集合表示身份已知但没有可见creator。
func (s *VisibilityService) VisibleCreatorIDs(ctx context.Context, callerErpID *int64) (*[]int64, error) {
	if callerErpID == nil {
		return nil, nil
	}

	if cached := s.fromCache(ctx, *callerErpID); cached != nil {
		return cached, nil
	}

	erpIDs, err := s.subordinateClosure(ctx, *callerErpID)
	if err != nil {
		return nil, fmt.Errorf("subordinate closure: %w", err)
	}

	ids, err := s.resourceRepo.MapEmployeeErpIDs(ctx, erpIDs)
	if err != nil {
		return nil, fmt.Errorf("map employee erp ids: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}

	s.toCache(ctx, *callerErpID, ids)
	return &ids, nil
}

// subordinateClosure 调用方自身 + 传递闭包内所有下属的ERP ID
func (s *VisibilityService) subordinateClosure(ctx context.Context, callerErpID int64) ([]int64, error) {
	seen := map[int64]bool{callerErpID: true}
	closure := []int64{callerErpID}
	frontier := []int64{callerErpID}

	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, managerID := range frontier {
			subordinates, err := s.gateway.ListDirectSubordinates(ctx, managerID)
			if err != nil {
				return nil, err
			}
			for _, sub := range subordinates {
				if seen[sub.ID] {
					continue
				}
				seen[sub.ID] = true
				closure = append(closure, sub.ID)
				next = append(next, sub.ID)
			}
		}
		frontier = next
	}
	return closure, nil
}

func (s *VisibilityService) fromCache(ctx context.Context, callerErpID int64) *[]int64 {
	if s.rdb == nil {
		return nil
	}
	raw, err := s.rdb.Get(ctx, visibilityCacheKey(callerErpID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("visibility cache read failed", zap.Error(err))
		}
		return nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return &ids
}

func (s *VisibilityService) toCache(ctx context.Context, callerErpID int64, ids []int64) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, visibilityCacheKey(callerErpID), raw, visibilityCacheTTL).Err(); err != nil {
		s.logger.Warn("visibility cache write failed", zap.Error(err))
	}
}

// FlushCache 清空可见性缓存（组织架构变更后调用）
func (s *VisibilityService) FlushCache(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	iter := s.rdb.Scan(ctx, 0, "pps:visibility:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

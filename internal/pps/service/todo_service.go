package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bitfantasy/nimo-pps/internal/pps/duration"
	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/bitfantasy/nimo-pps/internal/pps/erp"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"go.uber.org/zap"
)

// TodoService 待办服务：增删改查、乐观锁更新、段拆分、工时汇总
type TodoService struct {
	todoRepo     *repository.TodoRepository
	resourceRepo *repository.ResourceCacheRepository
	gateway      erp.Gateway
	visibility   *VisibilityService
	logger       *zap.Logger
}

// NewTodoService 创建待办服务
func NewTodoService(
	todoRepo *repository.TodoRepository,
	resourceRepo *repository.ResourceCacheRepository,
	gateway erp.Gateway,
	visibility *VisibilityService,
	logger *zap.Logger,
) *TodoService {
	return &TodoService{
		todoRepo:     todoRepo,
		resourceRepo: resourceRepo,
		gateway:      gateway,
		visibility:   visibility,
		logger:       logger,
	}
}

// ListTodosRequest 列表查询参数
type ListTodosRequest struct {
	ErpOrderID   *int64
	Statuses     []string
	TodoTypes    []string
	DateFrom     *time.Time
	DateTo       *time.Time
	ResourceID   *int64
	ParentTodoID *int64
	HasConflicts *bool
	Search       string
	Skip         int
	Limit        int
	// 调用方身份（ERP员工ID），驱动eigene可见性过滤；nil则排除全部eigene
	CallerErpID *int64
}

// ListTodosResult 列表结果
type ListTodosResult struct {
	Items []entity.Todo `json:"items"`
	Total int64         `json:"total"`
}

// List 过滤+分页查询，应用可见性过滤并附带冲突数
func (s *TodoService) List(ctx context.Context, req *ListTodosRequest) (*ListTodosResult, error) {
	visible, err := s.visibility.VisibleCreatorIDs(ctx, req.CallerErpID)
	if err != nil {
		return nil, fmt.Errorf("resolve visibility: %w", err)
	}

	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	filter := &repository.TodoFilter{
		ErpOrderID:        req.ErpOrderID,
		Statuses:          req.Statuses,
		TodoTypes:         req.TodoTypes,
		DateFrom:          req.DateFrom,
		DateTo:            req.DateTo,
		ResourceID:        req.ResourceID,
		ParentTodoID:      req.ParentTodoID,
		HasConflicts:      req.HasConflicts,
		Search:            req.Search,
		VisibleCreatorIDs: visible,
		Skip:              req.Skip,
		Limit:             limit,
	}

	todos, total, err := s.todoRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	if err := s.todoRepo.AnnotateConflictCounts(ctx, todos); err != nil {
		return nil, fmt.Errorf("annotate conflicts: %w", err)
	}
	return &ListTodosResult{Items: todos, Total: total}, nil
}

// Get 按ID查询
func (s *TodoService) Get(ctx context.Context, id int64) (*entity.Todo, error) {
	return s.todoRepo.FindByID(ctx, id)
}

// CreateTodoRequest 创建待办请求
type CreateTodoRequest struct {
	Title                string     `json:"title" binding:"required"`
	Description          string     `json:"description"`
	TodoType             string     `json:"todo_type"`
	Status               string     `json:"status"`
	Priority             int        `json:"priority"`
	ParentTodoID         *int64     `json:"parent_todo_id"`
	PlannedStart         *time.Time `json:"planned_start"`
	DeliveryDate         *time.Time `json:"delivery_date"`
	SetupTimeMinutes     float64    `json:"setup_time_minutes"`
	RunTimeMinutes       float64    `json:"run_time_minutes"`
	Quantity             int        `json:"quantity"`
	TotalDurationMinutes int        `json:"total_duration_minutes"`
	IsDurationManual     bool       `json:"is_duration_manual"`
	DepartmentResourceID *int64     `json:"department_resource_id"`
	MachineResourceID    *int64     `json:"machine_resource_id"`
	EmployeeResourceID   *int64     `json:"employee_resource_id"`
}

// Create 创建待办。eigene类型要求调用方身份，creator取其ResourceCache ID
func (s *TodoService) Create(ctx context.Context, req *CreateTodoRequest, callerErpID *int64) (*entity.Todo, error) {
	todoType := req.TodoType
	if todoType == "" {
		todoType = entity.TodoTypeTask
	}
	if !entity.ValidTodoType(todoType) {
		return nil, fmt.Errorf("invalid todo_type %q", todoType)
	}
	status := req.Status
	if status == "" {
		status = entity.TodoStatusNew
	}
	if !entity.ValidTodoStatus(status) {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	if req.ParentTodoID != nil {
		if _, err := s.todoRepo.FindByID(ctx, *req.ParentTodoID); err != nil {
			return nil, fmt.Errorf("parent todo: %w", err)
		}
	}

	todo := &entity.Todo{
		Title:                req.Title,
		Description:          req.Description,
		TodoType:             todoType,
		Status:               status,
		Priority:             req.Priority,
		ParentTodoID:         req.ParentTodoID,
		PlannedStart:         req.PlannedStart,
		DeliveryDate:         req.DeliveryDate,
		SetupTimeMinutes:     req.SetupTimeMinutes,
		RunTimeMinutes:       req.RunTimeMinutes,
		Quantity:             req.Quantity,
		TotalDurationMinutes: req.TotalDurationMinutes,
		IsDurationManual:     req.IsDurationManual,
		DepartmentResourceID: req.DepartmentResourceID,
		MachineResourceID:    req.MachineResourceID,
		EmployeeResourceID:   req.EmployeeResourceID,
		Version:              1,
	}

	if todo.TotalDurationMinutes == 0 && !todo.IsDurationManual &&
		(todo.SetupTimeMinutes > 0 || todo.RunTimeMinutes > 0) {
		todo.TotalDurationMinutes = duration.LeafMinutes(todo.SetupTimeMinutes, todo.RunTimeMinutes, todo.Quantity)
	}
	if todo.PlannedStart != nil && todo.TotalDurationMinutes > 0 {
		end := todo.PlannedStart.Add(time.Duration(todo.TotalDurationMinutes) * time.Minute)
		todo.PlannedEnd = &end
	}

	if todoType == entity.TodoTypeEigene {
		if callerErpID == nil {
			return nil, fmt.Errorf("eigene todo requires caller identity")
		}
		creatorID, err := s.resolveCreator(ctx, *callerErpID)
		if err != nil {
			return nil, err
		}
		todo.CreatorEmployeeID = &creatorID
	}

	if err := s.todoRepo.Create(ctx, todo); err != nil {
		return nil, fmt.Errorf("create todo: %w", err)
	}
	return todo, nil
}

// resolveCreator 把调用方ERP员工ID换成本地ResourceCache ID（必要时建镜像行）
func (s *TodoService) resolveCreator(ctx context.Context, callerErpID int64) (int64, error) {
	name := ""
	if employee, err := s.gateway.GetEmployee(ctx, callerErpID); err == nil && employee != nil {
		name = employee.Name
	}
	res, err := s.resourceRepo.UpsertByErp(ctx, entity.ResourceTypeEmployee, callerErpID, name)
	if err != nil {
		return 0, fmt.Errorf("resolve creator: %w", err)
	}
	return res.ID, nil
}

// UpdateTodoRequest 更新待办请求。指针字段nil表示不修改；
// Version为客户端最后读到的版本号，不一致时拒绝（§乐观锁协议）
type UpdateTodoRequest struct {
	Version              *int       `json:"version"`
	Title                *string    `json:"title"`
	Description          *string    `json:"description"`
	Status               *string    `json:"status"`
	BlockReason          *string    `json:"block_reason"`
	Priority             *int       `json:"priority"`
	ParentTodoID         *int64     `json:"parent_todo_id"`
	PlannedStart         *time.Time `json:"planned_start"`
	ActualStart          *time.Time `json:"actual_start"`
	ActualEnd            *time.Time `json:"actual_end"`
	DeliveryDate         *time.Time `json:"delivery_date"`
	SetupTimeMinutes     *float64   `json:"setup_time_minutes"`
	RunTimeMinutes       *float64   `json:"run_time_minutes"`
	Quantity             *int       `json:"quantity"`
	TotalDurationMinutes *int       `json:"total_duration_minutes"`
	IsDurationManual     *bool      `json:"is_duration_manual"`
	DepartmentResourceID *int64     `json:"department_resource_id"`
	MachineResourceID    *int64     `json:"machine_resource_id"`
	EmployeeResourceID   *int64     `json:"employee_resource_id"`
}

// ValidateReparent 校验新父节点存在且不在自身子树内。
// 父环会让向上汇总死循环，必须在落库前拦截。
func (s *TodoService) ValidateReparent(ctx context.Context, id, parentID int64) error {
	if parentID == id {
		return fmt.Errorf("todo %d cannot be its own parent", id)
	}
	parent, err := s.todoRepo.FindByID(ctx, parentID)
	if err != nil {
		return fmt.Errorf("parent %d: %w", parentID, err)
	}
	seen := map[int64]bool{parentID: true}
	current := parent
	for current.ParentTodoID != nil {
		pid := *current.ParentTodoID
		if pid == id {
			return fmt.Errorf("todo %d cannot be moved under its own descendant %d", id, parentID)
		}
		if seen[pid] {
			break
		}
		seen[pid] = true
		next, err := s.todoRepo.FindByID(ctx, pid)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}

// Update 乐观锁更新：校验版本、应用字段、重算派生字段、版本+1，单事务
func (s *TodoService) Update(ctx context.Context, id int64, req *UpdateTodoRequest) (*entity.Todo, error) {
	if req.Status != nil && !entity.ValidTodoStatus(*req.Status) {
		return nil, fmt.Errorf("invalid status %q", *req.Status)
	}
	if req.ParentTodoID != nil {
		if err := s.ValidateReparent(ctx, id, *req.ParentTodoID); err != nil {
			return nil, err
		}
	}

	updated, err := s.todoRepo.UpdateWithVersion(ctx, id, req.Version, func(todo *entity.Todo) error {
		timeChanged := false

		if req.Title != nil {
			todo.Title = *req.Title
		}
		if req.Description != nil {
			todo.Description = *req.Description
		}
		if req.Status != nil {
			todo.Status = *req.Status
		}
		if req.BlockReason != nil {
			todo.BlockReason = *req.BlockReason
		}
		if req.Priority != nil {
			todo.Priority = *req.Priority
		}
		if req.ParentTodoID != nil {
			todo.ParentTodoID = req.ParentTodoID
		}
		if req.ActualStart != nil {
			todo.ActualStart = req.ActualStart
		}
		if req.ActualEnd != nil {
			todo.ActualEnd = req.ActualEnd
		}
		if req.DeliveryDate != nil {
			todo.DeliveryDate = req.DeliveryDate
		}
		if req.DepartmentResourceID != nil {
			todo.DepartmentResourceID = req.DepartmentResourceID
		}
		if req.MachineResourceID != nil {
			todo.MachineResourceID = req.MachineResourceID
		}
		if req.EmployeeResourceID != nil {
			todo.EmployeeResourceID = req.EmployeeResourceID
		}
		if req.IsDurationManual != nil {
			todo.IsDurationManual = *req.IsDurationManual
		}

		workChanged := false
		if req.SetupTimeMinutes != nil {
			todo.SetupTimeMinutes = *req.SetupTimeMinutes
			workChanged = true
		}
		if req.RunTimeMinutes != nil {
			todo.RunTimeMinutes = *req.RunTimeMinutes
			workChanged = true
		}
		if req.Quantity != nil {
			todo.Quantity = *req.Quantity
			workChanged = true
		}
		if req.TotalDurationMinutes != nil {
			// 显式改工时视为手动覆盖，引擎不再改写
			todo.TotalDurationMinutes = *req.TotalDurationMinutes
			todo.IsDurationManual = true
			timeChanged = true
		} else if workChanged && !todo.IsDurationManual {
			todo.TotalDurationMinutes = duration.LeafMinutes(todo.SetupTimeMinutes, todo.RunTimeMinutes, todo.Quantity)
			timeChanged = true
		}

		if req.PlannedStart != nil {
			todo.PlannedStart = req.PlannedStart
			timeChanged = true
		}
		if timeChanged && todo.PlannedStart != nil && todo.TotalDurationMinutes > 0 {
			end := todo.PlannedStart.Add(time.Duration(todo.TotalDurationMinutes) * time.Minute)
			todo.PlannedEnd = &end
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 工时变化后向上收敛容器，失败只记日志（下次汇总会再次收敛）
	if updated.ParentTodoID != nil {
		if err := s.RollupAncestors(ctx, updated.ID); err != nil {
			s.logger.Warn("rollup after update failed",
				zap.Int64("todo_id", updated.ID), zap.Error(err))
		}
	}
	return updated, nil
}

// Delete 删除待办（级联子树/段/依赖/冲突）
func (s *TodoService) Delete(ctx context.Context, id int64) error {
	return s.todoRepo.Delete(ctx, id)
}

// SplitSegment 拆分段
type SplitSegment struct {
	StartTime          time.Time `json:"start_time" binding:"required"`
	EndTime            time.Time `json:"end_time" binding:"required"`
	MachineResourceID  *int64    `json:"machine_resource_id"`
	EmployeeResourceID *int64    `json:"employee_resource_id"`
}

// SplitRequest 段替换请求
type SplitRequest struct {
	Version  *int           `json:"version"`
	Segments []SplitSegment `json:"segments" binding:"required"`
}

// Split 原子替换待办的段集合。段之间在该待办自身调度内不得重叠
func (s *TodoService) Split(ctx context.Context, id int64, req *SplitRequest) (*entity.Todo, error) {
	segments := make([]entity.TodoSegment, 0, len(req.Segments))
	for i, seg := range req.Segments {
		if !seg.EndTime.After(seg.StartTime) {
			return nil, fmt.Errorf("segment %d: end_time must be after start_time", i)
		}
		segments = append(segments, entity.TodoSegment{
			StartTime:          seg.StartTime,
			EndTime:            seg.EndTime,
			MachineResourceID:  seg.MachineResourceID,
			EmployeeResourceID: seg.EmployeeResourceID,
		})
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].StartTime.Before(segments[j].StartTime)
	})
	for i := 1; i < len(segments); i++ {
		if segments[i].StartTime.Before(segments[i-1].EndTime) {
			return nil, fmt.Errorf("segments overlap within todo %d", id)
		}
	}
	return s.todoRepo.ReplaceSegments(ctx, id, req.Version, segments)
}

// Rollup 对rootID整棵子树做后序工时汇总并持久化被改写的节点
func (s *TodoService) Rollup(ctx context.Context, rootID int64) (int, error) {
	nodes, err := s.todoRepo.LoadSubtree(ctx, rootID)
	if err != nil {
		return 0, err
	}
	tree := duration.Load(nodes)
	total := tree.Rollup(rootID)
	for _, changed := range tree.Changed() {
		if err := s.todoRepo.Save(ctx, changed); err != nil {
			return 0, fmt.Errorf("persist rollup: %w", err)
		}
	}
	return total, nil
}

// RollupAncestors 从todoID向上找到根后整树汇总
func (s *TodoService) RollupAncestors(ctx context.Context, todoID int64) error {
	current, err := s.todoRepo.FindByID(ctx, todoID)
	if err != nil {
		return err
	}
	// 存量数据中的父环不能让汇总挂死
	seen := map[int64]bool{current.ID: true}
	for current.ParentTodoID != nil {
		pid := *current.ParentTodoID
		if seen[pid] {
			return fmt.Errorf("parent cycle detected at todo %d", pid)
		}
		seen[pid] = true
		parent, err := s.todoRepo.FindByID(ctx, pid)
		if err != nil {
			return err
		}
		current = parent
	}
	_, err = s.Rollup(ctx, current.ID)
	return err
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"go.uber.org/zap"
)

// GanttDateLayout 甘特图交换格式的时间文本
const GanttDateLayout = "2006-01-02 15:04"

// ganttParseLayouts 解析时宽容接受的时间排列（年月日 / 日月年）
var ganttParseLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"02-01-2006 15:04",
	"02.01.2006 15:04",
	"2006-01-02",
	"02-01-2006",
}

// ParseGanttDate 宽容解析甘特图时间文本
func ParseGanttDate(s string) (time.Time, error) {
	for _, layout := range ganttParseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// GanttService 甘特图交换适配器：树→扁平task/link导出，
// 以及拖拽UI回传的批量同步（创建/更新/删除，单项失败不中断整批）
type GanttService struct {
	todoSvc        *TodoService
	todoRepo       *repository.TodoRepository
	dependencyRepo *repository.DependencyRepository
	resourceRepo   *repository.ResourceCacheRepository
	conflictRepo   *repository.ConflictRepository
	visibility     *VisibilityService
	logger         *zap.Logger
}

// NewGanttService 创建甘特图适配器
func NewGanttService(
	todoSvc *TodoService,
	repos *repository.Repositories,
	visibility *VisibilityService,
	logger *zap.Logger,
) *GanttService {
	return &GanttService{
		todoSvc:        todoSvc,
		todoRepo:       repos.Todo,
		dependencyRepo: repos.Dependency,
		resourceRepo:   repos.Resource,
		conflictRepo:   repos.Conflict,
		visibility:     visibility,
		logger:         logger,
	}
}

// GanttTask 交换格式的任务行
type GanttTask struct {
	ID           int64   `json:"id"`
	Text         string  `json:"text"`
	StartDate    string  `json:"start_date,omitempty"`
	Duration     int     `json:"duration"`
	Parent       int64   `json:"parent"`
	Type         string  `json:"type"`
	Progress     float64 `json:"progress"`
	ResourceID   *int64  `json:"resource_id,omitempty"`
	ResourceName string  `json:"resource_name,omitempty"`
	HasConflicts bool    `json:"has_conflicts"`
	Priority     int     `json:"priority"`
	DeliveryDate string  `json:"delivery_date,omitempty"`
}

// GanttLink 交换格式的依赖边
type GanttLink struct {
	ID     int64  `json:"id"`
	Source int64  `json:"source"`
	Target int64  `json:"target"`
	Type   string `json:"type"`
	Lag    int    `json:"lag"`
}

// GanttData 导出结果
type GanttData struct {
	Data  []GanttTask `json:"data"`
	Links []GanttLink `json:"links"`
}

// Export 导出过滤后的待办集为task/link。按资源过滤时自动补齐
// 命中节点的父与祖父容器，避免工序在图上悬空。
func (s *GanttService) Export(ctx context.Context, req *ListTodosRequest) (*GanttData, error) {
	visible, err := s.visibility.VisibleCreatorIDs(ctx, req.CallerErpID)
	if err != nil {
		return nil, fmt.Errorf("resolve visibility: %w", err)
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
	}
	todos, _, err := s.todoRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}

	if req.ResourceID != nil {
		todos, err = s.includeAncestors(ctx, todos)
		if err != nil {
			return nil, err
		}
	}

	conflicted, err := s.conflictRepo.UnresolvedTodoIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conflict flags: %w", err)
	}

	data := &GanttData{Data: make([]GanttTask, 0, len(todos)), Links: []GanttLink{}}
	ids := make([]int64, 0, len(todos))
	for _, todo := range todos {
		data.Data = append(data.Data, s.toGanttTask(&todo, conflicted))
		ids = append(ids, todo.ID)
	}

	deps, err := s.dependencyRepo.ListActiveAmong(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	for _, dep := range deps {
		data.Links = append(data.Links, GanttLink{
			ID:     dep.ID,
			Source: dep.PredecessorID,
			Target: dep.SuccessorID,
			Type:   dep.DependencyType,
			Lag:    dep.LagMinutes,
		})
	}
	return data, nil
}

// includeAncestors 补齐父与祖父两级容器
func (s *GanttService) includeAncestors(ctx context.Context, todos []entity.Todo) ([]entity.Todo, error) {
	present := make(map[int64]bool, len(todos))
	for _, t := range todos {
		present[t.ID] = true
	}
	// 最多向上补两级：工序 → 产品容器 → 订单容器
	for level := 0; level < 2; level++ {
		var missing []int64
		for _, t := range todos {
			if t.ParentTodoID != nil && !present[*t.ParentTodoID] {
				missing = append(missing, *t.ParentTodoID)
				present[*t.ParentTodoID] = true
			}
		}
		if len(missing) == 0 {
			break
		}
		parents, err := s.todoRepo.FindByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("load ancestors: %w", err)
		}
		todos = append(todos, parents...)
	}
	return todos, nil
}

func (s *GanttService) toGanttTask(todo *entity.Todo, conflicted map[int64]bool) GanttTask {
	task := GanttTask{
		ID:           todo.ID,
		Text:         todo.Title,
		Duration:     todo.TotalDurationMinutes,
		Type:         "task",
		HasConflicts: conflicted[todo.ID],
		Priority:     todo.Priority,
	}
	if entity.IsContainer(todo.TodoType) {
		task.Type = "project"
	}
	if todo.ParentTodoID != nil {
		task.Parent = *todo.ParentTodoID
	}
	if todo.PlannedStart != nil {
		task.StartDate = todo.PlannedStart.Format(GanttDateLayout)
	}
	if todo.DeliveryDate != nil {
		task.DeliveryDate = todo.DeliveryDate.Format(GanttDateLayout)
	}

	switch todo.Status {
	case entity.TodoStatusCompleted:
		task.Progress = 1.0
	case entity.TodoStatusInProgress:
		task.Progress = 0.5
	default:
		task.Progress = 0.0
	}

	// 展示资源取 machine > employee > department
	switch {
	case todo.MachineResourceID != nil:
		task.ResourceID = todo.MachineResourceID
		if todo.MachineResource != nil {
			task.ResourceName = todo.MachineResource.Name
		}
	case todo.EmployeeResourceID != nil:
		task.ResourceID = todo.EmployeeResourceID
		if todo.EmployeeResource != nil {
			task.ResourceName = todo.EmployeeResource.Name
		}
	case todo.DepartmentResourceID != nil:
		task.ResourceID = todo.DepartmentResourceID
		if todo.DepartmentResource != nil {
			task.ResourceName = todo.DepartmentResource.Name
		}
	}
	return task
}

// GanttSyncLink 同步请求里的新建边，端点可以是真实ID或临时ID
type GanttSyncLink struct {
	TempID string      `json:"temp_id"`
	Source interface{} `json:"source"`
	Target interface{} `json:"target"`
	Type   string      `json:"type"`
	Lag    int         `json:"lag"`
}

// GanttSyncRequest 批量同步请求，处理顺序固定：
// 删任务 → 改任务 → 建任务 → 删边 → 建边
type GanttSyncRequest struct {
	DeletedTaskIDs []int64                  `json:"deleted_task_ids"`
	UpdatedTasks   []map[string]interface{} `json:"updated_tasks"`
	CreatedTasks   []map[string]interface{} `json:"created_tasks"`
	DeletedLinkIDs []int64                  `json:"deleted_link_ids"`
	CreatedLinks   []GanttSyncLink          `json:"created_links"`
}

// GanttSyncResult 批量同步结果：计数 + 临时ID映射 + 单项错误列表
type GanttSyncResult struct {
	Success        bool             `json:"success"`
	UpdatedCount   int              `json:"updated_count"`
	CreatedCount   int              `json:"created_count"`
	DeletedCount   int              `json:"deleted_count"`
	Errors         []string         `json:"errors"`
	CreatedTaskIDs map[string]int64 `json:"created_task_ids"`
	CreatedLinkIDs map[string]int64 `json:"created_link_ids"`
}

// Sync 批量同步。单项失败只进错误列表，其余照常处理；
// 只要有任何一项成功整体即视为success。
func (s *GanttService) Sync(ctx context.Context, req *GanttSyncRequest, callerErpID *int64) (*GanttSyncResult, error) {
	result := &GanttSyncResult{
		Errors:         []string{},
		CreatedTaskIDs: map[string]int64{},
		CreatedLinkIDs: map[string]int64{},
	}

	// (a) 删任务
	for _, id := range req.DeletedTaskIDs {
		if err := s.todoSvc.Delete(ctx, id); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete task %d: %v", id, err))
			continue
		}
		result.DeletedCount++
	}

	// (b) 改任务
	for _, fields := range req.UpdatedTasks {
		id, ok := numField(fields, "id")
		if !ok {
			result.Errors = append(result.Errors, "update task: missing id")
			continue
		}
		if err := s.applyUpdate(ctx, id, fields); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("update task %d: %v", id, err))
			continue
		}
		result.UpdatedCount++
	}

	// (c) 建任务，记录临时ID→真实ID映射
	for _, fields := range req.CreatedTasks {
		tempID := stringField(fields, "id")
		if tempID == "" {
			result.Errors = append(result.Errors, "create task: missing temp id")
			continue
		}
		todo, err := s.applyCreate(ctx, fields, callerErpID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("create task %s: %v", tempID, err))
			continue
		}
		result.CreatedTaskIDs[tempID] = todo.ID
		result.CreatedCount++
	}

	// (d) 删边
	for _, id := range req.DeletedLinkIDs {
		if err := s.dependencyRepo.Delete(ctx, id); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete link %d: %v", id, err))
			continue
		}
		result.DeletedCount++
	}

	// (e) 建边，端点经(c)的映射解析
	for _, link := range req.CreatedLinks {
		dep, err := s.applyCreateLink(ctx, &link, result.CreatedTaskIDs)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("create link %s: %v", link.TempID, err))
			continue
		}
		if link.TempID != "" {
			result.CreatedLinkIDs[link.TempID] = dep.ID
		}
		result.CreatedCount++
	}

	result.Success = result.UpdatedCount+result.CreatedCount+result.DeletedCount > 0 ||
		len(result.Errors) == 0
	return result, nil
}

// applyUpdate 应用一条部分字段更新。
// 契约决定：被处理的更新项即便未改动任何字段也会+1版本（见DESIGN.md）。
func (s *GanttService) applyUpdate(ctx context.Context, id int64, fields map[string]interface{}) error {
	var expected *int
	if v, ok := numField(fields, "version"); ok {
		ev := int(v)
		expected = &ev
	}
	if v, ok := numField(fields, "parent"); ok && v != 0 {
		if err := s.todoSvc.ValidateReparent(ctx, id, v); err != nil {
			return err
		}
	}
	// 资源镜像在进事务前解析，事务持有连接时不再发起新查询
	var assign func(*entity.Todo)
	if v, ok := numField(fields, "resource_id"); ok {
		resolved, err := s.resolveResourceAssignment(ctx, v)
		if err != nil {
			return err
		}
		assign = resolved
	}

	_, err := s.todoRepo.UpdateWithVersion(ctx, id, expected, func(todo *entity.Todo) error {
		if text := stringField(fields, "text"); text != "" {
			todo.Title = text
		}
		if status := stringField(fields, "status"); status != "" {
			if !entity.ValidTodoStatus(status) {
				return fmt.Errorf("invalid status %q", status)
			}
			todo.Status = status
		}
		if v, ok := numField(fields, "priority"); ok {
			todo.Priority = int(v)
		}
		if v, ok := numField(fields, "parent"); ok {
			if v == 0 {
				todo.ParentTodoID = nil
			} else {
				parent := v
				todo.ParentTodoID = &parent
			}
		}

		timeChanged := false
		if raw := stringField(fields, "start_date"); raw != "" {
			// 时间文本解析失败只跳过该字段，不导致整条更新失败
			if start, err := ParseGanttDate(raw); err == nil {
				todo.PlannedStart = &start
				timeChanged = true
			} else {
				s.logger.Warn("skip unparseable start_date",
					zap.Int64("todo_id", id), zap.String("raw", raw))
			}
		}
		if v, ok := numField(fields, "duration"); ok {
			todo.TotalDurationMinutes = int(v)
			todo.IsDurationManual = true
			timeChanged = true
		}
		if timeChanged && todo.PlannedStart != nil && todo.TotalDurationMinutes > 0 {
			end := todo.PlannedStart.Add(time.Duration(todo.TotalDurationMinutes) * time.Minute)
			todo.PlannedEnd = &end
		}

		if assign != nil {
			assign(todo)
		}
		return nil
	})
	return err
}

// resolveResourceAssignment 查资源镜像并按类型返回落库函数
func (s *GanttService) resolveResourceAssignment(ctx context.Context, resourceID int64) (func(*entity.Todo), error) {
	res, err := s.resourceRepo.FindByID(ctx, resourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("resource %d not found", resourceID)
		}
		return nil, err
	}
	switch res.ResourceType {
	case entity.ResourceTypeMachine:
		return func(todo *entity.Todo) { todo.MachineResourceID = &res.ID }, nil
	case entity.ResourceTypeEmployee:
		return func(todo *entity.Todo) { todo.EmployeeResourceID = &res.ID }, nil
	case entity.ResourceTypeDepartment:
		return func(todo *entity.Todo) { todo.DepartmentResourceID = &res.ID }, nil
	default:
		return nil, fmt.Errorf("unknown resource type %q", res.ResourceType)
	}
}

func (s *GanttService) applyCreate(ctx context.Context, fields map[string]interface{}, callerErpID *int64) (*entity.Todo, error) {
	req := &CreateTodoRequest{
		Title:    stringField(fields, "text"),
		TodoType: stringField(fields, "todo_type"),
	}
	if req.Title == "" {
		return nil, fmt.Errorf("missing text")
	}
	if req.TodoType == "" {
		req.TodoType = entity.TodoTypeTask
	}
	if v, ok := numField(fields, "parent"); ok && v != 0 {
		parent := v
		req.ParentTodoID = &parent
	}
	if raw := stringField(fields, "start_date"); raw != "" {
		if start, err := ParseGanttDate(raw); err == nil {
			req.PlannedStart = &start
		}
	}
	if v, ok := numField(fields, "duration"); ok {
		req.TotalDurationMinutes = int(v)
		req.IsDurationManual = true
	}
	if v, ok := numField(fields, "priority"); ok {
		req.Priority = int(v)
	}

	todo, err := s.todoSvc.Create(ctx, req, callerErpID)
	if err != nil {
		return nil, err
	}
	if v, ok := numField(fields, "resource_id"); ok {
		assign, err := s.resolveResourceAssignment(ctx, v)
		if err != nil {
			return nil, err
		}
		todo, err = s.todoRepo.UpdateWithVersion(ctx, todo.ID, nil, func(t *entity.Todo) error {
			assign(t)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return todo, nil
}

func (s *GanttService) applyCreateLink(ctx context.Context, link *GanttSyncLink, tempMap map[string]int64) (*entity.TodoDependency, error) {
	source, err := s.resolveTaskRef(ctx, link.Source, tempMap)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	target, err := s.resolveTaskRef(ctx, link.Target, tempMap)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	depType := link.Type
	if depType == "" {
		depType = entity.DependencyFinishToStart
	}
	dep := &entity.TodoDependency{
		PredecessorID:  source,
		SuccessorID:    target,
		DependencyType: depType,
		LagMinutes:     link.Lag,
		IsActive:       true,
	}
	if err := s.dependencyRepo.Create(ctx, dep); err != nil {
		return nil, err
	}
	return dep, nil
}

// resolveTaskRef 解析边端点：先查临时ID映射，其次按真实ID
func (s *GanttService) resolveTaskRef(ctx context.Context, ref interface{}, tempMap map[string]int64) (int64, error) {
	switch v := ref.(type) {
	case string:
		if real, ok := tempMap[v]; ok {
			return real, nil
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unknown task ref %q", v)
		}
		return s.checkTaskExists(ctx, id)
	case float64:
		return s.checkTaskExists(ctx, int64(v))
	case int64:
		return s.checkTaskExists(ctx, v)
	case nil:
		return 0, fmt.Errorf("missing task ref")
	default:
		return 0, fmt.Errorf("unsupported task ref type %T", ref)
	}
}

func (s *GanttService) checkTaskExists(ctx context.Context, id int64) (int64, error) {
	if _, err := s.todoRepo.FindByID(ctx, id); err != nil {
		return 0, fmt.Errorf("todo %d: %w", id, err)
	}
	return id, nil
}

// 同步请求字段取值辅助：JSON数字统一是float64，id还可能以文本传来

func numField(fields map[string]interface{}, key string) (int64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}

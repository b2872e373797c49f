package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-pps/internal/pps/duration"
	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/bitfantasy/nimo-pps/internal/pps/erp"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GeneratorService 订单生成器：读ERP订单/工艺数据，物化待办树、
// 工时与依赖边。对同一订单重复执行幂等（按ERP关联字段匹配后就地更新）。
type GeneratorService struct {
	db      *gorm.DB
	gateway erp.Gateway
	logger  *zap.Logger
}

// NewGeneratorService 创建订单生成器
func NewGeneratorService(db *gorm.DB, gateway erp.Gateway, logger *zap.Logger) *GeneratorService {
	return &GeneratorService{db: db, gateway: gateway, logger: logger}
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	ErpOrderID      int64   `json:"erp_order_id" binding:"required"`
	ArticleIDs      []int64 `json:"article_ids"`
	IncludeWorkplan bool    `json:"include_workplan"`
	IncludeBomItems bool    `json:"include_bom_items"`
	WorkplanLevel   int     `json:"workplan_level"`
}

// GenerateResult 生成结果：计数 + 非致命错误列表
type GenerateResult struct {
	CreatedTodos        int      `json:"created_todos"`
	UpdatedTodos        int      `json:"updated_todos"`
	CreatedDependencies int      `json:"created_dependencies"`
	Errors              []string `json:"errors"`
}

// GenerateFromOrder 整个生成过程跑在一个事务里：
// 任何预期之外的失败回滚全部变更，绝不提交半棵树
func (s *GeneratorService) GenerateFromOrder(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	result := &GenerateResult{Errors: []string{}}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)
		// ERP读取与待办写入必须走同一事务连接，
		// 否则在连接池耗尽时两边互相等待
		gw := s.gateway
		if binder, ok := gw.(erp.TxBinder); ok {
			gw = binder.WithTx(tx)
		}
		return s.generate(ctx, repos, gw, req, result)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order generation completed",
		zap.Int64("erp_order_id", req.ErpOrderID),
		zap.Int("created", result.CreatedTodos),
		zap.Int("updated", result.UpdatedTodos),
		zap.Int("dependencies", result.CreatedDependencies),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *GeneratorService) generate(ctx context.Context, repos *repository.Repositories, gw erp.Gateway, req *GenerateRequest, result *GenerateResult) error {
	order, err := gw.GetOrder(ctx, req.ErpOrderID)
	if err != nil {
		if errors.Is(err, erp.ErrOrderNotFound) {
			return fmt.Errorf("erp order %d: %w", req.ErpOrderID, erp.ErrOrderNotFound)
		}
		return fmt.Errorf("load erp order: %w", err)
	}

	root, err := s.upsertOrderContainer(ctx, repos, order, result)
	if err != nil {
		return err
	}

	articles, err := gw.ListOrderArticles(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("load order articles: %w", err)
	}
	articles = filterArticles(articles, req.ArticleIDs)

	for _, article := range articles {
		if err := s.generateArticle(ctx, repos, gw, root, article, req, result); err != nil {
			// 单个产品行失败不致命，收集后继续处理其余行
			result.Errors = append(result.Errors,
				fmt.Sprintf("article %d (%s): %v", article.ID, article.ArticleNo, err))
		}
	}

	return s.rollupOrderContainer(ctx, repos, root)
}

func filterArticles(articles []erp.OrderArticle, ids []int64) []erp.OrderArticle {
	if len(ids) == 0 {
		return articles
	}
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := articles[:0:0]
	for _, a := range articles {
		if wanted[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

// upsertOrderContainer 订单容器幂等upsert：已存在则复用，否则planned_start=now创建
func (s *GeneratorService) upsertOrderContainer(ctx context.Context, repos *repository.Repositories, order *erp.Order, result *GenerateResult) (*entity.Todo, error) {
	root, err := repos.Todo.FindRootByErpOrder(ctx, order.ID)
	if err == nil {
		changed := false
		if root.Title != order.Name {
			root.Title = order.Name
			changed = true
		}
		if order.DeliveryDate != nil && (root.DeliveryDate == nil || !root.DeliveryDate.Equal(*order.DeliveryDate)) {
			root.DeliveryDate = order.DeliveryDate
			changed = true
		}
		if changed {
			if err := repos.Todo.Save(ctx, root); err != nil {
				return nil, fmt.Errorf("update order container: %w", err)
			}
			result.UpdatedTodos++
		}
		return root, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := time.Now().Truncate(time.Minute)
	root = &entity.Todo{
		Title:        order.Name,
		Description:  order.CustomerName,
		TodoType:     entity.TodoTypeContainerOrder,
		Status:       entity.TodoStatusNew,
		ErpOrderID:   &order.ID,
		PlannedStart: &now,
		DeliveryDate: order.DeliveryDate,
		Version:      1,
	}
	if err := repos.Todo.Create(ctx, root); err != nil {
		return nil, fmt.Errorf("create order container: %w", err)
	}
	result.CreatedTodos++
	return root, nil
}

func (s *GeneratorService) generateArticle(ctx context.Context, repos *repository.Repositories, gw erp.Gateway, root *entity.Todo, article erp.OrderArticle, req *GenerateRequest, result *GenerateResult) error {
	departmentID, err := s.resolveDepartment(ctx, repos, gw, article)
	if err != nil {
		return err
	}

	steps, err := gw.ListWorkplanSteps(ctx, article.BomID)
	if err != nil {
		return fmt.Errorf("load workplan: %w", err)
	}

	// 产品工时永远从工艺路线算出，与是否物化工序无关
	articleMinutes := 0
	for _, step := range steps {
		articleMinutes += duration.LeafMinutes(step.SetupMinutes, step.UnitMinutes, article.Quantity)
	}

	articleTodo, err := s.upsertArticleContainer(ctx, repos, root, article, departmentID, articleMinutes, result)
	if err != nil {
		return err
	}

	if req.IncludeWorkplan {
		if err := s.generateOperations(ctx, repos, gw, root, articleTodo, article, steps, req.WorkplanLevel, result); err != nil {
			return err
		}
	}

	if req.IncludeBomItems {
		if err := s.generateBomItems(ctx, repos, gw, root, articleTodo, article, result); err != nil {
			return err
		}
	}
	return nil
}

func (s *GeneratorService) resolveDepartment(ctx context.Context, repos *repository.Repositories, gw erp.Gateway, article erp.OrderArticle) (*int64, error) {
	if article.DepartmentErpID == nil {
		return nil, nil
	}
	name := ""
	if dept, err := gw.GetDepartment(ctx, *article.DepartmentErpID); err != nil {
		return nil, fmt.Errorf("load department: %w", err)
	} else if dept != nil {
		name = dept.Name
	}
	res, err := repos.Resource.UpsertByErp(ctx, entity.ResourceTypeDepartment, *article.DepartmentErpID, name)
	if err != nil {
		return nil, fmt.Errorf("cache department: %w", err)
	}
	return &res.ID, nil
}

func (s *GeneratorService) upsertArticleContainer(ctx context.Context, repos *repository.Repositories, root *entity.Todo, article erp.OrderArticle, departmentID *int64, minutes int, result *GenerateResult) (*entity.Todo, error) {
	var existing entity.Todo
	err := repos.Todo.DB().WithContext(ctx).
		Where("erp_order_article_id = ? AND parent_todo_id = ?", article.ID, root.ID).
		First(&existing).Error
	if err == nil {
		changed := false
		if existing.DepartmentResourceID == nil && departmentID != nil {
			existing.DepartmentResourceID = departmentID
			changed = true
		}
		if !existing.IsDurationManual && existing.TotalDurationMinutes != minutes {
			existing.TotalDurationMinutes = minutes
			if existing.PlannedStart != nil {
				end := existing.PlannedStart.Add(time.Duration(minutes) * time.Minute)
				existing.PlannedEnd = &end
			}
			changed = true
		}
		if changed {
			if err := repos.Todo.Save(ctx, &existing); err != nil {
				return nil, fmt.Errorf("update article container: %w", err)
			}
			result.UpdatedTodos++
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	todo := &entity.Todo{
		Title:                fmt.Sprintf("%s %s", article.ArticleNo, article.Name),
		TodoType:             entity.TodoTypeTask,
		Status:               entity.TodoStatusNew,
		ParentTodoID:         &root.ID,
		ErpOrderID:           root.ErpOrderID,
		ErpOrderArticleID:    &article.ID,
		Quantity:             article.Quantity,
		TotalDurationMinutes: minutes,
		DepartmentResourceID: departmentID,
		PlannedStart:         root.PlannedStart,
		Version:              1,
	}
	if todo.PlannedStart != nil && minutes > 0 {
		end := todo.PlannedStart.Add(time.Duration(minutes) * time.Minute)
		todo.PlannedEnd = &end
	}
	if err := repos.Todo.Create(ctx, todo); err != nil {
		return nil, fmt.Errorf("create article container: %w", err)
	}
	result.CreatedTodos++
	return todo, nil
}

// generateOperations 工序串行排布：首工序从订单开始时间起，
// 后续工序紧接前一工序结束，相邻工序之间建finish-to-start边（lag 0）
func (s *GeneratorService) generateOperations(ctx context.Context, repos *repository.Repositories, gw erp.Gateway, root, articleTodo *entity.Todo, article erp.OrderArticle, steps []erp.WorkplanStep, workplanLevel int, result *GenerateResult) error {
	cursor := root.PlannedStart
	var previous *entity.Todo

	for _, step := range steps {
		// 细分层级之外的步骤跳过
		if step.MachineLevel > workplanLevel {
			continue
		}

		minutes := duration.LeafMinutes(step.SetupMinutes, step.UnitMinutes, article.Quantity)
		machineID, err := s.resolveMachine(ctx, repos, gw, step)
		if err != nil {
			return err
		}

		opTodo, err := s.upsertOperation(ctx, repos, articleTodo, article, step, minutes, machineID, cursor, result)
		if err != nil {
			return err
		}

		if cursor != nil {
			next := cursor.Add(time.Duration(opTodo.TotalDurationMinutes) * time.Minute)
			cursor = &next
		}

		if previous != nil {
			dep := &entity.TodoDependency{
				PredecessorID:  previous.ID,
				SuccessorID:    opTodo.ID,
				DependencyType: entity.DependencyFinishToStart,
				LagMinutes:     0,
				IsActive:       true,
			}
			created, err := repos.Dependency.EnsureEdge(ctx, dep)
			if err != nil {
				return fmt.Errorf("create dependency: %w", err)
			}
			if created {
				result.CreatedDependencies++
			}
		}
		previous = opTodo
	}
	return nil
}

func (s *GeneratorService) resolveMachine(ctx context.Context, repos *repository.Repositories, gw erp.Gateway, step erp.WorkplanStep) (*int64, error) {
	if step.MachineErpID == nil {
		return nil, nil
	}
	name := ""
	if machine, err := gw.GetMachine(ctx, *step.MachineErpID); err != nil {
		return nil, fmt.Errorf("load machine: %w", err)
	} else if machine != nil {
		name = machine.Name
	}
	res, err := repos.Resource.UpsertByErp(ctx, entity.ResourceTypeMachine, *step.MachineErpID, name)
	if err != nil {
		return nil, fmt.Errorf("cache machine: %w", err)
	}
	return &res.ID, nil
}

func (s *GeneratorService) upsertOperation(ctx context.Context, repos *repository.Repositories, articleTodo *entity.Todo, article erp.OrderArticle, step erp.WorkplanStep, minutes int, machineID *int64, start *time.Time, result *GenerateResult) (*entity.Todo, error) {
	var existing entity.Todo
	err := repos.Todo.DB().WithContext(ctx).
		Where("erp_workplan_detail_id = ? AND parent_todo_id = ?", step.ID, articleTodo.ID).
		First(&existing).Error
	if err == nil {
		changed := false
		if existing.MachineResourceID == nil && machineID != nil {
			existing.MachineResourceID = machineID
			changed = true
		}
		if !existing.IsDurationManual && existing.TotalDurationMinutes != minutes {
			existing.TotalDurationMinutes = minutes
			changed = true
		}
		// 重生成总是重排串行时间
		if start != nil {
			end := start.Add(time.Duration(existing.TotalDurationMinutes) * time.Minute)
			if existing.PlannedStart == nil || !existing.PlannedStart.Equal(*start) {
				existing.PlannedStart = start
				existing.PlannedEnd = &end
				changed = true
			} else if existing.PlannedEnd == nil || !existing.PlannedEnd.Equal(end) {
				existing.PlannedEnd = &end
				changed = true
			}
		}
		if changed {
			if err := repos.Todo.Save(ctx, &existing); err != nil {
				return nil, fmt.Errorf("update operation: %w", err)
			}
			result.UpdatedTodos++
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	todo := &entity.Todo{
		Title:                step.Name,
		TodoType:             entity.TodoTypeOperation,
		Status:               entity.TodoStatusNew,
		ParentTodoID:         &articleTodo.ID,
		ErpOrderID:           articleTodo.ErpOrderID,
		ErpOrderArticleID:    &article.ID,
		ErpWorkplanDetailID:  &step.ID,
		SetupTimeMinutes:     step.SetupMinutes,
		RunTimeMinutes:       step.UnitMinutes,
		Quantity:             article.Quantity,
		TotalDurationMinutes: minutes,
		MachineResourceID:    machineID,
		PlannedStart:         start,
		Version:              1,
	}
	if start != nil {
		end := start.Add(time.Duration(minutes) * time.Minute)
		todo.PlannedEnd = &end
	}
	if err := repos.Todo.Create(ctx, todo); err != nil {
		return nil, fmt.Errorf("create operation: %w", err)
	}
	result.CreatedTodos++
	return todo, nil
}

// generateBomItems BOM行待办并行排布：都从订单开始时间起，互相之间无依赖边，
// 兜底工时60分钟（手动改过的不动）
func (s *GeneratorService) generateBomItems(ctx context.Context, repos *repository.Repositories, gw erp.Gateway, root, articleTodo *entity.Todo, article erp.OrderArticle, result *GenerateResult) error {
	items, err := gw.ListBomItems(ctx, article.BomID)
	if err != nil {
		return fmt.Errorf("load bom items: %w", err)
	}

	for _, item := range items {
		var existing entity.Todo
		err := repos.Todo.DB().WithContext(ctx).
			Where("erp_bom_item_id = ? AND parent_todo_id = ?", item.ID, articleTodo.ID).
			First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		todo := &entity.Todo{
			Title:                item.MaterialName,
			TodoType:             entity.TodoTypeTask,
			Status:               entity.TodoStatusNew,
			ParentTodoID:         &articleTodo.ID,
			ErpOrderID:           root.ErpOrderID,
			ErpOrderArticleID:    &article.ID,
			ErpBomItemID:         &item.ID,
			TotalDurationMinutes: duration.DefaultBomItemMinutes,
			PlannedStart:         root.PlannedStart,
			Version:              1,
		}
		if root.PlannedStart != nil {
			end := root.PlannedStart.Add(time.Duration(todo.TotalDurationMinutes) * time.Minute)
			todo.PlannedEnd = &end
		}
		if err := repos.Todo.Create(ctx, todo); err != nil {
			return fmt.Errorf("create bom item todo: %w", err)
		}
		result.CreatedTodos++
	}
	return nil
}

// rollupOrderContainer 订单容器工时 = 各产品容器工时之和（手动覆盖的除外）
func (s *GeneratorService) rollupOrderContainer(ctx context.Context, repos *repository.Repositories, root *entity.Todo) error {
	var children []entity.Todo
	err := repos.Todo.DB().WithContext(ctx).
		Where("parent_todo_id = ? AND erp_order_article_id IS NOT NULL AND erp_workplan_detail_id IS NULL AND erp_bom_item_id IS NULL", root.ID).
		Find(&children).Error
	if err != nil {
		return fmt.Errorf("load article containers: %w", err)
	}

	sum := 0
	for _, child := range children {
		sum += child.TotalDurationMinutes
	}
	if root.IsDurationManual {
		return nil
	}
	if len(children) == 0 && sum < duration.MinEmptyContainerMinutes {
		sum = duration.MinEmptyContainerMinutes
	}

	root.TotalDurationMinutes = sum
	if root.PlannedStart != nil {
		end := root.PlannedStart.Add(time.Duration(sum) * time.Minute)
		root.PlannedEnd = &end
	}
	return repos.Todo.Save(ctx, root)
}

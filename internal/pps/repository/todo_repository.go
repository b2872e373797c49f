package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"gorm.io/gorm"
)

// TodoRepository 待办仓库
type TodoRepository struct {
	db *gorm.DB
}

// NewTodoRepository 创建待办仓库
func NewTodoRepository(db *gorm.DB) *TodoRepository {
	return &TodoRepository{db: db}
}

// DB 暴露底层连接，供service组装跨仓库事务
func (r *TodoRepository) DB() *gorm.DB {
	return r.db
}

// TodoFilter 列表过滤条件
type TodoFilter struct {
	ErpOrderID   *int64
	Statuses     []string
	TodoTypes    []string
	DateFrom     *time.Time
	DateTo       *time.Time
	ResourceID   *int64
	ParentTodoID *int64
	HasConflicts *bool
	Search       string
	// eigene可见范围：nil = 全部排除eigene；非nil = 仅creator在集合内的eigene可见
	VisibleCreatorIDs *[]int64
	Skip              int
	Limit             int
}

func (r *TodoRepository) applyFilter(query *gorm.DB, f *TodoFilter) *gorm.DB {
	if f.ErpOrderID != nil {
		query = query.Where("erp_order_id = ?", *f.ErpOrderID)
	}
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}
	if len(f.TodoTypes) > 0 {
		query = query.Where("todo_type IN ?", f.TodoTypes)
	}
	if f.DateFrom != nil {
		query = query.Where("(planned_end >= ? OR planned_end IS NULL)", *f.DateFrom)
	}
	if f.DateTo != nil {
		query = query.Where("(planned_start <= ? OR planned_start IS NULL)", *f.DateTo)
	}
	if f.ResourceID != nil {
		query = query.Where(
			"department_resource_id = ? OR machine_resource_id = ? OR employee_resource_id = ?",
			*f.ResourceID, *f.ResourceID, *f.ResourceID,
		)
	}
	if f.ParentTodoID != nil {
		query = query.Where("parent_todo_id = ?", *f.ParentTodoID)
	}
	if f.HasConflicts != nil {
		sub := "SELECT todo_id FROM pps_conflicts WHERE resolved = ?"
		if *f.HasConflicts {
			query = query.Where("id IN ("+sub+")", false)
		} else {
			query = query.Where("id NOT IN ("+sub+")", false)
		}
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query = query.Where("title LIKE ? OR description LIKE ?", like, like)
	}

	// 可见性过滤只作用于eigene，其它类型不受影响
	if f.VisibleCreatorIDs == nil {
		query = query.Where("todo_type <> ?", entity.TodoTypeEigene)
	} else if len(*f.VisibleCreatorIDs) > 0 {
		query = query.Where(
			"todo_type <> ? OR creator_employee_id IN ?",
			entity.TodoTypeEigene, *f.VisibleCreatorIDs,
		)
	} else {
		query = query.Where("todo_type <> ?", entity.TodoTypeEigene)
	}
	return query
}

// List 过滤+分页查询，返回当前页与总数
func (r *TodoRepository) List(ctx context.Context, f *TodoFilter) ([]entity.Todo, int64, error) {
	var todos []entity.Todo
	var total int64

	query := r.applyFilter(r.db.WithContext(ctx).Model(&entity.Todo{}), f)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.
		Preload("DepartmentResource").
		Preload("MachineResource").
		Preload("EmployeeResource").
		Order("planned_start ASC, id ASC")
	if f.Skip > 0 {
		query = query.Offset(f.Skip)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if err := query.Find(&todos).Error; err != nil {
		return nil, 0, err
	}
	return todos, total, nil
}

// FindByID 按ID查找
func (r *TodoRepository) FindByID(ctx context.Context, id int64) (*entity.Todo, error) {
	var todo entity.Todo
	err := r.db.WithContext(ctx).
		Preload("Segments").
		Preload("DepartmentResource").
		Preload("MachineResource").
		Preload("EmployeeResource").
		First(&todo, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &todo, nil
}

// FindByIDs 按ID集合查找
func (r *TodoRepository) FindByIDs(ctx context.Context, ids []int64) ([]entity.Todo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var todos []entity.Todo
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&todos).Error
	return todos, err
}

// FindRootByErpOrder 查订单容器（根节点）
func (r *TodoRepository) FindRootByErpOrder(ctx context.Context, erpOrderID int64) (*entity.Todo, error) {
	var todo entity.Todo
	err := r.db.WithContext(ctx).
		Where("erp_order_id = ? AND parent_todo_id IS NULL AND todo_type = ?",
			erpOrderID, entity.TodoTypeContainerOrder).
		First(&todo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &todo, nil
}

// Create 创建待办
func (r *TodoRepository) Create(ctx context.Context, todo *entity.Todo) error {
	if todo.Version == 0 {
		todo.Version = 1
	}
	return r.db.WithContext(ctx).Create(todo).Error
}

// Save 整行保存（生成器内部使用；面向用户的更新走UpdateWithVersion）
func (r *TodoRepository) Save(ctx context.Context, todo *entity.Todo) error {
	return r.db.WithContext(ctx).Save(todo).Error
}

// LoadSubtree 一次性加载以rootID为根的整棵子树
func (r *TodoRepository) LoadSubtree(ctx context.Context, rootID int64) ([]*entity.Todo, error) {
	root, err := r.FindByID(ctx, rootID)
	if err != nil {
		return nil, err
	}
	nodes := []*entity.Todo{root}
	frontier := []int64{rootID}
	for len(frontier) > 0 {
		var children []entity.Todo
		err := r.db.WithContext(ctx).
			Where("parent_todo_id IN ?", frontier).
			Find(&children).Error
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for i := range children {
			child := children[i]
			nodes = append(nodes, &child)
			frontier = append(frontier, child.ID)
		}
	}
	return nodes, nil
}

// UpdateWithVersion 乐观锁更新原语：加载当前行，校验期望版本，应用mutate，
// 版本+1后保存，全程在一个事务内。拒绝时不产生任何变更。
// expected为nil表示调用方未携带版本，跳过校验直接应用。
func (r *TodoRepository) UpdateWithVersion(ctx context.Context, id int64, expected *int, mutate func(*entity.Todo) error) (*entity.Todo, error) {
	var updated *entity.Todo
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var todo entity.Todo
		if err := tx.First(&todo, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if expected != nil && *expected != todo.Version {
			return &VersionConflictError{TodoID: id, Expected: *expected, Actual: todo.Version}
		}
		if err := mutate(&todo); err != nil {
			return err
		}
		todo.Version++
		if err := tx.Save(&todo).Error; err != nil {
			return err
		}
		updated = &todo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete 删除待办并级联：子树、各节点的段与依赖边一并删除
func (r *TodoRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists entity.Todo
		if err := tx.Select("id").First(&exists, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		// 收集整棵子树的ID
		ids := []int64{id}
		frontier := []int64{id}
		for len(frontier) > 0 {
			var childIDs []int64
			if err := tx.Model(&entity.Todo{}).
				Where("parent_todo_id IN ?", frontier).
				Pluck("id", &childIDs).Error; err != nil {
				return err
			}
			ids = append(ids, childIDs...)
			frontier = childIDs
		}

		if err := tx.Where("todo_id IN ?", ids).Delete(&entity.TodoSegment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("predecessor_id IN ? OR successor_id IN ?", ids, ids).
			Delete(&entity.TodoDependency{}).Error; err != nil {
			return err
		}
		if err := tx.Where("todo_id IN ?", ids).Delete(&entity.Conflict{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&entity.Todo{}).Error
	})
}

// ReplaceSegments 原子替换待办的段集合，并把planned_start/planned_end
// 重算为新段集的min/max，版本+1
func (r *TodoRepository) ReplaceSegments(ctx context.Context, todoID int64, expected *int, segments []entity.TodoSegment) (*entity.Todo, error) {
	var updated *entity.Todo
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var todo entity.Todo
		if err := tx.First(&todo, todoID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if expected != nil && *expected != todo.Version {
			return &VersionConflictError{TodoID: todoID, Expected: *expected, Actual: todo.Version}
		}

		if err := tx.Where("todo_id = ?", todoID).Delete(&entity.TodoSegment{}).Error; err != nil {
			return err
		}
		for i := range segments {
			segments[i].ID = 0
			segments[i].TodoID = todoID
			segments[i].SegmentIndex = i
			if err := tx.Create(&segments[i]).Error; err != nil {
				return err
			}
		}

		if len(segments) > 0 {
			start := segments[0].StartTime
			end := segments[0].EndTime
			for _, seg := range segments[1:] {
				if seg.StartTime.Before(start) {
					start = seg.StartTime
				}
				if seg.EndTime.After(end) {
					end = seg.EndTime
				}
			}
			todo.PlannedStart = &start
			todo.PlannedEnd = &end
		}
		todo.Version++
		if err := tx.Save(&todo).Error; err != nil {
			return err
		}
		updated = &todo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AnnotateConflictCounts 给一页待办补未解决冲突数
func (r *TodoRepository) AnnotateConflictCounts(ctx context.Context, todos []entity.Todo) error {
	if len(todos) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(todos))
	for _, t := range todos {
		ids = append(ids, t.ID)
	}

	type row struct {
		TodoID int64
		N      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&entity.Conflict{}).
		Select("todo_id, COUNT(*) AS n").
		Where("todo_id IN ? AND resolved = ?", ids, false).
		Group("todo_id").
		Scan(&rows).Error
	if err != nil {
		return err
	}
	counts := make(map[int64]int64, len(rows))
	for _, r := range rows {
		counts[r.TodoID] = r.N
	}
	for i := range todos {
		todos[i].ConflictCount = counts[todos[i].ID]
	}
	return nil
}

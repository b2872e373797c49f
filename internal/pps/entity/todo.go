package entity

import (
	"time"
)

// TodoType 待办类型
const (
	TodoTypeContainerOrder = "container_order" // 订单容器（根节点）
	TodoTypeTask           = "task"            // 产品容器 / 普通任务
	TodoTypeOperation      = "operation"       // 工序（叶子）
	TodoTypeEigene         = "eigene"          // 个人待办，无ERP关联，按组织架构过滤可见性
)

// TodoStatus 待办状态
const (
	TodoStatusNew        = "new"
	TodoStatusInProgress = "in_progress"
	TodoStatusCompleted  = "completed"
	TodoStatusCancelled  = "cancelled"
)

// IsContainer 容器类型的duration由子节点汇总得出
func IsContainer(todoType string) bool {
	switch todoType {
	case TodoTypeContainerOrder, TodoTypeTask:
		return true
	case TodoTypeOperation, TodoTypeEigene:
		return false
	}
	return false
}

// ValidTodoType 校验待办类型
func ValidTodoType(todoType string) bool {
	switch todoType {
	case TodoTypeContainerOrder, TodoTypeTask, TodoTypeOperation, TodoTypeEigene:
		return true
	}
	return false
}

// ValidTodoStatus 校验待办状态
func ValidTodoStatus(status string) bool {
	switch status {
	case TodoStatusNew, TodoStatusInProgress, TodoStatusCompleted, TodoStatusCancelled:
		return true
	}
	return false
}

// Todo 排产待办：订单容器 → 产品容器 → 工序 的树节点
type Todo struct {
	ID          int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Title       string `json:"title" gorm:"size:256;not null"`
	Description string `json:"description" gorm:"type:text"`
	TodoType    string `json:"todo_type" gorm:"size:32;not null;default:task;index"`
	Status      string `json:"status" gorm:"size:16;not null;default:new;index"`
	BlockReason string `json:"block_reason" gorm:"size:256"`
	Priority    int    `json:"priority" gorm:"not null;default:0"`

	// 树结构：parent为空即根节点（订单容器）
	ParentTodoID *int64 `json:"parent_todo_id" gorm:"index"`

	// ERP关联，仅用于重复生成时的幂等匹配
	ErpOrderID          *int64 `json:"erp_order_id" gorm:"index"`
	ErpOrderArticleID   *int64 `json:"erp_order_article_id" gorm:"index"`
	ErpWorkplanDetailID *int64 `json:"erp_workplan_detail_id" gorm:"index"`
	ErpBomItemID        *int64 `json:"erp_bom_item_id" gorm:"index"`

	PlannedStart *time.Time `json:"planned_start" gorm:"index"`
	PlannedEnd   *time.Time `json:"planned_end" gorm:"index"`
	ActualStart  *time.Time `json:"actual_start"`
	ActualEnd    *time.Time `json:"actual_end"`
	DeliveryDate *time.Time `json:"delivery_date"`

	// 工时字段，TotalDurationMinutes由引擎计算；手动覆盖后不再被汇总改写
	SetupTimeMinutes     float64 `json:"setup_time_minutes" gorm:"type:decimal(10,2);not null;default:0"`
	RunTimeMinutes       float64 `json:"run_time_minutes" gorm:"type:decimal(10,2);not null;default:0"`
	Quantity             int     `json:"quantity" gorm:"not null;default:0"`
	TotalDurationMinutes int     `json:"total_duration_minutes" gorm:"not null;default:0"`
	IsDurationManual     bool    `json:"is_duration_manual" gorm:"not null;default:false"`

	// 分配目标（ResourceCache ID），三个字段独立可设，展示时取 machine > employee > department
	DepartmentResourceID *int64 `json:"department_resource_id" gorm:"index"`
	MachineResourceID    *int64 `json:"machine_resource_id" gorm:"index"`
	EmployeeResourceID   *int64 `json:"employee_resource_id" gorm:"index"`

	// eigene可见性过滤依据（创建人的ResourceCache ID）
	CreatorEmployeeID *int64 `json:"creator_employee_id" gorm:"index"`

	// 乐观锁版本号，从1开始，每次成功更新+1
	Version int `json:"version" gorm:"not null;default:1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Segments           []TodoSegment  `json:"segments,omitempty" gorm:"foreignKey:TodoID"`
	Children           []Todo         `json:"children,omitempty" gorm:"foreignKey:ParentTodoID"`
	DepartmentResource *ResourceCache `json:"department_resource,omitempty" gorm:"foreignKey:DepartmentResourceID"`
	MachineResource    *ResourceCache `json:"machine_resource,omitempty" gorm:"foreignKey:MachineResourceID"`
	EmployeeResource   *ResourceCache `json:"employee_resource,omitempty" gorm:"foreignKey:EmployeeResourceID"`

	// 列表查询附带的冲突数，不落库
	ConflictCount int64 `json:"conflict_count" gorm:"-"`
}

func (Todo) TableName() string {
	return "pps_todos"
}

// TodoSegment 待办拆分段：一个待办跨时间/资源拆分执行的子区间
type TodoSegment struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TodoID       int64     `json:"todo_id" gorm:"not null;index"`
	SegmentIndex int       `json:"segment_index" gorm:"not null;default:0"`
	StartTime    time.Time `json:"start_time" gorm:"not null"`
	EndTime      time.Time `json:"end_time" gorm:"not null"`
	// 可选的段级资源覆盖
	MachineResourceID  *int64 `json:"machine_resource_id"`
	EmployeeResourceID *int64 `json:"employee_resource_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TodoSegment) TableName() string {
	return "pps_todo_segments"
}

// DependencyType 依赖类型，开放枚举：生成器只产出finish_to_start，列存其余取值
const (
	DependencyFinishToStart  = "finish_to_start"
	DependencyStartToStart   = "start_to_start"
	DependencyFinishToFinish = "finish_to_finish"
	DependencyStartToFinish  = "start_to_finish"
)

// TodoDependency 待办依赖边 predecessor → successor
// 同一(predecessor, successor)对最多一条边；不做环检测
type TodoDependency struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	PredecessorID  int64     `json:"predecessor_id" gorm:"not null;index;uniqueIndex:uniq_pps_dep_pair"`
	SuccessorID    int64     `json:"successor_id" gorm:"not null;index;uniqueIndex:uniq_pps_dep_pair"`
	DependencyType string    `json:"dependency_type" gorm:"size:32;not null;default:finish_to_start"`
	LagMinutes     int       `json:"lag_minutes" gorm:"not null;default:0"`
	IsActive       bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt      time.Time `json:"created_at"`
}

func (TodoDependency) TableName() string {
	return "pps_todo_dependencies"
}

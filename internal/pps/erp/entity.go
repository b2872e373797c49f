package erp

import (
	"time"
)

// ERP镜像表：由外部同步作业写入，本核心只读。
// ID即ERP侧主键，排产通过ResourceCache把ERP ID换成本地ID。

// Order ERP订单
type Order struct {
	ID           int64      `json:"id" gorm:"primaryKey"`
	OrderNo      string     `json:"order_no" gorm:"size:64;not null;uniqueIndex"`
	Name         string     `json:"name" gorm:"size:256;not null"`
	CustomerName string     `json:"customer_name" gorm:"size:256"`
	DeliveryDate *time.Time `json:"delivery_date"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Order) TableName() string {
	return "erp_orders"
}

// OrderArticle 订单产品行，BomID挂接工艺路线与BOM
type OrderArticle struct {
	ID              int64     `json:"id" gorm:"primaryKey"`
	OrderID         int64     `json:"order_id" gorm:"not null;index"`
	ArticleNo       string    `json:"article_no" gorm:"size:64;not null"`
	Name            string    `json:"name" gorm:"size:256;not null"`
	BomID           int64     `json:"bom_id" gorm:"index"`
	DepartmentErpID *int64    `json:"department_erp_id"`
	Quantity        int       `json:"quantity" gorm:"not null;default:1"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (OrderArticle) TableName() string {
	return "erp_order_articles"
}

// WorkplanStep 工艺步骤：单件工时 + 准备工时 + 机台
type WorkplanStep struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	BomID        int64     `json:"bom_id" gorm:"not null;index"`
	Position     int       `json:"position" gorm:"not null;default:0"`
	Name         string    `json:"name" gorm:"size:256;not null"`
	SetupMinutes float64   `json:"setup_minutes" gorm:"type:decimal(10,2);not null;default:0"`
	UnitMinutes  float64   `json:"unit_minutes" gorm:"type:decimal(10,2);not null;default:0"`
	MachineErpID *int64    `json:"machine_erp_id"`
	MachineLevel int       `json:"machine_level" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
}

func (WorkplanStep) TableName() string {
	return "erp_workplan_steps"
}

// BomItem BOM物料行
type BomItem struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	BomID        int64     `json:"bom_id" gorm:"not null;index"`
	Position     int       `json:"position" gorm:"not null;default:0"`
	MaterialName string    `json:"material_name" gorm:"size:256;not null"`
	Quantity     float64   `json:"quantity" gorm:"type:decimal(12,4);not null;default:1"`
	Unit         string    `json:"unit" gorm:"size:16;default:pcs"`
	CreatedAt    time.Time `json:"created_at"`
}

func (BomItem) TableName() string {
	return "erp_bom_items"
}

// Employee ERP员工，ManagerErpID构成组织层级
type Employee struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"size:128;not null"`
	ManagerErpID *int64    `json:"manager_erp_id" gorm:"index"`
	IsActive     bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Employee) TableName() string {
	return "erp_employees"
}

// Machine ERP机台
type Machine struct {
	ID              int64     `json:"id" gorm:"primaryKey"`
	Name            string    `json:"name" gorm:"size:128;not null"`
	DepartmentErpID *int64    `json:"department_erp_id"`
	IsActive        bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Machine) TableName() string {
	return "erp_machines"
}

// Department ERP部门
type Department struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Department) TableName() string {
	return "erp_departments"
}

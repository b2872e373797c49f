package erp

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrOrderNotFound ERP订单不存在
var ErrOrderNotFound = errors.New("erp order not found")

// Gateway ERP读取协作方。生成器与可见性过滤通过该接口访问ERP数据，
// 不使用全局连接，便于测试替换。
type Gateway interface {
	// GetOrder 按ERP订单ID取订单元数据
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	// ListOrderArticles 订单的产品行
	ListOrderArticles(ctx context.Context, orderID int64) ([]OrderArticle, error)
	// ListWorkplanSteps BOM对应的工艺步骤，按position排序
	ListWorkplanSteps(ctx context.Context, bomID int64) ([]WorkplanStep, error)
	// ListBomItems BOM物料行，按position排序
	ListBomItems(ctx context.Context, bomID int64) ([]BomItem, error)
	// GetEmployee 按ERP员工ID取员工
	GetEmployee(ctx context.Context, employeeID int64) (*Employee, error)
	// ListDirectSubordinates 直接下属（非传递闭包，闭包由调用方迭代）
	ListDirectSubordinates(ctx context.Context, managerID int64) ([]Employee, error)
	// GetMachine 按ERP机台ID取机台
	GetMachine(ctx context.Context, machineID int64) (*Machine, error)
	// GetDepartment 按ERP部门ID取部门
	GetDepartment(ctx context.Context, departmentID int64) (*Department, error)
}

// TxBinder 能重绑定到事务连接的Gateway。生成器在事务内通过它
// 把ERP读取放到同一连接上，避免与事务互相等待连接。
type TxBinder interface {
	WithTx(tx *gorm.DB) Gateway
}

// GormGateway 基于ERP镜像表的Gateway实现
type GormGateway struct {
	db *gorm.DB
}

// NewGormGateway 创建镜像表Gateway
func NewGormGateway(db *gorm.DB) *GormGateway {
	return &GormGateway{db: db}
}

// WithTx 返回绑定到指定连接的副本
func (g *GormGateway) WithTx(tx *gorm.DB) Gateway {
	return &GormGateway{db: tx}
}

func (g *GormGateway) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	var order Order
	err := g.db.WithContext(ctx).First(&order, orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (g *GormGateway) ListOrderArticles(ctx context.Context, orderID int64) ([]OrderArticle, error) {
	var articles []OrderArticle
	err := g.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&articles).Error
	return articles, err
}

func (g *GormGateway) ListWorkplanSteps(ctx context.Context, bomID int64) ([]WorkplanStep, error) {
	var steps []WorkplanStep
	err := g.db.WithContext(ctx).
		Where("bom_id = ?", bomID).
		Order("position ASC, id ASC").
		Find(&steps).Error
	return steps, err
}

func (g *GormGateway) ListBomItems(ctx context.Context, bomID int64) ([]BomItem, error) {
	var items []BomItem
	err := g.db.WithContext(ctx).
		Where("bom_id = ?", bomID).
		Order("position ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (g *GormGateway) GetEmployee(ctx context.Context, employeeID int64) (*Employee, error) {
	var employee Employee
	err := g.db.WithContext(ctx).First(&employee, employeeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &employee, nil
}

func (g *GormGateway) ListDirectSubordinates(ctx context.Context, managerID int64) ([]Employee, error) {
	var employees []Employee
	err := g.db.WithContext(ctx).
		Where("manager_erp_id = ? AND is_active = ?", managerID, true).
		Find(&employees).Error
	return employees, err
}

func (g *GormGateway) GetMachine(ctx context.Context, machineID int64) (*Machine, error) {
	var machine Machine
	err := g.db.WithContext(ctx).First(&machine, machineID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &machine, nil
}

func (g *GormGateway) GetDepartment(ctx context.Context, departmentID int64) (*Department, error) {
	var department Department
	err := g.db.WithContext(ctx).First(&department, departmentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &department, nil
}

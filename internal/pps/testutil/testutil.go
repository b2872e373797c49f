package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-pps/internal/middleware"
	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/bitfantasy/nimo-pps/internal/pps/erp"
	"github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// SetupTestDB creates an isolated in-memory database with all tables migrated.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// 内存库在连接关闭时消失，限制为单连接
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&entity.Todo{},
		&entity.TodoSegment{},
		&entity.TodoDependency{},
		&entity.ResourceCache{},
		&entity.Conflict{},
		&erp.Order{},
		&erp.OrderArticle{},
		&erp.WorkplanStep{},
		&erp.BomItem{},
		&erp.Employee{},
		&erp.Machine{},
		&erp.Department{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return db
}

// SetupRouter creates a gin test router with the identity middleware
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EmployeeIdentity())
	return r
}

// DoRequest executes an HTTP request against the test router.
// erpID > 0 sets the X-Employee-ERP-ID header.
func DoRequest(r *gin.Engine, method, path string, body interface{}, erpID int64) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if erpID > 0 {
		req.Header.Set("X-Employee-ERP-ID", strconv.FormatInt(erpID, 10))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedTodo creates a todo row directly
func SeedTodo(t *testing.T, db *gorm.DB, todo *entity.Todo) *entity.Todo {
	t.Helper()
	if todo.TodoType == "" {
		todo.TodoType = entity.TodoTypeTask
	}
	if todo.Status == "" {
		todo.Status = entity.TodoStatusNew
	}
	if todo.Version == 0 {
		todo.Version = 1
	}
	if err := db.Create(todo).Error; err != nil {
		t.Fatalf("Failed to seed todo: %v", err)
	}
	return todo
}

// SeedErpOrder creates an ERP order mirror row
func SeedErpOrder(t *testing.T, db *gorm.DB, id int64, orderNo string) *erp.Order {
	t.Helper()
	order := &erp.Order{
		ID:        id,
		OrderNo:   orderNo,
		Name:      "Order " + orderNo,
		CreatedAt: time.Now(),
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("Failed to seed erp order: %v", err)
	}
	return order
}

// SeedErpEmployee creates an ERP employee mirror row
func SeedErpEmployee(t *testing.T, db *gorm.DB, id int64, name string, managerErpID *int64) *erp.Employee {
	t.Helper()
	emp := &erp.Employee{
		ID:           id,
		Name:         name,
		ManagerErpID: managerErpID,
		IsActive:     true,
	}
	if err := db.Create(emp).Error; err != nil {
		t.Fatalf("Failed to seed erp employee: %v", err)
	}
	return emp
}

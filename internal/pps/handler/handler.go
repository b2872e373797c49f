package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-pps/internal/middleware"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"github.com/bitfantasy/nimo-pps/internal/pps/service"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Todo       *TodoHandler
	Gantt      *GanttHandler
	Dependency *DependencyHandler
	Conflict   *ConflictHandler
	Generate   *GenerateHandler
	Resource   *ResourceHandler
	Admin      *AdminHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, repos *repository.Repositories) *Handlers {
	return &Handlers{
		Todo:       NewTodoHandler(svc.Todo),
		Gantt:      NewGanttHandler(svc.Gantt),
		Dependency: NewDependencyHandler(svc.Dependency),
		Conflict:   NewConflictHandler(svc.Conflict),
		Generate:   NewGenerateHandler(svc.Generator),
		Resource:   NewResourceHandler(repos.Resource),
		Admin:      NewAdminHandler(svc.Visibility),
	}
}

// RegisterRoutes 挂载API路由。adminGuards施加在/admin分组上，
// 部署时传JWT认证 + 角色检查，测试可不传。
func RegisterRoutes(v1 *gin.RouterGroup, h *Handlers, adminGuards ...gin.HandlerFunc) {
	todos := v1.Group("/todos")
	{
		todos.GET("", h.Todo.List)
		todos.GET("/export", h.Todo.Export)
		todos.POST("", h.Todo.Create)
		todos.GET("/:id", h.Todo.Get)
		todos.PATCH("/:id", h.Todo.Update)
		todos.DELETE("/:id", h.Todo.Delete)
		todos.POST("/:id/split", h.Todo.Split)
		todos.POST("/:id/rollup", h.Todo.Rollup)
	}

	v1.POST("/generate-todos", h.Generate.Generate)

	gantt := v1.Group("/gantt")
	{
		gantt.GET("/data", h.Gantt.Data)
		gantt.POST("/sync", h.Gantt.Sync)
	}

	deps := v1.Group("/dependencies")
	{
		deps.GET("", h.Dependency.List)
		deps.POST("", h.Dependency.Create)
		deps.DELETE("/:id", h.Dependency.Delete)
	}

	conflicts := v1.Group("/conflicts")
	{
		conflicts.GET("", h.Conflict.List)
		conflicts.POST("/check", h.Conflict.Check)
		conflicts.PATCH("/:id/resolve", h.Conflict.Resolve)
	}

	v1.GET("/resources", h.Resource.List)

	admin := v1.Group("/admin", adminGuards...)
	{
		admin.POST("/visibility-cache/flush", h.Admin.FlushVisibilityCache)
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// VersionConflict 版本冲突响应，携带双方版本号供UI刷新重试
func VersionConflict(c *gin.Context, e *repository.VersionConflictError) {
	c.JSON(409, Response{
		Code:    40900,
		Message: e.Error(),
		Data: gin.H{
			"todo_id":          e.TodoID,
			"expected_version": e.Expected,
			"actual_version":   e.Actual,
		},
	})
}

// WriteError 按错误类型映射响应码
func WriteError(c *gin.Context, err error) {
	var vcErr *repository.VersionConflictError
	switch {
	case errors.As(err, &vcErr):
		VersionConflict(c, vcErr)
	case errors.Is(err, repository.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, repository.ErrDuplicateEdge):
		Error(c, 40901, err.Error())
	default:
		InternalError(c, err.Error())
	}
}

// CallerErpID 从上下文取调用方ERP员工ID，未携带则为nil
func CallerErpID(c *gin.Context) *int64 {
	if v, exists := c.Get(middleware.EmployeeErpIDKey); exists {
		if id, ok := v.(int64); ok {
			return &id
		}
	}
	return nil
}

// GetSkipLimit 从请求获取分页参数
func GetSkipLimit(c *gin.Context) (skip, limit int) {
	limit = 100

	if s := c.Query("skip"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			skip = v
		}
	}
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	return skip, limit
}

// ParamID 解析路径中的数字ID
func ParamID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(c, "invalid id: "+c.Param(name))
		return 0, false
	}
	return id, true
}

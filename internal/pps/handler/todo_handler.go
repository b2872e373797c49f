package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-pps/internal/pps/service"
	"github.com/gin-gonic/gin"
)

// TodoHandler 待办接口
type TodoHandler struct {
	svc *service.TodoService
}

func NewTodoHandler(svc *service.TodoService) *TodoHandler {
	return &TodoHandler{svc: svc}
}

// queryInt64 解析可选的数字query参数
func queryInt64(c *gin.Context, name string) *int64 {
	if s := c.Query(name); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &v
		}
	}
	return nil
}

// queryTime 解析可选的时间query参数（RFC3339或日期）
func queryTime(c *gin.Context, name string) *time.Time {
	s := c.Query(name)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// queryList 逗号分隔的多值query参数
func queryList(c *gin.Context, name string) []string {
	s := c.Query(name)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func listRequestFromQuery(c *gin.Context) *service.ListTodosRequest {
	skip, limit := GetSkipLimit(c)
	req := &service.ListTodosRequest{
		ErpOrderID:   queryInt64(c, "erp_order_id"),
		Statuses:     queryList(c, "status"),
		TodoTypes:    queryList(c, "todo_type"),
		DateFrom:     queryTime(c, "date_from"),
		DateTo:       queryTime(c, "date_to"),
		ResourceID:   queryInt64(c, "resource_id"),
		ParentTodoID: queryInt64(c, "parent_todo_id"),
		Search:       c.Query("search"),
		Skip:         skip,
		Limit:        limit,
		CallerErpID:  CallerErpID(c),
	}
	if s := c.Query("has_conflicts"); s != "" {
		v := s == "true" || s == "1"
		req.HasConflicts = &v
	}
	return req
}

// List GET /todos
func (h *TodoHandler) List(c *gin.Context) {
	result, err := h.svc.List(c.Request.Context(), listRequestFromQuery(c))
	if err != nil {
		InternalError(c, "查询待办列表失败: "+err.Error())
		return
	}
	Success(c, result)
}

// Get GET /todos/:id
func (h *TodoHandler) Get(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}
	todo, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		WriteError(c, err)
		return
	}
	Success(c, todo)
}

// Create POST /todos
func (h *TodoHandler) Create(c *gin.Context) {
	var req service.CreateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	todo, err := h.svc.Create(c.Request.Context(), &req, CallerErpID(c))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Created(c, todo)
}

// Update PATCH /todos/:id
func (h *TodoHandler) Update(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	todo, err := h.svc.Update(c.Request.Context(), id, &req)
	if err != nil {
		WriteError(c, err)
		return
	}
	Success(c, todo)
}

// Delete DELETE /todos/:id
func (h *TodoHandler) Delete(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		WriteError(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// Split POST /todos/:id/split
func (h *TodoHandler) Split(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}
	var req service.SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	todo, err := h.svc.Split(c.Request.Context(), id, &req)
	if err != nil {
		WriteError(c, err)
		return
	}
	Success(c, todo)
}

// Rollup POST /todos/:id/rollup 重算子树工时汇总
func (h *TodoHandler) Rollup(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}
	updated, err := h.svc.Rollup(c.Request.Context(), id)
	if err != nil {
		WriteError(c, err)
		return
	}
	Success(c, gin.H{"updated": updated})
}

// Export GET /todos/export 按当前过滤条件导出Excel
func (h *TodoHandler) Export(c *gin.Context) {
	f, filename, err := h.svc.ExportExcel(c.Request.Context(), listRequestFromQuery(c))
	if err != nil {
		InternalError(c, "导出失败: "+err.Error())
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}

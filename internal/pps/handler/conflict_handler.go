package handler

import (
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"github.com/bitfantasy/nimo-pps/internal/pps/service"
	"github.com/gin-gonic/gin"
)

// ConflictHandler 排程冲突接口
type ConflictHandler struct {
	svc *service.ConflictService
}

func NewConflictHandler(svc *service.ConflictService) *ConflictHandler {
	return &ConflictHandler{svc: svc}
}

// List GET /conflicts
func (h *ConflictHandler) List(c *gin.Context) {
	f := &repository.ConflictFilter{
		TodoID:   queryInt64(c, "todo_id"),
		Severity: c.Query("severity"),
	}
	if s := c.Query("resolved"); s != "" {
		v := s == "true" || s == "1"
		f.Resolved = &v
	}
	conflicts, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		InternalError(c, "查询冲突失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": conflicts})
}

// Check POST /conflicts/check 全量重检，替换未解决冲突集
func (h *ConflictHandler) Check(c *gin.Context) {
	count, err := h.svc.RecheckAll(c.Request.Context())
	if err != nil {
		InternalError(c, "冲突检查失败: "+err.Error())
		return
	}
	Success(c, gin.H{"detected": count})
}

// Resolve PATCH /conflicts/:id/resolve
func (h *ConflictHandler) Resolve(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}
	conflict, err := h.svc.Resolve(c.Request.Context(), id)
	if err != nil {
		WriteError(c, err)
		return
	}
	Success(c, conflict)
}

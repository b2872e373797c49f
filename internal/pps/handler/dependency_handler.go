package handler

import (
	"errors"

	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"github.com/bitfantasy/nimo-pps/internal/pps/service"
	"github.com/gin-gonic/gin"
)

// DependencyHandler 依赖边接口
type DependencyHandler struct {
	svc *service.DependencyService
}

func NewDependencyHandler(svc *service.DependencyService) *DependencyHandler {
	return &DependencyHandler{svc: svc}
}

// List GET /dependencies?todo_id=
func (h *DependencyHandler) List(c *gin.Context) {
	deps, err := h.svc.List(c.Request.Context(), queryInt64(c, "todo_id"))
	if err != nil {
		InternalError(c, "查询依赖失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": deps})
}

// Create POST /dependencies
func (h *DependencyHandler) Create(c *gin.Context) {
	var req service.CreateDependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	dep, err := h.svc.Create(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEdge) || errors.Is(err, repository.ErrNotFound) {
			WriteError(c, err)
			return
		}
		BadRequest(c, err.Error())
		return
	}
	Created(c, dep)
}

// Delete DELETE /dependencies/:id
func (h *DependencyHandler) Delete(c *gin.Context) {
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

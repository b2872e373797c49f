package handler

import (
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"github.com/bitfantasy/nimo-pps/internal/pps/service"
	"github.com/gin-gonic/gin"
)

// ResourceHandler 资源缓存查询接口
type ResourceHandler struct {
	repo *repository.ResourceCacheRepository
}

func NewResourceHandler(repo *repository.ResourceCacheRepository) *ResourceHandler {
	return &ResourceHandler{repo: repo}
}

// List GET /resources?resource_type=
func (h *ResourceHandler) List(c *gin.Context) {
	resources, err := h.repo.List(c.Request.Context(), c.Query("resource_type"))
	if err != nil {
		InternalError(c, "查询资源失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": resources})
}

// AdminHandler 运维接口
type AdminHandler struct {
	visibility *service.VisibilityService
}

func NewAdminHandler(visibility *service.VisibilityService) *AdminHandler {
	return &AdminHandler{visibility: visibility}
}

// FlushVisibilityCache POST /admin/visibility-cache/flush
// 组织架构变动后清掉可见性闭包缓存
func (h *AdminHandler) FlushVisibilityCache(c *gin.Context) {
	if err := h.visibility.FlushCache(c.Request.Context()); err != nil {
		InternalError(c, "清除缓存失败: "+err.Error())
		return
	}
	Success(c, gin.H{"flushed": true})
}

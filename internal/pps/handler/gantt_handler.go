package handler

import (
	"github.com/bitfantasy/nimo-pps/internal/pps/service"
	"github.com/gin-gonic/gin"
)

// GanttHandler 甘特图交换接口
type GanttHandler struct {
	svc *service.GanttService
}

func NewGanttHandler(svc *service.GanttService) *GanttHandler {
	return &GanttHandler{svc: svc}
}

// Data GET /gantt/data 扁平task/link导出
func (h *GanttHandler) Data(c *gin.Context) {
	data, err := h.svc.Export(c.Request.Context(), listRequestFromQuery(c))
	if err != nil {
		InternalError(c, "导出甘特数据失败: "+err.Error())
		return
	}
	Success(c, data)
}

// Sync POST /gantt/sync 批量同步，单项失败不中断整批
func (h *GanttHandler) Sync(c *gin.Context) {
	var req service.GanttSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	result, err := h.svc.Sync(c.Request.Context(), &req, CallerErpID(c))
	if err != nil {
		InternalError(c, "同步失败: "+err.Error())
		return
	}
	Success(c, result)
}

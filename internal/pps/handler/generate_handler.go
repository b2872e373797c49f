package handler

import (
	"errors"

	"github.com/bitfantasy/nimo-pps/internal/pps/erp"
	"github.com/bitfantasy/nimo-pps/internal/pps/service"
	"github.com/gin-gonic/gin"
)

// GenerateHandler ERP订单生成接口
type GenerateHandler struct {
	svc *service.GeneratorService
}

func NewGenerateHandler(svc *service.GeneratorService) *GenerateHandler {
	return &GenerateHandler{svc: svc}
}

// Generate POST /generate-todos 从ERP订单生成/补齐待办树，可重复调用
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req service.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	result, err := h.svc.GenerateFromOrder(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, erp.ErrOrderNotFound) {
			NotFound(c, err.Error())
			return
		}
		InternalError(c, "生成失败: "+err.Error())
		return
	}
	Success(c, result)
}

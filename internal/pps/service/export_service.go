package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/xuri/excelize/v2"
)

// exportHeaders 导出列头
var exportHeaders = []string{
	"ID", "标题", "类型", "状态", "优先级", "父待办",
	"计划开始", "计划结束", "交期", "工时(分钟)", "手动工时",
	"部门", "机台", "员工", "ERP订单", "版本",
}

// ExportExcel 按当前过滤条件导出待办清单为Excel
func (s *TodoService) ExportExcel(ctx context.Context, req *ListTodosRequest) (*excelize.File, string, error) {
	// 导出不分页，设上限防止内存失控
	req.Skip = 0
	req.Limit = 10000

	result, err := s.List(ctx, req)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "Todos"
	f.SetSheetName("Sheet1", sheet)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, todo := range result.Items {
		values := []interface{}{
			todo.ID,
			todo.Title,
			todo.TodoType,
			todo.Status,
			todo.Priority,
			deref64(todo.ParentTodoID),
			formatTime(todo.PlannedStart),
			formatTime(todo.PlannedEnd),
			formatTime(todo.DeliveryDate),
			todo.TotalDurationMinutes,
			todo.IsDurationManual,
			resourceName(todo.DepartmentResource),
			resourceName(todo.MachineResource),
			resourceName(todo.EmployeeResource),
			deref64(todo.ErpOrderID),
			todo.Version,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	filename := fmt.Sprintf("todos_%s.xlsx", time.Now().Format("20060102_150405"))
	return f, filename, nil
}

func deref64(p *int64) interface{} {
	if p == nil {
		return ""
	}
	return *p
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

func resourceName(r *entity.ResourceCache) string {
	if r == nil {
		return ""
	}
	return r.Name
}

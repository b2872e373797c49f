// Package conflictcheck 提供一个基础的机台占用冲突检测器。
// 规则引擎属于外部协作方，这里只实现最朴素的同机台时间重叠检测，
// 供默认部署与测试使用；复杂规则通过service.ConflictDetector接口替换。
package conflictcheck

import (
	"context"
	"fmt"
	"sort"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"gorm.io/gorm"
)

// ConflictTypeMachineOverlap 同机台时间重叠
const ConflictTypeMachineOverlap = "machine_overlap"

// MachineOverlapDetector 同机台重叠检测
type MachineOverlapDetector struct {
	db *gorm.DB
}

// NewMachineOverlapDetector 创建检测器
func NewMachineOverlapDetector(db *gorm.DB) *MachineOverlapDetector {
	return &MachineOverlapDetector{db: db}
}

// Detect 扫描所有已排期、未完结、绑定机台的待办，按机台分组找时间重叠
func (d *MachineOverlapDetector) Detect(ctx context.Context) ([]entity.Conflict, error) {
	var todos []entity.Todo
	err := d.db.WithContext(ctx).
		Where("machine_resource_id IS NOT NULL AND planned_start IS NOT NULL AND planned_end IS NOT NULL").
		Where("status NOT IN ?", []string{entity.TodoStatusCompleted, entity.TodoStatusCancelled}).
		Find(&todos).Error
	if err != nil {
		return nil, err
	}

	byMachine := make(map[int64][]entity.Todo)
	for _, todo := range todos {
		byMachine[*todo.MachineResourceID] = append(byMachine[*todo.MachineResourceID], todo)
	}

	var conflicts []entity.Conflict
	for _, group := range byMachine {
		sort.Slice(group, func(i, j int) bool {
			return group[i].PlannedStart.Before(*group[j].PlannedStart)
		})
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if !group[j].PlannedStart.Before(*group[i].PlannedEnd) {
					break
				}
				related := group[j].ID
				conflicts = append(conflicts, entity.Conflict{
					ConflictType:  ConflictTypeMachineOverlap,
					TodoID:        group[i].ID,
					RelatedTodoID: &related,
					Severity:      entity.ConflictSeverityWarning,
					Description: fmt.Sprintf("todos %d and %d overlap on the same machine",
						group[i].ID, group[j].ID),
				})
			}
		}
	}
	return conflicts, nil
}

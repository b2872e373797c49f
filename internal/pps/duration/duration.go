// Package duration implements the planning time engine: leaf durations are
// computed from setup/run time and quantity and snapped to 15-minute slots;
// container durations are rolled up bottom-up from their children.
package duration

import (
	"math"
)

const (
	// SlotMinutes 排产粒度：所有叶子工时都对齐到15分钟槽
	SlotMinutes = 15
	// roundThreshold 四舍五入阈值：余数 >= 7.5 进位
	roundThreshold = 7.5
	// MinLeafMinutes 叶子工时下限
	MinLeafMinutes = 15
	// MinEmptyContainerMinutes 无子节点容器的工时下限，避免甘特图零宽节点
	MinEmptyContainerMinutes = 5
	// DefaultBomItemMinutes BOM行待办的兜底工时
	DefaultBomItemMinutes = 60
)

// LeafMinutes 计算叶子待办工时：setup + unit*qty，对齐到15分钟槽，下限15
func LeafMinutes(setupMinutes, unitMinutes float64, quantity int) int {
	raw := setupMinutes + unitMinutes*float64(quantity)
	if raw <= 0 {
		return MinLeafMinutes
	}
	return RoundToSlot(raw)
}

// RoundToSlot 将分钟数对齐到15分钟槽：余数 < 7.5 舍去，>= 7.5 进位，下限15
func RoundToSlot(minutes float64) int {
	slots := math.Floor(minutes / SlotMinutes)
	remainder := minutes - slots*SlotMinutes
	if remainder >= roundThreshold {
		slots++
	}
	result := int(slots) * SlotMinutes
	if result < MinLeafMinutes {
		return MinLeafMinutes
	}
	return result
}

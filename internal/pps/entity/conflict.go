package entity

import (
	"time"
)

// ConflictSeverity 冲突级别
const (
	ConflictSeverityInfo    = "info"
	ConflictSeverityWarning = "warning"
	ConflictSeverityError   = "error"
)

// Conflict 排产冲突记录
// 仅由外部冲突检测器在recheck时写入，本核心只负责存取；resolved由用户显式操作
type Conflict struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ConflictType  string    `json:"conflict_type" gorm:"size:32;not null"`
	TodoID        int64     `json:"todo_id" gorm:"not null;index"`
	RelatedTodoID *int64    `json:"related_todo_id" gorm:"index"`
	Description   string    `json:"description" gorm:"type:text"`
	Severity      string    `json:"severity" gorm:"size:16;not null;default:warning"`
	Resolved      bool      `json:"resolved" gorm:"not null;default:false;index"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Conflict) TableName() string {
	return "pps_conflicts"
}

package domain

import "time"

// RunStatus 单次工具执行结果
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusTimeout   RunStatus = "timeout"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped" // 已有输出, 未重新执行
)

// ToolRun 工具执行记录表, 每个 (tool, apk) 只保留最新一次
type ToolRun struct {
	ID      uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchID string `gorm:"type:varchar(36);index:idx_batch_id" json:"batch_id"`
	Tool    string `gorm:"type:varchar(32);uniqueIndex:uk_tool_apk;not null" json:"tool"`
	APKName string `gorm:"type:varchar(255);uniqueIndex:uk_tool_apk;not null" json:"apk_name"`

	Status          RunStatus `gorm:"type:varchar(20);index:idx_status" json:"status"`
	DurationSeconds float64   `json:"duration_seconds"`
	ExitCode        int       `json:"exit_code"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message,omitempty"`

	StartedAt time.Time `json:"started_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ToolRun) TableName() string {
	return "tool_runs"
}

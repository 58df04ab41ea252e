package models

import (
	"time"
)

// JobStatus 打印任务状态
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"     // 等待配置
	JobStatusConfiguring JobStatus = "configuring" // 选项配置中
	JobStatusPrinting    JobStatus = "printing"    // 打印中
	JobStatusCompleted   JobStatus = "completed"   // 已完成
	JobStatusFailed      JobStatus = "failed"      // 失败
	JobStatusCancelled   JobStatus = "cancelled"   // 已取消
)

// IsTerminal 是否为终态
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ColorMode 色彩模式
type ColorMode string

const (
	ColorModeBW      ColorMode = "bw"      // 黑白
	ColorModeColored ColorMode = "colored" // 彩色
)

// PrintJob 打印任务表
type PrintJob struct {
	BaseModel
	JobID      string    `gorm:"uniqueIndex;size:64;not null" json:"job_id"`
	FileName   string    `gorm:"size:255;not null" json:"file_name"`
	TotalPages int       `gorm:"default:0" json:"total_pages"`
	PageRange  string    `gorm:"size:20;default:'all'" json:"page_range"` // "all" 或 "起-止"（1起始，含两端）
	ColorMode  ColorMode `gorm:"size:10;default:'colored'" json:"color_mode"`
	PageSize   string    `gorm:"size:20;default:'A4'" json:"page_size"`
	NumCopies  int       `gorm:"default:1" json:"num_copies"`
	Price      int64     `gorm:"not null;default:0" json:"price"` // 应付金额（最小货币单位）

	// 文件定位
	LocalPath   string `gorm:"size:500" json:"local_path,omitempty"`
	DownloadURL string `gorm:"size:1000" json:"download_url,omitempty"`

	// 状态
	Status     JobStatus `gorm:"size:20;default:'pending';index" json:"status"`
	FailReason string    `gorm:"size:500" json:"fail_reason,omitempty"`

	// 支付结果（支付完成时写入）
	InsertedAmount     int64      `gorm:"default:0" json:"inserted_amount"`
	ChangeAmount       int64      `gorm:"default:0" json:"change_amount"`
	PaymentCompletedAt *time.Time `json:"payment_completed_at,omitempty"`

	Metadata JSONMap `gorm:"type:json" json:"metadata,omitempty"`
}

// TableName 指定表名
func (PrintJob) TableName() string {
	return "print_jobs"
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// SerialLogDirection 串口日志方向
type SerialLogDirection string

const (
	SerialLogSend    SerialLogDirection = "SEND"
	SerialLogReceive SerialLogDirection = "RECEIVE"
)

// SerialLog 串口通信日志
type SerialLog struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 基础信息
	Direction SerialLogDirection `gorm:"type:varchar(10);index;not null" json:"direction"`

	// 数据内容
	RawData    string `gorm:"type:text" json:"raw_data,omitempty"` // 原始行内容
	BytesCount int    `gorm:"default:0" json:"bytes_count"`

	// 事件解析结果（接收方向）
	EventKind string `gorm:"type:varchar(30);index" json:"event_kind,omitempty"` // coin/bill/change_complete/...
	Amount    int64  `gorm:"default:0" json:"amount,omitempty"`                   // 投入/找零金额（最小单位）

	// 关联信息
	SessionID string `gorm:"type:varchar(100);index" json:"session_id,omitempty"`
	JobID     string `gorm:"type:varchar(64);index" json:"job_id,omitempty"`

	Timestamp int64 `gorm:"index" json:"timestamp"` // Unix时间戳（毫秒）
}

// TableName 指定表名
func (SerialLog) TableName() string {
	return "serial_logs"
}

// BeforeCreate 创建前的钩子
func (s *SerialLog) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Timestamp == 0 {
		s.Timestamp = time.Now().UnixMilli()
	}
	return nil
}

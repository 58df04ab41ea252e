package models

import (
	"time"
)

// PaymentRecord 支付交易记录表
//
// 一次交易对应一个支付会话：累计投入、应付与找零都以最小货币单位记账，
// 任何代码路径都不允许使用浮点金额。
type PaymentRecord struct {
	BaseModel
	SessionID string `gorm:"uniqueIndex;size:64;not null" json:"session_id"`
	JobID     string `gorm:"size:64;index" json:"job_id"`

	Currency string `gorm:"size:10;default:'PHP'" json:"currency"`
	Required int64  `gorm:"not null" json:"required"` // 应付金额
	Inserted int64  `gorm:"default:0" json:"inserted"` // 累计投入
	Change   int64  `gorm:"default:0" json:"change"`   // 找零金额

	// 找零结果: success / no_change / error / timeout
	DispenseOutcome string `gorm:"size:20" json:"dispense_outcome,omitempty"`
	DispenseMessage string `gorm:"size:255" json:"dispense_message,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName 指定表名
func (PaymentRecord) TableName() string {
	return "payment_records"
}

package repository

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/models"
)

// PaymentRecordRepository 支付记录仓储
type PaymentRecordRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPaymentRecordRepository 创建支付记录仓储
func NewPaymentRecordRepository(db *gorm.DB, logger *zap.Logger) *PaymentRecordRepository {
	return &PaymentRecordRepository{db: db, logger: logger}
}

// Create 创建支付记录
func (r *PaymentRecordRepository) Create(record *models.PaymentRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return apperrors.Wrapf(err, apperrors.ErrDatabaseInsert, "创建支付记录失败: %s", record.SessionID)
	}
	return nil
}

// FindBySessionID 按会话号查询
func (r *PaymentRecordRepository) FindBySessionID(sessionID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	err := r.db.Where("session_id = ?", sessionID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "支付记录不存在: %s", sessionID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询支付记录失败")
	}
	return &record, nil
}

// MarkCompleted 支付结束后回写累计投入、找零与结果
func (r *PaymentRecordRepository) MarkCompleted(sessionID string, inserted, change int64, outcome, message string) error {
	now := time.Now()
	result := r.db.Model(&models.PaymentRecord{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"inserted":         inserted,
			"change":           change,
			"dispense_outcome": outcome,
			"dispense_message": message,
			"completed_at":     now,
		})
	if result.Error != nil {
		return apperrors.Wrap(result.Error, apperrors.ErrDatabaseUpdate, "回写支付记录失败")
	}
	if result.RowsAffected == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "支付记录不存在: %s", sessionID)
	}
	r.logger.Info("支付记录已回写",
		zap.String("session_id", sessionID),
		zap.Int64("inserted", inserted),
		zap.Int64("change", change),
		zap.String("outcome", outcome))
	return nil
}

// ListByJobID 查询任务关联的支付记录
func (r *PaymentRecordRepository) ListByJobID(jobID string) ([]*models.PaymentRecord, error) {
	var records []*models.PaymentRecord
	err := r.db.Where("job_id = ?", jobID).Order("created_at DESC").Find(&records).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询支付记录失败")
	}
	return records, nil
}

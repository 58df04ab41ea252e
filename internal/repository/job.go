package repository

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/models"
)

// allowedTransitions 任务状态机
//
// pending → configuring → printing → completed|failed，
// 任意非终态可进入 cancelled，终态不可再变。
var allowedTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:     {models.JobStatusConfiguring, models.JobStatusPrinting, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusConfiguring: {models.JobStatusPrinting, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusPrinting:    {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
}

// canTransition 状态迁移是否合法
func canTransition(from, to models.JobStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PrintJobRepository 打印任务仓储
type PrintJobRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPrintJobRepository 创建打印任务仓储
func NewPrintJobRepository(db *gorm.DB, logger *zap.Logger) *PrintJobRepository {
	return &PrintJobRepository{db: db, logger: logger}
}

// Create 创建任务记录
func (r *PrintJobRepository) Create(job *models.PrintJob) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if err := r.db.Create(job).Error; err != nil {
		return apperrors.Wrapf(err, apperrors.ErrDatabaseInsert, "创建任务失败: %s", job.JobID)
	}
	return nil
}

// FindByJobID 按任务号查询
func (r *PrintJobRepository) FindByJobID(jobID string) (*models.PrintJob, error) {
	var job models.PrintJob
	err := r.db.Where("job_id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "任务不存在: %s", jobID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询任务失败")
	}
	return &job, nil
}

// List 按状态分页查询，status 为空查全部
func (r *PrintJobRepository) List(status models.JobStatus, limit, offset int) ([]*models.PrintJob, int64, error) {
	query := r.db.Model(&models.PrintJob{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "统计任务失败")
	}

	var jobs []*models.PrintJob
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询任务列表失败")
	}
	return jobs, total, nil
}

// UpdateStatus 状态迁移
//
// 在事务里校验迁移合法性，终态只写一次，失败原因仅随 failed 落库。
func (r *PrintJobRepository) UpdateStatus(jobID string, to models.JobStatus, failReason string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var job models.PrintJob
		if err := tx.Where("job_id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Newf(apperrors.ErrNotFound, "任务不存在: %s", jobID)
			}
			return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询任务失败")
		}

		if job.Status == to {
			return nil
		}
		if !canTransition(job.Status, to) {
			return apperrors.Newf(apperrors.ErrJobStoreUpdate,
				"非法状态迁移: %s -> %s (job=%s)", job.Status, to, jobID)
		}

		updates := map[string]interface{}{"status": to}
		if to == models.JobStatusFailed && failReason != "" {
			updates["fail_reason"] = failReason
		}
		if err := tx.Model(&job).Updates(updates).Error; err != nil {
			return apperrors.Wrap(err, apperrors.ErrJobStoreUpdate, "更新任务状态失败")
		}
		return nil
	})

	if err == nil {
		r.logger.Info("任务状态已更新",
			zap.String("job_id", jobID),
			zap.String("status", string(to)))
	}
	return err
}

// SavePaymentResult 支付完成后回写金额
func (r *PrintJobRepository) SavePaymentResult(jobID string, inserted, change int64, completedAt time.Time) error {
	result := r.db.Model(&models.PrintJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"inserted_amount":      inserted,
			"change_amount":        change,
			"payment_completed_at": completedAt,
		})
	if result.Error != nil {
		return apperrors.Wrap(result.Error, apperrors.ErrDatabaseUpdate, "回写支付结果失败")
	}
	if result.RowsAffected == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "任务不存在: %s", jobID)
	}
	return nil
}

// UpdateLocalPath 文件解析成功后回写本地路径
func (r *PrintJobRepository) UpdateLocalPath(jobID string, localPath string) error {
	if err := r.db.Model(&models.PrintJob{}).
		Where("job_id = ?", jobID).
		Update("local_path", localPath).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "回写文件路径失败")
	}
	return nil
}

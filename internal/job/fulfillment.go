package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/hardware"
	"github.com/wfunc/print-kiosk/internal/models"
	"github.com/wfunc/print-kiosk/internal/notify"
	"github.com/wfunc/print-kiosk/internal/repository"
)

// StatusSink 交易进度外推口（WebSocket Hub 实现）
type StatusSink interface {
	PushJobStatus(jobID, status, reason string)
	PushPaymentProgress(jobID string, total, remaining int64)
	PushDispenseResult(jobID, result string, amount int64)
}

// Fulfillment 收款到出纸的全流程驱动
//
// 一次交易：设定应付 → 收投币事件 → 收款完成后记账、发通知 →
// 找零 → 打印。找零失败仍然打印：钱已经收了，纸必须给。
type Fulfillment struct {
	orchestrator *Orchestrator
	jobs         *repository.PrintJobRepository
	payments     *repository.PaymentRecordRepository
	notifier     *notify.Notifier
	sink         StatusSink
	logger       *zap.Logger
}

// NewFulfillment 创建流程驱动
func NewFulfillment(
	orchestrator *Orchestrator,
	jobs *repository.PrintJobRepository,
	payments *repository.PaymentRecordRepository,
	notifier *notify.Notifier,
	logger *zap.Logger,
) *Fulfillment {
	return &Fulfillment{
		orchestrator: orchestrator,
		jobs:         jobs,
		payments:     payments,
		notifier:     notifier,
		logger:       logger,
	}
}

// AttachSink 挂接进度外推口（同时透传给编排器）
func (f *Fulfillment) AttachSink(sink StatusSink) {
	f.sink = sink
	f.orchestrator.AttachSink(sink)
}

// Run 执行一笔交易直到任务终态
//
// ctx 取消时停止收款、复位设备并把任务落为 cancelled。
func (f *Fulfillment) Run(ctx context.Context, jobID string, session *hardware.PaymentSession) error {
	job, err := f.jobs.FindByJobID(jobID)
	if err != nil {
		return err
	}
	if job.Price <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidJobData, "任务价格非法: %d", job.Price)
	}

	if err := f.payments.Create(&models.PaymentRecord{
		SessionID: session.ID(),
		JobID:     jobID,
		Required:  job.Price,
	}); err != nil {
		f.logger.Warn("创建支付记录失败", zap.String("job_id", jobID), zap.Error(err))
	}

	if err := session.SetRequiredPayment(job.Price); err != nil {
		return err
	}

	if err := f.waitForPayment(ctx, jobID, session); err != nil {
		return err
	}

	_, total, _, _ := session.Snapshot()
	change := session.Change()

	// 记账与通知都不能挡住找零和打印
	completedAt := time.Now()
	if at := session.CompletedAt(); at != nil {
		completedAt = *at
	}
	if err := f.jobs.SavePaymentResult(jobID, total, change, completedAt); err != nil {
		f.logger.Error("回写支付结果失败", zap.String("job_id", jobID), zap.Error(err))
	}
	f.notifier.PaymentCompleted(ctx, &notify.PaymentNotification{
		JobID:          jobID,
		FileName:       job.FileName,
		InsertedAmount: total,
		ChangeAmount:   change,
		TotalPrice:     job.Price,
		Status:         "completed",
	})

	outcome := f.dispense(session)
	if f.sink != nil {
		f.sink.PushDispenseResult(jobID, string(outcome.Result), outcome.Amount)
	}
	if err := f.payments.MarkCompleted(session.ID(), total, change,
		string(outcome.Result), outcome.Message); err != nil {
		f.logger.Warn("回写支付记录失败", zap.String("job_id", jobID), zap.Error(err))
	}

	switch outcome.Result {
	case hardware.DispenseSuccess, hardware.DispenseNoChange:
	default:
		// 找零失败照样打印，故障留给运维处理
		f.logger.Error("找零未成功，继续打印",
			zap.String("job_id", jobID),
			zap.String("result", string(outcome.Result)),
			zap.String("message", outcome.Message))
	}

	return f.orchestrator.Run(ctx, jobID)
}

// waitForPayment 消费会话事件直到收款完成
func (f *Fulfillment) waitForPayment(ctx context.Context, jobID string, session *hardware.PaymentSession) error {
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("交易取消，停止收款", zap.String("job_id", jobID))
			if err := session.Reset(); err != nil {
				f.logger.Warn("取消后复位失败", zap.Error(err))
			}
			if err := f.jobs.UpdateStatus(jobID, models.JobStatusCancelled, ""); err != nil {
				f.logger.Error("取消状态落库失败", zap.String("job_id", jobID), zap.Error(err))
			}
			return apperrors.Wrap(ctx.Err(), apperrors.ErrTransactionCanceled, "交易已取消")
		case ev, ok := <-session.Events():
			if !ok {
				return apperrors.New(apperrors.ErrPaymentNotStarted, "会话事件通道已关闭")
			}
			switch ev.Kind {
			case hardware.PaymentEventInserted:
				f.logger.Info("收款进度",
					zap.String("job_id", jobID),
					zap.Int64("total", ev.Total),
					zap.Int64("remaining", ev.Remaining))
				if f.sink != nil {
					f.sink.PushPaymentProgress(jobID, ev.Total, ev.Remaining)
				}
			case hardware.PaymentEventComplete:
				if f.sink != nil {
					f.sink.PushPaymentProgress(jobID, ev.Total, 0)
				}
				return nil
			}
		}
	}
}

// dispense 找零并等待结果
func (f *Fulfillment) dispense(session *hardware.PaymentSession) hardware.DispenseOutcome {
	ch, err := session.DispenseChange()
	if err != nil {
		return hardware.DispenseOutcome{
			Result:  hardware.DispenseError,
			Message: err.Error(),
		}
	}
	return <-ch
}

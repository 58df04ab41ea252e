package repository

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/print-kiosk/internal/hardware"
	"github.com/wfunc/print-kiosk/internal/models"
)

// SerialLogRepository 串口日志仓储
type SerialLogRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSerialLogRepository 创建串口日志仓储
func NewSerialLogRepository(db *gorm.DB, logger *zap.Logger) *SerialLogRepository {
	return &SerialLogRepository{db: db, logger: logger}
}

// Create 创建日志记录
func (r *SerialLogRepository) Create(log *models.SerialLog) error {
	return r.db.Create(log).Error
}

// CreateBatch 批量创建日志记录
func (r *SerialLogRepository) CreateBatch(logs []*models.SerialLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.CreateInBatches(logs, 100).Error
}

// GetBySessionID 按会话查询通信记录
func (r *SerialLogRepository) GetBySessionID(sessionID string) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	err := r.db.Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// GetLatest 最新的通信记录
func (r *SerialLogRepository) GetLatest(limit int) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	err := r.db.Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// CleanupLogs 清理旧日志，保留最近 N 天
func (r *SerialLogRepository) CleanupLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	beforeTime := time.Now().AddDate(0, 0, -retentionDays)
	result := r.db.Unscoped().Where("created_at < ?", beforeTime).Delete(&models.SerialLog{})
	return result.RowsAffected, result.Error
}

// SerialTracer 串口留痕器
//
// 留痕在串口热路径上发生，入库走缓冲通道异步批量写，
// 通道满时丢弃记录（留痕不能拖慢收款）。
type SerialTracer struct {
	repo   *SerialLogRepository
	logger *zap.Logger

	mu    sync.Mutex
	jobID string

	ch     chan *models.SerialLog
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSerialTracer 创建留痕器并启动刷盘协程
func NewSerialTracer(repo *SerialLogRepository, logger *zap.Logger) *SerialTracer {
	t := &SerialTracer{
		repo:   repo,
		logger: logger,
		ch:     make(chan *models.SerialLog, 256),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go t.flushLoop()
	return t
}

// BindJob 绑定当前任务号，后续留痕都会带上
func (t *SerialTracer) BindJob(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobID = jobID
}

// TraceReceive 记录一行设备输出
func (t *SerialTracer) TraceReceive(sessionID string, raw string, kind hardware.EventKind, amount int64) {
	t.enqueue(&models.SerialLog{
		Direction:  models.SerialLogReceive,
		RawData:    raw,
		BytesCount: len(raw),
		EventKind:  string(kind),
		Amount:     amount,
		SessionID:  sessionID,
	})
}

// TraceSend 记录一条出站命令
func (t *SerialTracer) TraceSend(sessionID string, cmd string) {
	t.enqueue(&models.SerialLog{
		Direction:  models.SerialLogSend,
		RawData:    cmd,
		BytesCount: len(cmd),
		SessionID:  sessionID,
	})
}

func (t *SerialTracer) enqueue(log *models.SerialLog) {
	t.mu.Lock()
	log.JobID = t.jobID
	t.mu.Unlock()
	log.Timestamp = time.Now().UnixMilli()

	select {
	case t.ch <- log:
	default:
		t.logger.Warn("串口留痕队列已满，丢弃记录")
	}
}

// flushLoop 定时批量刷盘
func (t *SerialTracer) flushLoop() {
	defer close(t.doneCh)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var pending []*models.SerialLog
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := t.repo.CreateBatch(pending); err != nil {
			t.logger.Error("串口留痕入库失败", zap.Error(err), zap.Int("count", len(pending)))
		}
		pending = pending[:0]
	}

	for {
		select {
		case log := <-t.ch:
			pending = append(pending, log)
			if len(pending) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-t.stopCh:
			for {
				select {
				case log := <-t.ch:
					pending = append(pending, log)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close 停止刷盘协程并落盘剩余记录
func (t *SerialTracer) Close() {
	close(t.stopCh)
	<-t.doneCh
}

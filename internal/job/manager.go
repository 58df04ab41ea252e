package job

import (
	"context"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/hardware"
)

// JobTracer 可绑定任务号的串口留痕器
type JobTracer interface {
	hardware.Tracer
	BindJob(jobID string)
}

// TransactionManager 整机交易管理器
//
// 投币器只有一台，同一时刻只允许一笔交易。每笔交易持有
// 自己的 PaymentSession，结束后释放。
type TransactionManager struct {
	transport   hardware.Transport
	tracer      JobTracer
	fulfillment *Fulfillment
	sessionCfg  hardware.SessionConfig
	logger      *zap.Logger

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
}

// NewTransactionManager 创建交易管理器，tracer 可以为 nil
func NewTransactionManager(
	transport hardware.Transport,
	tracer JobTracer,
	fulfillment *Fulfillment,
	sessionCfg hardware.SessionConfig,
	logger *zap.Logger,
) *TransactionManager {
	return &TransactionManager{
		transport:   transport,
		tracer:      tracer,
		fulfillment: fulfillment,
		sessionCfg:  sessionCfg,
		logger:      logger,
	}
}

// Current 正在交易的任务号，空串表示空闲
func (m *TransactionManager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start 启动一笔交易，设备占用时返回 ErrDeviceBusy
func (m *TransactionManager) Start(jobID string) error {
	m.mu.Lock()
	if m.current != "" {
		busy := m.current
		m.mu.Unlock()
		return apperrors.Newf(apperrors.ErrDeviceBusy, "设备正在处理任务 %s", busy)
	}
	if !m.transport.IsOpen() {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrDeviceOffline, "投币器串口未打开")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.current = jobID
	m.cancel = cancel
	m.mu.Unlock()

	var tracer hardware.Tracer
	if m.tracer != nil {
		m.tracer.BindJob(jobID)
		tracer = m.tracer
	}
	session := hardware.NewPaymentSession(m.transport, m.sessionCfg, tracer, m.logger)

	m.logger.Info("交易开始",
		zap.String("job_id", jobID),
		zap.String("session_id", session.ID()))

	go func() {
		defer func() {
			session.Close()
			m.recycleTransport(jobID)
			m.mu.Lock()
			m.current = ""
			m.cancel = nil
			m.mu.Unlock()
		}()
		if err := m.fulfillment.Run(ctx, jobID, session); err != nil {
			m.logger.Error("交易未完成",
				zap.String("job_id", jobID),
				zap.String("session_id", session.ID()),
				zap.Error(err))
			return
		}
		m.logger.Info("交易完成", zap.String("job_id", jobID))
	}()
	return nil
}

// recycleTransport 交易结束后重开串口
//
// 每笔交易都从新打开的端口起步，上一位顾客遗留的协议状态
// 随端口关闭一起丢弃。重开失败只记日志，下一次 Start 会因
// 端口未打开而拒绝交易。
func (m *TransactionManager) recycleTransport(jobID string) {
	if err := m.transport.Close(); err != nil {
		m.logger.Error("交易后关闭串口失败",
			zap.String("job_id", jobID), zap.Error(err))
	}
	if err := m.transport.Open(); err != nil {
		m.logger.Error("交易后重开串口失败",
			zap.String("job_id", jobID), zap.Error(err))
	}
}

// Cancel 取消任务
//
// 正在交易的任务通过上下文取消（会复位设备），
// 空闲任务直接落取消态。
func (m *TransactionManager) Cancel(jobID string) {
	m.mu.Lock()
	if m.current == jobID && m.cancel != nil {
		cancel := m.cancel
		m.mu.Unlock()
		cancel()
		m.logger.Info("交易取消已触发", zap.String("job_id", jobID))
		return
	}
	m.mu.Unlock()
	m.fulfillment.orchestrator.Cancel(jobID)
}

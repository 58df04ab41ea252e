package hardware

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
)

// Tracer 串口通信留痕接口，由存储层实现，nil 表示不留痕
type Tracer interface {
	TraceReceive(sessionID string, raw string, kind EventKind, amount int64)
	TraceSend(sessionID string, cmd string)
}

// PaymentEventKind 会话对外事件类型
type PaymentEventKind string

const (
	PaymentEventInserted PaymentEventKind = "inserted" // 收到一笔投入
	PaymentEventComplete PaymentEventKind = "complete" // 累计投入已够
)

// PaymentEvent 会话对外事件，投币进度与完成通知经此交付
type PaymentEvent struct {
	Kind      PaymentEventKind
	Amount    int64 // 本次投入面值
	Total     int64 // 累计投入
	Remaining int64 // 剩余应付
	Change    int64 // 应找零金额（完成后有效）
}

// PaymentSession 一次交易的支付会话
//
// 会话独占串口输入：监听协程在投币阶段轮询读行，
// 找零开始前必须先停掉监听并等它退出，再交给出币斗监视协程。
// 金额全部走台账，设备侧的完成标记只做日志。
type PaymentSession struct {
	mu        sync.Mutex
	id        string
	transport Transport
	ledger    *Ledger
	dispenser *Dispenser
	tracer    Tracer
	logger    *zap.Logger

	pollInterval time.Duration

	accepting  bool
	dispensing bool
	dispensed  bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	events     chan PaymentEvent

	completedAt *time.Time
}

// SessionConfig 支付会话配置
type SessionConfig struct {
	PollInterval time.Duration // 监听轮询间隔
	Dispenser    DispenserConfig
}

// NewPaymentSession 创建支付会话
func NewPaymentSession(transport Transport, config SessionConfig, tracer Tracer, logger *zap.Logger) *PaymentSession {
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	return &PaymentSession{
		id:           uuid.New().String(),
		transport:    transport,
		ledger:       NewLedger(),
		dispenser:    NewDispenser(transport, config.Dispenser, logger),
		tracer:       tracer,
		logger:       logger,
		pollInterval: config.PollInterval,
		events:       make(chan PaymentEvent, 32),
	}
}

// ID 会话标识
func (s *PaymentSession) ID() string {
	return s.id
}

// Events 会话事件通道
func (s *PaymentSession) Events() <-chan PaymentEvent {
	return s.events
}

// SetRequiredPayment 设定应付金额并开始收款
//
// 金额同步到设备（SET_PAYMENT），台账清零，监听协程启动。
// 重复调用返回错误，一个会话只收一笔款。
func (s *PaymentSession) SetRequiredPayment(amount int64) error {
	if amount <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidParam, "应付金额非法: %d", amount)
	}

	s.mu.Lock()
	if s.accepting || s.dispensing || s.dispensed {
		s.mu.Unlock()
		return apperrors.New(apperrors.ErrPaymentAlreadyComplete, "会话已在收款或已结束")
	}
	s.ledger.SetRequired(amount)
	s.accepting = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.sendCommand(BuildCommand(CmdSetPayment, amount)); err != nil {
		s.mu.Lock()
		s.accepting = false
		s.mu.Unlock()
		return err
	}

	s.logger.Info("开始收款",
		zap.String("session_id", s.id),
		zap.Int64("required", amount))

	go s.listen()
	return nil
}

// listen 投币监听循环，直到 stopCh 关闭
func (s *PaymentSession) listen() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.drainLines()
		}
	}
}

// drainLines 读空当前可用的设备输出行
func (s *PaymentSession) drainLines() {
	for {
		line, ok, err := s.transport.ReadLine()
		if err != nil {
			s.logger.Warn("监听读取失败", zap.String("session_id", s.id), zap.Error(err))
			return
		}
		if !ok {
			return
		}
		s.handleLine(line)
	}
}

// handleLine 处理一行设备输出（监听阶段）
func (s *PaymentSession) handleLine(line string) {
	ev := ParseLine(line)
	if s.tracer != nil {
		s.tracer.TraceReceive(s.id, line, ev.Kind, ev.Amount)
	}

	switch ev.Kind {
	case EventCoinInserted, EventBillInserted:
		s.applyInsert(ev)
	case EventPaymentComplete:
		// 设备侧的完成判定仅做参考
		s.logger.Debug("设备报告支付完成", zap.String("session_id", s.id))
	case EventUnknown:
		s.logger.Debug("无法识别的设备输出",
			zap.String("session_id", s.id),
			zap.String("line", ev.Raw))
	default:
		// 遥测与找零标记在监听阶段无意义
	}
}

// applyInsert 记账一笔投入
func (s *PaymentSession) applyInsert(ev DeviceEvent) {
	s.mu.Lock()
	accepting := s.accepting && !s.dispensing
	s.mu.Unlock()

	_, _, _, alreadyComplete := s.ledger.Snapshot()
	if !accepting || alreadyComplete {
		// 完成或停收后迟到的投入不改变交易结果，只留日志
		s.logger.Warn("收款已结束，忽略迟到投入",
			zap.String("session_id", s.id),
			zap.Int64("amount", ev.Amount),
			zap.String("raw", ev.Raw))
		return
	}

	total, remaining, complete := s.ledger.Apply(ev.Amount)
	s.logger.Info("收到投入",
		zap.String("session_id", s.id),
		zap.String("kind", string(ev.Kind)),
		zap.Int64("amount", ev.Amount),
		zap.Int64("total", total),
		zap.Int64("remaining", remaining))

	s.emit(PaymentEvent{
		Kind:      PaymentEventInserted,
		Amount:    ev.Amount,
		Total:     total,
		Remaining: remaining,
	})

	if complete {
		now := time.Now()
		s.mu.Lock()
		s.completedAt = &now
		s.mu.Unlock()

		change := s.ledger.Change()
		s.logger.Info("收款完成",
			zap.String("session_id", s.id),
			zap.Int64("total", total),
			zap.Int64("change", change))
		s.emit(PaymentEvent{
			Kind:   PaymentEventComplete,
			Total:  total,
			Change: change,
		})
	}
}

// emit 非阻塞投递事件，消费方迟滞时丢弃并记日志
func (s *PaymentSession) emit(ev PaymentEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("事件通道已满，丢弃事件",
			zap.String("session_id", s.id),
			zap.String("kind", string(ev.Kind)))
	}
}

// StopAccepting 停止收款并等待监听协程退出
func (s *PaymentSession) StopAccepting() {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.logger.Info("已停止收款", zap.String("session_id", s.id))
}

// DispenseChange 找零
//
// 先停监听再启动出币斗监视，保证串口输入只有一个读者。
// 结果经返回的 channel 交付；重复调用返回 ErrChangeInProgress。
func (s *PaymentSession) DispenseChange() (<-chan DispenseOutcome, error) {
	s.mu.Lock()
	if s.dispensing {
		s.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrChangeInProgress, "找零正在进行")
	}
	if s.dispensed {
		s.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrPaymentAlreadyComplete, "本会话已找零")
	}
	s.dispensing = true
	s.mu.Unlock()

	s.StopAccepting()

	change := s.ledger.Change()
	inner := s.dispenser.Dispense(change)

	out := make(chan DispenseOutcome, 1)
	go func() {
		outcome := <-inner
		s.mu.Lock()
		s.dispensing = false
		s.dispensed = true
		s.mu.Unlock()
		out <- outcome
	}()
	return out, nil
}

// Snapshot 读取会话当前金额状态
func (s *PaymentSession) Snapshot() (required int64, total int64, remaining int64, complete bool) {
	return s.ledger.Snapshot()
}

// Change 应找零金额
func (s *PaymentSession) Change() int64 {
	return s.ledger.Change()
}

// CompletedAt 收款完成时间，未完成为 nil
func (s *PaymentSession) CompletedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedAt
}

// Reset 复位设备并清空台账（交易取消时使用）
func (s *PaymentSession) Reset() error {
	s.StopAccepting()
	s.ledger.Reset()
	return s.sendCommand(CmdReset)
}

// Close 结束会话，停监听并关闭事件通道
func (s *PaymentSession) Close() {
	s.StopAccepting()
	close(s.events)
}

// sendCommand 发送命令并留痕
func (s *PaymentSession) sendCommand(cmd string) error {
	if err := s.transport.WriteCommand(cmd); err != nil {
		return err
	}
	if s.tracer != nil {
		s.tracer.TraceSend(s.id, cmd)
	}
	return nil
}

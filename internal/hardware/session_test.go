package hardware

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastSessionConfig() SessionConfig {
	return SessionConfig{
		PollInterval: 5 * time.Millisecond,
		Dispenser:    fastDispenserConfig(),
	}
}

func waitPaymentEvent(t *testing.T, ch <-chan PaymentEvent, kind PaymentEventKind) PaymentEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			require.FailNowf(t, "等待事件超时", "kind=%s", kind)
			return PaymentEvent{}
		}
	}
}

// recordingTracer 测试用留痕实现
type recordingTracer struct {
	mu       sync.Mutex
	received []string
	sent     []string
}

func (r *recordingTracer) TraceReceive(sessionID, raw string, kind EventKind, amount int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, raw)
}

func (r *recordingTracer) TraceSend(sessionID, cmd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, cmd)
}

func TestPaymentSession_ExactPayment(t *testing.T) {
	mock := NewMockTransport()
	require.NoError(t, mock.Open())
	s := NewPaymentSession(mock, fastSessionConfig(), nil, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.SetRequiredPayment(10))
	assert.Contains(t, mock.SentCommands(), "SET_PAYMENT:10")

	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")
	ev := waitPaymentEvent(t, s.Events(), PaymentEventInserted)
	assert.Equal(t, int64(5), ev.Total)
	assert.Equal(t, int64(5), ev.Remaining)

	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")
	done := waitPaymentEvent(t, s.Events(), PaymentEventComplete)
	assert.Equal(t, int64(10), done.Total)
	assert.Equal(t, int64(0), done.Change)
	assert.NotNil(t, s.CompletedAt())
}

func TestPaymentSession_OverpaymentAndDispense(t *testing.T) {
	mock := NewMockTransport()
	require.NoError(t, mock.Open())
	mock.OnCommand = func(cmd string) {
		if strings.HasPrefix(cmd, CmdDispense) {
			mock.InjectLine("[CHANGE_COMPLETE]")
		}
	}
	s := NewPaymentSession(mock, fastSessionConfig(), nil, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.SetRequiredPayment(15))
	mock.InjectLine("[BILL] Inserted: PHP 20 (2 pulses)")

	done := waitPaymentEvent(t, s.Events(), PaymentEventComplete)
	assert.Equal(t, int64(20), done.Total)
	assert.Equal(t, int64(5), done.Change)

	ch, err := s.DispenseChange()
	require.NoError(t, err)
	outcome := waitOutcome(t, ch)
	assert.Equal(t, DispenseSuccess, outcome.Result)
	assert.Equal(t, int64(5), outcome.Amount)

	commands := mock.SentCommands()
	assert.Contains(t, commands, "DISPENSE:5")
	assert.Equal(t, CmdReset, commands[len(commands)-1])
}

func TestPaymentSession_LateInsertIgnored(t *testing.T) {
	mock := NewMockTransport()
	require.NoError(t, mock.Open())
	s := NewPaymentSession(mock, fastSessionConfig(), nil, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.SetRequiredPayment(5))
	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")
	waitPaymentEvent(t, s.Events(), PaymentEventComplete)

	// 完成后迟到的投入不改变台账
	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")
	time.Sleep(50 * time.Millisecond)
	_, total, _, _ := s.Snapshot()
	assert.Equal(t, int64(5), total)
	assert.Equal(t, int64(0), s.Change())
}

func TestPaymentSession_DeviceCompleteMarkerIgnored(t *testing.T) {
	mock := NewMockTransport()
	require.NoError(t, mock.Open())
	s := NewPaymentSession(mock, fastSessionConfig(), nil, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.SetRequiredPayment(10))
	mock.InjectLine("[PAYMENT_COMPLETE]")
	time.Sleep(50 * time.Millisecond)

	_, total, remaining, complete := s.Snapshot()
	assert.Equal(t, int64(0), total)
	assert.Equal(t, int64(10), remaining)
	assert.False(t, complete, "完成判定只看台账，不信设备标记")
}

func TestPaymentSession_NoChangeDispense(t *testing.T) {
	mock := NewMockTransport()
	require.NoError(t, mock.Open())
	s := NewPaymentSession(mock, fastSessionConfig(), nil, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.SetRequiredPayment(5))
	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")
	waitPaymentEvent(t, s.Events(), PaymentEventComplete)

	ch, err := s.DispenseChange()
	require.NoError(t, err)
	outcome := waitOutcome(t, ch)
	assert.Equal(t, DispenseNoChange, outcome.Result)
	assert.NotContains(t, strings.Join(mock.SentCommands(), " "), CmdDispense+":")
}

func TestPaymentSession_DispenseTwice(t *testing.T) {
	mock := NewMockTransport()
	require.NoError(t, mock.Open())
	s := NewPaymentSession(mock, fastSessionConfig(), nil, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.SetRequiredPayment(5))
	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")
	waitPaymentEvent(t, s.Events(), PaymentEventComplete)

	ch, err := s.DispenseChange()
	require.NoError(t, err)
	waitOutcome(t, ch)

	_, err = s.DispenseChange()
	assert.Error(t, err)
}

func TestPaymentSession_SetRequiredTwice(t *testing.T) {
	mock := NewMockTransport()
	require.NoError(t, mock.Open())
	s := NewPaymentSession(mock, fastSessionConfig(), nil, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.SetRequiredPayment(5))
	assert.Error(t, s.SetRequiredPayment(10))
}

func TestPaymentSession_InvalidAmount(t *testing.T) {
	mock := NewMockTransport()
	require.NoError(t, mock.Open())
	s := NewPaymentSession(mock, fastSessionConfig(), nil, zap.NewNop())
	defer s.Close()

	assert.Error(t, s.SetRequiredPayment(0))
	assert.Error(t, s.SetRequiredPayment(-3))
}

func TestPaymentSession_Tracer(t *testing.T) {
	mock := NewMockTransport()
	require.NoError(t, mock.Open())
	tracer := &recordingTracer{}
	s := NewPaymentSession(mock, fastSessionConfig(), tracer, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.SetRequiredPayment(5))
	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")
	waitPaymentEvent(t, s.Events(), PaymentEventComplete)

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	assert.Contains(t, tracer.sent, "SET_PAYMENT:5")
	require.NotEmpty(t, tracer.received)
	assert.Contains(t, tracer.received[0], "Inserted: PHP 5")
}

func TestPaymentSession_Reset(t *testing.T) {
	mock := NewMockTransport()
	require.NoError(t, mock.Open())
	s := NewPaymentSession(mock, fastSessionConfig(), nil, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.SetRequiredPayment(10))
	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")
	waitPaymentEvent(t, s.Events(), PaymentEventInserted)

	require.NoError(t, s.Reset())
	_, total, _, _ := s.Snapshot()
	assert.Equal(t, int64(0), total)
	assert.Contains(t, mock.SentCommands(), CmdReset)
}

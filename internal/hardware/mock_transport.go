package hardware

import (
	"sync"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
)

// MockTransport 模拟串口传输（无硬件环境与测试用）
type MockTransport struct {
	mu       sync.Mutex
	open     bool
	inbound  []string // 待读取的设备输出行
	commands []string // 已发送的命令

	// OnCommand 命令回调，可用于按命令注入设备响应
	OnCommand func(cmd string)
}

// NewMockTransport 创建模拟传输
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Open 打开模拟串口
func (m *MockTransport) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

// Close 关闭模拟串口
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// IsOpen 是否已打开
func (m *MockTransport) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// PortName 模拟端口名
func (m *MockTransport) PortName() string {
	return "mock"
}

// ReadLine 取出一行注入的设备输出
func (m *MockTransport) ReadLine() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return "", false, apperrors.New(apperrors.ErrSerialPortOpen, "串口未打开")
	}
	if len(m.inbound) == 0 {
		return "", false, nil
	}
	line := m.inbound[0]
	m.inbound = m.inbound[1:]
	return line, true, nil
}

// WriteCommand 记录发送的命令
func (m *MockTransport) WriteCommand(cmd string) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrSerialPortOpen, "串口未打开")
	}
	m.commands = append(m.commands, cmd)
	cb := m.OnCommand
	m.mu.Unlock()

	if cb != nil {
		cb(cmd)
	}
	return nil
}

// InjectLine 注入一行设备输出
func (m *MockTransport) InjectLine(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = append(m.inbound, line)
}

// SentCommands 已发送命令的副本
func (m *MockTransport) SentCommands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.commands))
	copy(out, m.commands)
	return out
}

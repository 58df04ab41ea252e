package hardware

import (
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
)

// Transport 串口传输抽象
//
// ReadLine 为非阻塞轮询：一次调用最多读一个数据块，
// 有完整行则返回 (line, true, nil)，否则返回 (“”, false, nil)。
type Transport interface {
	Open() error
	Close() error
	IsOpen() bool
	ReadLine() (string, bool, error)
	WriteCommand(cmd string) error
	PortName() string
}

// SerialTransport 基于 tarm/serial 的串口传输实现
type SerialTransport struct {
	mu     sync.Mutex
	config *SerialConfig
	port   *serial.Port
	name   string
	buffer []byte
	logger *zap.Logger
}

// SerialConfig 串口传输配置
type SerialConfig struct {
	Port        string        // 端口名，"auto" 表示自动探测
	BaudRate    int           // 波特率
	ReadTimeout time.Duration // 单次读超时
	SettleDelay time.Duration // 打开后等待设备复位的时间
}

// NewSerialTransport 创建串口传输
func NewSerialTransport(config *SerialConfig, logger *zap.Logger) *SerialTransport {
	if config.BaudRate <= 0 {
		config.BaudRate = 9600
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 100 * time.Millisecond
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = 2 * time.Second
	}
	return &SerialTransport{
		config: config,
		logger: logger,
	}
}

// descriptorHints 设备描述关键字，/dev/serial/by-id 的链接名里带着 USB 描述符
var descriptorHints = []string{"arduino", "ch340", "ch341", "usb-serial", "usb_serial", "ftdi"}

// detectPort 自动探测支付板端口
//
// 优先按描述符关键字匹配 /dev/serial/by-id 下的设备，
// 匹配不到时回退到该目录下的第一个设备，再回退到 ttyUSB*/ttyACM*。
func detectPort() (string, error) {
	byID, _ := filepath.Glob("/dev/serial/by-id/*")
	for _, p := range byID {
		name := strings.ToLower(filepath.Base(p))
		for _, hint := range descriptorHints {
			if strings.Contains(name, hint) {
				return p, nil
			}
		}
	}
	if len(byID) > 0 {
		return byID[0], nil
	}

	patterns := []string{"/dev/ttyUSB*", "/dev/ttyACM*"}
	if runtime.GOOS == "darwin" {
		patterns = []string{"/dev/cu.usbserial*", "/dev/cu.usbmodem*"}
	}
	for _, pattern := range patterns {
		if matches, _ := filepath.Glob(pattern); len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", apperrors.New(apperrors.ErrNoDeviceFound, "未找到支付板串口设备")
}

// Open 打开串口并等待设备复位完成
func (t *SerialTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}

	name := t.config.Port
	if name == "" || name == "auto" {
		detected, err := detectPort()
		if err != nil {
			return err
		}
		name = detected
		t.logger.Info("自动探测到支付板端口", zap.String("port", name))
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        t.config.BaudRate,
		ReadTimeout: t.config.ReadTimeout,
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrSerialPortOpen, "打开串口失败: %s", name)
	}

	t.port = port
	t.name = name
	t.buffer = t.buffer[:0]

	t.logger.Info("串口已打开",
		zap.String("port", name),
		zap.Int("baud", t.config.BaudRate),
		zap.Duration("settle", t.config.SettleDelay))

	// 打开串口会触发板子复位，等它跑完启动流程再通信
	time.Sleep(t.config.SettleDelay)
	return nil
}

// Close 关闭串口
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.buffer = nil
	t.logger.Info("串口已关闭", zap.String("port", t.name))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrSerialPortOpen, "关闭串口失败")
	}
	return nil
}

// IsOpen 串口是否已打开
func (t *SerialTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// PortName 当前端口名
func (t *SerialTransport) PortName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// ReadLine 非阻塞读取一行
//
// 锁只覆盖一次读调用和缓冲区拆行，不跨越任何休眠，
// 出站命令不会被长时间的监听循环饿死。
func (t *SerialTransport) ReadLine() (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return "", false, apperrors.New(apperrors.ErrSerialPortOpen, "串口未打开")
	}

	// 缓冲区里已有完整行时直接取出，不再碰串口
	if line, ok := t.takeLine(); ok {
		return line, true, nil
	}

	chunk := make([]byte, 256)
	n, err := t.port.Read(chunk)
	if n > 0 {
		t.buffer = append(t.buffer, chunk[:n]...)
	}
	if err != nil && !isTimeoutRead(err) {
		return "", false, apperrors.Wrap(err, apperrors.ErrSerialPortRead, "串口读取失败")
	}

	if line, ok := t.takeLine(); ok {
		return line, true, nil
	}
	return "", false, nil
}

// takeLine 从缓冲区取出一个完整行（调用方需持锁）
func (t *SerialTransport) takeLine() (string, bool) {
	idx := -1
	for i, b := range t.buffer {
		if b == '\n' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}
	line := strings.TrimRight(string(t.buffer[:idx]), "\r")
	t.buffer = t.buffer[idx+1:]
	return line, true
}

// WriteCommand 发送一条命令（自动补换行）
func (t *SerialTransport) WriteCommand(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return apperrors.New(apperrors.ErrSerialPortOpen, "串口未打开")
	}

	data := []byte(cmd + "\n")
	if _, err := t.port.Write(data); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrSerialPortWrite, "发送命令失败: %s", cmd)
	}
	t.logger.Debug("串口命令已发送", zap.String("command", cmd))
	return nil
}

// isTimeoutRead tarm/serial 超时读返回 EOF 语义的错误，按无数据处理
func isTimeoutRead(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return msg == "EOF" || strings.Contains(msg, "timeout") || strings.Contains(msg, "i/o timeout")
}

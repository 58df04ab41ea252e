package printing

import (
	"sync"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
)

// MockPlatform 模拟打印平台（无硬件环境与测试用）
type MockPlatform struct {
	mu sync.Mutex

	Printers   []string
	StatusCode map[string]int
	DPIX, DPIY int

	submitted      []*SpoolDocument
	submittedFiles []string
	pending        map[string]int // 文档名 → 出清前还会被查到的次数

	SubmitErr error
}

// NewMockPlatform 创建模拟平台
func NewMockPlatform(printers ...string) *MockPlatform {
	return &MockPlatform{
		Printers:   printers,
		StatusCode: make(map[string]int),
		DPIX:       600,
		DPIY:       600,
		pending:    make(map[string]int),
	}
}

// Enumerate 返回配置的打印机列表
func (m *MockPlatform) Enumerate() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Printers))
	copy(out, m.Printers)
	return out, nil
}

// Status 返回配置的状态码
func (m *MockPlatform) Status(name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Printers {
		if p == name {
			return m.StatusCode[name], nil
		}
	}
	return -1, apperrors.Newf(apperrors.ErrPrinterNotReady, "打印机不存在: %s", name)
}

// DeviceDPI 返回配置的分辨率
func (m *MockPlatform) DeviceDPI(name string) (int, int, error) {
	return m.DPIX, m.DPIY, nil
}

// Submit 记录提交并把文档放入模拟队列
func (m *MockPlatform) Submit(name string, doc *SpoolDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return m.SubmitErr
	}
	m.submitted = append(m.submitted, doc)
	return nil
}

// SubmitFile 记录文件提交
func (m *MockPlatform) SubmitFile(name string, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return m.SubmitErr
	}
	m.submittedFiles = append(m.submittedFiles, path)
	return nil
}

// PendingDocuments 每次查询消耗一次出清计数
func (m *MockPlatform) PendingDocuments(name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for docName, remaining := range m.pending {
		if remaining > 0 {
			out = append(out, docName)
			m.pending[docName] = remaining - 1
		}
	}
	return out, nil
}

// SetPendingPolls 设定文档出清前会被查到的次数
func (m *MockPlatform) SetPendingPolls(docName string, polls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[docName] = polls
}

// Submitted 已提交文档的副本
func (m *MockPlatform) Submitted() []*SpoolDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SpoolDocument, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// SubmittedFiles 已提交文件路径的副本
func (m *MockPlatform) SubmittedFiles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.submittedFiles))
	copy(out, m.submittedFiles)
	return out
}

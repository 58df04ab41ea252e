package printing

import (
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/models"
)

// CUPSPlatform 基于 CUPS 命令行的打印平台实现
//
// 队列里查不到文档名，只能查请求号，所以提交时记下
// 文档名到请求号的映射，出队判断按请求号做。
type CUPSPlatform struct {
	deviceDPI int
	logger    *zap.Logger

	mu       sync.Mutex
	requests map[string]string // 文档名 → CUPS 请求号
}

// NewCUPSPlatform 创建 CUPS 平台
func NewCUPSPlatform(deviceDPI int, logger *zap.Logger) *CUPSPlatform {
	if deviceDPI <= 0 {
		deviceDPI = 600
	}
	return &CUPSPlatform{
		deviceDPI: deviceDPI,
		logger:    logger,
		requests:  make(map[string]string),
	}
}

// Enumerate 枚举已安装的打印机
func (p *CUPSPlatform) Enumerate() ([]string, error) {
	output, err := exec.Command("lpstat", "-e").Output()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrNoPrinterAvailable, "lpstat 枚举失败")
	}
	var names []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Status 查询打印机状态，0 为就绪
func (p *CUPSPlatform) Status(name string) (int, error) {
	output, err := exec.Command("lpstat", "-p", name).Output()
	if err != nil {
		return -1, apperrors.Wrapf(err, apperrors.ErrPrinterNotReady, "lpstat 查询失败: %s", name)
	}
	text := strings.ToLower(string(output))
	switch {
	case strings.Contains(text, "disabled"):
		return 1, nil
	case strings.Contains(text, "unknown"):
		return 2, nil
	default:
		return 0, nil
	}
}

// DeviceDPI 设备分辨率（CUPS 查不到，用配置值）
func (p *CUPSPlatform) DeviceDPI(name string) (int, int, error) {
	return p.deviceDPI, p.deviceDPI, nil
}

// Submit 把页位图写成 PNG 后经 lp 提交
func (p *CUPSPlatform) Submit(name string, doc *SpoolDocument) error {
	tmpDir, err := os.MkdirTemp("", "kiosk-print-")
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrSubmitFailed, "创建临时目录失败")
	}
	defer os.RemoveAll(tmpDir)

	files := make([]string, 0, len(doc.Pages))
	for i, page := range doc.Pages {
		path := filepath.Join(tmpDir, fmt.Sprintf("page-%03d.png", i+1))
		f, err := os.Create(path)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrSubmitFailed, "写页面文件失败")
		}
		if err := png.Encode(f, page); err != nil {
			f.Close()
			return apperrors.Wrap(err, apperrors.ErrSubmitFailed, "编码页面失败")
		}
		f.Close()
		files = append(files, path)
	}

	args := []string{"-d", name, "-t", doc.Name, "-o", "media=" + cupsMedia(doc.PageSize)}
	if doc.ColorMode == models.ColorModeBW {
		args = append(args, "-o", "ColorModel=Gray")
	}
	args = append(args, files...)

	output, err := exec.Command("lp", args...).Output()
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrSubmitFailed, "lp 提交失败: %s", doc.Name)
	}

	if reqID := parseRequestID(string(output)); reqID != "" {
		p.mu.Lock()
		p.requests[doc.Name] = reqID
		p.mu.Unlock()
	}
	return nil
}

// SubmitFile 直接提交文件（非 PDF 兜底）
func (p *CUPSPlatform) SubmitFile(name string, path string) error {
	if _, err := exec.Command("lp", "-d", name, path).Output(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrSubmitFailed, "lp 文件提交失败: %s", path)
	}
	return nil
}

// PendingDocuments 队列里尚未出清的文档名
func (p *CUPSPlatform) PendingDocuments(name string) ([]string, error) {
	output, err := exec.Command("lpstat", "-o", name).Output()
	if err != nil {
		// 队列为空时 lpstat 也可能报错，按空队列处理
		return nil, nil
	}

	active := make(map[string]bool)
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			active[fields[0]] = true
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var pending []string
	for docName, reqID := range p.requests {
		if active[reqID] {
			pending = append(pending, docName)
		} else {
			delete(p.requests, docName)
		}
	}
	return pending, nil
}

// cupsMedia 纸张规格映射到 CUPS media 名
func cupsMedia(pageSize string) string {
	if strings.HasPrefix(strings.ToLower(pageSize), "letter") {
		return "Letter"
	}
	return "A4"
}

// parseRequestID 从 lp 输出里取请求号："request id is HP-123 (2 file(s))"
func parseRequestID(output string) string {
	const marker = "request id is "
	idx := strings.Index(output, marker)
	if idx < 0 {
		return ""
	}
	rest := output[idx+len(marker):]
	if end := strings.IndexAny(rest, " \n"); end >= 0 {
		return rest[:end]
	}
	return strings.TrimSpace(rest)
}

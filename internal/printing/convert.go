package printing

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
)

// Converter 非 PDF 文档转换器
//
// 外部转换器可能很慢也可能失败，结果按源文件路径缓存，
// 同一任务的预览和打印不会重复转换。
type Converter struct {
	command string
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewConverter 创建转换器
func NewConverter(command string, timeout time.Duration, logger *zap.Logger) *Converter {
	if command == "" {
		command = "soffice"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Converter{
		command: command,
		timeout: timeout,
		logger:  logger,
		cache:   make(map[string]string),
	}
}

// IsPDF 文件是否已是 PDF
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// Convert 转换为 PDF 并返回产物路径
func (c *Converter) Convert(ctx context.Context, srcPath string) (string, error) {
	if IsPDF(srcPath) {
		return srcPath, nil
	}

	c.mu.Lock()
	if cached, ok := c.cache[srcPath]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	outDir := filepath.Dir(srcPath)
	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	pdfPath := filepath.Join(outDir, base+".pdf")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.command,
		"--headless", "--norestore", "--convert-to", "pdf", "--outdir", outDir, srcPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrConversionFailed,
			"转换为 PDF 失败: %s (%s)", srcPath, strings.TrimSpace(string(output)))
	}

	info, err := os.Stat(pdfPath)
	if err != nil || info.Size() == 0 {
		return "", apperrors.Newf(apperrors.ErrConversionFailed, "转换产物缺失或为空: %s", pdfPath)
	}

	c.mu.Lock()
	c.cache[srcPath] = pdfPath
	c.mu.Unlock()

	c.logger.Info("文档已转换为 PDF",
		zap.String("source", srcPath),
		zap.String("pdf", pdfPath))
	return pdfPath, nil
}

// ClearCache 清空转换缓存（任务结束时调用）
func (c *Converter) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]string)
}

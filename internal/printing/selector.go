package printing

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
)

// Selector 纸张规格到打印机的映射
//
// 排序规则：名字里带复制标记（"(copy"）的排在原机之后，再按字母序，
// 保证同一组打印机每次都映射出同样的结果。
// A4 走第一台，Letter（及其他规格）走第二台。
type Selector struct {
	platform Platform
	logger   *zap.Logger
}

// NewSelector 创建打印机选择器
func NewSelector(platform Platform, logger *zap.Logger) *Selector {
	return &Selector{platform: platform, logger: logger}
}

// sortPrinters 确定性排序：复制机排后，再按字母序
func sortPrinters(names []string) {
	sort.Slice(names, func(i, j int) bool {
		li, lj := strings.ToLower(names[i]), strings.ToLower(names[j])
		ci, cj := strings.Count(li, "(copy"), strings.Count(lj, "(copy")
		if ci != cj {
			return ci < cj
		}
		return li < lj
	})
}

// Select 按纸张规格选打印机
func (s *Selector) Select(pageSize string) (string, error) {
	names, err := s.platform.Enumerate()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrNoPrinterAvailable, "枚举打印机失败")
	}
	if len(names) == 0 {
		return "", apperrors.New(apperrors.ErrNoPrinterAvailable, "未找到任何打印机")
	}

	sorted := make([]string, len(names))
	copy(sorted, names)
	sortPrinters(sorted)

	if strings.HasPrefix(strings.ToLower(pageSize), "a4") {
		s.logger.Info("A4 任务选用一号打印机", zap.String("printer", sorted[0]))
		return sorted[0], nil
	}

	// Letter 与其他规格走二号机
	if len(sorted) < 2 {
		return "", apperrors.Newf(apperrors.ErrInsufficientPrinters,
			"纸张规格 %s 需要至少两台打印机，当前只有 %d 台", pageSize, len(sorted))
	}
	s.logger.Info("选用二号打印机",
		zap.String("page_size", pageSize),
		zap.String("printer", sorted[1]))
	return sorted[1], nil
}

// CheckStatus 检查打印机是否就绪，非零状态码视为未就绪
func (s *Selector) CheckStatus(name string) error {
	code, err := s.platform.Status(name)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrPrinterNotReady, "查询打印机状态失败: %s", name)
	}
	if code != 0 {
		return apperrors.Newf(apperrors.ErrPrinterNotReady, "打印机未就绪: %s (状态码 %d)", name, code)
	}
	return nil
}

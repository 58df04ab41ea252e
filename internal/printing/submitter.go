package printing

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/models"
)

// Offset 进纸偏移校正（设备像素）
type Offset struct {
	X int
	Y int
}

// SubmitterConfig 提交器配置
type SubmitterConfig struct {
	DeviceDPI     int               // 平台查不到分辨率时的兜底值
	Offsets       map[string]Offset // 纸张规格 → 进纸偏移
	SpoolInterval time.Duration     // 队列轮询间隔
	SpoolTimeout  time.Duration     // 队列等待基础超时
	PerCopyWait   time.Duration     // 每份追加的等待上限
}

// DefaultOffsets 参照机型实测的进纸偏移，换硬件前不要改
func DefaultOffsets() map[string]Offset {
	return map[string]Offset{
		"a4":     {X: -70, Y: -60},
		"letter": {X: -110, Y: -60},
	}
}

// Submitter 打印提交器
//
// 逐份顺序提交（打印机本来就是串行的，并行只会把页序打乱），
// 每页先从渲染分辨率换算到设备分辨率，再按纸张规格做偏移校正，
// 不做任何适配缩放，版面决定在渲染阶段已经完成。
type Submitter struct {
	platform Platform
	config   SubmitterConfig
	logger   *zap.Logger
}

// NewSubmitter 创建提交器
func NewSubmitter(platform Platform, config SubmitterConfig, logger *zap.Logger) *Submitter {
	if config.DeviceDPI <= 0 {
		config.DeviceDPI = 600
	}
	if config.Offsets == nil {
		config.Offsets = DefaultOffsets()
	}
	if config.SpoolInterval <= 0 {
		config.SpoolInterval = time.Second
	}
	if config.SpoolTimeout <= 0 {
		config.SpoolTimeout = 600 * time.Second
	}
	if config.PerCopyWait <= 0 {
		config.PerCopyWait = 300 * time.Second
	}
	return &Submitter{platform: platform, config: config, logger: logger}
}

// Submit 提交渲染好的页位图，返回各份的文档名
func (s *Submitter) Submit(pages []*RenderedPage, printer string, copies int,
	colorMode models.ColorMode, pageSize string, baseDocName string) ([]string, error) {

	if len(pages) == 0 {
		return nil, apperrors.New(apperrors.ErrSubmitFailed, "没有可提交的页面")
	}
	if copies < 1 {
		copies = 1
	}

	devX, devY, err := s.platform.DeviceDPI(printer)
	if err != nil || devX <= 0 || devY <= 0 {
		devX, devY = s.config.DeviceDPI, s.config.DeviceDPI
	}
	offset := s.offsetFor(pageSize)

	docNames := make([]string, 0, copies)
	for i := 1; i <= copies; i++ {
		docName := fmt.Sprintf("%s-copy%d", baseDocName, i)
		doc := &SpoolDocument{
			Name:      docName,
			PageSize:  pageSize,
			ColorMode: colorMode,
			Pages:     make([]image.Image, 0, len(pages)),
		}
		for _, page := range pages {
			doc.Pages = append(doc.Pages, composePage(page, devX, devY, offset))
		}

		if err := s.platform.Submit(printer, doc); err != nil {
			return docNames, apperrors.Wrapf(err, apperrors.ErrSubmitFailed,
				"提交第 %d 份失败: %s", i, docName)
		}
		s.logger.Info("已提交打印",
			zap.String("printer", printer),
			zap.String("doc_name", docName),
			zap.Int("pages", len(doc.Pages)))
		docNames = append(docNames, docName)
	}
	return docNames, nil
}

// offsetFor 按纸张规格取进纸偏移
func (s *Submitter) offsetFor(pageSize string) Offset {
	key := "a4"
	if strings.HasPrefix(strings.ToLower(pageSize), "letter") {
		key = "letter"
	}
	if off, ok := s.config.Offsets[key]; ok {
		return off
	}
	return Offset{}
}

// composePage 渲染分辨率换算到设备分辨率并做偏移校正
func composePage(page *RenderedPage, devX, devY int, offset Offset) image.Image {
	bounds := page.Image.Bounds()
	destW := int(math.Round(float64(bounds.Dx()) * float64(devX) / float64(page.DPIX)))
	destH := int(math.Round(float64(bounds.Dy()) * float64(devY) / float64(page.DPIY)))

	scaled := page.Image
	if destW != bounds.Dx() || destH != bounds.Dy() {
		scaled = imaging.Resize(page.Image, destW, destH, imaging.Lanczos)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, destW, destH))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), scaled, image.Point{X: -offset.X, Y: -offset.Y}, draw.Over)
	return canvas
}

// WaitForSpool 等待各份出清队列
//
// 文档不再出现在队列里即视为完成；枚举失败按空队列处理。
// 任何一份超时即失败，剩余份不再等待。
func (s *Submitter) WaitForSpool(printer string, docNames []string, copies int) error {
	if copies < 1 {
		copies = 1
	}
	timeout := s.config.SpoolTimeout
	if scaled := time.Duration(copies) * s.config.PerCopyWait; scaled > timeout {
		timeout = scaled
	}
	deadline := time.Now().Add(timeout)

	for _, docName := range docNames {
		for {
			if !s.stillQueued(printer, docName) {
				s.logger.Info("打印已出清队列",
					zap.String("printer", printer),
					zap.String("doc_name", docName))
				break
			}
			if time.Now().After(deadline) {
				return apperrors.Newf(apperrors.ErrSpoolTimeout,
					"等待出队超时: %s (超时 %s)", docName, timeout)
			}
			time.Sleep(s.config.SpoolInterval)
		}
	}
	return nil
}

// stillQueued 文档是否仍在队列中
func (s *Submitter) stillQueued(printer, docName string) bool {
	pending, err := s.platform.PendingDocuments(printer)
	if err != nil {
		return false
	}
	for _, name := range pending {
		if name == docName {
			return true
		}
	}
	return false
}

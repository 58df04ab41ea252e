package printing

import (
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/models"
)

// RenderedPage 渲染出的单页位图及其源分辨率
type RenderedPage struct {
	Image image.Image
	DPIX  int
	DPIY  int
}

// Renderer PDF 渲染器
//
// 按目标设备分辨率渲染，黑白任务走固定的图像增强流水线，
// 抵消渲染灰底并保持文字锐利。
type Renderer struct {
	logger *zap.Logger
}

// NewRenderer 创建渲染器
func NewRenderer(logger *zap.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Render 渲染 PDF 为页位图
//
// pageRange 为 "all" 或 1 起始、含两端的 "起-止"；
// 越界自动收拢，非法范围回退到全部页（记日志，不报错）。
func (r *Renderer) Render(path string, pageRange string, dpi int, colorMode models.ColorMode) ([]*RenderedPage, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrRenderFailed, "打开 PDF 失败: %s", path)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return nil, apperrors.Newf(apperrors.ErrRenderFailed, "PDF 无页面: %s", path)
	}

	indices := r.resolvePageRange(pageRange, total)

	pages := make([]*RenderedPage, 0, len(indices))
	for _, idx := range indices {
		img, err := doc.ImageDPI(idx, float64(dpi))
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrRenderFailed, "渲染第 %d 页失败", idx+1)
		}

		var out image.Image = img
		if colorMode == models.ColorModeBW {
			out = enhanceForBW(img)
		}
		pages = append(pages, &RenderedPage{Image: out, DPIX: dpi, DPIY: dpi})
	}

	r.logger.Info("渲染完成",
		zap.String("path", path),
		zap.String("page_range", pageRange),
		zap.Int("pages", len(pages)),
		zap.Int("dpi", dpi),
		zap.String("color_mode", string(colorMode)))
	return pages, nil
}

// resolvePageRange 解析页范围为 0 起始的页号列表
func (r *Renderer) resolvePageRange(pageRange string, total int) []int {
	all := make([]int, total)
	for i := range all {
		all[i] = i
	}

	pageRange = strings.TrimSpace(pageRange)
	if pageRange == "" || pageRange == "all" || !strings.Contains(pageRange, "-") {
		return all
	}

	parts := strings.SplitN(pageRange, "-", 2)
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		r.logger.Warn("页范围非法，回退到全部页", zap.String("page_range", pageRange))
		return all
	}

	if start < 1 {
		start = 1
	}
	if end > total {
		end = total
	}
	if start > end {
		r.logger.Warn("页范围起止颠倒，回退到全部页", zap.String("page_range", pageRange))
		return all
	}

	indices := make([]int, 0, end-start+1)
	for i := start - 1; i < end; i++ {
		indices = append(indices, i)
	}
	return indices
}

// enhanceForBW 黑白打印增强流水线
//
// 灰度 → 自动对比度拉伸（0% 裁剪）→ 对比度 +30% → 亮度 +5% → 锐化。
// 顺序固定，参数为参照机型上调出的经验值。
func enhanceForBW(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	stretched := autoContrast(gray)
	contrasted := imaging.AdjustContrast(stretched, 30)
	brightened := imaging.AdjustBrightness(contrasted, 5)
	return imaging.Sharpen(brightened, 1.0)
}

// autoContrast 直方图拉伸，白更白黑更黑
func autoContrast(img *image.NRGBA) *image.NRGBA {
	bounds := img.Bounds()
	min, max := uint8(255), uint8(0)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := img.NRGBAAt(x, y).R
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	if max <= min {
		return img
	}

	scale := 255.0 / float64(max-min)
	out := imaging.Clone(img)
	bounds = out.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			px := out.NRGBAAt(x, y)
			v := uint8(float64(px.R-min) * scale)
			px.R, px.G, px.B = v, v, v
			out.SetNRGBA(x, y, px)
		}
	}
	return out
}

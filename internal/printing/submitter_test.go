package printing

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/models"
)

func testPages(n, w, h, dpi int) []*RenderedPage {
	pages := make([]*RenderedPage, 0, n)
	for i := 0; i < n; i++ {
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
		pages = append(pages, &RenderedPage{Image: img, DPIX: dpi, DPIY: dpi})
	}
	return pages
}

func fastSubmitterConfig() SubmitterConfig {
	return SubmitterConfig{
		DeviceDPI:     600,
		SpoolInterval: 2 * time.Millisecond,
		SpoolTimeout:  200 * time.Millisecond,
		PerCopyWait:   100 * time.Millisecond,
	}
}

func TestSubmitter_CopiesSequential(t *testing.T) {
	platform := NewMockPlatform("HP LaserJet")
	s := NewSubmitter(platform, fastSubmitterConfig(), zap.NewNop())

	// 3 页 2 份 → 2 次提交共 6 页
	docNames, err := s.Submit(testPages(3, 100, 100, 600), "HP LaserJet", 2,
		models.ColorModeBW, "A4", "JOB-001-report.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"JOB-001-report.pdf-copy1", "JOB-001-report.pdf-copy2"}, docNames)

	submitted := platform.Submitted()
	require.Len(t, submitted, 2)
	totalPages := 0
	for _, doc := range submitted {
		totalPages += len(doc.Pages)
		assert.Equal(t, models.ColorModeBW, doc.ColorMode)
		assert.Equal(t, "A4", doc.PageSize)
	}
	assert.Equal(t, 6, totalPages)
}

func TestSubmitter_DPIConversion(t *testing.T) {
	platform := NewMockPlatform("HP LaserJet")
	platform.DPIX, platform.DPIY = 600, 600
	s := NewSubmitter(platform, fastSubmitterConfig(), zap.NewNop())

	// 200dpi 渲染 100x100 → 600dpi 设备应输出 300x300
	_, err := s.Submit(testPages(1, 100, 100, 200), "HP LaserJet", 1,
		models.ColorModeColored, "A4", "JOB-002-doc.pdf")
	require.NoError(t, err)

	submitted := platform.Submitted()
	require.Len(t, submitted, 1)
	page := submitted[0].Pages[0]
	assert.Equal(t, 300, page.Bounds().Dx())
	assert.Equal(t, 300, page.Bounds().Dy())
}

func TestSubmitter_InvalidInput(t *testing.T) {
	s := NewSubmitter(NewMockPlatform("HP"), fastSubmitterConfig(), zap.NewNop())
	_, err := s.Submit(nil, "HP", 1, models.ColorModeBW, "A4", "JOB-003")
	assert.True(t, apperrors.Is(err, apperrors.ErrSubmitFailed))
}

func TestSubmitter_WaitForSpool(t *testing.T) {
	platform := NewMockPlatform("HP LaserJet")
	s := NewSubmitter(platform, fastSubmitterConfig(), zap.NewNop())

	platform.SetPendingPolls("JOB-004-copy1", 3)
	err := s.WaitForSpool("HP LaserJet", []string{"JOB-004-copy1"}, 1)
	assert.NoError(t, err, "文档出清后等待应成功")
}

func TestSubmitter_SpoolTimeout(t *testing.T) {
	platform := NewMockPlatform("HP LaserJet")
	config := fastSubmitterConfig()
	config.SpoolTimeout = 20 * time.Millisecond
	config.PerCopyWait = 10 * time.Millisecond
	s := NewSubmitter(platform, config, zap.NewNop())

	platform.SetPendingPolls("JOB-005-copy1", 100000)
	err := s.WaitForSpool("HP LaserJet", []string{"JOB-005-copy1"}, 1)
	assert.True(t, apperrors.Is(err, apperrors.ErrSpoolTimeout))
}

func TestComposePage_Offset(t *testing.T) {
	// 全黑页在 (-70,-60) 偏移下：左上取到内容，右下越界补白
	img := image.NewNRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.SetNRGBA(x, y, color.NRGBA{A: 255})
		}
	}
	page := &RenderedPage{Image: img, DPIX: 600, DPIY: 600}

	out := composePage(page, 600, 600, Offset{X: -70, Y: -60})
	canvas, ok := out.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, 200, canvas.Bounds().Dx())

	black := canvas.NRGBAAt(0, 0)
	assert.Equal(t, uint8(0), black.R)

	white := canvas.NRGBAAt(180, 180)
	assert.Equal(t, uint8(255), white.R, "越界区域应为白底")
}

func TestDefaultOffsets(t *testing.T) {
	offsets := DefaultOffsets()
	assert.Equal(t, Offset{X: -70, Y: -60}, offsets["a4"])
	assert.Equal(t, Offset{X: -110, Y: -60}, offsets["letter"])
}

package printing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/models"
)

// writePDF 生成一个结构完整的最小 PDF（每页 200x200pt 空白页）
func writePDF(t *testing.T, path string, pages int) {
	t.Helper()

	var buf bytes.Buffer
	offsets := []int{0}
	addObj := func(s string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(s)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	addObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	addObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", kids, pages))
	for i := 0; i < pages; i++ {
		addObj(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] >>\nendobj\n", 3+i))
	}

	xrefPos := buf.Len()
	n := 3 + pages
	buf.WriteString(fmt.Sprintf("xref\n0 %d\n", n))
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i < n; i++ {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", offsets[i]))
	}
	buf.WriteString(fmt.Sprintf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", n, xrefPos))

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestRenderer_Render(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	writePDF(t, path, 3)
	r := NewRenderer(zap.NewNop())

	// 200pt 页面在 72dpi 下应渲染为 200px 左右
	pages, err := r.Render(path, "1-2", 72, models.ColorModeColored)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.InDelta(t, 200, pages[0].Image.Bounds().Dx(), 2)
	assert.Equal(t, 72, pages[0].DPIX)

	all, err := r.Render(path, "all", 72, models.ColorModeBW)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRenderer_OpenFailure(t *testing.T) {
	r := NewRenderer(zap.NewNop())
	_, err := r.Render("/nonexistent/file.pdf", "all", 72, models.ColorModeBW)
	assert.True(t, apperrors.Is(err, apperrors.ErrRenderFailed))
}

func TestResolvePageRange(t *testing.T) {
	r := NewRenderer(zap.NewNop())

	tests := []struct {
		name      string
		pageRange string
		total     int
		want      []int
	}{
		{"全部页", "all", 3, []int{0, 1, 2}},
		{"空串", "", 3, []int{0, 1, 2}},
		{"正常范围", "1-2", 3, []int{0, 1}},
		{"单页范围", "2-2", 3, []int{1}},
		{"越界收拢", "0-5", 3, []int{0, 1, 2}},
		{"起止颠倒回退全部", "3-2", 3, []int{0, 1, 2}},
		{"非数字回退全部", "a-b", 3, []int{0, 1, 2}},
		{"无连字符回退全部", "7", 3, []int{0, 1, 2}},
		{"带空白", " 2 - 3 ", 3, []int{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.resolvePageRange(tt.pageRange, tt.total))
		})
	}
}

func TestEnhanceForBW(t *testing.T) {
	// 灰底文档：背景浅灰、文字深灰
	src := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			v := uint8(200)
			if x > 10 && x < 30 && y > 10 && y < 30 {
				v = 80
			}
			src.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}

	out := enhanceForBW(src)
	assert.Equal(t, src.Bounds().Dx(), out.Bounds().Dx())
	assert.Equal(t, src.Bounds().Dy(), out.Bounds().Dy())

	nrgba, ok := out.(*image.NRGBA)
	require.True(t, ok)

	// 输出必须是灰度（各通道一致），且对比被拉开
	var bg, fg uint8
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			px := nrgba.NRGBAAt(x, y)
			assert.Equal(t, px.R, px.G)
			assert.Equal(t, px.G, px.B)
		}
	}
	bg = nrgba.NRGBAAt(2, 2).R
	fg = nrgba.NRGBAAt(20, 20).R
	assert.Greater(t, bg, fg, "背景应比文字亮")
	assert.Greater(t, int(bg)-int(fg), 120, "对比应被拉开")
}

func TestAutoContrast_FlatImage(t *testing.T) {
	flat := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			flat.SetNRGBA(x, y, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	out := autoContrast(flat)
	assert.Equal(t, uint8(128), out.NRGBAAt(4, 4).R, "单色图不做拉伸")
}

package printing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
)

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("/tmp/report.pdf"))
	assert.True(t, IsPDF("/tmp/REPORT.PDF"))
	assert.False(t, IsPDF("/tmp/report.docx"))
	assert.False(t, IsPDF("/tmp/report"))
}

func TestConverter_PDFPassthrough(t *testing.T) {
	c := NewConverter("soffice", time.Minute, zap.NewNop())
	out, err := c.Convert(context.Background(), "/tmp/already.pdf")
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/already.pdf", out)
}

func TestConverter_CommandFailure(t *testing.T) {
	c := NewConverter("definitely-not-a-real-converter", time.Second, zap.NewNop())
	_, err := c.Convert(context.Background(), "/tmp/report.docx")
	assert.True(t, apperrors.Is(err, apperrors.ErrConversionFailed))
}

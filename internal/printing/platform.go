package printing

import (
	"image"

	"github.com/wfunc/print-kiosk/internal/models"
)

// SpoolDocument 一次提交给打印后端的文档
//
// Pages 已经是设备分辨率下、做过进纸偏移校正的最终版面，
// 后端只负责原样送出，不再做任何缩放。
type SpoolDocument struct {
	Name      string // 队列里的文档名，按它轮询出队
	PageSize  string
	ColorMode models.ColorMode
	Pages     []image.Image
}

// Platform 打印平台边界
//
// 枚举、状态查询、设备分辨率、文档提交与队列查询都经此接口，
// 业务代码不直接接触任何平台命令。
type Platform interface {
	// Enumerate 枚举已安装的打印机名
	Enumerate() ([]string, error)

	// Status 查询打印机状态码，0 表示就绪
	Status(name string) (int, error)

	// DeviceDPI 设备物理分辨率
	DeviceDPI(name string) (dpiX int, dpiY int, err error)

	// Submit 提交一份文档
	Submit(name string, doc *SpoolDocument) error

	// SubmitFile 直接提交文件（非 PDF 兜底路径）
	SubmitFile(name string, path string) error

	// PendingDocuments 队列中尚未出清的文档名
	PendingDocuments(name string) ([]string, error)
}

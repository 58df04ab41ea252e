package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wfunc/print-kiosk/internal/hardware"
	"github.com/wfunc/print-kiosk/internal/printing"
	ws "github.com/wfunc/print-kiosk/internal/websocket"
)

// HardwareHandler 硬件状态处理器
type HardwareHandler struct {
	transport hardware.Transport
	platform  printing.Platform
	hub       *ws.Hub
	logger    *zap.Logger
}

// NewHardwareHandler 创建硬件状态处理器
func NewHardwareHandler(
	transport hardware.Transport,
	platform printing.Platform,
	hub *ws.Hub,
	logger *zap.Logger,
) *HardwareHandler {
	return &HardwareHandler{
		transport: transport,
		platform:  platform,
		hub:       hub,
		logger:    logger,
	}
}

// PrinterStatus 单台打印机状态
type PrinterStatus struct {
	Name       string `json:"name"`
	StatusCode int    `json:"status_code"` // 0 为就绪
	Ready      bool   `json:"ready"`
}

// HardwareStatusResponse 硬件状态响应
type HardwareStatusResponse struct {
	SerialOpen    bool            `json:"serial_open"`
	SerialPort    string          `json:"serial_port,omitempty"`
	Printers      []PrinterStatus `json:"printers"`
	OnlineClients int             `json:"online_clients"`
}

// Status 整机硬件状态
func (h *HardwareHandler) Status(c *gin.Context) {
	resp := HardwareStatusResponse{
		SerialOpen:    h.transport.IsOpen(),
		OnlineClients: h.hub.GetOnlineCount(),
	}
	if resp.SerialOpen {
		resp.SerialPort = h.transport.PortName()
	}

	printers, err := h.platform.Enumerate()
	if err != nil {
		h.logger.Warn("枚举打印机失败", zap.Error(err))
	}
	resp.Printers = make([]PrinterStatus, 0, len(printers))
	for _, name := range printers {
		code, err := h.platform.Status(name)
		if err != nil {
			h.logger.Warn("查询打印机状态失败",
				zap.String("printer", name), zap.Error(err))
			code = -1
		}
		resp.Printers = append(resp.Printers, PrinterStatus{
			Name:       name,
			StatusCode: code,
			Ready:      code == 0,
		})
	}

	c.JSON(http.StatusOK, resp)
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wfunc/print-kiosk/internal/repository"
)

// SerialLogHandler 串口留痕查询处理器
type SerialLogHandler struct {
	logs   *repository.SerialLogRepository
	logger *zap.Logger
}

// NewSerialLogHandler 创建串口留痕处理器
func NewSerialLogHandler(logs *repository.SerialLogRepository, logger *zap.Logger) *SerialLogHandler {
	return &SerialLogHandler{
		logs:   logs,
		logger: logger,
	}
}

// QueryLogs 按支付会话查询通信记录
func (h *SerialLogHandler) QueryLogs(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "缺少 session_id 参数",
		})
		return
	}

	logs, err := h.logs.GetBySessionID(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetLatestLogs 最新的通信记录
func (h *SerialLogHandler) GetLatestLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.logs.GetLatest(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// CleanupLogs 清理旧日志
func (h *SerialLogHandler) CleanupLogs(c *gin.Context) {
	retentionDays, _ := strconv.Atoi(c.DefaultPostForm("retention_days", "30"))
	if retentionDays < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "保留天数必须大于0",
		})
		return
	}

	count, err := h.logs.CleanupLogs(retentionDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "CLEANUP_FAILED",
			Message: err.Error(),
		})
		return
	}

	h.logger.Info("串口留痕清理完成",
		zap.Int64("deleted", count),
		zap.Int("retention_days", retentionDays))

	c.JSON(http.StatusOK, gin.H{
		"message":        "清理成功",
		"deleted":        count,
		"retention_days": retentionDays,
	})
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/job"
	"github.com/wfunc/print-kiosk/internal/models"
	"github.com/wfunc/print-kiosk/internal/repository"
)

// JobHandler 打印任务处理器
type JobHandler struct {
	jobs     *repository.PrintJobRepository
	payments *repository.PaymentRecordRepository
	manager  *job.TransactionManager
	logger   *zap.Logger
}

// NewJobHandler 创建任务处理器
func NewJobHandler(
	jobs *repository.PrintJobRepository,
	payments *repository.PaymentRecordRepository,
	manager *job.TransactionManager,
	logger *zap.Logger,
) *JobHandler {
	return &JobHandler{
		jobs:     jobs,
		payments: payments,
		manager:  manager,
		logger:   logger,
	}
}

// CreateJobRequest 创建任务请求
type CreateJobRequest struct {
	JobID       string `json:"job_id" binding:"required"`
	FileName    string `json:"file_name" binding:"required"`
	TotalPages  int    `json:"total_pages"`
	PageRange   string `json:"page_range"`
	ColorMode   string `json:"color_mode"`
	PageSize    string `json:"page_size"`
	NumCopies   int    `json:"num_copies"`
	Price       int64  `json:"price" binding:"required,gt=0"`
	DownloadURL string `json:"download_url"`
}

// CreateJob 创建打印任务
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	printJob := &models.PrintJob{
		JobID:       req.JobID,
		FileName:    req.FileName,
		TotalPages:  req.TotalPages,
		PageRange:   req.PageRange,
		ColorMode:   models.ColorMode(req.ColorMode),
		PageSize:    req.PageSize,
		NumCopies:   req.NumCopies,
		Price:       req.Price,
		DownloadURL: req.DownloadURL,
	}
	if printJob.PageRange == "" {
		printJob.PageRange = "all"
	}
	if printJob.ColorMode == "" {
		printJob.ColorMode = models.ColorModeColored
	}
	if printJob.PageSize == "" {
		printJob.PageSize = "A4"
	}
	if printJob.NumCopies < 1 {
		printJob.NumCopies = 1
	}

	if err := h.jobs.Create(printJob); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, printJob)
}

// GetJob 查询任务
func (h *JobHandler) GetJob(c *gin.Context) {
	printJob, err := h.jobs.FindByJobID(c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, printJob)
}

// ListJobs 任务列表
func (h *JobHandler) ListJobs(c *gin.Context) {
	status := models.JobStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	jobs, total, err := h.jobs.List(status, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ListPayments 任务的支付记录
func (h *JobHandler) ListPayments(c *gin.Context) {
	records, err := h.payments.ListByJobID(c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  records,
		"count": len(records),
	})
}

// StartJob 启动一笔交易（收款 → 找零 → 打印）
func (h *JobHandler) StartJob(c *gin.Context) {
	jobID := c.Param("job_id")

	// 先确认任务存在，设备占用前不给客户空等
	if _, err := h.jobs.FindByJobID(jobID); err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.manager.Start(jobID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":  jobID,
		"message": "交易已启动",
	})
}

// CancelJob 取消任务
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := h.jobs.FindByJobID(jobID); err != nil {
		h.respondError(c, err)
		return
	}

	h.manager.Cancel(jobID)
	c.JSON(http.StatusOK, gin.H{
		"job_id":  jobID,
		"message": "取消已受理",
	})
}

// respondError 错误码映射到HTTP状态
func (h *JobHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.GetCode(err) {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrInvalidParam, apperrors.ErrInvalidJobData:
		status = http.StatusBadRequest
	case apperrors.ErrDeviceBusy:
		status = http.StatusConflict
	case apperrors.ErrDeviceOffline, apperrors.ErrNoDeviceFound:
		status = http.StatusServiceUnavailable
	case apperrors.ErrAlreadyExists:
		status = http.StatusConflict
	}
	c.JSON(status, ErrorResponse{
		Code:    "REQUEST_FAILED",
		Message: err.Error(),
	})
}

package job

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/models"
	"github.com/wfunc/print-kiosk/internal/printing"
	"github.com/wfunc/print-kiosk/internal/repository"
)

// Config 编排器配置
type Config struct {
	DownloadDir     string        // 下载目录
	DownloadRetries int           // 下载重试次数
	DownloadBackoff time.Duration // 重试间隔
	DownloadTimeout time.Duration // 单次下载超时
	FallbackDPI     int           // 平台查不到设备分辨率时的渲染兜底值
}

// Orchestrator 打印任务编排器
//
// 驱动 pending → configuring → printing → {completed|failed} 全程，
// cancelled 可从任意非终态进入。终态只写一次；存储层报错只记日志，
// 不挡实体打印（客户的纸比记账重要）。
type Orchestrator struct {
	jobs      *repository.PrintJobRepository
	selector  *printing.Selector
	renderer  *printing.Renderer
	submitter *printing.Submitter
	converter *printing.Converter
	platform  printing.Platform
	config    Config
	sink      StatusSink
	logger    *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// AttachSink 挂接状态外推口
func (o *Orchestrator) AttachSink(sink StatusSink) {
	o.sink = sink
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	jobs *repository.PrintJobRepository,
	selector *printing.Selector,
	renderer *printing.Renderer,
	submitter *printing.Submitter,
	converter *printing.Converter,
	platform printing.Platform,
	config Config,
	logger *zap.Logger,
) *Orchestrator {
	if config.DownloadDir == "" {
		config.DownloadDir = "downloads"
	}
	if config.DownloadRetries <= 0 {
		config.DownloadRetries = 3
	}
	if config.DownloadBackoff <= 0 {
		config.DownloadBackoff = 2 * time.Second
	}
	if config.DownloadTimeout <= 0 {
		config.DownloadTimeout = 30 * time.Second
	}
	if config.FallbackDPI <= 0 {
		config.FallbackDPI = 200
	}
	return &Orchestrator{
		jobs:      jobs,
		selector:  selector,
		renderer:  renderer,
		submitter: submitter,
		converter: converter,
		platform:  platform,
		config:    config,
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Run 执行一个打印任务直到终态
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()
	}()

	job, err := o.jobs.FindByJobID(jobID)
	if err != nil {
		return err
	}

	if err := o.run(ctx, job); err != nil {
		if ctx.Err() != nil {
			o.markCancelled(jobID)
			return apperrors.Wrap(ctx.Err(), apperrors.ErrCanceled, "任务已取消")
		}
		o.markFailed(jobID, err)
		return err
	}
	o.updateStatus(jobID, models.JobStatusCompleted, "")
	o.logger.Info("打印任务完成", zap.String("job_id", jobID))
	return nil
}

// Cancel 取消执行中的任务
func (o *Orchestrator) Cancel(jobID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
		o.logger.Info("任务取消已触发", zap.String("job_id", jobID))
		return
	}
	// 不在执行中的任务直接落取消态
	o.markCancelled(jobID)
}

// run 打印主流程
func (o *Orchestrator) run(ctx context.Context, job *models.PrintJob) error {
	if job.FileName == "" {
		return apperrors.New(apperrors.ErrInvalidJobData, "任务缺少文件名")
	}
	copies := job.NumCopies
	if copies < 1 {
		copies = 1
	}

	o.updateStatus(job.JobID, models.JobStatusConfiguring, "")

	printer, err := o.selector.Select(job.PageSize)
	if err != nil {
		return err
	}
	if err := o.selector.CheckStatus(printer); err != nil {
		return err
	}

	filePath, err := o.resolveFile(ctx, job)
	if err != nil {
		return err
	}
	if filePath != job.LocalPath {
		if err := o.jobs.UpdateLocalPath(job.JobID, filePath); err != nil {
			o.logger.Warn("回写文件路径失败", zap.String("job_id", job.JobID), zap.Error(err))
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	o.updateStatus(job.JobID, models.JobStatusPrinting, "")

	// 非 PDF 先转换；黑白任务转换失败即失败（兜底路径保证不了黑白），
	// 彩色任务降级走文件直传
	printable := filePath
	if !printing.IsPDF(filePath) {
		converted, err := o.converter.Convert(ctx, filePath)
		if err != nil {
			if job.ColorMode == models.ColorModeBW {
				return err
			}
			o.logger.Warn("转换失败，彩色任务降级为文件直传",
				zap.String("job_id", job.JobID), zap.Error(err))
			return o.printFallback(ctx, job, printer, filePath, copies)
		}
		printable = converted
	}

	baseDocName := fmt.Sprintf("JOB-%s-%s", job.JobID, filepath.Base(printable))

	dpiX, _, err := o.platform.DeviceDPI(printer)
	if err != nil || dpiX <= 0 {
		dpiX = o.config.FallbackDPI
	}

	pages, err := o.renderer.Render(printable, job.PageRange, dpiX, job.ColorMode)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	docNames, err := o.submitter.Submit(pages, printer, copies, job.ColorMode, job.PageSize, baseDocName)
	if err != nil {
		return err
	}
	return o.submitter.WaitForSpool(printer, docNames, copies)
}

// printFallback 非 PDF 兜底：文件直传，失败再试一次
func (o *Orchestrator) printFallback(ctx context.Context, job *models.PrintJob, printer, filePath string, copies int) error {
	for i := 1; i <= copies; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.platform.SubmitFile(printer, filePath); err != nil {
			o.logger.Warn("文件直传失败，重试一次",
				zap.String("job_id", job.JobID), zap.Error(err))
			if err := o.platform.SubmitFile(printer, filePath); err != nil {
				return apperrors.Wrapf(err, apperrors.ErrSubmitFailed, "第 %d 份直传失败", i)
			}
		}
	}
	return o.submitter.WaitForSpool(printer, []string{filepath.Base(filePath)}, copies)
}

// resolveFile 定位打印文件：下载目录 → 任务记录的本地路径 → 下载
func (o *Orchestrator) resolveFile(ctx context.Context, job *models.PrintJob) (string, error) {
	candidate := filepath.Join(o.config.DownloadDir, filepath.Base(job.FileName))
	if fileUsable(candidate) {
		return candidate, nil
	}

	if job.LocalPath != "" && fileUsable(job.LocalPath) {
		o.logger.Debug("使用任务记录的本地路径",
			zap.String("job_id", job.JobID),
			zap.String("path", job.LocalPath))
		return job.LocalPath, nil
	}

	if job.DownloadURL == "" {
		return "", apperrors.New(apperrors.ErrFileResolution, "文件不存在且没有下载地址")
	}
	if err := o.download(ctx, job.DownloadURL, candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

// download 带重试下载：写 .download 临时文件，校验非空后原子换名
func (o *Orchestrator) download(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.ErrFileResolution, "创建下载目录失败")
	}

	var lastErr error
	for attempt := 1; attempt <= o.config.DownloadRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.downloadOnce(ctx, url, dest); err != nil {
			lastErr = err
			o.logger.Warn("下载失败",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			time.Sleep(o.config.DownloadBackoff)
			continue
		}
		return nil
	}
	return apperrors.Wrapf(lastErr, apperrors.ErrFileResolution,
		"下载失败（已重试 %d 次）: %s", o.config.DownloadRetries, url)
}

func (o *Orchestrator) downloadOnce(ctx context.Context, url, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, o.config.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("下载返回状态码 %d", resp.StatusCode)
	}

	tempPath := dest + ".download"
	f, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}
	if n == 0 {
		os.Remove(tempPath)
		return fmt.Errorf("下载内容为空")
	}
	return os.Rename(tempPath, dest)
}

// updateStatus 状态更新，存储层报错只记日志
func (o *Orchestrator) updateStatus(jobID string, status models.JobStatus, reason string) {
	if err := o.jobs.UpdateStatus(jobID, status, reason); err != nil {
		o.logger.Error("任务状态落库失败",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
	if o.sink != nil {
		o.sink.PushJobStatus(jobID, string(status), reason)
	}
}

func (o *Orchestrator) markFailed(jobID string, cause error) {
	o.logger.Error("打印任务失败", zap.String("job_id", jobID), zap.Error(cause))
	o.updateStatus(jobID, models.JobStatusFailed, cause.Error())
}

func (o *Orchestrator) markCancelled(jobID string) {
	o.updateStatus(jobID, models.JobStatusCancelled, "")
}

// fileUsable 文件存在且非空
func fileUsable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

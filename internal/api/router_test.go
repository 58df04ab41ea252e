package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/print-kiosk/internal/config"
	"github.com/wfunc/print-kiosk/internal/hardware"
	"github.com/wfunc/print-kiosk/internal/job"
	"github.com/wfunc/print-kiosk/internal/models"
	"github.com/wfunc/print-kiosk/internal/notify"
	"github.com/wfunc/print-kiosk/internal/printing"
	"github.com/wfunc/print-kiosk/internal/repository"
	"github.com/wfunc/print-kiosk/internal/utils"
	ws "github.com/wfunc/print-kiosk/internal/websocket"
)

type apiFixture struct {
	router    *Router
	jobs      *repository.PrintJobRepository
	transport *hardware.MockTransport
}

func setupAPIRouter(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := repository.SetupTestDB(t)
	logger := zap.NewNop()

	jobs := repository.NewPrintJobRepository(db, logger)
	payments := repository.NewPaymentRecordRepository(db, logger)
	serialLogs := repository.NewSerialLogRepository(db, logger)

	platform := printing.NewMockPlatform("HP LaserJet")
	selector := printing.NewSelector(platform, logger)
	renderer := printing.NewRenderer(logger)
	submitter := printing.NewSubmitter(platform, printing.SubmitterConfig{
		SpoolInterval: 2 * time.Millisecond,
		SpoolTimeout:  200 * time.Millisecond,
		PerCopyWait:   100 * time.Millisecond,
	}, logger)
	converter := printing.NewConverter("definitely-not-a-real-converter", time.Second, logger)

	orchestrator := job.NewOrchestrator(jobs, selector, renderer, submitter, converter,
		platform, job.Config{DownloadDir: t.TempDir(), DownloadBackoff: 5 * time.Millisecond}, logger)
	fulfillment := job.NewFulfillment(orchestrator, jobs, payments,
		notify.NewNotifier("", time.Second, logger), logger)

	transport := hardware.NewMockTransport()
	require.NoError(t, transport.Open())
	manager := job.NewTransactionManager(transport, nil, fulfillment, hardware.SessionConfig{
		PollInterval: 5 * time.Millisecond,
		Dispenser: hardware.DispenserConfig{
			DispenseTimeout:  time.Second,
			CoinWatchdog:     time.Hour,
			ResetSettleDelay: time.Millisecond,
			PollInterval:     5 * time.Millisecond,
		},
	}, logger)

	hub := ws.NewHub(logger)
	go hub.Run()

	hash, err := utils.HashPassword("kiosk-pass")
	require.NoError(t, err)

	router := NewRouter(&Deps{
		DB:         db,
		Jobs:       jobs,
		Payments:   payments,
		SerialLogs: serialLogs,
		Manager:    manager,
		Transport:  transport,
		Platform:   platform,
		Hub:        hub,
		Auth: &config.AuthConfig{
			JWTSecret:     "test-secret",
			AdminUsername: "admin",
			AdminPassword: hash,
		},
		JWT:    utils.NewJWTManager("test-secret", time.Hour, 24*time.Hour),
		Logger: logger,
	})

	return &apiFixture{router: router, jobs: jobs, transport: transport}
}

func (f *apiFixture) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.GetEngine().ServeHTTP(w, req)
	return w
}

func TestRouter_HealthCheck(t *testing.T) {
	f := setupAPIRouter(t)
	w := f.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_JobLifecycle(t *testing.T) {
	f := setupAPIRouter(t)

	w := f.do(http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"job_id":    "JOB-400",
		"file_name": "report.pdf",
		"price":     15,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created models.PrintJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.JobStatusPending, created.Status)
	assert.Equal(t, "all", created.PageRange)
	assert.Equal(t, 1, created.NumCopies)
	assert.Equal(t, models.ColorModeColored, created.ColorMode)

	w = f.do(http.MethodGet, "/api/v1/jobs/JOB-400", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/jobs?status=pending", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "JOB-400")

	w = f.do(http.MethodPost, "/api/v1/jobs/JOB-400/cancel", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	job, err := f.jobs.FindByJobID("JOB-400")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}

func TestRouter_CreateJobValidation(t *testing.T) {
	f := setupAPIRouter(t)

	// 缺价格
	w := f.do(http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"job_id":    "JOB-401",
		"file_name": "report.pdf",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 缺文件名
	w = f.do(http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"job_id": "JOB-402",
		"price":  10,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_GetJobNotFound(t *testing.T) {
	f := setupAPIRouter(t)
	w := f.do(http.MethodGet, "/api/v1/jobs/NOPE", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_StartJobBusy(t *testing.T) {
	f := setupAPIRouter(t)
	for _, id := range []string{"JOB-410", "JOB-411"} {
		w := f.do(http.MethodPost, "/api/v1/jobs", map[string]interface{}{
			"job_id": id, "file_name": "a.pdf", "price": 10,
		}, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.do(http.MethodPost, "/api/v1/jobs/JOB-410/start", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 设备占用中，第二笔交易要被拒绝
	w = f.do(http.MethodPost, "/api/v1/jobs/JOB-411/start", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// 取消后任务最终落取消态
	w = f.do(http.MethodPost, "/api/v1/jobs/JOB-410/cancel", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.jobs.FindByJobID("JOB-410")
		require.NoError(t, err)
		if job.Status == models.JobStatusCancelled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("取消后任务未落取消态")
}

func TestRouter_AuthAndProtectedRoutes(t *testing.T) {
	f := setupAPIRouter(t)

	// 未登录访问运维接口
	w := f.do(http.MethodGet, "/api/v1/serial-logs/latest", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 错误密码
	w = f.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "admin", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 正确登录
	w = f.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "admin", "password": "kiosk-pass",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var auth AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &auth))
	require.NotEmpty(t, auth.AccessToken)
	require.NotEmpty(t, auth.RefreshToken)

	// 带令牌访问
	w = f.do(http.MethodGet, "/api/v1/serial-logs/latest", nil, map[string]string{
		"Authorization": "Bearer " + auth.AccessToken,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// 刷新令牌
	w = f.do(http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": auth.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var refreshed AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refreshed))
	assert.NotEmpty(t, refreshed.AccessToken)
}

func TestRouter_HardwareStatus(t *testing.T) {
	f := setupAPIRouter(t)

	w := f.do(http.MethodGet, "/api/v1/hardware/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status HardwareStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.SerialOpen)
	require.Len(t, status.Printers, 1)
	assert.Equal(t, "HP LaserJet", status.Printers[0].Name)
	assert.True(t, status.Printers[0].Ready)
}

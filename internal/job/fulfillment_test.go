package job

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/hardware"
	"github.com/wfunc/print-kiosk/internal/models"
	"github.com/wfunc/print-kiosk/internal/notify"
	"github.com/wfunc/print-kiosk/internal/repository"
)

func newTestSession(t *testing.T, mock *hardware.MockTransport) *hardware.PaymentSession {
	t.Helper()
	require.NoError(t, mock.Open())
	return hardware.NewPaymentSession(mock, hardware.SessionConfig{
		PollInterval: 5 * time.Millisecond,
		Dispenser: hardware.DispenserConfig{
			DispenseTimeout:  2 * time.Second,
			CoinWatchdog:     time.Hour,
			ResetSettleDelay: time.Millisecond,
			PollInterval:     5 * time.Millisecond,
		},
	}, nil, zap.NewNop())
}

func TestFulfillment_FullTransaction(t *testing.T) {
	f := setupOrchestrator(t, "HP LaserJet")
	writeMinimalPDF(t, filepath.Join(f.downloadDir, "thesis.pdf"), 2)
	f.seedJob(t, &models.PrintJob{
		JobID: "JOB-200", FileName: "thesis.pdf",
		ColorMode: models.ColorModeBW, PageSize: "A4", NumCopies: 1, Price: 15,
	})

	var notified notify.PaymentNotification
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&notified))
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	logger := zap.NewNop()
	payments := repository.NewPaymentRecordRepository(f.db, logger)
	fulfillment := NewFulfillment(f.orchestrator, f.jobs, payments,
		notify.NewNotifier(backend.URL, time.Second, logger), logger)

	mock := hardware.NewMockTransport()
	mock.OnCommand = func(cmd string) {
		if strings.HasPrefix(cmd, hardware.CmdDispense) {
			mock.InjectLine("[CHANGE_COMPLETE]")
		}
	}
	session := newTestSession(t, mock)
	defer session.Close()

	done := make(chan error, 1)
	go func() { done <- fulfillment.Run(context.Background(), "JOB-200", session) }()

	// 投入 20，应付 15，找零 5
	time.Sleep(30 * time.Millisecond)
	mock.InjectLine("[BILL] Inserted: PHP 20 (2 pulses)")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("交易超时未完成")
	}

	job := f.jobStatus(t, "JOB-200")
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(20), job.InsertedAmount)
	assert.Equal(t, int64(5), job.ChangeAmount)
	assert.NotNil(t, job.PaymentCompletedAt)

	record, err := payments.FindBySessionID(session.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(15), record.Required)
	assert.Equal(t, int64(20), record.Inserted)
	assert.Equal(t, int64(5), record.Change)
	assert.Equal(t, string(hardware.DispenseSuccess), record.DispenseOutcome)

	assert.Equal(t, "JOB-200", notified.JobID)
	assert.Equal(t, int64(5), notified.ChangeAmount)
	assert.Equal(t, int64(15), notified.TotalPrice)

	commands := strings.Join(mock.SentCommands(), " ")
	assert.Contains(t, commands, "SET_PAYMENT:15")
	assert.Contains(t, commands, "DISPENSE:5")
	assert.Contains(t, commands, hardware.CmdReset)
}

func TestFulfillment_PrintsDespiteChangeFailure(t *testing.T) {
	f := setupOrchestrator(t, "HP LaserJet")
	writeMinimalPDF(t, filepath.Join(f.downloadDir, "notes.pdf"), 1)
	f.seedJob(t, &models.PrintJob{
		JobID: "JOB-201", FileName: "notes.pdf",
		ColorMode: models.ColorModeColored, PageSize: "A4", NumCopies: 1, Price: 10,
	})

	logger := zap.NewNop()
	payments := repository.NewPaymentRecordRepository(f.db, logger)
	fulfillment := NewFulfillment(f.orchestrator, f.jobs, payments,
		notify.NewNotifier("", time.Second, logger), logger)

	mock := hardware.NewMockTransport()
	mock.OnCommand = func(cmd string) {
		if strings.HasPrefix(cmd, hardware.CmdDispense) {
			mock.InjectLine("[CHANGE_ERROR] hopper empty")
		}
	}
	session := newTestSession(t, mock)
	defer session.Close()

	done := make(chan error, 1)
	go func() { done <- fulfillment.Run(context.Background(), "JOB-201", session) }()

	time.Sleep(30 * time.Millisecond)
	mock.InjectLine("[BILL] Inserted: PHP 20 (2 pulses)")

	select {
	case err := <-done:
		require.NoError(t, err, "找零失败不拦打印")
	case <-time.After(10 * time.Second):
		t.Fatal("交易超时未完成")
	}

	assert.Equal(t, models.JobStatusCompleted, f.jobStatus(t, "JOB-201").Status)

	record, err := payments.FindBySessionID(session.ID())
	require.NoError(t, err)
	assert.Equal(t, string(hardware.DispenseError), record.DispenseOutcome)
}

func TestFulfillment_ExactPaymentNoDispense(t *testing.T) {
	f := setupOrchestrator(t, "HP LaserJet")
	writeMinimalPDF(t, filepath.Join(f.downloadDir, "form.pdf"), 1)
	f.seedJob(t, &models.PrintJob{
		JobID: "JOB-202", FileName: "form.pdf",
		ColorMode: models.ColorModeColored, PageSize: "A4", NumCopies: 1, Price: 15,
	})

	logger := zap.NewNop()
	payments := repository.NewPaymentRecordRepository(f.db, logger)
	fulfillment := NewFulfillment(f.orchestrator, f.jobs, payments,
		notify.NewNotifier("", time.Second, logger), logger)

	mock := hardware.NewMockTransport()
	session := newTestSession(t, mock)
	defer session.Close()

	done := make(chan error, 1)
	go func() { done <- fulfillment.Run(context.Background(), "JOB-202", session) }()

	time.Sleep(30 * time.Millisecond)
	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")
	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")
	mock.InjectLine("[COIN] Inserted: PHP 5 (5 pulses)")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("交易超时未完成")
	}

	job := f.jobStatus(t, "JOB-202")
	assert.Equal(t, int64(15), job.InsertedAmount)
	assert.Equal(t, int64(0), job.ChangeAmount)

	record, err := payments.FindBySessionID(session.ID())
	require.NoError(t, err)
	assert.Equal(t, string(hardware.DispenseNoChange), record.DispenseOutcome)
	assert.NotContains(t, strings.Join(mock.SentCommands(), " "), hardware.CmdDispense+":")
}

func TestFulfillment_CancelDuringPayment(t *testing.T) {
	f := setupOrchestrator(t, "HP LaserJet")
	f.seedJob(t, &models.PrintJob{
		JobID: "JOB-203", FileName: "late.pdf", PageSize: "A4", NumCopies: 1, Price: 15,
	})

	logger := zap.NewNop()
	payments := repository.NewPaymentRecordRepository(f.db, logger)
	fulfillment := NewFulfillment(f.orchestrator, f.jobs, payments,
		notify.NewNotifier("", time.Second, logger), logger)

	mock := hardware.NewMockTransport()
	session := newTestSession(t, mock)
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fulfillment.Run(ctx, "JOB-203", session) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, apperrors.Is(err, apperrors.ErrTransactionCanceled))
	case <-time.After(5 * time.Second):
		t.Fatal("取消后未退出")
	}

	assert.Equal(t, models.JobStatusCancelled, f.jobStatus(t, "JOB-203").Status)
	assert.Contains(t, mock.SentCommands(), hardware.CmdReset, "取消要复位设备")
}

func TestFulfillment_InvalidPrice(t *testing.T) {
	f := setupOrchestrator(t, "HP LaserJet")
	f.seedJob(t, &models.PrintJob{JobID: "JOB-204", FileName: "a.pdf", PageSize: "A4", Price: 0})

	logger := zap.NewNop()
	fulfillment := NewFulfillment(f.orchestrator, f.jobs,
		repository.NewPaymentRecordRepository(f.db, logger),
		notify.NewNotifier("", time.Second, logger), logger)

	mock := hardware.NewMockTransport()
	session := newTestSession(t, mock)
	defer session.Close()

	err := fulfillment.Run(context.Background(), "JOB-204", session)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidJobData))
}

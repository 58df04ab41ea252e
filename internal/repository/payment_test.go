package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/models"
)

func TestPaymentRecordRepository_Lifecycle(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewPaymentRecordRepository(db, zap.NewNop())

	record := &models.PaymentRecord{
		SessionID: "sess-001",
		JobID:     "JOB-001",
		Currency:  "PHP",
		Required:  15,
	}
	require.NoError(t, repo.Create(record))

	require.NoError(t, repo.MarkCompleted("sess-001", 20, 5, "success", ""))

	found, err := repo.FindBySessionID("sess-001")
	require.NoError(t, err)
	assert.Equal(t, int64(15), found.Required)
	assert.Equal(t, int64(20), found.Inserted)
	assert.Equal(t, int64(5), found.Change)
	assert.Equal(t, "success", found.DispenseOutcome)
	assert.NotNil(t, found.CompletedAt)
}

func TestPaymentRecordRepository_NotFound(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewPaymentRecordRepository(db, zap.NewNop())

	_, err := repo.FindBySessionID("sess-404")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	err = repo.MarkCompleted("sess-404", 10, 0, "success", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestPaymentRecordRepository_ListByJobID(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewPaymentRecordRepository(db, zap.NewNop())

	require.NoError(t, repo.Create(&models.PaymentRecord{SessionID: "sess-a", JobID: "JOB-X", Required: 5}))
	require.NoError(t, repo.Create(&models.PaymentRecord{SessionID: "sess-b", JobID: "JOB-X", Required: 10}))
	require.NoError(t, repo.Create(&models.PaymentRecord{SessionID: "sess-c", JobID: "JOB-Y", Required: 15}))

	records, err := repo.ListByJobID("JOB-X")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

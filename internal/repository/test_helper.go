package repository

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/print-kiosk/internal/models"
)

// SetupTestDB 创建内存数据库用于测试
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	if err := db.AutoMigrate(
		&models.PrintJob{},
		&models.PaymentRecord{},
		&models.SerialLog{},
	); err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}
	return db
}

// SeedTestJob 插入一条测试任务
func SeedTestJob(t *testing.T, db *gorm.DB, jobID string, price int64) *models.PrintJob {
	t.Helper()

	job := &models.PrintJob{
		JobID:      jobID,
		FileName:   "report.pdf",
		TotalPages: 3,
		PageRange:  "all",
		ColorMode:  models.ColorModeBW,
		PageSize:   "A4",
		NumCopies:  1,
		Price:      price,
		Status:     models.JobStatusPending,
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("插入测试任务失败: %v", err)
	}
	return job
}

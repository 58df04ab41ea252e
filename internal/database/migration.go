package database

import (
	"fmt"

	"github.com/wfunc/print-kiosk/internal/logger"
	"github.com/wfunc/print-kiosk/internal/models"
	"go.uber.org/zap"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	migrationModels := []interface{}{
		// 打印任务
		&models.PrintJob{},

		// 支付交易
		&models.PaymentRecord{},

		// 串口通信日志
		&models.SerialLog{},
	}

	for _, model := range migrationModels {
		if err := DB.AutoMigrate(model); err != nil {
			logger.Error("表迁移失败",
				zap.Error(err),
				zap.Any("model", fmt.Sprintf("%T", model)),
			)
			return fmt.Errorf("迁移失败: %w", err)
		}
	}

	logger.Info("数据库迁移完成", zap.Int("tables", len(migrationModels)))
	return nil
}

package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/print-kiosk/internal/config"
	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/logger"
)

// DB 全局数据库实例
//
// 终端默认跑本机 sqlite，一台机器一个库。mysql/postgres
// 留给多台终端汇到同一后端库的部署形态。
var DB *gorm.DB

// Init 初始化数据库连接
func Init(cfg *config.DatabaseConfig) error {
	dialector, err := openDialector(cfg)
	if err != nil {
		return err
	}

	DB, err = gorm.Open(dialector, &gorm.Config{
		Logger:                 newDBLogger(cfg.LogLevel),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrDatabaseConnect, "连接数据库失败: %s", cfg.Driver)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "获取数据库实例失败")
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库连接测试失败")
	}

	logger.Info("数据库连接成功",
		zap.String("driver", cfg.Driver),
		zap.Int("max_idle", cfg.MaxIdleConns),
		zap.Int("max_open", cfg.MaxOpenConns),
	)
	return nil
}

// openDialector 按驱动打开方言，sqlite 先补齐库文件所在目录
func openDialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite", "sqlite3":
		if dir := sqliteDir(cfg.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, apperrors.Wrapf(err, apperrors.ErrDatabaseConnect, "创建数据目录失败: %s", dir)
			}
		}
		return sqlite.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "postgres", "postgresql":
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, apperrors.Newf(apperrors.ErrConfigValidate, "不支持的数据库驱动: %s", cfg.Driver)
	}
}

// sqliteDir 库文件的父目录，内存库与当前目录返回空串
func sqliteDir(dsn string) string {
	if strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file::memory:") {
		return ""
	}
	path := strings.SplitN(dsn, "?", 2)[0]
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return dir
	}
	return ""
}

// Close 关闭数据库连接
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB 获取数据库实例
func GetDB() *gorm.DB {
	return DB
}

// IsConnected 检查数据库是否连接
func IsConnected() bool {
	if DB == nil {
		return false
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return false
	}
	return sqlDB.Ping() == nil
}

// dbLogger 把GORM日志桥接到zap
type dbLogger struct {
	logLevel gormlogger.LogLevel
}

func newDBLogger(level string) *dbLogger {
	l := &dbLogger{logLevel: gormlogger.Warn}
	switch level {
	case "silent":
		l.logLevel = gormlogger.Silent
	case "error":
		l.logLevel = gormlogger.Error
	case "warn":
		l.logLevel = gormlogger.Warn
	case "info":
		l.logLevel = gormlogger.Info
	}
	return l
}

// LogMode 设置日志级别
func (l *dbLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.logLevel = level
	return &clone
}

// Info 输出信息日志
func (l *dbLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= gormlogger.Info {
		logger.GetLogger().Sugar().Infof(msg, data...)
	}
}

// Warn 输出警告日志
func (l *dbLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= gormlogger.Warn {
		logger.GetLogger().Sugar().Warnf(msg, data...)
	}
}

// Error 输出错误日志
func (l *dbLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= gormlogger.Error {
		logger.GetLogger().Sugar().Errorf(msg, data...)
	}
}

// Trace 输出SQL追踪日志
//
// 终端库都在本机盘上，SQL 超过 200ms 基本是索引或锁的问题。
func (l *dbLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && l.logLevel >= gormlogger.Error:
		logger.GetLogger().Error("SQL执行错误",
			zap.Error(err),
			zap.String("sql", sql),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
		)
	case elapsed > 200*time.Millisecond && l.logLevel >= gormlogger.Warn:
		logger.GetLogger().Warn("SQL执行缓慢",
			zap.String("sql", sql),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
		)
	case l.logLevel >= gormlogger.Info:
		logger.GetLogger().Debug("SQL执行",
			zap.String("sql", sql),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
		)
	}
}

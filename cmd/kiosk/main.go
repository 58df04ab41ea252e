package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/print-kiosk/internal/api"
	"github.com/wfunc/print-kiosk/internal/config"
	"github.com/wfunc/print-kiosk/internal/database"
	apperrors "github.com/wfunc/print-kiosk/internal/errors"
	"github.com/wfunc/print-kiosk/internal/hardware"
	"github.com/wfunc/print-kiosk/internal/job"
	"github.com/wfunc/print-kiosk/internal/logger"
	"github.com/wfunc/print-kiosk/internal/notify"
	"github.com/wfunc/print-kiosk/internal/printing"
	"github.com/wfunc/print-kiosk/internal/repository"
	"github.com/wfunc/print-kiosk/internal/utils"
	ws "github.com/wfunc/print-kiosk/internal/websocket"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 终端服务实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	transport hardware.Transport
	tracer    *repository.SerialTracer
	hub       *ws.Hub
	manager   *job.TransactionManager
	router    *api.Router
	httpSrv   *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	var (
		configPath   = flag.String("config", "", "配置文件路径")
		showVersion  = flag.Bool("version", false, "显示版本信息")
		hashPassword = flag.String("hash-password", "", "生成运维密码哈希后退出")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *hashPassword != "" {
		hash, err := utils.HashPassword(*hashPassword)
		if err != nil {
			fmt.Printf("生成密码哈希失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	setupSystem(&cfg.System)

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		logger.Fatal("服务启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务已安全关闭")
}

// NewServer 创建服务实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动服务
func (s *Server) Start() error {
	s.logger.Info("正在启动自助打印终端服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initDatabase(); err != nil {
		return err
	}
	if err := s.initHardware(); err != nil {
		return err
	}
	s.initHTTP()

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.cfg = newCfg
	})

	s.logger.Info("服务启动成功",
		zap.String("http", s.httpSrv.Addr),
		zap.Bool("serial", s.transport.IsOpen()),
	)
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	if err := database.Init(&s.cfg.Database); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	if s.cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}
	if !database.IsConnected() {
		return apperrors.New(apperrors.ErrDatabaseConnect, "数据库连接检查失败")
	}
	return nil
}

// initHardware 初始化投币器与打印链路
func (s *Server) initHardware() error {
	db := database.GetDB()
	serialLogs := repository.NewSerialLogRepository(db, s.logger)
	s.tracer = repository.NewSerialTracer(serialLogs, s.logger)

	// 串口：mock_mode 下不碰真实硬件
	if s.cfg.Serial.MockMode || !s.cfg.Serial.Enabled {
		s.logger.Warn("投币器运行在模拟模式")
		mock := hardware.NewMockTransport()
		if err := mock.Open(); err != nil {
			return err
		}
		s.transport = mock
	} else {
		transport := hardware.NewSerialTransport(&hardware.SerialConfig{
			Port:        s.cfg.Serial.Port,
			BaudRate:    s.cfg.Serial.BaudRate,
			ReadTimeout: s.cfg.Serial.ReadTimeout,
			SettleDelay: s.cfg.Serial.SettleDelay,
		}, s.logger)
		if err := transport.Open(); err != nil {
			// 串口打不开不挡服务启动，运维可以远程排查
			s.logger.Error("投币器串口打开失败", zap.Error(err))
		}
		s.transport = transport
	}

	jobs := repository.NewPrintJobRepository(db, s.logger)
	payments := repository.NewPaymentRecordRepository(db, s.logger)

	platform := printing.NewCUPSPlatform(s.cfg.Printer.DeviceDPI, s.logger)
	selector := printing.NewSelector(platform, s.logger)
	renderer := printing.NewRenderer(s.logger)
	submitter := printing.NewSubmitter(platform, printing.SubmitterConfig{
		DeviceDPI:     s.cfg.Printer.DeviceDPI,
		Offsets:       printerOffsets(s.cfg.Printer.Offsets),
		SpoolInterval: s.cfg.Printer.SpoolInterval,
		SpoolTimeout:  s.cfg.Printer.SpoolTimeout,
		PerCopyWait:   s.cfg.Printer.PerCopyTimeout,
	}, s.logger)
	converter := printing.NewConverter(s.cfg.Printer.ConvertCommand, 2*time.Minute, s.logger)

	orchestrator := job.NewOrchestrator(jobs, selector, renderer, submitter, converter,
		platform, job.Config{
			DownloadDir:     s.cfg.Printer.DownloadDir,
			DownloadRetries: s.cfg.Printer.DownloadRetry,
			FallbackDPI:     s.cfg.Printer.RenderDPI,
		}, s.logger)

	notifyURL := ""
	if s.cfg.Notify.Enabled {
		notifyURL = s.cfg.Notify.URL
	}
	fulfillment := job.NewFulfillment(orchestrator, jobs, payments,
		notify.NewNotifier(notifyURL, s.cfg.Notify.Timeout, s.logger), s.logger)

	s.hub = ws.NewHub(s.logger)
	go s.hub.Run()
	fulfillment.AttachSink(s.hub)

	s.manager = job.NewTransactionManager(s.transport, s.tracer, fulfillment,
		hardware.SessionConfig{
			PollInterval: s.cfg.Serial.PollInterval,
			Dispenser: hardware.DispenserConfig{
				DispenseTimeout:  s.cfg.Payment.DispenseTimeout,
				CoinWatchdog:     s.cfg.Payment.CoinWatchdog,
				ResetSettleDelay: s.cfg.Payment.ResetSettleDelay,
			},
		}, s.logger)

	s.router = api.NewRouter(&api.Deps{
		DB:         db,
		Jobs:       jobs,
		Payments:   payments,
		SerialLogs: serialLogs,
		Manager:    s.manager,
		Transport:  s.transport,
		Platform:   platform,
		Hub:        s.hub,
		Auth:       &s.cfg.Auth,
		JWT: utils.NewJWTManager(s.cfg.Auth.JWTSecret,
			s.cfg.Auth.AccessExpiry, s.cfg.Auth.RefreshExpiry),
		Logger: s.logger,
	})
	return nil
}

// initHTTP 启动HTTP服务
func (s *Server) initHTTP() {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("HTTP服务异常退出", zap.Error(err))
		}
	}()
}

// WaitForShutdown 等待退出信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 交易进行中不强杀，先触发取消
	if current := s.manager.Current(); current != "" {
		s.logger.Warn("关闭时仍有交易进行中，触发取消", zap.String("job_id", current))
		s.manager.Cancel(current)
	}

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭超时", zap.Error(err))
	}

	s.cancel()

	// 留痕落盘、串口复位、数据库收尾
	s.tracer.Close()
	if err := s.transport.Close(); err != nil {
		s.logger.Error("关闭串口失败", zap.Error(err))
	}
	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return nil
}

// printerOffsets 配置表转提交器偏移表
func printerOffsets(offsets map[string]config.Offset) map[string]printing.Offset {
	if len(offsets) == 0 {
		return nil
	}
	out := make(map[string]printing.Offset, len(offsets))
	for size, off := range offsets {
		out[size] = printing.Offset{X: off.X, Y: off.Y}
	}
	return out
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("自助打印终端服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

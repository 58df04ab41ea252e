package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Printer  PrinterConfig  `mapstructure:"printer"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	System   SystemConfig   `mapstructure:"system"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SerialConfig 投币器串口配置
type SerialConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MockMode      bool          `mapstructure:"mock_mode"` // 调试模式（使用模拟串口）
	Port          string        `mapstructure:"port"`      // "auto" 时自动探测
	BaudRate      int           `mapstructure:"baud_rate"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`   // 打开串口后等待设备复位
	PollInterval  time.Duration `mapstructure:"poll_interval"`  // 监听轮询间隔
	RetryTimes    int           `mapstructure:"retry_times"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// PaymentConfig 支付配置
type PaymentConfig struct {
	Currency         string        `mapstructure:"currency"`          // 货币代码（最小单位记账）
	DispenseTimeout  time.Duration `mapstructure:"dispense_timeout"`  // 找零总超时
	CoinWatchdog     time.Duration `mapstructure:"coin_watchdog"`     // 出币检测看门狗
	ResetSettleDelay time.Duration `mapstructure:"reset_settle_delay"` // RESET前的短暂延时
}

// PrinterConfig 打印配置
type PrinterConfig struct {
	DeviceDPI      int               `mapstructure:"device_dpi"`      // 打印机物理DPI
	RenderDPI      int               `mapstructure:"render_dpi"`      // 查询失败时的渲染DPI兜底
	SpoolInterval  time.Duration     `mapstructure:"spool_interval"`  // 队列轮询间隔
	SpoolTimeout   time.Duration     `mapstructure:"spool_timeout"`   // 单份基础超时
	PerCopyTimeout time.Duration     `mapstructure:"per_copy_timeout"` // 每份追加超时
	DownloadDir    string            `mapstructure:"download_dir"`
	DownloadRetry  int               `mapstructure:"download_retry"`
	ConvertCommand string            `mapstructure:"convert_command"` // 文档转换外部命令
	Offsets        map[string]Offset `mapstructure:"offsets"`         // 纸张进纸偏移修正表
}

// Offset 进纸偏移修正（设备单位，经验值，勿随意调整）
type Offset struct {
	X int `mapstructure:"x"`
	Y int `mapstructure:"y"`
}

// NotifyConfig 支付结果通知配置
type NotifyConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig 运维面板认证配置
//
// AdminPassword 存 argon2id 哈希，用 -hash-password 生成；
// 留空时登录接口直接拒绝。
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	AccessExpiry  time.Duration `mapstructure:"access_expiry"`
	RefreshExpiry time.Duration `mapstructure:"refresh_expiry"`
	AdminUsername string        `mapstructure:"admin_username"`
	AdminPassword string        `mapstructure:"admin_password"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	Timezone string `mapstructure:"timezone"`
	MaxProcs int    `mapstructure:"max_procs"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		// 设置配置文件路径
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 设置环境变量前缀
		v.SetEnvPrefix("PRINT_KIOSK")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// 设置默认值
		setDefaults(v)

		// 读取配置文件
		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		// 解析配置到结构体
		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			return
		}
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/print-kiosk.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "info")
	v.SetDefault("database.auto_migrate", true)

	// 串口默认配置
	v.SetDefault("serial.enabled", true)
	v.SetDefault("serial.mock_mode", false)
	v.SetDefault("serial.port", "auto")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.read_timeout", "100ms")
	v.SetDefault("serial.settle_delay", "2s")
	v.SetDefault("serial.poll_interval", "100ms")
	v.SetDefault("serial.retry_times", 3)
	v.SetDefault("serial.retry_interval", "100ms")

	// 支付默认配置
	v.SetDefault("payment.currency", "PHP")
	v.SetDefault("payment.dispense_timeout", "60s")
	v.SetDefault("payment.coin_watchdog", "3s")
	v.SetDefault("payment.reset_settle_delay", "500ms")

	// 打印默认配置
	v.SetDefault("printer.device_dpi", 600)
	v.SetDefault("printer.render_dpi", 200)
	v.SetDefault("printer.spool_interval", "1s")
	v.SetDefault("printer.spool_timeout", "600s")
	v.SetDefault("printer.per_copy_timeout", "300s")
	v.SetDefault("printer.download_dir", "./downloads")
	v.SetDefault("printer.download_retry", 3)
	v.SetDefault("printer.convert_command", "soffice")
	// 进纸偏移为参照机型实测值，换硬件前不要改
	v.SetDefault("printer.offsets.a4.x", -70)
	v.SetDefault("printer.offsets.a4.y", -60)
	v.SetDefault("printer.offsets.letter.x", -110)
	v.SetDefault("printer.offsets.letter.y", -60)

	// 通知默认配置
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.timeout", "10s")

	// 认证默认配置
	v.SetDefault("auth.jwt_secret", "print-kiosk-dev-secret")
	v.SetDefault("auth.access_expiry", "2h")
	v.SetDefault("auth.refresh_expiry", "168h")
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password", "")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "print-kiosk.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}

		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}

		fmt.Println("配置已重新加载")
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetInt 获取整数配置
func GetInt(key string) int {
	return v.GetInt(key)
}

// GetBool 获取布尔配置
func GetBool(key string) bool {
	return v.GetBool(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// IsSet 检查配置项是否存在
func IsSet(key string) bool {
	return v.IsSet(key)
}

// Set 动态设置配置值
func Set(key string, value interface{}) {
	v.Set(key, value)
}

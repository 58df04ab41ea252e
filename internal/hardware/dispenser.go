package hardware

import (
	"time"

	"go.uber.org/zap"
)

// DispenseResult 找零结果类型
type DispenseResult string

const (
	DispenseSuccess  DispenseResult = "success"   // 找零完成
	DispenseNoChange DispenseResult = "no_change" // 无需找零
	DispenseError    DispenseResult = "error"     // 找零错误（含出币斗卡滞）
	DispenseTimeout  DispenseResult = "timeout"   // 找零超时
)

// DispenseOutcome 一次找零的最终结果，经 channel 交付给调用方
type DispenseOutcome struct {
	Result  DispenseResult
	Amount  int64  // 请求找零的金额（最小货币单位）
	Message string // 失败原因说明
}

// DispenserConfig 出币斗控制配置
type DispenserConfig struct {
	DispenseTimeout  time.Duration // 整体找零超时
	CoinWatchdog     time.Duration // 出币停滞看门狗
	ResetSettleDelay time.Duration // 复位前等待
	PollInterval     time.Duration // 监视轮询间隔
}

// Dispenser 出币斗（找零）控制器
//
// Dispense 发出命令后由监视协程接管串口输入直到终态，
// 结果通过返回的 channel 交付，调用方不注册任何回调。
// 监视期间不允许有其他读者在读同一串口。
type Dispenser struct {
	transport Transport
	config    DispenserConfig
	logger    *zap.Logger
}

// NewDispenser 创建出币斗控制器
func NewDispenser(transport Transport, config DispenserConfig, logger *zap.Logger) *Dispenser {
	if config.DispenseTimeout <= 0 {
		config.DispenseTimeout = 60 * time.Second
	}
	if config.CoinWatchdog <= 0 {
		config.CoinWatchdog = 3 * time.Second
	}
	if config.ResetSettleDelay <= 0 {
		config.ResetSettleDelay = 500 * time.Millisecond
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	return &Dispenser{
		transport: transport,
		config:    config,
		logger:    logger,
	}
}

// Dispense 找零并返回承载最终结果的 channel
//
// change <= 0 时直接交付 no_change，不碰串口。
// 其余情况发送 DISPENSE 命令并启动监视协程，终态后总会复位设备。
func (d *Dispenser) Dispense(change int64) <-chan DispenseOutcome {
	outcome := make(chan DispenseOutcome, 1)

	if change <= 0 {
		outcome <- DispenseOutcome{Result: DispenseNoChange, Amount: 0}
		return outcome
	}

	if err := d.transport.WriteCommand(BuildCommand(CmdDispense, change)); err != nil {
		d.logger.Error("发送找零命令失败", zap.Int64("change", change), zap.Error(err))
		outcome <- DispenseOutcome{
			Result:  DispenseError,
			Amount:  change,
			Message: err.Error(),
		}
		return outcome
	}

	d.logger.Info("开始找零", zap.Int64("change", change))
	go d.monitor(change, outcome)
	return outcome
}

// monitor 监视找零进程直到终态
//
// 看门狗在首枚出币信号后才武装：没见过出币就谈不上停滞。
// 看门狗触发只停斗一次，不终止监视，终态标记仍可能在停斗后到达。
func (d *Dispenser) monitor(change int64, outcome chan<- DispenseOutcome) {
	deadline := time.Now().Add(d.config.DispenseTimeout)
	var lastMotion time.Time
	hopperStopped := false

	result := DispenseOutcome{Result: DispenseTimeout, Amount: change, Message: "找零超时"}

loop:
	for time.Now().Before(deadline) {
		if !hopperStopped && !lastMotion.IsZero() && time.Since(lastMotion) > d.config.CoinWatchdog {
			hopperStopped = true
			d.logger.Warn("出币停滞，停止出币斗",
				zap.Int64("change", change),
				zap.Duration("watchdog", d.config.CoinWatchdog))
			if err := d.transport.WriteCommand(CmdStopHopper); err != nil {
				d.logger.Error("停止出币斗命令失败", zap.Error(err))
			}
		}

		line, ok, err := d.transport.ReadLine()
		if err != nil {
			d.logger.Warn("找零监视读取失败", zap.Error(err))
			time.Sleep(d.config.PollInterval)
			continue
		}
		if !ok {
			time.Sleep(d.config.PollInterval)
			continue
		}

		switch ev := ParseLine(line); ev.Kind {
		case EventCoinMotion:
			if !hopperStopped {
				lastMotion = time.Now()
			}
		case EventChangeComplete:
			result = DispenseOutcome{Result: DispenseSuccess, Amount: change}
			break loop
		case EventChangeError:
			result = DispenseOutcome{Result: DispenseError, Amount: change, Message: "设备报告找零错误"}
			break loop
		case EventChangeTimeout:
			result = DispenseOutcome{Result: DispenseTimeout, Amount: change, Message: "设备报告找零超时"}
			break loop
		default:
			// 找零期间的投币/遥测行不影响结果
		}
	}

	// 无论终态如何都复位设备，让下一笔交易从干净状态开始
	time.Sleep(d.config.ResetSettleDelay)
	if err := d.transport.WriteCommand(CmdReset); err != nil {
		d.logger.Error("找零后复位失败", zap.Error(err))
	}

	switch result.Result {
	case DispenseSuccess:
		d.logger.Info("找零完成", zap.Int64("change", change))
	default:
		d.logger.Error("找零未成功",
			zap.Int64("change", change),
			zap.String("result", string(result.Result)),
			zap.String("message", result.Message))
	}
	outcome <- result
}

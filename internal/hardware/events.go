package hardware

import (
	"strconv"
	"strings"
)

// 出站命令（行协议，ASCII，换行结尾）
const (
	CmdSetPayment = "SET_PAYMENT" // SET_PAYMENT:<int>
	CmdDispense   = "DISPENSE"    // DISPENSE:<int>
	CmdStopHopper = "STOP_HOPPER" // 停止出币斗
	CmdReset      = "RESET"       // 设备复位
)

// EventKind 设备事件类型
type EventKind string

const (
	EventCoinInserted    EventKind = "coin_inserted"     // 投币
	EventBillInserted    EventKind = "bill_inserted"     // 投纸币
	EventPaymentComplete EventKind = "payment_complete"  // 设备侧认为支付完成（仅参考，台账才是权威）
	EventChangeComplete  EventKind = "change_complete"   // 找零完成
	EventChangeError     EventKind = "change_error"      // 找零错误
	EventChangeTimeout   EventKind = "change_timeout"    // 找零超时（设备侧）
	EventCoinMotion      EventKind = "coin_motion"       // 出币斗出币遥测
	EventTelemetry       EventKind = "telemetry"         // 其他遥测（如 Total: PHP x），忽略
	EventUnknown         EventKind = "unknown"           // 无法识别的行
)

// DeviceEvent 解析后的设备事件
type DeviceEvent struct {
	Kind   EventKind
	Amount int64  // 投入面值（最小货币单位），仅投币/投纸币事件有效
	Raw    string // 原始行内容
}

// BuildCommand 构建带参数的出站命令行
func BuildCommand(cmd string, arg int64) string {
	return cmd + ":" + strconv.FormatInt(arg, 10)
}

// ParseLine 将一行设备输出解析为事件
//
// 投币行支持两种格式：
//   - 带标签: "[COIN] Inserted: PHP 5 (5 pulses)" / "[BILL] Inserted: PHP 20 (2 pulses)"
//   - 旧格式: "Inserted: PHP 5"
//
// 解析只做词法拆分，完成与否由台账判断，不信任设备自身的判定。
func ParseLine(line string) DeviceEvent {
	line = strings.TrimSpace(line)
	ev := DeviceEvent{Kind: EventUnknown, Raw: line}
	if line == "" {
		ev.Kind = EventTelemetry
		return ev
	}

	// 终态标记
	switch {
	case strings.Contains(line, "[CHANGE_COMPLETE]"):
		ev.Kind = EventChangeComplete
		return ev
	case strings.Contains(line, "[CHANGE_ERROR]"):
		ev.Kind = EventChangeError
		return ev
	case strings.Contains(line, "[CHANGE_TIMEOUT]"):
		ev.Kind = EventChangeTimeout
		return ev
	case strings.Contains(line, "[PAYMENT_COMPLETE]"):
		ev.Kind = EventPaymentComplete
		return ev
	}

	// 带标签的投币/投纸币行
	if (strings.Contains(line, "[COIN]") || strings.Contains(line, "[BILL]")) &&
		strings.Contains(line, "Inserted: PHP") {
		if v, ok := parseInsertedValue(line); ok {
			if strings.Contains(line, "[BILL]") {
				ev.Kind = EventBillInserted
			} else {
				ev.Kind = EventCoinInserted
			}
			ev.Amount = v
			return ev
		}
		return ev
	}

	// 旧格式投币行
	if strings.HasPrefix(line, "Inserted: PHP") {
		parts := strings.Fields(line)
		if len(parts) >= 3 {
			if v, err := strconv.ParseInt(parts[2], 10, 64); err == nil && v > 0 {
				ev.Kind = EventCoinInserted
				ev.Amount = v
				return ev
			}
		}
		return ev
	}

	// 出币斗遥测：出币检测标记或纯脉冲计数
	if strings.Contains(line, "COIN_DETECTED") || isDigits(line) {
		ev.Kind = EventCoinMotion
		return ev
	}

	// 其他遥测（如 "Total: PHP x"）直接忽略
	if strings.HasPrefix(line, "Total: PHP") {
		ev.Kind = EventTelemetry
		return ev
	}

	return ev
}

// parseInsertedValue 提取 "PHP <v> (<n> pulses)" 中的面值
func parseInsertedValue(line string) (int64, bool) {
	idx := strings.Index(line, "PHP")
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(line[idx+len("PHP"):])
	if cut := strings.Index(rest, "("); cut >= 0 {
		rest = rest[:cut]
	}
	v, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// isDigits 行内容是否为纯数字（脉冲计数遥测）
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

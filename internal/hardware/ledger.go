package hardware

import (
	"sync"
)

// Ledger 支付台账
//
// 累计投入与应付金额都以最小货币单位记账。完成判定只看台账：
// total >= required 即完成，设备侧的完成标记不作数。完成态锁存，不会回退。
type Ledger struct {
	mu       sync.Mutex
	required int64
	total    int64
	complete bool
}

// NewLedger 创建台账
func NewLedger() *Ledger {
	return &Ledger{}
}

// SetRequired 设定应付金额并清空累计
func (l *Ledger) SetRequired(amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.required = amount
	l.total = 0
	l.complete = amount <= 0
}

// Apply 记入一笔投入，返回累计、剩余应付与是否完成
//
// 完成后再调用不改台账，重复交付同一份锁存结果。
func (l *Ledger) Apply(value int64) (total int64, remaining int64, complete bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.complete {
		return l.total, l.remainingLocked(), true
	}
	if value > 0 {
		l.total += value
	}
	if l.total >= l.required {
		l.complete = true
	}
	return l.total, l.remainingLocked(), l.complete
}

// Snapshot 读取当前台账状态
func (l *Ledger) Snapshot() (required int64, total int64, remaining int64, complete bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.required, l.total, l.remainingLocked(), l.complete
}

// Change 超出应付的部分（找零金额），未完成时为 0
func (l *Ledger) Change() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.complete || l.total <= l.required {
		return 0
	}
	return l.total - l.required
}

// Reset 清空台账
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.required = 0
	l.total = 0
	l.complete = false
}

func (l *Ledger) remainingLocked() int64 {
	r := l.required - l.total
	if r < 0 {
		return 0
	}
	return r
}

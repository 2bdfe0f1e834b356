package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"straton/internal/pkg/num"
)

// base 汇集各策略共用的管线：信号队列、regime、资金访问器。
// 信号用显式队列传递（Signal() 弹出），不走事件回调。
type base struct {
	name string

	mu      sync.Mutex
	regime  Regime
	forced  Regime
	account AccountFunc
	queue   []*Signal
}

func (b *base) Name() string { return b.name }

// SetRegime 记录分类器标签；标签可能过期，在被替换前按原值使用。
func (b *base) SetRegime(r Regime) {
	b.mu.Lock()
	b.regime = r
	b.mu.Unlock()
}

// ForceRegime 配置强制 regime，优先级高于分类器标签。
func (b *base) ForceRegime(r Regime) {
	b.mu.Lock()
	b.forced = r
	b.mu.Unlock()
}

// effectiveRegime 强制值优先，其次分类器标签。
func (b *base) effectiveRegime() Regime {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.forced != RegimeUnknown {
		return b.forced
	}
	return b.regime
}

func (b *base) BindAccount(fn AccountFunc) {
	b.mu.Lock()
	b.account = fn
	b.mu.Unlock()
}

// equity 当前可用资金；未绑定时返回 (0, false)。
func (b *base) equity() (decimal.Decimal, bool) {
	b.mu.Lock()
	fn := b.account
	b.mu.Unlock()
	if fn == nil {
		return num.Zero, false
	}
	return fn(), true
}

func (b *base) emit(sig *Signal) {
	if sig == nil {
		return
	}
	b.mu.Lock()
	b.queue = append(b.queue, sig)
	b.mu.Unlock()
}

// Signal 弹出最早的待处理信号，队列空时返回 nil。
func (b *base) Signal() *Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	sig := b.queue[0]
	b.queue = b.queue[1:]
	return sig
}

// regimeAllowed regime 门控：不匹配时静默不出信号，这不是错误。
func regimeAllowed(current Regime, allowed []Regime) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if r == current {
			return true
		}
	}
	return false
}

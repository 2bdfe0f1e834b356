package strategy

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"straton/internal/indicator"
	"straton/internal/pkg/num"
)

// RiskTier 风险档位，回测引擎据此推导默认仓位比例。
type RiskTier string

const (
	RiskConservative RiskTier = "conservative"
	RiskStandard     RiskTier = "standard"
	RiskAggressive   RiskTier = "aggressive"
)

// DefaultSizePct 档位对应的默认单仓资金比例。
func (t RiskTier) DefaultSizePct() decimal.Decimal {
	switch t {
	case RiskConservative:
		return num.MustParse("0.05")
	case RiskAggressive:
		return num.MustParse("0.2")
	default:
		return num.MustParse("0.1")
	}
}

// Meta 策略的静态元数据，编译期注册，不做动态插件加载。
type Meta struct {
	Name        string
	Description string
	Regimes     []Regime
	Risk        RiskTier
	// PositionPct 显式单仓比例；BudgetPct 网格类策略的总预算比例。
	// 两者为零时回退到 Risk 档位默认值。
	PositionPct decimal.Decimal
	BudgetPct   decimal.Decimal
}

type factory func(cache *indicator.Cache, overrides map[string]any) (Strategy, error)

type registration struct {
	meta Meta
	make factory
}

var registry = map[string]registration{
	"meanrev": {
		meta: Meta{
			Name:        "meanrev",
			Description: "RSI 极值叠加布林带偏离的均值回归",
			Regimes:     []Regime{RegimeRanging, RegimeQuiet},
			Risk:        RiskStandard,
			PositionPct: num.MustParse("0.1"),
		},
		make: func(cache *indicator.Cache, overrides map[string]any) (Strategy, error) {
			return NewMeanRev(cache, overrides)
		},
	},
	"squeeze": {
		meta: Meta{
			Name:        "squeeze",
			Description: "布林带收进肯特纳通道后的带量突破",
			Regimes:     []Regime{RegimeTrendingUp, RegimeTrendingDown, RegimeVolatile},
			Risk:        RiskAggressive,
		},
		make: func(cache *indicator.Cache, overrides map[string]any) (Strategy, error) {
			return NewSqueeze(cache, overrides)
		},
	},
	"grid": {
		meta: Meta{
			Name:        "grid",
			Description: "枢轴位网格，区间内低买高卖",
			Regimes:     []Regime{RegimeRanging},
			Risk:        RiskConservative,
			BudgetPct:   num.MustParse("0.3"),
		},
		make: func(cache *indicator.Cache, overrides map[string]any) (Strategy, error) {
			return NewGrid(cache, overrides)
		},
	},
}

// ErrUnknownStrategy 请求了未注册的策略名。
type ErrUnknownStrategy struct {
	Name string
}

func (e *ErrUnknownStrategy) Error() string {
	return fmt.Sprintf("unknown strategy %q", e.Name)
}

// New 按名字构建策略实例，overrides 覆盖该策略的默认参数。
func New(name string, cache *indicator.Cache, overrides map[string]any) (Strategy, error) {
	reg, ok := registry[name]
	if !ok {
		return nil, &ErrUnknownStrategy{Name: name}
	}
	s, err := reg.make(cache, overrides)
	if err != nil {
		return nil, fmt.Errorf("building strategy %s failed: %w", name, err)
	}
	return s, nil
}

// Lookup 返回策略元数据。
func Lookup(name string) (Meta, bool) {
	reg, ok := registry[name]
	return reg.meta, ok
}

// Names 已注册策略名，字典序。
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

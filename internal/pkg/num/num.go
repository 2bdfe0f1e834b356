package num

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// 中文说明：
// 所有价格、数量、费用、盈亏计算统一走 shopspring/decimal，
// 保证跨语言/跨实现的逐字节可复现；float64 只允许出现在
// 统计类中间量（方差、开方）里。

var (
	Zero    = decimal.Zero
	One     = decimal.NewFromInt(1)
	Two     = decimal.NewFromInt(2)
	Hundred = decimal.NewFromInt(100)
	TenK    = decimal.NewFromInt(10000)

	// Eps 用于价格比较的最小可辨差。
	Eps = decimal.New(1, -8)
)

// Parse 严格解析十进制文本，空串或非法文本返回错误。
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("decimal text is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal text %q: %w", s, err)
	}
	return d, nil
}

// MustParse 仅用于测试与常量表，解析失败直接 panic。
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromFloat 将 float64 转为 decimal，NaN/Inf 按零处理。
func FromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// ToFloat 仅供统计中间量使用。
func ToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// SafeDiv 返回 a/b；除数为零时返回 (0, false)。
func SafeDiv(a, b decimal.Decimal) (decimal.Decimal, bool) {
	if b.IsZero() {
		return decimal.Zero, false
	}
	return a.Div(b), true
}

// Clamp01 把值截断到 [0,1]。
func Clamp01(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(Zero) {
		return Zero
	}
	if d.GreaterThan(One) {
		return One
	}
	return d
}

// Sum 求和，空切片返回零。
func Sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Avg 求算术平均，空切片返回 (0, false)。
func Avg(values []decimal.Decimal) (decimal.Decimal, bool) {
	if len(values) == 0 {
		return decimal.Zero, false
	}
	return Sum(values).Div(decimal.NewFromInt(int64(len(values)))), true
}

// Max 返回较大值。
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// Min 返回较小值。
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Abs 绝对值。
func Abs(a decimal.Decimal) decimal.Decimal { return a.Abs() }

// Sqrt 对非负 decimal 做牛顿迭代开方，收敛到 Eps 以内。
// 指标里的标准差（布林带）依赖它保持 decimal 通路。
func Sqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	// 以 float 近似为初值，迭代到稳定
	guess := FromFloat(math.Sqrt(ToFloat(d)))
	if guess.IsZero() {
		guess = One
	}
	for i := 0; i < 24; i++ {
		next := guess.Add(d.Div(guess)).Div(Two)
		if next.Sub(guess).Abs().LessThan(Eps) {
			return next
		}
		guess = next
	}
	return guess
}

// ApplyBps 按基点调整价格：up=true 上调，否则下调。
// 回测滑点（对交易者不利方向）即由此计算。
func ApplyBps(price, bps decimal.Decimal, up bool) decimal.Decimal {
	delta := price.Mul(bps).Div(TenK)
	if up {
		return price.Add(delta)
	}
	return price.Sub(delta)
}

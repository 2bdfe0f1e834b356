package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tf.Duration)
	assert.Equal(t, "1h", tf.SourceInterval)

	tf, err = ParseTimeframe("  4H ")
	require.NoError(t, err)
	assert.Equal(t, "4h", tf.Key)

	_, err = ParseTimeframe("7m")
	assert.Error(t, err)
	_, err = ParseTimeframe("")
	assert.Error(t, err)
}

func TestSupportedTimeframes(t *testing.T) {
	keys := SupportedTimeframes()
	assert.Contains(t, keys, "1m")
	assert.Contains(t, keys, "1d")
	assert.IsIncreasing(t, keys, "字典序输出")
}

func TestAlignRange(t *testing.T) {
	tf, _ := ParseTimeframe("1h")
	hour := int64(3_600_000)

	start, end := tf.AlignRange(hour+5, 3*hour+999)
	assert.Equal(t, hour, start)
	assert.Equal(t, 3*hour, end)

	// 传反了自动交换
	start, end = tf.AlignRange(3*hour, hour)
	assert.Equal(t, hour, start)
	assert.Equal(t, 3*hour, end)
}

func TestExpectedCandles(t *testing.T) {
	tf, _ := ParseTimeframe("1h")
	hour := int64(3_600_000)

	assert.Equal(t, int64(3), tf.ExpectedCandles(hour, 3*hour))
	assert.Equal(t, int64(1), tf.ExpectedCandles(hour, hour))
	assert.Equal(t, int64(0), tf.ExpectedCandles(3*hour, hour))
}

func TestPeriodsPerYear(t *testing.T) {
	tf, _ := ParseTimeframe("1h")
	assert.InDelta(t, 8760, tf.PeriodsPerYear(), 0.01)

	tf, _ = ParseTimeframe("1d")
	assert.InDelta(t, 365, tf.PeriodsPerYear(), 0.01)
}

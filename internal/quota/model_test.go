package quota

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	for _, name := range []string{"messages", "tokens", "attachments"} {
		m, err := ParseMetric(name)
		require.NoError(t, err)
		assert.Equal(t, Metric(name), m)
	}

	_, err := ParseMetric("carrier_pigeons")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownMetric))
}

func TestDayOf_TruncatesToUTCMidnight(t *testing.T) {
	in := time.Date(2025, 6, 15, 23, 59, 59, 999999999, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), DayOf(in))
}

func TestDayOf_NormalizesZones(t *testing.T) {
	// 23:30 in UTC-5 is 04:30 next day in UTC; the day boundary is UTC.
	loc := time.FixedZone("UTC-5", -5*60*60)
	in := time.Date(2025, 6, 15, 23, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), DayOf(in))
}

func TestNextDay(t *testing.T) {
	in := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), NextDay(in))

	// Just before midnight still resets at the immediately following midnight.
	in = time.Date(2025, 6, 15, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), NextDay(in))
}

func TestLimitFor(t *testing.T) {
	cap := int64(20)
	l := Limits{MaxPerDay: map[Metric]*int64{
		MetricMessages: &cap,
		MetricTokens:   nil,
	}}

	v, ok := l.LimitFor(MetricMessages)
	assert.True(t, ok)
	assert.Equal(t, int64(20), v)

	_, ok = l.LimitFor(MetricTokens)
	assert.False(t, ok, "nil value means unlimited")

	_, ok = l.LimitFor(MetricAttachments)
	assert.False(t, ok, "missing key means unlimited")
}

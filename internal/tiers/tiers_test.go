package tiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/converso-ai/converso/internal/config"
	"github.com/converso-ai/converso/internal/quota"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestBuildTable_NoOverrides(t *testing.T) {
	table := BuildTable(nil)

	free := table[TierFree]
	v, bounded := free.LimitFor(quota.MetricMessages)
	require.True(t, bounded)
	assert.Equal(t, int64(20), v)
	assert.Equal(t, 7, free.AttachmentRetentionDays)
}

func TestBuildTable_AppliesOverrides(t *testing.T) {
	table := BuildTable(map[string]config.TierOverride{
		TierFree: {
			MaxPerDay:     map[string]int64{"messages": 50},
			RetentionDays: intPtr(14),
		},
		TierPro: {
			MaxPerDay: map[string]int64{"attachments": -1},
			Strict:    boolPtr(true),
		},
	})

	free := table[TierFree]
	v, bounded := free.LimitFor(quota.MetricMessages)
	require.True(t, bounded)
	assert.Equal(t, int64(50), v)
	assert.Equal(t, 14, free.AttachmentRetentionDays)
	assert.False(t, free.Strict)

	pro := table[TierPro]
	_, bounded = pro.LimitFor(quota.MetricAttachments)
	assert.False(t, bounded, "negative override makes the metric unlimited")
	assert.True(t, pro.Strict)

	// Untouched tiers keep their defaults.
	team := table[TierTeam]
	v, bounded = team.LimitFor(quota.MetricAttachments)
	require.True(t, bounded)
	assert.Equal(t, int64(100), v)
}

func TestBuildTable_IgnoresUnknownNames(t *testing.T) {
	table := BuildTable(map[string]config.TierOverride{
		"platinum": {MaxPerDay: map[string]int64{"messages": 1}},
		TierFree:   {MaxPerDay: map[string]int64{"carrier_pigeons": 9}},
	})

	_, ok := table["platinum"]
	assert.False(t, ok, "overrides never introduce new tiers")

	free := table[TierFree]
	v, bounded := free.LimitFor(quota.MetricMessages)
	require.True(t, bounded)
	assert.Equal(t, int64(20), v, "unknown metric overrides are dropped")
}

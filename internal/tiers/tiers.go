package tiers

import (
	"github.com/converso-ai/converso/internal/config"
	"github.com/converso-ai/converso/internal/quota"
)

// Known subscription tiers.
const (
	TierFree = "free"
	TierPro  = "pro"
	TierTeam = "team"
)

// Table maps tier names to their limits. Loaded once at process start and
// never mutated afterwards.
type Table map[string]quota.Limits

// DefaultTable returns the built-in tier configuration. Config overrides
// are applied on top of it at load time.
func DefaultTable() Table {
	return Table{
		TierFree: {
			Tier: TierFree,
			MaxPerDay: map[quota.Metric]*int64{
				quota.MetricMessages:    limit(20),
				quota.MetricTokens:      limit(20000),
				quota.MetricAttachments: limit(5),
			},
			AttachmentRetentionDays: 7,
		},
		TierPro: {
			Tier: TierPro,
			MaxPerDay: map[quota.Metric]*int64{
				quota.MetricMessages:    nil, // unlimited
				quota.MetricTokens:      nil,
				quota.MetricAttachments: limit(50),
			},
			AttachmentRetentionDays: 30,
		},
		TierTeam: {
			Tier: TierTeam,
			MaxPerDay: map[quota.Metric]*int64{
				quota.MetricMessages:    nil,
				quota.MetricTokens:      nil,
				quota.MetricAttachments: limit(100),
			},
			AttachmentRetentionDays: 90,
			Strict:                  true,
		},
	}
}

// BuildTable returns the default table with config overrides applied.
// Overrides naming unknown tiers or metrics are ignored; a negative cap
// makes the metric unlimited.
func BuildTable(overrides map[string]config.TierOverride) Table {
	table := DefaultTable()

	for name, ov := range overrides {
		limits, ok := table[name]
		if !ok {
			continue
		}

		for metric, value := range ov.MaxPerDay {
			m := quota.Metric(metric)
			if !m.Valid() {
				continue
			}
			if value < 0 {
				limits.MaxPerDay[m] = nil
			} else {
				v := value
				limits.MaxPerDay[m] = &v
			}
		}
		if ov.RetentionDays != nil {
			limits.AttachmentRetentionDays = *ov.RetentionDays
		}
		if ov.Strict != nil {
			limits.Strict = *ov.Strict
		}

		table[name] = limits
	}
	return table
}

// MinRetentionDays returns the shortest retention window across all tiers.
// The sweeper uses it as a coarse prefilter: nothing younger can be
// eligible for deletion regardless of the owner's tier.
func (t Table) MinRetentionDays() int {
	min := -1
	for _, limits := range t {
		if min < 0 || limits.AttachmentRetentionDays < min {
			min = limits.AttachmentRetentionDays
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

func limit(v int64) *int64 {
	return &v
}

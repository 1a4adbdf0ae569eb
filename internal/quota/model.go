package quota

import (
	"errors"
	"fmt"
	"time"
)

// Metric is one countable dimension of consumption. The set is closed:
// adding a metric means updating the tier table, the store, and the
// migrations together.
type Metric string

const (
	MetricMessages    Metric = "messages"
	MetricTokens      Metric = "tokens"
	MetricAttachments Metric = "attachments"
)

// Metrics lists every known metric, in a stable order.
var Metrics = []Metric{MetricMessages, MetricTokens, MetricAttachments}

// ErrUnknownMetric is returned when a caller passes a metric outside the
// enumerated set. This is a programmer error at the call site, not a
// business condition, and is the only error an admission check propagates.
var ErrUnknownMetric = errors.New("unknown metric")

// ParseMetric validates a metric name from an untrusted boundary.
func ParseMetric(s string) (Metric, error) {
	m := Metric(s)
	for _, known := range Metrics {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// Valid reports whether m is part of the enumerated set.
func (m Metric) Valid() bool {
	_, err := ParseMetric(string(m))
	return err == nil
}

// Limits is the resolved quota configuration for a user's tier.
type Limits struct {
	Tier string `json:"tier"`

	// MaxPerDay holds the daily cap per metric. A nil value (or a missing
	// key) means the metric is unlimited for this tier.
	MaxPerDay map[Metric]*int64 `json:"max_per_day"`

	// AttachmentRetentionDays is the age, in whole days, beyond which the
	// retention sweeper deletes an attachment. An attachment aged exactly
	// this many days is retained.
	AttachmentRetentionDays int `json:"attachment_retention_days"`

	// Strict selects hard enforcement: admission and recording are combined
	// into a single atomic conditional increment, so the limit can never be
	// overshot by concurrent callers.
	Strict bool `json:"strict"`
}

// LimitFor returns the daily cap for a metric and whether one exists.
// The second return is false when the metric is unlimited.
func (l Limits) LimitFor(m Metric) (int64, bool) {
	v, ok := l.MaxPerDay[m]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Reason tags a Decision so callers can tell quota exhaustion apart from
// service degradation and surface different messages.
type Reason string

const (
	ReasonLimitExceeded    Reason = "limit_exceeded"
	ReasonBurstExceeded    Reason = "burst_limit_exceeded"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Decision is the admission verdict for a prospective action. It is never
// persisted.
type Decision struct {
	Allowed bool `json:"allowed"`

	// Limit is the daily cap that applied, nil when the metric is unlimited
	// for the user's tier.
	Limit *int64 `json:"limit"`

	// Remaining is how much of the cap would be left once the requested
	// amount is accounted, never negative. -1 when unlimited.
	Remaining int64 `json:"remaining"`

	// ResetAt is the UTC midnight boundary at which the daily counters
	// start a fresh day.
	ResetAt time.Time `json:"reset_at"`

	// Reason is set on denials.
	Reason Reason `json:"reason,omitempty"`

	// Charged is true when the decision itself recorded the usage (strict
	// tiers). The caller must not record the same action again.
	Charged bool `json:"charged,omitempty"`
}

// DayOf truncates t to its UTC calendar day. Every component that touches
// daily counters goes through this one boundary function; the checker and
// recorder disagreeing on it would silently desynchronize quotas.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDay returns the UTC midnight strictly after the day containing t.
func NextDay(t time.Time) time.Time {
	return DayOf(t).AddDate(0, 0, 1)
}

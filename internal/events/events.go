package events

import "time"

// Stream and subject layout. All quota events go through one JetStream
// stream so downstream collaborators (billing, notifications, dashboards)
// can consume them without touching the counters.
const (
	StreamEvents = "CONVERSO_EVENTS"

	SubjectQuotaDenied    = "converso.events.quota.denied"
	SubjectUsageRecorded  = "converso.events.usage.recorded"
	SubjectRetentionSwept = "converso.events.retention.swept"
)

// QuotaDenied is emitted when an admission check denies an action.
type QuotaDenied struct {
	UserID    string    `json:"user_id"`
	Metric    string    `json:"metric"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	Tier      string    `json:"tier"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageRecorded is emitted after consumption is persisted.
type UsageRecorded struct {
	UserID    string    `json:"user_id"`
	Metric    string    `json:"metric"`
	Amount    int64     `json:"amount"`
	NewCount  int64     `json:"new_count"`
	Timestamp time.Time `json:"timestamp"`
}

// RetentionSwept summarizes one completed retention sweep.
type RetentionSwept struct {
	Scanned   int       `json:"scanned"`
	Deleted   int       `json:"deleted"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

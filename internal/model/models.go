// internal/model/models.go
package model

import (
	"database/sql"
	"time"
)

// ActivityTypeAutoCommit is the activity type written by the commit ingestion
// pipeline. Manually authored posts use other types and never pass through
// this service.
const ActivityTypeAutoCommit = "auto_commit"

// User carries the identity and streak state of one account. Streak fields
// live directly on the user row so a single atomic UPDATE can advance them.
type User struct {
	ID            int64
	Username      string
	Timezone      string
	CurrentStreak int
	LongestStreak int
	LastActiveDay sql.NullTime // civil date, time-of-day is meaningless
	StreakFrozen  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TrackedRepo binds an external repository to the (project, owning user) pair
// its pushes are attributed to. Unlinking flips Active to false; rows are
// never deleted so old activity stays attributable.
type TrackedRepo struct {
	ID               int64
	RepoFullName     string
	UserID           int64
	ProjectID        int64
	Active           bool
	HTMLURL          string
	LastBackfilledAt sql.NullTime
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DailyActivity is one row per (user, project, UTC calendar day) of ingested
// commit activity. CommitCount only grows; the timestamps widen through
// LEAST/GREATEST merges in storage.
type DailyActivity struct {
	ID             int64
	UserID         int64
	ProjectID      int64
	DateUTC        time.Time
	ActivityType   string
	CommitCount    int
	FirstCommitAt  time.Time
	LastCommitAt   time.Time
	LinkURL        string
	CommitMessages []string
	DateLocal      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeliveryRecord is the dedup row for one webhook delivery id. Insertion is
// the gate: a unique violation on DeliveryID means the event was already
// handled.
type DeliveryRecord struct {
	DeliveryID string
	EventType  string
	ReceivedAt time.Time
}

// PushCommit is one commit inside a push event, already detached from the
// provider's wire format. HasTime is false when the provider sent no
// parseable timestamp; such commits are dropped by the aggregator.
type PushCommit struct {
	SHA       string
	Message   string
	URL       string
	Timestamp time.Time
	HasTime   bool
}

// PushEvent is the internal shape of a push notification. Only the webhook
// payload parser and the backfill synthesizer produce it; everything
// downstream is wire-format agnostic.
type PushEvent struct {
	RepoFullName string
	RepoHTMLURL  string
	Commits      []PushCommit
}

// StreakState is the streak portion of a user row, as returned by the atomic
// advance statement.
type StreakState struct {
	CurrentStreak int
	LongestStreak int
	LastActiveDay sql.NullTime
	Frozen        bool
}

// StreakStatus is the derived, user-facing streak summary.
type StreakStatus struct {
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	LastActiveDay string `json:"last_active_day,omitempty"`
	Status        string `json:"status"`
	ResetImminent bool   `json:"reset_imminent"`
}

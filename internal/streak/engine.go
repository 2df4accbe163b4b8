// internal/streak/engine.go
package streak

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	app_errors "commit-streak-service/internal/errors"
	"commit-streak-service/internal/model"
)

// Querier is the slice of the storage layer the engine depends on.
// AdvanceStreak must be a single atomic statement; the engine never does
// read-modify-write on the counters.
type Querier interface {
	AdvanceStreak(ctx context.Context, userID int64, day string) (model.StreakState, bool, error)
	SetStreakFrozen(ctx context.Context, userID int64, frozen bool) error
	ResetStreakAndUnfreeze(ctx context.Context, userID int64) error
	GetUserByID(ctx context.Context, id int64) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
}

// Streak status values surfaced to the API layer.
const (
	StatusNew    = "New"
	StatusFrozen = "Frozen"
	StatusSafe   = "Safe"
	StatusAtRisk = "At Risk"
)

// Engine owns all streak transitions. The increment itself happens inside a
// single storage-side statement (Querier.AdvanceStreak); the engine adds the
// derived views and the freeze/unfreeze state machine on top.
type Engine struct {
	q      Querier
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a streak engine.
func NewEngine(q Querier, logger *slog.Logger) *Engine {
	return &Engine{
		q:      q,
		logger: logger,
		now:    time.Now,
	}
}

// RecordActivity applies one local calendar day of activity to the user's
// streak. Concurrent calls for the same user are safe: the storage statement
// is atomic and counting the same day twice is a no-op. Days older than the
// last active day (backfilled history) are dropped silently.
func (e *Engine) RecordActivity(ctx context.Context, userID int64, dateLocal string) error {
	if _, err := time.Parse(civilDateLayout, dateLocal); err != nil {
		return fmt.Errorf("invalid activity date %q: %w", dateLocal, err)
	}

	st, applied, err := e.q.AdvanceStreak(ctx, userID, dateLocal)
	if err != nil {
		return err
	}
	if !applied {
		e.logger.Debug("Activity day precedes last active day, streak unchanged",
			"user_id", userID, "date_local", dateLocal)
		return nil
	}

	e.logger.Info("Streak advanced",
		"user_id", userID, "date_local", dateLocal,
		"current_streak", st.CurrentStreak, "longest_streak", st.LongestStreak)
	return nil
}

// Freeze suspends streak-risk evaluation for the user. Idempotent; counters
// are untouched.
func (e *Engine) Freeze(ctx context.Context, userID int64) error {
	return e.q.SetStreakFrozen(ctx, userID, true)
}

// Unfreeze lifts a freeze. When the user has already missed at least one full
// day, unfreezing exposes the streak to an immediate reset, so the caller
// must pass confirmReset=true; the operation then zeroes the current streak
// and unfreezes in one step. Without confirmation it fails with
// ErrResetImminent and mutates nothing.
func (e *Engine) Unfreeze(ctx context.Context, userID int64, confirmReset bool) error {
	user, err := e.q.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if e.resetImminent(user) {
		if !confirmReset {
			return app_errors.ErrResetImminent
		}
		e.logger.Info("Unfreezing with confirmed streak reset",
			"user_id", userID, "lost_streak", user.CurrentStreak)
		return e.q.ResetStreakAndUnfreeze(ctx, userID)
	}

	return e.q.SetStreakFrozen(ctx, userID, false)
}

// Status returns the derived streak summary for a user id.
func (e *Engine) Status(ctx context.Context, userID int64) (model.StreakStatus, error) {
	user, err := e.q.GetUserByID(ctx, userID)
	if err != nil {
		return model.StreakStatus{}, err
	}
	return e.describe(user), nil
}

// StatusByUsername is Status keyed by username, for the public profile API.
func (e *Engine) StatusByUsername(ctx context.Context, username string) (model.StreakStatus, error) {
	user, err := e.q.GetUserByUsername(ctx, username)
	if err != nil {
		return model.StreakStatus{}, err
	}
	return e.describe(user), nil
}

func (e *Engine) describe(user model.User) model.StreakStatus {
	st := model.StreakStatus{
		CurrentStreak: user.CurrentStreak,
		LongestStreak: user.LongestStreak,
		ResetImminent: e.resetImminent(user),
	}
	if user.LastActiveDay.Valid {
		st.LastActiveDay = user.LastActiveDay.Time.Format(civilDateLayout)
	}

	switch {
	case !user.LastActiveDay.Valid:
		st.Status = StatusNew
	case user.StreakFrozen:
		st.Status = StatusFrozen
	case e.gapDays(user) <= 1:
		st.Status = StatusSafe
	default:
		st.Status = StatusAtRisk
	}
	return st
}

// resetImminent reports whether the next missed day zeroes the streak: the
// user has already missed at least one full local day. The frozen flag is
// deliberately ignored here; freezing hides risk from display but does not
// change the underlying gap, which is why unfreeze re-checks it.
func (e *Engine) resetImminent(user model.User) bool {
	if !user.LastActiveDay.Valid {
		return false
	}
	return e.gapDays(user) >= 2
}

// gapDays returns whole calendar days between the user's last active local
// day and local today.
func (e *Engine) gapDays(user model.User) int {
	lastActive := user.LastActiveDay.Time.Format(civilDateLayout)
	today := CivilDateInZone(e.now(), user.Timezone)
	gap, err := DaysBetween(lastActive, today)
	if err != nil {
		// last_active_day comes from a date column; this cannot happen
		// unless the row is corrupt. Treat as no gap.
		e.logger.Error("Unparseable last active day", "user_id", user.ID, "value", lastActive)
		return 0
	}
	return gap
}

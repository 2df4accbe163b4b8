// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	app_errors "commit-streak-service/internal/errors"
	"commit-streak-service/internal/model"
)

const uniqueViolationCode = "23505"

// DBTX is the subset of pgx connection behavior the store needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the pgx-backed storage layer. Each consumer package declares the
// interface slice of it that it needs; the atomicity notes on the merge and
// advance methods are part of that contract — single statements, never
// read-then-write sequences.
type Store struct {
	db DBTX
}

// New creates a Store on top of a pool or transaction.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// RecordDelivery inserts the dedup row for a webhook delivery. A unique
// violation on the delivery id returns ErrDuplicateDelivery so the caller can
// distinguish "already handled" from a real storage failure.
func (s *Store) RecordDelivery(ctx context.Context, deliveryID, eventType string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (delivery_id, event_type) VALUES ($1, $2)`,
		deliveryID, eventType,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return app_errors.ErrDuplicateDelivery
		}
		return fmt.Errorf("record delivery %s: %w", deliveryID, err)
	}
	return nil
}

// GetActiveTrackedRepo resolves a repository full name to its tracked binding.
// Matching is case-insensitive and only active rows qualify; pgx.ErrNoRows
// means the repository is not tracked.
func (s *Store) GetActiveTrackedRepo(ctx context.Context, repoFullName string) (model.TrackedRepo, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, repo_full_name, user_id, project_id, active, html_url, last_backfilled_at, created_at, updated_at
		FROM tracked_repos
		WHERE lower(repo_full_name) = lower($1) AND active`,
		repoFullName,
	)
	return scanTrackedRepo(row)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (model.User, error) {
	row := s.db.QueryRow(ctx, userSelect+` WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	row := s.db.QueryRow(ctx, userSelect+` WHERE username = $1`, username)
	return scanUser(row)
}

const userSelect = `
	SELECT id, username, timezone, current_streak, longest_streak, last_active_day, streak_frozen, created_at, updated_at
	FROM users`

// UpsertDailyActivityParams carries one UTC-day group of a push.
type UpsertDailyActivityParams struct {
	UserID         int64
	ProjectID      int64
	DateUTC        string // YYYY-MM-DD
	CommitCount    int
	FirstCommitAt  time.Time
	LastCommitAt   time.Time
	LinkURL        string
	CommitMessages []string
	DateLocal      string // YYYY-MM-DD
}

// UpsertDailyActivity merges one day group into its DailyActivity row in a
// single statement, so concurrent deliveries for the same key serialize on
// the row instead of overwriting each other. Counts add, timestamps widen,
// messages are deduplicated preserving first-seen order. date_local is
// first-write-wins: the conflict branch never touches it.
func (s *Store) UpsertDailyActivity(ctx context.Context, arg UpsertDailyActivityParams) (model.DailyActivity, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO daily_activities
			(user_id, project_id, date_utc, activity_type, commit_count, first_commit_at, last_commit_at, link_url, commit_messages, date_local)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10::date)
		ON CONFLICT (user_id, project_id, date_utc, activity_type) DO UPDATE SET
			commit_count    = daily_activities.commit_count + EXCLUDED.commit_count,
			first_commit_at = LEAST(daily_activities.first_commit_at, EXCLUDED.first_commit_at),
			last_commit_at  = GREATEST(daily_activities.last_commit_at, EXCLUDED.last_commit_at),
			link_url        = EXCLUDED.link_url,
			commit_messages = (
				SELECT COALESCE(array_agg(msg ORDER BY first_pos), '{}')
				FROM (
					SELECT t.msg, min(t.pos) AS first_pos
					FROM unnest(daily_activities.commit_messages || EXCLUDED.commit_messages)
						WITH ORDINALITY AS t(msg, pos)
					GROUP BY t.msg
				) dedup
			),
			updated_at = now()
		RETURNING id, user_id, project_id, date_utc, activity_type, commit_count, first_commit_at, last_commit_at, link_url, commit_messages, date_local, created_at, updated_at`,
		arg.UserID, arg.ProjectID, arg.DateUTC, model.ActivityTypeAutoCommit,
		arg.CommitCount, arg.FirstCommitAt, arg.LastCommitAt, arg.LinkURL,
		arg.CommitMessages, arg.DateLocal,
	)

	var a model.DailyActivity
	err := row.Scan(&a.ID, &a.UserID, &a.ProjectID, &a.DateUTC, &a.ActivityType,
		&a.CommitCount, &a.FirstCommitAt, &a.LastCommitAt, &a.LinkURL,
		&a.CommitMessages, &a.DateLocal, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.DailyActivity{}, fmt.Errorf("upsert daily activity: %w", err)
	}
	return a, nil
}

// AdvanceStreak applies one day of activity to a user's streak in a single
// statement. Same day is a no-op, the next day increments, a gap resets to 1,
// and longest_streak tracks the maximum. The WHERE guard drops days older
// than last_active_day (backfill can replay history); the returned bool
// reports whether the update applied.
func (s *Store) AdvanceStreak(ctx context.Context, userID int64, day string) (model.StreakState, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE users SET
			current_streak = CASE
				WHEN last_active_day = $2::date THEN current_streak
				WHEN last_active_day = $2::date - 1 THEN current_streak + 1
				ELSE 1
			END,
			longest_streak = GREATEST(longest_streak, CASE
				WHEN last_active_day = $2::date THEN current_streak
				WHEN last_active_day = $2::date - 1 THEN current_streak + 1
				ELSE 1
			END),
			last_active_day = $2::date,
			updated_at = now()
		WHERE id = $1 AND (last_active_day IS NULL OR last_active_day <= $2::date)
		RETURNING current_streak, longest_streak, last_active_day, streak_frozen`,
		userID, day,
	)

	var st model.StreakState
	err := row.Scan(&st.CurrentStreak, &st.LongestStreak, &st.LastActiveDay, &st.Frozen)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StreakState{}, false, nil
	}
	if err != nil {
		return model.StreakState{}, false, fmt.Errorf("advance streak for user %d: %w", userID, err)
	}
	return st, true, nil
}

// SetStreakFrozen flips the frozen flag without touching the counters.
func (s *Store) SetStreakFrozen(ctx context.Context, userID int64, frozen bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET streak_frozen = $2, updated_at = now() WHERE id = $1`,
		userID, frozen,
	)
	if err != nil {
		return fmt.Errorf("set streak_frozen for user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ResetStreakAndUnfreeze zeroes the current streak and lifts the freeze in
// one statement. longest_streak and last_active_day stay untouched.
func (s *Store) ResetStreakAndUnfreeze(ctx context.Context, userID int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET current_streak = 0, streak_frozen = false, updated_at = now() WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("reset streak for user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListReposNeedingBackfill returns active tracked repos that have never been
// backfilled.
func (s *Store) ListReposNeedingBackfill(ctx context.Context) ([]model.TrackedRepo, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, repo_full_name, user_id, project_id, active, html_url, last_backfilled_at, created_at, updated_at
		FROM tracked_repos
		WHERE active AND last_backfilled_at IS NULL
		ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list repos needing backfill: %w", err)
	}
	defer rows.Close()

	var repos []model.TrackedRepo
	for rows.Next() {
		r, err := scanTrackedRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *Store) MarkRepoBackfilled(ctx context.Context, repoID int64, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE tracked_repos SET last_backfilled_at = $2, updated_at = now() WHERE id = $1`,
		repoID, at,
	)
	if err != nil {
		return fmt.Errorf("mark repo %d backfilled: %w", repoID, err)
	}
	return nil
}

func scanTrackedRepo(row pgx.Row) (model.TrackedRepo, error) {
	var r model.TrackedRepo
	err := row.Scan(&r.ID, &r.RepoFullName, &r.UserID, &r.ProjectID, &r.Active,
		&r.HTMLURL, &r.LastBackfilledAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return model.TrackedRepo{}, err
	}
	return r, nil
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Timezone, &u.CurrentStreak,
		&u.LongestStreak, &u.LastActiveDay, &u.StreakFrozen, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

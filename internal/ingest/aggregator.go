// internal/ingest/aggregator.go
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"commit-streak-service/internal/model"
	"commit-streak-service/internal/store"
	"commit-streak-service/internal/streak"
)

const (
	// Number of UTC-day groups to merge in parallel. Pushes spanning more
	// than a couple of days only happen on backfill.
	dayGroupConcurrency = 4
)

// ActivityStore is the slice of the storage layer the aggregator depends on.
// UpsertDailyActivity must be a single atomic insert-or-merge statement.
type ActivityStore interface {
	UpsertDailyActivity(ctx context.Context, arg store.UpsertDailyActivityParams) (model.DailyActivity, error)
}

// StreakRecorder is what the aggregator needs from the streak engine.
type StreakRecorder interface {
	RecordActivity(ctx context.Context, userID int64, dateLocal string) error
}

// Aggregator converts push events into daily activity merges and streak
// advances.
type Aggregator struct {
	q       ActivityStore
	streaks StreakRecorder
	logger  *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(q ActivityStore, streaks StreakRecorder, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		q:       q,
		streaks: streaks,
		logger:  logger,
	}
}

// dayGroup is the aggregate of one push's commits on one UTC calendar day.
type dayGroup struct {
	dateUTC   string
	dateLocal string
	commits   []model.PushCommit
}

// ProcessPush merges the commits of one push into daily activity rows and
// advances the owner's streak once per touched local day. Commits without a
// parseable timestamp are dropped; an empty remainder is a silent no-op.
// Failures are contained per day group: one failing merge is logged and
// skipped, the remaining groups still land.
//
// The upserts are independent rows and run concurrently, but the streak
// advances happen afterwards, sequentially and in ascending day order: the
// storage-side advance drops any day older than one already recorded, so
// letting a later day race ahead would silently swallow the earlier days of
// a multi-day push.
func (a *Aggregator) ProcessPush(ctx context.Context, repo model.TrackedRepo, timezone string, push model.PushEvent) error {
	logger := a.logger.With("repo", repo.RepoFullName, "user_id", repo.UserID, "project_id", repo.ProjectID)

	groups := groupByUTCDay(push, timezone)
	if len(groups) == 0 {
		logger.Debug("Push carried no commits with parseable timestamps, nothing to ingest")
		return nil
	}

	merged := make([]bool, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dayGroupConcurrency)

	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := a.upsertDayGroup(gctx, repo, push, group); err != nil {
				// Skip this group, keep the rest. The provider cannot fix a
				// storage failure by retrying, so it never sees it.
				logger.Error("Failed to merge day group",
					"date_utc", group.dateUTC, "commit_count", len(group.commits), "error", err)
				return nil
			}
			merged[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// groups is already sorted ascending by UTC day, and local dates are
	// nondecreasing along it.
	for i, group := range groups {
		if !merged[i] {
			continue
		}
		if err := a.streaks.RecordActivity(ctx, repo.UserID, group.dateLocal); err != nil {
			logger.Error("Failed to record streak activity",
				"date_local", group.dateLocal, "error", err)
		}
	}
	return nil
}

// upsertDayGroup merges one day group into its daily activity row.
func (a *Aggregator) upsertDayGroup(ctx context.Context, repo model.TrackedRepo, push model.PushEvent, group dayGroup) error {
	messages := make([]string, 0, len(group.commits))
	for _, c := range group.commits {
		messages = append(messages, firstLine(c.Message))
	}

	_, err := a.q.UpsertDailyActivity(ctx, store.UpsertDailyActivityParams{
		UserID:         repo.UserID,
		ProjectID:      repo.ProjectID,
		DateUTC:        group.dateUTC,
		CommitCount:    len(group.commits),
		FirstCommitAt:  group.commits[0].Timestamp,
		LastCommitAt:   group.commits[len(group.commits)-1].Timestamp,
		LinkURL:        representativeLink(push, group.commits),
		CommitMessages: messages,
		DateLocal:      group.dateLocal,
	})
	return err
}

// groupByUTCDay buckets a push's commits by UTC calendar day. Commits inside
// each bucket are sorted by timestamp; each bucket's local date is derived
// from its earliest commit in the owner's time zone.
func groupByUTCDay(push model.PushEvent, timezone string) []dayGroup {
	byDay := make(map[string][]model.PushCommit)
	for _, c := range push.Commits {
		if !c.HasTime {
			continue
		}
		day := streak.CivilDateUTC(c.Timestamp)
		byDay[day] = append(byDay[day], c)
	}

	groups := make([]dayGroup, 0, len(byDay))
	for day, commits := range byDay {
		sort.Slice(commits, func(i, j int) bool {
			return commits[i].Timestamp.Before(commits[j].Timestamp)
		})
		groups = append(groups, dayGroup{
			dateUTC:   day,
			dateLocal: streak.CivilDateInZone(commits[0].Timestamp, timezone),
			commits:   commits,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].dateUTC < groups[j].dateUTC })
	return groups
}

// firstLine truncates a commit message at its first newline.
func firstLine(message string) string {
	if line, _, found := strings.Cut(message, "\n"); found {
		return strings.TrimRight(line, "\r")
	}
	return message
}

// representativeLink picks the activity link: the commit itself when the day
// group holds exactly one, otherwise a compare view over the group's range.
func representativeLink(push model.PushEvent, commits []model.PushCommit) string {
	if len(commits) == 1 {
		return commits[0].URL
	}
	if push.RepoHTMLURL != "" {
		return fmt.Sprintf("%s/compare/%s...%s", push.RepoHTMLURL, commits[0].SHA, commits[len(commits)-1].SHA)
	}
	return commits[len(commits)-1].URL
}

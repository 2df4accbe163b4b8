// internal/backfill/backfill.go
package backfill

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"commit-streak-service/internal/model"
)

// Querier is the slice of the storage layer the backfiller depends on.
type Querier interface {
	ListReposNeedingBackfill(ctx context.Context) ([]model.TrackedRepo, error)
	GetUserByID(ctx context.Context, id int64) (model.User, error)
	MarkRepoBackfilled(ctx context.Context, repoID int64, at time.Time) error
}

const (
	// Number of repositories to backfill in parallel
	concurrency = 5
)

// CommitSource streams a repository's commit history from the provider in
// chunks, oldest first.
type CommitSource interface {
	ListCommitsSince(ctx context.Context, repoFullName string, since time.Time, fn func(commits []model.PushCommit) error) error
}

// Ingester feeds fetched history through the same aggregation path as live
// webhook pushes.
type Ingester interface {
	ProcessPush(ctx context.Context, repo model.TrackedRepo, timezone string, push model.PushEvent) error
}

// Backfiller pulls historical commits for newly linked repositories.
// Webhooks only cover pushes after linking; this closes the gap. Backfill
// runs without delivery ids, so it leans entirely on the day-keyed merge and
// the idempotent per-day streak advance for its at-least-once safety.
type Backfiller struct {
	q            Querier
	source       CommitSource
	ingester     Ingester
	logger       *slog.Logger
	interval     time.Duration
	defaultSince time.Time
}

// New creates a Backfiller.
func New(q Querier, source CommitSource, ingester Ingester, logger *slog.Logger, interval time.Duration, defaultSince time.Time) *Backfiller {
	return &Backfiller{
		q:            q,
		source:       source,
		ingester:     ingester,
		logger:       logger,
		interval:     interval,
		defaultSince: defaultSince,
	}
}

// Start begins the continuous backfill process.
func (b *Backfiller) Start(ctx context.Context) {
	b.logger.Info("Starting backfiller", "interval", b.interval.String(), "concurrency", concurrency)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.runCycle(ctx) // Initial pass

	for {
		select {
		case <-ticker.C:
			b.runCycle(ctx)
		case <-ctx.Done():
			b.logger.Info("Backfiller shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runCycle backfills every pending repository concurrently. A failing repo is
// logged and retried next cycle; it never stops the others.
func (b *Backfiller) runCycle(ctx context.Context) {
	repos, err := b.q.ListReposNeedingBackfill(ctx)
	if err != nil {
		b.logger.Error("Failed to list repositories needing backfill", "error", err)
		return
	}
	if len(repos) == 0 {
		return
	}
	b.logger.Info("Starting backfill cycle", "repos", len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := b.backfillRepo(gctx, repo)
			if err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error("Failed to backfill repository", "repo", repo.RepoFullName, "error", err)
			}
			return nil
		})
	}

	g.Wait()
	b.logger.Info("Backfill cycle finished")
}

// backfillRepo streams a repository's history through the aggregator, one
// provider page per synthetic push event. Chunks arrive oldest first, which
// the streak advance requires; a repository's full history is never held in
// memory at once.
func (b *Backfiller) backfillRepo(ctx context.Context, repo model.TrackedRepo) error {
	logger := b.logger.With("repo", repo.RepoFullName, "user_id", repo.UserID)
	logger.Info("Backfilling repository", "since", b.defaultSince.Format(time.RFC3339))

	user, err := b.q.GetUserByID(ctx, repo.UserID)
	if err != nil {
		return err
	}

	total := 0
	err = b.source.ListCommitsSince(ctx, repo.RepoFullName, b.defaultSince, func(commits []model.PushCommit) error {
		push := model.PushEvent{
			RepoFullName: repo.RepoFullName,
			RepoHTMLURL:  repo.HTMLURL,
			Commits:      commits,
		}
		if err := b.ingester.ProcessPush(ctx, repo, user.Timezone, push); err != nil {
			return err
		}
		total += len(commits)
		return nil
	})
	if err != nil {
		return err
	}

	if total > 0 {
		logger.Info("Backfilled commits", "count", total)
	} else {
		logger.Info("No historical commits found")
	}

	return b.q.MarkRepoBackfilled(ctx, repo.ID, time.Now())
}

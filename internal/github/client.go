// internal/github/client.go
package github

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	app_errors "commit-streak-service/internal/errors"
	"commit-streak-service/internal/model"
)

// Client is a wrapper around the go-github client, used by the backfiller to
// pull historical commits for newly linked repositories.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// ListCommitsSince streams a repository's commits since a given time to fn,
// one API page at a time, translated into the internal push-commit shape.
// Pages are delivered oldest first and each page's commits are in ascending
// timestamp order, so a consumer can feed them straight into streak-advancing
// ingestion. Only one page is held in memory at a time; a busy repository's
// full history never materializes as one slice.
func (c *Client) ListCommitsSince(ctx context.Context, repoFullName string, since time.Time, fn func(commits []model.PushCommit) error) error {
	owner, name, err := SplitFullName(repoFullName)
	if err != nil {
		return err
	}

	opts := &github.CommitsListOptions{
		Since: since,
		ListOptions: github.ListOptions{
			PerPage: 100, // Max per page
		},
	}

	// The provider lists commits newest first. The first request tells us the
	// last page; walking pages backwards from there yields oldest first.
	commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)
	if err != nil {
		return err
	}
	if resp.LastPage == 0 {
		if len(commits) == 0 {
			return nil
		}
		return fn(toPushCommitsOldestFirst(commits))
	}

	for page := resp.LastPage; page >= 1; page-- {
		c.logger.Debug("Fetching commits page", "owner", owner, "repo", name, "page", page)

		opts.Page = page
		commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return err
		}
		if len(commits) == 0 {
			continue
		}
		if err := fn(toPushCommitsOldestFirst(commits)); err != nil {
			return err
		}
	}
	return nil
}

// SplitFullName splits "owner/name" into its parts.
func SplitFullName(fullName string) (owner, name string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &app_errors.ErrInvalidRepoFormat{Repo: fullName}
	}
	return parts[0], parts[1], nil
}

// toPushCommitsOldestFirst reverses one newest-first API page into ascending
// timestamp order.
func toPushCommitsOldestFirst(commits []*github.RepositoryCommit) []model.PushCommit {
	out := make([]model.PushCommit, 0, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		out = append(out, toPushCommit(commits[i]))
	}
	return out
}

// toPushCommit translates a github.RepositoryCommit into the internal
// model.PushCommit. A commit with no author date comes back with
// HasTime=false and is dropped later by the aggregator.
func toPushCommit(c *github.RepositoryCommit) model.PushCommit {
	pc := model.PushCommit{
		SHA:     c.GetSHA(),
		Message: c.GetCommit().GetMessage(),
		URL:     c.GetHTMLURL(),
	}
	date := c.GetCommit().GetAuthor().GetDate()
	if !date.Time.IsZero() {
		pc.Timestamp = date.Time
		pc.HasTime = true
	}
	return pc
}

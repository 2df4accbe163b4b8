// internal/backfill/backfill_test.go
package backfill

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"commit-streak-service/internal/model"
)

// MockQuerier is a mock of the backfill.Querier interface.
type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) ListReposNeedingBackfill(ctx context.Context) ([]model.TrackedRepo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.TrackedRepo), args.Error(1)
}
func (m *MockQuerier) GetUserByID(ctx context.Context, id int64) (model.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.User), args.Error(1)
}
func (m *MockQuerier) MarkRepoBackfilled(ctx context.Context, repoID int64, at time.Time) error {
	args := m.Called(ctx, repoID, at)
	return args.Error(0)
}

// fakeCommitSource replays canned history pages through the stream callback.
type fakeCommitSource struct {
	pages [][]model.PushCommit
	err   error
	calls int
}

func (f *fakeCommitSource) ListCommitsSince(ctx context.Context, repoFullName string, since time.Time, fn func(commits []model.PushCommit) error) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, page := range f.pages {
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// MockIngester is a mock of the Ingester interface.
type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) ProcessPush(ctx context.Context, repo model.TrackedRepo, timezone string, push model.PushEvent) error {
	args := m.Called(ctx, repo, timezone, push)
	return args.Error(0)
}

func newTestBackfiller(q Querier, source CommitSource, ingester Ingester, since time.Time) *Backfiller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(q, source, ingester, logger, time.Hour, since)
}

func historyCommit(sha, ts string) model.PushCommit {
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return model.PushCommit{SHA: sha, Message: "historic work", Timestamp: parsed, HasTime: true}
}

func TestBackfillCycle(t *testing.T) {
	ctx := context.Background()
	since := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	repo := model.TrackedRepo{ID: 1, RepoFullName: "octo/demo", UserID: 7, ProjectID: 42,
		HTMLURL: "https://example.com/octo/demo", Active: true}

	t.Run("streams history pages through the aggregator in order and marks the repo done", func(t *testing.T) {
		mockQ := new(MockQuerier)
		source := &fakeCommitSource{pages: [][]model.PushCommit{
			{historyCommit("old", "2023-06-01T10:00:00Z")},
			{historyCommit("new", "2023-07-01T10:00:00Z")},
		}}
		mockIngester := new(MockIngester)
		b := newTestBackfiller(mockQ, source, mockIngester, since)

		mockQ.On("ListReposNeedingBackfill", mock.Anything).Return([]model.TrackedRepo{repo}, nil).Once()
		mockQ.On("GetUserByID", mock.Anything, int64(7)).Return(model.User{ID: 7, Timezone: "UTC"}, nil).Once()

		var ingested []string
		mockIngester.On("ProcessPush", mock.Anything, repo, "UTC", mock.Anything).
			Run(func(args mock.Arguments) {
				push := args.Get(3).(model.PushEvent)
				for _, c := range push.Commits {
					ingested = append(ingested, c.SHA)
				}
			}).Return(nil).Twice()
		mockQ.On("MarkRepoBackfilled", mock.Anything, int64(1), mock.Anything).Return(nil).Once()

		b.runCycle(ctx)

		mockQ.AssertExpectations(t)
		mockIngester.AssertExpectations(t)
		// Oldest page first, so the streak advance never sees stale days.
		assert.Equal(t, []string{"old", "new"}, ingested)
	})

	t.Run("marks an empty repo done without ingesting", func(t *testing.T) {
		mockQ := new(MockQuerier)
		source := &fakeCommitSource{}
		mockIngester := new(MockIngester)
		b := newTestBackfiller(mockQ, source, mockIngester, since)

		mockQ.On("ListReposNeedingBackfill", mock.Anything).Return([]model.TrackedRepo{repo}, nil).Once()
		mockQ.On("GetUserByID", mock.Anything, int64(7)).Return(model.User{ID: 7, Timezone: "UTC"}, nil).Once()
		mockQ.On("MarkRepoBackfilled", mock.Anything, int64(1), mock.Anything).Return(nil).Once()

		b.runCycle(ctx)

		mockQ.AssertExpectations(t)
		mockIngester.AssertNotCalled(t, "ProcessPush")
	})

	t.Run("a failing repo is retried next cycle, not marked done", func(t *testing.T) {
		mockQ := new(MockQuerier)
		source := &fakeCommitSource{err: errors.New("provider unavailable")}
		mockIngester := new(MockIngester)
		b := newTestBackfiller(mockQ, source, mockIngester, since)

		mockQ.On("ListReposNeedingBackfill", mock.Anything).Return([]model.TrackedRepo{repo}, nil).Once()
		mockQ.On("GetUserByID", mock.Anything, int64(7)).Return(model.User{ID: 7, Timezone: "UTC"}, nil).Once()

		b.runCycle(ctx)

		mockQ.AssertNotCalled(t, "MarkRepoBackfilled")
	})

	t.Run("an ingest failure mid-stream stops the repo without marking it done", func(t *testing.T) {
		mockQ := new(MockQuerier)
		source := &fakeCommitSource{pages: [][]model.PushCommit{
			{historyCommit("old", "2023-06-01T10:00:00Z")},
			{historyCommit("new", "2023-07-01T10:00:00Z")},
		}}
		mockIngester := new(MockIngester)
		b := newTestBackfiller(mockQ, source, mockIngester, since)

		mockQ.On("ListReposNeedingBackfill", mock.Anything).Return([]model.TrackedRepo{repo}, nil).Once()
		mockQ.On("GetUserByID", mock.Anything, int64(7)).Return(model.User{ID: 7, Timezone: "UTC"}, nil).Once()
		mockIngester.On("ProcessPush", mock.Anything, repo, "UTC", mock.Anything).
			Return(errors.New("storage gone")).Once()

		b.runCycle(ctx)

		mockIngester.AssertNumberOfCalls(t, "ProcessPush", 1)
		mockQ.AssertNotCalled(t, "MarkRepoBackfilled")
	})

	t.Run("list failure aborts the cycle quietly", func(t *testing.T) {
		mockQ := new(MockQuerier)
		source := &fakeCommitSource{}
		mockIngester := new(MockIngester)
		b := newTestBackfiller(mockQ, source, mockIngester, since)

		mockQ.On("ListReposNeedingBackfill", mock.Anything).
			Return([]model.TrackedRepo{}, errors.New("db down")).Once()

		b.runCycle(ctx)

		assert.Zero(t, source.calls)
	})
}

// Package syncer refreshes review snapshots from the data provider and
// propagates changes to the underlying pull request records.
package syncer

import (
	"context"
	"log/slog"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
	"github.com/klauern/pr-pal-sub000/internal/live"
	"github.com/klauern/pr-pal-sub000/internal/models"
	"github.com/klauern/pr-pal-sub000/internal/provider"
	"github.com/klauern/pr-pal-sub000/internal/store"
)

type Orchestrator struct {
	store *store.Queries
	hub   *live.Hub
}

func New(q *store.Queries, hub *live.Hub) *Orchestrator {
	return &Orchestrator{store: q, hub: hub}
}

// SyncReview refreshes one review's cached snapshot. A review already in
// the syncing state is left alone (overlapping syncs are no-ops). On
// success the review moves to completed with fresh title/url/diff and the
// linked pull request mirrors the provider fields; on failure the review
// moves to failed and the error is returned for the caller to surface or
// swallow.
func (o *Orchestrator) SyncReview(ctx context.Context, rev *models.Review, p provider.DataProvider) error {
	started, err := o.store.TryStartReviewSync(rev.ID)
	if err != nil {
		return err
	}
	if !started {
		return nil
	}
	o.publishStatus(rev.ID, models.SyncSyncing)

	details, err := p.FetchPRDetails(ctx, rev.RepoOwner, rev.RepoName, rev.PRNumber)
	if err != nil {
		return o.fail(rev.ID, err)
	}
	diff, err := p.FetchPRDiff(ctx, rev.RepoOwner, rev.RepoName, rev.PRNumber)
	if err != nil {
		return o.fail(rev.ID, err)
	}

	if rev.PullRequestID != 0 {
		mirror := models.PullRequest{
			Title:             details.Title,
			Body:              details.Body,
			State:             details.State,
			Author:            details.Author,
			URL:               details.URL,
			CIStatus:          details.CIStatus,
			ExternalUpdatedAt: details.UpdatedAt,
		}
		if err := o.store.UpdatePullRequestFromSync(rev.PullRequestID, mirror); err != nil {
			return o.fail(rev.ID, err)
		}
	}

	if err := o.store.CompleteReviewSync(rev.ID, details.Title, details.URL, diff); err != nil {
		return o.fail(rev.ID, err)
	}
	o.publishStatus(rev.ID, models.SyncCompleted)
	return nil
}

// SyncReviewBackground is the job-queue entry point: it reloads the review
// (state may have changed since enqueue) and logs failures instead of
// propagating them. Retry is left to the next auto-sync trigger.
func (o *Orchestrator) SyncReviewBackground(ctx context.Context, reviewID int64, p provider.DataProvider) {
	rev, err := o.store.GetReviewAny(reviewID)
	if err != nil {
		if !apperr.IsNotFound(err) {
			slog.Error("loading review for background sync", "review_id", reviewID, "error", err)
		}
		return
	}
	if err := o.SyncReview(ctx, rev, p); err != nil {
		slog.Error("background sync failed", "review_id", reviewID, "error", err)
	}
}

// SyncRepository pulls the provider's open pull request list, upserts a
// review per item and archives reviews whose pull request has disappeared.
// This runs outside any per-review sync lock; a concurrent per-review sync
// is a known, accepted race at this usage scale.
func (o *Orchestrator) SyncRepository(ctx context.Context, repo *models.Repository, p provider.DataProvider) error {
	prs, err := p.FetchRepositoryPullRequests(ctx, repo.Owner, repo.Name)
	if err != nil {
		return err
	}

	seen := make(map[int]bool, len(prs))
	for _, data := range prs {
		seen[data.Number] = true

		pr, err := o.store.FindOrCreatePullRequest(repo.ID, data.Number, data.Title, data.Author)
		if err != nil {
			return err
		}
		mirror := models.PullRequest{
			Title:             data.Title,
			Body:              data.Body,
			State:             data.State,
			Author:            data.Author,
			URL:               data.URL,
			CIStatus:          data.CIStatus,
			ExternalUpdatedAt: data.UpdatedAt,
		}
		if err := o.store.UpdatePullRequestFromSync(pr.ID, mirror); err != nil {
			return err
		}

		rev, err := o.store.GetReviewByNumber(repo.ID, data.Number)
		if apperr.IsNotFound(err) {
			rev, err = o.store.CreateReview(repo.UserID, repo.ID, pr.ID, data.Number)
		}
		if err != nil {
			return err
		}
		if err := o.store.UpdateReviewSnapshot(rev.ID, data.Title, data.URL); err != nil {
			return err
		}
	}

	open, err := o.store.ListOpenReviewsByRepository(repo.ID)
	if err != nil {
		return err
	}
	for _, rev := range open {
		if seen[rev.PRNumber] {
			continue
		}
		if err := o.store.SetReviewStatus(rev.ID, models.StatusArchived); err != nil {
			return err
		}
		if err := o.store.SetPullRequestState(rev.PullRequestID, models.PRStateClosed); err != nil {
			return err
		}
	}
	return nil
}

// publishStatus is fire and forget; a notification failure must never fail
// the sync, and Hub.Publish upholds that by construction.
func (o *Orchestrator) publishStatus(reviewID int64, status string) {
	o.hub.Publish(live.Event{Type: live.EventSyncStatus, ReviewID: reviewID, SyncStatus: status})
}

func (o *Orchestrator) fail(reviewID int64, cause error) error {
	if err := o.store.FailReviewSync(reviewID); err != nil {
		slog.Error("recording sync failure", "review_id", reviewID, "error", err)
	}
	o.publishStatus(reviewID, models.SyncFailed)
	return cause
}

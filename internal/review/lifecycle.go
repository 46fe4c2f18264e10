// Package review owns the lifecycle of a pull request review: creation
// against the underlying pull request record, status transitions and the
// staleness signals that drive auto-sync.
package review

import (
	"strings"
	"time"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
	"github.com/klauern/pr-pal-sub000/internal/models"
	"github.com/klauern/pr-pal-sub000/internal/store"
)

const (
	// autoSyncAfter is how old a successful sync may get before the next
	// dashboard load schedules a refresh.
	autoSyncAfter = 15 * time.Minute
	// staleAfter is the coarser signal shown to the user.
	staleAfter = time.Hour
)

type Service struct {
	store *store.Queries
	now   func() time.Time
}

func NewService(q *store.Queries) *Service {
	return &Service{store: q, now: time.Now}
}

// CreateParams identifies the pull request a review is opened against.
// Title and Author are optional metadata; absent values get provider
// defaults (state "open", author "unknown").
type CreateParams struct {
	Owner    string
	Repo     string
	PRNumber int
	Title    string
	Author   string
}

// Create opens a review for the pull request, creating the repository and
// pull request records on first reference. Opening an already-reviewed pull
// request returns the existing review (idempotent upsert).
func (s *Service) Create(userID int64, p CreateParams) (*models.Review, error) {
	p.Owner = strings.TrimSpace(p.Owner)
	p.Repo = strings.TrimSpace(p.Repo)
	if p.Owner == "" {
		return nil, apperr.Validation("owner", "is required")
	}
	if p.Repo == "" {
		return nil, apperr.Validation("repo", "is required")
	}
	if p.PRNumber <= 0 {
		return nil, apperr.Validation("pr_number", "must be a positive integer")
	}

	repo, err := s.store.FindOrCreateRepository(userID, p.Owner, p.Repo)
	if err != nil {
		return nil, err
	}
	pr, err := s.store.FindOrCreatePullRequest(repo.ID, p.PRNumber, p.Title, p.Author)
	if err != nil {
		return nil, err
	}

	rev, err := s.store.CreateReview(userID, repo.ID, pr.ID, p.PRNumber)
	if apperr.IsConflict(err) {
		return s.store.GetReviewByNumber(repo.ID, p.PRNumber)
	}
	return rev, err
}

// MarkViewed stamps last_viewed_at. Status is untouched.
func (s *Service) MarkViewed(userID, id int64) error {
	if _, err := s.store.GetReview(userID, id); err != nil {
		return err
	}
	return s.store.MarkReviewViewed(id)
}

// MarkCompleted sets status to completed. Irreversible through this
// interface; repeating the call is a harmless no-op.
func (s *Service) MarkCompleted(userID, id int64) error {
	if _, err := s.store.GetReview(userID, id); err != nil {
		return err
	}
	return s.store.SetReviewStatus(id, models.StatusCompleted)
}

// Archive moves the review to the archived terminal state.
func (s *Service) Archive(userID, id int64) error {
	if _, err := s.store.GetReview(userID, id); err != nil {
		return err
	}
	return s.store.SetReviewStatus(id, models.StatusArchived)
}

// UpdateContextSummary replaces the free-text focus the user supplies for
// LLM prompts.
func (s *Service) UpdateContextSummary(userID, id int64, summary string) error {
	if _, err := s.store.GetReview(userID, id); err != nil {
		return err
	}
	return s.store.UpdateReviewContextSummary(id, summary)
}

// NeedsAutoSync reports whether a dashboard load should schedule a
// background refresh: never while a sync is running, otherwise when the
// review has not synced successfully in the last 15 minutes.
func (s *Service) NeedsAutoSync(r *models.Review) bool {
	if r.SyncStatus == models.SyncSyncing {
		return false
	}
	return r.LastSyncedAt == nil || s.now().Sub(*r.LastSyncedAt) > autoSyncAfter
}

// IsStale is the coarser one-hour staleness signal.
func (s *Service) IsStale(r *models.Review) bool {
	return r.LastSyncedAt == nil || s.now().Sub(*r.LastSyncedAt) > staleAfter
}

package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
	"github.com/klauern/pr-pal-sub000/internal/models"
)

const reviewColumns = `v.id, v.user_id, v.repository_id, v.pull_request_id, v.pr_number,
	v.status, v.sync_status, v.last_synced_at, v.last_viewed_at,
	v.title, v.url, v.diff, v.context_summary, v.created_at, v.updated_at,
	r.owner, r.name,
	(SELECT COUNT(*) FROM messages WHERE review_id = v.id)`

func scanReview(scan func(dest ...any) error) (*models.Review, error) {
	v := &models.Review{}
	var lastSyncedAt, lastViewedAt sql.NullString
	var createdAt, updatedAt string
	err := scan(&v.ID, &v.UserID, &v.RepositoryID, &v.PullRequestID, &v.PRNumber,
		&v.Status, &v.SyncStatus, &lastSyncedAt, &lastViewedAt,
		&v.Title, &v.URL, &v.Diff, &v.ContextSummary, &createdAt, &updatedAt,
		&v.RepoOwner, &v.RepoName, &v.MessageCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("review")
		}
		return nil, fmt.Errorf("scanning review: %w", err)
	}
	v.LastSyncedAt = parseNullTime(lastSyncedAt)
	v.LastViewedAt = parseNullTime(lastViewedAt)
	v.CreatedAt = parseTime(createdAt)
	v.UpdatedAt = parseTime(updatedAt)
	return v, nil
}

func (q *Queries) CreateReview(userID, repositoryID, pullRequestID int64, prNumber int) (*models.Review, error) {
	res, err := q.db.Exec(
		`INSERT INTO reviews (user_id, repository_id, pull_request_id, pr_number) VALUES (?, ?, ?, ?)`,
		userID, repositoryID, pullRequestID, prNumber,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, apperr.Conflict("review already exists for this pull request")
		}
		return nil, fmt.Errorf("creating review: %w", err)
	}
	id, _ := res.LastInsertId()
	return q.getReview(`v.id = ?`, id)
}

func (q *Queries) getReview(where string, args ...any) (*models.Review, error) {
	row := q.db.QueryRow(
		`SELECT `+reviewColumns+`
		 FROM reviews v JOIN repositories r ON r.id = v.repository_id
		 WHERE `+where, args...,
	)
	return scanReview(row.Scan)
}

// GetReview is user-scoped: a review belonging to another user reads as
// not found.
func (q *Queries) GetReview(userID, id int64) (*models.Review, error) {
	return q.getReview(`v.id = ? AND v.user_id = ?`, id, userID)
}

// GetReviewAny loads a review without tenant scoping. Background jobs use it
// after the enqueueing request already checked ownership.
func (q *Queries) GetReviewAny(id int64) (*models.Review, error) {
	return q.getReview(`v.id = ?`, id)
}

func (q *Queries) GetReviewByNumber(repositoryID int64, prNumber int) (*models.Review, error) {
	return q.getReview(`v.repository_id = ? AND v.pr_number = ?`, repositoryID, prNumber)
}

func (q *Queries) ListReviews(userID int64) ([]models.Review, error) {
	return q.listReviews(`v.user_id = ?`, userID)
}

func (q *Queries) ListOpenReviewsByRepository(repositoryID int64) ([]models.Review, error) {
	return q.listReviews(`v.repository_id = ? AND v.status = 'in_progress'`, repositoryID)
}

func (q *Queries) listReviews(where string, args ...any) ([]models.Review, error) {
	rows, err := q.db.Query(
		`SELECT `+reviewColumns+`
		 FROM reviews v JOIN repositories r ON r.id = v.repository_id
		 WHERE `+where+`
		 ORDER BY v.updated_at DESC, v.id DESC`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var results []models.Review
	for rows.Next() {
		v, err := scanReview(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, *v)
	}
	return results, rows.Err()
}

// TryStartReviewSync transitions sync_status to syncing unless a sync is
// already running. Returns false when the review was already syncing, which
// makes concurrent sync attempts no-ops.
func (q *Queries) TryStartReviewSync(id int64) (bool, error) {
	res, err := q.db.Exec(
		`UPDATE reviews SET sync_status = 'syncing', updated_at = datetime('now')
		 WHERE id = ? AND sync_status != 'syncing'`, id,
	)
	if err != nil {
		return false, fmt.Errorf("starting review sync: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (q *Queries) CompleteReviewSync(id int64, title, url, diff string) error {
	_, err := q.db.Exec(
		`UPDATE reviews
		 SET sync_status = 'completed', title = ?, url = ?, diff = ?,
		     last_synced_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = ?`,
		title, url, diff, id,
	)
	if err != nil {
		return fmt.Errorf("completing review sync: %w", err)
	}
	return nil
}

// UpdateReviewSnapshot refreshes the cached title/url without touching the
// sync state machine. Repository-level sync uses it; a review's own diff
// still arrives through its next full sync.
func (q *Queries) UpdateReviewSnapshot(id int64, title, url string) error {
	_, err := q.db.Exec(
		`UPDATE reviews SET title = ?, url = ?, updated_at = datetime('now') WHERE id = ?`,
		title, url, id,
	)
	if err != nil {
		return fmt.Errorf("updating review snapshot: %w", err)
	}
	return nil
}

func (q *Queries) FailReviewSync(id int64) error {
	_, err := q.db.Exec(
		`UPDATE reviews SET sync_status = 'failed', updated_at = datetime('now') WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("failing review sync: %w", err)
	}
	return nil
}

func (q *Queries) MarkReviewViewed(id int64) error {
	_, err := q.db.Exec(
		`UPDATE reviews SET last_viewed_at = datetime('now') WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("marking review viewed: %w", err)
	}
	return nil
}

func (q *Queries) SetReviewStatus(id int64, status string) error {
	_, err := q.db.Exec(
		`UPDATE reviews SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("setting review status: %w", err)
	}
	return nil
}

func (q *Queries) UpdateReviewContextSummary(id int64, summary string) error {
	_, err := q.db.Exec(
		`UPDATE reviews SET context_summary = ?, updated_at = datetime('now') WHERE id = ?`,
		summary, id,
	)
	if err != nil {
		return fmt.Errorf("updating review context summary: %w", err)
	}
	return nil
}

func (q *Queries) DeleteReview(userID, id int64) error {
	res, err := q.db.Exec(`DELETE FROM reviews WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("review")
	}
	return nil
}

// ReviewExists reports whether the review id exists and belongs to the user.
// Tab cleanup uses it to drop orphaned entries.
func (q *Queries) ReviewExists(userID, id int64) (bool, error) {
	var n int
	err := q.db.QueryRow(
		`SELECT COUNT(*) FROM reviews WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking review existence: %w", err)
	}
	return n > 0, nil
}

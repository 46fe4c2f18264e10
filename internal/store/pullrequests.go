package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
	"github.com/klauern/pr-pal-sub000/internal/models"
)

const pullRequestColumns = `id, repository_id, number, title, body, state, author, url, ci_status, external_updated_at, created_at, updated_at`

func scanPullRequest(row *sql.Row) (*models.PullRequest, error) {
	pr := &models.PullRequest{}
	var extUpdatedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&pr.ID, &pr.RepositoryID, &pr.Number, &pr.Title, &pr.Body, &pr.State,
		&pr.Author, &pr.URL, &pr.CIStatus, &extUpdatedAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("pull request")
		}
		return nil, fmt.Errorf("scanning pull request: %w", err)
	}
	pr.ExternalUpdatedAt = parseNullTime(extUpdatedAt)
	pr.CreatedAt = parseTime(createdAt)
	pr.UpdatedAt = parseTime(updatedAt)
	return pr, nil
}

// FindOrCreatePullRequest returns the repository's pull request record for
// the external number, creating it with provider defaults when absent.
func (q *Queries) FindOrCreatePullRequest(repositoryID int64, number int, title, author string) (*models.PullRequest, error) {
	if author == "" {
		author = "unknown"
	}
	_, err := q.db.Exec(
		`INSERT INTO pull_requests (repository_id, number, title, author) VALUES (?, ?, ?, ?)
		 ON CONFLICT(repository_id, number) DO NOTHING`,
		repositoryID, number, title, author,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting pull request: %w", err)
	}
	return q.GetPullRequestByNumber(repositoryID, number)
}

func (q *Queries) GetPullRequest(id int64) (*models.PullRequest, error) {
	return scanPullRequest(q.db.QueryRow(
		`SELECT `+pullRequestColumns+` FROM pull_requests WHERE id = ?`, id,
	))
}

func (q *Queries) GetPullRequestByNumber(repositoryID int64, number int) (*models.PullRequest, error) {
	return scanPullRequest(q.db.QueryRow(
		`SELECT `+pullRequestColumns+` FROM pull_requests WHERE repository_id = ? AND number = ?`,
		repositoryID, number,
	))
}

// UpdatePullRequestFromSync mirrors provider fields onto the record.
func (q *Queries) UpdatePullRequestFromSync(id int64, pr models.PullRequest) error {
	_, err := q.db.Exec(
		`UPDATE pull_requests
		 SET title = ?, body = ?, state = ?, author = ?, url = ?, ci_status = ?,
		     external_updated_at = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		pr.Title, pr.Body, pr.State, pr.Author, pr.URL, pr.CIStatus,
		formatNullTime(pr.ExternalUpdatedAt), id,
	)
	if err != nil {
		return fmt.Errorf("updating pull request: %w", err)
	}
	return nil
}

func (q *Queries) SetPullRequestState(id int64, state string) error {
	_, err := q.db.Exec(
		`UPDATE pull_requests SET state = ?, updated_at = datetime('now') WHERE id = ?`,
		state, id,
	)
	if err != nil {
		return fmt.Errorf("setting pull request state: %w", err)
	}
	return nil
}

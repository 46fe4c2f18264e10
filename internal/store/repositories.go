package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
	"github.com/klauern/pr-pal-sub000/internal/models"
)

func (q *Queries) ListRepositories(userID int64) ([]models.Repository, error) {
	rows, err := q.db.Query(
		`SELECT r.id, r.user_id, r.owner, r.name, r.created_at, r.updated_at,
		        (SELECT COUNT(*) FROM reviews WHERE repository_id = r.id) AS review_count
		 FROM repositories r
		 WHERE r.user_id = ?
		 ORDER BY r.owner ASC, r.name ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var results []models.Repository
	for rows.Next() {
		var r models.Repository
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Owner, &r.Name, &createdAt, &updatedAt, &r.ReviewCount); err != nil {
			return nil, fmt.Errorf("scanning repository: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

// FindOrCreateRepository returns the user's (owner, name) repository,
// creating it on first reference.
func (q *Queries) FindOrCreateRepository(userID int64, owner, name string) (*models.Repository, error) {
	_, err := q.db.Exec(
		`INSERT INTO repositories (user_id, owner, name) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, owner, name) DO NOTHING`,
		userID, owner, name,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting repository: %w", err)
	}
	return q.GetRepositoryByName(userID, owner, name)
}

func (q *Queries) GetRepository(userID, id int64) (*models.Repository, error) {
	return q.scanRepository(q.db.QueryRow(
		`SELECT id, user_id, owner, name, created_at, updated_at FROM repositories WHERE id = ? AND user_id = ?`,
		id, userID,
	))
}

func (q *Queries) GetRepositoryByName(userID int64, owner, name string) (*models.Repository, error) {
	return q.scanRepository(q.db.QueryRow(
		`SELECT id, user_id, owner, name, created_at, updated_at FROM repositories WHERE user_id = ? AND owner = ? AND name = ?`,
		userID, owner, name,
	))
}

func (q *Queries) scanRepository(row *sql.Row) (*models.Repository, error) {
	r := &models.Repository{}
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.UserID, &r.Owner, &r.Name, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("repository")
		}
		return nil, fmt.Errorf("scanning repository: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// DeleteRepository removes the repository; pull requests and reviews cascade.
func (q *Queries) DeleteRepository(userID, id int64) error {
	res, err := q.db.Exec(`DELETE FROM repositories WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("repository")
	}
	return nil
}

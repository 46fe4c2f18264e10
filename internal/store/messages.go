package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
	"github.com/klauern/pr-pal-sub000/internal/models"
)

// CreateMessage inserts a transcript entry at an explicit order. A duplicate
// order within the review surfaces as a ConflictError so the caller can
// recompute and retry.
func (q *Queries) CreateMessage(reviewID int64, sender, content string, order int) (*models.Message, error) {
	res, err := q.db.Exec(
		`INSERT INTO messages (review_id, sender, content, ord) VALUES (?, ?, ?, ?)`,
		reviewID, sender, content, order,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, apperr.Conflict(fmt.Sprintf("message order %d already taken", order))
		}
		return nil, fmt.Errorf("creating message: %w", err)
	}
	id, _ := res.LastInsertId()
	return q.GetMessage(id)
}

func (q *Queries) GetMessage(id int64) (*models.Message, error) {
	m := &models.Message{}
	var createdAt string
	err := q.db.QueryRow(
		`SELECT id, review_id, sender, content, ord, created_at FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.ReviewID, &m.Sender, &m.Content, &m.Order, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("message")
		}
		return nil, fmt.Errorf("getting message: %w", err)
	}
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

func (q *Queries) ListMessages(reviewID int64) ([]models.Message, error) {
	rows, err := q.db.Query(
		`SELECT id, review_id, sender, content, ord, created_at
		 FROM messages WHERE review_id = ? ORDER BY ord ASC`, reviewID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var results []models.Message
	for rows.Next() {
		var m models.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ReviewID, &m.Sender, &m.Content, &m.Order, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		results = append(results, m)
	}
	return results, rows.Err()
}

// DeleteMessage removes one transcript entry. Remaining orders are never
// renumbered; the gap stays.
func (q *Queries) DeleteMessage(reviewID, id int64) error {
	res, err := q.db.Exec(`DELETE FROM messages WHERE review_id = ? AND id = ?`, reviewID, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message")
	}
	return nil
}

// MaxMessageOrder returns the highest order assigned in the review, 0 when
// the transcript is empty. The next order is always max+1; deletions leave
// gaps rather than triggering renumbering.
func (q *Queries) MaxMessageOrder(reviewID int64) (int, error) {
	var max int
	err := q.db.QueryRow(
		`SELECT COALESCE(MAX(ord), 0) FROM messages WHERE review_id = ?`, reviewID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("getting max message order: %w", err)
	}
	return max, nil
}

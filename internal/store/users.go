package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
	"github.com/klauern/pr-pal-sub000/internal/models"
)

const userColumns = `id, username, email, password_hash, github_token, llm_provider, llm_model, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.GithubToken,
		&u.LLMProvider, &u.LLMModel, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user")
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return u, nil
}

func (q *Queries) CreateUser(username, email, passwordHash string) (*models.User, error) {
	res, err := q.db.Exec(
		`INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)`,
		username, email, passwordHash,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, apperr.Conflict("username or email already taken")
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	id, _ := res.LastInsertId()
	return q.GetUser(id)
}

func (q *Queries) GetUser(id int64) (*models.User, error) {
	return scanUser(q.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (q *Queries) GetUserByUsername(username string) (*models.User, error) {
	return scanUser(q.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

// UpdateUserSettings replaces the user's provider preferences and GitHub
// token. Empty strings clear the fields.
func (q *Queries) UpdateUserSettings(id int64, githubToken, llmProvider, llmModel string) error {
	_, err := q.db.Exec(
		`UPDATE users SET github_token = ?, llm_provider = ?, llm_model = ?, updated_at = datetime('now') WHERE id = ?`,
		githubToken, llmProvider, llmModel, id,
	)
	if err != nil {
		return fmt.Errorf("updating user settings: %w", err)
	}
	return nil
}

// DeleteUser removes the user; repositories, reviews, messages and API keys
// cascade through foreign keys.
func (q *Queries) DeleteUser(id int64) error {
	if _, err := q.db.Exec(`DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauern/pr-pal-sub000/internal/models"
)

// UpsertAPIKey stores (or replaces) the user's credential for a provider.
// The key is sealed before it touches disk.
func (q *Queries) UpsertAPIKey(userID int64, provider, key string) error {
	sealed, err := q.cipher.Seal(key)
	if err != nil {
		return fmt.Errorf("sealing API key: %w", err)
	}
	_, err = q.db.Exec(
		`INSERT INTO api_keys (user_id, provider, key_ciphertext) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, provider) DO UPDATE SET key_ciphertext = excluded.key_ciphertext, updated_at = datetime('now')`,
		userID, provider, sealed,
	)
	if err != nil {
		return fmt.Errorf("upserting API key: %w", err)
	}
	return nil
}

// GetAPIKey returns the decrypted credential, or "" when the user has none
// for the provider.
func (q *Queries) GetAPIKey(userID int64, provider string) (string, error) {
	var sealed string
	err := q.db.QueryRow(
		`SELECT key_ciphertext FROM api_keys WHERE user_id = ? AND provider = ?`,
		userID, provider,
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting API key: %w", err)
	}
	return q.cipher.Open(sealed)
}

// ListAPIKeyProviders returns which providers the user has credentials for,
// without decrypting anything.
func (q *Queries) ListAPIKeyProviders(userID int64) ([]models.APIKey, error) {
	rows, err := q.db.Query(
		`SELECT id, user_id, provider, created_at, updated_at FROM api_keys WHERE user_id = ? ORDER BY provider ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing API keys: %w", err)
	}
	defer rows.Close()

	var results []models.APIKey
	for rows.Next() {
		var k models.APIKey
		var createdAt, updatedAt string
		if err := rows.Scan(&k.ID, &k.UserID, &k.Provider, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning API key: %w", err)
		}
		k.CreatedAt = parseTime(createdAt)
		k.UpdatedAt = parseTime(updatedAt)
		results = append(results, k)
	}
	return results, rows.Err()
}

func (q *Queries) DeleteAPIKey(userID int64, provider string) error {
	if _, err := q.db.Exec(`DELETE FROM api_keys WHERE user_id = ? AND provider = ?`, userID, provider); err != nil {
		return fmt.Errorf("deleting API key: %w", err)
	}
	return nil
}

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
	"github.com/klauern/pr-pal-sub000/internal/models"
)

// ErrorResponse is the error envelope returned by every failing endpoint.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type UserDTO struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	LLMProvider    string `json:"llm_provider,omitempty"`
	LLMModel       string `json:"llm_model,omitempty"`
	GithubTokenSet bool   `json:"github_token_set"`
}

type RepositoryDTO struct {
	ID          int64  `json:"id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	ReviewCount int    `json:"review_count"`
}

type ReviewDTO struct {
	ID             int64      `json:"id"`
	Repository     string     `json:"repository"`
	PRNumber       int        `json:"pr_number"`
	Title          string     `json:"title,omitempty"`
	URL            string     `json:"url,omitempty"`
	Status         string     `json:"status"`
	SyncStatus     string     `json:"sync_status"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	LastViewedAt   *time.Time `json:"last_viewed_at,omitempty"`
	ContextSummary string     `json:"context_summary,omitempty"`
	MessageCount   int        `json:"message_count"`
	Stale          bool       `json:"stale"`
}

type MessageDTO struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
}

type TabsDTO struct {
	Open   []string `json:"open"`
	Active string   `json:"active"`
}

func userDTO(u *models.User) UserDTO {
	return UserDTO{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		LLMProvider:    u.LLMProvider,
		LLMModel:       u.LLMModel,
		GithubTokenSet: u.GithubToken != "",
	}
}

func repositoryDTO(r models.Repository) RepositoryDTO {
	return RepositoryDTO{
		ID:          r.ID,
		Owner:       r.Owner,
		Name:        r.Name,
		FullName:    r.FullName(),
		ReviewCount: r.ReviewCount,
	}
}

func messageDTO(m models.Message) MessageDTO {
	return MessageDTO{
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		Order:     m.Order,
		CreatedAt: m.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code, msg string, status int) {
	var resp ErrorResponse
	resp.Error.Code, resp.Error.Message = code, msg
	writeJSON(w, status, resp)
}

// respondErr maps the typed error kinds onto HTTP statuses. Anything
// unrecognized is an internal error and gets logged, not leaked.
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsValidation(err):
		writeErr(w, "VALIDATION", err.Error(), http.StatusBadRequest)
	case apperr.IsNotFound(err):
		writeErr(w, "NOT_FOUND", err.Error(), http.StatusNotFound)
	case apperr.IsConflict(err):
		writeErr(w, "CONFLICT", err.Error(), http.StatusConflict)
	case apperr.IsProvider(err):
		writeErr(w, "PROVIDER_UNAVAILABLE", err.Error(), http.StatusBadGateway)
	default:
		slog.Error("internal error", "err", err)
		writeErr(w, "INTERNAL", "internal error", http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, "BAD_REQUEST", "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

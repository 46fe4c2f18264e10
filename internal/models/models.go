package models

import "time"

// Review status values.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusArchived   = "archived"
)

// Review sync status values.
const (
	SyncPending   = "pending"
	SyncSyncing   = "syncing"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)

// Pull request states as reported by the data provider.
const (
	PRStateOpen   = "open"
	PRStateClosed = "closed"
	PRStateMerged = "merged"
)

// Message sender values. Assistant messages carry the backend that
// produced them so the transcript records which model replied.
const (
	SenderUser            = "user"
	SenderSystem          = "system"
	SenderAssistantPrefix = "assistant_"
)

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	GithubToken  string
	LLMProvider  string
	LLMModel     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Repository struct {
	ID        int64
	UserID    int64
	Owner     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Joined fields (not stored directly)
	ReviewCount int
}

// FullName returns the "owner/name" form used in prompts and URLs.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

type PullRequest struct {
	ID                int64
	RepositoryID      int64
	Number            int
	Title             string
	Body              string
	State             string
	Author            string
	URL               string
	CIStatus          string
	ExternalUpdatedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Review struct {
	ID             int64
	UserID         int64
	RepositoryID   int64
	PullRequestID  int64
	PRNumber       int
	Status         string
	SyncStatus     string
	LastSyncedAt   *time.Time
	LastViewedAt   *time.Time
	Title          string
	URL            string
	Diff           string
	ContextSummary string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Joined fields (not stored directly)
	RepoOwner    string
	RepoName     string
	MessageCount int
}

// RepoFullName returns the "owner/name" form of the owning repository.
func (r Review) RepoFullName() string {
	return r.RepoOwner + "/" + r.RepoName
}

type Message struct {
	ID        int64
	ReviewID  int64
	Sender    string
	Content   string
	Order     int
	CreatedAt time.Time
}

type APIKey struct {
	ID        int64
	UserID    int64
	Provider  string
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

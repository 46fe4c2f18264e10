package review

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
	"github.com/klauern/pr-pal-sub000/internal/models"
	"github.com/klauern/pr-pal-sub000/internal/store"
)

func newTestStore(t *testing.T) *store.Queries {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cipher, err := store.NewKeyCipher("0123456789abcdef")
	require.NoError(t, err)
	return store.NewQueries(db, cipher)
}

func newTestUser(t *testing.T, q *store.Queries) *models.User {
	t.Helper()
	u, err := q.CreateUser("alice", "alice@example.com", "hash")
	require.NoError(t, err)
	return u
}

func TestCreateValidation(t *testing.T) {
	s := NewService(newTestStore(t))

	_, err := s.Create(1, CreateParams{Repo: "widgets", PRNumber: 1})
	assert.True(t, apperr.IsValidation(err), "missing owner")

	_, err = s.Create(1, CreateParams{Owner: "octo", PRNumber: 1})
	assert.True(t, apperr.IsValidation(err), "missing repo")

	_, err = s.Create(1, CreateParams{Owner: "octo", Repo: "widgets"})
	assert.True(t, apperr.IsValidation(err), "missing pr number")

	_, err = s.Create(1, CreateParams{Owner: "  ", Repo: "widgets", PRNumber: 1})
	assert.True(t, apperr.IsValidation(err), "whitespace-only owner")
}

func TestCreateTrimsRepositoryCoordinates(t *testing.T) {
	q := newTestStore(t)
	s := NewService(q)
	u := newTestUser(t, q)

	rev, err := s.Create(u.ID, CreateParams{Owner: "octo", Repo: "widgets", PRNumber: 1})
	require.NoError(t, err)

	// Padded coordinates resolve to the same repository and review.
	again, err := s.Create(u.ID, CreateParams{Owner: " octo ", Repo: "widgets\t", PRNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, rev.ID, again.ID)
	assert.Equal(t, rev.RepositoryID, again.RepositoryID)

	repos, err := q.ListRepositories(u.ID)
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}

func TestCreateDefaultsAndIdempotence(t *testing.T) {
	q := newTestStore(t)
	s := NewService(q)
	u := newTestUser(t, q)

	rev, err := s.Create(u.ID, CreateParams{Owner: "octo", Repo: "widgets", PRNumber: 123})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, rev.Status)
	assert.Equal(t, models.SyncPending, rev.SyncStatus)
	assert.Equal(t, 123, rev.PRNumber)
	assert.Nil(t, rev.LastSyncedAt)

	pr, err := q.GetPullRequest(rev.PullRequestID)
	require.NoError(t, err)
	assert.Equal(t, models.PRStateOpen, pr.State, "pull request defaults to open")
	assert.Equal(t, "unknown", pr.Author, "author defaults to unknown")

	again, err := s.Create(u.ID, CreateParams{Owner: "octo", Repo: "widgets", PRNumber: 123})
	require.NoError(t, err)
	assert.Equal(t, rev.ID, again.ID, "re-opening returns the existing review")
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	q := newTestStore(t)
	s := NewService(q)
	u := newTestUser(t, q)

	rev, err := s.Create(u.ID, CreateParams{Owner: "octo", Repo: "widgets", PRNumber: 123})
	require.NoError(t, err)

	require.NoError(t, s.MarkCompleted(u.ID, rev.ID))
	got, err := q.GetReview(u.ID, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	require.NoError(t, s.MarkCompleted(u.ID, rev.ID), "second completion is a no-op")
	got, err = q.GetReview(u.ID, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestMarkViewedDoesNotTouchStatus(t *testing.T) {
	q := newTestStore(t)
	s := NewService(q)
	u := newTestUser(t, q)

	rev, err := s.Create(u.ID, CreateParams{Owner: "octo", Repo: "widgets", PRNumber: 1})
	require.NoError(t, err)
	require.Nil(t, rev.LastViewedAt)

	require.NoError(t, s.MarkViewed(u.ID, rev.ID))
	got, err := q.GetReview(u.ID, rev.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastViewedAt)
	assert.Equal(t, models.StatusInProgress, got.Status)
}

func TestCrossTenantReadsAreNotFound(t *testing.T) {
	q := newTestStore(t)
	s := NewService(q)
	u := newTestUser(t, q)
	other, err := q.CreateUser("bob", "bob@example.com", "hash")
	require.NoError(t, err)

	rev, err := s.Create(u.ID, CreateParams{Owner: "octo", Repo: "widgets", PRNumber: 1})
	require.NoError(t, err)

	err = s.MarkCompleted(other.ID, rev.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestNeedsAutoSync(t *testing.T) {
	s := NewService(newTestStore(t))
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	r := &models.Review{SyncStatus: models.SyncCompleted}
	assert.True(t, s.NeedsAutoSync(r), "never synced")

	recent := now.Add(-5 * time.Minute)
	r.LastSyncedAt = &recent
	assert.False(t, s.NeedsAutoSync(r), "synced 5 minutes ago")

	old := now.Add(-16 * time.Minute)
	r.LastSyncedAt = &old
	assert.True(t, s.NeedsAutoSync(r), "synced 16 minutes ago")

	r.SyncStatus = models.SyncSyncing
	assert.False(t, s.NeedsAutoSync(r), "never while syncing")
}

func TestIsStale(t *testing.T) {
	s := NewService(newTestStore(t))
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	r := &models.Review{}
	assert.True(t, s.IsStale(r))

	halfHour := now.Add(-30 * time.Minute)
	r.LastSyncedAt = &halfHour
	assert.False(t, s.IsStale(r))

	twoHours := now.Add(-2 * time.Hour)
	r.LastSyncedAt = &twoHours
	assert.True(t, s.IsStale(r))
}

func TestArchiveReachable(t *testing.T) {
	q := newTestStore(t)
	s := NewService(q)
	u := newTestUser(t, q)

	rev, err := s.Create(u.ID, CreateParams{Owner: "octo", Repo: "widgets", PRNumber: 1})
	require.NoError(t, err)

	require.NoError(t, s.Archive(u.ID, rev.ID))
	got, err := q.GetReview(u.ID, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, got.Status)
}

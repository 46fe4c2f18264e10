package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klauern/pr-pal-sub000/internal/config"
	"github.com/klauern/pr-pal-sub000/internal/jobs"
	"github.com/klauern/pr-pal-sub000/internal/live"
	"github.com/klauern/pr-pal-sub000/internal/store"
)

type testServer struct {
	ts  *httptest.Server
	srv *Server
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithQueue(t, 1, 16)
}

// newTestServerWithQueue controls the job queue shape; zero workers and a
// zero-size queue make every Enqueue call fail.
func newTestServerWithQueue(t *testing.T, workers, queueSize int) *testServer {
	t.Helper()

	cfg := config.Config{
		DBPath:             filepath.Join(t.TempDir(), "server.db"),
		SessionKey:         "0123456789abcdef",
		ForceDummyProvider: true,
		Workers:            workers,
		QueueSize:          queueSize,
	}

	db, err := store.Open(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cipher, err := store.NewKeyCipher(cfg.SessionKey)
	require.NoError(t, err)

	queue := jobs.NewQueue(cfg.Workers, cfg.QueueSize)
	t.Cleanup(queue.Shutdown)

	srv := New(cfg, store.NewQueries(db, cipher), live.NewHub(), queue)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, srv: srv}
}

// client returns an HTTP client with its own cookie jar, i.e. its own
// browser session.
func (s *testServer) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func (s *testServer) do(t *testing.T, c *http.Client, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func (s *testServer) register(t *testing.T, c *http.Client, username string) {
	t.Helper()
	code, _ := s.do(t, c, http.MethodPost, "/api/register", map[string]any{
		"username": username, "email": username + "@example.com", "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, code)
}

func (s *testServer) createReview(t *testing.T, c *http.Client, owner, repo string, number int) int64 {
	t.Helper()
	code, body := s.do(t, c, http.MethodPost, "/api/reviews", map[string]any{
		"owner": owner, "repo": repo, "pr_number": number,
	})
	require.Equal(t, http.StatusCreated, code)
	rev := body["review"].(map[string]any)
	return int64(rev["id"].(float64))
}

func TestRegisterLoginLogout(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)

	s.register(t, c, "alice")

	code, body := s.do(t, c, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "alice", body["user"].(map[string]any)["username"])

	code, _ = s.do(t, c, http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusNoContent, code)

	code, _ = s.do(t, c, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, c, http.MethodPost, "/api/login", map[string]any{
		"username": "alice", "password": "hunter22",
	})
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, c, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	code, body := s.do(t, s.client(t), http.MethodPost, "/api/login", map[string]any{
		"username": "alice", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, code)
	errObj := body["error"].(map[string]any)
	require.Equal(t, "INVALID_CREDENTIALS", errObj["code"])
}

func TestRegisterDuplicateUsername(t *testing.T) {
	s := newTestServer(t)
	s.register(t, s.client(t), "alice")

	code, _ := s.do(t, s.client(t), http.MethodPost, "/api/register", map[string]any{
		"username": "alice", "email": "other@example.com", "password": "hunter22",
	})
	require.Equal(t, http.StatusConflict, code)
}

func TestDeleteAccountCascadesAndEndsSession(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")
	s.createReview(t, c, "octo", "widgets", 1)

	code, _ := s.do(t, c, http.MethodDelete, "/api/me", nil)
	require.Equal(t, http.StatusNoContent, code)

	code, _ = s.do(t, c, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	// The username is free again.
	s.register(t, s.client(t), "alice")
}

func TestUnauthenticatedRequests(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)

	code, _ := s.do(t, c, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestOpenByDetailsCreatesReviewAndTab(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	id := s.createReview(t, c, "octo", "widgets", 42)

	code, body := s.do(t, c, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, code)
	tabsObj := body["tabs"].(map[string]any)
	require.Equal(t, "pr_"+jsonInt(id), tabsObj["active"])
	require.Len(t, tabsObj["open"].([]any), 1)
	require.Len(t, body["reviews"].([]any), 1)
}

func TestCreateReviewValidation(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	code, _ := s.do(t, c, http.MethodPost, "/api/reviews", map[string]any{
		"owner": "octo", "repo": "", "pr_number": 1,
	})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestTabBoundsAndFallback(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	ids := make([]int64, 0, 6)
	for n := 1; n <= 6; n++ {
		ids = append(ids, s.createReview(t, c, "octo", "widgets", n))
	}

	// Only the five most recently opened tabs survive.
	code, body := s.do(t, c, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, code)
	open := body["tabs"].(map[string]any)["open"].([]any)
	require.Len(t, open, 5)
	require.Equal(t, "pr_"+jsonInt(ids[1]), open[0])
	require.Equal(t, "pr_"+jsonInt(ids[5]), open[4])

	// Closing the active tab falls back to the new last entry.
	code, body = s.do(t, c, http.MethodPost, "/api/tabs/close", map[string]any{"review_id": ids[5]})
	require.Equal(t, http.StatusOK, code)
	tabsObj := body["tabs"].(map[string]any)
	require.Equal(t, "pr_"+jsonInt(ids[4]), tabsObj["active"])

	// Selecting home keeps the list untouched.
	code, body = s.do(t, c, http.MethodPost, "/api/tabs/select", map[string]any{"tab": "home"})
	require.Equal(t, http.StatusOK, code)
	tabsObj = body["tabs"].(map[string]any)
	require.Equal(t, "home", tabsObj["active"])
	require.Len(t, tabsObj["open"].([]any), 4)
}

func TestOpenTabErrors(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	code, _ := s.do(t, c, http.MethodPost, "/api/tabs/open", map[string]any{})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, c, http.MethodPost, "/api/tabs/open", map[string]any{"review_id": 999})
	require.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, c, http.MethodPost, "/api/tabs/select", map[string]any{"tab": "pr_"})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, c, http.MethodPost, "/api/tabs/select", map[string]any{"tab": "pr_999"})
	require.Equal(t, http.StatusNotFound, code)
}

func TestSyncReviewEndpoint(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")
	id := s.createReview(t, c, "octo", "widgets", 7)

	code, body := s.do(t, c, http.MethodPost, "/api/reviews/"+jsonInt(id)+"/sync", nil)
	require.Equal(t, http.StatusOK, code)
	rev := body["review"].(map[string]any)
	require.Equal(t, "completed", rev["sync_status"])
	require.NotEmpty(t, rev["title"])
	require.Equal(t, false, rev["stale"])

	code, body = s.do(t, c, http.MethodGet, "/api/reviews/"+jsonInt(id)+"/diff", nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body["diff"].(string), "diff --git")
}

func TestReviewLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")
	id := s.createReview(t, c, "octo", "widgets", 3)

	code, body := s.do(t, c, http.MethodPost, "/api/reviews/"+jsonInt(id)+"/complete", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", body["review"].(map[string]any)["status"])

	code, body = s.do(t, c, http.MethodPost, "/api/reviews/"+jsonInt(id)+"/archive", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "archived", body["review"].(map[string]any)["status"])

	code, _ = s.do(t, c, http.MethodPut, "/api/reviews/"+jsonInt(id)+"/context-summary", map[string]any{
		"context_summary": "focus on error handling",
	})
	require.Equal(t, http.StatusNoContent, code)

	code, body = s.do(t, c, http.MethodGet, "/api/reviews/"+jsonInt(id), nil)
	require.Equal(t, http.StatusOK, code)
	rev := body["review"].(map[string]any)
	require.Equal(t, "focus on error handling", rev["context_summary"])
	require.NotEmpty(t, rev["last_viewed_at"])
}

func TestCrossTenantReviewIsNotFound(t *testing.T) {
	s := newTestServer(t)

	alice := s.client(t)
	s.register(t, alice, "alice")
	id := s.createReview(t, alice, "octo", "widgets", 1)

	bob := s.client(t)
	s.register(t, bob, "bob")

	code, _ := s.do(t, bob, http.MethodGet, "/api/reviews/"+jsonInt(id), nil)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, bob, http.MethodDelete, "/api/reviews/"+jsonInt(id), nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestPostMessageAndAsyncReply(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")
	id := s.createReview(t, c, "octo", "widgets", 5)

	code, _ := s.do(t, c, http.MethodPost, "/api/reviews/"+jsonInt(id)+"/messages", map[string]any{
		"content": "   ",
	})
	require.Equal(t, http.StatusBadRequest, code)

	code, body := s.do(t, c, http.MethodPost, "/api/reviews/"+jsonInt(id)+"/messages", map[string]any{
		"content": "Hello",
	})
	require.Equal(t, http.StatusCreated, code)
	msg := body["message"].(map[string]any)
	require.Equal(t, "user", msg["sender"])
	require.Equal(t, float64(1), msg["order"])

	// No API key is configured, so the reply job resolves to a system
	// message reporting the failure.
	require.Eventually(t, func() bool {
		_, body := s.do(t, c, http.MethodGet, "/api/reviews/"+jsonInt(id), nil)
		return len(body["messages"].([]any)) == 2
	}, 5*time.Second, 50*time.Millisecond)

	_, body = s.do(t, c, http.MethodGet, "/api/reviews/"+jsonInt(id), nil)
	messages := body["messages"].([]any)
	second := messages[1].(map[string]any)
	require.Equal(t, "system", second["sender"])
	require.Equal(t, float64(2), second["order"])
	require.Contains(t, second["content"].(string), "couldn't generate a reply")
}

func TestPostMessageResolvesWhenQueueRejects(t *testing.T) {
	// Zero workers and a zero-size queue reject every job, so the reply
	// can never be scheduled.
	s := newTestServerWithQueue(t, 0, 0)
	c := s.client(t)
	s.register(t, c, "alice")
	id := s.createReview(t, c, "octo", "widgets", 5)

	code, _ := s.do(t, c, http.MethodPost, "/api/reviews/"+jsonInt(id)+"/messages", map[string]any{
		"content": "Hello",
	})
	require.Equal(t, http.StatusCreated, code)

	// The exchange is resolved synchronously with a system message; it is
	// never left pending.
	code, body := s.do(t, c, http.MethodGet, "/api/reviews/"+jsonInt(id), nil)
	require.Equal(t, http.StatusOK, code)
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	second := messages[1].(map[string]any)
	require.Equal(t, "system", second["sender"])
	require.Equal(t, float64(2), second["order"])
	require.Contains(t, second["content"].(string), "couldn't generate a reply")
}

func TestTabHandlersTolerateLogoutMidRequest(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")
	s.createReview(t, c, "octo", "widgets", 1)

	u, err := url.Parse(s.ts.URL)
	require.NoError(t, err)
	cookies := c.Jar.Cookies(u)
	require.NotEmpty(t, cookies)

	// Destroy the session after authentication has resolved it, as a
	// concurrent logout would, then run the handler.
	h := s.srv.requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.srv.sessions.destroy(currentSessionID(r))
		s.srv.handleDashboard(w, r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRepositoryEndpoints(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	code, body := s.do(t, c, http.MethodPost, "/api/repositories", map[string]any{
		"owner": "octo", "name": "widgets",
	})
	require.Equal(t, http.StatusCreated, code)
	repoID := int64(body["repository"].(map[string]any)["id"].(float64))

	// Padded coordinates resolve to the same repository.
	code, body = s.do(t, c, http.MethodPost, "/api/repositories", map[string]any{
		"owner": " octo ", "name": "widgets ",
	})
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, repoID, int64(body["repository"].(map[string]any)["id"].(float64)))

	code, body = s.do(t, c, http.MethodPost, "/api/repositories/"+jsonInt(repoID)+"/sync", nil)
	require.Equal(t, http.StatusOK, code)
	reviews := body["reviews"].([]any)
	require.GreaterOrEqual(t, len(reviews), 2)
	require.LessOrEqual(t, len(reviews), 4)

	code, body = s.do(t, c, http.MethodGet, "/api/repositories", nil)
	require.Equal(t, http.StatusOK, code)
	repos := body["repositories"].([]any)
	require.Len(t, repos, 1)
	require.Equal(t, "octo/widgets", repos[0].(map[string]any)["full_name"])

	code, _ = s.do(t, c, http.MethodDelete, "/api/repositories/"+jsonInt(repoID), nil)
	require.Equal(t, http.StatusNoContent, code)

	code, body = s.do(t, c, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, body["reviews"])
}

func TestSettingsAndAPIKeys(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)
	s.register(t, c, "alice")

	code, _ := s.do(t, c, http.MethodPut, "/api/settings", map[string]any{
		"llm_provider": "cohere",
	})
	require.Equal(t, http.StatusBadRequest, code)

	code, body := s.do(t, c, http.MethodPut, "/api/settings", map[string]any{
		"llm_provider": "openai", "llm_model": "gpt-4o",
	})
	require.Equal(t, http.StatusOK, code)
	user := body["user"].(map[string]any)
	require.Equal(t, "openai", user["llm_provider"])
	require.Equal(t, "gpt-4o", user["llm_model"])

	code, _ = s.do(t, c, http.MethodPut, "/api/keys/openai", map[string]any{"key": "sk-test"})
	require.Equal(t, http.StatusNoContent, code)

	code, body = s.do(t, c, http.MethodGet, "/api/keys", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{"openai"}, body["providers"])

	code, _ = s.do(t, c, http.MethodDelete, "/api/keys/openai", nil)
	require.Equal(t, http.StatusNoContent, code)

	code, body = s.do(t, c, http.MethodGet, "/api/keys", nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, body["providers"])
}

func jsonInt(id int64) string {
	return strconv.FormatInt(id, 10)
}

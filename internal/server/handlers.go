package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/klauern/pr-pal-sub000/internal/llm"
	"github.com/klauern/pr-pal-sub000/internal/models"
	"github.com/klauern/pr-pal-sub000/internal/review"
	"github.com/klauern/pr-pal-sub000/internal/tabs"
)

type ctxKey int

const (
	ctxUser ctxKey = iota
	ctxSessionID
	ctxSession
)

// requireUser resolves the session cookie into a logged-in user. Requests
// without a live session get 401.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			writeErr(w, "UNAUTHORIZED", "login required", http.StatusUnauthorized)
			return
		}
		sess, ok := s.sessions.get(cookie.Value)
		if !ok {
			writeErr(w, "UNAUTHORIZED", "session expired", http.StatusUnauthorized)
			return
		}
		user, err := s.queries.GetUser(sess.UserID)
		if err != nil {
			writeErr(w, "UNAUTHORIZED", "session expired", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxUser, user)
		ctx = context.WithValue(ctx, ctxSessionID, cookie.Value)
		ctx = context.WithValue(ctx, ctxSession, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUser(r *http.Request) *models.User {
	return r.Context().Value(ctxUser).(*models.User)
}

func currentSessionID(r *http.Request) string {
	return r.Context().Value(ctxSessionID).(string)
}

// currentSession is the *session resolved by requireUser. Handlers use it
// rather than re-fetching by ID, so a logout racing the request cannot
// leave them with a nil session.
func currentSession(r *http.Request) *session {
	return r.Context().Value(ctxSession).(*session)
}

func urlID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Username == "" || in.Email == "" || in.Password == "" {
		writeErr(w, "VALIDATION", "username, email and password are required", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		respondErr(w, err)
		return
	}
	user, err := s.queries.CreateUser(in.Username, in.Email, string(hash))
	if err != nil {
		respondErr(w, err)
		return
	}

	setSessionCookie(w, s.sessions.create(user.ID))
	writeJSON(w, http.StatusCreated, map[string]any{"user": userDTO(user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &in) {
		return
	}

	user, err := s.queries.GetUserByUsername(in.Username)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		writeErr(w, "INVALID_CREDENTIALS", "invalid username or password", http.StatusUnauthorized)
		return
	}

	setSessionCookie(w, s.sessions.create(user.ID))
	writeJSON(w, http.StatusOK, map[string]any{"user": userDTO(user)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.destroy(currentSessionID(r))
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": userDTO(currentUser(r))})
}

// handleDeleteAccount removes the user; repositories, reviews, transcripts
// and API keys cascade in the store.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.queries.DeleteUser(currentUser(r).ID); err != nil {
		respondErr(w, err)
		return
	}
	s.sessions.destroy(currentSessionID(r))
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GithubToken string `json:"github_token"`
		LLMProvider string `json:"llm_provider"`
		LLMModel    string `json:"llm_model"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	switch in.LLMProvider {
	case "", llm.ProviderAnthropic, llm.ProviderOpenAI:
	default:
		writeErr(w, "VALIDATION", "unknown llm_provider", http.StatusBadRequest)
		return
	}

	user := currentUser(r)
	if err := s.queries.UpdateUserSettings(user.ID, in.GithubToken, in.LLMProvider, in.LLMModel); err != nil {
		respondErr(w, err)
		return
	}
	updated, err := s.queries.GetUser(user.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userDTO(updated)})
}

// --- repositories ---

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.queries.ListRepositories(currentUser(r).ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]RepositoryDTO, 0, len(repos))
	for _, repo := range repos {
		out = append(out, repositoryDTO(repo))
	}
	writeJSON(w, http.StatusOK, map[string]any{"repositories": out})
}

func (s *Server) handleAddRepository(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Owner string `json:"owner"`
		Name  string `json:"name"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	owner, name := strings.TrimSpace(in.Owner), strings.TrimSpace(in.Name)
	if owner == "" || name == "" {
		writeErr(w, "VALIDATION", "owner and name are required", http.StatusBadRequest)
		return
	}

	repo, err := s.queries.FindOrCreateRepository(currentUser(r).ID, owner, name)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"repository": repositoryDTO(*repo)})
}

func (s *Server) handleDeleteRepository(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeErr(w, "VALIDATION", "invalid repository id", http.StatusBadRequest)
		return
	}
	if err := s.queries.DeleteRepository(currentUser(r).ID, id); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncRepository(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeErr(w, "VALIDATION", "invalid repository id", http.StatusBadRequest)
		return
	}
	user := currentUser(r)
	repo, err := s.queries.GetRepository(user.ID, id)
	if err != nil {
		respondErr(w, err)
		return
	}

	if err := s.syncer.SyncRepository(r.Context(), repo, s.dataProvider(user)); err != nil {
		respondErr(w, err)
		return
	}
	reviews, err := s.queries.ListOpenReviewsByRepository(repo.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": s.reviewDTOs(reviews)})
}

// --- dashboard & tabs ---

// handleDashboard returns the cleaned tab state plus every review with its
// staleness flag, and enqueues a background sync for reviews whose snapshot
// is old enough to refresh.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	sessionID := currentSessionID(r)
	sess := currentSession(r)

	mu := s.lockSession(sessionID)
	st := sess.tabState().Cleanup(func(id int64) bool {
		ok, err := s.queries.ReviewExists(user.ID, id)
		return err == nil && ok
	})
	sess.setTabState(st)
	mu.Unlock()

	reviews, err := s.queries.ListReviews(user.ID)
	if err != nil {
		respondErr(w, err)
		return
	}

	p := s.dataProvider(user)
	for _, rev := range reviews {
		rev := rev
		if rev.Status == models.StatusInProgress && s.reviews.NeedsAutoSync(&rev) {
			s.jobs.Enqueue("auto_sync", func(ctx context.Context) {
				s.syncer.SyncReviewBackground(ctx, rev.ID, p)
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tabs":    TabsDTO{Open: st.EncodeOpen(), Active: st.Active.Encode()},
		"reviews": s.reviewDTOs(reviews),
	})
}

func (s *Server) handleOpenTab(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ReviewID int64 `json:"review_id"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if in.ReviewID <= 0 {
		writeErr(w, "VALIDATION", "review_id is required", http.StatusBadRequest)
		return
	}
	user := currentUser(r)
	if ok, err := s.queries.ReviewExists(user.ID, in.ReviewID); err != nil || !ok {
		writeErr(w, "NOT_FOUND", "review not found", http.StatusNotFound)
		return
	}

	s.updateTabs(w, r, func(st tabs.State) tabs.State {
		e := tabs.PR(in.ReviewID)
		return st.Add(e).Select(e)
	})
}

func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ReviewID int64 `json:"review_id"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if in.ReviewID <= 0 {
		writeErr(w, "VALIDATION", "review_id is required", http.StatusBadRequest)
		return
	}

	s.updateTabs(w, r, func(st tabs.State) tabs.State {
		return st.Remove(tabs.PR(in.ReviewID))
	})
}

func (s *Server) handleSelectTab(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Tab string `json:"tab"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	e, ok := tabs.Parse(in.Tab)
	if !ok {
		writeErr(w, "VALIDATION", "invalid tab", http.StatusBadRequest)
		return
	}

	if e.Kind == tabs.KindPR && !currentSession(r).tabState().Contains(e) {
		writeErr(w, "NOT_FOUND", "tab is not open", http.StatusNotFound)
		return
	}

	s.updateTabs(w, r, func(st tabs.State) tabs.State {
		return st.Select(e)
	})
}

// updateTabs applies fn to the session's tab state under the session lock
// and responds with the new state.
func (s *Server) updateTabs(w http.ResponseWriter, r *http.Request, fn func(tabs.State) tabs.State) {
	sessionID := currentSessionID(r)
	sess := currentSession(r)

	mu := s.lockSession(sessionID)
	st := fn(sess.tabState())
	sess.setTabState(st)
	mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"tabs": TabsDTO{Open: st.EncodeOpen(), Active: st.Active.Encode()},
	})
}

// --- reviews ---

// handleCreateReview is the "open by details" flow: it find-or-creates the
// repository and review, opens a tab for it, and kicks off the first sync.
func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Owner    string `json:"owner"`
		Repo     string `json:"repo"`
		PRNumber int    `json:"pr_number"`
		Title    string `json:"title"`
		Author   string `json:"author"`
	}
	if !decodeBody(w, r, &in) {
		return
	}

	user := currentUser(r)
	rev, err := s.reviews.Create(user.ID, review.CreateParams{
		Owner:    in.Owner,
		Repo:     in.Repo,
		PRNumber: in.PRNumber,
		Title:    in.Title,
		Author:   in.Author,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	sessionID := currentSessionID(r)
	sess := currentSession(r)
	mu := s.lockSession(sessionID)
	e := tabs.PR(rev.ID)
	sess.setTabState(sess.tabState().Add(e).Select(e))
	mu.Unlock()

	p := s.dataProvider(user)
	s.jobs.Enqueue("initial_sync", func(ctx context.Context) {
		s.syncer.SyncReviewBackground(ctx, rev.ID, p)
	})

	writeJSON(w, http.StatusCreated, map[string]any{"review": s.reviewDTO(rev)})
}

func (s *Server) loadReview(w http.ResponseWriter, r *http.Request) (*models.Review, bool) {
	id, ok := urlID(r)
	if !ok {
		writeErr(w, "VALIDATION", "invalid review id", http.StatusBadRequest)
		return nil, false
	}
	rev, err := s.queries.GetReview(currentUser(r).ID, id)
	if err != nil {
		respondErr(w, err)
		return nil, false
	}
	return rev, true
}

func (s *Server) handleShowReview(w http.ResponseWriter, r *http.Request) {
	rev, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	user := currentUser(r)
	if err := s.reviews.MarkViewed(user.ID, rev.ID); err != nil {
		respondErr(w, err)
		return
	}
	rev, err := s.queries.GetReview(user.ID, rev.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	messages, err := s.queries.ListMessages(rev.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]MessageDTO, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageDTO(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"review":   s.reviewDTO(rev),
		"messages": out,
	})
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeErr(w, "VALIDATION", "invalid review id", http.StatusBadRequest)
		return
	}
	if err := s.queries.DeleteReview(currentUser(r).ID, id); err != nil {
		respondErr(w, err)
		return
	}

	sessionID := currentSessionID(r)
	sess := currentSession(r)
	mu := s.lockSession(sessionID)
	sess.setTabState(sess.tabState().Remove(tabs.PR(id)))
	mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncReview(w http.ResponseWriter, r *http.Request) {
	rev, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	user := currentUser(r)
	if err := s.syncer.SyncReview(r.Context(), rev, s.dataProvider(user)); err != nil {
		respondErr(w, err)
		return
	}
	refreshed, err := s.queries.GetReview(user.ID, rev.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": s.reviewDTO(refreshed)})
}

func (s *Server) handleCompleteReview(w http.ResponseWriter, r *http.Request) {
	s.transitionReview(w, r, s.reviews.MarkCompleted)
}

func (s *Server) handleArchiveReview(w http.ResponseWriter, r *http.Request) {
	s.transitionReview(w, r, s.reviews.Archive)
}

func (s *Server) transitionReview(w http.ResponseWriter, r *http.Request, op func(userID, id int64) error) {
	id, ok := urlID(r)
	if !ok {
		writeErr(w, "VALIDATION", "invalid review id", http.StatusBadRequest)
		return
	}
	user := currentUser(r)
	if err := op(user.ID, id); err != nil {
		respondErr(w, err)
		return
	}
	rev, err := s.queries.GetReview(user.ID, id)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": s.reviewDTO(rev)})
}

func (s *Server) handleUpdateContextSummary(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ContextSummary string `json:"context_summary"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	id, ok := urlID(r)
	if !ok {
		writeErr(w, "VALIDATION", "invalid review id", http.StatusBadRequest)
		return
	}
	user := currentUser(r)
	if err := s.reviews.UpdateContextSummary(user.ID, id, in.ContextSummary); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReviewDiff(w http.ResponseWriter, r *http.Request) {
	rev, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"diff":        rev.Diff,
		"sync_status": rev.SyncStatus,
	})
}

// --- messages ---

// handlePostMessage appends the user's message and enqueues the assistant
// reply; the reply lands asynchronously and is observable over the
// websocket or by re-fetching the review.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	rev, ok := s.loadReview(w, r)
	if !ok {
		return
	}

	msg, err := s.engine.PostUserMessage(rev, in.Content)
	if err != nil {
		respondErr(w, err)
		return
	}

	// The user message is persisted; from here on any failure to schedule
	// or run the reply must still resolve the exchange with a system
	// message rather than leaving it pending.
	user := currentUser(r)
	providerName := user.LLMProvider
	if providerName == "" {
		providerName = llm.DefaultProvider
	}
	key, err := s.resolveLLMKey(user.ID, providerName)
	if err != nil {
		s.failReply(rev, err)
		writeJSON(w, http.StatusCreated, map[string]any{"message": messageDTO(*msg)})
		return
	}

	if !s.jobs.Enqueue("llm_reply", func(ctx context.Context) {
		if _, err := s.engine.RequestAssistantReply(ctx, rev, msg, user, key); err != nil {
			slog.Error("assistant reply failed", "review_id", rev.ID, "err", err)
		}
	}) {
		s.failReply(rev, errors.New("the server is too busy to generate a reply"))
	}

	writeJSON(w, http.StatusCreated, map[string]any{"message": messageDTO(*msg)})
}

// failReply appends the system-sender failure message when the reply job
// never made it to the backend.
func (s *Server) failReply(rev *models.Review, cause error) {
	slog.Warn("llm reply not scheduled", "review_id", rev.ID, "err", cause)
	if _, err := s.engine.PostFailure(rev, cause); err != nil {
		slog.Error("failed to resolve pending reply", "review_id", rev.ID, "err", err)
	}
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	rev, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil || messageID <= 0 {
		writeErr(w, "VALIDATION", "invalid message id", http.StatusBadRequest)
		return
	}
	if err := s.engine.DeleteMessage(rev, messageID); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- websocket ---

func (s *Server) handleReviewWS(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeErr(w, "VALIDATION", "invalid review id", http.StatusBadRequest)
		return
	}
	if exists, err := s.queries.ReviewExists(currentUser(r).ID, id); err != nil || !exists {
		writeErr(w, "NOT_FOUND", "review not found", http.StatusNotFound)
		return
	}
	if err := s.hub.ServeWS(w, r, id); err != nil {
		slog.Debug("websocket closed", "review_id", id, "err", err)
	}
}

// --- api keys ---

func apiKeyProvider(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := chi.URLParam(r, "provider")
	if p != llm.ProviderAnthropic && p != llm.ProviderOpenAI {
		writeErr(w, "VALIDATION", "unknown provider", http.StatusBadRequest)
		return "", false
	}
	return p, true
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.queries.ListAPIKeyProviders(currentUser(r).ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	providers := make([]string, 0, len(keys))
	for _, k := range keys {
		providers = append(providers, k.Provider)
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (s *Server) handlePutAPIKey(w http.ResponseWriter, r *http.Request) {
	providerName, ok := apiKeyProvider(w, r)
	if !ok {
		return
	}
	var in struct {
		Key string `json:"key"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Key == "" {
		writeErr(w, "VALIDATION", "key is required", http.StatusBadRequest)
		return
	}
	if err := s.queries.UpsertAPIKey(currentUser(r).ID, providerName, in.Key); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	providerName, ok := apiKeyProvider(w, r)
	if !ok {
		return
	}
	if err := s.queries.DeleteAPIKey(currentUser(r).ID, providerName); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- DTO helpers ---

func (s *Server) reviewDTO(rev *models.Review) ReviewDTO {
	return ReviewDTO{
		ID:             rev.ID,
		Repository:     rev.RepoFullName(),
		PRNumber:       rev.PRNumber,
		Title:          rev.Title,
		URL:            rev.URL,
		Status:         rev.Status,
		SyncStatus:     rev.SyncStatus,
		LastSyncedAt:   rev.LastSyncedAt,
		LastViewedAt:   rev.LastViewedAt,
		ContextSummary: rev.ContextSummary,
		MessageCount:   rev.MessageCount,
		Stale:          s.reviews.IsStale(rev),
	}
}

func (s *Server) reviewDTOs(reviews []models.Review) []ReviewDTO {
	out := make([]ReviewDTO, 0, len(reviews))
	for i := range reviews {
		out = append(out, s.reviewDTO(&reviews[i]))
	}
	return out
}

// Package server exposes the JSON HTTP API: registration and cookie
// sessions, repository and review management, tab operations, the chat
// endpoint, and the per-review websocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/klauern/pr-pal-sub000/internal/config"
	"github.com/klauern/pr-pal-sub000/internal/conversation"
	"github.com/klauern/pr-pal-sub000/internal/jobs"
	"github.com/klauern/pr-pal-sub000/internal/live"
	"github.com/klauern/pr-pal-sub000/internal/llm"
	"github.com/klauern/pr-pal-sub000/internal/models"
	"github.com/klauern/pr-pal-sub000/internal/provider"
	"github.com/klauern/pr-pal-sub000/internal/review"
	"github.com/klauern/pr-pal-sub000/internal/store"
	"github.com/klauern/pr-pal-sub000/internal/syncer"
)

type Server struct {
	cfg      config.Config
	queries  *store.Queries
	reviews  *review.Service
	syncer   *syncer.Orchestrator
	engine   *conversation.Engine
	hub      *live.Hub
	jobs     *jobs.Queue
	sessions *sessionStore

	httpSrv *http.Server
	ln      net.Listener
	addr    string

	sessionMu sync.Map // session ID → *sync.Mutex

	// dataProvider resolves the provider for a user; tests swap in fakes.
	dataProvider func(u *models.User) provider.DataProvider
}

func New(cfg config.Config, queries *store.Queries, hub *live.Hub, queue *jobs.Queue) *Server {
	s := &Server{
		cfg:      cfg,
		queries:  queries,
		reviews:  review.NewService(queries),
		syncer:   syncer.New(queries, hub),
		engine:   conversation.NewEngine(queries, hub),
		hub:      hub,
		jobs:     queue,
		sessions: newSessionStore(),
	}
	s.dataProvider = func(u *models.User) provider.DataProvider {
		return provider.Select(cfg.ForceDummyProvider, u.GithubToken)
	}

	r := chi.NewRouter()
	r.Post("/api/register", s.handleRegister)
	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.Post("/api/logout", s.handleLogout)
		r.Get("/api/me", s.handleMe)
		r.Delete("/api/me", s.handleDeleteAccount)
		r.Put("/api/settings", s.handleUpdateSettings)

		r.Get("/api/repositories", s.handleListRepositories)
		r.Post("/api/repositories", s.handleAddRepository)
		r.Delete("/api/repositories/{id}", s.handleDeleteRepository)
		r.Post("/api/repositories/{id}/sync", s.handleSyncRepository)

		r.Get("/api/dashboard", s.handleDashboard)
		r.Post("/api/tabs/open", s.handleOpenTab)
		r.Post("/api/tabs/close", s.handleCloseTab)
		r.Post("/api/tabs/select", s.handleSelectTab)

		r.Post("/api/reviews", s.handleCreateReview)
		r.Get("/api/reviews/{id}", s.handleShowReview)
		r.Delete("/api/reviews/{id}", s.handleDeleteReview)
		r.Post("/api/reviews/{id}/sync", s.handleSyncReview)
		r.Post("/api/reviews/{id}/complete", s.handleCompleteReview)
		r.Post("/api/reviews/{id}/archive", s.handleArchiveReview)
		r.Put("/api/reviews/{id}/context-summary", s.handleUpdateContextSummary)
		r.Get("/api/reviews/{id}/diff", s.handleReviewDiff)
		r.Post("/api/reviews/{id}/messages", s.handlePostMessage)
		r.Delete("/api/reviews/{id}/messages/{messageID}", s.handleDeleteMessage)
		r.Get("/api/reviews/{id}/ws", s.handleReviewWS)

		r.Get("/api/keys", s.handleListAPIKeys)
		r.Put("/api/keys/{provider}", s.handlePutAPIKey)
		r.Delete("/api/keys/{provider}", s.handleDeleteAPIKey)
	})

	s.httpSrv = &http.Server{Handler: r}
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Listen binds the configured address. Call Serve to start handling
// requests.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Serve handles HTTP requests until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.httpSrv.Shutdown(context.Background())
	}()

	slog.Info("listening", "addr", s.addr)

	if err := s.httpSrv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func (s *Server) Addr() string {
	return s.addr
}

// lockSession serializes handlers mutating the same session's tab list.
// Callers must Unlock when done.
func (s *Server) lockSession(sessionID string) *sync.Mutex {
	v, _ := s.sessionMu.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

// resolveLLMKey returns the credential for a completion call: the user's
// stored API key when present, else the server-level key from config.
func (s *Server) resolveLLMKey(userID int64, providerName string) (string, error) {
	key, err := s.queries.GetAPIKey(userID, providerName)
	if err != nil {
		return "", err
	}
	if key != "" {
		return key, nil
	}
	switch providerName {
	case llm.ProviderOpenAI:
		return s.cfg.OpenAIAPIKey, nil
	default:
		return s.cfg.AnthropicAPIKey, nil
	}
}

package server

import (
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/klauern/pr-pal-sub000/internal/tabs"
)

const sessionCookie = "prpal_session"

// session is the in-memory browser session. The tab list is stored in its
// raw string encoding; handlers decode it into a tabs.State, apply the
// operation, and write the encoded form back (last write wins).
type session struct {
	UserID    int64
	OpenTabs  []string
	ActiveTab string
}

func (s *session) tabState() tabs.State {
	return tabs.Decode(s.OpenTabs, s.ActiveTab)
}

func (s *session) setTabState(st tabs.State) {
	s.OpenTabs = st.EncodeOpen()
	s.ActiveTab = st.Active.Encode()
}

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

// create issues a fresh session for a logged-in user and returns its ID.
func (st *sessionStore) create(userID int64) string {
	id := uuid.NewString()
	st.mu.Lock()
	st.sessions[id] = &session{UserID: userID, ActiveTab: tabs.Home.Encode()}
	st.mu.Unlock()
	return id
}

func (st *sessionStore) get(id string) (*session, bool) {
	st.mu.RLock()
	sess, ok := st.sessions[id]
	st.mu.RUnlock()
	return sess, ok
}

func (st *sessionStore) destroy(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

func setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

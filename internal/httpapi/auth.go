package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trackboard/trackboard/internal/access"
	"github.com/trackboard/trackboard/internal/store"
)

const (
	sessionCookieName = "trackboard_session"
	usersCollection   = "users"
)

// Session is one logged-in browser. Permissions are normalized at login so
// every check downstream sees exactly the authoritative page set.
type Session struct {
	ID          string
	UserID      string
	Email       string
	Permissions map[string]bool
	ExpiresAt   time.Time
}

type sessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]Session
}

func newSessionStore(ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &sessionStore{ttl: ttl, sessions: map[string]Session{}}
}

func (s *sessionStore) create(userID, email string, perms map[string]bool) Session {
	session := Session{
		ID:          store.NewItemID(),
		UserID:      userID,
		Email:       email,
		Permissions: perms,
		ExpiresAt:   time.Now().UTC().Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session
}

func (s *sessionStore) lookup(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		delete(s.sessions, id)
		return Session{}, false
	}
	return session, true
}

func (s *sessionStore) revoke(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// authenticate verifies credentials against the users collection and opens a
// session. The stored permission map is normalized against the authoritative
// page list here; a super-admin user gets every page expanded to true.
func (s *Server) authenticate(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, store.ErrInvalidInput
	}
	users, err := s.store.GetAll(ctx, usersCollection)
	if err != nil {
		return Session{}, err
	}
	for _, user := range users {
		candidate, _ := user.Fields["email"].(string)
		if strings.ToLower(strings.TrimSpace(candidate)) != email {
			continue
		}
		hash, _ := user.Fields["passwordHash"].(string)
		if hash == "" {
			return Session{}, store.ErrNotFound
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			return Session{}, store.ErrNotFound
		}
		perms := s.permissionsFor(user)
		return s.sessions.create(user.ID, email, perms), nil
	}
	return Session{}, store.ErrNotFound
}

func (s *Server) permissionsFor(user store.Item) map[string]bool {
	if superAdmin, _ := user.Fields["superAdmin"].(bool); superAdmin {
		return access.ExpandSuperAdmin(s.pages)
	}
	incoming := map[string]bool{}
	if raw, ok := user.Fields["permissions"].(map[string]any); ok {
		for slug, value := range raw {
			if allowed, ok := value.(bool); ok {
				incoming[slug] = allowed
			}
		}
	}
	return access.Normalize(s.pages, incoming)
}

// sessionFromRequest resolves the cookie to a live session.
func (s *Server) sessionFromRequest(r *http.Request) (Session, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return Session{}, false
	}
	return s.sessions.lookup(cookie.Value)
}

// requireSession gates a request on authentication. Browser requests get the
// redirect treatment; API callers get a structured 401.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	session, ok := s.sessionFromRequest(r)
	if ok {
		return session, true
	}
	if wantsHTML(r) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return Session{}, false
	}
	writeError(w, http.StatusUnauthorized, "unauthenticated", "login required")
	return Session{}, false
}

func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}

// HashPassword is the one hashing routine the whole system uses, shared with
// the passwd maintenance command.
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

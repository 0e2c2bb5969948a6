// Package httpapi binds the storage core to its REST-ish surface: generic
// collection CRUD, the legacy projects routes, health metadata for the
// migration banner, cookie-session auth, and the websocket change feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trackboard/trackboard/internal/access"
	"github.com/trackboard/trackboard/internal/store"
)

const legacyProjectsCollection = "projects"

type ServerConfig struct {
	SessionTTL   time.Duration
	MaxBodyBytes int64
	// OpenAccess disables the session gate; used by the CLI's local serve
	// mode and by tests that exercise storage semantics directly.
	OpenAccess bool
}

type Server struct {
	store    store.Store
	backend  store.BackendKind
	registry *store.Registry
	schemas  *store.SchemaSet
	pages    []access.Page
	sessions *sessionStore
	changes  *changeFeed
	cfg      ServerConfig
}

func NewServer(backend store.Backend, registry *store.Registry, schemas *store.SchemaSet, pages []access.Page, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if len(pages) == 0 {
		pages = access.DefaultPages
	}
	return &Server{
		store:    backend.Store,
		backend:  backend.Kind,
		registry: registry,
		schemas:  schemas,
		pages:    pages,
		sessions: newSessionStore(cfg.SessionTTL),
		changes:  newChangeFeed(),
		cfg:      cfg,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/auth/login" && r.Method == http.MethodPost {
		s.handleLogin(w, r)
		return
	}
	if r.URL.Path == "/auth/logout" && r.Method == http.MethodPost {
		s.handleLogout(w, r)
		return
	}
	if r.URL.Path == "/v1/changes" && r.Method == http.MethodGet {
		s.handleChanges(w, r)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "admin" && parts[1] == "health" && r.Method == http.MethodGet:
		s.handleAdminHealth(w, r)
	case len(parts) == 1 && parts[0] == "pages" && r.Method == http.MethodGet:
		s.handlePages(w, r)
	case len(parts) == 3 && parts[0] == "pages" && parts[2] == "access" && r.Method == http.MethodGet:
		s.handlePageAccess(w, r, parts[1])
	case len(parts) == 2 && parts[0] == "collections":
		s.handleCollection(w, r, parts[1], "")
	case len(parts) == 3 && parts[0] == "collections":
		s.handleCollection(w, r, parts[1], parts[2])
	case len(parts) == 2 && parts[0] == "api" && parts[1] == "projects":
		s.handleCollection(w, r, legacyProjectsCollection, "")
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "projects":
		s.handleCollection(w, r, legacyProjectsCollection, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := s.decodeBody(w, r, &body); err != nil {
		return
	}
	session, err := s.authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidInput) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is wrong")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"email":       session.Email,
		"permissions": session.Permissions,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessions.revoke(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.OpenAccess {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if !access.Allowed(session.Permissions, "admin") {
			writeError(w, http.StatusForbidden, "no_access", "no access to admin")
			return
		}
	}
	payload := map[string]any{
		"contentDir":  s.registry.ContentDir(),
		"backend":     string(s.backend),
		"collections": s.registry.GetAllMeta(),
	}
	// Relational backends keep their own collection registry; report it
	// alongside the directory scan so the diagnostics cover both.
	if lister, ok := s.store.(collectionLister); ok {
		registered, err := lister.Collections(r.Context())
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		payload["registered"] = registered
	}
	writeJSON(w, http.StatusOK, payload)
}

type collectionLister interface {
	Collections(ctx context.Context) ([]string, error)
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pages)
}

// handlePageAccess is the route-guard check: allowed iff the session's
// normalized map has the slug explicitly true.
func (s *Server) handlePageAccess(w http.ResponseWriter, r *http.Request, slug string) {
	if s.cfg.OpenAccess {
		writeJSON(w, http.StatusOK, map[string]any{"slug": slug, "allowed": true})
		return
	}
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slug":    slug,
		"allowed": access.Allowed(session.Permissions, slug),
	})
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request, collection, id string) {
	if !s.cfg.OpenAccess {
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
	}
	ctx := r.Context()
	switch {
	case r.Method == http.MethodGet && id == "":
		items, err := s.store.GetAll(ctx, collection)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case r.Method == http.MethodGet:
		item, err := s.store.GetOne(ctx, collection, id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case r.Method == http.MethodPost && id == "":
		var fields map[string]any
		if err := s.decodeBody(w, r, &fields); err != nil {
			return
		}
		if err := s.schemas.Validate(collection, fields); err != nil {
			s.writeStoreError(w, err)
			return
		}
		item, err := s.store.Create(ctx, collection, fields)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.publishChange("item.created", collection, item.ID)
		writeJSON(w, http.StatusCreated, item)
	case r.Method == http.MethodPut && id != "":
		var patch map[string]any
		if err := s.decodeBody(w, r, &patch); err != nil {
			return
		}
		// Validate the item as it will look after the merge; a bare patch
		// legitimately omits fields the schema requires.
		existing, err := s.store.GetOne(ctx, collection, id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		if err := s.schemas.Validate(collection, mergedFields(existing, patch)); err != nil {
			s.writeStoreError(w, err)
			return
		}
		item, err := s.store.Update(ctx, collection, id, patch)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.publishChange("item.updated", collection, item.ID)
		writeJSON(w, http.StatusOK, item)
	case r.Method == http.MethodDelete && id != "":
		result, err := s.store.Delete(ctx, collection, id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.publishChange("item.deleted", collection, id)
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method for route")
	}
}

// mergedFields previews an update the way the stores apply it: shallow merge,
// envelope keys ignored.
func mergedFields(existing store.Item, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(existing.Fields)+len(patch))
	for k, v := range existing.Fields {
		merged[k] = v
	}
	for k, v := range patch {
		switch k {
		case "id", "createdAt", "updatedAt":
			continue
		}
		merged[k] = v
	}
	return merged
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return err
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "empty body")
		return store.ErrInvalidInput
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return err
	}
	return nil
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var validation *store.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, "invalid_payload", validation.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

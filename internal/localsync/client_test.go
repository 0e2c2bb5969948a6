package localsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackboard/trackboard/internal/store"
)

func TestHTTPClientRoundtrip(t *testing.T) {
	var gotCookie, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("trackboard_session"); err == nil {
			gotCookie = cookie.Value
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/projects":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id": "p-1", "name": "Acme"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/projects":
			gotContentType = r.Header.Get("Content-Type")
			var fields map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&fields))
			fields["id"] = "p-2"
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(fields)
		case r.Method == http.MethodDelete && r.URL.Path == "/collections/projects/p-2":
			_, _ = w.Write([]byte(`{"ok": true, "id": "p-2"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": {"code": "not_found", "message": "route not found"}}`))
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "session-1", server.Client())
	ctx := context.Background()

	items, err := client.GetCollection(ctx, "projects")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "p-1", items[0].ID)
	assert.Equal(t, "Acme", items[0].Fields["name"])
	assert.Equal(t, "session-1", gotCookie)

	created, err := client.CreateItem(ctx, "projects", map[string]any{"name": "Globex"})
	require.NoError(t, err)
	assert.Equal(t, "p-2", created.ID)
	assert.Equal(t, "application/json", gotContentType)

	require.NoError(t, client.DeleteItem(ctx, "projects", "p-2"))
}

func TestHTTPClientParsesErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"code": "not_found", "message": "item missing"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", server.Client())
	_, err := client.UpdateItem(context.Background(), "projects", "nope", map[string]any{"status": "Live"})
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "not_found", httpErr.Code)
	assert.Equal(t, "item missing", httpErr.Message)
	assert.ErrorIs(t, err, store.ErrNotFound, "a 404 satisfies the store's sentinel")
}

func TestHTTPClientNonEnvelopeErrorKeepsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", server.Client())
	_, err := client.Health(context.Background())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Empty(t, httpErr.Code)
	assert.Equal(t, "upstream exploded", httpErr.Message)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

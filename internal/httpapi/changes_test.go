package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestMutationsPublishChangeEvents(t *testing.T) {
	server, _ := newOpenServer(t)
	ch := server.changes.subscribe()
	defer server.changes.unsubscribe(ch)

	rec := doJSON(t, server, http.MethodPost, "/collections/projects", map[string]any{"name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id, _ := decodeItem(t, rec)["id"].(string)

	doJSON(t, server, http.MethodPut, "/collections/projects/"+id, map[string]any{"status": "Live"})
	doJSON(t, server, http.MethodDelete, "/collections/projects/"+id, nil)

	types := []string{}
	for i := 0; i < 3; i++ {
		select {
		case event := <-ch:
			types = append(types, event.Type)
			assert.Equal(t, "projects", event.Collection)
			assert.Equal(t, id, event.ID)
			assert.NotEmpty(t, event.Timestamp)
		default:
			t.Fatal("expected three buffered change events")
		}
	}
	assert.Equal(t, []string{"item.created", "item.updated", "item.deleted"}, types)
}

func TestSlowSubscriberLosesEventsWithoutBlocking(t *testing.T) {
	feed := newChangeFeed()
	ch := make(chan ChangeEvent) // unbuffered and never read
	feed.mu.Lock()
	feed.subscribers[ch] = struct{}{}
	feed.mu.Unlock()

	done := make(chan struct{})
	go func() {
		feed.publish(ChangeEvent{Type: "item.created", Collection: "projects", ID: "p-1"})
		close(done)
	}()
	<-done
}

func TestChangeFeedRequiresSession(t *testing.T) {
	server := newAuthServer(t)

	rec := doJSON(t, server, http.MethodGet, "/v1/changes", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", errorCode(t, rec))

	req := httptest.NewRequest(http.MethodGet, "/v1/changes", nil)
	req.Header.Set("Accept", "text/html")
	htmlRec := httptest.NewRecorder()
	server.ServeHTTP(htmlRec, req)
	assert.Equal(t, http.StatusFound, htmlRec.Code)

	seedUser(t, server, "ops@example.com", "hunter22", map[string]any{"projects": true}, false)
	cookie := login(t, server, "ops@example.com", "hunter22")
	rec = doJSON(t, server, http.MethodGet, "/v1/changes", nil, cookie)
	// Past the gate a plain GET fails the websocket handshake instead.
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
}

func TestChangeFeedStreamsOnlyToAuthenticatedSockets(t *testing.T) {
	server := newAuthServer(t)
	seedUser(t, server, "ops@example.com", "hunter22", map[string]any{"projects": true}, false)
	cookie := login(t, server, "ops@example.com", "hunter22")

	ts := httptest.NewServer(server)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/changes"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	anonConn, _, err := websocket.Dial(ctx, wsURL, nil)
	if anonConn != nil {
		defer anonConn.Close(websocket.StatusNormalClosure, "")
	}
	require.Error(t, err, "anonymous dial must not reach the feed")

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": []string{cookie.Name + "=" + cookie.Value}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The handler subscribes just after the handshake; wait for it before
	// publishing.
	require.Eventually(t, func() bool {
		server.changes.mu.Lock()
		defer server.changes.mu.Unlock()
		return len(server.changes.subscribers) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := doJSON(t, server, http.MethodPost, "/collections/projects", map[string]any{"name": "Acme"}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)
	id, _ := decodeItem(t, rec)["id"].(string)

	var event ChangeEvent
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, "item.created", event.Type)
	assert.Equal(t, "projects", event.Collection)
	assert.Equal(t, id, event.ID)
}

func TestFailedMutationPublishesNothing(t *testing.T) {
	server, _ := newOpenServer(t)
	ch := server.changes.subscribe()
	defer server.changes.unsubscribe(ch)

	rec := doJSON(t, server, http.MethodPut, "/collections/projects/nope", map[string]any{"status": "Live"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	select {
	case event := <-ch:
		t.Fatalf("unexpected event %+v for a failed mutation", event)
	default:
	}
}

package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/trackboard/trackboard/internal/store"
)

// ChangeEvent is broadcast to websocket subscribers after every successful
// mutation, the live half of the diagnostics surface.
type ChangeEvent struct {
	Type       string `json:"type"` // item.created | item.updated | item.deleted
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
}

type changeFeed struct {
	mu          sync.Mutex
	subscribers map[chan ChangeEvent]struct{}
}

func newChangeFeed() *changeFeed {
	return &changeFeed{subscribers: map[chan ChangeEvent]struct{}{}}
}

func (f *changeFeed) subscribe() chan ChangeEvent {
	ch := make(chan ChangeEvent, 32)
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *changeFeed) unsubscribe(ch chan ChangeEvent) {
	f.mu.Lock()
	delete(f.subscribers, ch)
	f.mu.Unlock()
}

// publish fans the event out. A subscriber that cannot keep up loses events
// rather than blocking the mutation path.
func (f *changeFeed) publish(event ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *Server) publishChange(eventType, collection, id string) {
	s.changes.publish(ChangeEvent{
		Type:       eventType,
		Collection: collection,
		ID:         id,
		Timestamp:  store.NowTimestamp(),
	})
}

// handleChanges upgrades to a websocket and streams change events until the
// client goes away. The feed carries collection names and item ids, so it is
// gated on a session the same as the collection routes.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.OpenAccess {
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ch := s.changes.subscribe()
	defer s.changes.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

package localsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trackboard/trackboard/internal/store"
)

const mirrorKeyPrefix = "trackboard."

// MirrorKey is the deterministic storage key for a collection's local copy.
func MirrorKey(collection string) string {
	return mirrorKeyPrefix + collection
}

// Mirror is the local copy of collections, one JSON object file per
// collection keyed by id. It may diverge from server state between a local
// write and its acknowledgment; the reload-time merge reconciles it.
type Mirror struct {
	dir  string
	logf func(format string, args ...any)

	mu   sync.Mutex
	data map[string]map[string]store.Item // collection → id → item
}

func NewMirror(dir string) *Mirror {
	return &Mirror{
		dir:  strings.TrimSpace(dir),
		logf: log.Printf,
		data: map[string]map[string]store.Item{},
	}
}

func (m *Mirror) filePath(collection string) string {
	return filepath.Join(m.dir, MirrorKey(collection)+".json")
}

func (m *Mirror) loadLocked(collection string) map[string]store.Item {
	if byID, ok := m.data[collection]; ok {
		return byID
	}
	byID := map[string]store.Item{}
	raw, err := os.ReadFile(m.filePath(collection))
	if err == nil {
		if err := json.Unmarshal(raw, &byID); err != nil {
			m.logf("mirror %s is corrupt, starting empty: %v", collection, err)
			byID = map[string]store.Item{}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		m.logf("mirror %s unreadable, starting empty: %v", collection, err)
	}
	m.data[collection] = byID
	return byID
}

func (m *Mirror) saveLocked(collection string) error {
	byID := m.data[collection]
	payload, err := json.Marshal(byID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}
	path := m.filePath(collection)
	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Snapshot returns the mirrored items for a collection keyed by id.
func (m *Mirror) Snapshot(collection string) map[string]store.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.loadLocked(collection)
	out := make(map[string]store.Item, len(byID))
	for id, it := range byID {
		out[id] = it
	}
	return out
}

// List returns the mirrored items sorted by id for stable iteration.
func (m *Mirror) List(collection string) []store.Item {
	byID := m.Snapshot(collection)
	items := make([]store.Item, 0, len(byID))
	for _, it := range byID {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// Count reports how many items the mirror holds for a collection.
func (m *Mirror) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loadLocked(collection))
}

// Put stores one item in the mirror.
func (m *Mirror) Put(collection string, item store.Item) error {
	if item.ID == "" {
		return fmt.Errorf("mirror put without id: %w", store.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.loadLocked(collection)
	byID[item.ID] = item
	return m.saveLocked(collection)
}

// Remove drops one item from the mirror. Removing a missing id is a no-op;
// the mirror is a cache, not the authority.
func (m *Mirror) Remove(collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.loadLocked(collection)
	delete(byID, id)
	return m.saveLocked(collection)
}

// Replace swaps the whole mirrored collection for merged.
func (m *Mirror) Replace(collection string, merged map[string]store.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := make(map[string]store.Item, len(merged))
	for id, it := range merged {
		byID[id] = it
	}
	m.data[collection] = byID
	return m.saveLocked(collection)
}

// Clear empties the mirrored collection.
func (m *Mirror) Clear(collection string) error {
	return m.Replace(collection, map[string]store.Item{})
}

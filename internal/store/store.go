// Package store holds the collection storage core: the file-backed
// collection store, the relational and mock backends, the registry that
// discovers collections on disk, and the backend factory that picks one
// of them at startup.
package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
)

// Item is the unit of storage in any collection. Domain fields (a project's
// name, a task's dueDate) live in Fields; the envelope carries identity and
// timestamps.
type Item struct {
	ID        string         `json:"id"`
	CreatedAt string         `json:"createdAt"`
	UpdatedAt string         `json:"updatedAt"`
	Fields    map[string]any `json:"-"`
}

// MarshalJSON flattens Fields next to the envelope keys so an Item
// round-trips as the flat JSON object callers send and receive.
func (it Item) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(it.Fields)+3)
	for k, v := range it.Fields {
		flat[k] = v
	}
	flat["id"] = it.ID
	if it.CreatedAt != "" {
		flat["createdAt"] = it.CreatedAt
	}
	if it.UpdatedAt != "" {
		flat["updatedAt"] = it.UpdatedAt
	}
	return json.Marshal(flat)
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	*it = itemFromMap(flat)
	return nil
}

func itemFromMap(flat map[string]any) Item {
	it := Item{Fields: map[string]any{}}
	for k, v := range flat {
		switch k {
		case "id":
			if s, ok := v.(string); ok {
				it.ID = s
			}
		case "createdAt":
			if s, ok := v.(string); ok {
				it.CreatedAt = s
			}
		case "updatedAt":
			if s, ok := v.(string); ok {
				it.UpdatedAt = s
			}
		default:
			it.Fields[k] = v
		}
	}
	return it
}

// DeleteResult is the acknowledgment returned by Delete.
type DeleteResult struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

// Store is the CRUD contract every backend implements. GetAll on an unknown
// collection yields an empty list, never an error. Update of a missing id
// fails with ErrNotFound on every backend; Delete of a missing id fails with
// ErrNotFound on the file backend but is a forgiving no-op success on the
// relational and mock backends.
type Store interface {
	GetAll(ctx context.Context, collection string) ([]Item, error)
	GetOne(ctx context.Context, collection, id string) (Item, error)
	Create(ctx context.Context, collection string, fields map[string]any) (Item, error)
	Update(ctx context.Context, collection, id string, patch map[string]any) (Item, error)
	Delete(ctx context.Context, collection, id string) (DeleteResult, error)
	Close() error
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewItemID returns a random UUID, falling back to a random base36 token
// when UUID generation is unavailable.
func NewItemID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	buf := make([]byte, 16)
	alphabetLen := big.NewInt(int64(len(base36Alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			buf[i] = base36Alphabet[time.Now().UnixNano()%int64(len(base36Alphabet))]
			continue
		}
		buf[i] = base36Alphabet[n.Int64()]
	}
	return string(buf)
}

// timestampLayout is RFC-3339 with a fixed-width fraction so timestamp text
// sorts the same way it compares as time.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NowTimestamp stamps mutations; every backend uses the same layout so
// updated_at ordering stays consistent across them.
func NowTimestamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

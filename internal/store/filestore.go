package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	collectionFileExt = ".json"
	tempFileInfix     = ".tmp-"
)

// FileStore keeps each collection as one JSON array file under ContentDir.
// Writes go through a uniquely-named temp file in the same directory followed
// by an atomic rename, so readers see either the fully-old or the fully-new
// file. There is no locking beyond the rename: two writers racing on the same
// collection lose one update (last rename wins), which is an accepted
// limitation of this store.
type FileStore struct {
	contentDir string
	logf       func(format string, args ...any)
}

func NewFileStore(contentDir string) *FileStore {
	return &FileStore{
		contentDir: strings.TrimSpace(contentDir),
		logf:       log.Printf,
	}
}

func (s *FileStore) collectionPath(collection string) string {
	return filepath.Join(s.contentDir, collection+collectionFileExt)
}

// ensureCollectionFile materializes a missing collection as an empty array.
// Idempotent.
func (s *FileStore) ensureCollectionFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return s.writeAtomic(path, []Item{})
}

func (s *FileStore) readCollection(path string) ([]Item, error) {
	if err := s.ensureCollectionFile(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		// Corruption is swallowed to keep reads available, but loudly.
		s.logf("collection file %s is corrupt, treating as empty: %v", path, err)
		return []Item{}, nil
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// writeAtomic serializes items to a timestamp-suffixed temp file in the same
// directory and renames it over path. A crash before the rename leaves the
// original file untouched.
func (s *FileStore) writeAtomic(path string, items []Item) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s%s%d", path, tempFileInfix, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *FileStore) GetAll(ctx context.Context, collection string) ([]Item, error) {
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	return s.readCollection(s.collectionPath(collection))
}

func (s *FileStore) GetOne(ctx context.Context, collection, id string) (Item, error) {
	items, err := s.GetAll(ctx, collection)
	if err != nil {
		return Item{}, err
	}
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return Item{}, ErrNotFound
}

func (s *FileStore) Create(ctx context.Context, collection string, fields map[string]any) (Item, error) {
	if err := validateCollectionName(collection); err != nil {
		return Item{}, err
	}
	path := s.collectionPath(collection)
	items, err := s.readCollection(path)
	if err != nil {
		return Item{}, err
	}
	item := itemFromMap(fields)
	if item.ID == "" {
		item.ID = NewItemID()
	}
	now := NowTimestamp()
	item.CreatedAt = now
	item.UpdatedAt = now
	items = append(items, item)
	if err := s.writeAtomic(path, items); err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *FileStore) Update(ctx context.Context, collection, id string, patch map[string]any) (Item, error) {
	if err := validateCollectionName(collection); err != nil {
		return Item{}, err
	}
	path := s.collectionPath(collection)
	items, err := s.readCollection(path)
	if err != nil {
		return Item{}, err
	}
	for i, it := range items {
		if it.ID != id {
			continue
		}
		merged := mergePatch(it, patch)
		merged.ID = id
		merged.UpdatedAt = NowTimestamp()
		items[i] = merged
		if err := s.writeAtomic(path, items); err != nil {
			return Item{}, err
		}
		return merged, nil
	}
	return Item{}, fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
}

func (s *FileStore) Delete(ctx context.Context, collection, id string) (DeleteResult, error) {
	if err := validateCollectionName(collection); err != nil {
		return DeleteResult{}, err
	}
	path := s.collectionPath(collection)
	items, err := s.readCollection(path)
	if err != nil {
		return DeleteResult{}, err
	}
	for i, it := range items {
		if it.ID != id {
			continue
		}
		items = append(items[:i], items[i+1:]...)
		if err := s.writeAtomic(path, items); err != nil {
			return DeleteResult{}, err
		}
		return DeleteResult{OK: true, ID: id}, nil
	}
	return DeleteResult{}, fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
}

func (s *FileStore) Close() error {
	return nil
}

// mergePatch shallow-merges patch over the existing item. Envelope keys in
// the patch are ignored except that a patched createdAt never survives; the
// caller re-stamps id and updatedAt.
func mergePatch(existing Item, patch map[string]any) Item {
	merged := Item{
		ID:        existing.ID,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: existing.UpdatedAt,
		Fields:    make(map[string]any, len(existing.Fields)+len(patch)),
	}
	for k, v := range existing.Fields {
		merged.Fields[k] = v
	}
	for k, v := range patch {
		switch k {
		case "id", "createdAt", "updatedAt":
			continue
		}
		merged.Fields[k] = v
	}
	return merged
}

func validateCollectionName(collection string) error {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return fmt.Errorf("empty collection name: %w", ErrInvalidInput)
	}
	if strings.ContainsAny(collection, "/\\") || collection == "." || collection == ".." {
		return fmt.Errorf("collection name %q: %w", collection, ErrInvalidInput)
	}
	return nil
}

package localsync

import (
	"context"
	"fmt"
	"log"

	"github.com/trackboard/trackboard/internal/store"
)

// EmptyCollectionByteThreshold is the file size at or below which a server
// collection is considered "just an empty array" for orphan detection. An
// empty collection file holds "[]" plus at most a little whitespace.
const EmptyCollectionByteThreshold = 8

// Syncer ties the mirror and the outbox together: every mutation lands in
// the mirror first (zero-latency reads for the caller) and then rides the
// outbox to the server. Reads come straight from the mirror.
type Syncer struct {
	mirror *Mirror
	outbox *Outbox
	client RemoteClient
	logf   func(format string, args ...any)
}

func NewSyncer(mirror *Mirror, outbox *Outbox, client RemoteClient) *Syncer {
	return &Syncer{
		mirror: mirror,
		outbox: outbox,
		client: client,
		logf:   log.Printf,
	}
}

// List reads the mirrored collection.
func (s *Syncer) List(collection string) []store.Item {
	return s.mirror.List(collection)
}

// Create applies the item to the mirror and enqueues the server create. The
// id is generated locally so the mirror and the server agree on identity.
func (s *Syncer) Create(collection string, fields map[string]any) (store.Item, error) {
	item := itemFromFields(fields)
	if item.ID == "" {
		item.ID = store.NewItemID()
	}
	now := nowUTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := s.mirror.Put(collection, item); err != nil {
		return store.Item{}, err
	}
	payload := itemPayload(item)
	if _, err := s.outbox.Enqueue(collection, item.ID, OpCreate, payload); err != nil {
		return store.Item{}, err
	}
	return item, nil
}

// Update patches the mirrored item and enqueues the server update.
func (s *Syncer) Update(collection, id string, patch map[string]any) (store.Item, error) {
	snapshot := s.mirror.Snapshot(collection)
	existing, ok := snapshot[id]
	if !ok {
		return store.Item{}, fmt.Errorf("update %s/%s: %w", collection, id, store.ErrNotFound)
	}
	merged := patchItem(existing, patch)
	merged.UpdatedAt = nowUTC()
	if err := s.mirror.Put(collection, merged); err != nil {
		return store.Item{}, err
	}
	if _, err := s.outbox.Enqueue(collection, id, OpUpdate, patch); err != nil {
		return store.Item{}, err
	}
	return merged, nil
}

// Delete removes the mirrored item and enqueues the server delete.
func (s *Syncer) Delete(collection, id string) error {
	if err := s.mirror.Remove(collection, id); err != nil {
		return err
	}
	_, err := s.outbox.Enqueue(collection, id, OpDelete, nil)
	return err
}

// Reload fetches the server's collection and merges it over the mirror. For
// any id present in both, the server's value wins; ids present only locally
// survive, since they are creations that have not synced yet. The merged map
// becomes the new mirror.
func (s *Syncer) Reload(ctx context.Context, collection string) error {
	serverItems, err := s.client.GetCollection(ctx, collection)
	if err != nil {
		return err
	}
	merged := s.mirror.Snapshot(collection)
	for _, it := range serverItems {
		merged[it.ID] = it
	}
	return s.mirror.Replace(collection, merged)
}

// OrphanReport names a collection whose mirror holds items the server does
// not have.
type OrphanReport struct {
	Collection string
	LocalCount int
	ServerSize int64
}

// CheckOrphans compares each mirrored collection against the server's health
// metadata. A collection is orphaned when the server file is missing or
// holds no more than an empty array while the mirror has items.
func (s *Syncer) CheckOrphans(ctx context.Context, collections []string) ([]OrphanReport, error) {
	health, err := s.client.Health(ctx)
	if err != nil {
		return nil, err
	}
	sizeByName := make(map[string]int64, len(health.Collections))
	existsByName := make(map[string]bool, len(health.Collections))
	for _, meta := range health.Collections {
		sizeByName[meta.Name] = meta.Size
		existsByName[meta.Name] = meta.Exists
	}
	reports := []OrphanReport{}
	for _, collection := range collections {
		localCount := s.mirror.Count(collection)
		if localCount == 0 {
			continue
		}
		size := sizeByName[collection]
		if !existsByName[collection] || size <= EmptyCollectionByteThreshold {
			reports = append(reports, OrphanReport{
				Collection: collection,
				LocalCount: localCount,
				ServerSize: size,
			})
		}
	}
	return reports, nil
}

// UploadOrphans pushes every mirrored item of the collection to the server,
// one create per item in id order, then clears the mirror. Per-item failures
// abort so nothing is cleared out from under an unsynced item.
func (s *Syncer) UploadOrphans(ctx context.Context, collection string) error {
	for _, item := range s.mirror.List(collection) {
		if _, err := s.client.CreateItem(ctx, collection, itemPayload(item)); err != nil {
			return fmt.Errorf("upload %s/%s: %w", collection, item.ID, err)
		}
	}
	return s.mirror.Clear(collection)
}

// DiscardOrphans clears the mirror without uploading. This throws the
// orphaned records away; callers invoke it only on an explicit user
// dismissal.
func (s *Syncer) DiscardOrphans(collection string) error {
	return s.mirror.Clear(collection)
}

package localsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trackboard/trackboard/internal/store"
)

// Outbox op kinds.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Outbox record statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Record is one locally-applied mutation waiting to reach the server.
type Record struct {
	ID            string         `json:"id"`
	Collection    string         `json:"collection"`
	ItemID        string         `json:"itemId"`
	Op            string         `json:"op"`
	Payload       map[string]any `json:"payload,omitempty"`
	Status        string         `json:"status"`
	Attempts      int            `json:"attempts"`
	NextAttemptAt time.Time      `json:"nextAttemptAt"`
	LastError     string         `json:"lastError,omitempty"`
	EnqueuedAt    time.Time      `json:"enqueuedAt"`
}

// OutboxOptions tunes the drain loop.
type OutboxOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	PollEvery   time.Duration
}

// Outbox persists pending mutations to a JSON file and drains them against a
// RemoteClient in the background. Every local mutation becomes a record with
// an observable status instead of a dropped fire-and-forget call; a record
// that exhausts its attempts parks as failed and stays visible.
type Outbox struct {
	path   string
	client RemoteClient
	opts   OutboxOptions
	logf   func(format string, args ...any)

	mu      sync.Mutex
	records []Record

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOutbox(path string, client RemoteClient, opts OutboxOptions) (*Outbox, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = 500 * time.Millisecond
	}
	o := &Outbox{
		path:   path,
		client: client,
		opts:   opts,
		logf:   log.Printf,
	}
	if err := o.load(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Outbox) load() error {
	raw, err := os.ReadFile(o.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			o.records = []Record{}
			return nil
		}
		return err
	}
	var state struct {
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("parse outbox %s: %w", o.path, err)
	}
	o.records = state.Records
	if o.records == nil {
		o.records = []Record{}
	}
	return nil
}

func (o *Outbox) saveLocked() error {
	state := struct {
		Records []Record `json:"records"`
	}{Records: o.records}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp-%d", o.path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, o.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Enqueue appends a pending record.
func (o *Outbox) Enqueue(collection, itemID, op string, payload map[string]any) (Record, error) {
	record := Record{
		ID:            store.NewItemID(),
		Collection:    collection,
		ItemID:        itemID,
		Op:            op,
		Payload:       payload,
		Status:        StatusPending,
		NextAttemptAt: time.Now().UTC(),
		EnqueuedAt:    time.Now().UTC(),
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record)
	if err := o.saveLocked(); err != nil {
		o.records = o.records[:len(o.records)-1]
		return Record{}, err
	}
	return record, nil
}

// Records returns a snapshot of every record, pending and otherwise.
func (o *Outbox) Records() []Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Record, len(o.records))
	copy(out, o.records)
	return out
}

// PendingCount reports how many records still wait for the server.
func (o *Outbox) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.records {
		if r.Status == StatusPending {
			n++
		}
	}
	return n
}

// Start launches the background drain loop. Stop with Close.
func (o *Outbox) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.opts.PollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.DrainOnce(ctx)
			}
		}
	}()
}

func (o *Outbox) Close() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// DrainOnce attempts every pending record whose retry delay has elapsed.
// Sent records are pruned; a record that exhausts MaxAttempts parks as
// failed.
func (o *Outbox) DrainOnce(ctx context.Context) {
	now := time.Now().UTC()
	o.mu.Lock()
	due := make([]Record, 0)
	for _, r := range o.records {
		if r.Status == StatusPending && !r.NextAttemptAt.After(now) {
			due = append(due, r)
		}
	}
	o.mu.Unlock()

	for _, record := range due {
		err := o.send(ctx, record)
		o.mu.Lock()
		idx := o.indexLocked(record.ID)
		if idx < 0 {
			o.mu.Unlock()
			continue
		}
		if err == nil {
			o.records[idx].Status = StatusSent
			o.records = append(o.records[:idx], o.records[idx+1:]...)
		} else {
			o.records[idx].Attempts++
			o.records[idx].LastError = err.Error()
			if o.records[idx].Attempts >= o.opts.MaxAttempts {
				o.records[idx].Status = StatusFailed
				o.logf("outbox: %s %s/%s failed after %d attempts: %v",
					record.Op, record.Collection, record.ItemID, o.records[idx].Attempts, err)
			} else {
				o.records[idx].NextAttemptAt = now.Add(o.backoff(o.records[idx].Attempts))
			}
		}
		if saveErr := o.saveLocked(); saveErr != nil {
			o.logf("outbox: persist failed: %v", saveErr)
		}
		o.mu.Unlock()
	}
}

func (o *Outbox) indexLocked(recordID string) int {
	for i, r := range o.records {
		if r.ID == recordID {
			return i
		}
	}
	return -1
}

func (o *Outbox) backoff(attempts int) time.Duration {
	delay := o.opts.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= o.opts.MaxDelay {
			return o.opts.MaxDelay
		}
	}
	if delay > o.opts.MaxDelay {
		delay = o.opts.MaxDelay
	}
	return delay
}

func (o *Outbox) send(ctx context.Context, record Record) error {
	switch record.Op {
	case OpCreate:
		_, err := o.client.CreateItem(ctx, record.Collection, record.Payload)
		return err
	case OpUpdate:
		_, err := o.client.UpdateItem(ctx, record.Collection, record.ItemID, record.Payload)
		return err
	case OpDelete:
		err := o.client.DeleteItem(ctx, record.Collection, record.ItemID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown outbox op %q: %w", record.Op, store.ErrInvalidState)
	}
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	relationalItemsTable       = "trackboard_items"
	relationalCollectionsTable = "trackboard_collections"
	relationalPagesTable       = "trackboard_pages"
	relationalOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// RelationalStore keeps each item as one row keyed by (collection, id) with
// the item JSON in a payload column, plus a registry table of known
// collection names. The same SQL runs against postgres (lib/pq) and sqlite
// (modernc.org/sqlite); placeholders are rewritten for sqlite.
type RelationalStore struct {
	driver string
	dsn    string
	openDB sqlOpenFunc
	seeds  []PageSeed

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// PageSeed is a baseline reference row ensured once at bootstrap.
type PageSeed struct {
	Slug  string
	Title string
}

func NewRelationalStore(driver, dsn string, seeds []PageSeed) (*RelationalStore, error) {
	driver = strings.TrimSpace(driver)
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("relational store: empty dsn: %w", ErrInvalidInput)
	}
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("relational store: unsupported driver %q: %w", driver, ErrInvalidInput)
	}
	return &RelationalStore{
		driver: driver,
		dsn:    dsn,
		openDB: sql.Open,
		seeds:  seeds,
	}, nil
}

// rebind rewrites $N placeholders to ? for sqlite. Queries are written in
// postgres form.
func (s *RelationalStore) rebind(query string) string {
	if s.driver != "sqlite" {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte('$')
			continue
		}
		b.WriteByte('?')
		i = j - 1
	}
	return b.String()
}

// sqlite rewrites $N to plain ?, so arguments must arrive in placeholder
// order and no query may repeat a placeholder.

func (s *RelationalStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB(s.driverName(), s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), relationalOperationTimeout)
		defer cancel()
		for _, stmt := range []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				data TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (collection, id)
			)`, relationalItemsTable),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				created_at TEXT NOT NULL
			)`, relationalCollectionsTable),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				slug TEXT PRIMARY KEY,
				title TEXT NOT NULL
			)`, relationalPagesTable),
		} {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		for _, seed := range s.seeds {
			query := fmt.Sprintf(`INSERT INTO %s (slug, title) VALUES ($1, $2)
				ON CONFLICT (slug) DO NOTHING`, relationalPagesTable)
			if _, err := db.ExecContext(ctx, s.rebind(query), seed.Slug, seed.Title); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *RelationalStore) driverName() string {
	// lib/pq registers "postgres", modernc registers "sqlite".
	return s.driver
}

// ensureCollectionRegistered records a collection name on first use.
// Idempotent insert-if-absent.
func (s *RelationalStore) ensureCollectionRegistered(ctx context.Context, collection string) error {
	query := fmt.Sprintf(`INSERT INTO %s (name, created_at) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`, relationalCollectionsTable)
	_, err := s.db.ExecContext(ctx, s.rebind(query), collection, NowTimestamp())
	return err
}

// Collections lists the registered collection names, sorted.
func (s *RelationalStore) Collections(ctx context.Context) ([]string, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT name FROM %s ORDER BY name ASC", relationalCollectionsTable)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *RelationalStore) GetAll(ctx context.Context, collection string) ([]Item, error) {
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT data FROM %s WHERE collection = $1
		ORDER BY updated_at DESC, id ASC`, relationalItemsTable)
	rows, err := s.db.QueryContext(ctx, s.rebind(query), collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var item Item
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *RelationalStore) GetOne(ctx context.Context, collection, id string) (Item, error) {
	if err := validateCollectionName(collection); err != nil {
		return Item{}, err
	}
	if err := s.ensureReady(); err != nil {
		return Item{}, err
	}
	query := fmt.Sprintf("SELECT data FROM %s WHERE collection = $1 AND id = $2", relationalItemsTable)
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(query), collection, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Item{}, err
	}
	var item Item
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *RelationalStore) Create(ctx context.Context, collection string, fields map[string]any) (Item, error) {
	if err := validateCollectionName(collection); err != nil {
		return Item{}, err
	}
	if err := s.ensureReady(); err != nil {
		return Item{}, err
	}
	if err := s.ensureCollectionRegistered(ctx, collection); err != nil {
		return Item{}, err
	}
	item := itemFromMap(fields)
	if item.ID == "" {
		item.ID = NewItemID()
	}
	applyDefaultName(&item)
	now := NowTimestamp()
	item.CreatedAt = now
	item.UpdatedAt = now
	payload, err := json.Marshal(item)
	if err != nil {
		return Item{}, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`, relationalItemsTable)
	if _, err := s.db.ExecContext(ctx, s.rebind(query), collection, item.ID, string(payload), now, now); err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *RelationalStore) Update(ctx context.Context, collection, id string, patch map[string]any) (Item, error) {
	existing, err := s.GetOne(ctx, collection, id)
	if err != nil {
		return Item{}, err
	}
	merged := mergePatch(existing, patch)
	merged.ID = id
	merged.UpdatedAt = NowTimestamp()
	payload, err := json.Marshal(merged)
	if err != nil {
		return Item{}, err
	}
	query := fmt.Sprintf(`UPDATE %s SET data = $1, updated_at = $2
		WHERE collection = $3 AND id = $4`, relationalItemsTable)
	result, err := s.db.ExecContext(ctx, s.rebind(query), string(payload), merged.UpdatedAt, collection, id)
	if err != nil {
		return Item{}, err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return Item{}, fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	return merged, nil
}

// Delete is forgiving on this backend: deleting something already gone is a
// success, unlike Update which demands the row exist.
func (s *RelationalStore) Delete(ctx context.Context, collection, id string) (DeleteResult, error) {
	if err := validateCollectionName(collection); err != nil {
		return DeleteResult{}, err
	}
	if err := s.ensureReady(); err != nil {
		return DeleteResult{}, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE collection = $1 AND id = $2", relationalItemsTable)
	if _, err := s.db.ExecContext(ctx, s.rebind(query), collection, id); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{OK: true, ID: id}, nil
}

func (s *RelationalStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyDefaultName fills a missing name with "Untitled". A name nested under
// a data object also satisfies the requirement.
func applyDefaultName(item *Item) {
	if _, ok := item.Fields["name"]; ok {
		return
	}
	if data, ok := item.Fields["data"].(map[string]any); ok {
		if _, ok := data["name"]; ok {
			return
		}
	}
	if item.Fields == nil {
		item.Fields = map[string]any{}
	}
	item.Fields["name"] = "Untitled"
}

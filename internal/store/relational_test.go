package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelationalStore(t *testing.T, seeds []PageSeed) *RelationalStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "tracker.db")
	s, err := NewRelationalStore("sqlite", dsn, seeds)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRelationalStoreCRUD(t *testing.T) {
	s := newTestRelationalStore(t, nil)
	ctx := context.Background()

	created, err := s.Create(ctx, "projects", map[string]any{"name": "Acme", "status": "Idea"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	fetched, err := s.GetOne(ctx, "projects", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", fetched.Fields["name"])

	updated, err := s.Update(ctx, "projects", created.ID, map[string]any{"status": "Live"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Acme", updated.Fields["name"])
	assert.Equal(t, "Live", updated.Fields["status"])
	assert.Greater(t, updated.UpdatedAt, updated.CreatedAt)

	result, err := s.Delete(ctx, "projects", created.ID)
	require.NoError(t, err)
	assert.True(t, result.OK)

	_, err = s.GetOne(ctx, "projects", created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelationalStoreUpdateMissingIsNotFound(t *testing.T) {
	s := newTestRelationalStore(t, nil)
	_, err := s.Update(context.Background(), "projects", "missing", map[string]any{"a": 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelationalStoreDeleteMissingIsForgiving(t *testing.T) {
	s := newTestRelationalStore(t, nil)
	result, err := s.Delete(context.Background(), "projects", "missing")
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{OK: true, ID: "missing"}, result)
}

func TestRelationalStoreOrdering(t *testing.T) {
	s := newTestRelationalStore(t, nil)
	ctx := context.Background()

	first, err := s.Create(ctx, "tasks", map[string]any{"title": "one"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = s.Create(ctx, "tasks", map[string]any{"title": "two"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = s.Update(ctx, "tasks", first.ID, map[string]any{"status": "Done"})
	require.NoError(t, err)

	items, err := s.GetAll(ctx, "tasks")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID, "most recently updated first")
}

func TestRelationalStoreRegistersCollections(t *testing.T) {
	s := newTestRelationalStore(t, nil)
	ctx := context.Background()

	_, err := s.Create(ctx, "projects", map[string]any{"name": "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "projects", map[string]any{"name": "b"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "tasks", map[string]any{"title": "c"})
	require.NoError(t, err)

	names, err := s.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"projects", "tasks"}, names)
}

func TestRelationalStoreSeedsPagesOnce(t *testing.T) {
	seeds := []PageSeed{{Slug: "home", Title: "Home"}, {Slug: "admin", Title: "Admin"}}
	dsn := filepath.Join(t.TempDir(), "tracker.db")

	for run := 0; run < 2; run++ {
		s, err := NewRelationalStore("sqlite", dsn, seeds)
		require.NoError(t, err)
		require.NoError(t, s.ensureReady())

		rows, err := s.db.Query("SELECT slug FROM " + relationalPagesTable + " ORDER BY slug")
		require.NoError(t, err)
		slugs := []string{}
		for rows.Next() {
			var slug string
			require.NoError(t, rows.Scan(&slug))
			slugs = append(slugs, slug)
		}
		require.NoError(t, rows.Close())
		assert.Equal(t, []string{"admin", "home"}, slugs, "run %d", run)
		require.NoError(t, s.Close())
	}
}

func TestRebindRewritesPlaceholdersForSQLite(t *testing.T) {
	s := &RelationalStore{driver: "sqlite"}
	assert.Equal(t, "SELECT ? WHERE a = ? AND b = ?", s.rebind("SELECT $1 WHERE a = $2 AND b = $12"))
	pg := &RelationalStore{driver: "postgres"}
	assert.Equal(t, "SELECT $1", pg.rebind("SELECT $1"))
}

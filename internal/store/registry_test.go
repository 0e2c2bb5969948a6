package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryListsSortedCollectionNames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"tasks.json", "projects.json", "users.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("[]"), 0o644))
	}
	// Noise the scan must ignore.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "projects.json.tmp-1712"), []byte("["), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub.json"), 0o755))

	r := NewRegistry(dir)
	assert.Equal(t, []string{"projects", "tasks", "users"}, r.GetCollections())
}

func TestRegistryCreatesMissingContentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "content")
	r := NewRegistry(dir)
	assert.Empty(t, r.GetCollections())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRegistryMeta(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a"}]`), 0o644))

	r := NewRegistry(dir)
	meta := r.GetCollectionMeta("projects")
	assert.Equal(t, "projects", meta.Name)
	assert.Equal(t, path, meta.Path)
	assert.True(t, meta.Exists)
	assert.Equal(t, int64(len(`[{"id":"a"}]`)), meta.Size)
	require.NotNil(t, meta.MTime)
}

func TestRegistryMetaMissingFile(t *testing.T) {
	r := NewRegistry(t.TempDir())
	meta := r.GetCollectionMeta("ghost")
	assert.False(t, meta.Exists)
	assert.Zero(t, meta.Size)
	assert.Nil(t, meta.MTime)
}

func TestRegistryWatcherTracksNewCollections(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	r.logf = func(format string, args ...any) {}
	r.Watch()
	defer r.Close()

	assert.Empty(t, r.GetCollections())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "projects.json"), []byte("[]"), 0o644))
	assert.Eventually(t, func() bool {
		names := r.GetCollections()
		return len(names) == 1 && names[0] == "projects"
	}, 2*time.Second, 10*time.Millisecond)
}

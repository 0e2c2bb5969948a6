package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackboard/trackboard/internal/store"
)

func writeLegacyFile(t *testing.T, dir, name, payload string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(payload), 0o644))
}

func newQuietReconciler(target store.Store) *Reconciler {
	r := NewReconciler(target)
	r.logf = func(format string, args ...any) {}
	return r
}

func TestRunImportsLegacyCollections(t *testing.T) {
	dir := t.TempDir()
	writeLegacyFile(t, dir, "projects.json", `[
		{"id": "p-1", "name": "Acme", "createdAt": "2024-01-01T00:00:00.000000000Z", "updatedAt": "2024-01-01T00:00:00.000000000Z"},
		{"id": "p-2", "name": "Globex", "createdAt": "2024-01-02T00:00:00.000000000Z", "updatedAt": "2024-01-02T00:00:00.000000000Z"}
	]`)
	writeLegacyFile(t, dir, "tasks.json", `[{"id": "t-1", "title": "Ship it"}]`)

	target := store.NewMockStore()
	report, err := newQuietReconciler(target).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Collections)
	assert.Equal(t, 3, report.Imported)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, report.Failed)

	projects, err := target.GetAll(context.Background(), "projects")
	require.NoError(t, err)
	require.Len(t, projects, 2)
	tasks, err := target.GetAll(context.Background(), "tasks")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t-1", tasks[0].ID)
}

func TestRerunSkipsExistingIDs(t *testing.T) {
	dir := t.TempDir()
	writeLegacyFile(t, dir, "projects.json", `[{"id": "p-1", "name": "Acme"}]`)

	target := store.NewMockStore()
	reconciler := newQuietReconciler(target)

	first, err := reconciler.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Imported)

	second, err := reconciler.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, second.Imported)
	assert.Equal(t, 1, second.Skipped, "a rerun never duplicates records")

	projects, err := target.GetAll(context.Background(), "projects")
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestRerunNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	writeLegacyFile(t, dir, "projects.json", `[{"id": "p-1", "name": "Legacy Name"}]`)

	target := store.NewMockStore()
	reconciler := newQuietReconciler(target)
	_, err := reconciler.Run(context.Background(), dir)
	require.NoError(t, err)

	_, err = target.Update(context.Background(), "projects", "p-1", map[string]any{"name": "Edited Live"})
	require.NoError(t, err)

	_, err = reconciler.Run(context.Background(), dir)
	require.NoError(t, err)

	item, err := target.GetOne(context.Background(), "projects", "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Edited Live", item.Fields["name"])
}

func TestUnparsableFileIsSkippedWhole(t *testing.T) {
	dir := t.TempDir()
	writeLegacyFile(t, dir, "broken.json", `{"not": "an array"}`)
	writeLegacyFile(t, dir, "projects.json", `[{"id": "p-1", "name": "Acme"}]`)

	target := store.NewMockStore()
	report, err := newQuietReconciler(target).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Collections)
	assert.Equal(t, 1, report.Imported)

	broken, err := target.GetAll(context.Background(), "broken")
	require.NoError(t, err)
	assert.Empty(t, broken)
}

func TestRunIgnoresTempAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeLegacyFile(t, dir, "projects.json", `[{"id": "p-1", "name": "Acme"}]`)
	writeLegacyFile(t, dir, "projects.json.tmp-123456", `[{"id": "ghost"}]`)
	writeLegacyFile(t, dir, "notes.txt", "not json at all")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir.json"), 0o755))

	target := store.NewMockStore()
	report, err := newQuietReconciler(target).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Collections)
	assert.Equal(t, 1, report.Imported)
}

func TestMissingDirIsAnError(t *testing.T) {
	target := store.NewMockStore()
	_, err := newQuietReconciler(target).Run(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestItemsWithoutIDsGetGeneratedOnes(t *testing.T) {
	dir := t.TempDir()
	writeLegacyFile(t, dir, "projects.json", `[{"name": "Acme"}]`)

	target := store.NewMockStore()
	report, err := newQuietReconciler(target).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)

	projects, err := target.GetAll(context.Background(), "projects")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.NotEmpty(t, projects[0].ID)
}

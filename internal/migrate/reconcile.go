// Package migrate moves legacy per-collection JSON files into the current
// backing store. The batch is partial-success: individual records that fail
// are logged and skipped, and records whose ids already exist are treated as
// already satisfied, so rerunning an interrupted import is safe.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/trackboard/trackboard/internal/store"
)

// Report totals one reconciliation run.
type Report struct {
	Collections int
	Imported    int
	Skipped     int
	Failed      int
}

// Reconciler imports legacy collection files through the live store
// interface rather than a bespoke parsing path.
type Reconciler struct {
	target store.Store
	logf   func(format string, args ...any)
}

func NewReconciler(target store.Store) *Reconciler {
	return &Reconciler{target: target, logf: log.Printf}
}

// Run walks every *.json file in legacyDir and imports its records. Files
// that do not parse as item arrays are logged and skipped whole; temp files
// from interrupted atomic writes are ignored.
func (r *Reconciler) Run(ctx context.Context, legacyDir string) (Report, error) {
	entries, err := os.ReadDir(legacyDir)
	if err != nil {
		return Report{}, fmt.Errorf("read legacy dir %s: %w", legacyDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") || strings.Contains(name, ".tmp-") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var report Report
	for _, name := range names {
		collection := strings.TrimSuffix(name, ".json")
		collectionReport, err := r.importCollection(ctx, collection, filepath.Join(legacyDir, name))
		if err != nil {
			r.logf("migrate: skipping %s: %v", name, err)
			continue
		}
		report.Collections++
		report.Imported += collectionReport.Imported
		report.Skipped += collectionReport.Skipped
		report.Failed += collectionReport.Failed
	}
	return report, nil
}

func (r *Reconciler) importCollection(ctx context.Context, collection, path string) (Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	var items []store.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return Report{}, fmt.Errorf("not an item array: %w", err)
	}

	var report Report
	for _, item := range items {
		switch err := r.importItem(ctx, collection, item); {
		case err == nil:
			report.Imported++
		case errors.Is(err, errAlreadyPresent):
			report.Skipped++
		default:
			report.Failed++
			r.logf("migrate: %s/%s: %v", collection, item.ID, err)
		}
	}
	return report, nil
}

var errAlreadyPresent = errors.New("already present")

// importItem creates one record, skipping ids the target already holds. The
// duplicate check is a lookup, never an overwrite.
func (r *Reconciler) importItem(ctx context.Context, collection string, item store.Item) error {
	if item.ID != "" {
		if _, err := r.target.GetOne(ctx, collection, item.ID); err == nil {
			return errAlreadyPresent
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return err
	}
	_, err = r.target.Create(ctx, collection, fields)
	return err
}

package store

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CollectionMeta reports the on-disk state of one collection file. A missing
// file is Exists=false with zeroed size and nil mtime, never an error.
type CollectionMeta struct {
	Name   string     `json:"name"`
	Path   string     `json:"path"`
	Size   int64      `json:"size"`
	MTime  *time.Time `json:"mtime"`
	Exists bool       `json:"exists"`
}

// Registry discovers collections by scanning the content directory. When the
// fsnotify watcher is running it keeps a cached name list current so the
// health surface does not rescan on every request; if the watcher cannot be
// started the registry degrades to scanning on demand.
type Registry struct {
	contentDir string
	logf       func(format string, args ...any)

	mu      sync.RWMutex
	cached  []string
	watched bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewRegistry(contentDir string) *Registry {
	return &Registry{
		contentDir: strings.TrimSpace(contentDir),
		logf:       log.Printf,
	}
}

// Watch starts the fsnotify loop. Failure to start is logged and left behind:
// the registry still works, it just scans the directory each call.
func (r *Registry) Watch() {
	if err := os.MkdirAll(r.contentDir, 0o755); err != nil {
		r.logf("registry: cannot create content dir %s: %v", r.contentDir, err)
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logf("registry: watcher unavailable, falling back to direct scans: %v", err)
		return
	}
	if err := watcher.Add(r.contentDir); err != nil {
		r.logf("registry: cannot watch %s, falling back to direct scans: %v", r.contentDir, err)
		_ = watcher.Close()
		return
	}
	r.mu.Lock()
	r.watcher = watcher
	r.done = make(chan struct{})
	r.cached = r.scan()
	r.watched = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				names := r.scan()
				r.mu.Lock()
				r.cached = names
				r.mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logf("registry: watch error: %v", err)
			}
		}
	}()
}

func (r *Registry) Close() error {
	r.mu.Lock()
	watcher := r.watcher
	done := r.done
	r.watcher = nil
	r.watched = false
	r.mu.Unlock()
	if watcher == nil {
		return nil
	}
	close(done)
	err := watcher.Close()
	r.wg.Wait()
	return err
}

// GetCollections lists collection names sorted lexicographically. Temp files
// left behind by an interrupted atomic write are never collections. Any scan
// failure yields an empty list; discovery callers never see an error.
func (r *Registry) GetCollections() []string {
	r.mu.RLock()
	if r.watched {
		names := append([]string(nil), r.cached...)
		r.mu.RUnlock()
		return names
	}
	r.mu.RUnlock()
	return r.scan()
}

func (r *Registry) scan() []string {
	if err := os.MkdirAll(r.contentDir, 0o755); err != nil {
		return []string{}
	}
	entries, err := os.ReadDir(r.contentDir)
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, collectionFileExt) {
			continue
		}
		if strings.Contains(name, tempFileInfix) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, collectionFileExt))
	}
	sort.Strings(names)
	return names
}

// GetCollectionMeta stats one collection file. Never returns an error.
func (r *Registry) GetCollectionMeta(name string) CollectionMeta {
	meta := CollectionMeta{
		Name: name,
		Path: filepath.Join(r.contentDir, name+collectionFileExt),
	}
	info, err := os.Stat(meta.Path)
	if err != nil {
		return meta
	}
	mtime := info.ModTime().UTC()
	meta.Size = info.Size()
	meta.MTime = &mtime
	meta.Exists = true
	return meta
}

// GetAllMeta reports metadata for every discovered collection.
func (r *Registry) GetAllMeta() []CollectionMeta {
	names := r.GetCollections()
	metas := make([]CollectionMeta, 0, len(names))
	for _, name := range names {
		metas = append(metas, r.GetCollectionMeta(name))
	}
	return metas
}

// ContentDir reports the directory the registry scans.
func (r *Registry) ContentDir() string {
	return r.contentDir
}

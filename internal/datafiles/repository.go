package datafiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/variantopt/weightopt/pkg/log"
)

// ErrNotFound is returned by Get for a path that was never loaded or has
// since been removed from the source.
var ErrNotFound = errors.New("datafiles: unknown path")

// Datafile is one loaded, parsed document, identified by its path key.
type Datafile struct {
	Path string
	Tree Tree
}

// Repository loads every datafile from a Source on Reload and serves the
// parsed, in-memory result read-only until the next explicit Reload. There
// is no file-watcher; reload is triggered externally.
type Repository struct {
	source Source
	schema *jsonschema.Schema

	mu    sync.RWMutex
	files map[string]*Datafile
}

func NewRepository(source Source) (*Repository, error) {
	sch, err := compileSanitySchema()
	if err != nil {
		return nil, fmt.Errorf("datafiles: compiling sanity schema: %w", err)
	}
	return &Repository{
		source: source,
		schema: sch,
		files:  make(map[string]*Datafile),
	}, nil
}

// Reload re-lists and re-parses every datafile from the source, atomically
// swapping in the new set once all of it is ready. A single bad file logs a
// warning and is skipped rather than aborting the whole reload, since a
// malformed datafile elsewhere in the tree should not take every other
// datafile down with it.
func (r *Repository) Reload(ctx context.Context) error {
	paths, err := r.source.List(ctx)
	if err != nil {
		return fmt.Errorf("datafiles: listing source: %w", err)
	}

	next := make(map[string]*Datafile, len(paths))
	for _, path := range paths {
		raw, err := r.source.Read(ctx, path)
		if err != nil {
			log.Warnf("datafiles: skipping %s: %s", path, err)
			continue
		}
		if err := validate(r.schema, raw); err != nil {
			log.Warnf("datafiles: skipping %s: %s", path, err)
			continue
		}

		var tree Tree
		if err := json.Unmarshal(raw, &tree); err != nil {
			log.Warnf("datafiles: skipping %s: %s", path, err)
			continue
		}
		next[path] = &Datafile{Path: path, Tree: tree}
	}

	r.mu.Lock()
	r.files = next
	r.mu.Unlock()

	log.Infof("datafiles: loaded %d datafile(s)", len(next))
	return nil
}

// Get returns the cached parsed form of path. The returned Tree is shared
// and read-only after load; callers that need to mutate it (the weight
// overlay) must deep-copy first.
func (r *Repository) Get(path string) (*Datafile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	df, ok := r.files[path]
	if !ok {
		return nil, ErrNotFound
	}
	return df, nil
}

// Paths lists every currently loaded datafile path, used by the scheduler
// to recognize which (datafile, feature) groups still exist.
func (r *Repository) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.files))
	for p := range r.files {
		paths = append(paths, p)
	}
	return paths
}

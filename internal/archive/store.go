// Package archive persists terminal results and feeds them back to the
// query side: a directory-backed store keyed by correlation id, and the
// archiver that drains the result queue into it.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Store is a one-file-per-correlation-id result store. Writes for different
// ids never collide; a given id is written by exactly one terminal message,
// so no locking is needed beyond what the filesystem provides.
type Store struct {
	dir string
}

// NewStore creates the backing directory if needed and returns the store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create store dir %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Write stores the raw payload for id, overwriting any prior content.
func (s *Store) Write(id string, payload []byte) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("archive: write %q: %w", id, err)
	}
	return nil
}

// Read returns the stored payload for id. A missing id reports
// os.ErrNotExist — absence is the expected state for an in-flight chain and
// is indistinguishable from a never-submitted id.
func (s *Store) Read(id string) ([]byte, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("archive: read %q: %w", id, err)
	}
	return data, nil
}

// Wait blocks until the result for id exists, then returns its payload. It
// watches the store directory so a result that lands after the call began is
// picked up without polling. Returns ctx.Err() if the context is cancelled
// first.
func (s *Store) Wait(ctx context.Context, id string) ([]byte, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("archive: create watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	if err := watcher.Add(s.dir); err != nil {
		return nil, fmt.Errorf("archive: watch %q: %w", s.dir, err)
	}

	// The result may already exist; check only after the watch is in place
	// so a write between check and watch cannot be missed.
	if data, err := s.Read(id); err == nil {
		return data, nil
	}

	path, err := s.path(id)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("archive: watcher closed waiting for %q", id)
			}
			if event.Name != path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			data, err := s.Read(id)
			if err != nil {
				// The file may have been renamed into place and not be
				// readable yet on the next event; keep waiting.
				continue
			}
			return data, nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("archive: watcher closed waiting for %q", id)
			}
			return nil, fmt.Errorf("archive: watcher error: %w", err)
		}
	}
}

// path maps id to its file under the store directory. Ids are minted as
// UUIDs, but anything that would escape the directory is rejected outright.
func (s *Store) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("archive: invalid id %q", id)
	}
	return filepath.Join(s.dir, id), nil
}

// Package decisionstore provides persistent approval.Store implementations:
// a directory of JSON files for single-machine and CI use, and Redis for
// gates shared between runners.
package decisionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/fsnotify/fsnotify"

	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// FileStore keeps each decision in <dir>/<id>.pending.json and, once
// resolved, <dir>/<id>.decided.json. The decided file is published with a
// hard link, which fails when it already exists, so exactly one resolution
// wins even across processes.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("decision directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create decision directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) pendingPath(id string) string {
	return filepath.Join(s.dir, id+".pending.json")
}

func (s *FileStore) decidedPath(id string) string {
	return filepath.Join(s.dir, id+".decided.json")
}

func checkID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid decision id %q", id)
	}
	return nil
}

// Create writes the pending file exclusively.
func (s *FileStore) Create(_ context.Context, d approval.Decision) error {
	if err := checkID(d.ID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	f, err := os.OpenFile(s.pendingPath(d.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return approval.ErrExists
	}
	if err != nil {
		return fmt.Errorf("failed to create decision: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write decision: %w", err)
	}
	return f.Close()
}

// Get prefers the decided file over the pending one.
func (s *FileStore) Get(_ context.Context, id string) (approval.Decision, error) {
	if err := checkID(id); err != nil {
		return approval.Decision{}, err
	}
	d, err := readDecision(s.decidedPath(id))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return approval.Decision{}, err
	}
	d, err = readDecision(s.pendingPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return approval.Decision{}, approval.ErrNotFound
	}
	return d, err
}

// Resolve publishes the decided file.
func (s *FileStore) Resolve(ctx context.Context, d approval.Decision) error {
	if _, err := s.Get(ctx, d.ID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, d.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write decision: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write decision: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync decision: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Link(tmpPath, s.decidedPath(d.ID)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return approval.ErrAlreadyDecided
		}
		return fmt.Errorf("failed to publish decision: %w", err)
	}
	return nil
}

// Watch waits for the decided file to appear using fsnotify.
func (s *FileStore) Watch(ctx context.Context, id string) (<-chan approval.Decision, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch decision directory: %w", err)
	}

	ch := make(chan approval.Decision, 1)
	decided := s.decidedPath(id)

	// The decision may have landed before the watch was registered.
	if d, err := readDecision(decided); err == nil {
		_ = watcher.Close()
		ch <- d
		close(ch)
		return ch, nil
	}

	go func() {
		defer close(ch)
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || filepath.Clean(event.Name) != decided {
					continue
				}
				d, err := readDecision(decided)
				if err != nil {
					continue
				}
				ch <- d
				return
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return ch, nil
}

func readDecision(path string) (approval.Decision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return approval.Decision{}, err
	}
	var d approval.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return approval.Decision{}, fmt.Errorf("corrupt decision file %s: %w", filepath.Base(path), err)
	}
	return d, nil
}

var _ approval.Store = (*FileStore)(nil)

package approval

import (
	"context"
	"sync"
)

// Store persists decisions. Resolve is set-once: the first resolution wins
// and every later one fails with ErrAlreadyDecided.
type Store interface {
	// Create stores a new pending decision. Fails with ErrExists when the ID is taken.
	Create(ctx context.Context, d Decision) error

	// Get returns the current decision or ErrNotFound.
	Get(ctx context.Context, id string) (Decision, error)

	// Resolve records a terminal decision.
	Resolve(ctx context.Context, d Decision) error

	// Watch delivers the decision once it is terminal, then closes the
	// channel. An already decided decision is delivered immediately. The
	// channel closes without a value when ctx ends.
	Watch(ctx context.Context, id string) (<-chan Decision, error)
}

// MemoryStore keeps decisions in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	decisions map[string]Decision
	watchers  map[string][]chan Decision
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decisions: make(map[string]Decision),
		watchers:  make(map[string][]chan Decision),
	}
}

// Create stores a pending decision.
func (s *MemoryStore) Create(_ context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[d.ID]; ok {
		return ErrExists
	}
	s.decisions[d.ID] = d
	return nil
}

// Get returns a decision.
func (s *MemoryStore) Get(_ context.Context, id string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return Decision{}, ErrNotFound
	}
	return d, nil
}

// Resolve stores the terminal decision and wakes watchers.
func (s *MemoryStore) Resolve(_ context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.decisions[d.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Decided() {
		return ErrAlreadyDecided
	}
	s.decisions[d.ID] = d

	for _, ch := range s.watchers[d.ID] {
		ch <- d
		close(ch)
	}
	delete(s.watchers, d.ID)
	return nil
}

// Watch subscribes to the resolution of id.
func (s *MemoryStore) Watch(ctx context.Context, id string) (<-chan Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	ch := make(chan Decision, 1)
	if d.Decided() {
		ch <- d
		close(ch)
		return ch, nil
	}
	s.watchers[id] = append(s.watchers[id], ch)

	go func() {
		<-ctx.Done()
		s.unwatch(id, ch)
	}()
	return ch, nil
}

func (s *MemoryStore) unwatch(id string, ch chan Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.watchers[id]
	for i, c := range list {
		if c == ch {
			s.watchers[id] = append(list[:i], list[i+1:]...)
			close(ch)
			return
		}
	}
}

var _ Store = (*MemoryStore)(nil)

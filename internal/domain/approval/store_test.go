package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateGet(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "r-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Create(ctx, Decision{ID: "r-1", Status: StatusPending}))
	assert.ErrorIs(t, s.Create(ctx, Decision{ID: "r-1", Status: StatusPending}), ErrExists)

	got, err := s.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestMemoryStore_ResolveIsSetOnce(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	assert.ErrorIs(t, s.Resolve(ctx, Decision{ID: "missing", Status: StatusApproved}), ErrNotFound)

	require.NoError(t, s.Create(ctx, Decision{ID: "r-1", Status: StatusPending}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Resolve(ctx, Decision{ID: "r-1", Status: StatusApproved}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrAlreadyDecided)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_Watch(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Decision{ID: "r-1", Status: StatusPending}))

	ch, err := s.Watch(ctx, "r-1")
	require.NoError(t, err)

	go func() {
		_ = s.Resolve(ctx, Decision{ID: "r-1", Status: StatusRejected, Reason: ReasonRejected})
	}()

	select {
	case d := <-ch:
		assert.Equal(t, StatusRejected, d.Status)
	case <-time.After(time.Second):
		t.Fatal("watch did not deliver the decision")
	}

	late, err := s.Watch(ctx, "r-1")
	require.NoError(t, err)
	d, ok := <-late
	require.True(t, ok)
	assert.Equal(t, StatusRejected, d.Status)

	_, err = s.Watch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_WatchClosesOnCancel(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	require.NoError(t, s.Create(context.Background(), Decision{ID: "r-1", Status: StatusPending}))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Watch(ctx, "r-1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

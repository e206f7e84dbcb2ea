package decisionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
)

// resolveScript stores the decided record only when none exists, drops the
// pending key and notifies watchers in one atomic step.
// KEYS[1] = decided key, KEYS[2] = pending key
// ARGV[1] = decision JSON, ARGV[2] = channel
var resolveScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
if redis.call("EXISTS", KEYS[2]) == 0 then
    return -1
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("DEL", KEYS[2])
redis.call("PUBLISH", ARGV[2], ARGV[1])
return 1
`)

// RedisOptions configures the Redis store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces all keys (default "rollgate").
	Prefix string
	// PendingTTL expires unresolved decisions (0 = keep).
	PendingTTL time.Duration
}

// RedisStore keeps pending decisions with an optional TTL and publishes
// resolutions on a per-decision channel.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	pendingTTL time.Duration
}

// NewRedisStore connects to Redis.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(client, opts.Prefix, opts.PendingTTL)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, pendingTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "rollgate"
	}
	return &RedisStore{client: client, prefix: prefix, pendingTTL: pendingTTL}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) pendingKey(id string) string {
	return fmt.Sprintf("%s:decision:%s:pending", s.prefix, id)
}

func (s *RedisStore) decidedKey(id string) string {
	return fmt.Sprintf("%s:decision:%s:decided", s.prefix, id)
}

func (s *RedisStore) channel(id string) string {
	return fmt.Sprintf("%s:decision:%s", s.prefix, id)
}

// Create stores the pending decision with SETNX.
func (s *RedisStore) Create(ctx context.Context, d approval.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	exists, err := s.client.Exists(ctx, s.decidedKey(d.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check decision: %w", err)
	}
	if exists > 0 {
		return approval.ErrExists
	}
	ok, err := s.client.SetNX(ctx, s.pendingKey(d.ID), data, s.pendingTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to create decision: %w", err)
	}
	if !ok {
		return approval.ErrExists
	}
	return nil
}

// Get prefers the decided record.
func (s *RedisStore) Get(ctx context.Context, id string) (approval.Decision, error) {
	d, err := s.load(ctx, s.decidedKey(id))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, redis.Nil) {
		return approval.Decision{}, err
	}
	d, err = s.load(ctx, s.pendingKey(id))
	if errors.Is(err, redis.Nil) {
		return approval.Decision{}, approval.ErrNotFound
	}
	return d, err
}

func (s *RedisStore) load(ctx context.Context, key string) (approval.Decision, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return approval.Decision{}, err
	}
	var d approval.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return approval.Decision{}, fmt.Errorf("corrupt decision %s: %w", key, err)
	}
	return d, nil
}

// Resolve runs the set-once script.
func (s *RedisStore) Resolve(ctx context.Context, d approval.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	res, err := resolveScript.Run(ctx, s.client,
		[]string{s.decidedKey(d.ID), s.pendingKey(d.ID)},
		string(data), s.channel(d.ID),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to resolve decision: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return approval.ErrAlreadyDecided
	default:
		return approval.ErrNotFound
	}
}

// Watch subscribes to the decision channel. The subscription is confirmed
// before the decided key is checked so no resolution is missed. With a
// PendingTTL the channel is closed once the pending record has expired.
func (s *RedisStore) Watch(ctx context.Context, id string) (<-chan approval.Decision, error) {
	sub := s.client.Subscribe(ctx, s.channel(id))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	ch := make(chan approval.Decision, 1)
	if current.Decided() {
		_ = sub.Close()
		ch <- current
		close(ch)
		return ch, nil
	}

	go func() {
		defer close(ch)
		defer func() { _ = sub.Close() }()
		messages := sub.Channel()

		var expired <-chan time.Time
		var timer *time.Timer
		if wait := s.pendingExpiry(ctx, id); wait > 0 {
			timer = time.NewTimer(wait)
			defer timer.Stop()
			expired = timer.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-expired:
				d, err := s.Get(ctx, id)
				switch {
				case err != nil:
					return
				case d.Decided():
					ch <- d
					return
				}
				timer.Reset(s.pendingExpiry(ctx, id))
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var d approval.Decision
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil || !d.Decided() {
					continue
				}
				ch <- d
				return
			}
		}
	}()
	return ch, nil
}

// pendingExpiry returns how long the pending record has left, or 0 when
// pending records do not expire.
func (s *RedisStore) pendingExpiry(ctx context.Context, id string) time.Duration {
	if s.pendingTTL <= 0 {
		return 0
	}
	ttl, err := s.client.PTTL(ctx, s.pendingKey(id)).Result()
	if err != nil || ttl <= 0 {
		return expiryRecheck
	}
	return ttl + expiryRecheck
}

// expiryRecheck pads the expiry timer and paces rechecks.
const expiryRecheck = 50 * time.Millisecond

var _ approval.Store = (*RedisStore)(nil)

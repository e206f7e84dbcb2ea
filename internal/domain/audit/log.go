package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink persists records. Implementations only ever append.
type Sink interface {
	Append(ctx context.Context, record Record) error
	Close() error
}

// Resumer is implemented by sinks that can report the last stored record,
// letting a new Log continue an existing chain.
type Resumer interface {
	LastRecord(ctx context.Context) (Record, bool, error)
}

// Querier is implemented by sinks with a read side.
type Querier interface {
	Query(ctx context.Context, filter QueryFilter) ([]Record, error)
}

// Log serialises appends to a Sink and maintains the hash chain. The chain
// head lives in memory; callers never read back from the sink to append.
type Log struct {
	mu        sync.Mutex
	sink      Sink
	seq       int64
	lastHash  string
	now       func() time.Time
	newID     func() string
	callbacks []func(Record)
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) LogOption {
	return func(l *Log) {
		l.now = now
	}
}

// WithIDGenerator overrides record ID generation.
func WithIDGenerator(fn func() string) LogOption {
	return func(l *Log) {
		l.newID = fn
	}
}

// NewLog creates a log starting a fresh chain.
func NewLog(sink Sink, opts ...LogOption) *Log {
	l := &Log{
		sink:  sink,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenLog creates a log that continues the chain already stored in the sink
// when the sink implements Resumer.
func OpenLog(ctx context.Context, sink Sink, opts ...LogOption) (*Log, error) {
	l := NewLog(sink, opts...)
	if err := l.Resume(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Resume reloads the chain head from the sink. Call it when another process
// may have appended to the same sink since this log was opened. It is a
// no-op for sinks that do not implement Resumer.
func (l *Log) Resume(ctx context.Context) error {
	resumer, ok := l.sink.(Resumer)
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	last, found, err := resumer.LastRecord(ctx)
	if err != nil {
		return fmt.Errorf("failed to read audit chain head: %w", err)
	}
	if found {
		l.seq = last.Sequence
		l.lastHash = last.Hash
	}
	return nil
}

// OnAudit registers a callback invoked after every successful append.
// Callbacks run in append order while the log is locked and must not
// append to the same log.
func (l *Log) OnAudit(fn func(Record)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, fn)
}

// Append stamps the record with ID, timestamp, sequence and hashes, writes
// it to the sink and returns the stored form. A sink failure is returned and
// leaves the chain head unchanged.
func (l *Log) Append(ctx context.Context, record Record) (Record, error) {
	if err := record.Validate(); err != nil {
		return Record{}, fmt.Errorf("invalid audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record.ID = l.newID()
	record.Timestamp = l.now().UTC().Truncate(time.Microsecond)
	record.Sequence = l.seq + 1
	record.PreviousHash = l.lastHash
	record.Hash = record.ComputeHash()

	if err := l.sink.Append(ctx, record); err != nil {
		return Record{}, fmt.Errorf("audit append failed: %w", err)
	}

	l.seq = record.Sequence
	l.lastHash = record.Hash

	for _, fn := range l.callbacks {
		fn(record)
	}

	return record, nil
}

// Head returns the sequence and hash of the last appended record.
func (l *Log) Head() (int64, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq, l.lastHash
}

// Sink returns the underlying sink.
func (l *Log) Sink() Sink {
	return l.sink
}

// Close closes the sink.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.Close()
}

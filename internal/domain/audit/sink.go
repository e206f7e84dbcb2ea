package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileSink appends records as JSON lines with size based rotation.
type FileSink struct {
	mu           sync.Mutex
	dir          string
	maxSize      int64
	maxRotations int
	file         *os.File
	size         int64
}

// FileSinkConfig configures the file sink.
type FileSinkConfig struct {
	// Dir is the directory for log files.
	Dir string

	// MaxSize is the size of the current file that triggers rotation (default: 10MB).
	MaxSize int64

	// MaxRotations is the number of rotated files to keep (default: 10).
	MaxRotations int
}

// DefaultFileSinkConfig returns defaults rooted at dir.
func DefaultFileSinkConfig(dir string) FileSinkConfig {
	return FileSinkConfig{
		Dir:          dir,
		MaxSize:      10 * 1024 * 1024,
		MaxRotations: 10,
	}
}

// NewFileSink opens or creates the current log file in config.Dir.
func NewFileSink(config FileSinkConfig) (*FileSink, error) {
	if config.Dir == "" {
		return nil, errors.New("audit directory is required")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 10 * 1024 * 1024
	}
	if config.MaxRotations <= 0 {
		config.MaxRotations = 10
	}
	if err := os.MkdirAll(config.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	s := &FileSink{
		dir:          config.Dir,
		maxSize:      config.MaxSize,
		maxRotations: config.MaxRotations,
	}
	if err := s.openOrCreate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append writes one JSON line. The write is flushed to disk before return.
func (s *FileSink) Append(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("audit file sink is closed")
	}

	if s.size >= s.maxSize {
		if err := s.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	data = append(data, '\n')

	n, err := s.file.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	s.size += int64(n)

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

// LastRecord returns the newest stored record.
func (s *FileSink) LastRecord(_ context.Context) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.listLogFiles()
	if err != nil {
		return Record{}, false, err
	}
	for i := len(files) - 1; i >= 0; i-- {
		records, err := readLogFile(files[i])
		if err != nil {
			return Record{}, false, err
		}
		if len(records) > 0 {
			return records[len(records)-1], true, nil
		}
	}
	return Record{}, false, nil
}

// Query reads all log files oldest first and filters them.
func (s *FileSink) Query(_ context.Context, filter QueryFilter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAllLocked()
	if err != nil {
		return nil, err
	}
	return filter.Apply(records), nil
}

// ReadAll returns every stored record in chain order.
func (s *FileSink) ReadAll(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked()
}

// Close releases the file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *FileSink) readAllLocked() ([]Record, error) {
	files, err := s.listLogFiles()
	if err != nil {
		return nil, err
	}
	var all []Record
	for _, f := range files {
		records, err := readLogFile(f)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

func (s *FileSink) openOrCreate() error {
	file, err := os.OpenFile(s.currentLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat audit log: %w", err)
	}

	s.file = file
	s.size = info.Size()
	return nil
}

func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	s.file = nil

	rotated := filepath.Join(s.dir, fmt.Sprintf("audit-%s.jsonl", time.Now().UTC().Format("20060102-150405.000000000")))
	if err := os.Rename(s.currentLogPath(), rotated); err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := s.pruneRotated(); err != nil {
		return err
	}
	return s.openOrCreate()
}

func (s *FileSink) pruneRotated() error {
	files, err := s.listLogFiles()
	if err != nil {
		return err
	}
	var rotated []string
	for _, f := range files {
		if f != s.currentLogPath() {
			rotated = append(rotated, f)
		}
	}
	if len(rotated) > s.maxRotations {
		for _, f := range rotated[:len(rotated)-s.maxRotations] {
			_ = os.Remove(f)
		}
	}
	return nil
}

func (s *FileSink) currentLogPath() string {
	return filepath.Join(s.dir, "audit.jsonl")
}

// listLogFiles returns log files oldest first. Rotated names embed a
// timestamp and sort before the current file.
func (s *FileSink) listLogFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".jsonl" {
			files = append(files, filepath.Join(s.dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func readLogFile(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var records []Record
	decoder := json.NewDecoder(file)
	for {
		var r Record
		if err := decoder.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("corrupt audit log %s: %w", filepath.Base(path), err)
		}
		records = append(records, r)
	}
	return records, nil
}

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.RWMutex
	records []Record
	err     error
	failAt  int
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailWith makes every append from the n-th (1-based) onwards fail with err.
func (s *MemorySink) FailWith(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = n
	s.err = err
}

// Append stores the record.
func (s *MemorySink) Append(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && len(s.records)+1 >= s.failAt {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

// LastRecord returns the newest record.
func (s *MemorySink) LastRecord(_ context.Context) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return Record{}, false, nil
	}
	return s.records[len(s.records)-1], true, nil
}

// Query filters the stored records.
func (s *MemorySink) Query(_ context.Context, filter QueryFilter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filter.Apply(s.records), nil
}

// Records returns a copy of all stored records.
func (s *MemorySink) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Record, len(s.records))
	copy(result, s.records)
	return result
}

// Close is a no-op.
func (s *MemorySink) Close() error {
	return nil
}

// MultiSink appends to every sink in order. The first failure is returned;
// the primary sink is the first one and provides the read side.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Append writes to each sink and stops at the first error.
func (m *MultiSink) Append(ctx context.Context, record Record) error {
	for _, s := range m.sinks {
		if err := s.Append(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// LastRecord delegates to the primary sink.
func (m *MultiSink) LastRecord(ctx context.Context) (Record, bool, error) {
	if len(m.sinks) == 0 {
		return Record{}, false, nil
	}
	if r, ok := m.sinks[0].(Resumer); ok {
		return r.LastRecord(ctx)
	}
	return Record{}, false, nil
}

// Query delegates to the primary sink.
func (m *MultiSink) Query(ctx context.Context, filter QueryFilter) ([]Record, error) {
	if len(m.sinks) > 0 {
		if q, ok := m.sinks[0].(Querier); ok {
			return q.Query(ctx, filter)
		}
	}
	return nil, errors.New("audit sink has no read side")
}

// Close closes all sinks and returns the first error.
func (m *MultiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Sink    = (*FileSink)(nil)
	_ Sink    = (*MemorySink)(nil)
	_ Sink    = (*MultiSink)(nil)
	_ Resumer = (*FileSink)(nil)
	_ Resumer = (*MemorySink)(nil)
	_ Querier = (*FileSink)(nil)
	_ Querier = (*MemorySink)(nil)
)

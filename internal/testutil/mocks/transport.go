// Package mocks provides test doubles for testing.
package mocks

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"sync"

	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet/transport"
)

// Transport is a thread-safe in-memory transport. Each target gets its own
// file map; commands are answered from registered results.
type Transport struct {
	mu          sync.RWMutex
	name        string
	files       map[fleet.TargetID]map[string][]byte
	modes       map[fleet.TargetID]map[string]fs.FileMode
	commands    map[fleet.TargetID]map[string]transport.CommandResult
	connectErrs map[fleet.TargetID]error
	writeErrs   map[fleet.TargetID]error
	writes      []FileWrite
	connects    []fleet.TargetID
	// OnConnect runs before every connect, e.g. to block or count.
	OnConnect func(ctx context.Context, target *fleet.Target) error
}

// FileWrite records a WriteFile call.
type FileWrite struct {
	Target fleet.TargetID
	Path   string
	Data   string
	Mode   fs.FileMode
}

// DefaultFileMode is the mode reported for seeded files.
const DefaultFileMode fs.FileMode = 0o644

// NewTransport creates a mock transport registered under name.
func NewTransport(name string) *Transport {
	return &Transport{
		name:        name,
		files:       make(map[fleet.TargetID]map[string][]byte),
		modes:       make(map[fleet.TargetID]map[string]fs.FileMode),
		commands:    make(map[fleet.TargetID]map[string]transport.CommandResult),
		connectErrs: make(map[fleet.TargetID]error),
		writeErrs:   make(map[fleet.TargetID]error),
	}
}

// Name returns the registered name.
func (m *Transport) Name() string {
	return m.name
}

// SetFile seeds a file on a target with DefaultFileMode.
func (m *Transport) SetFile(id fleet.TargetID, path, content string) {
	m.SetFileWithMode(id, path, content, DefaultFileMode)
}

// SetFileWithMode seeds a file on a target.
func (m *Transport) SetFileWithMode(id fleet.TargetID, path, content string, mode fs.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(id, path, []byte(content), mode)
}

func (m *Transport) store(id fleet.TargetID, path string, data []byte, mode fs.FileMode) {
	if m.files[id] == nil {
		m.files[id] = make(map[string][]byte)
		m.modes[id] = make(map[string]fs.FileMode)
	}
	m.files[id][path] = data
	m.modes[id][path] = mode.Perm()
}

// File returns a file's content on a target.
func (m *Transport) File(id fleet.TargetID, path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[id][path]
	return string(data), ok
}

// SetCommandResult registers the result of a command on a target.
func (m *Transport) SetCommandResult(id fleet.TargetID, cmd string, result transport.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commands[id] == nil {
		m.commands[id] = make(map[string]transport.CommandResult)
	}
	m.commands[id][cmd] = result
}

// FailConnect makes Connect fail for a target.
func (m *Transport) FailConnect(id fleet.TargetID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErrs[id] = err
}

// FailWrites makes WriteFile fail for a target.
func (m *Transport) FailWrites(id fleet.TargetID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErrs[id] = err
}

// Writes returns all recorded writes.
func (m *Transport) Writes() []FileWrite {
	m.mu.RLock()
	defer m.mu.RUnlock()
	writes := make([]FileWrite, len(m.writes))
	copy(writes, m.writes)
	return writes
}

// Connects returns the targets connected to, sorted.
func (m *Transport) Connects() []fleet.TargetID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]fleet.TargetID, len(m.connects))
	copy(ids, m.connects)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Connect opens an in-memory connection.
func (m *Transport) Connect(ctx context.Context, target *fleet.Target) (transport.Connection, error) {
	if m.OnConnect != nil {
		if err := m.OnConnect(ctx, target); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects = append(m.connects, target.ID())
	if err := m.connectErrs[target.ID()]; err != nil {
		return nil, err
	}
	return &Connection{transport: m, target: target}, nil
}

// Ping succeeds unless Connect is set to fail.
func (m *Transport) Ping(_ context.Context, target *fleet.Target) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectErrs[target.ID()]
}

// Connection is an in-memory transport.Connection.
type Connection struct {
	transport *Transport
	target    *fleet.Target
	closed    bool
}

// Target returns the connected target.
func (c *Connection) Target() *fleet.Target {
	return c.target
}

// Run answers from registered command results.
func (c *Connection) Run(ctx context.Context, cmd string) (*transport.CommandResult, error) {
	return c.RunWithInput(ctx, cmd, nil)
}

// RunWithInput answers from registered command results.
func (c *Connection) RunWithInput(ctx context.Context, cmd string, _ io.Reader) (*transport.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.transport.mu.RLock()
	defer c.transport.mu.RUnlock()
	result, ok := c.transport.commands[c.target.ID()][cmd]
	if !ok {
		return nil, fmt.Errorf("no mock result for command on %s: %s", c.target.ID(), cmd)
	}
	return &result, nil
}

// ReadFile returns a seeded or written file.
func (c *Connection) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.transport.mu.RLock()
	defer c.transport.mu.RUnlock()
	data, ok := c.transport.files[c.target.ID()][path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// FileMode returns the mode a file was seeded or written with.
func (c *Connection) FileMode(ctx context.Context, path string) (fs.FileMode, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.transport.mu.RLock()
	defer c.transport.mu.RUnlock()
	mode, ok := c.transport.modes[c.target.ID()][path]
	if !ok {
		return 0, fmt.Errorf("stat %s: %w", path, fs.ErrNotExist)
	}
	return mode, nil
}

// WriteFile stores the file in memory.
func (c *Connection) WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()
	if err := c.transport.writeErrs[c.target.ID()]; err != nil {
		return err
	}
	id := c.target.ID()
	c.transport.store(id, path, append([]byte(nil), data...), mode)
	c.transport.writes = append(c.transport.writes, FileWrite{Target: id, Path: path, Data: string(data), Mode: mode.Perm()})
	return nil
}

// Close marks the connection closed.
func (c *Connection) Close() error {
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Connection) Closed() bool {
	c.transport.mu.RLock()
	defer c.transport.mu.RUnlock()
	return c.closed
}

var (
	_ transport.Transport  = (*Transport)(nil)
	_ transport.Connection = (*Connection)(nil)
)

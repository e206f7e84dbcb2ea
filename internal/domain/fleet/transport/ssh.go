package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTransport implements Transport using SSH.
type SSHTransport struct {
	// DefaultTimeout is the default connection timeout.
	DefaultTimeout time.Duration
	// DefaultUser is the default SSH user.
	DefaultUser string
	// IdentityFiles are default identity file paths to try.
	IdentityFiles []string
	// KnownHostsFiles enables strict host key checking when non-empty.
	KnownHostsFiles []string
	// AgentSocket is the SSH agent socket; empty disables agent auth.
	AgentSocket string
}

// NewSSHTransport creates a new SSH transport with defaults taken from the
// environment.
func NewSSHTransport() *SSHTransport {
	homeDir, _ := os.UserHomeDir()
	return &SSHTransport{
		DefaultTimeout: 30 * time.Second,
		DefaultUser:    os.Getenv("USER"),
		IdentityFiles: []string{
			filepath.Join(homeDir, ".ssh", "id_ed25519"),
			filepath.Join(homeDir, ".ssh", "id_rsa"),
		},
		AgentSocket: os.Getenv("SSH_AUTH_SOCK"),
	}
}

// Name returns "ssh".
func (t *SSHTransport) Name() string {
	return fleet.TransportSSH
}

// Connect establishes an SSH connection to the target.
func (t *SSHTransport) Connect(ctx context.Context, target *fleet.Target) (Connection, error) {
	params := target.Conn()

	authMethods, closeAgent, err := t.buildAuthMethods(params)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth methods: %w", err)
	}
	defer closeAgent()

	hostKeyCallback, err := t.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	timeout := params.ConnectTimeout
	if timeout == 0 {
		timeout = t.DefaultTimeout
	}

	user := params.User
	if user == "" {
		user = t.DefaultUser
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	port := params.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(params.Hostname, fmt.Sprintf("%d", port))

	var client *ssh.Client
	if params.ProxyJump != "" {
		client, err = t.connectViaProxy(ctx, addr, config, params.ProxyJump)
	} else {
		client, err = t.dial(ctx, addr, config)
	}
	if err != nil {
		return nil, err
	}

	return &SSHConnection{target: target, client: client}, nil
}

// Ping tests SSH connectivity.
func (t *SSHTransport) Ping(ctx context.Context, target *fleet.Target) error {
	conn, err := t.Connect(ctx, target)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	result, err := conn.Run(ctx, "echo pong")
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("ping command failed with exit code %d", result.ExitCode)
	}
	return nil
}

// buildAuthMethods collects key and agent auth. The returned func releases
// the agent socket once the handshake is done.
func (t *SSHTransport) buildAuthMethods(params fleet.ConnParams) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	if params.IdentityFile != "" {
		signer, err := loadPrivateKey(params.IdentityFile)
		if err != nil {
			return nil, closeAgent, fmt.Errorf("failed to load identity file %s: %w", params.IdentityFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	for _, path := range t.IdentityFiles {
		if signer, err := loadPrivateKey(path); err == nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if t.AgentSocket != "" {
		if conn, err := net.Dial("unix", t.AgentSocket); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closeAgent = func() { _ = conn.Close() }
		}
	}

	if len(methods) == 0 {
		return nil, closeAgent, fmt.Errorf("no authentication methods available")
	}

	return methods, closeAgent, nil
}

func (t *SSHTransport) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if len(t.KnownHostsFiles) == 0 {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // opt-in strict checking via KnownHostsFiles
	}
	files := make([]string, len(t.KnownHostsFiles))
	for i, f := range t.KnownHostsFiles {
		files[i] = expandHome(f)
	}
	cb, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}
	return cb, nil
}

func loadPrivateKey(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func (t *SSHTransport) dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := &net.Dialer{Timeout: config.Timeout}

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (t *SSHTransport) connectViaProxy(ctx context.Context, addr string, config *ssh.ClientConfig, proxyJump string) (*ssh.Client, error) {
	proxyAddr := proxyJump
	if _, _, err := net.SplitHostPort(proxyJump); err != nil {
		proxyAddr = net.JoinHostPort(proxyJump, "22")
	}

	proxyClient, err := t.dial(ctx, proxyAddr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy %s: %w", proxyJump, err)
	}

	netConn, err := proxyClient.Dial("tcp", addr)
	if err != nil {
		_ = proxyClient.Close()
		return nil, fmt.Errorf("failed to dial through proxy: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		_ = netConn.Close()
		_ = proxyClient.Close()
		return nil, fmt.Errorf("SSH handshake via proxy failed: %w", err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// SSHConnection implements Connection using SSH.
type SSHConnection struct {
	target *fleet.Target
	client *ssh.Client
}

// Target returns the connected target.
func (c *SSHConnection) Target() *fleet.Target {
	return c.target
}

// Run executes a command on the remote host.
func (c *SSHConnection) Run(ctx context.Context, cmd string) (*CommandResult, error) {
	return c.RunWithInput(ctx, cmd, nil)
}

// RunWithInput executes a command with stdin.
func (c *SSHConnection) RunWithInput(ctx context.Context, cmd string, stdin io.Reader) (*CommandResult, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	start := time.Now()

	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return nil, ctx.Err()
	case err := <-done:
		result := &CommandResult{
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			Duration: time.Since(start),
		}

		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
			} else {
				return nil, err
			}
		}

		return result, nil
	}
}

// ReadFile reads a remote file with cat.
func (c *SSHConnection) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return readViaShell(ctx, c, path)
}

// WriteFile streams data into a remote file.
func (c *SSHConnection) WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error {
	return writeViaShell(ctx, c, path, data, mode)
}

// FileMode stats a remote file.
func (c *SSHConnection) FileMode(ctx context.Context, path string) (fs.FileMode, error) {
	return modeViaShell(ctx, c, path)
}

// Close closes the SSH connection.
func (c *SSHConnection) Close() error {
	return c.client.Close()
}

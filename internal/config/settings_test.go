package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	s, err := Load(t.TempDir(), "", envMap(map[string]string{"USER": "alice"}))
	require.NoError(t, err)

	assert.Equal(t, ".rollgate", s.StateDir)
	assert.Equal(t, AuditSinkFile, s.Audit.Sink)
	assert.Equal(t, DecisionStoreFile, s.Decisions.Store)
	assert.Equal(t, 10, s.MaxParallel)
	assert.Equal(t, 5*time.Minute, s.TargetTimeout)
	assert.Zero(t, s.ApprovalTimeout)
	assert.Equal(t, "alice", s.Actor)
	assert.Equal(t, filepath.Join(".rollgate", "audit"), s.AuditDir())
	assert.Equal(t, filepath.Join(".rollgate", "decisions"), s.DecisionDir())
	assert.Equal(t, filepath.Join(".rollgate", "reports"), s.ReportDir())
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "rollgate.yaml", `
state_dir: /var/lib/rollgate
inventory: hosts.ini
max_parallel: 4
target_timeout: 90s
approval_timeout: 30m
actor: deploy-bot
audit:
  sink: sqlite
  dsn: /var/lib/rollgate/audit.db
decisions:
  store: redis
  redis_addr: redis:6379
  redis_db: 2
  ttl: 2h
log:
  level: debug
  format: json
`)

	s, err := Load(dir, "", envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/rollgate", s.StateDir)
	assert.Equal(t, "hosts.ini", s.Inventory)
	assert.Equal(t, 4, s.MaxParallel)
	assert.Equal(t, 90*time.Second, s.TargetTimeout)
	assert.Equal(t, 30*time.Minute, s.ApprovalTimeout)
	assert.Equal(t, "deploy-bot", s.Actor)
	assert.Equal(t, AuditSinkSQLite, s.Audit.Sink)
	assert.Equal(t, "/var/lib/rollgate/audit.db", s.Audit.DSN)
	assert.Equal(t, DecisionStoreRedis, s.Decisions.Store)
	assert.Equal(t, "redis:6379", s.Decisions.RedisAddr)
	assert.Equal(t, 2, s.Decisions.RedisDB)
	assert.Equal(t, 2*time.Hour, s.Decisions.TTL)
	assert.Equal(t, "rollgate", s.Decisions.RedisPrefix)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "json", s.LogFormat)
}

func TestLoad_TOMLFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "ci.toml", `
state_dir = "state"
max_parallel = 2

[audit]
sink = "multi"
driver = "postgres"
dsn = "postgres://audit@db/rollgate"
max_rotations = 3
`)

	s, err := Load(dir, path, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "state", s.StateDir)
	assert.Equal(t, 2, s.MaxParallel)
	assert.Equal(t, AuditSinkMulti, s.Audit.Sink)
	assert.Equal(t, AuditSinkPostgres, s.Audit.Driver)
	assert.Equal(t, 3, s.Audit.MaxRotations)
	assert.Equal(t, int64(10<<20), s.Audit.MaxSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "rollgate.yaml", "max_parallel: 4\nactor: from-file\n")

	s, err := Load(dir, "", envMap(map[string]string{
		"ROLLGATE_MAX_PARALLEL":     "16",
		"ROLLGATE_ACTOR":            "from-env",
		"ROLLGATE_APPROVAL_TIMEOUT": "10m",
		"ROLLGATE_DECISION_STORE":   "redis",
		"ROLLGATE_REDIS_ADDR":       "cache:6379",
		"ROLLGATE_REDIS_DB":         "3",
		"USER":                      "ignored",
	}))
	require.NoError(t, err)

	assert.Equal(t, 16, s.MaxParallel)
	assert.Equal(t, "from-env", s.Actor)
	assert.Equal(t, 10*time.Minute, s.ApprovalTimeout)
	assert.Equal(t, DecisionStoreRedis, s.Decisions.Store)
	assert.Equal(t, "cache:6379", s.Decisions.RedisAddr)
	assert.Equal(t, 3, s.Decisions.RedisDB)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
		env     map[string]string
		code    string
	}{
		{
			name: "explicit missing file",
			file: "missing.yaml",
			code: ErrCodeConfigNotFound,
		},
		{
			name:    "bad yaml",
			file:    "rollgate.yaml",
			content: "max_parallel: [",
			code:    ErrCodeConfigParse,
		},
		{
			name:    "unsupported extension",
			file:    "rollgate.json",
			content: "{}",
			code:    ErrCodeUnsupportedFormat,
		},
		{
			name:    "bad duration in file",
			file:    "rollgate.yaml",
			content: "target_timeout: soon",
			code:    ErrCodeConfigInvalid,
		},
		{
			name: "bad integer in env",
			env:  map[string]string{"ROLLGATE_MAX_PARALLEL": "many"},
			code: ErrCodeConfigInvalid,
		},
		{
			name: "bad duration in env",
			env:  map[string]string{"ROLLGATE_TARGET_TIMEOUT": "1 minute"},
			code: ErrCodeConfigInvalid,
		},
		{
			name: "database sink without dsn",
			env:  map[string]string{"ROLLGATE_AUDIT_SINK": "postgres"},
			code: ErrCodeValidationFailed,
		},
		{
			name: "unknown decision store",
			env:  map[string]string{"ROLLGATE_DECISION_STORE": "etcd"},
			code: ErrCodeValidationFailed,
		},
		{
			name: "zero parallelism",
			env:  map[string]string{"ROLLGATE_MAX_PARALLEL": "0"},
			code: ErrCodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			path := ""
			if tt.file != "" {
				path = filepath.Join(dir, tt.file)
				if tt.content != "" {
					writeFile(t, dir, tt.file, tt.content)
				}
			}

			_, err := Load(dir, path, envMap(tt.env))
			require.Error(t, err)

			var list *ErrorList
			if errors.As(err, &list) {
				require.NotZero(t, list.Len())
				assert.Equal(t, tt.code, list.Errors()[0].Code)
				return
			}
			assert.ErrorIs(t, err, &UserError{Code: tt.code})
		})
	}
}

func TestSettings_ValidateMulti(t *testing.T) {
	t.Parallel()

	s := Default()
	s.Audit.Sink = AuditSinkMulti
	err := s.Validate()
	require.Error(t, err)

	var list *ErrorList
	require.ErrorAs(t, err, &list)
	assert.Equal(t, 2, list.Len())
	assert.Contains(t, list.Format(), "audit.driver")
}

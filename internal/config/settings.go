// Package config loads rollgate settings from a YAML or TOML file and the
// ROLLGATE_* environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Audit sink kinds.
const (
	AuditSinkFile     = "file"
	AuditSinkPostgres = "postgres"
	AuditSinkSQLite   = "sqlite"
	// AuditSinkMulti writes to the file sink and the database named by DSN.
	AuditSinkMulti = "multi"
)

// Decision store kinds.
const (
	DecisionStoreFile  = "file"
	DecisionStoreRedis = "redis"
)

// DefaultFileNames are probed in the working directory when no config path
// is given.
var DefaultFileNames = []string{"rollgate.yaml", "rollgate.yml", "rollgate.toml"}

// Settings is the resolved runtime configuration.
type Settings struct {
	StateDir        string
	Inventory       string
	Audit           AuditSettings
	Decisions       DecisionSettings
	MaxParallel     int
	TargetTimeout   time.Duration
	ApprovalTimeout time.Duration
	Actor           string
	LogLevel        string
	LogFormat       string
}

// AuditSettings selects where audit records go.
type AuditSettings struct {
	Sink         string
	Driver       string // for multi: postgres or sqlite
	DSN          string
	MaxSize      int64
	MaxRotations int
}

// DecisionSettings selects where approval decisions are held.
type DecisionSettings struct {
	Store         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	TTL           time.Duration
}

// AuditDir is where the file sink writes.
func (s Settings) AuditDir() string {
	return filepath.Join(s.StateDir, "audit")
}

// DecisionDir is where the file decision store writes.
func (s Settings) DecisionDir() string {
	return filepath.Join(s.StateDir, "decisions")
}

// ReportDir is where dry-run reports are kept between plan and apply.
func (s Settings) ReportDir() string {
	return filepath.Join(s.StateDir, "reports")
}

// Default returns the built-in settings. The actor is filled from $USER
// by Load when nothing else sets it.
func Default() Settings {
	return Settings{
		StateDir: ".rollgate",
		Audit: AuditSettings{
			Sink:         AuditSinkFile,
			MaxSize:      10 << 20,
			MaxRotations: 5,
		},
		Decisions: DecisionSettings{
			Store:       DecisionStoreFile,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "rollgate",
			TTL:         24 * time.Hour,
		},
		MaxParallel:   10,
		TargetTimeout: 5 * time.Minute,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Validate checks the settings for values no component accepts.
func (s Settings) Validate() error {
	errs := NewErrorList()
	if s.StateDir == "" {
		errs.AddValidation("state_dir", "must not be empty", "Set state_dir or ROLLGATE_STATE_DIR.")
	}
	switch s.Audit.Sink {
	case AuditSinkFile:
	case AuditSinkPostgres, AuditSinkSQLite:
		if s.Audit.DSN == "" {
			errs.AddValidation("audit.dsn", fmt.Sprintf("required for the %s sink", s.Audit.Sink), "Set audit.dsn or ROLLGATE_AUDIT_DSN.")
		}
	case AuditSinkMulti:
		if s.Audit.DSN == "" {
			errs.AddValidation("audit.dsn", "required for the multi sink", "Set audit.dsn or ROLLGATE_AUDIT_DSN.")
		}
		if s.Audit.Driver != AuditSinkPostgres && s.Audit.Driver != AuditSinkSQLite {
			errs.AddValidation("audit.driver", fmt.Sprintf("unknown driver %q", s.Audit.Driver), "Use postgres or sqlite.")
		}
	default:
		errs.AddValidation("audit.sink", fmt.Sprintf("unknown sink %q", s.Audit.Sink), "Use file, postgres, sqlite or multi.")
	}
	switch s.Decisions.Store {
	case DecisionStoreFile:
	case DecisionStoreRedis:
		if s.Decisions.RedisAddr == "" {
			errs.AddValidation("decisions.redis_addr", "required for the redis store", "Set decisions.redis_addr or ROLLGATE_REDIS_ADDR.")
		}
	default:
		errs.AddValidation("decisions.store", fmt.Sprintf("unknown store %q", s.Decisions.Store), "Use file or redis.")
	}
	if s.MaxParallel < 1 {
		errs.AddValidation("max_parallel", "must be at least 1", "")
	}
	if s.TargetTimeout < 0 {
		errs.AddValidation("target_timeout", "must not be negative", "")
	}
	if s.ApprovalTimeout < 0 {
		errs.AddValidation("approval_timeout", "must not be negative", "Use 0 to wait indefinitely.")
	}
	return errs.AsError()
}

// fileSettings is the on-disk shape shared by the YAML and TOML formats.
type fileSettings struct {
	StateDir        string             `yaml:"state_dir" toml:"state_dir"`
	Inventory       string             `yaml:"inventory" toml:"inventory"`
	Audit           *fileAuditSettings `yaml:"audit" toml:"audit"`
	Decisions       *fileDecisions     `yaml:"decisions" toml:"decisions"`
	MaxParallel     int                `yaml:"max_parallel" toml:"max_parallel"`
	TargetTimeout   string             `yaml:"target_timeout" toml:"target_timeout"`
	ApprovalTimeout string             `yaml:"approval_timeout" toml:"approval_timeout"`
	Actor           string             `yaml:"actor" toml:"actor"`
	Log             *fileLogSettings   `yaml:"log" toml:"log"`
}

type fileAuditSettings struct {
	Sink         string `yaml:"sink" toml:"sink"`
	Driver       string `yaml:"driver" toml:"driver"`
	DSN          string `yaml:"dsn" toml:"dsn"`
	MaxSize      int64  `yaml:"max_size" toml:"max_size"`
	MaxRotations int    `yaml:"max_rotations" toml:"max_rotations"`
}

type fileDecisions struct {
	Store         string `yaml:"store" toml:"store"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" toml:"redis_prefix"`
	TTL           string `yaml:"ttl" toml:"ttl"`
}

type fileLogSettings struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load resolves settings from defaults, then the config file, then the
// environment. An empty path probes DefaultFileNames in dir; finding none
// is not an error. An explicit path that does not exist is.
func Load(dir, path string, getenv func(string) (string, bool)) (Settings, error) {
	if getenv == nil {
		getenv = os.LookupEnv
	}
	settings := Default()

	explicit := path != ""
	if !explicit {
		path = findDefault(dir)
	} else if dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	if path != "" {
		raw, err := readFile(path, explicit)
		if err != nil {
			return Settings{}, err
		}
		if raw != nil {
			if err := raw.applyTo(&settings, path); err != nil {
				return Settings{}, err
			}
		}
	}

	if err := applyEnv(&settings, getenv); err != nil {
		return Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func findDefault(dir string) string {
	for _, name := range DefaultFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func readFile(path string, explicit bool) (*fileSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if !explicit {
				return nil, nil
			}
			return nil, NewFileNotFoundError(ErrCodeConfigNotFound, "configuration", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var raw fileSettings
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, NewUnsupportedFormatError(path, []string{".yaml", ".yml", ".toml"})
	}
	if err != nil {
		return nil, NewParseError(ErrCodeConfigParse, path, err)
	}
	return &raw, nil
}

func (f *fileSettings) applyTo(s *Settings, path string) error {
	setString(&s.StateDir, f.StateDir)
	setString(&s.Inventory, f.Inventory)
	setString(&s.Actor, f.Actor)
	if f.MaxParallel != 0 {
		s.MaxParallel = f.MaxParallel
	}
	if err := setDuration(&s.TargetTimeout, f.TargetTimeout, "target_timeout", path); err != nil {
		return err
	}
	if err := setDuration(&s.ApprovalTimeout, f.ApprovalTimeout, "approval_timeout", path); err != nil {
		return err
	}
	if a := f.Audit; a != nil {
		setString(&s.Audit.Sink, a.Sink)
		setString(&s.Audit.Driver, a.Driver)
		setString(&s.Audit.DSN, a.DSN)
		if a.MaxSize != 0 {
			s.Audit.MaxSize = a.MaxSize
		}
		if a.MaxRotations != 0 {
			s.Audit.MaxRotations = a.MaxRotations
		}
	}
	if d := f.Decisions; d != nil {
		setString(&s.Decisions.Store, d.Store)
		setString(&s.Decisions.RedisAddr, d.RedisAddr)
		setString(&s.Decisions.RedisPassword, d.RedisPassword)
		setString(&s.Decisions.RedisPrefix, d.RedisPrefix)
		if d.RedisDB != 0 {
			s.Decisions.RedisDB = d.RedisDB
		}
		if err := setDuration(&s.Decisions.TTL, d.TTL, "decisions.ttl", path); err != nil {
			return err
		}
	}
	if l := f.Log; l != nil {
		setString(&s.LogLevel, l.Level)
		setString(&s.LogFormat, l.Format)
	}
	return nil
}

func applyEnv(s *Settings, getenv func(string) (string, bool)) error {
	strs := map[string]*string{
		"ROLLGATE_STATE_DIR":      &s.StateDir,
		"ROLLGATE_INVENTORY":      &s.Inventory,
		"ROLLGATE_AUDIT_SINK":     &s.Audit.Sink,
		"ROLLGATE_AUDIT_DRIVER":   &s.Audit.Driver,
		"ROLLGATE_AUDIT_DSN":      &s.Audit.DSN,
		"ROLLGATE_DECISION_STORE": &s.Decisions.Store,
		"ROLLGATE_REDIS_ADDR":     &s.Decisions.RedisAddr,
		"ROLLGATE_REDIS_PASSWORD": &s.Decisions.RedisPassword,
		"ROLLGATE_ACTOR":          &s.Actor,
		"ROLLGATE_LOG_LEVEL":      &s.LogLevel,
		"ROLLGATE_LOG_FORMAT":     &s.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := getenv(key); ok && v != "" {
			*dst = v
		}
	}
	if s.Actor == "" {
		if v, ok := getenv("USER"); ok {
			s.Actor = v
		}
	}

	ints := map[string]*int{
		"ROLLGATE_REDIS_DB":     &s.Decisions.RedisDB,
		"ROLLGATE_MAX_PARALLEL": &s.MaxParallel,
	}
	for key, dst := range ints {
		v, ok := getenv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(key, v, "an integer", err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"ROLLGATE_DECISION_TTL":     &s.Decisions.TTL,
		"ROLLGATE_TARGET_TIMEOUT":   &s.TargetTimeout,
		"ROLLGATE_APPROVAL_TIMEOUT": &s.ApprovalTimeout,
	}
	for key, dst := range durations {
		v, ok := getenv(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError(key, v, "a duration such as 30s or 5m", err)
		}
		*dst = d
	}
	return nil
}

func envError(key, value, want string, err error) error {
	return &UserError{
		Code:       ErrCodeConfigInvalid,
		Message:    fmt.Sprintf("invalid value %q", value),
		Context:    key,
		Suggestion: fmt.Sprintf("%s must be %s.", key, want),
		Underlying: err,
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, field, path string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return &UserError{
			Code:       ErrCodeConfigInvalid,
			Message:    fmt.Sprintf("%s: invalid duration %q", field, v),
			Context:    path,
			Suggestion: "Use a Go duration such as 30s, 5m or 1h.",
			Underlying: err,
		}
	}
	*dst = d
	return nil
}

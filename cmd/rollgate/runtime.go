package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rollgate/internal/adapters/auditstore"
	"github.com/felixgeelhaar/rollgate/internal/adapters/decisionstore"
	"github.com/felixgeelhaar/rollgate/internal/adapters/logging"
	"github.com/felixgeelhaar/rollgate/internal/adapters/metrics"
	"github.com/felixgeelhaar/rollgate/internal/config"
	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/domain/audit"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet/transport"
	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
	"github.com/felixgeelhaar/rollgate/internal/ports"
)

// runtime holds everything a command needs to talk to the fleet, the
// approval store and the audit log.
type runtime struct {
	settings   config.Settings
	logger     ports.Logger
	log        *audit.Log
	gate       *approval.Gate
	controller *rollout.Controller
	observer   *metrics.Observer
	closers    []func() error
}

// loadSettings resolves settings and applies global flag overrides.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	settings, err := config.Load("", cfgFile, nil)
	if err != nil {
		return config.Settings{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("state-dir") {
		settings.StateDir = stateDir
	}
	if flags.Changed("actor") {
		settings.Actor = actorFlag
	}
	if flags.Changed("log-format") {
		settings.LogFormat = logFormat
	}
	if verbose {
		settings.LogLevel = ports.LevelDebug.String()
	}
	return settings, settings.Validate()
}

func newLogger(settings config.Settings, w io.Writer) (ports.Logger, error) {
	level, err := ports.ParseLevel(settings.LogLevel)
	if err != nil {
		return nil, config.NewUserError(config.ErrCodeConfigInvalid, "invalid log level").
			WithContext("log_level").
			WithSuggestion("Use debug, info, warn or error.").
			WithUnderlying(err)
	}
	return logging.NewConsoleLogger(
		logging.WithOutput(w),
		logging.WithLevel(level),
		logging.WithJSONFormat(settings.LogFormat == "json"),
	), nil
}

func newRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(settings, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	rt := &runtime{settings: settings, logger: logger, observer: metrics.NewObserver()}

	sink, err := openAuditSink(ctx, settings)
	if err != nil {
		return nil, err
	}
	log, err := audit.OpenLog(ctx, sink)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	rt.log = log
	rt.closers = append(rt.closers, log.Close)

	store, err := openDecisionStore(ctx, settings, rt)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.gate = approval.NewGate(store)

	local := transport.NewLocalTransport()
	if localRoot != "" {
		local.Root = localRoot
		local.PerTarget = true
	}

	rt.controller, err = rollout.NewController(rollout.Config{
		Connector:     transport.NewRegistry(transport.NewSSHTransport(), local),
		Log:           log,
		Gate:          rt.gate,
		MaxParallel:   settings.MaxParallel,
		TargetTimeout: settings.TargetTimeout,
		Actor:         settings.Actor,
		Logger:        logger,
		Observer:      rt.observer,
		NewReportID:   newReportID,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	logger.Debug(ctx, "runtime ready",
		ports.F("state_dir", settings.StateDir),
		ports.F("audit_sink", settings.Audit.Sink),
		ports.F("decision_store", settings.Decisions.Store),
	)
	return rt, nil
}

// newReportID returns a sortable, human-readable report ID.
func newReportID() string {
	return time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

func openAuditSink(ctx context.Context, settings config.Settings) (audit.Sink, error) {
	fileSink := func() (audit.Sink, error) {
		return audit.NewFileSink(audit.FileSinkConfig{
			Dir:          settings.AuditDir(),
			MaxSize:      settings.Audit.MaxSize,
			MaxRotations: settings.Audit.MaxRotations,
		})
	}
	dbSink := func(driver string) (audit.Sink, error) {
		dialect, err := auditstore.DialectFor(driver)
		if err != nil {
			return nil, err
		}
		return auditstore.Open(ctx, dialect, settings.Audit.DSN)
	}

	switch settings.Audit.Sink {
	case config.AuditSinkFile:
		return fileSink()
	case config.AuditSinkPostgres, config.AuditSinkSQLite:
		return dbSink(settings.Audit.Sink)
	case config.AuditSinkMulti:
		files, err := fileSink()
		if err != nil {
			return nil, err
		}
		db, err := dbSink(settings.Audit.Driver)
		if err != nil {
			_ = files.Close()
			return nil, err
		}
		return audit.NewMultiSink(files, db), nil
	default:
		return nil, fmt.Errorf("unknown audit sink %q", settings.Audit.Sink)
	}
}

func openDecisionStore(ctx context.Context, settings config.Settings, rt *runtime) (approval.Store, error) {
	switch settings.Decisions.Store {
	case config.DecisionStoreRedis:
		store := decisionstore.NewRedisStore(decisionstore.RedisOptions{
			Addr:       settings.Decisions.RedisAddr,
			Password:   settings.Decisions.RedisPassword,
			DB:         settings.Decisions.RedisDB,
			Prefix:     settings.Decisions.RedisPrefix,
			PendingTTL: settings.Decisions.TTL,
		})
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", settings.Decisions.RedisAddr, err)
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	default:
		return decisionstore.NewFileStore(settings.DecisionDir())
	}
}

// Close writes the metrics textfile when requested and releases stores.
func (r *runtime) Close() error {
	var errs []error
	if metricsTextfile != "" && r.observer != nil {
		if err := r.observer.WriteTextfile(metricsTextfile); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Package auditstore persists audit records in SQL databases. The same
// operation_logs table layout is used for PostgreSQL and SQLite; only the
// placeholder style, column types and driver differ.
package auditstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/rollgate/internal/domain/audit"
)

// Dialect captures the differences between supported databases.
type Dialect struct {
	// Name is the database/sql driver name.
	Name string
	// Schema creates the table and its indexes.
	Schema string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// TimeValue converts a timestamp to the stored representation.
	TimeValue func(t time.Time) any
}

// Postgres is the lib/pq dialect.
var Postgres = Dialect{
	Name: "postgres",
	Schema: `
CREATE TABLE IF NOT EXISTS operation_logs (
	id            TEXT PRIMARY KEY,
	seq           BIGINT NOT NULL UNIQUE,
	report_id     TEXT NOT NULL,
	log_type      TEXT NOT NULL,
	changeset     TEXT,
	fingerprint   TEXT,
	target_id     TEXT,
	operation_id  TEXT,
	kind          TEXT,
	status        TEXT NOT NULL,
	message       TEXT,
	error         TEXT,
	error_code    TEXT,
	actor         TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	previous_hash TEXT,
	hash          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS operation_logs_report_idx ON operation_logs (report_id);
CREATE INDEX IF NOT EXISTS operation_logs_target_idx ON operation_logs (target_id);
`,
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	TimeValue:   func(t time.Time) any { return t.UTC() },
}

// SQLite is the modernc.org/sqlite dialect. Timestamps are stored as
// RFC 3339 text with nanoseconds.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: `
CREATE TABLE IF NOT EXISTS operation_logs (
	id            TEXT PRIMARY KEY,
	seq           INTEGER NOT NULL UNIQUE,
	report_id     TEXT NOT NULL,
	log_type      TEXT NOT NULL,
	changeset     TEXT,
	fingerprint   TEXT,
	target_id     TEXT,
	operation_id  TEXT,
	kind          TEXT,
	status        TEXT NOT NULL,
	message       TEXT,
	error         TEXT,
	error_code    TEXT,
	actor         TEXT,
	created_at    TEXT NOT NULL,
	previous_hash TEXT,
	hash          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS operation_logs_report_idx ON operation_logs (report_id);
CREATE INDEX IF NOT EXISTS operation_logs_target_idx ON operation_logs (target_id);
`,
	Placeholder: func(int) string { return "?" },
	TimeValue:   func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
}

const columns = "id, seq, report_id, log_type, changeset, fingerprint, target_id, operation_id, kind, " +
	"status, message, error, error_code, actor, created_at, previous_hash, hash"

// Store is an audit.Sink backed by a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	owned   bool
}

// New wraps an open database handle. The caller keeps ownership of db.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open opens a database with the dialect's driver and migrates the schema.
// The returned store closes the database on Close.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.Name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s audit store: %w", dialect.Name, err)
	}
	s := &Store{db: db, dialect: dialect, owned: true}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported audit database %q", name)
	}
}

// Migrate creates the operation_logs table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Schema); err != nil {
		return fmt.Errorf("failed to migrate audit schema: %w", err)
	}
	return nil
}

func (s *Store) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.dialect.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// Append inserts one record.
func (s *Store) Append(ctx context.Context, r audit.Record) error {
	query := fmt.Sprintf("INSERT INTO operation_logs (%s) VALUES (%s)", columns, s.placeholders(17))
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Sequence, r.ReportID, r.Mode, r.ChangeSet, r.Fingerprint,
		r.TargetID, r.OperationID, r.Kind, r.Outcome, r.Diff, r.Error, r.ErrorCode,
		r.Actor, s.dialect.TimeValue(r.Timestamp), r.PreviousHash, r.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// LastRecord returns the record with the highest sequence number.
func (s *Store) LastRecord(ctx context.Context) (audit.Record, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM operation_logs ORDER BY seq DESC LIMIT 1", columns)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Record{}, false, nil
	}
	if err != nil {
		return audit.Record{}, false, fmt.Errorf("failed to read last audit record: %w", err)
	}
	return rec, true, nil
}

// Query pushes the equality filters into SQL and applies the rest in memory.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = %s", column, s.dialect.Placeholder(len(args))))
	}
	if filter.ReportID != "" {
		add("report_id", filter.ReportID)
	}
	if filter.Mode != "" {
		add("log_type", filter.Mode)
	}
	if filter.TargetID != "" {
		add("target_id", filter.TargetID)
	}

	query := fmt.Sprintf("SELECT %s FROM operation_logs", columns)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return filter.Apply(records), nil
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (audit.Record, error) {
	var (
		r  audit.Record
		ts timestamp
		cs, fp, target, op, kind, msg, errText, code, actor, prev sql.NullString
	)
	err := row.Scan(&r.ID, &r.Sequence, &r.ReportID, &r.Mode, &cs, &fp, &target, &op, &kind,
		&r.Outcome, &msg, &errText, &code, &actor, &ts, &prev, &r.Hash)
	if err != nil {
		return audit.Record{}, err
	}
	r.ChangeSet = cs.String
	r.Fingerprint = fp.String
	r.TargetID = target.String
	r.OperationID = op.String
	r.Kind = kind.String
	r.Diff = msg.String
	r.Error = errText.String
	r.ErrorCode = code.String
	r.Actor = actor.String
	r.PreviousHash = prev.String
	r.Timestamp = ts.Time
	return r, nil
}

// timestamp scans both native timestamps and RFC 3339 text.
type timestamp struct {
	time.Time
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func (t *timestamp) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

var (
	_ audit.Sink    = (*Store)(nil)
	_ audit.Resumer = (*Store)(nil)
	_ audit.Querier = (*Store)(nil)
)

// Package audit records routed stanzas in SQLite. The store is a pre-send notifier of
// the bridge and backs the audit_tail admin command.
package audit

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/polisai/polis-rest/pkg/domain"
)

const timeFormat = time.RFC3339Nano

//go:embed schema.sql
var schema string

// Record is one routed stanza.
type Record struct {
	ID       int64
	RoutedAt time.Time
	Domain   string
	Kind     domain.StanzaKind
	StanzaID string
	Type     string
	From     string
	To       string
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s %s %s -> %s id=%q", r.RoutedAt.Format(time.RFC3339), r.Domain, r.Kind, r.From, r.To, r.StanzaID)
}

// Store provides a SQLite-backed audit log.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens a SQLite store at the provided path. ":memory:" opens a private in-memory
// database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PreSend implements domain.Notifier by appending a record for the stanza.
func (s *Store) PreSend(ctx context.Context, st *domain.Stanza, from domain.JID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	served := domain.ServedDomain(ctx)
	if served == "" {
		served = st.To.Domain
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO routed_stanzas (routed_at, domain, kind, stanza_id, stanza_type, from_jid, to_jid)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.now().UTC().Format(timeFormat), served, string(st.Kind), st.ID, st.Type, from.String(), st.To.String(),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Tail returns the n most recent records, newest first.
func (s *Store) Tail(ctx context.Context, n int) ([]Record, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, routed_at, domain, kind, stanza_id, stanza_type, from_jid, to_jid
		 FROM routed_stanzas ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r        Record
			routedAt string
			kind     string
		)
		if err := rows.Scan(&r.ID, &routedAt, &r.Domain, &kind, &r.StanzaID, &r.Type, &r.From, &r.To); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Kind = domain.StanzaKind(kind)
		if r.RoutedAt, err = time.Parse(timeFormat, routedAt); err != nil {
			return nil, fmt.Errorf("parse routed_at: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM routed_stanzas`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

var _ domain.Notifier = (*Store)(nil)

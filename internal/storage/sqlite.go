package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "refebot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db *sql.DB
}

// sqliteDSN sets the pragmas through the DSN so the driver applies them to
// every connection it opens.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage: sqlite driver needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, busy))
	if err != nil {
		return nil, err
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), busy+5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite schema: %w", err)
	}
	log.Debug("sqlite audit trail opened", logx.String("path", path), logx.Duration("busy_timeout", busy))
	return &sqliteStore{db: db}, nil
}

const (
	insertAudit = `INSERT INTO audit(at, actor_id, actor_name, chat_id, action, target, detail, err)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	// newest limit rows, returned oldest first
	selectRecent = `SELECT at, actor_id, actor_name, chat_id, action, target, detail, err FROM (
	SELECT * FROM audit ORDER BY id DESC LIMIT ?
) ORDER BY id`
)

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s.db == nil {
		return ErrDisabled
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, insertAudit,
		at.UTC().Format(time.RFC3339Nano), e.ActorID, optional(e.ActorName), e.ChatID,
		e.Action, optional(e.Target), optional(e.Detail), optional(e.Error))
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAudit(rows *sql.Rows) (AuditEntry, error) {
	var (
		e   AuditEntry
		at  string
		opt [4]sql.NullString
	)
	if err := rows.Scan(&at, &e.ActorID, &opt[0], &e.ChatID, &e.Action, &opt[1], &opt[2], &opt[3]); err != nil {
		return e, err
	}
	e.At, _ = time.Parse(time.RFC3339Nano, at)
	e.ActorName, e.Target, e.Detail, e.Error = opt[0].String, opt[1].String, opt[2].String, opt[3].String
	return e, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// optional stores blank strings as NULL.
func optional(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

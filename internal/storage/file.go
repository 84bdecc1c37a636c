package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "refebot/pkg/logx"
)

var errClosed = errors.New("audit file closed")

// fileStore keeps the trail as JSON Lines next to cfg.Path: "x/audit.db"
// becomes "x/audit.audit.jsonl".
type fileStore struct {
	log  logx.Logger
	path string

	mu  sync.Mutex
	out *os.File
	enc *json.Encoder
}

func trailPath(p string) string {
	dir, name := filepath.Split(p)
	return filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name))+".audit.jsonl")
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: file driver needs a path")
	}
	path := trailPath(strings.TrimSpace(cfg.Path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("audit trail opened", logx.String("path", path))
	return &fileStore{log: log, path: path, out: f, enc: json.NewEncoder(f)}, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return errClosed
	}
	return s.enc.Encode(e)
}

// RecentAudit scans the whole file keeping a sliding window of the last
// limit entries. Lines that do not decode are skipped.
func (s *fileStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		window []AuditEntry
		bad    int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(nil, 1<<20)
	for sc.Scan() {
		b := sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var e AuditEntry
		if json.Unmarshal(b, &e) != nil {
			bad++
			continue
		}
		window = append(window, e)
		if limit > 0 && len(window) > 2*limit {
			window = append(window[:0], window[len(window)-limit:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if bad > 0 {
		s.log.Debug("audit trail has unreadable lines", logx.Int("count", bad))
	}
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return nil
	}
	err := s.out.Close()
	s.out, s.enc = nil, nil
	return err
}

// Package docstore persists a whole JSON document in a single file.
//
// Every access loads the file, hands the decoded document to a callback and,
// for updates, writes the full document back. The load-mutate-save cycle runs
// under one mutex, which callers may share between stores so that all file
// I/O in the process is serialized.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	logx "refebot/pkg/logx"
)

// ErrNoPath is returned when a Store is built without a file path.
var ErrNoPath = errors.New("docstore: empty path")

type Option func(*options)

type options struct {
	lock *sync.Mutex
	log  logx.Logger
}

// WithLock makes the store serialize on mu instead of a private mutex.
func WithLock(mu *sync.Mutex) Option {
	return func(o *options) {
		if mu != nil {
			o.lock = mu
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

// Store holds a document of type T on disk. T must round-trip through
// encoding/json; its zero value is the empty document.
type Store[T any] struct {
	path string
	mu   *sync.Mutex
	log  logx.Logger
}

func New[T any](path string, opts ...Option) (*Store[T], error) {
	if path == "" {
		return nil, ErrNoPath
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.lock == nil {
		o.lock = &sync.Mutex{}
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	return &Store[T]{path: path, mu: o.lock, log: o.log.With(logx.String("path", path))}, nil
}

func (s *Store[T]) Path() string { return s.path }

// View loads the document and passes it to fn. Changes made by fn are not
// persisted.
func (s *Store[T]) View(ctx context.Context, fn func(doc *T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(&doc)
}

// Update runs a full load-mutate-save cycle. If fn returns an error nothing
// is written and the error is returned unchanged.
func (s *Store[T]) Update(ctx context.Context, fn func(doc *T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return s.save(&doc)
}

// load returns the empty document when the file is missing or unparsable.
// Only read errors other than "not exist" are reported.
func (s *Store[T]) load() (T, error) {
	var doc T
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("docstore: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		s.log.Warn("document unreadable, starting empty", logx.Err(err))
		var empty T
		return empty, nil
	}
	return doc, nil
}

func (s *Store[T]) save(doc *T) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", s.path, err)
	}
	b = append(b, '\n')
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("docstore: mkdir %s: %w", dir, err)
		}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("docstore: write %s: %w", s.path, err)
	}
	return nil
}

// Package supervisor runs named goroutines under one cancelable context,
// recovers their panics and remembers the first failure.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "refebot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	started atomic.Uint64
	wg      sync.WaitGroup

	mu      sync.Mutex
	err     error
	running map[string]int // name -> live goroutines with that name
	done    chan struct{}  // closed once wg drains, created lazily by Wait
}

type SupervisorOption func(*Supervisor)

// SupervisorCounters is a point-in-time goroutine count.
type SupervisorCounters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first goroutine error.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, running: map[string]int{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the context and returns immediately.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first recorded failure, nil if none.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Supervisor) Counters() SupervisorCounters {
	if s == nil {
		return SupervisorCounters{}
	}
	s.mu.Lock()
	var active int64
	for _, n := range s.running {
		active += int64(n)
	}
	s.mu.Unlock()
	return SupervisorCounters{Active: active, Started: s.started.Load()}
}

// Running lists the names of goroutines that have not returned yet, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for name := range s.running {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Supervisor) track(name string, delta int) {
	s.mu.Lock()
	s.running[name] += delta
	if s.running[name] <= 0 {
		delete(s.running, name)
	}
	s.mu.Unlock()
}

// Go runs fn in a goroutine. A returned error (other than cancellation) or
// a panic is recorded and, with WithCancelOnError, cancels the context.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.track(name, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.track(name, -1)

		err := s.protect(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error { fn(ctx); return nil })
}

// protect calls fn and turns a panic into an error.
func (s *Supervisor) protect(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max        time.Duration
	stopOnCleanExit bool
	publishFirstErr bool
}

// WithRestartBackoff bounds the exponential delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithPublishFirstError records restart-causing errors in Err.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publishFirstErr = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop (the
// default) or counts as a failure and restarts.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnCleanExit = enabled }
}

func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error { fn(ctx); return nil }, opts...)
}

// stableRun is how long a run must last before the backoff resets.
const stableRun = 30 * time.Second

// GoRestart keeps fn running until the context ends, restarting it after
// errors and panics with exponential backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	pol := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second, stopOnCleanExit: true}
	for _, o := range opts {
		o(&pol)
	}
	pol.max = max(pol.max, pol.min)

	s.Go0(name, func(ctx context.Context) {
		delay := pol.min
		for ctx.Err() == nil {
			began := time.Now()
			err := s.protect(name, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if pol.stopOnCleanExit {
					return
				}
				err = errors.New("exited")
			}
			if pol.publishFirstErr {
				s.record(fmt.Errorf("%s: %w", name, err))
			}
			if time.Since(began) >= stableRun {
				delay = pol.min
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", delay), logx.Err(err))

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay = min(delay*2, pol.max)
		}
	})
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx is done, and then
// reports Err (or the ctx error on timeout).
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.done == nil {
		s.done = make(chan struct{})
		go func(done chan struct{}) {
			s.wg.Wait()
			close(done)
		}(s.done)
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.record(err)
	if s.cancelOnErr {
		s.cancel()
	}
}

func (s *Supervisor) record(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

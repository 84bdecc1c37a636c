// Package scheduler triggers named jobs on cron specs.
//
// Jobs run on cron's goroutines with a per-job timeout. A job that is still
// running when its next tick arrives is skipped, and a panicking job is
// recovered and logged.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"refebot/internal/config"
	logx "refebot/pkg/logx"
)

var ErrDuplicate = errors.New("schedule already exists")

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	loc  *time.Location
	c    *cron.Cron
	defs map[string]*scheduleDef

	ctx    context.Context
	cancel context.CancelFunc
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:  log.With(logx.String("comp", "scheduler")),
		loc:  loc,
		defs: map[string]*scheduleDef{},
	}
}

// cronLogger routes cron's own messages (skips, recovered panics) to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

func (s *Service) newCronLocked() *cron.Cron {
	cl := cronLogger{log: s.log}
	return cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		// Recover must sit inside SkipIfStillRunning so a panicking run still
		// hands back its token.
		cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
	)
}

// AddCron registers job under name. It may be called before or after Start.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if name == "" || job == nil {
		return errors.New("schedule needs a name and a job")
	}
	if _, err := config.CronParser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		if err := s.addLocked(d); err != nil {
			delete(s.defs, name)
			return err
		}
	}
	s.log.Info("schedule added", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) addLocked(d *scheduleDef) error {
	ctx := s.ctx
	eid, err := s.c.AddFunc(d.spec, func() { s.run(ctx, d) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", d.name, err)
	}
	d.entryID = eid
	return nil
}

func (s *Service) run(parent context.Context, d *scheduleDef) {
	ctx := parent
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := d.job(ctx); err != nil {
		s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("scheduled job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
}

// SetLocation changes the time zone schedules are evaluated in. A running
// scheduler is restarted with every definition re-registered.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	if s.loc.String() == loc.String() {
		s.mu.Unlock()
		return
	}
	s.loc = loc
	old := s.c
	if old == nil {
		s.mu.Unlock()
		return
	}
	// The old cron stops triggering now; its running jobs are awaited below,
	// outside the lock.
	stopped := old.Stop()
	s.c = s.newCronLocked()
	for _, d := range s.defs {
		if err := s.addLocked(d); err != nil {
			s.log.Warn("schedule re-register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	n := len(s.defs)
	s.mu.Unlock()

	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("schedules", n))
	<-stopped.Done()
}

// Start begins triggering. Jobs get a context derived from ctx that is
// canceled on Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = s.newCronLocked()
	for _, d := range s.defs {
		if err := s.addLocked(d); err != nil {
			s.log.Warn("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopped := c.Stop()
	if cancel != nil {
		cancel()
	}
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Snapshot lists schedules by name with their next and previous runs.
func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

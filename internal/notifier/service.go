package notifier

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"refebot/internal/eventbus"
	rtsup "refebot/internal/runtime/supervisor"
	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 256
	defaultRate      = 3
	sendTimeout      = 10 * time.Second
	keepDelivered    = 300
)

// Service is an async notification pipeline: a bounded queue drained by a
// worker pool under a shared rate limit. It is safe for concurrent use and
// can be started again after Stop.
type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	live    *pipeline // nil when not started
	ending  chan struct{}

	delivered ring
}

// pipeline is one Start..Stop lifetime of the workers.
type pipeline struct {
	queue    chan kit.Notification
	sup      *rtsup.Supervisor
	closed   bool
	inflight sync.WaitGroup // Notify calls between the state check and the send
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, bus: bus, log: log.With(logx.String("comp", "notifier"))}
	s.delivered.items = make([]HistoryItem, 0, keepDelivered)
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. The rate limit changes immediately; worker count
// and queue size are read by the next Start.
func (s *Service) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRate
	}
	lim := rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)

	s.mu.Lock()
	s.cfg, s.limiter = cfg, lim
	s.mu.Unlock()
}

// Start launches the workers. It waits for a pending Stop to finish, and
// does nothing when already running or disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	for s.ending != nil {
		ending := s.ending
		s.mu.Unlock()
		select {
		case <-ending:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.live != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	p := &pipeline{
		queue: make(chan kit.Notification, s.cfg.QueueSize),
		sup:   rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log)),
	}
	s.live = p
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := range workers {
		p.sup.GoRestart("notifier.worker."+strconv.Itoa(i), func(c context.Context) error {
			s.drain(c, p.queue)
			if c.Err() != nil || s.closing(p) {
				return context.Canceled
			}
			return errors.New("worker left its loop")
		})
	}
	s.log.Debug("notifier started", logx.Int("workers", workers))
}

func (s *Service) closing(p *pipeline) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.closed
}

// Stop refuses new notifications and lets the workers drain what is queued.
// When ctx ends first the workers are canceled and the rest is dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.live
	if p == nil {
		s.mu.Unlock()
		return
	}
	if s.ending != nil {
		ending := s.ending
		s.mu.Unlock()
		select {
		case <-ending:
		case <-ctx.Done():
		}
		return
	}
	p.closed = true
	ending := make(chan struct{})
	s.ending = ending
	s.mu.Unlock()

	go func() {
		p.inflight.Wait()
		close(p.queue)
		_ = p.sup.Wait(context.Background())

		s.mu.Lock()
		s.live, s.ending = nil, nil
		s.mu.Unlock()
		close(ending)
	}()

	select {
	case <-ending:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

// Notify enqueues n and returns without waiting for delivery.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	p, enabled := s.live, s.cfg.Enabled
	switch {
	case !enabled:
		s.mu.Unlock()
		return ErrDisabled
	case p == nil || p.closed:
		s.mu.Unlock()
		return ErrStopped
	}
	p.inflight.Add(1)
	s.mu.Unlock()
	defer p.inflight.Done()

	select {
	case p.queue <- n:
		s.emit(EventQueued, n.Target.ChatID, nil)
		return nil
	default:
		s.emit(EventDropped, n.Target.ChatID, ErrQueueFull)
		return ErrQueueFull
	}
}

// Delivered returns the most recent successfully sent notifications, oldest
// first.
func (s *Service) Delivered() []HistoryItem { return s.delivered.snapshot() }

func (s *Service) drain(ctx context.Context, q <-chan kit.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n kit.Notification) {
	if s.adapter == nil || n.Text == "" || n.Target.IsZero() {
		return
	}
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	if lim.Wait(ctx) != nil {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := s.adapter.SendText(sendCtx, n.Target, n.Text, n.Options); err != nil {
		s.log.Debug("notification not delivered", logx.Int64("chat_id", n.Target.ChatID), logx.Err(err))
		s.emit(EventFailed, n.Target.ChatID, err)
		return
	}
	s.delivered.add(HistoryItem{At: time.Now(), ChatID: n.Target.ChatID, Text: n.Text})
	s.emit(EventSent, n.Target.ChatID, nil)
}

func (s *Service) emit(typ string, chatID int64, err error) {
	if s.bus == nil {
		return
	}
	ev := NotificationEvent{ChatID: chatID, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// ring keeps the last keepDelivered items.
type ring struct {
	mu    sync.Mutex
	items []HistoryItem
	next  int
}

func (r *ring) add(it HistoryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) < keepDelivered {
		r.items = append(r.items, it)
		return
	}
	r.items[r.next] = it
	r.next = (r.next + 1) % keepDelivered
}

func (r *ring) snapshot() []HistoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HistoryItem, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}

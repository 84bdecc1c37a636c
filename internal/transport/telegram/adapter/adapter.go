// Package adapter implements the transport over the Telegram Bot API using
// telebot long polling.
package adapter

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "refebot/internal/runtime/supervisor"
	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	// sink is where incoming updates go; nil while stopped.
	sink    atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	lifeMu sync.Mutex
	sup    *rtsup.Supervisor // non-nil while started

	menuMu   sync.Mutex
	lastMenu []kit.BotCommand
}

// New connects to Telegram (one getMe call) and prepares the poller.
// Updates flow only after Start.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = defaultPollTimeout
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token, Poller: &tele.LongPoller{Timeout: poll}})
	if err != nil {
		return nil, err
	}
	a := &Adapter{bot: bot, log: log.With(logx.String("comp", "telegram.adapter"))}
	bot.Handle(tele.OnText, a.onText)
	return a, nil
}

// SetLogger swaps the bootstrap logger for the configured one. Call it
// before Start.
func (a *Adapter) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		a.log = log
	}
}

func (a *Adapter) onText(c tele.Context) error {
	m := toMessage(c.Message())
	if m == nil {
		return nil
	}
	out := a.sink.Load()
	if out == nil {
		return nil
	}
	select {
	case *out <- kit.Update{Kind: kit.UpdateMessage, Message: m}:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Start begins long polling and delivers updates to out. A second call
// while running is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.sink.Store(&out)
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log))
	a.sup = sup

	sup.Go0("telegram.drops", func(c context.Context) { a.reportDrops(c, cap(out)) })
	sup.Go0("telegram.cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; an early return is restarted.
	sup.GoRestart0("telegram.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second), rtsup.WithStopOnCleanExit(false))
	return nil
}

func (a *Adapter) reportDrops(ctx context.Context, capacity int) {
	flush := func() {
		if n := a.dropped.Swap(0); n > 0 {
			a.log.Warn("updates dropped, dispatcher is behind", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
		}
	}
	t := time.NewTicker(dropReportEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-t.C:
			flush()
		}
	}
}

// Stop ends polling. It waits at most stopGrace (or until ctx ends) for the
// in-flight getUpdates call to return.
func (a *Adapter) Stop(ctx context.Context) error {
	a.lifeMu.Lock()
	sup := a.sup
	a.sup = nil
	a.sink.Store(nil)
	a.lifeMu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping")
	sup.Cancel()
	go a.bot.Stop()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Debug("poller did not finish in time", logx.Err(err))
	}
	return nil
}

// BotUsername returns the bot's @handle without the "@".
func (a *Adapter) BotUsername() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) String() string {
	return "telegram(" + strconv.Quote(a.BotUsername()) + ")"
}

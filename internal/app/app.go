// Package app wires the bot together: config, logging, the two JSON
// documents, transport, router, plugins and background services.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"refebot/internal/config"
	"refebot/internal/eventbus"
	"refebot/internal/inventory"
	"refebot/internal/ledger"
	"refebot/internal/notifier"
	"refebot/internal/plugin"
	rtsup "refebot/internal/runtime/supervisor"
	"refebot/internal/scheduler"
	"refebot/internal/storage"
	kit "refebot/internal/transport"
	telegram "refebot/internal/transport/telegram/adapter"
	"refebot/internal/transport/telegram/router"
	logx "refebot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	ledger *ledger.Ledger
	inv    *inventory.Service
	sched  *scheduler.Service
	notif  *notifier.Service

	cmdm *router.CommandManager
	pm   *plugin.PluginManager

	updates chan kit.Update
}

// NewApp loads the config through cfgm and builds every component. Nothing
// runs until Start.
func NewApp(cfgm *config.ConfigManager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Bring logging up with the Telegram sink off, point it at the log chat,
	// then apply the real config so Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(cfg.GroupLogID(), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	ad.SetLogger(log.With(logx.String("comp", "telegram")))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := OpenAudit(cfg, log)
	if err != nil {
		return nil, err
	}

	notifSvc := notifier.New(mapNotifierConfig(cfg), ad, log, bus)

	led, err := OpenLedger(cfg, log, ledger.WithBus(bus))
	if err != nil {
		return nil, err
	}
	inv, err := OpenInventory(cfg, log, inventory.WithBus(bus), inventory.WithNotifier(notifSvc))
	if err != nil {
		return nil, err
	}

	loc, _ := cfg.Location()
	schedSvc := scheduler.New(loc, log)

	cmdm := router.NewCommandManager(log, ad, cfgm)
	pm := plugin.NewPluginManager(log, cfgm, plugin.Deps{
		Logger:    log,
		Adapter:   ad,
		Config:    cfgm,
		Ledger:    led,
		Inventory: inv,
		Scheduler: schedSvc,
		Notifier:  notifSvc,
		Bus:       bus,
		Store:     store,
	}, cmdm)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		ledger:  led,
		inv:     inv,
		sched:   schedSvc,
		notif:   notifSvc,
		cmdm:    cmdm,
		pm:      pm,
		updates: make(chan kit.Update, 256),
	}, nil
}

func (a *App) Plugins() *plugin.PluginManager { return a.pm }

// Done is closed when the app context is canceled, by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	sanitizeInventory(a.sup.Context(), a.inv, a.log)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	a.sched.Start(a.sup.Context())

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}
	for _, st := range a.pm.Statuses() {
		a.log.Debug("plugin state", logx.String("plugin", st.Name), logx.Bool("enabled", st.Enabled), logx.Bool("running", st.Running))
	}
	for _, job := range a.sched.Snapshot() {
		a.log.Info("schedule registered", logx.String("name", job.Name), logx.String("spec", job.Spec), logx.Time("next", job.Next))
	}
	if err := a.cmdm.SyncMenu(a.sup.Context()); err != nil {
		a.log.Warn("command menu sync failed", logx.Err(err))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	notifyReady(a.log)
	a.log.Info("app started", logx.String("bot", a.adapter.String()))
	return nil
}

// reloadLoop applies each committed config. Bursts are coalesced to the
// latest value.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break drain
			}
		}
		a.apply(ctx, last, next)
		last = next
	}
}

func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if restart := config.NeedsRestart(sections); len(restart) > 0 {
		a.log.Warn("restart required for some changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.SetTelegramTarget(cfg.GroupLogID(), cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(cfg))

	if loc, err := cfg.Location(); err == nil {
		a.sched.SetLocation(loc)
		a.ledger.SetLocation(loc)
	}

	wasOn := a.notif.Enabled()
	ncfg := mapNotifierConfig(cfg)
	a.notif.Apply(ncfg)
	switch {
	case wasOn && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasOn && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	a.pm.OnConfigUpdate(ctx, cfg)
	if err := a.cmdm.SyncMenu(ctx); err != nil {
		a.log.Debug("command menu sync failed", logx.Err(err))
	}

	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason plugin.StopReason) error {
	if a.sup == nil {
		return nil
	}
	notifyStopping(a.log)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("goroutines still running", logx.Any("names", a.sup.Running()))
		}
		return err
	})

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Uint64("goroutines_started", c.Started), logx.Int64("goroutines_left", c.Active))
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and by ctx. A step that
// overruns is left running and logged when it finally returns.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}

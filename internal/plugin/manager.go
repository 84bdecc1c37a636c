package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"refebot/internal/config"
	"refebot/internal/eventbus"
	"refebot/internal/transport/telegram/router"
	logx "refebot/pkg/logx"
)

type StopReason string

const (
	StopAppStop       StopReason = "app_stop"
	StopPluginDisable StopReason = "plugin_disable"
	StopConfigFailed  StopReason = "config_failed"
)

// Plugin lifecycle events on the bus.
const (
	EventPluginStarted = "plugin.started"
	EventPluginStopped = "plugin.stopped"
	EventPluginFailed  = "plugin.failed"
)

// LifecycleEvent is the payload of the plugin events.
type LifecycleEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
}

// Status is a point-in-time view of one plugin.
type Status struct {
	Name    string
	Enabled bool
	Running bool
	LastErr string
}

const (
	callTimeout = 10 * time.Second
	startGrace  = 2 * time.Second
)

// slot is the manager's record of one registered plugin.
type slot struct {
	p       Plugin
	inited  bool
	running bool
	cancel  context.CancelFunc
	lastErr string
}

// PluginManager drives plugins through Init, OnConfigChange, Start and Stop
// following the plugins section of the config, and keeps the router's
// command set in sync with the running plugins.
type PluginManager struct {
	log  logx.Logger
	cfgm *config.ConfigManager
	deps Deps
	cmdm *router.CommandManager

	mu    sync.Mutex
	order []string
	slots map[string]*slot

	// parent of every plugin context; outlives the ctx given to StartAll
	root       context.Context
	cancelRoot context.CancelFunc
}

func NewPluginManager(log logx.Logger, cfgm *config.ConfigManager, deps Deps, cmdm *router.CommandManager) *PluginManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &PluginManager{
		log:        log.With(logx.String("comp", "plugins")),
		cfgm:       cfgm,
		deps:       deps,
		cmdm:       cmdm,
		slots:      map[string]*slot{},
		root:       root,
		cancelRoot: cancel,
	}
}

// Register adds plugins in start order. Registering a name again replaces
// the plugin but keeps its position.
func (pm *PluginManager) Register(ps ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, p := range ps {
		name := p.Name()
		if s, ok := pm.slots[name]; ok {
			s.p = p
			continue
		}
		pm.order = append(pm.order, name)
		pm.slots[name] = &slot{p: p}
	}
}

// StartAll starts every enabled plugin and publishes their commands.
func (pm *PluginManager) StartAll(ctx context.Context) error {
	return pm.reconcile(ctx, pm.cfgm.Get())
}

// OnConfigUpdate starts, stops and reconfigures plugins for cfg. Failures
// are logged and reported on the bus.
func (pm *PluginManager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	_ = pm.reconcile(ctx, cfg)
}

// StopAll stops running plugins in reverse registration order.
func (pm *PluginManager) StopAll(ctx context.Context, reason StopReason) {
	names := pm.names()
	for _, name := range slices.Backward(names) {
		pm.stop(ctx, name, reason)
	}
	pm.cancelRoot()
	pm.publishCommands()
}

// Statuses reports every registered plugin in name order.
func (pm *PluginManager) Statuses() []Status {
	cfg := pm.cfgm.Get()
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]Status, 0, len(pm.slots))
	for name, s := range pm.slots {
		out = append(out, Status{Name: name, Enabled: cfg.PluginEnabled(name), Running: s.running, LastErr: s.lastErr})
	}
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (pm *PluginManager) names() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return slices.Clone(pm.order)
}

func (pm *PluginManager) state(name string) (Plugin, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	s := pm.slots[name]
	return s.p, s.running
}

func (pm *PluginManager) reconcile(ctx context.Context, cfg *config.Config) error {
	var firstErr error
	for _, name := range pm.names() {
		p, running := pm.state(name)
		enabled := cfg.PluginEnabled(name)
		switch {
		case enabled && !running:
			if err := pm.start(ctx, name, p, cfg); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("plugin %s: %w", name, err)
			}
		case !enabled && running:
			pm.stopDetached(ctx, name, StopPluginDisable)
		case enabled && running:
			if err := pm.configure(ctx, name, p, cfg); err != nil {
				pm.failed(name, "config", err)
				pm.stopDetached(ctx, name, StopConfigFailed)
			}
		}
	}
	pm.publishCommands()
	return firstErr
}

func (pm *PluginManager) configure(ctx context.Context, name string, p Plugin, cfg *config.Config) error {
	cp, ok := p.(ConfigurablePlugin)
	if !ok {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return pm.guard(name+".config", func() error { return cp.OnConfigChange(cctx, cfg) })
}

func (pm *PluginManager) start(ctx context.Context, name string, p Plugin, cfg *config.Config) error {
	pm.mu.Lock()
	inited := pm.slots[name].inited
	pm.mu.Unlock()

	if !inited {
		ictx, cancel := context.WithTimeout(ctx, callTimeout)
		err := pm.guard(name+".init", func() error { return p.Init(ictx, pm.deps) })
		cancel()
		if err != nil {
			pm.failed(name, "init", err)
			return err
		}
		pm.mu.Lock()
		pm.slots[name].inited = true
		pm.mu.Unlock()
	}
	if err := pm.configure(ctx, name, p, cfg); err != nil {
		pm.failed(name, "config", err)
		return err
	}

	pctx, cancel := context.WithCancel(pm.root)
	if err := pm.startBounded(name, p, pctx, cancel); err != nil {
		cancel()
		pm.failed(name, "start", err)
		return err
	}

	pm.mu.Lock()
	s := pm.slots[name]
	s.running, s.cancel, s.lastErr = true, cancel, ""
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit(EventPluginStarted, LifecycleEvent{Plugin: name})
	return nil
}

// startBounded runs Start under callTimeout. On timeout the plugin context
// is canceled and Start gets startGrace to return.
func (pm *PluginManager) startBounded(name string, p Plugin, pctx context.Context, cancel context.CancelFunc) error {
	done := make(chan error, 1)
	go func() { done <- pm.guard(name+".start", func() error { return p.Start(pctx) }) }()

	select {
	case err := <-done:
		return err
	case <-time.After(callTimeout):
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("start timed out after %s: %w", callTimeout, err)
		}
		return fmt.Errorf("start timed out after %s", callTimeout)
	case <-time.After(startGrace):
		return fmt.Errorf("start timed out after %s and ignored cancellation", callTimeout)
	}
}

// stopDetached stops name with a fresh deadline that ignores ctx
// cancellation, so a reload canceled mid-way still cleans up.
func (pm *PluginManager) stopDetached(ctx context.Context, name string, reason StopReason) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callTimeout)
	defer cancel()
	pm.stop(sctx, name, reason)
}

func (pm *PluginManager) stop(ctx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	s := pm.slots[name]
	if s == nil || !s.running {
		pm.mu.Unlock()
		return
	}
	p, cancel := s.p, s.cancel
	pm.mu.Unlock()

	began := time.Now()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pm.guard(name+".stop", func() error { return p.Stop(ctx) })
	}()
	select {
	case <-done:
	case <-ctx.Done():
		pm.log.Warn("plugin stop deadline passed, moving on", logx.String("plugin", name), logx.Err(ctx.Err()))
	}

	pm.mu.Lock()
	s.running, s.cancel = false, nil
	pm.mu.Unlock()

	pm.emit(EventPluginStopped, LifecycleEvent{Plugin: name, Reason: string(reason)})
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", time.Since(began)))
}

func (pm *PluginManager) failed(name, stage string, err error) {
	pm.mu.Lock()
	pm.slots[name].lastErr = stage + ": " + err.Error()
	pm.mu.Unlock()
	pm.log.Error("plugin "+stage+" failed", logx.String("plugin", name), logx.Err(err))
	pm.emit(EventPluginFailed, LifecycleEvent{Plugin: name, Stage: stage, Err: err.Error()})
}

// guard calls fn, converting a panic into an error.
func (pm *PluginManager) guard(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("plugin panicked", logx.String("call", label), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

// publishCommands hands the commands of running plugins to the router.
func (pm *PluginManager) publishCommands() {
	var cmds []Command
	for _, name := range pm.names() {
		p, running := pm.state(name)
		if !running {
			continue
		}
		var own []Command
		_ = pm.guard(name+".commands", func() error { own = p.Commands(); return nil })
		for _, c := range own {
			c.PluginName = name
			cmds = append(cmds, c)
		}
	}
	if pm.cmdm != nil {
		pm.cmdm.SetRegistry(cmds)
	}
}

func (pm *PluginManager) emit(typ string, ev LifecycleEvent) {
	if pm.deps.Bus != nil {
		pm.deps.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}

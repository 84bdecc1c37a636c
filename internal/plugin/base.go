package plugin

import (
	"context"
	"errors"
	"time"

	"refebot/internal/eventbus"
	rtsup "refebot/internal/runtime/supervisor"
	"refebot/internal/storage"
	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
)

// PluginBase wires the common plumbing. Typical usage:
//
//	type Plugin struct{ plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type PluginBase struct {
	Log    logx.Logger
	Deps   Deps
	Runner *rtsup.Supervisor

	pluginName string
	schedules  []string
	ctx        context.Context
}

func (b *PluginBase) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", pluginName))
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = rtsup.NewSupervisor(ctx, rtsup.WithLogger(b.Log), rtsup.WithCancelOnError(false))
}

// StopBase removes the plugin's schedules, cancels the runner and waits for
// it, bounded by ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	b.clearSchedules()
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context, canceled on stop or disable.
func (b *PluginBase) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// Cron registers a job namespaced by plugin name. It replaces an earlier
// schedule with the same name so it can be called on every config change.
func (b *PluginBase) Cron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	s := b.Deps.Scheduler
	if s == nil {
		return errors.New("scheduler not available")
	}
	full := b.ns(name)
	s.Remove(full)
	if err := s.AddCron(full, spec, timeout, job); err != nil {
		return err
	}
	for _, n := range b.schedules {
		if n == full {
			return nil
		}
	}
	b.schedules = append(b.schedules, full)
	return nil
}

// Uncron removes a schedule added with Cron.
func (b *PluginBase) Uncron(name string) {
	if b.Deps.Scheduler != nil {
		b.Deps.Scheduler.Remove(b.ns(name))
	}
}

func (b *PluginBase) clearSchedules() {
	if b.Deps.Scheduler != nil {
		for _, n := range b.schedules {
			b.Deps.Scheduler.Remove(n)
		}
	}
	b.schedules = nil
}

func (b *PluginBase) ns(name string) string {
	if b.pluginName == "" {
		return name
	}
	if name == "" {
		return b.pluginName
	}
	return b.pluginName + ":" + name
}

func (b *PluginBase) Notify(ctx context.Context, n kit.Notification) error {
	if b.Deps.Notifier == nil {
		return errors.New("notifier not available")
	}
	return b.Deps.Notifier.Notify(ctx, n)
}

// Audit appends to the audit store when one is configured. Failures are
// logged and otherwise ignored.
func (b *PluginBase) Audit(ctx context.Context, e storage.AuditEntry) {
	st := b.Deps.Store
	if st == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if err := st.AppendAudit(ctx, e); err != nil {
		b.Log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

// PublishEvent publishes to the event bus, if present. Never blocks.
func (b *PluginBase) PublishEvent(typ string, data any) {
	if b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

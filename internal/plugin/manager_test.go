package plugin

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"refebot/internal/config"
	"refebot/internal/eventbus"
	"refebot/internal/transport/fake"
	"refebot/internal/transport/telegram/router"
	logx "refebot/pkg/logx"
)

type stubPlugin struct {
	PluginBase
	name     string
	initErr  error
	panicky  bool
	inits    int
	configs  int
	stopped  int
	startCtx context.Context
}

func (p *stubPlugin) Name() string { return p.name }

func (p *stubPlugin) Init(_ context.Context, deps Deps) error {
	p.inits++
	p.InitBase(deps, p.name)
	return p.initErr
}

func (p *stubPlugin) Start(ctx context.Context) error {
	if p.panicky {
		panic("boom")
	}
	p.startCtx = ctx
	p.StartBase(ctx)
	return nil
}

func (p *stubPlugin) Stop(ctx context.Context) error {
	p.stopped++
	return p.StopBase(ctx)
}

func (p *stubPlugin) OnConfigChange(context.Context, *config.Config) error {
	p.configs++
	return nil
}

func (p *stubPlugin) Commands() []Command {
	return []Command{{
		Name:        p.name + "cmd",
		Description: "stub",
		Handle:      func(context.Context, *Request) error { return nil },
	}}
}

func newManager(t *testing.T, cfg *config.Config) (*PluginManager, *router.CommandManager, *config.ConfigManager, eventbus.Bus) {
	t.Helper()
	cfgm := config.NewConfigManager("")
	cfgm.Commit(cfg)
	cmdm := router.NewCommandManager(logx.Nop(), fake.New(), cfgm)
	bus := eventbus.New()
	pm := NewPluginManager(logx.Nop(), cfgm, Deps{Logger: logx.Nop(), Bus: bus}, cmdm)
	return pm, cmdm, cfgm, bus
}

func commandNames(m *router.CommandManager) []string {
	var out []string
	for _, c := range m.Commands() {
		out = append(out, c.Name)
	}
	return out
}

func TestStartAllHonoursPluginToggles(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Plugins: map[string]config.PluginConfigRaw{"off": {Enabled: false}}}
	pm, cmdm, _, _ := newManager(t, cfg)
	on, off := &stubPlugin{name: "on"}, &stubPlugin{name: "off"}
	pm.Register(on, off)

	if err := pm.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer pm.StopAll(context.Background(), StopAppStop)

	if on.inits != 1 || on.configs != 1 || off.inits != 0 {
		t.Fatalf("calls: on init=%d config=%d, off init=%d", on.inits, on.configs, off.inits)
	}
	if diff := cmp.Diff([]string{"help", "oncmd"}, commandNames(cmdm)); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
	want := []Status{{Name: "off"}, {Name: "on", Enabled: true, Running: true}}
	if diff := cmp.Diff(want, pm.Statuses()); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigUpdateStopsAndRestarts(t *testing.T) {
	t.Parallel()

	pm, cmdm, _, bus := newManager(t, &config.Config{})
	events, unsub := bus.Subscribe(16, EventPluginStopped)
	defer unsub()

	p := &stubPlugin{name: "refe"}
	pm.Register(p)
	ctx := context.Background()
	if err := pm.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	first := p.startCtx

	pm.OnConfigUpdate(ctx, &config.Config{Plugins: map[string]config.PluginConfigRaw{"refe": {Enabled: false}}})
	if p.stopped != 1 || first.Err() == nil {
		t.Fatalf("plugin not stopped: stopped=%d ctxErr=%v", p.stopped, first.Err())
	}
	if slices.Contains(commandNames(cmdm), "refecmd") {
		t.Fatalf("disabled plugin still has commands")
	}
	ev := <-events
	if le, ok := ev.Data.(LifecycleEvent); !ok || le.Reason != string(StopPluginDisable) {
		t.Fatalf("stop event = %+v", ev.Data)
	}

	pm.OnConfigUpdate(ctx, &config.Config{})
	if p.inits != 1 {
		t.Fatalf("Init ran %d times, want once", p.inits)
	}
	if p.startCtx == first || p.startCtx.Err() != nil {
		t.Fatalf("restart should get a fresh live context")
	}
	pm.StopAll(ctx, StopAppStop)
	if p.startCtx.Err() == nil {
		t.Fatalf("StopAll left the plugin context alive")
	}
}

func TestStartFailuresAreRecorded(t *testing.T) {
	t.Parallel()

	pm, cmdm, _, _ := newManager(t, &config.Config{})
	bad := &stubPlugin{name: "bad", initErr: errors.New("no ledger")}
	boom := &stubPlugin{name: "boom", panicky: true}
	good := &stubPlugin{name: "good"}
	pm.Register(bad, boom, good)

	err := pm.StartAll(context.Background())
	if err == nil {
		t.Fatalf("StartAll should report the first failure")
	}
	defer pm.StopAll(context.Background(), StopAppStop)

	st := pm.Statuses()
	if st[0].Name != "bad" || st[0].Running || st[0].LastErr != "init: no ledger" {
		t.Fatalf("bad status = %+v", st[0])
	}
	if st[1].Name != "boom" || st[1].Running || st[1].LastErr == "" {
		t.Fatalf("boom status = %+v", st[1])
	}
	if !st[2].Running {
		t.Fatalf("a failing plugin must not block the others: %+v", st[2])
	}
	if diff := cmp.Diff([]string{"goodcmd", "help"}, commandNames(cmdm)); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

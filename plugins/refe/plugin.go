// Package refe counts photo submissions: /refe credits the author of the
// replied-to photo and forwards it to the destination channel, /toprefe
// shows the monthly leaderboard.
package refe

import (
	"context"
	"errors"
	"sync"
	"time"

	"refebot/internal/config"
	"refebot/internal/plugin"
	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
)

const reportSchedule = "monthly"

type settings struct {
	dest     kit.ChatTarget
	layout   string
	missing  string
	topSize  int
	infoURL  string
	ownerURL string
	report   string
	loc      *time.Location
}

type Plugin struct {
	plugin.PluginBase

	mu       sync.RWMutex
	set      settings
	cronSpec string // currently registered report spec

	now func() time.Time
}

func New() *Plugin { return &Plugin{now: time.Now} }

func (p *Plugin) Name() string { return "refe" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Ledger == nil {
		return errors.New("ledger not available")
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.cronSpec = ""
	p.mu.Unlock()
	return p.StopBase(ctx)
}

func (p *Plugin) OnConfigChange(ctx context.Context, cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	s := settings{
		dest:     cfg.Destination(),
		layout:   cfg.ClockLayout(),
		missing:  cfg.Ledger.MissingDestination,
		topSize:  cfg.Ledger.TopSize,
		infoURL:  cfg.Ledger.InfoURL,
		ownerURL: cfg.Ledger.OwnerURL,
		report:   cfg.Ledger.MonthlyReport,
		loc:      loc,
	}
	p.Deps.Ledger.SetLocation(loc)

	p.mu.Lock()
	p.set = s
	prev := p.cronSpec
	p.mu.Unlock()

	if s.report == prev {
		return nil
	}
	if s.report == "" {
		p.Uncron(reportSchedule)
		p.Log.Info("monthly report disabled")
	} else {
		if err := p.Cron(reportSchedule, s.report, 30*time.Second, p.postMonthlyReport); err != nil {
			return err
		}
		p.Log.Info("monthly report scheduled", logx.String("spec", s.report))
	}
	p.mu.Lock()
	p.cronSpec = s.report
	p.mu.Unlock()
	return nil
}

func (p *Plugin) settings() settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set
}

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Name:        "refe",
			Description: "registra la imagen a la que respondes",
			Usage:       "/refe (respondiendo a una imagen)",
			Handle:      p.handleRefe,
		},
		{
			Name:        "toprefe",
			Aliases:     []string{"top"},
			Description: "ranking del mes",
			Usage:       "/toprefe [AAAA-MM]",
			Handle:      p.handleTop,
		},
	}
}

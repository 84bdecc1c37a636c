// Package plugin hosts the bot's feature plugins. Each plugin contributes
// commands to the router and may run background work under its own
// supervisor; the manager starts, stops and reconfigures them from config.
package plugin

import (
	"context"

	"refebot/internal/config"
	"refebot/internal/eventbus"
	"refebot/internal/inventory"
	"refebot/internal/ledger"
	"refebot/internal/scheduler"
	"refebot/internal/storage"
	kit "refebot/internal/transport"
	"refebot/internal/transport/telegram/router"
	logx "refebot/pkg/logx"
)

type Command = router.Command

type Request = router.Request

const (
	AccessEveryone  = router.AccessEveryone
	AccessAdminOnly = router.AccessAdminOnly
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// ConfigurablePlugin is notified with the committed config on start and
// after every hot reload.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, cfg *config.Config) error
}

type NotifierPort interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Deps are shared by every plugin. Optional fields may be nil.
type Deps struct {
	Logger    logx.Logger
	Adapter   kit.Adapter
	Config    *config.ConfigManager
	Ledger    *ledger.Ledger
	Inventory *inventory.Service

	Scheduler *scheduler.Service
	Notifier  NotifierPort
	Bus       eventbus.Bus
	Store     storage.Store
}

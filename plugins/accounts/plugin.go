// Package accounts exposes the shared credential inventory: admins add
// entries with a use budget, anyone can list and redeem them, and only the
// creator can remove one early.
package accounts

import (
	"context"
	"errors"

	"refebot/internal/plugin"
)

type Plugin struct {
	plugin.PluginBase
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "accounts" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Inventory == nil {
		return errors.New("inventory not available")
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Name:        "newacc",
			Description: "agrega una cuenta al inventario",
			Usage:       "/newacc <servicio> <email> <contraseña> <usos> [nota...]",
			Access:      plugin.AccessAdminOnly,
			Handle:      p.handleAdd,
		},
		{
			Name:        "acclist",
			Aliases:     []string{"cuentas"},
			Description: "lista las cuentas disponibles",
			Usage:       "/acclist",
			Handle:      p.handleList,
		},
		{
			Name:        "get",
			Description: "obtiene una cuenta del inventario",
			Usage:       "/get <servicio>",
			Handle:      p.handleGet,
		},
		{
			Name:        "removeacc",
			Description: "elimina una cuenta que creaste",
			Usage:       "/removeacc <servicio>",
			Handle:      p.handleRemove,
		},
	}
}

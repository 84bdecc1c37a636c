// Package start answers /start with a short welcome and command overview.
package start

import (
	"context"
	"strings"

	"refebot/internal/plugin"
	"refebot/pkg/tgui"
)

type Plugin struct {
	plugin.PluginBase
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "start" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { return nil }
func (p *Plugin) Stop(ctx context.Context) error  { return nil }

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{{
		Name:        "start",
		Description: "mensaje de bienvenida",
		Usage:       "/start",
		Hidden:      true,
		Handle: func(ctx context.Context, req *plugin.Request) error {
			var info string
			if req.Config != nil {
				info = req.Config.Ledger.InfoURL
			}
			return req.Reply(ctx, welcome(req.From.DisplayName(), info).String())
		},
	}}
}

func welcome(name, infoURL string) tgui.H {
	greet := tgui.Raw("👋 ¡Hola!")
	if name != "" {
		greet = tgui.Raw("👋 ¡Hola, ") + tgui.Esc(name) + tgui.Raw("!")
	}
	return tgui.Lines(
		greet,
		tgui.Raw("📸 Responde a una imagen con /refe para registrarla."),
		tgui.Raw("🏆 Usa /toprefe para ver el ranking del mes."),
		tgui.Raw("🔑 Usa /acclist y /get &lt;servicio&gt; para las cuentas compartidas."),
		tgui.Raw("ℹ️ /help muestra todos los comandos."),
		moreInfo(infoURL),
	)
}

func moreInfo(url string) tgui.H {
	if strings.TrimSpace(url) == "" {
		return ""
	}
	return tgui.Raw("🔗 ") + tgui.Link("Más información", url)
}

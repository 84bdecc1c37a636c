package accounts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"refebot/internal/inventory"
	"refebot/internal/plugin"
	"refebot/internal/storage"
	logx "refebot/pkg/logx"
	"refebot/pkg/tgui"
)

const (
	usageAdd    = "Uso: /newacc <servicio> <email> <contraseña> <usos> [nota...]"
	usageGet    = "Uso: /get <servicio>"
	usageRemove = "Uso: /removeacc <servicio>"

	msgBadUses   = "⚠️ Los usos deben ser un número entero mayor que cero."
	msgEmptyList = "📭 No hay cuentas disponibles."
	msgNotFound  = "❌ No existe una cuenta para %s."
	msgForbidden = "⛔ Solo quien creó la cuenta puede eliminarla."
	msgRemoved   = "🗑️ Cuenta %s eliminada."
)

func (p *Plugin) handleAdd(ctx context.Context, req *plugin.Request) error {
	if len(req.Args) < 4 {
		return req.Reply(ctx, tgui.Esc(usageAdd).String())
	}
	uses, err := strconv.Atoi(req.Args[3])
	if err != nil || uses <= 0 {
		return req.Reply(ctx, msgBadUses)
	}
	e := inventory.Entry{
		Name:      req.Args[0],
		Email:     req.Args[1],
		Password:  req.Args[2],
		MaxUses:   uses,
		Note:      strings.Join(req.Args[4:], " "),
		Creator:   req.From.DisplayName(),
		CreatorID: req.From.ID,
	}

	err = p.Deps.Inventory.Add(ctx, e)
	p.audit(ctx, req, storage.ActionInventoryAdd, e.Name, "uses="+strconv.Itoa(uses), err)
	switch {
	case errors.Is(err, inventory.ErrInvalidUses):
		return req.Reply(ctx, msgBadUses)
	case errors.Is(err, inventory.ErrInvalidName):
		return req.Reply(ctx, tgui.Esc(usageAdd).String())
	case err != nil:
		return err
	}

	req.Logger.Info("account added", logx.String("service", inventory.NormalizeName(e.Name)), logx.Int("uses", uses))
	return req.Reply(ctx, fmt.Sprintf("✅ Cuenta %s agregada con %d usos.", tgui.B(e.Name), uses))
}

func (p *Plugin) handleList(ctx context.Context, req *plugin.Request) error {
	items, err := p.Deps.Inventory.List(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return req.Reply(ctx, msgEmptyList)
	}
	return req.Reply(ctx, listing(items))
}

func (p *Plugin) handleGet(ctx context.Context, req *plugin.Request) error {
	if len(req.Args) < 1 {
		return req.Reply(ctx, tgui.Esc(usageGet).String())
	}
	name := strings.Join(req.Args, " ")
	who := inventory.Requester{ID: req.From.ID, Name: req.From.DisplayName()}

	red, err := p.Deps.Inventory.Request(ctx, name, who)
	if errors.Is(err, inventory.ErrNotFound) {
		return req.Reply(ctx, fmt.Sprintf(msgNotFound, tgui.B(name)))
	}
	if err != nil {
		p.audit(ctx, req, storage.ActionInventoryGet, name, "", err)
		return err
	}
	p.audit(ctx, req, storage.ActionInventoryGet, red.Name, "remaining="+strconv.Itoa(red.Remaining), nil)
	return req.Reply(ctx, redemption(red).String())
}

func (p *Plugin) handleRemove(ctx context.Context, req *plugin.Request) error {
	if len(req.Args) < 1 {
		return req.Reply(ctx, tgui.Esc(usageRemove).String())
	}
	name := strings.Join(req.Args, " ")

	err := p.Deps.Inventory.Remove(ctx, name, req.From.ID)
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		return req.Reply(ctx, fmt.Sprintf(msgNotFound, tgui.B(name)))
	case errors.Is(err, inventory.ErrForbidden):
		p.audit(ctx, req, storage.ActionInventoryRemove, name, "", err)
		return req.Reply(ctx, msgForbidden)
	case err != nil:
		p.audit(ctx, req, storage.ActionInventoryRemove, name, "", err)
		return err
	}
	p.audit(ctx, req, storage.ActionInventoryRemove, name, "", nil)
	return req.Reply(ctx, fmt.Sprintf(msgRemoved, tgui.B(name)))
}

func (p *Plugin) audit(ctx context.Context, req *plugin.Request, action, target, detail string, err error) {
	e := storage.AuditEntry{
		ActorID:   req.From.ID,
		ActorName: req.From.DisplayName(),
		ChatID:    req.Chat.ChatID,
		Action:    action,
		Target:    inventory.NormalizeName(target),
		Detail:    detail,
	}
	if err != nil {
		e.Error = err.Error()
	}
	p.Audit(ctx, e)
}

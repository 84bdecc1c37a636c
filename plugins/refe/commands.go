package refe

import (
	"context"
	"fmt"
	"strconv"

	"refebot/internal/config"
	"refebot/internal/ledger"
	"refebot/internal/plugin"
	"refebot/internal/storage"
	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
)

const (
	msgNeedReply       = "❗ Responde a una imagen con /refe."
	msgOnlyImages      = "⚠️ Solo se aceptan imágenes."
	msgForwarded       = "✅ Registrado y reenviado al canal."
	msgForwardFailed   = "⚠️ Registrado pero falló el reenvío al canal. Comprobando permisos."
	msgNoDestination   = "✅ Referencia registrada (no hay canal configurado)."
	msgEmptyMonth      = "📭 No hay entradas este mes."
	msgEmptyOtherMonth = "📭 No hay entradas para %s."
	msgBadMonth        = "Uso: /toprefe [AAAA-MM]"
)

func (p *Plugin) handleRefe(ctx context.Context, req *plugin.Request) error {
	replied := req.Message.ReplyTo
	if replied == nil {
		return req.Reply(ctx, msgNeedReply)
	}
	if !replied.HasPhoto() {
		return req.Reply(ctx, msgOnlyImages)
	}

	s := p.settings()
	author := replied.From
	name := author.DisplayName()
	month := p.Deps.Ledger.MonthKey(p.now())

	count, err := p.Deps.Ledger.RecordSubmission(ctx, month, author.ID, name)
	audit := storage.AuditEntry{
		ActorID:   req.From.ID,
		ActorName: req.From.DisplayName(),
		ChatID:    req.Chat.ChatID,
		Action:    storage.ActionLedgerRecord,
		Target:    strconv.FormatInt(author.ID, 10),
	}
	if err != nil {
		audit.Error = err.Error()
		p.Audit(ctx, audit)
		return err
	}
	audit.Detail = month + " count=" + strconv.Itoa(count)
	p.Audit(ctx, audit)
	req.Logger.Info("submission recorded", logx.Int64("author_id", author.ID), logx.String("month", month), logx.Int("count", count))

	if s.dest.IsZero() {
		if s.missing == config.MissingDestinationSilent {
			return nil
		}
		return req.Reply(ctx, msgNoDestination)
	}

	photo := kit.Photo{
		FileID:  replied.PhotoFileID,
		Caption: caption(author, replied.Date.In(s.loc), s.layout, replied.Caption).String(),
	}
	_, err = req.Adapter.SendPhoto(ctx, s.dest, photo, &kit.SendOptions{ParseMode: "HTML", Buttons: keyboard(s)})
	if err != nil {
		req.Logger.Warn("forward to destination failed", logx.String("dest", destLabel(s.dest)), logx.Err(err))
		return req.Reply(ctx, msgForwardFailed)
	}
	req.Logger.Info("photo forwarded", logx.String("dest", destLabel(s.dest)), logx.String("author", name))
	return req.Reply(ctx, msgForwarded)
}

func (p *Plugin) handleTop(ctx context.Context, req *plugin.Request) error {
	s := p.settings()
	month := p.Deps.Ledger.MonthKey(p.now())
	current := true
	if len(req.Args) > 0 {
		m, err := ledger.ParseMonth(req.Args[0])
		if err != nil {
			return req.Reply(ctx, msgBadMonth)
		}
		current = m == month
		month = m
	}

	rows, err := p.Deps.Ledger.TopN(ctx, month, s.topSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		if current {
			return req.Reply(ctx, msgEmptyMonth)
		}
		return req.Reply(ctx, fmt.Sprintf(msgEmptyOtherMonth, month))
	}
	return req.Reply(ctx, leaderboard("TOP — "+month, rows))
}

func destLabel(t kit.ChatTarget) string {
	if t.Username != "" {
		return t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

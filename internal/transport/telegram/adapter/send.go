package adapter

import (
	"context"
	"errors"
	"slices"

	tele "gopkg.in/telebot.v4"

	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
)

const (
	maxMenuCommands = 100
	maxMenuDescLen  = 256
)

// SendText sends text, split into several messages when it is too long.
// The returned ref points at the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	rcpt := recipient(to)
	var first kit.MessageRef
	for i, chunk := range chunkText(text, maxMessageRunes, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		part := firstPart
		if i > 0 {
			part = laterPart
		}
		msg, err := a.bot.Send(rcpt, chunk, teleOptions(to, opt, part))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = refOf(msg, to)
		}
	}
	return first, nil
}

// SendPhoto re-sends an already uploaded photo by file id.
func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photo kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if photo.FileID == "" {
		return kit.MessageRef{}, errors.New("photo file id is empty")
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	p := &tele.Photo{File: tele.File{FileID: photo.FileID}, Caption: photo.Caption}
	msg, err := a.bot.Send(recipient(to), p, teleOptions(to, opt, firstPart))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return refOf(msg, to), nil
}

// UpdateMenuCommands publishes the command menu. Telegram is only called
// when cmds differs from the last list it accepted.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.lastMenu != nil && slices.Equal(a.lastMenu, cmds) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	menu := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		if len(menu) == maxMenuCommands {
			break
		}
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if r := []rune(desc); len(r) > maxMenuDescLen {
			desc = string(r[:maxMenuDescLen])
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.lastMenu = slices.Clone(cmds)
	if a.lastMenu == nil {
		a.lastMenu = []kit.BotCommand{}
	}
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}

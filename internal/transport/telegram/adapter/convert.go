package adapter

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "refebot/internal/transport"
)

// toMessage converts a telebot message. The replied-to message is
// converted too, one level deep.
func toMessage(m *tele.Message) *kit.Message {
	out := convert(m)
	if out != nil {
		out.ReplyTo = convert(m.ReplyTo)
	}
	return out
}

func convert(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		Caption:  m.Caption,
		Date:     m.Time(),
	}
	switch m.Chat.Type {
	case tele.ChatGroup, tele.ChatSuperGroup:
		msg.IsGroup = true
	}
	if u := m.Sender; u != nil {
		msg.From = kit.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName}
	}
	if m.Photo != nil {
		msg.PhotoFileID = m.Photo.FileID
	}
	return msg
}

// handle is a tele.Recipient for a public "@name" chat.
type handle string

func (h handle) Recipient() string { return string(h) }

// recipient prefers the username when both are set.
func recipient(to kit.ChatTarget) tele.Recipient {
	name := strings.TrimSpace(to.Username)
	if name == "" {
		return &tele.Chat{ID: to.ChatID}
	}
	return handle("@" + strings.TrimPrefix(name, "@"))
}

type sendPart int

const (
	firstPart sendPart = iota
	laterPart
)

// teleOptions builds telebot options. Reply and keyboard belong to the
// first message of a split text only.
func teleOptions(to kit.ChatTarget, opt *kit.SendOptions, part sendPart) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	if part != firstPart {
		return so
	}
	if opt.ReplyTo != 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: &tele.Chat{ID: to.ChatID}}
		so.AllowWithoutReply = true
	}
	if len(opt.Buttons) > 0 {
		so.ReplyMarkup = inlineMarkup(opt.Buttons)
	}
	return so
}

func inlineMarkup(rows [][]kit.Button) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	kb := make([]tele.Row, len(rows))
	for i, row := range rows {
		btns := make([]tele.Btn, len(row))
		for j, b := range row {
			btns[j] = rm.URL(b.Text, b.URL)
		}
		kb[i] = rm.Row(btns...)
	}
	rm.Inline(kb...)
	return rm
}

func refOf(msg *tele.Message, to kit.ChatTarget) kit.MessageRef {
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	if msg == nil {
		return ref
	}
	ref.MessageID = msg.ID
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	return ref
}

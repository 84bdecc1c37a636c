package refe

import (
	"strconv"
	"strings"
	"time"

	"refebot/internal/ledger"
	kit "refebot/internal/transport"
	"refebot/pkg/tgui"
)

// Telegram captions are capped at 1024 characters; leave room for the header.
const maxCaptionRunes = 800

// caption renders the text posted with a forwarded photo.
func caption(author kit.User, at time.Time, layout string, original string) tgui.H {
	return tgui.Lines(
		tgui.Raw("📌 Nueva cuenta/entrada"),
		"👤 "+tgui.Handle(author.DisplayName(), author.ID),
		tgui.Raw("🆔 "+strconv.FormatInt(author.ID, 10)),
		tgui.Raw("🕒 "+at.Format(layout)),
		"💬 "+tgui.Esc(tgui.TruncRunes(original, maxCaptionRunes)),
	)
}

func keyboard(s settings) [][]kit.Button {
	return tgui.NewKeyboard().
		Row(tgui.URLBtn("INFO", s.infoURL), tgui.URLBtn("OWNER", s.ownerURL)).
		Rows()
}

// leaderboard renders a month's standings. Users without a name show as
// "desconocido".
func leaderboard(title string, rows []ledger.Standing) string {
	var b strings.Builder
	b.WriteString("🏆 ")
	b.WriteString(string(tgui.Esc(title)))
	b.WriteString("\n\n")
	for i, r := range rows {
		name := strings.TrimPrefix(r.Name, "@")
		if name == "" {
			name = "desconocido"
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(string(tgui.Esc("@" + name)))
		b.WriteString(": ")
		b.WriteString(strconv.Itoa(r.Count))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

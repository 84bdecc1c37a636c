package tgui

import (
	"html"
	"strconv"
	"strings"
	"unicode/utf8"
)

// H is text already safe for ParseMode "HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes untrusted text.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw trusts s as markup.
func Raw(s string) H { return H(s) }

func tag(name, body string) H {
	var b strings.Builder
	b.Grow(len(body) + 2*len(name) + 5)
	b.WriteString("<" + name + ">")
	b.WriteString(html.EscapeString(body))
	b.WriteString("</" + name + ">")
	return H(b.String())
}

func B(s string) H    { return tag("b", s) }
func Code(s string) H { return tag("code", s) }

func Link(text, url string) H {
	return H(`<a href="` + html.EscapeString(url) + `">` + html.EscapeString(text) + `</a>`)
}

// Handle shows a user as "@name", falling back to the numeric id.
func Handle(name string, id int64) H {
	if name = strings.TrimLeft(strings.TrimSpace(name), "@"); name != "" {
		return Esc("@" + name)
	}
	return H(strconv.FormatInt(id, 10))
}

// Lines joins the non-blank parts with newlines.
func Lines(parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(p))
	}
	return H(b.String())
}

// TruncRunes cuts s to at most n runes. A cut string ends in "…", which
// counts towards n.
func TruncRunes(s string, n int) string {
	switch {
	case n <= 0:
		return ""
	case utf8.RuneCountInString(s) <= n:
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

package router

import (
	"strings"

	kit "refebot/internal/transport"
)

const (
	maxCommandLen  = 32
	maxMenuEntries = 100
)

// menuName maps a command name onto Telegram's [a-z0-9_]{1,32} form, which
// must begin with a letter. Separators collapse into one underscore and
// other characters are dropped.
func menuName(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '/' || r == ' ' || r == '\t' || r == '\n'
	})
	for i, w := range words {
		words[i] = strings.Map(func(r rune) rune {
			if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
				return r
			}
			return -1
		}, w)
	}
	out := strings.Join(strings.FieldsFunc(strings.Join(words, "_"), func(r rune) bool { return r == '_' }), "_")
	if out == "" {
		return ""
	}
	if c := out[0]; '0' <= c && c <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	return out
}

// menuEntries builds the shared bot menu from visible commands. Admin-only
// entries carry a lock since every user sees the same menu.
func menuEntries(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, min(len(cmds), maxMenuEntries))
	taken := make(map[string]struct{}, len(cmds))
	for _, c := range cmds {
		if len(out) == maxMenuEntries {
			break
		}
		name := menuName(c.Name)
		if _, dup := taken[name]; c.Hidden || name == "" || dup {
			continue
		}
		taken[name] = struct{}{}

		desc := strings.Join(strings.Fields(c.Description), " ")
		if desc == "" {
			desc = name
		}
		if c.Access == AccessAdminOnly {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	return out
}

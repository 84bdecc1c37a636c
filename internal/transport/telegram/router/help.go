package router

import (
	"html"
	"strings"
)

// helpText renders help in HTML parse mode. Admin-only commands are listed
// only for admins.
func (m *CommandManager) helpText(args []string, isAdmin bool) string {
	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := m.lookup(word)
		if !ok || c.Hidden || (c.Access == AccessAdminOnly && !isAdmin) {
			return "❓ <b>Comando desconocido</b>\nEscribe <code>/help</code> para ver la lista."
		}
		return helpCommandHTML(c)
	}

	lines := []string{
		"📚 <b>Comandos</b>",
		"Escribe <code>/help &lt;comando&gt;</code> para ver detalles.",
		"",
	}
	for _, c := range m.Commands() {
		if c.Hidden || (c.Access == AccessAdminOnly && !isAdmin) {
			continue
		}
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if c.Access == AccessAdminOnly {
			line = "• 🔒 <code>/" + html.EscapeString(c.Name) + "</code>"
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			line += ": " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpCommandHTML(c *Command) string {
	lines := []string{"📚 <b>Ayuda</b> <code>/" + html.EscapeString(c.Name) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessAdminOnly {
		lines = append(lines, "🔒 <i>Solo administradores</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Uso</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		alts := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			alts = append(alts, "<code>/"+html.EscapeString(a)+"</code>")
		}
		lines = append(lines, "", "<b>Alias</b> "+strings.Join(alts, ", "))
	}
	return strings.Join(lines, "\n")
}

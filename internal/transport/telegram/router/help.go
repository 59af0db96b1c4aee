package router

import (
	"html"
	"sort"
	"strings"
)

// accessBadge marks commands that need a role in help and the menu.
func accessBadge(a Access) string {
	switch a {
	case AccessOwnerOnly:
		return "🔒 "
	case AccessModerator:
		return "🛡 "
	default:
		return ""
	}
}

// helpText renders help in Telegram HTML.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTopHTML(root)
	}

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[strings.ToLower(p)]; ok && leaf != nil && leaf.cmd != nil && len(full) == 0 {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "❓ <b>Unknown command</b>\nType <code>/help</code> for the command list."
		}
		cur = n
		full = append(full, n.name)
	}
	return helpNodeHTML(cur, full)
}

type topRow struct {
	name   string
	desc   string
	access Access
}

func helpTopHTML(root *cmdNode) string {
	names := root.visibleChildNames()
	rows := make([]topRow, 0, len(names))
	for _, name := range names {
		n, _ := root.child(name)
		rows = append(rows, topRow{name: name, desc: summarizeNodeDesc(n), access: n.minAccess()})
	}
	// Public commands first, then by name.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].access != rows[j].access {
			return rows[i].access < rows[j].access
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>/help &lt;cmd&gt;</code> for details.",
		"",
	}
	for _, r := range rows {
		line := "• " + accessBadge(r.access) + "<code>/" + html.EscapeString(r.name) + "</code>"
		if r.desc != "" {
			line += ": " + html.EscapeString(r.desc)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "🛡 moderators, 🔒 owners")
	return strings.Join(lines, "\n")
}

func helpNodeHTML(cur *cmdNode, full []string) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(strings.Join(full, " ")) + "</code>"}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access != AccessEveryone {
			lines = append(lines, accessBadge(c.Access)+"<i>"+c.Access.String()+" only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b>")
			for _, s := range short {
				lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
			}
		}
	} else {
		lines = append(lines, "Command group.")
	}

	if len(cur.visibleChildNames()) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range cur.visibleChildNames() {
			n, _ := cur.child(name)
			cmd := "/" + strings.Join(append(append([]string(nil), full...), name), " ")
			line := "• " + accessBadge(n.minAccess()) + "<code>" + html.EscapeString(cmd) + "</code>"
			if desc := summarizeNodeDesc(n); desc != "" {
				line += ": " + html.EscapeString(desc)
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.visibleChildNames()
	if len(kids) == 0 {
		return ""
	}
	k := min(3, len(kids))
	s := strings.Join(kids[:k], ", ")
	if len(kids) > k {
		s += ", …"
	}
	return "subcommands: " + s
}

func buildShortcuts(c Command) []string {
	route := splitRoute(c.Route)
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if menu, ok := telegramCommandNameFromRoute(route); ok && len(route) > 1 {
		add(menu)
	}
	for _, a := range c.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}

package commands

import (
	"sort"
	"strings"

	"quizbot/pkg/tgui"
)

// helpText renders the command list for ParseMode=HTML.
func (m *Manager) helpText() string {
	m.mu.RLock()
	cmds := append([]Command(nil), m.list...)
	restricted := m.ownerOnly && len(m.owners) > 0
	m.mu.RUnlock()

	// owner-only commands last, alphabetical within each group
	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Name < cmds[j].Name
	})

	lines := []tgui.H{tgui.B("Commands")}
	for _, c := range cmds {
		line := tgui.Esc("/" + c.Name)
		if c.Description != "" {
			line += tgui.Esc(" - " + c.Description)
		}
		if len(c.Aliases) > 0 {
			line += " " + tgui.I("(also /"+strings.Join(c.Aliases, ", /")+")")
		}
		if restricted && c.Access == AccessOwnerOnly {
			line += " 🔒"
		}
		lines = append(lines, line)
	}
	return tgui.Lines(lines...).String()
}

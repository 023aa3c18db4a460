package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/toucan/internal/protocol"
	"github.com/tinytelemetry/toucan/internal/render"
)

var (
	ColorAlert = lipgloss.Color("196")
	ColorGray  = lipgloss.Color("240")
	ColorCyan  = lipgloss.Color("39")
	ColorNavy  = lipgloss.Color("17")
	ColorWhite = lipgloss.Color("255")

	titleStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite).
			Bold(true).
			Padding(0, 1)
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorCyan).
			Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(ColorGray)
	alertStyle = lipgloss.NewStyle().Foreground(ColorAlert).Bold(true)
	headStyle  = lipgloss.NewStyle().Bold(true)
)

// View renders the panel.
func (p *Panel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("toucan · honeypot activity"))
	b.WriteString("\n\n")
	b.WriteString(boxStyle.Render(render.Row(p.state)))
	b.WriteString("\n\n")

	b.WriteString(headStyle.Render(fmt.Sprintf("  %-7s %5s  %10s", "proto", "port", "detections")))
	b.WriteString("\n")
	for _, l := range protocol.All() {
		port, _ := protocol.Port(l)
		line := fmt.Sprintf("  %-7s %5d  %10d", l, port, p.counts[l.String()])
		if p.state.Get(l) {
			line = alertStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headStyle.Render("  recent"))
	b.WriteString("\n")
	if len(p.recent) == 0 {
		b.WriteString(dimStyle.Render("  no detections recorded"))
		b.WriteString("\n")
	}
	for _, d := range p.recent {
		b.WriteString(fmt.Sprintf("  %s  %-6s %5d  %s\n",
			d.DetectedAt.Local().Format("2006-01-02 15:04:05"), d.Protocol, d.DstPort, dimStyle.Render(d.Source)))
	}

	b.WriteString("\n")
	switch {
	case p.err != nil:
		b.WriteString(alertStyle.Render("  daemon error: " + p.err.Error()))
	case p.updatedAt.IsZero():
		b.WriteString(dimStyle.Render("  waiting for daemon..."))
	default:
		b.WriteString(dimStyle.Render("  updated " + p.updatedAt.Format("15:04:05")))
	}
	b.WriteString("\n\n")
	b.WriteString(p.help.View(p.keys))
	b.WriteString("\n")

	return b.String()
}

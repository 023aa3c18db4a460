package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/protocol"
)

var (
	litStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	unlitStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Console prints each frame as one row of labelled dots. It stands in for
// the strip on machines without one.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole returns a console renderer writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Row renders s as a single styled line.
func Row(s indicator.State) string {
	cells := make([]string, len(s))
	for i, on := range s {
		name := protocol.At(i).String()
		if on {
			cells[i] = litStyle.Render("● " + name)
		} else {
			cells[i] = unlitStyle.Render("○ " + name)
		}
	}
	return strings.Join(cells, "  ")
}

func (c *Console) Render(s indicator.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.out, Row(s)); err != nil {
		return &HardwareError{Op: "render", Err: err}
	}
	return nil
}

func (c *Console) Cleanup() error { return nil }

// Package tui is the terminal panel that mirrors the daemon's indicator.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/model"
	"github.com/tinytelemetry/toucan/internal/protocol"
)

// recentRows is how many detections the panel lists.
const recentRows = 8

// Source is the daemon surface the panel reads and controls.
// *socketrpc.Client satisfies it.
type Source interface {
	State() (model.IndicatorView, error)
	Clear() (model.IndicatorView, error)
	model.HistoryReader
}

// TickMsg schedules the next poll.
type TickMsg time.Time

// snapshotMsg carries the result of one poll.
type snapshotMsg struct {
	view   model.IndicatorView
	counts map[string]int64
	recent []model.Detection
	at     time.Time
	err    error
}

// clearedMsg is the result of a Clear request.
type clearedMsg struct {
	view model.IndicatorView
	err  error
}

// Panel is the Bubble Tea model.
type Panel struct {
	source         Source
	updateInterval time.Duration
	keys           KeyMap
	help           help.Model

	state     indicator.State
	counts    map[string]int64
	recent    []model.Detection
	updatedAt time.Time
	err       error

	inFlight bool
	width    int
	height   int
}

// NewPanel creates a panel polling source every updateInterval.
func NewPanel(source Source, updateInterval time.Duration) *Panel {
	if updateInterval <= 0 {
		updateInterval = model.DefaultUpdateInterval
	}
	return &Panel{
		source:         source,
		updateInterval: updateInterval,
		keys:           DefaultKeyMap(),
		help:           help.New(),
	}
}

// Init fetches immediately and starts the poll tick.
func (p *Panel) Init() tea.Cmd {
	p.inFlight = true
	return tea.Batch(p.fetchCmd(), p.tickCmd())
}

func (p *Panel) tickCmd() tea.Cmd {
	return tea.Tick(p.updateInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (p *Panel) fetchCmd() tea.Cmd {
	src := p.source
	return func() tea.Msg {
		msg := snapshotMsg{at: time.Now()}
		if msg.view, msg.err = src.State(); msg.err != nil {
			return msg
		}
		if msg.counts, msg.err = src.Counts(); msg.err != nil {
			return msg
		}
		msg.recent, msg.err = src.Recent(recentRows)
		return msg
	}
}

func (p *Panel) clearCmd() tea.Cmd {
	src := p.source
	return func() tea.Msg {
		view, err := src.Clear()
		return clearedMsg{view: view, err: err}
	}
}

// Update handles keys, ticks and fetch results.
func (p *Panel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.height = msg.Height
		p.help.Width = msg.Width
		return p, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.Quit), key.Matches(msg, p.keys.ForceQuit):
			return p, tea.Quit
		case key.Matches(msg, p.keys.Clear):
			return p, p.clearCmd()
		case key.Matches(msg, p.keys.Refresh):
			if p.inFlight {
				return p, nil
			}
			p.inFlight = true
			return p, p.fetchCmd()
		case key.Matches(msg, p.keys.Help):
			p.help.ShowAll = !p.help.ShowAll
			return p, nil
		}
		return p, nil

	case TickMsg:
		if p.inFlight {
			return p, p.tickCmd()
		}
		p.inFlight = true
		return p, tea.Batch(p.fetchCmd(), p.tickCmd())

	case snapshotMsg:
		p.inFlight = false
		p.err = msg.err
		if msg.err != nil {
			return p, nil
		}
		p.state = stateFromView(msg.view)
		p.counts = msg.counts
		p.recent = msg.recent
		p.updatedAt = msg.at
		return p, nil

	case clearedMsg:
		p.err = msg.err
		if msg.err == nil {
			p.state = stateFromView(msg.view)
		}
		return p, nil
	}
	return p, nil
}

func stateFromView(v model.IndicatorView) indicator.State {
	var s indicator.State
	for i := 0; i < len(v.Slots) && i < protocol.Count; i++ {
		s[i] = v.Slots[i]
	}
	return s
}

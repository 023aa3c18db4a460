// Package indicator owns the on/off state shown on the LED strip: the
// in-memory board held by the daemon and its durable snapshot on disk.
package indicator

import (
	"strings"

	"github.com/tinytelemetry/toucan/internal/protocol"
)

// State holds one flag per protocol, indexed by protocol slot.
type State [protocol.Count]bool

// Active lists the labels that are on, in slot order.
func (s State) Active() []protocol.Label {
	var out []protocol.Label
	for i, on := range s {
		if on {
			out = append(out, protocol.At(i))
		}
	}
	return out
}

// Get reports whether l is on. Unknown labels are off.
func (s State) Get(l protocol.Label) bool {
	idx, ok := protocol.Index(l)
	return ok && s[idx]
}

// With returns a copy of s with l set to on.
func (s State) With(l protocol.Label, on bool) (State, bool) {
	idx, ok := protocol.Index(l)
	if !ok {
		return s, false
	}
	s[idx] = on
	return s, true
}

func (s State) String() string {
	active := s.Active()
	if len(active) == 0 {
		return "all off"
	}
	names := make([]string, len(active))
	for i, l := range active {
		names[i] = string(l)
	}
	return strings.Join(names, ",")
}

// Renderer projects a state onto physical output.
type Renderer interface {
	Render(State) error
	Cleanup() error
}

// Package render turns indicator state into output: an APA102 LED strip on
// GPIO, a terminal row, or nothing.
package render

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tinytelemetry/toucan/internal/indicator"
)

// Renderer names accepted by New.
const (
	NameAPA102  = "apa102"
	NameConsole = "console"
	NameNone    = "none"
)

// ErrUnknownRenderer is returned by New for an unrecognized renderer name.
var ErrUnknownRenderer = errors.New("render: unknown renderer")

// HardwareError reports a failed write to, or release of, output hardware.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("render: %s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// Color is one 8-bit RGB pixel.
type Color struct {
	R, G, B uint8
}

var (
	// Alert is the color of an active protocol.
	Alert = Color{R: 255}
	// Off is an unlit pixel.
	Off = Color{}
)

// Frame projects a state onto one pixel per slot.
func Frame(s indicator.State, on Color) []Color {
	frame := make([]Color, len(s))
	for i, active := range s {
		if active {
			frame[i] = on
		} else {
			frame[i] = Off
		}
	}
	return frame
}

// Config selects and configures a renderer.
type Config struct {
	Name       string
	NumLEDs    int
	DataPin    string
	ClockPin   string
	Brightness float64
	Output     io.Writer // console only; defaults to stdout
}

// Names lists the renderer names New accepts.
func Names() []string {
	return []string{NameAPA102, NameConsole, NameNone}
}

// New builds the renderer named by cfg.Name.
func New(cfg Config) (indicator.Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case NameAPA102:
		strip, err := NewAPA102(APA102Config{
			NumLEDs:    cfg.NumLEDs,
			DataPin:    cfg.DataPin,
			ClockPin:   cfg.ClockPin,
			Brightness: cfg.Brightness,
		})
		if err != nil {
			return nil, err
		}
		return strip, nil
	case NameConsole:
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return NewConsole(out), nil
	case NameNone, "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRenderer, cfg.Name)
	}
}

// Nop discards every frame.
type Nop struct{}

func (Nop) Render(indicator.State) error { return nil }
func (Nop) Cleanup() error               { return nil }

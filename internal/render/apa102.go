package render

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/tinytelemetry/toucan/internal/indicator"
)

const (
	// DefaultDataPin and DefaultClockPin are the BCM pins the strip is wired to.
	DefaultDataPin  = "GPIO23"
	DefaultClockPin = "GPIO24"

	// DefaultBrightness is the global brightness as a fraction of full scale.
	DefaultBrightness = 0.1

	ledFrameMarker = 0xE0
	maxBrightness  = 31
)

// outputPin is the part of gpio.PinIO the strip driver uses.
type outputPin interface {
	Out(l gpio.Level) error
	Halt() error
}

// APA102Config configures the bit-banged strip driver.
type APA102Config struct {
	NumLEDs    int
	DataPin    string
	ClockPin   string
	Brightness float64
}

// APA102 drives an APA102 strip by clocking frames out of two GPIO pins.
type APA102 struct {
	mu         sync.Mutex
	data       outputPin
	clock      outputPin
	numLEDs    int
	brightness uint8
	halted     bool
}

// NewAPA102 initializes the host GPIO drivers and claims the data and clock
// pins.
func NewAPA102(cfg APA102Config) (*APA102, error) {
	if cfg.DataPin == "" {
		cfg.DataPin = DefaultDataPin
	}
	if cfg.ClockPin == "" {
		cfg.ClockPin = DefaultClockPin
	}
	if _, err := host.Init(); err != nil {
		return nil, &HardwareError{Op: "init host", Err: err}
	}
	data := gpioreg.ByName(cfg.DataPin)
	if data == nil {
		return nil, &HardwareError{Op: "open data pin", Err: fmt.Errorf("no gpio named %q", cfg.DataPin)}
	}
	clock := gpioreg.ByName(cfg.ClockPin)
	if clock == nil {
		return nil, &HardwareError{Op: "open clock pin", Err: fmt.Errorf("no gpio named %q", cfg.ClockPin)}
	}
	return newAPA102(data, clock, cfg.NumLEDs, cfg.Brightness), nil
}

func newAPA102(data, clock outputPin, numLEDs int, brightness float64) *APA102 {
	if brightness <= 0 {
		brightness = DefaultBrightness
	}
	return &APA102{
		data:       data,
		clock:      clock,
		numLEDs:    numLEDs,
		brightness: scaleBrightness(brightness),
	}
}

// scaleBrightness maps a 0..1 fraction onto the chip's 5-bit global
// brightness, never fully dark.
func scaleBrightness(b float64) uint8 {
	v := int(math.Round(math.Min(b, 1) * maxBrightness))
	if v < 1 {
		v = 1
	}
	return uint8(v)
}

// Render writes one frame. Slots beyond the strip length are dropped and
// pixels beyond the state length are driven dark.
func (a *APA102) Render(s indicator.State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.halted {
		return &HardwareError{Op: "render", Err: errors.New("pins released")}
	}
	pixels := Frame(s, Alert)
	if err := a.write(encodeAPA102(pixels, a.numLEDs, a.brightness)); err != nil {
		return &HardwareError{Op: "render", Err: err}
	}
	return nil
}

// Cleanup drives both lines low and releases the pins. Calling it again
// is a no-op.
func (a *APA102) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.halted {
		return nil
	}
	a.halted = true

	var errs []error
	for _, p := range []outputPin{a.data, a.clock} {
		if err := p.Out(gpio.Low); err != nil {
			errs = append(errs, err)
		}
		if err := p.Halt(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &HardwareError{Op: "cleanup", Err: err}
	}
	return nil
}

func (a *APA102) write(payload []byte) error {
	for _, b := range payload {
		for bit := 7; bit >= 0; bit-- {
			if err := a.data.Out(gpio.Level(b&(1<<bit) != 0)); err != nil {
				return err
			}
			if err := a.clock.Out(gpio.High); err != nil {
				return err
			}
			if err := a.clock.Out(gpio.Low); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeAPA102 builds the wire frame: a 32-bit zero start frame, one
// 0xE0|brightness,B,G,R frame per LED, then enough zero bits to push the
// last pixel through the chain.
func encodeAPA102(pixels []Color, numLEDs int, brightness uint8) []byte {
	endBytes := (numLEDs + 15) / 16
	if endBytes < 4 {
		endBytes = 4
	}
	out := make([]byte, 0, 4+4*numLEDs+endBytes)
	out = append(out, 0, 0, 0, 0)
	for i := 0; i < numLEDs; i++ {
		c := Off
		if i < len(pixels) {
			c = pixels[i]
		}
		out = append(out, ledFrameMarker|brightness, c.B, c.G, c.R)
	}
	for i := 0; i < endBytes; i++ {
		out = append(out, 0)
	}
	return out
}

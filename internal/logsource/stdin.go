package logsource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/tinytelemetry/toucan/internal/model"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for stdin lines.
	DefaultStdinBuffer = 1024

	// DefaultStdinMaxLineSize is the default maximum size (in bytes) of a single stdin line.
	DefaultStdinMaxLineSize = 1024 * 1024 // 1MB
)

// StdinConfig holds tunable parameters for the stdin source.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
}

// StdinSource reads log lines from stdin.
type StdinSource struct {
	ch       chan model.IngestEnvelope
	cancel   context.CancelFunc
	stopOnce sync.Once
	reader   io.Reader
}

// NewStdinSource creates a StdinSource that reads from stdin in a background goroutine.
func NewStdinSource(ctx context.Context, conf ...StdinConfig) *StdinSource {
	return newStdinSourceWithReader(ctx, os.Stdin, conf...)
}

func newStdinSourceWithReader(ctx context.Context, r io.Reader, conf ...StdinConfig) *StdinSource {
	bufferSize := DefaultStdinBuffer
	maxLineSize := DefaultStdinMaxLineSize
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		ch:     make(chan model.IngestEnvelope, bufferSize),
		cancel: cancel,
		reader: r,
	}
	go s.read(ctx, maxLineSize)
	return s
}

func (s *StdinSource) read(ctx context.Context, maxLineSize int) {
	defer close(s.ch)

	scanner := bufio.NewScanner(s.reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineSize)

	// A single goroutine owns the blocking scan; the outer loop only
	// watches for cancellation.
	results := make(chan string)
	go func() {
		defer close(results)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case results <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				slog.Error("logsource: stdin line exceeded max size, stopping stdin source", "max_bytes", maxLineSize)
				return
			}
			slog.Error("logsource: stdin scanner error", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-results:
			if !ok {
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.Name(), Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *StdinSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *StdinSource) Stop()                              { s.stopOnce.Do(s.cancel) }
func (s *StdinSource) Name() string                       { return "stdin" }

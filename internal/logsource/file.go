package logsource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/nxadm/tail"

	"github.com/tinytelemetry/toucan/internal/model"
)

// DefaultFileBuffer is the default channel buffer size for followed lines.
const DefaultFileBuffer = 1024

// FileConfig holds tunable parameters for the file source.
type FileConfig struct {
	Path       string
	FromStart  bool // read existing content instead of starting at EOF
	BufferSize int
	Poll       bool // poll for changes instead of using inotify
}

// FileSource follows an append-only log file across truncation and
// rotation. The line sequence never ends on its own; only Stop or context
// cancellation closes it.
type FileSource struct {
	t        *tail.Tail
	ch       chan model.IngestEnvelope
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewFileSource opens path and starts following it. Failure to open the
// file is returned immediately.
func NewFileSource(ctx context.Context, cfg FileConfig) (*FileSource, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("logsource: file path is empty")
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultFileBuffer
	}

	whence := io.SeekEnd
	if cfg.FromStart {
		whence = io.SeekStart
	}

	t, err := tail.TailFile(cfg.Path, tail.Config{
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		ReOpen:    true,
		MustExist: true,
		Follow:    true,
		Poll:      cfg.Poll,
		Logger:    slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug),
	})
	if err != nil {
		return nil, fmt.Errorf("logsource: open %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &FileSource{
		t:      t,
		ch:     make(chan model.IngestEnvelope, bufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.forward(ctx)
	return s, nil
}

func (s *FileSource) forward(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-s.t.Lines:
			if !ok {
				if err := s.t.Err(); err != nil {
					slog.Error("logsource: follow stopped", "path", s.t.Filename, "error", err)
				}
				return
			}
			if line.Err != nil {
				slog.Warn("logsource: read error", "path", s.t.Filename, "error", line.Err)
				continue
			}
			text := strings.TrimRight(line.Text, "\r")
			if text == "" {
				continue
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.Name(), Line: text}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *FileSource) Lines() <-chan model.IngestEnvelope { return s.ch }

// Stop ends the follow and releases inotify watches. It is safe to call
// more than once.
func (s *FileSource) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if err := s.t.Stop(); err != nil {
			slog.Debug("logsource: tail stop", "error", err)
		}
		s.t.Cleanup()
		<-s.done
	})
}

func (s *FileSource) Name() string { return "file" }

package logsource

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestStdinSourceStopClosesLines(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer func() { _ = w.Close() }()

	src := newStdinSourceWithReader(context.Background(), r)
	src.Stop()

	select {
	case _, ok := <-src.Lines():
		if ok {
			t.Fatal("expected lines channel to be closed after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lines channel to close")
	}
}

func TestStdinSourceStopIsIdempotent(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer func() { _ = w.Close() }()

	src := newStdinSourceWithReader(context.Background(), r)
	src.Stop()
	src.Stop()
}

func TestStdinSourceSkipsBlankLines(t *testing.T) {
	input := strings.NewReader("{\"dst_port\": 22}\n\n{\"dst_port\": 80}\n")
	src := newStdinSourceWithReader(context.Background(), input)
	defer src.Stop()

	var got []string
	for env := range src.Lines() {
		if env.Source != "stdin" {
			t.Fatalf("Source = %q, want stdin", env.Source)
		}
		got = append(got, env.Line)
	}
	if len(got) != 2 {
		t.Fatalf("lines = %q, want 2 non-empty lines", got)
	}
}

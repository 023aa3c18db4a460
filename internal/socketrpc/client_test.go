package socketrpc_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/model"
	"github.com/tinytelemetry/toucan/internal/render"
	"github.com/tinytelemetry/toucan/internal/socketrpc"
)

// mockHistory is a minimal HistoryReader for roundtrip testing.
type mockHistory struct{}

func (mockHistory) Counts() (map[string]int64, error) {
	return map[string]int64{"ftp": 4, "git": 0}, nil
}

func (mockHistory) Recent(limit int) ([]model.Detection, error) {
	out := []model.Detection{
		{ID: "a", Protocol: "ftp", DstPort: 21, DetectedAt: time.Date(2025, 1, 1, 0, 0, 2, 0, time.UTC)},
		{ID: "b", Protocol: "ftp", DstPort: 21, DetectedAt: time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)},
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func startTestServer(t *testing.T) (string, *socketrpc.Server, *indicator.FileStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := indicator.NewFileStore(filepath.Join(dir, indicator.DefaultFileName))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	board, err := indicator.OpenBoard(store, render.Nop{})
	if err != nil {
		t.Fatalf("open board: %v", err)
	}

	sockPath := filepath.Join(dir, "test.sock")
	srv := socketrpc.NewServer(sockPath, board, mockHistory{})
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return sockPath, srv, store
}

func TestRoundtrip(t *testing.T) {
	sockPath, srv, store := startTestServer(t)
	defer srv.Stop()

	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	t.Run("State", func(t *testing.T) {
		view, err := client.State()
		if err != nil {
			t.Fatal(err)
		}
		if len(view.Active) != 0 || len(view.Slots) != 8 {
			t.Fatalf("unexpected initial state: %+v", view)
		}
	})

	t.Run("Set", func(t *testing.T) {
		if _, err := client.Set("SSH", 1); err != nil {
			t.Fatal(err)
		}
		view, err := client.Set("mysql", 7)
		if err != nil {
			t.Fatal(err)
		}
		if len(view.Active) != 2 || view.Active[0] != "ssh" || view.Active[1] != "mysql" {
			t.Fatalf("unexpected active: %v", view.Active)
		}

		saved, err := store.Load()
		if err != nil {
			t.Fatal(err)
		}
		if !saved[1] || !saved[5] {
			t.Fatalf("snapshot not persisted: %v", saved)
		}
	})

	t.Run("SetOff", func(t *testing.T) {
		view, err := client.Set("ssh", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(view.Active) != 1 || view.Active[0] != "mysql" {
			t.Fatalf("unexpected active: %v", view.Active)
		}
	})

	t.Run("Counts", func(t *testing.T) {
		counts, err := client.Counts()
		if err != nil {
			t.Fatal(err)
		}
		if counts["ftp"] != 4 {
			t.Fatalf("unexpected counts: %v", counts)
		}
	})

	t.Run("Recent", func(t *testing.T) {
		recent, err := client.Recent(1)
		if err != nil {
			t.Fatal(err)
		}
		if len(recent) != 1 || recent[0].ID != "a" {
			t.Fatalf("unexpected recent: %v", recent)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		view, err := client.Clear()
		if err != nil {
			t.Fatal(err)
		}
		if len(view.Active) != 0 {
			t.Fatalf("unexpected active after clear: %v", view.Active)
		}
		if store.Exists() {
			t.Fatal("snapshot should be deleted after clear")
		}
	})
}

func TestUnknownProtocol(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	defer srv.Stop()

	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	_, err = client.Set("telnet", 1)
	var rpcErr *socketrpc.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != socketrpc.CodeInvalidParams {
		t.Fatalf("code = %d, want %d", rpcErr.Code, socketrpc.CodeInvalidParams)
	}
}

func TestDialFailure(t *testing.T) {
	_, err := socketrpc.Dial(filepath.Join(t.TempDir(), "nonexistent.sock"))
	if err == nil {
		t.Fatal("expected error dialing nonexistent socket")
	}
}

func TestStartRefusesLiveSocket(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	defer srv.Stop()

	second := socketrpc.NewServer(sockPath, nil, nil)
	if err := second.Start(); err == nil {
		second.Stop()
		t.Fatal("expected second server to refuse a live socket")
	}
}

func TestStartReplacesStaleSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "stale.sock")
	if err := os.WriteFile(sockPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	srv := socketrpc.NewServer(sockPath, nil, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start over stale socket: %v", err)
	}
	srv.Stop()
}

func TestServerStopCleansSocket(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	srv.Stop()

	if _, err := socketrpc.Dial(sockPath); err == nil {
		t.Fatal("expected dial to fail after server stop")
	}
}

func TestStopIdempotent(t *testing.T) {
	_, srv, _ := startTestServer(t)

	srv.Stop()
	srv.Stop()
}

func TestStopClosesConns(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	srv.Stop()

	done := make(chan error, 1)
	go func() {
		_, callErr := client.State()
		done <- callErr
	}()

	select {
	case callErr := <-done:
		if callErr == nil {
			t.Fatal("expected client call to fail after server stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client call hung after server stop")
	}
}

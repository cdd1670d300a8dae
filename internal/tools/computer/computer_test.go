package computer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strandworks/strand/internal/config"
	"github.com/strandworks/strand/internal/tools"
	"github.com/strandworks/strand/pkg/models"
)

var upgrader = websocket.Upgrader{}

// shellServer simulates the shell endpoint: expects join_room first,
// then answers each shell_command with output frames and a completion
// flag. conns counts accepted sockets.
func shellServer(t *testing.T, conns *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)

		if r.URL.Query().Get("thread_id") == "" || r.URL.Query().Get("user_id") != "system" {
			t.Errorf("missing connection query params: %s", r.URL.RawQuery)
		}

		var join frame
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		if join.Action != "join_room" || join.Room == "" {
			t.Errorf("expected join_room first, got %+v", join)
			return
		}

		for {
			var cmd frame
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if cmd.Action != "shell_command" {
				t.Errorf("unexpected frame %+v", cmd)
				return
			}
			_ = conn.WriteJSON(frame{Content: "ran: " + cmd.Command + "\n"})
			_ = conn.WriteJSON(frame{CommandComplete: true})
		}
	}))
}

func invocation(threadID, command string) *tools.Invocation {
	return &tools.Invocation{
		Run:       &models.Run{ID: "run-1", ThreadID: threadID},
		Assistant: &models.Assistant{ID: "asst-1"},
		Arguments: map[string]any{"command": command},
	}
}

func TestExecuteRunsCommand(t *testing.T) {
	var conns atomic.Int32
	srv := shellServer(t, &conns)
	defer srv.Close()

	h := New(config.SandboxConfig{ShellServerURL: srv.URL, ShellIdleTimeout: time.Second}, nil)
	defer h.Close()

	var streamed []string
	out, err := h.Execute(context.Background(), invocation("thread-1", "ls -la"),
		func(c *models.StreamChunk) { streamed = append(streamed, c.Content) })
	if err != nil {
		t.Fatal(err)
	}
	if out != "ran: ls -la\n" {
		t.Errorf("output = %q", out)
	}
	if len(streamed) != 1 {
		t.Errorf("streamed %d chunks, want 1", len(streamed))
	}
}

func TestPoolReusesConnectionPerThread(t *testing.T) {
	var conns atomic.Int32
	srv := shellServer(t, &conns)
	defer srv.Close()

	h := New(config.SandboxConfig{ShellServerURL: srv.URL, ShellIdleTimeout: time.Second}, nil)
	defer h.Close()

	for _, cmd := range []string{"pwd", "whoami"} {
		if _, err := h.Execute(context.Background(), invocation("thread-1", cmd), func(*models.StreamChunk) {}); err != nil {
			t.Fatal(err)
		}
	}
	if got := conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1 (pooled per thread)", got)
	}

	// A different thread gets its own socket.
	if _, err := h.Execute(context.Background(), invocation("thread-2", "pwd"), func(*models.StreamChunk) {}); err != nil {
		t.Fatal(err)
	}
	if got := conns.Load(); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
}

func TestIdleTimeoutFinalizesWithoutCompletionFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var join, cmd frame
		_ = conn.ReadJSON(&join)
		_ = conn.ReadJSON(&cmd)
		_ = conn.WriteJSON(frame{Content: "partial output"})
		// No command_complete; the client's idle timer must finalize.
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	h := New(config.SandboxConfig{ShellServerURL: srv.URL, ShellIdleTimeout: 200 * time.Millisecond}, nil)
	defer h.Close()

	start := time.Now()
	out, err := h.Execute(context.Background(), invocation("thread-1", "tail -f log"), func(*models.StreamChunk) {})
	if err != nil {
		t.Fatal(err)
	}
	if out != "partial output" {
		t.Errorf("output = %q", out)
	}
	if time.Since(start) > time.Second {
		t.Error("idle finalize took too long")
	}
}

func TestStaleConnectionIsRebuilt(t *testing.T) {
	var conns atomic.Int32
	srv := shellServer(t, &conns)
	defer srv.Close()

	h := New(config.SandboxConfig{ShellServerURL: srv.URL, ShellIdleTimeout: time.Second}, nil)
	defer h.Close()

	if _, err := h.Execute(context.Background(), invocation("thread-1", "pwd"), func(*models.StreamChunk) {}); err != nil {
		t.Fatal(err)
	}

	// Kill the pooled socket behind the handler's back.
	h.mu.Lock()
	h.clients["thread-1"].conn.Close()
	h.mu.Unlock()

	out, err := h.Execute(context.Background(), invocation("thread-1", "whoami"), func(*models.StreamChunk) {})
	if err != nil {
		t.Fatalf("stale socket not recovered: %v", err)
	}
	if out != "ran: whoami\n" {
		t.Errorf("output = %q", out)
	}
}

func TestExecuteRejectsEmptyCommand(t *testing.T) {
	h := New(config.SandboxConfig{ShellServerURL: "http://shell"}, nil)
	if _, err := h.Execute(context.Background(), invocation("thread-1", ""), func(*models.StreamChunk) {}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

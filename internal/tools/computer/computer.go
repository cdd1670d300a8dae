// Package computer executes shell commands on the external shell server.
// One WebSocket per thread is pooled and reused across commands; a
// per-client receive lock serializes concurrent executions on the same
// thread.
package computer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strandworks/strand/internal/config"
	"github.com/strandworks/strand/internal/observability"
	"github.com/strandworks/strand/internal/tools"
	"github.com/strandworks/strand/pkg/models"
)

// shellPath is the shell server's WebSocket endpoint.
const shellPath = "/ws/computer"

// frame is both directions of the shell protocol. Outbound frames carry
// action + command; inbound frames carry content or the completion flag.
type frame struct {
	Action          string `json:"action,omitempty"`
	Room            string `json:"room,omitempty"`
	Command         string `json:"command,omitempty"`
	ThreadID        string `json:"thread_id,omitempty"`
	Content         string `json:"content,omitempty"`
	Error           string `json:"error,omitempty"`
	CommandComplete bool   `json:"command_complete,omitempty"`
}

// client is one pooled shell connection.
type client struct {
	conn *websocket.Conn

	// execMu serializes execute calls; the shell protocol has no
	// multiplexing, so one command owns the socket at a time.
	execMu sync.Mutex
}

// Handler owns the per-thread shell connection pool.
type Handler struct {
	cfg config.SandboxConfig
	log *observability.Logger

	mu      sync.Mutex
	clients map[string]*client

	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

// New creates the handler. Connections are established lazily per
// thread.
func New(cfg config.SandboxConfig, log *observability.Logger) *Handler {
	h := &Handler{
		cfg:     cfg,
		log:     log,
		clients: make(map[string]*client),
	}
	h.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		return conn, err
	}
	return h
}

// Name implements tools.Handler.
func (h *Handler) Name() string { return models.ToolComputer }

// Execute runs one shell command for the invocation's thread and
// returns the aggregated output. Output lines are also emitted as
// content chunks while the command runs.
func (h *Handler) Execute(ctx context.Context, inv *tools.Invocation, emit tools.Emitter) (string, error) {
	command := inv.StringArg("command")
	if strings.TrimSpace(command) == "" {
		return "", errors.New("computer: empty command argument")
	}
	if strings.TrimSpace(h.cfg.ShellServerURL) == "" {
		return "", errors.New("computer: shell endpoint is not configured")
	}

	threadID := inv.Run.ThreadID
	out, err := h.run(ctx, threadID, command, emit)
	if err == nil {
		return out, nil
	}

	// A pooled connection can go stale between commands. Evict and retry
	// once on a fresh socket.
	if isStale(err) {
		h.evict(threadID)
		return h.run(ctx, threadID, command, emit)
	}
	return out, err
}

func (h *Handler) run(ctx context.Context, threadID, command string, emit tools.Emitter) (string, error) {
	c, err := h.clientFor(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("computer: connect shell: %w", err)
	}

	c.execMu.Lock()
	defer c.execMu.Unlock()

	if err := c.conn.WriteJSON(frame{
		Action:   "shell_command",
		Command:  command,
		ThreadID: threadID,
	}); err != nil {
		return "", fmt.Errorf("computer: send command: %w", err)
	}

	idle := h.cfg.ShellIdleTimeout
	if idle <= 0 {
		idle = 2 * time.Second
	}

	var output strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return output.String(), err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// Idle expiry after some output means the command finished
			// without an explicit completion frame. The socket does not
			// survive a missed read deadline, so drop it from the pool.
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				h.evict(threadID)
				return output.String(), nil
			}
			return output.String(), fmt.Errorf("computer: read shell: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Error != "" {
			return output.String(), fmt.Errorf("computer: shell error: %s", f.Error)
		}
		if f.Content != "" {
			output.WriteString(f.Content)
			emit(models.ContentChunk(f.Content))
		}
		if f.CommandComplete {
			return output.String(), nil
		}
	}
}

// clientFor returns the pooled connection for a thread, dialing and
// joining the thread's room on first use.
func (h *Handler) clientFor(ctx context.Context, threadID string) (*client, error) {
	h.mu.Lock()
	if c, ok := h.clients[threadID]; ok {
		h.mu.Unlock()
		return c, nil
	}
	h.mu.Unlock()

	endpoint := wsURL(h.cfg.ShellServerURL) + shellPath +
		"?thread_id=" + url.QueryEscape(threadID) + "&user_id=system"
	conn, err := h.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(frame{Action: "join_room", Room: threadID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join room %s: %w", threadID, err)
	}

	c := &client{conn: conn}
	h.mu.Lock()
	// Another goroutine may have raced us here; keep the first one in.
	if existing, ok := h.clients[threadID]; ok {
		h.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	h.clients[threadID] = c
	h.mu.Unlock()
	return c, nil
}

// evict drops a thread's pooled connection.
func (h *Handler) evict(threadID string) {
	h.mu.Lock()
	c, ok := h.clients[threadID]
	delete(h.clients, threadID)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Close releases every pooled connection.
func (h *Handler) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

// isStale reports whether an error indicates a dead pooled socket
// rather than a command failure.
func isStale(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsUnexpectedCloseError(err) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && !nerr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset")
}

// wsURL converts an http(s) base into its ws(s) form.
func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// Package codeinterpreter executes model-written code in the external
// sandbox over a WebSocket session.
package codeinterpreter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strandworks/strand/internal/config"
	"github.com/strandworks/strand/internal/observability"
	"github.com/strandworks/strand/internal/tools"
	"github.com/strandworks/strand/pkg/models"
)

// executePath is the sandbox's execution endpoint.
const executePath = "/ws/execute"

// readTimeout bounds a single sandbox message; execution output arrives
// incrementally so a long-silent sandbox means a dead session.
const readTimeout = 120 * time.Second

// request is the execution submission frame.
type request struct {
	Code     string            `json:"code"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// response covers every frame shape the sandbox sends: incremental
// output, a terminal status with uploads, or an error.
type response struct {
	Output        string   `json:"output,omitempty"`
	Error         string   `json:"error,omitempty"`
	Status        string   `json:"status,omitempty"`
	UploadedFiles []string `json:"uploaded_files,omitempty"`
}

// Handler runs code in the external sandbox.
type Handler struct {
	cfg config.SandboxConfig
	log *observability.Logger

	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

// New creates the handler against the configured sandbox.
func New(cfg config.SandboxConfig, log *observability.Logger) *Handler {
	h := &Handler{cfg: cfg, log: log}
	h.dial = h.dialSandbox
	return h
}

// Name implements tools.Handler.
func (h *Handler) Name() string { return models.ToolCodeInterpreter }

// Execute submits the code and relays sandbox output as hot_code chunks
// until the sandbox reports completion or an error. Returns aggregated
// stdout.
func (h *Handler) Execute(ctx context.Context, inv *tools.Invocation, emit tools.Emitter) (string, error) {
	code := inv.StringArg("code")
	if strings.TrimSpace(code) == "" {
		return "", errors.New("code_interpreter: empty code argument")
	}
	if strings.TrimSpace(h.cfg.CodeExecutionURL) == "" {
		return "", errors.New("code_interpreter: sandbox endpoint is not configured")
	}

	conn, err := h.dial(ctx, wsURL(h.cfg.CodeExecutionURL)+executePath)
	if err != nil {
		return "", fmt.Errorf("code_interpreter: connect sandbox: %w", err)
	}
	defer conn.Close()

	req := request{
		Code: code,
		Metadata: map[string]string{
			"run_id":    inv.Run.ID,
			"thread_id": inv.Run.ThreadID,
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return "", fmt.Errorf("code_interpreter: submit code: %w", err)
	}

	var stdout strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return stdout.String(), err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Sandboxes close the socket after the final frame; a close
			// after output was received is a normal end.
			if stdout.Len() > 0 && websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return stdout.String(), nil
			}
			return stdout.String(), fmt.Errorf("code_interpreter: read sandbox: %w", err)
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}

		switch {
		case resp.Error != "":
			emit(models.ErrorChunk(resp.Error))
			return stdout.String(), fmt.Errorf("code_interpreter: sandbox error: %s", resp.Error)

		case resp.Status == "complete":
			if len(resp.UploadedFiles) > 0 {
				fmt.Fprintf(&stdout, "\nUploaded files:\n%s\n", strings.Join(resp.UploadedFiles, "\n"))
			}
			return stdout.String(), nil

		case resp.Output != "":
			stdout.WriteString(resp.Output)
			emit(models.HotCodeChunk(resp.Output))
		}
	}
}

// dialSandbox connects with bounded retries; cold sandboxes take a
// moment to accept sockets.
func (h *Handler) dialSandbox(ctx context.Context, url string) (*websocket.Conn, error) {
	retries := h.cfg.ConnectRetries
	if retries <= 0 {
		retries = 3
	}
	delay := h.cfg.ConnectDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if h.log != nil {
			h.log.Warn(ctx, "sandbox dial failed", "attempt", attempt+1, "error", err)
		}
	}
	return nil, lastErr
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

// Package storage is the client for the external REST API that owns
// threads, messages, runs, actions, assistants, and vector-store
// metadata. The gateway never persists conversation state itself.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/strandworks/strand/pkg/models"
)

// ErrNotFound is returned for 404 responses from the storage API.
var ErrNotFound = errors.New("storage: not found")

// API is the storage surface the orchestrator depends on. The REST client
// implements it; tests substitute in-memory fakes.
type API interface {
	GetAssistant(ctx context.Context, id string) (*models.Assistant, error)
	GetThreadMessages(ctx context.Context, threadID string) ([]models.Message, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	AppendAssistantChunk(ctx context.Context, msg *models.Message) error

	GetRun(ctx context.Context, id string) (*models.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) error

	CreateAction(ctx context.Context, action *models.Action) (*models.Action, error)
	UpdateActionStatus(ctx context.Context, id string, status models.ActionStatus) error
	GetAction(ctx context.Context, id string) (*models.Action, error)

	GetVectorStores(ctx context.Context, assistantID string) ([]models.VectorStore, error)
}

// Client is the REST implementation of API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a storage client. timeout 0 means 30 s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Bound the error payload; storage errors can embed large bodies.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// GetAssistant fetches an assistant with its instructions and tool list.
func (c *Client) GetAssistant(ctx context.Context, id string) (*models.Assistant, error) {
	var a models.Assistant
	if err := c.do(ctx, http.MethodGet, "/assistants/"+id, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetThreadMessages returns the full formatted conversation for a thread.
func (c *Client) GetThreadMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// AppendMessage appends a message to its thread.
func (c *Client) AppendMessage(ctx context.Context, msg *models.Message) error {
	return c.do(ctx, http.MethodPost, "/messages", msg, nil)
}

// AppendAssistantChunk writes a chunked assistant message through the
// dedicated endpoint; persistence only happens when IsLastChunk is set.
func (c *Client) AppendAssistantChunk(ctx context.Context, msg *models.Message) error {
	return c.do(ctx, http.MethodPost, "/messages/assistant", msg, nil)
}

// GetRun fetches a run.
func (c *Client) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var r models.Run
	if err := c.do(ctx, http.MethodGet, "/runs/"+id, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRunStatus transitions a run's status.
func (c *Client) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) error {
	body := map[string]string{"status": string(status)}
	return c.do(ctx, http.MethodPut, "/runs/"+id+"/status", body, nil)
}

// CreateAction records a tool invocation for a run.
func (c *Client) CreateAction(ctx context.Context, action *models.Action) (*models.Action, error) {
	var created models.Action
	if err := c.do(ctx, http.MethodPost, "/actions", action, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateActionStatus transitions an action's status. Transitioning an
// already-resolved action is accepted by the storage API and left
// unchanged, so retries are safe.
func (c *Client) UpdateActionStatus(ctx context.Context, id string, status models.ActionStatus) error {
	body := map[string]string{"status": string(status)}
	return c.do(ctx, http.MethodPut, "/actions/"+id+"/status", body, nil)
}

// GetAction fetches an action.
func (c *Client) GetAction(ctx context.Context, id string) (*models.Action, error) {
	var a models.Action
	if err := c.do(ctx, http.MethodGet, "/actions/"+id, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetVectorStores lists the vector stores attached to an assistant.
func (c *Client) GetVectorStores(ctx context.Context, assistantID string) ([]models.VectorStore, error) {
	var stores []models.VectorStore
	if err := c.do(ctx, http.MethodGet, "/assistants/"+assistantID+"/vector-stores", nil, &stores); err != nil {
		return nil, err
	}
	return stores, nil
}

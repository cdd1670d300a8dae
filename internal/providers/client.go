package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Client streams chat completions from one OpenAI-compatible endpoint.
// All supported providers (Hyperbolic, TogetherAI, DeepSeek, Groq, Azure,
// local Ollama) speak this contract; only base URL and credentials vary.
type Client struct {
	provider   string
	api        *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// NewClient builds a client for one provider endpoint.
func NewClient(provider, baseURL, apiKey string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		provider:   provider,
		api:        openai.NewClientWithConfig(cfg),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Provider returns the canonical provider name.
func (c *Client) Provider() string { return c.provider }

// Stream opens a streaming chat/completions call and returns a channel of
// deltas. Retries with linear backoff apply only to opening the stream;
// mid-stream failures surface as a terminal Delta with Err set.
func (c *Client) Stream(ctx context.Context, req *StreamRequest) (<-chan Delta, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:  req.Model,
		Stream: true,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		chatReq.TopP = req.TopP
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	chatReq.Messages = make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		chatReq.Messages[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = c.api.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("%s: %w", c.provider, lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%s: max retries exceeded: %w", c.provider, lastErr)
	}

	deltas := make(chan Delta)
	go c.pump(ctx, stream, deltas)
	return deltas, nil
}

func (c *Client) pump(ctx context.Context, stream *openai.ChatCompletionStream, deltas chan<- Delta) {
	defer close(deltas)
	defer stream.Close()

	// An abandoned consumer must never strand this goroutine: every send
	// races ctx, and a cancelled context just closes the channel.
	send := func(d Delta) bool {
		select {
		case deltas <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				send(Delta{Done: true})
				return
			}
			send(Delta{Err: err})
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		d := resp.Choices[0].Delta
		if d.Content == "" && d.ReasoningContent == "" {
			continue
		}
		if !send(Delta{Content: d.Content, Reasoning: d.ReasoningContent}) {
			return
		}
	}
}

// isRetryable classifies stream-open failures: rate limits, upstream 5xx,
// and timeouts are transient.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded", "connection refused"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Package websearch answers search queries through the external crawler:
// submit a crawl job for a search-results URL, poll until it completes,
// and extract the readable payload.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/strandworks/strand/internal/config"
	"github.com/strandworks/strand/internal/observability"
	"github.com/strandworks/strand/internal/tools"
	"github.com/strandworks/strand/pkg/models"
)

const (
	// searchBase composes the page the crawler renders for a query.
	searchBase = "https://www.google.com/search?q="

	// Poll bounds for crawl jobs.
	maxPolls  = 10
	pollDelay = 2 * time.Second
)

// skipMarker anchors the readable region in crawled search pages.
const skipMarker = "Skip to content"

// followUpInstruction is appended to the tool output so the assistant
// presents results instead of echoing raw markdown.
const followUpInstruction = "\n\nSummarize the most relevant results above for the user, " +
	"citing source links where available, and answer their original question directly."

// crawlJob is the submission response.
type crawlJob struct {
	JobID string `json:"job_id"`
}

// crawlStatus is the poll response.
type crawlStatus struct {
	Status   string `json:"status"`
	Markdown string `json:"markdown,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handler is the web_search platform tool.
type Handler struct {
	cfg        config.SandboxConfig
	log        *observability.Logger
	httpClient *http.Client

	pollDelay time.Duration
}

// New creates the handler against the configured crawler.
func New(cfg config.SandboxConfig, log *observability.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pollDelay:  pollDelay,
	}
}

// Name implements tools.Handler.
func (h *Handler) Name() string { return models.ToolWebSearch }

// Execute crawls a search-results page for the query and returns the
// extracted markdown plus a presentation instruction.
func (h *Handler) Execute(ctx context.Context, inv *tools.Invocation, emit tools.Emitter) (string, error) {
	query := inv.StringArg("query")
	if strings.TrimSpace(query) == "" {
		return "", errors.New("web_search: empty query argument")
	}
	if strings.TrimSpace(h.cfg.CrawlerURL) == "" {
		return "", errors.New("web_search: crawler endpoint is not configured")
	}

	emit(models.StatusChunk(models.StatusProcessing, inv.Run.ID))

	jobID, err := h.submit(ctx, searchBase+url.QueryEscape(query))
	if err != nil {
		return "", err
	}

	markdown, err := h.poll(ctx, jobID)
	if err != nil {
		return "", err
	}

	return extract(markdown) + followUpInstruction, nil
}

// submit starts a crawl job and returns its id.
func (h *Handler) submit(ctx context.Context, target string) (string, error) {
	body, _ := json.Marshal(map[string]string{"url": target})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(h.cfg.CrawlerURL, "/")+"/crawl", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("web_search: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("web_search: submit crawl: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("web_search: crawler returned %d", resp.StatusCode)
	}

	var job crawlJob
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&job); err != nil {
		return "", fmt.Errorf("web_search: decode job: %w", err)
	}
	if job.JobID == "" {
		return "", errors.New("web_search: crawler returned no job id")
	}
	return job.JobID, nil
}

// poll waits for the crawl job, bounded at maxPolls attempts.
func (h *Handler) poll(ctx context.Context, jobID string) (string, error) {
	target := strings.TrimRight(h.cfg.CrawlerURL, "/") + "/crawl/" + url.PathEscape(jobID)

	for attempt := 0; attempt < maxPolls; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(h.pollDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return "", fmt.Errorf("web_search: build poll: %w", err)
		}
		resp, err := h.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("web_search: poll crawl: %w", err)
		}

		var status crawlStatus
		decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&status)
		resp.Body.Close()
		if decodeErr != nil {
			return "", fmt.Errorf("web_search: decode poll: %w", decodeErr)
		}

		switch status.Status {
		case "completed":
			return status.Markdown, nil
		case "failed":
			return "", fmt.Errorf("web_search: crawl failed: %s", status.Error)
		}
	}
	return "", fmt.Errorf("web_search: crawl job %s did not complete in time", jobID)
}

// extract trims crawler boilerplate: everything before the "Skip to
// content" marker is navigation chrome.
func extract(markdown string) string {
	if i := strings.Index(markdown, skipMarker); i >= 0 {
		markdown = markdown[i+len(skipMarker):]
	}
	return strings.TrimSpace(markdown)
}

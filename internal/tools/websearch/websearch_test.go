package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/strandworks/strand/internal/config"
	"github.com/strandworks/strand/internal/tools"
	"github.com/strandworks/strand/pkg/models"
)

// crawler simulates the crawl service: accepts a job and completes it
// after pendingPolls status checks.
func crawler(t *testing.T, pendingPolls int, markdown string) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /crawl", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["url"] == "" {
			t.Errorf("bad crawl submission: %v", err)
		}
		if !strings.Contains(body["url"], "q=") {
			t.Errorf("submitted URL missing query: %q", body["url"])
		}
		fmt.Fprint(w, `{"job_id": "job-42"}`)
	})
	mux.HandleFunc("GET /crawl/job-42", func(w http.ResponseWriter, r *http.Request) {
		if int(polls.Add(1)) <= pendingPolls {
			fmt.Fprint(w, `{"status": "pending"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(crawlStatus{Status: "completed", Markdown: markdown})
	})
	return httptest.NewServer(mux)
}

func invocation(query string) *tools.Invocation {
	return &tools.Invocation{
		Run:       &models.Run{ID: "run-1", ThreadID: "thread-1"},
		Assistant: &models.Assistant{ID: "asst-1"},
		Arguments: map[string]any{"query": query},
	}
}

func newTestHandler(crawlerURL string) *Handler {
	h := New(config.SandboxConfig{CrawlerURL: crawlerURL}, nil)
	h.pollDelay = 0
	return h
}

func TestExecuteExtractsResults(t *testing.T) {
	srv := crawler(t, 2, "nav junk\nSkip to content\n# Results\n1. A page")
	defer srv.Close()

	h := newTestHandler(srv.URL)
	out, err := h.Execute(context.Background(), invocation("golang generics"), func(*models.StreamChunk) {})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "nav junk") {
		t.Errorf("boilerplate not stripped: %q", out)
	}
	if !strings.Contains(out, "# Results") {
		t.Errorf("payload missing: %q", out)
	}
	if !strings.Contains(out, "Summarize the most relevant results") {
		t.Error("follow-up instruction missing")
	}
}

func TestExecuteWithoutSkipMarker(t *testing.T) {
	srv := crawler(t, 0, "# Plain results")
	defer srv.Close()

	h := newTestHandler(srv.URL)
	out, err := h.Execute(context.Background(), invocation("q"), func(*models.StreamChunk) {})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "# Plain results") {
		t.Errorf("out = %q", out)
	}
}

func TestExecuteGivesUpAfterMaxPolls(t *testing.T) {
	srv := crawler(t, maxPolls+5, "never delivered")
	defer srv.Close()

	h := newTestHandler(srv.URL)
	if _, err := h.Execute(context.Background(), invocation("q"), func(*models.StreamChunk) {}); err == nil {
		t.Fatal("expected error after poll budget")
	}
}

func TestExecuteCrawlFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /crawl", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"job_id": "job-1"}`)
	})
	mux.HandleFunc("GET /crawl/job-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "failed", "error": "blocked by robots.txt"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := newTestHandler(srv.URL)
	_, err := h.Execute(context.Background(), invocation("q"), func(*models.StreamChunk) {})
	if err == nil || !strings.Contains(err.Error(), "robots.txt") {
		t.Errorf("error = %v", err)
	}
}

func TestExecuteRejectsEmptyQuery(t *testing.T) {
	h := newTestHandler("http://crawler")
	if _, err := h.Execute(context.Background(), invocation("  "), func(*models.StreamChunk) {}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

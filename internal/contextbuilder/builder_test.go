package contextbuilder

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/strandworks/strand/internal/config"
	"github.com/strandworks/strand/internal/providers"
	"github.com/strandworks/strand/internal/storage/storagetest"
	"github.com/strandworks/strand/pkg/models"
)

func newTestBuilder(store *storagetest.Fake) *Builder {
	b := New(store, config.ContextConfig{MaxContextWindow: 128000, ThresholdPercentage: 0.8})
	b.now = func() time.Time {
		return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	}
	// Deterministic counting without the tokenizer: one token per byte.
	b.countFn = func(s string) int { return len(s) }
	return b
}

func seed(store *storagetest.Fake) {
	store.Assistants["asst-1"] = &models.Assistant{
		ID:           "asst-1",
		Model:        "hyperbolic/deepseek-v3",
		Instructions: "Be terse.",
		Tools: []models.Tool{
			{Type: "function", Function: models.ToolFunction{Name: "web_search"}},
		},
	}
	store.Threads["thread-1"] = []models.Message{
		{ThreadID: "thread-1", Role: models.RoleUser, Content: "  hello  "},
		{ThreadID: "thread-1", Role: models.RoleAssistant, Content: "hi"},
		{ThreadID: "thread-1", Role: models.RoleUser, Content: "what now?"},
	}
}

func TestBuildComposesSystemMessage(t *testing.T) {
	store := storagetest.New()
	seed(store)
	b := newTestBuilder(store)

	cc, err := b.Build(context.Background(), "asst-1", "thread-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(cc.Messages) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(cc.Messages))
	}
	sys := cc.Messages[0]
	if sys.Role != models.RoleSystem {
		t.Errorf("first message role = %q", sys.Role)
	}
	for _, want := range []string{"web_search", "Be terse.", "2025-03-14 09:26:53"} {
		if !strings.Contains(sys.Content, want) {
			t.Errorf("system message missing %q:\n%s", want, sys.Content)
		}
	}
	if cc.Messages[1].Content != "hello" {
		t.Errorf("content not trimmed: %q", cc.Messages[1].Content)
	}
}

func TestBuildReplacesExistingSystemMessage(t *testing.T) {
	store := storagetest.New()
	seed(store)
	store.Threads["thread-1"] = append([]models.Message{
		{ThreadID: "thread-1", Role: models.RoleSystem, Content: "old instructions"},
	}, store.Threads["thread-1"]...)
	b := newTestBuilder(store)

	cc, err := b.Build(context.Background(), "asst-1", "thread-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(cc.Messages) != 4 {
		t.Fatalf("len(messages) = %d, want 4 (system replaced, not prepended)", len(cc.Messages))
	}
	if strings.Contains(cc.Messages[0].Content, "old instructions") {
		t.Error("stale system content survived")
	}
}

func TestBuildNormalizesRoles(t *testing.T) {
	store := storagetest.New()
	seed(store)
	store.Threads["thread-1"] = []models.Message{
		{ThreadID: "thread-1", Role: "USER", Content: "a"},
		{ThreadID: "thread-1", Role: "moderator", Content: "b"},
		{ThreadID: "thread-1", Role: models.RolePlatform, Content: "tool output"},
		{ThreadID: "thread-1", Role: models.RoleAssistant, Content: "c"},
	}
	b := newTestBuilder(store)

	cc, err := b.Build(context.Background(), "asst-1", "thread-1", false)
	if err != nil {
		t.Fatal(err)
	}
	got := cc.Messages[1:]
	want := []models.Role{models.RoleUser, models.RoleUser, models.RoleUser, models.RoleAssistant}
	for i, m := range got {
		if m.Role != want[i] {
			t.Errorf("message %d role = %q, want %q", i, m.Role, want[i])
		}
	}
}

func TestBuildSkipsEmptyMessages(t *testing.T) {
	store := storagetest.New()
	seed(store)
	store.Threads["thread-1"] = []models.Message{
		{ThreadID: "thread-1", Role: models.RoleUser, Content: "   "},
		{ThreadID: "thread-1", Role: models.RoleUser, Content: "real"},
	}
	b := newTestBuilder(store)

	cc, err := b.Build(context.Background(), "asst-1", "thread-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(cc.Messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(cc.Messages))
	}
}

func TestWindowKeepsSystemAndLatestUser(t *testing.T) {
	store := storagetest.New()
	seed(store)
	b := newTestBuilder(store)
	b.window = 100
	b.threshold = 1.0

	big := strings.Repeat("x", 40)
	msgs := []providers.ChatMessage{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: big},
		{Role: models.RoleAssistant, Content: big},
		{Role: models.RoleUser, Content: "latest question"},
	}
	out := b.applyWindow(msgs)

	if out[0].Role != models.RoleSystem {
		t.Fatalf("system message dropped")
	}
	last := out[len(out)-1]
	if last.Content != "latest question" {
		t.Errorf("latest user message dropped; tail = %q", last.Content)
	}
	total := 0
	for _, m := range out {
		total += len(m.Content) + 4
	}
	if total > 100 && len(out) > 2 {
		t.Errorf("window not applied: %d tokens across %d messages", total, len(out))
	}
}

func TestWindowDropsOldestFirst(t *testing.T) {
	store := storagetest.New()
	b := newTestBuilder(store)
	b.window = 60
	b.threshold = 1.0

	msgs := []providers.ChatMessage{
		{Role: models.RoleSystem, Content: "s"},
		{Role: models.RoleUser, Content: "oldest-aaaaaaaaaaaaaaaa"},
		{Role: models.RoleAssistant, Content: "middle-aaaaaaaaaaaaaaaa"},
		{Role: models.RoleUser, Content: "newest"},
	}
	out := b.applyWindow(msgs)
	for _, m := range out {
		if strings.HasPrefix(m.Content, "oldest") {
			t.Error("oldest message should be dropped first")
		}
	}
	found := false
	for _, m := range out {
		if m.Content == "newest" {
			found = true
		}
	}
	if !found {
		t.Error("newest user message missing")
	}
}

func TestWindowNoopUnderBudget(t *testing.T) {
	store := storagetest.New()
	b := newTestBuilder(store)

	msgs := []providers.ChatMessage{
		{Role: models.RoleSystem, Content: "s"},
		{Role: models.RoleUser, Content: "hi"},
	}
	out := b.applyWindow(msgs)
	if len(out) != 2 {
		t.Errorf("len = %d, want 2", len(out))
	}
}

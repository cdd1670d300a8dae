// Package contextbuilder assembles the provider message list for a run:
// assistant configuration, thread history, a composed system message, and
// token-budget truncation.
package contextbuilder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/strandworks/strand/internal/config"
	"github.com/strandworks/strand/internal/providers"
	"github.com/strandworks/strand/internal/storage"
	"github.com/strandworks/strand/pkg/models"
)

// tokenEncoding is the tokenizer used for window sizing. Counting only
// has to be consistent, not provider-exact, so one encoding serves all
// providers.
const tokenEncoding = "cl100k_base"

// Context is the assembled input for one provider stream.
type Context struct {
	Assistant    *models.Assistant
	VectorStores []models.VectorStore
	Messages     []providers.ChatMessage
}

// Builder loads assistants and thread history and produces provider-ready
// message lists. Safe for concurrent use.
type Builder struct {
	store     storage.API
	window    int
	threshold float64

	now func() time.Time

	encOnce sync.Once
	enc     *tiktoken.Tiktoken

	// countFn overrides token counting; nil means tiktoken with a
	// bytes/4 fallback if the encoding cannot be loaded.
	countFn func(string) int
}

// New creates a builder over the storage API with the configured window.
func New(store storage.API, cfg config.ContextConfig) *Builder {
	return &Builder{
		store:     store,
		window:    cfg.MaxContextWindow,
		threshold: cfg.ThresholdPercentage,
		now:       time.Now,
	}
}

// Build assembles the message list for one stream. When truncate is set,
// a sliding window keeps the conversation inside the token budget.
func (b *Builder) Build(ctx context.Context, assistantID, threadID string, truncate bool) (*Context, error) {
	assistant, err := b.store.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, fmt.Errorf("load assistant %s: %w", assistantID, err)
	}

	stores, err := b.store.GetVectorStores(ctx, assistantID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load vector stores for %s: %w", assistantID, err)
	}

	history, err := b.store.GetThreadMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	msgs := make([]providers.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		msgs = append(msgs, providers.ChatMessage{
			Role:    wireRole(m.Role),
			Content: content,
		})
	}

	system := providers.ChatMessage{
		Role:    models.RoleSystem,
		Content: systemContent(assistant, b.now()),
	}
	if len(msgs) > 0 && msgs[0].Role == models.RoleSystem {
		msgs[0] = system
	} else {
		msgs = append([]providers.ChatMessage{system}, msgs...)
	}

	if truncate {
		msgs = b.applyWindow(msgs)
	}

	return &Context{
		Assistant:    assistant,
		VectorStores: stores,
		Messages:     msgs,
	}, nil
}

// systemContent composes the system message: tool schemas, assistant
// instructions, and the current wall-clock time.
func systemContent(a *models.Assistant, now time.Time) string {
	var b strings.Builder
	if len(a.Tools) > 0 {
		schemas, err := json.Marshal(a.Tools)
		if err == nil {
			b.WriteString("You have access to the following tools. To call one, reply with a single JSON object ")
			b.WriteString(`of the form {"name": "<tool>", "arguments": {...}} and nothing else.` + "\n")
			b.Write(schemas)
			b.WriteString("\n\n")
		}
	}
	if a.Instructions != "" {
		b.WriteString(a.Instructions)
		b.WriteString("\n\n")
	}
	b.WriteString("Current time: ")
	b.WriteString(now.Format("2006-01-02 15:04:05"))
	return b.String()
}

// wireRole collapses roles to what OpenAI-compatible endpoints accept.
// Tool and platform outputs travel as user messages; a bare "tool" role
// without a call id is rejected by most providers.
func wireRole(r models.Role) models.Role {
	switch models.NormalizeRole(string(r)) {
	case models.RoleAssistant:
		return models.RoleAssistant
	case models.RoleSystem:
		return models.RoleSystem
	default:
		return models.RoleUser
	}
}

// applyWindow drops the oldest non-system messages until the list fits
// window × threshold tokens. The system message and the most recent user
// message are always kept.
func (b *Builder) applyWindow(msgs []providers.ChatMessage) []providers.ChatMessage {
	budget := int(float64(b.window) * b.threshold)

	counts := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		// Small per-message constant approximates role and framing
		// overhead.
		counts[i] = b.countTokens(m.Content) + 4
		total += counts[i]
	}
	if total <= budget {
		return msgs
	}

	lastUser := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			lastUser = i
			break
		}
	}

	keep := make([]bool, len(msgs))
	for i := range keep {
		keep[i] = true
	}
	for i := 0; i < len(msgs) && total > budget; i++ {
		if msgs[i].Role == models.RoleSystem || i == lastUser {
			continue
		}
		keep[i] = false
		total -= counts[i]
	}

	out := msgs[:0]
	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}

func (b *Builder) countTokens(s string) int {
	if b.countFn != nil {
		return b.countFn(s)
	}
	b.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err == nil {
			b.enc = enc
		}
	})
	if b.enc != nil {
		return len(b.enc.Encode(s, nil, nil))
	}
	return len(s)/4 + 1
}

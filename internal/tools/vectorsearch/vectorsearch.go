// Package vectorsearch answers retrieval queries against the assistant's
// attached vector store, served by an external Qdrant instance. Queries
// run as full-text payload matches with optional MongoDB-style operator
// filters translated to Qdrant conditions.
package vectorsearch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/strandworks/strand/internal/config"
	"github.com/strandworks/strand/internal/observability"
	"github.com/strandworks/strand/internal/tools"
	"github.com/strandworks/strand/pkg/models"
)

// resultLimit caps how many documents one search returns.
const resultLimit = 5

// contentField is the payload field carrying document text; text queries
// match against it.
const contentField = "content"

// searcher is the Qdrant surface the handler needs; tests substitute a
// fake.
type searcher interface {
	Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
}

// Handler is the vector_store_search platform tool.
type Handler struct {
	cfg config.SandboxConfig
	log *observability.Logger

	once    sync.Once
	client  searcher
	connErr error
}

// New creates the handler; the Qdrant connection is established on first
// use.
func New(cfg config.SandboxConfig, log *observability.Logger) *Handler {
	return &Handler{cfg: cfg, log: log}
}

// Name implements tools.Handler.
func (h *Handler) Name() string { return models.ToolVectorStoreSearch }

// Execute searches the assistant's first attached vector store and
// returns the ranked documents as text.
func (h *Handler) Execute(ctx context.Context, inv *tools.Invocation, emit tools.Emitter) (string, error) {
	query := inv.StringArg("query")
	if strings.TrimSpace(query) == "" {
		return "", errors.New("vector_store_search: empty query argument")
	}
	if len(inv.VectorStores) == 0 {
		return "", fmt.Errorf("vector_store_search: assistant %s has no vector store attached", inv.Assistant.ID)
	}
	store := inv.VectorStores[0]

	client, err := h.searchClient()
	if err != nil {
		return "", fmt.Errorf("vector_store_search: connect: %w", err)
	}

	filter, err := buildFilter(query, inv.Arguments)
	if err != nil {
		return "", fmt.Errorf("vector_store_search: %w", err)
	}

	emit(models.StatusChunk(models.StatusProcessing, inv.Run.ID))

	points, err := client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: store.CollectionName,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(resultLimit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return "", fmt.Errorf("vector_store_search: search %s: %w", store.CollectionName, err)
	}
	if len(points) == 0 {
		return "No matching documents found.", nil
	}
	return formatResults(points), nil
}

func (h *Handler) searchClient() (searcher, error) {
	h.once.Do(func() {
		if h.client != nil {
			return
		}
		client, err := qdrant.NewClient(&qdrant.Config{
			Host:   h.cfg.VectorHost,
			Port:   h.cfg.VectorPort,
			APIKey: h.cfg.VectorAPIKey,
			UseTLS: h.cfg.VectorUseTLS,
		})
		if err != nil {
			h.connErr = err
			return
		}
		h.client = client
	})
	return h.client, h.connErr
}

// buildFilter translates the query plus any operator arguments into a
// Qdrant filter. Every non-query argument becomes a condition: scalars
// match for equality, operator objects become ranges and negations.
func buildFilter(query string, args map[string]any) (*qdrant.Filter, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchText(contentField, query)},
	}

	for field, val := range args {
		if field == "query" {
			continue
		}
		switch v := val.(type) {
		case map[string]any:
			if err := applyOperators(filter, field, v); err != nil {
				return nil, err
			}
		default:
			cond, err := equalityCondition(field, v)
			if err != nil {
				return nil, err
			}
			filter.Must = append(filter.Must, cond)
		}
	}
	return filter, nil
}

// applyOperators folds one field's operator object into the filter.
// Range operators accumulate into a single range condition per field.
func applyOperators(filter *qdrant.Filter, field string, ops map[string]any) error {
	var rng *qdrant.Range

	for op, val := range ops {
		switch op {
		case "$eq":
			cond, err := equalityCondition(field, val)
			if err != nil {
				return err
			}
			filter.Must = append(filter.Must, cond)
		case "$ne":
			cond, err := equalityCondition(field, val)
			if err != nil {
				return err
			}
			filter.MustNot = append(filter.MustNot, cond)
		case "$gt", "$gte", "$lt", "$lte":
			n, ok := val.(float64)
			if !ok {
				return fmt.Errorf("operator %s on %s requires a number", op, field)
			}
			if rng == nil {
				rng = &qdrant.Range{}
			}
			switch op {
			case "$gt":
				rng.Gt = qdrant.PtrOf(n)
			case "$gte":
				rng.Gte = qdrant.PtrOf(n)
			case "$lt":
				rng.Lt = qdrant.PtrOf(n)
			case "$lte":
				rng.Lte = qdrant.PtrOf(n)
			}
		default:
			return fmt.Errorf("unsupported filter operator %s", op)
		}
	}

	if rng != nil {
		filter.Must = append(filter.Must, qdrant.NewRange(field, rng))
	}
	return nil
}

// equalityCondition builds a match condition for a scalar value.
func equalityCondition(field string, val any) (*qdrant.Condition, error) {
	switch v := val.(type) {
	case string:
		return qdrant.NewMatchKeyword(field, v), nil
	case bool:
		return qdrant.NewMatchBool(field, v), nil
	case float64:
		if v == math.Trunc(v) {
			return qdrant.NewMatchInt(field, int64(v)), nil
		}
		return qdrant.NewRange(field, &qdrant.Range{Gte: qdrant.PtrOf(v), Lte: qdrant.PtrOf(v)}), nil
	default:
		return nil, fmt.Errorf("unsupported filter value for %s (%T)", field, val)
	}
}

// formatResults renders retrieved documents for the model.
func formatResults(points []*qdrant.RetrievedPoint) string {
	var b strings.Builder
	b.WriteString("Search results:\n")
	for i, p := range points {
		fmt.Fprintf(&b, "\n%d. ", i+1)
		if p.Payload == nil {
			b.WriteString("(no payload)")
			continue
		}
		if content, ok := p.Payload[contentField]; ok {
			if s := content.GetStringValue(); s != "" {
				b.WriteString(s)
			}
		}
		for key, val := range p.Payload {
			if key == contentField {
				continue
			}
			fmt.Fprintf(&b, "\n   %s: %s", key, valueString(val))
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func valueString(v *qdrant.Value) string {
	switch k := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return fmt.Sprintf("%d", k.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return fmt.Sprintf("%g", k.DoubleValue)
	case *qdrant.Value_BoolValue:
		return fmt.Sprintf("%t", k.BoolValue)
	default:
		return v.String()
	}
}

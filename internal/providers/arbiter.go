package providers

import (
	"fmt"
	"strings"

	"github.com/strandworks/strand/internal/config"
)

// ConfigError reports a provider whose endpoint is not configured. The
// message is user-safe: it names the provider and nothing else.
type ConfigError struct {
	Provider string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("Server Configuration Error: %s service endpoint is not configured.", e.Provider)
}

// RouteError reports a model id no prefix rule matches. Surfaced as a
// 4xx before any streaming begins.
type RouteError struct {
	Model string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("unsupported model %q: no provider route", e.Model)
}

// Route is a resolved (provider, model) pair ready for a client lookup.
type Route struct {
	// Provider is the canonical lowercase provider name used as the
	// config key ("hyperbolic", "togetherai", ...).
	Provider string

	// DisplayName is the provider's user-facing name for error text.
	DisplayName string

	// APIModel is the provider-specific model id to send on the wire.
	APIModel string
}

// prefixRoute maps a unified-model-id prefix to a provider. Order
// matters: the first match wins.
type prefixRoute struct {
	prefix      string
	provider    string
	displayName string
}

var prefixTable = []prefixRoute{
	{"hyperbolic/", "hyperbolic", "Hyperbolic"},
	{"together-ai/", "togetherai", "TogetherAI"},
	{"deepseek-ai/", "deepseek", "DeepSeek"},
	{"azure/", "azure", "Azure"},
	{"google/", "google", "Google"},
	{"groq", "groq", "Groq"},
	{"local", "ollama", "Ollama"},
}

// modelAliases resolves unified short names to provider-specific ids.
// The alias map is authoritative: no provider pins a model id regardless
// of caller input.
var modelAliases = map[string]string{
	"hyperbolic/deepseek-v3":    "deepseek-ai/DeepSeek-V3",
	"hyperbolic/deepseek-r1":    "deepseek-ai/DeepSeek-R1",
	"hyperbolic/llama-3.3-70b":  "meta-llama/Llama-3.3-70B-Instruct",
	"hyperbolic/qwen-2.5-coder": "Qwen/Qwen2.5-Coder-32B-Instruct",

	"together-ai/llama-3.3-70b": "meta-llama/Llama-3.3-70B-Instruct-Turbo",
	"together-ai/deepseek-v3":   "deepseek-ai/DeepSeek-V3",
	"together-ai/qwen-2.5-72b":  "Qwen/Qwen2.5-72B-Instruct-Turbo",

	"deepseek-ai/deepseek-chat":     "deepseek-chat",
	"deepseek-ai/deepseek-reasoner": "deepseek-reasoner",

	"azure/gpt-4o":      "gpt-4o",
	"azure/gpt-4o-mini": "gpt-4o-mini",

	"google/gemini-2.0-flash": "gemini-2.0-flash",

	"groq-llama-3.3-70b": "llama-3.3-70b-versatile",
	"groq-llama-3.1-8b":  "llama-3.1-8b-instant",

	"local-llama3":  "llama3",
	"local-qwen2.5": "qwen2.5",
}

// Arbiter routes unified model ids to provider clients. Client instances
// are cached through the shared factory; the arbiter itself is stateless
// beyond configuration.
type Arbiter struct {
	providers config.ProvidersConfig
	factory   *Factory
}

// NewArbiter creates an arbiter over the configured provider map.
func NewArbiter(providers config.ProvidersConfig, factory *Factory) *Arbiter {
	if factory == nil {
		factory = NewFactory()
	}
	return &Arbiter{providers: providers, factory: factory}
}

// Resolve maps a unified model id to a route. Unknown prefixes produce a
// RouteError.
func (a *Arbiter) Resolve(model string) (Route, error) {
	model = strings.TrimSpace(model)
	for _, pr := range prefixTable {
		if !strings.HasPrefix(model, pr.prefix) {
			continue
		}
		return Route{
			Provider:    pr.provider,
			DisplayName: pr.displayName,
			APIModel:    resolveAPIModel(model, pr.prefix),
		}, nil
	}
	return Route{}, &RouteError{Model: model}
}

// resolveAPIModel applies the alias map, falling back to stripping the
// routing prefix from the unified id.
func resolveAPIModel(model, prefix string) string {
	if resolved, ok := modelAliases[model]; ok {
		return resolved
	}
	rest := strings.TrimPrefix(model, prefix)
	rest = strings.TrimLeft(rest, "/-")
	if rest == "" {
		return model
	}
	return rest
}

// ClientFor returns a streaming client for the route. When the caller
// supplied a request-scoped API key, a transient client is used so the
// cached default is left untouched. A provider without a configured base
// URL yields a ConfigError.
func (a *Arbiter) ClientFor(route Route, requestAPIKey string) (*Client, error) {
	pc, ok := a.providers[route.Provider]
	if !ok || strings.TrimSpace(pc.BaseURL) == "" {
		return nil, &ConfigError{Provider: route.DisplayName}
	}
	if requestAPIKey != "" && requestAPIKey != pc.APIKey {
		return a.factory.TransientClient(route.Provider, pc.BaseURL, requestAPIKey), nil
	}
	return a.factory.Client(route.Provider, pc.BaseURL, pc.APIKey), nil
}

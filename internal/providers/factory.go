package providers

import (
	"container/list"
	"sync"
)

// factoryCacheSize bounds the number of cached clients. Sixteen covers
// every configured provider plus a handful of caller-supplied keys.
const factoryCacheSize = 16

type cacheKey struct {
	baseURL string
	apiKey  string
}

type cacheEntry struct {
	key    cacheKey
	client *Client
}

// Factory caches one Client per (base_url, api_key) pair in a small LRU.
// A request-scoped API key produces a transient client that never touches
// the cache entry of the configured default.
type Factory struct {
	mu    sync.Mutex
	index map[cacheKey]*list.Element
	order *list.List // front = most recently used
}

// NewFactory creates an empty client factory.
func NewFactory() *Factory {
	return &Factory{
		index: make(map[cacheKey]*list.Element),
		order: list.New(),
	}
}

// Client returns the cached client for (provider, baseURL, apiKey),
// creating and caching it on first use.
func (f *Factory) Client(provider, baseURL, apiKey string) *Client {
	key := cacheKey{baseURL: baseURL, apiKey: apiKey}

	f.mu.Lock()
	defer f.mu.Unlock()

	if el, ok := f.index[key]; ok {
		f.order.MoveToFront(el)
		return el.Value.(*cacheEntry).client
	}

	client := NewClient(provider, baseURL, apiKey)
	el := f.order.PushFront(&cacheEntry{key: key, client: client})
	f.index[key] = el

	for f.order.Len() > factoryCacheSize {
		oldest := f.order.Back()
		f.order.Remove(oldest)
		delete(f.index, oldest.Value.(*cacheEntry).key)
	}
	return client
}

// TransientClient builds a client without consulting or mutating the
// cache. Used for request-scoped API keys.
func (f *Factory) TransientClient(provider, baseURL, apiKey string) *Client {
	return NewClient(provider, baseURL, apiKey)
}

// Len reports the number of cached clients.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order.Len()
}

package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strandworks/strand/internal/storage"
)

// Monitor watches run statuses in the background and flips an in-memory
// flag when a run reaches cancelling or cancelled. One watcher exists
// per run regardless of how many times Start is called.
type Monitor struct {
	store    storage.API
	interval time.Duration

	mu   sync.Mutex
	runs map[string]*watch
}

type watch struct {
	flag atomic.Bool
	stop chan struct{}
	once sync.Once
	refs int
}

// NewMonitor creates a monitor polling at the given interval (1 s when
// zero).
func NewMonitor(store storage.API, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		store:    store,
		interval: interval,
		runs:     make(map[string]*watch),
	}
}

// Start begins watching a run and returns the cancellation flag plus a
// release function. Starting an already-watched run joins the existing
// watcher; the watcher stops when every holder has released it.
func (m *Monitor) Start(ctx context.Context, runID string) (*atomic.Bool, func()) {
	m.mu.Lock()
	w, ok := m.runs[runID]
	if ok {
		w.refs++
		m.mu.Unlock()
		return &w.flag, func() { m.release(runID, w) }
	}
	w = &watch{stop: make(chan struct{}), refs: 1}
	m.runs[runID] = w
	m.mu.Unlock()

	go m.poll(ctx, runID, w)
	return &w.flag, func() { m.release(runID, w) }
}

func (m *Monitor) release(runID string, w *watch) {
	m.mu.Lock()
	w.refs--
	done := w.refs <= 0
	if done {
		delete(m.runs, runID)
	}
	m.mu.Unlock()
	if done {
		w.once.Do(func() { close(w.stop) })
	}
}

func (m *Monitor) poll(ctx context.Context, runID string, w *watch) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		}

		run, err := m.store.GetRun(ctx, runID)
		if err != nil {
			continue
		}
		if run.Status.CancelRequested() {
			w.flag.Store(true)
			return
		}
		if run.Status.Terminal() {
			return
		}
	}
}

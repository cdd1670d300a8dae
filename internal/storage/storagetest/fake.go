// Package storagetest provides an in-memory storage.API for tests.
package storagetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/strandworks/strand/internal/storage"
	"github.com/strandworks/strand/pkg/models"
)

// Fake is an in-memory storage.API. All fields are guarded by one mutex;
// tests may read them directly after the code under test returns.
type Fake struct {
	mu sync.Mutex

	Assistants   map[string]*models.Assistant
	Threads      map[string][]models.Message
	Runs         map[string]*models.Run
	Actions      map[string]*models.Action
	VectorStores map[string][]models.VectorStore

	// Appended collects every persisted message in call order.
	Appended []models.Message

	// StatusHistory records run status transitions as "runID:status".
	StatusHistory []string

	nextAction int
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Assistants:   make(map[string]*models.Assistant),
		Threads:      make(map[string][]models.Message),
		Runs:         make(map[string]*models.Run),
		Actions:      make(map[string]*models.Action),
		VectorStores: make(map[string][]models.VectorStore),
	}
}

var _ storage.API = (*Fake)(nil)

func (f *Fake) GetAssistant(_ context.Context, id string) (*models.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Assistants[id]
	if !ok {
		return nil, fmt.Errorf("assistant %s: %w", id, storage.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *Fake) GetThreadMessages(_ context.Context, threadID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.Threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, storage.ErrNotFound)
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *Fake) AppendMessage(_ context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Appended = append(f.Appended, *msg)
	f.Threads[msg.ThreadID] = append(f.Threads[msg.ThreadID], *msg)
	return nil
}

func (f *Fake) AppendAssistantChunk(_ context.Context, msg *models.Message) error {
	return f.AppendMessage(nil, msg)
}

func (f *Fake) GetRun(_ context.Context, id string) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (f *Fake) UpdateRunStatus(_ context.Context, id string, status models.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	r.Status = status
	f.StatusHistory = append(f.StatusHistory, id+":"+string(status))
	return nil
}

func (f *Fake) CreateAction(_ context.Context, action *models.Action) (*models.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAction++
	cp := *action
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("action-%d", f.nextAction)
	}
	if cp.Status == "" {
		cp.Status = models.ActionPending
	}
	f.Actions[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *Fake) UpdateActionStatus(_ context.Context, id string, status models.ActionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Actions[id]
	if !ok {
		return fmt.Errorf("action %s: %w", id, storage.ErrNotFound)
	}
	a.Status = status
	return nil
}

func (f *Fake) GetAction(_ context.Context, id string) (*models.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Actions[id]
	if !ok {
		return nil, fmt.Errorf("action %s: %w", id, storage.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *Fake) GetVectorStores(_ context.Context, assistantID string) ([]models.VectorStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.VectorStores[assistantID], nil
}

// SetRunStatus force-sets a run's status without transition checks.
func (f *Fake) SetRunStatus(id string, status models.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.Runs[id]; ok {
		r.Status = status
	}
}

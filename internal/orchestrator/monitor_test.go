package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/strandworks/strand/internal/storage/storagetest"
	"github.com/strandworks/strand/pkg/models"
)

func TestMonitorFlipsFlagOnCancel(t *testing.T) {
	store := storagetest.New()
	store.Runs["run-1"] = &models.Run{ID: "run-1", Status: models.RunInProgress}
	m := NewMonitor(store, 10*time.Millisecond)

	flag, release := m.Start(context.Background(), "run-1")
	defer release()

	store.SetRunStatus("run-1", models.RunCancelling)

	deadline := time.Now().Add(time.Second)
	for !flag.Load() {
		if time.Now().After(deadline) {
			t.Fatal("flag never flipped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitorStartIsIdempotent(t *testing.T) {
	store := storagetest.New()
	store.Runs["run-1"] = &models.Run{ID: "run-1", Status: models.RunInProgress}
	m := NewMonitor(store, 10*time.Millisecond)

	flag1, release1 := m.Start(context.Background(), "run-1")
	flag2, release2 := m.Start(context.Background(), "run-1")
	if flag1 != flag2 {
		t.Error("second Start should join the existing watcher")
	}
	release1()
	release2()
	release2() // extra release is harmless

	m.mu.Lock()
	n := len(m.runs)
	m.mu.Unlock()
	if n != 0 {
		t.Errorf("watchers remaining = %d", n)
	}
}

func TestMonitorStopsOnTerminalStatus(t *testing.T) {
	store := storagetest.New()
	store.Runs["run-1"] = &models.Run{ID: "run-1", Status: models.RunCompleted}
	m := NewMonitor(store, 10*time.Millisecond)

	flag, release := m.Start(context.Background(), "run-1")
	defer release()

	time.Sleep(50 * time.Millisecond)
	if flag.Load() {
		t.Error("completed run must not read as cancelled")
	}
}

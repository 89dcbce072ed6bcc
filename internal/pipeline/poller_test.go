package pipeline

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/quantbrief/alphapipe/internal/quarantine"
)

func TestPollerTickResolvesReadyRecords(t *testing.T) {
	h := newHarness(100000)
	ctx := cleanContext()
	ctx.Thesis = "too short"
	h.runner.result.Context = ctx

	if _, err := h.orch.Process(context.Background(), testUnit()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.runner.result.Context = cleanContext()

	poller, err := NewPoller(h.orch, h.store, time.Minute, "", log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := poller.Tick(context.Background()); got != 1 {
		t.Fatalf("expected 1 resolved record, got %d", got)
	}
	if got := len(h.store.ByStatus(quarantine.StatusResolved)); got != 1 {
		t.Fatalf("expected 1 resolved record in the store, got %d", got)
	}
}

func TestPollerTickEmptyStore(t *testing.T) {
	h := newHarness(100000)
	poller, err := NewPoller(h.orch, h.store, time.Minute, "", log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := poller.Tick(context.Background()); got != 0 {
		t.Fatalf("expected no work, got %d", got)
	}
}

func TestPollerRejectsInvalidCron(t *testing.T) {
	h := newHarness(100000)
	if _, err := NewPoller(h.orch, h.store, time.Minute, "not a cron", nil); err == nil {
		t.Fatalf("expected cron parse error")
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	h := newHarness(100000)
	poller, err := NewPoller(h.orch, h.store, 10*time.Millisecond, "", log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("poller did not stop on cancel")
	}
}

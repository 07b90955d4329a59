package access

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeToucher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeToucher) TouchAccess(ctx context.Context, memoryID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, memoryID)
}

func (f *fakeToucher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestRecordAccess_TouchesEveryMemoryID(t *testing.T) {
	store := &fakeToucher{}
	tracker := New(store, nil)

	tracker.RecordAccess(context.Background(), []string{"mem_1", "mem_2", "mem_3"})

	waitUntil(t, func() bool { return len(store.snapshot()) == 3 })
}

func TestRecordAccess_EmptyListIsNoop(t *testing.T) {
	store := &fakeToucher{}
	tracker := New(store, nil)

	tracker.RecordAccess(context.Background(), nil)
	time.Sleep(10 * time.Millisecond)

	if len(store.snapshot()) != 0 {
		t.Fatalf("expected no calls for empty input")
	}
}

func TestRecordAccess_SkipsEmptyIDs(t *testing.T) {
	store := &fakeToucher{}
	tracker := New(store, nil)

	tracker.RecordAccess(context.Background(), []string{"", "mem_1", ""})

	waitUntil(t, func() bool { return len(store.snapshot()) == 1 })
	if store.snapshot()[0] != "mem_1" {
		t.Fatalf("expected only mem_1 touched, got %v", store.snapshot())
	}
}

func TestRecordAccess_NilTrackerIsSafe(t *testing.T) {
	var tracker *Tracker
	tracker.RecordAccess(context.Background(), []string{"mem_1"})
}

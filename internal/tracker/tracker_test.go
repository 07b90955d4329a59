package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/yungbote/memsubstrate/internal/boundary"
)

type fakeSink struct {
	mu         sync.Mutex
	transcript []Transcript
}

func (f *fakeSink) Write(t Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcript = append(f.transcript, t)
	return nil
}

func (f *fakeSink) all() []Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transcript, len(f.transcript))
	copy(out, f.transcript)
	return out
}

func newTestTracker(t *testing.T, sink Sink) *Tracker {
	t.Helper()
	tr, err := New(Config{MaxTracked: 10}, sink, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func TestProcessRequest_FirstRequestNeverDetects(t *testing.T) {
	tr := newTestTracker(t, nil)
	result := tr.ProcessRequest("sess-1", []Message{{Role: "user", Content: "hi"}})
	if result.Boundary.Detected {
		t.Fatalf("first request should never detect a boundary: %+v", result)
	}
	if result.ClosedTranscript != nil {
		t.Fatalf("expected no closed transcript on first request")
	}
}

func TestProcessRequest_ContinuationDoesNotDetect(t *testing.T) {
	tr := newTestTracker(t, nil)
	tr.now = func() time.Time { return time.Unix(0, 0) }
	tr.ProcessRequest("sess-1", []Message{{Role: "user", Content: "hi"}})

	tr.now = func() time.Time { return time.Unix(5, 0) }
	result := tr.ProcessRequest("sess-1", []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "more"},
	})
	if result.Boundary.Detected {
		t.Fatalf("expected no boundary within idle threshold: %+v", result)
	}
}

func TestProcessRequest_IdlePlusDropDetectsAndEmitsTranscript(t *testing.T) {
	sink := &fakeSink{}
	tr := newTestTracker(t, sink)

	start := time.Unix(0, 0)
	tr.now = func() time.Time { return start }
	tr.ProcessRequest("sess-1", []Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
		{Role: "assistant", Content: "d"},
	})

	later := start.Add(boundary.Defaults().IdleThreshold + time.Minute)
	tr.now = func() time.Time { return later }
	result := tr.ProcessRequest("sess-1", []Message{{Role: "user", Content: "new topic"}})

	if !result.Boundary.Detected {
		t.Fatalf("expected boundary detection, got %+v", result)
	}
	if result.ClosedTranscript == nil {
		t.Fatalf("expected closed transcript")
	}
	if result.ClosedTranscript.MessageCount != 4 {
		t.Fatalf("expected closed transcript to contain the prior 4 messages, got %d", result.ClosedTranscript.MessageCount)
	}

	// sink write is async; poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sink.all()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	written := sink.all()
	if len(written) != 1 {
		t.Fatalf("expected exactly one transcript written, got %d", len(written))
	}
	if written[0].SessionID != "sess-1" {
		t.Fatalf("unexpected session id: %s", written[0].SessionID)
	}
}

func TestProcessRequest_ResetsStateAfterBoundary(t *testing.T) {
	tr := newTestTracker(t, nil)
	start := time.Unix(0, 0)
	tr.now = func() time.Time { return start }
	tr.ProcessRequest("sess-1", []Message{{Role: "user", Content: "a"}, {Role: "user", Content: "b"}})

	later := start.Add(boundary.Defaults().IdleThreshold + time.Minute)
	tr.now = func() time.Time { return later }
	tr.ProcessRequest("sess-1", []Message{{Role: "user", Content: "new"}})

	// Immediately after a reset, a follow-up within threshold must not detect.
	tr.now = func() time.Time { return later.Add(time.Second) }
	result := tr.ProcessRequest("sess-1", []Message{
		{Role: "user", Content: "new"},
		{Role: "assistant", Content: "reply"},
	})
	if result.Boundary.Detected {
		t.Fatalf("expected no boundary immediately after reset: %+v", result)
	}
}

func TestLen_TracksDistinctSessions(t *testing.T) {
	tr := newTestTracker(t, nil)
	tr.ProcessRequest("sess-1", []Message{{Role: "user", Content: "a"}})
	tr.ProcessRequest("sess-2", []Message{{Role: "user", Content: "b"}})
	if got := tr.Len(); got != 2 {
		t.Fatalf("expected 2 tracked sessions, got %d", got)
	}
}

func TestLen_EvictsOverCapacity(t *testing.T) {
	tr, err := New(Config{MaxTracked: 2}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr.ProcessRequest("sess-1", []Message{{Role: "user", Content: "a"}})
	tr.ProcessRequest("sess-2", []Message{{Role: "user", Content: "b"}})
	tr.ProcessRequest("sess-3", []Message{{Role: "user", Content: "c"}})
	if got := tr.Len(); got != 2 {
		t.Fatalf("expected LRU eviction to cap at 2, got %d", got)
	}
}

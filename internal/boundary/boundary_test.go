package boundary

import (
	"testing"
	"time"
)

func TestDetect_NotIdleYet(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	prior := PriorState{LastSeen: start, MessageCount: 5, FirstMessageHash: "abc"}
	now := start.Add(5 * time.Minute)

	got := Detect(prior, 2, "xyz", now, Defaults())
	if got.Detected {
		t.Fatalf("expected not detected within idle threshold, got %+v", got)
	}
}

func TestDetect_MessageDrop(t *testing.T) {
	// Scenario 3: request A at T with 5 messages, request B at T+15m with 2
	// messages, same hash. Expect detected=true, reason=idle_and_message_drop,
	// drop_percent=60.0.
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	prior := PriorState{LastSeen: start, MessageCount: 5, FirstMessageHash: "same-hash"}
	now := start.Add(15 * time.Minute)

	got := Detect(prior, 2, "same-hash", now, Defaults())
	if !got.Detected {
		t.Fatalf("expected detected, got %+v", got)
	}
	if got.Reason != ReasonIdleAndDrop {
		t.Fatalf("expected reason=%s, got %s", ReasonIdleAndDrop, got.Reason)
	}
	if got.DropPercent != 60.0 {
		t.Fatalf("expected drop_percent=60.0, got %v", got.DropPercent)
	}
	if got.HashChanged {
		t.Fatalf("expected hash_changed=false")
	}
}

func TestDetect_HashChangeOnly(t *testing.T) {
	// Scenario 4: request A at T: 2 messages "Talk about Proxmox...". Request B
	// at T+12m with 2 messages starting "Talk about Docker". Expect
	// detected=true, reason=idle_and_hash_change, hash_changed=true.
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	prior := PriorState{LastSeen: start, MessageCount: 2, FirstMessageHash: Hash("Talk about Proxmox")}
	now := start.Add(12 * time.Minute)

	got := Detect(prior, 2, Hash("Talk about Docker"), now, Defaults())
	if !got.Detected {
		t.Fatalf("expected detected, got %+v", got)
	}
	if got.Reason != ReasonIdleAndHashChange {
		t.Fatalf("expected reason=%s, got %s", ReasonIdleAndHashChange, got.Reason)
	}
	if !got.HashChanged {
		t.Fatalf("expected hash_changed=true")
	}
}

func TestDetect_ExactlyAtThresholdDoesNotTrigger(t *testing.T) {
	// Scenario 5: request A at T: 10 messages. Request B at T+10m1s with
	// exactly 5 messages (50.0% drop), same hash. Expect detected=false
	// (strict >, not >=).
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	prior := PriorState{LastSeen: start, MessageCount: 10, FirstMessageHash: "h"}
	now := start.Add(10*time.Minute + 1*time.Second)

	got := Detect(prior, 5, "h", now, Defaults())
	if got.Detected {
		t.Fatalf("expected not detected at exact 50%% drop, got %+v", got)
	}
	if got.DropPercent != 50.0 {
		t.Fatalf("expected drop_percent=50.0, got %v", got.DropPercent)
	}
}

func TestDetect_BothTriggers(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	prior := PriorState{LastSeen: start, MessageCount: 10, FirstMessageHash: "h1"}
	now := start.Add(20 * time.Minute)

	got := Detect(prior, 1, "h2", now, Defaults())
	if got.Reason != ReasonIdleAndBoth {
		t.Fatalf("expected reason=%s, got %s", ReasonIdleAndBoth, got.Reason)
	}
}

func TestDetect_Deterministic(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	prior := PriorState{LastSeen: start, MessageCount: 10, FirstMessageHash: "h1"}
	now := start.Add(20 * time.Minute)

	a := Detect(prior, 1, "h2", now, Defaults())
	b := Detect(prior, 1, "h2", now, Defaults())
	if a != b {
		t.Fatalf("expected deterministic results, got %+v vs %+v", a, b)
	}
}

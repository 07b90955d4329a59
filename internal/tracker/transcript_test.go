package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSink_WritesNamedJSONFile(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	start := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 30, 10, 15, 0, 0, time.UTC)
	tr := Transcript{
		SessionID:     "0123456789abcdef",
		StartTime:     start,
		EndTime:       end,
		MessageCount:  2,
		TriggerReason: "idle_and_message_drop",
		Messages: []Message{
			{Role: "user", Content: "hi", Timestamp: start},
			{Role: "assistant", Content: "hello", Timestamp: end},
		},
	}

	if err := sink.Write(tr); err != nil {
		t.Fatalf("Write: %v", err)
	}

	expected := filepath.Join(dir, "01234567_20260730_101500.json")
	raw, err := os.ReadFile(expected)
	if err != nil {
		t.Fatalf("expected file %s: %v", expected, err)
	}

	var doc transcriptDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.SessionID != tr.SessionID || doc.MessageCount != 2 || len(doc.Messages) != 2 {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestFileSink_ShortSessionIDUsedWhole(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	tr := Transcript{
		SessionID:    "ab",
		StartTime:    time.Unix(0, 0),
		EndTime:      time.Unix(0, 0),
		MessageCount: 1,
		Messages:     []Message{{Role: "user", Content: "x", Timestamp: time.Unix(0, 0)}},
	}
	if err := sink.Write(tr); err != nil {
		t.Fatalf("Write: %v", err)
	}
	expected := filepath.Join(dir, "ab_19700101_000000.json")
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("expected file %s: %v", expected, err)
	}
}

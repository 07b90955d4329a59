package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes closed transcripts to individual JSON files under Dir,
// named "<session_id_prefix8>_<YYYYMMDD_HHMMSS>.json". Matches the teacher's
// "storage is logged, never blocks the request path" discipline: Write is
// always called from the Tracker's own goroutine, never inline.
type FileSink struct {
	Dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

type transcriptMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type transcriptDoc struct {
	SessionID     string              `json:"session_id"`
	StartTime     string              `json:"start_time"`
	EndTime       string              `json:"end_time"`
	MessageCount  int                 `json:"message_count"`
	TriggerReason string              `json:"trigger_reason"`
	Messages      []transcriptMessage `json:"messages"`
}

// Write serializes t to disk. Returns an error describing what failed; the
// caller (Tracker.emitTranscript) is responsible for logging it rather than
// propagating it onto the chat response path.
func (s *FileSink) Write(t Transcript) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("transcript sink: mkdir: %w", err)
	}

	doc := transcriptDoc{
		SessionID:     t.SessionID,
		StartTime:     t.StartTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		EndTime:       t.EndTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		MessageCount:  t.MessageCount,
		TriggerReason: string(t.TriggerReason),
		Messages:      make([]transcriptMessage, len(t.Messages)),
	}
	for i, m := range t.Messages {
		doc.Messages[i] = transcriptMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("transcript sink: marshal: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", sessionPrefix(t.SessionID), t.EndTime.UTC().Format("20060102_150405"))
	path := filepath.Join(s.Dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("transcript sink: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("transcript sink: rename: %w", err)
	}
	return nil
}

func sessionPrefix(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}

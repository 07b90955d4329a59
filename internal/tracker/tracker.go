// Package tracker implements the stateful LRU registry of live conversation
// sessions (C2). It drives the Boundary Detector and, on a detected
// boundary, hands a completed Transcript to the sink for persistence.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yungbote/memsubstrate/internal/boundary"
	"github.com/yungbote/memsubstrate/internal/logger"
)

// Message is a single chat turn as seen on the wire.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// SessionMetadata is the in-memory state tracked per live conversation.
type SessionMetadata struct {
	SessionID        string
	FirstSeen        time.Time
	LastSeen         time.Time
	LastMessageCount int
	FirstMessageHash string
}

// Transcript is the immutable record produced when a boundary is detected.
type Transcript struct {
	SessionID     string
	StartTime     time.Time
	EndTime       time.Time
	MessageCount  int
	TriggerReason boundary.TriggerReason
	Messages      []Message
}

// Sink persists a closed Transcript. The Tracker calls Write on a goroutine
// of its own, never inline on the request path; FileSink writes
// synchronously on that goroutine.
type Sink interface {
	Write(t Transcript) error
}

type session struct {
	meta   SessionMetadata
	buffer []Message
}

// Tracker maintains session_id -> SessionMetadata with LRU eviction.
type Tracker struct {
	mu         sync.Mutex
	sessions   *lru.Cache[string, *session]
	maxTracked int
	cfg        boundary.Config
	sink       Sink
	log        *logger.Logger
	now        func() time.Time
}

// Config configures the tracker's limits and detection thresholds.
type Config struct {
	MaxTracked     int // default 1000
	BoundaryConfig boundary.Config
}

func (c Config) withDefaults() Config {
	if c.MaxTracked <= 0 {
		c.MaxTracked = 1000
	}
	if c.BoundaryConfig == (boundary.Config{}) {
		c.BoundaryConfig = boundary.Defaults()
	}
	return c
}

// New constructs a Tracker. sink may be nil (transcript writes are skipped).
func New(cfg Config, sink Sink, log *logger.Logger) (*Tracker, error) {
	cfg = cfg.withDefaults()
	cache, err := lru.New[string, *session](cfg.MaxTracked)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		sessions:   cache,
		maxTracked: cfg.MaxTracked,
		cfg:        cfg.BoundaryConfig,
		sink:       sink,
		log:        log,
		now:        time.Now,
	}, nil
}

// ProcessResult is returned by ProcessRequest.
type ProcessResult struct {
	Boundary boundary.Result
	// ClosedTranscript is set only when a boundary was detected; it is the
	// transcript assembled from the prior session's buffered messages.
	ClosedTranscript *Transcript
}

// HashFirstMessage returns the SHA-256 hex digest of the first message's
// content. Exposed so callers building a request can precompute it once.
func HashFirstMessage(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	return boundary.Hash(messages[0].Content)
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ProcessRequest evaluates the boundary for an inbound request under the
// tracker's single exclusive lock. Failures in transcript persistence are
// logged and never returned to the caller — boundary processing must never
// block the chat response path.
func (t *Tracker) ProcessRequest(sessionID string, messages []Message) ProcessResult {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	newHash := ""
	if len(messages) > 0 {
		newHash = hashContent(messages[0].Content)
	}
	newCount := len(messages)

	sess, ok := t.sessions.Get(sessionID)
	if !ok {
		meta := SessionMetadata{
			SessionID:        sessionID,
			FirstSeen:        now,
			LastSeen:         now,
			LastMessageCount: newCount,
			FirstMessageHash: newHash,
		}
		t.sessions.Add(sessionID, &session{meta: meta, buffer: append([]Message(nil), messages...)})
		return ProcessResult{Boundary: boundary.Result{Detected: false}}
	}

	prior := boundary.PriorState{
		LastSeen:         sess.meta.LastSeen,
		MessageCount:     sess.meta.LastMessageCount,
		FirstMessageHash: sess.meta.FirstMessageHash,
	}
	result := boundary.Detect(prior, newCount, newHash, now, t.cfg)

	if result.Detected {
		closed := assembleTranscript(sess.meta, sess.buffer, now, result.Reason)
		t.emitTranscript(closed)

		sess.meta = SessionMetadata{
			SessionID:        sessionID,
			FirstSeen:        now,
			LastSeen:         now,
			LastMessageCount: newCount,
			FirstMessageHash: newHash,
		}
		sess.buffer = append([]Message(nil), messages...)
		t.sessions.Add(sessionID, sess)
		return ProcessResult{Boundary: result, ClosedTranscript: &closed}
	}

	sess.meta.LastSeen = now
	sess.meta.LastMessageCount = newCount
	sess.meta.FirstMessageHash = newHash
	sess.buffer = append([]Message(nil), messages...)
	t.sessions.Add(sessionID, sess)
	return ProcessResult{Boundary: result}
}

// assembleTranscript synthesizes per-message timestamps by linearly
// interpolating between the prior session's first-seen time and now. True
// per-message timestamps are not recoverable from the chat API; downstream
// consumers must treat these as approximate (spec.md §9 open question 3).
func assembleTranscript(meta SessionMetadata, buffer []Message, now time.Time, reason boundary.TriggerReason) Transcript {
	n := len(buffer)
	out := make([]Message, n)
	span := now.Sub(meta.FirstSeen)
	for i, m := range buffer {
		offset := time.Duration(float64(span) / float64(n) * float64(i))
		out[i] = Message{Role: m.Role, Content: m.Content, Timestamp: meta.FirstSeen.Add(offset)}
	}
	return Transcript{
		SessionID:     meta.SessionID,
		StartTime:     meta.FirstSeen,
		EndTime:       now,
		MessageCount:  n,
		TriggerReason: reason,
		Messages:      out,
	}
}

func (t *Tracker) emitTranscript(tr Transcript) {
	if t.sink == nil {
		return
	}
	go func() {
		if err := t.sink.Write(tr); err != nil && t.log != nil {
			t.log.Warn("transcript write failed", "session_id", tr.SessionID, "error", err)
		}
	}()
}

// Len reports the number of currently tracked sessions (for observability).
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions.Len()
}

// Package boundary implements the hybrid heuristic that decides whether an
// inbound chat request belongs to the conversation already in progress or
// starts a new one.
package boundary

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TriggerReason identifies which signal(s) caused a boundary to be detected.
type TriggerReason string

const (
	ReasonNone              TriggerReason = ""
	ReasonIdleAndDrop       TriggerReason = "idle_and_message_drop"
	ReasonIdleAndHashChange TriggerReason = "idle_and_hash_change"
	ReasonIdleAndBoth       TriggerReason = "idle_and_both"
)

// PriorState is the minimal slice of SessionMetadata the detector needs.
type PriorState struct {
	LastSeen         time.Time
	MessageCount     int
	FirstMessageHash string
}

// Config holds the tunable thresholds. Zero values are replaced with spec
// defaults by Defaults().
type Config struct {
	IdleThreshold time.Duration
	DropFraction  float64
}

// Defaults returns the spec-mandated defaults: 10 minute idle threshold, 0.5
// drop fraction.
func Defaults() Config {
	return Config{
		IdleThreshold: 10 * time.Minute,
		DropFraction:  0.5,
	}
}

// Result is the outcome of a single detection call.
type Result struct {
	Detected    bool
	Reason      TriggerReason
	IdleSeconds float64
	DropPercent float64
	HashChanged bool
}

// Hash returns the SHA-256 hex digest of the first message's content. Callers
// must guarantee messages is non-empty.
func Hash(firstMessageContent string) string {
	sum := sha256.Sum256([]byte(firstMessageContent))
	return hex.EncodeToString(sum[:])
}

// Detect is a pure function: identical inputs always yield identical output,
// and it performs no I/O or wall-clock reads of its own (now is supplied by
// the caller). Thread-safe because it touches no shared state.
func Detect(prior PriorState, newMessageCount int, newFirstHash string, now time.Time, cfg Config) Result {
	idle := now.Sub(prior.LastSeen)
	idleSeconds := idle.Seconds()

	if idle <= cfg.IdleThreshold {
		return Result{
			Detected:    false,
			Reason:      ReasonNone,
			IdleSeconds: idleSeconds,
		}
	}

	drop := prior.MessageCount - newMessageCount
	if drop < 0 {
		drop = 0
	}
	dropPercent := 0.0
	if prior.MessageCount > 0 {
		dropPercent = (float64(drop) / float64(prior.MessageCount)) * 100
	}

	hashChanged := newFirstHash != prior.FirstMessageHash

	// Strict greater-than: a drop exactly at the configured fraction does not
	// trigger (spec.md §9 open question 2 / scenario 5).
	dropTriggered := dropPercent > cfg.DropFraction*100

	switch {
	case dropTriggered && hashChanged:
		return Result{true, ReasonIdleAndBoth, idleSeconds, dropPercent, hashChanged}
	case dropTriggered:
		return Result{true, ReasonIdleAndDrop, idleSeconds, dropPercent, hashChanged}
	case hashChanged:
		return Result{true, ReasonIdleAndHashChange, idleSeconds, dropPercent, hashChanged}
	default:
		return Result{false, ReasonNone, idleSeconds, dropPercent, hashChanged}
	}
}

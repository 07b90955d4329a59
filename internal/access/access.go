// Package access is the Access Tracker (C11): it records that a memory was
// surfaced to a user so C10's frequency score has real usage data to work
// from. Recording is best-effort — a failure here must never fail the
// retrieval request it's attached to.
package access

import (
	"context"
	"sync"

	"github.com/yungbote/memsubstrate/internal/logger"
)

// Toucher is the narrow memstore.Store slice this tracker needs.
type Toucher interface {
	TouchAccess(ctx context.Context, memoryID string)
}

// Tracker records memory access in the background so callers on the
// request path never wait on it.
type Tracker struct {
	store Toucher
	log   *logger.Logger
}

func New(store Toucher, log *logger.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

// RecordAccess fires a TouchAccess for every memory ID in the background
// and returns immediately; it never blocks the caller and never returns an
// error, matching the reference tracker's "non-critical" discipline.
func (t *Tracker) RecordAccess(ctx context.Context, memoryIDs []string) {
	if t == nil || t.store == nil || len(memoryIDs) == 0 {
		return
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		var wg sync.WaitGroup
		for _, id := range memoryIDs {
			if id == "" {
				continue
			}
			wg.Add(1)
			go func(memoryID string) {
				defer wg.Done()
				t.store.TouchAccess(detached, memoryID)
			}(id)
		}
		wg.Wait()
	}()
}

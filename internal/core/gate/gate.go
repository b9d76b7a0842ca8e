package gate

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docsage-ai/docsage-backend/internal/config"
)

// ErrBusy means the gate could not be entered within the acquisition
// timeout. Callers fail fast (HTTP 503 / skipped job) instead of queueing.
var ErrBusy = errors.New("gate busy")

const defaultAcquireTimeout = 250 * time.Millisecond

// Gate bounds concurrent entry to a section. Acquisition waits at most the
// configured timeout, then gives up with ErrBusy so overload surfaces as
// back-pressure instead of unbounded queues.
type Gate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func New(capacity int, timeout time.Duration) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}
	return &Gate{sem: semaphore.NewWeighted(int64(capacity)), timeout: timeout}
}

// Acquire enters the gate or fails with ErrBusy after the timeout. The
// caller's context still applies; its cancellation is returned as-is.
func (g *Gate) Acquire(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
	return nil
}

// TryAcquire enters the gate only if a slot is free right now.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

func (g *Gate) Release() {
	g.sem.Release(1)
}

// Gates holds the process-local admission gates, one per contended
// resource class.
type Gates struct {
	Documents *Gate
	Search    *Gate
	LLM       *Gate
	Embed     *Gate
}

func NewGates(cfg *config.Config) *Gates {
	t := cfg.GateAcquireTimeout
	return &Gates{
		Documents: New(cfg.MaxConcurrentDocuments, t),
		Search:    New(cfg.MaxConcurrentSearches, t),
		LLM:       New(cfg.MaxConcurrentLLMCalls, t),
		Embed:     New(cfg.MaxConcurrentEmbedCalls, t),
	}
}

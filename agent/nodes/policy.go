package orchestratornode

import (
	"context"
	"time"
)

// Policy holds the per-turn limits shared by the nodes.
type Policy struct {
	MaxHops            int
	MaxRetries         int
	RequireIdentity    bool
	RecordCapabilities bool
	DefaultTimezone    string
	DefaultAvatar      string
	PersistTimeout     time.Duration
}

func (p Policy) hops() int {
	if p.MaxHops <= 0 {
		return 6
	}
	return p.MaxHops
}

func (p Policy) attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// persistCtx detaches persistence from caller cancellation so completed work
// is still flushed after an aborted turn.
func (p Policy) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := p.PersistTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

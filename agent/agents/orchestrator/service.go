package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/puzpuzpuz/xsync/v3"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	nodex "github.com/tanpawarit/fredie-agent/agent/nodes"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrTurnCancelled  = nodex.ErrTurnCancelled
)

// Dependencies are the long-lived collaborators shared by every session.
type Dependencies struct {
	Store        statex.Store
	Models       contractx.Registry
	Capabilities contractx.CapabilityGateway
	// Recorder is optional; without it nothing is persisted besides the
	// checkpoint.
	Recorder contractx.Recorder
	Now      func() time.Time
}

type Orchestrator struct {
	store        statex.Store
	models       contractx.Registry
	capabilities contractx.CapabilityGateway
	recorder     contractx.Recorder
	policy       nodex.Policy

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	// queues serialises turns per session in arrival order.
	queues *xsync.MapOf[string, *sessionQueue]

	now func() time.Time
}

func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("state store is required")
	}
	if deps.Models == nil {
		return nil, errors.New("model registry is required")
	}
	if deps.Capabilities == nil {
		return nil, errors.New("capability gateway is required")
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	o := &Orchestrator{
		store:        deps.Store,
		models:       deps.Models,
		capabilities: deps.Capabilities,
		recorder:     deps.Recorder,
		policy:       cfg.policy(),
		queues:       xsync.NewMapOf[string, *sessionQueue](),
		now:          now,
	}

	graphRunner, err := o.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleTurn processes one user message. Turns of the same session run one at
// a time in arrival order; different sessions run concurrently.
func (o *Orchestrator) HandleTurn(ctx context.Context, in contractx.TurnInput) (contractx.TurnOutput, error) {
	in.SessionID = nodex.NormalizeSessionID(in.SessionID)

	release, err := o.enter(ctx, in.SessionID)
	if err != nil {
		return contractx.TurnOutput{}, err
	}
	defer release()

	out, err := o.graphRunner.Invoke(ctx, in)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contractx.TurnOutput{}, errors.Join(ErrTurnCancelled, ctxErr)
		}
		return contractx.TurnOutput{}, err
	}
	return out, nil
}

type sessionQueue struct {
	tail    chan struct{}
	waiters int
}

// enter queues the caller behind the previous turn of the session. Each turn
// swaps in its own done channel as the tail and waits for the one before it.
func (o *Orchestrator) enter(ctx context.Context, sessionID string) (func(), error) {
	done := make(chan struct{})
	var prev chan struct{}
	o.queues.Compute(sessionID, func(q *sessionQueue, loaded bool) (*sessionQueue, bool) {
		if !loaded {
			q = &sessionQueue{}
		}
		prev = q.tail
		q.tail = done
		q.waiters++
		return q, false
	})

	release := func() {
		close(done)
		o.queues.Compute(sessionID, func(q *sessionQueue, loaded bool) (*sessionQueue, bool) {
			if !loaded {
				return q, true
			}
			q.waiters--
			return q, q.waiters == 0
		})
	}

	if prev == nil {
		return release, nil
	}
	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		// Keep the chain intact: later turns still wait for the one ahead.
		go func() {
			<-prev
			release()
		}()
		return nil, errors.Join(ErrTurnCancelled, ctx.Err())
	}
}

package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	nodex "github.com/tanpawarit/fredie-agent/agent/nodes"
)

const (
	nodeValidateRequest = "validate_request"
	nodeIdentifyUser    = "identify_user"
	nodeRecordInput     = "record_user_input"
	nodeSaveState       = "validate_and_save_state"
	nodeFinalizeReply   = "finalize_reply"
)

type turnStep struct {
	name string
	run  func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error)
}

// turnSteps lists the state-to-state nodes in execution order.
func (o *Orchestrator) turnSteps() []turnStep {
	return []turnStep{
		{"load_or_create_state", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadOrCreateState(ctx, in, o.store, o.recorder, o.policy)
		}},
		{"inject_time", func(_ context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.InjectTime(in, o.policy)
		}},
		{nodeIdentifyUser, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.IdentifyUser(ctx, in, o.models.Extractor(), o.capabilities)
		}},
		{nodeRecordInput, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RecordUserInput(ctx, in, o.recorder, o.policy)
		}},
		{"route_request", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RouteRequest(ctx, in, o.models.Classifier())
		}},
		{"run_agent", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunAgent(ctx, in, o.models, o.capabilities, o.policy)
		}},
		{"record_agent_output", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RecordAgentOutput(ctx, in, o.recorder, o.policy)
		}},
		{nodeSaveState, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ValidateAndSaveState(ctx, in, o.store, o.policy)
		}},
	}
}

func (o *Orchestrator) compileHandleTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode(nodeValidateRequest,
		compose.InvokableLambda(func(_ context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeValidateRequest, err)
	}

	steps := o.turnSteps()
	for _, step := range steps {
		if err := graph.AddLambdaNode(step.name, compose.InvokableLambda(step.run)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", step.name, err)
		}
	}

	if err := graph.AddLambdaNode(nodeFinalizeReply,
		compose.InvokableLambda(func(_ context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeFinalizeReply, err)
	}

	// A turn suspended by the gate skips routing and goes straight to save.
	if err := graph.AddBranch(nodeIdentifyUser, compose.NewGraphBranch(
		func(_ context.Context, in *nodex.GraphState) (string, error) {
			if in.Awaiting() {
				return nodeSaveState, nil
			}
			return nodeRecordInput, nil
		},
		map[string]bool{nodeRecordInput: true, nodeSaveState: true},
	)); err != nil {
		return nil, fmt.Errorf("add branch %s: %w", nodeIdentifyUser, err)
	}

	order := []string{compose.START, nodeValidateRequest}
	for _, step := range steps {
		order = append(order, step.name)
	}
	order = append(order, nodeFinalizeReply, compose.END)

	for i := 0; i+1 < len(order); i++ {
		from, to := order[i], order[i+1]
		if from == nodeIdentifyUser {
			continue
		}
		if err := graph.AddEdge(from, to); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", from, to, err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

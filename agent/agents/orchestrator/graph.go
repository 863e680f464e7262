package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/tanpawarit/relay-agents/agent/nodes"
)

// compileTurnGraph builds the graph for a single turn. The run loop invokes it
// once per turn so the ceiling and cancellation stay outside the graph.
func (o *Orchestrator) compileTurnGraph(ctx context.Context) (compose.Runnable[nodex.TurnInput, nodex.TurnOutput], error) {
	graph := compose.NewGraph[nodex.TurnInput, nodex.TurnOutput]()

	if err := graph.AddLambdaNode(nodex.NodeValidateTurn,
		compose.InvokableLambda(func(ctx context.Context, in nodex.TurnInput) (*nodex.TurnState, error) {
			return nodex.ValidateTurn(in, o.roster)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeValidateTurn, err)
	}

	if err := graph.AddLambdaNode(nodex.NodePickSpeaker,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.TurnState) (*nodex.TurnState, error) {
			return nodex.PickSpeaker(ctx, in, o.roster, o.cfg.Policy, o.selector)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodePickSpeaker, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeTakeTurn,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.TurnState) (*nodex.TurnState, error) {
			return nodex.TakeTurn(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeTakeTurn, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeApplyReply,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.TurnState) (nodex.TurnOutput, error) {
			return nodex.ApplyReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeApplyReply, err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.TurnState) (string, error) {
			return nodex.NextStep(in), nil
		},
		map[string]bool{
			nodex.NodeTakeTurn:   true,
			nodex.NodeApplyReply: true,
		},
	)
	if err := graph.AddBranch(nodex.NodePickSpeaker, branch); err != nil {
		return nil, fmt.Errorf("add branch after %s: %w", nodex.NodePickSpeaker, err)
	}

	edges := [][2]string{
		{compose.START, nodex.NodeValidateTurn},
		{nodex.NodeValidateTurn, nodex.NodePickSpeaker},
		{nodex.NodeTakeTurn, nodex.NodeApplyReply},
		{nodex.NodeApplyReply, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.turn"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator turn graph: %w", err)
	}
	return runner, nil
}

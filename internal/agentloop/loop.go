// Package agentloop implements the agent's core state machine: bind tools,
// call the model, dispatch any requested tool calls, fold their results
// back into the transcript (compacting oversized ones along the way), and
// repeat until the model stops asking for tools (spec §4.5).
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentcore/runtime/internal/agentstate"
	"github.com/agentcore/runtime/internal/checkpoint"
	"github.com/agentcore/runtime/internal/compaction"
	"github.com/agentcore/runtime/internal/model"
	"github.com/agentcore/runtime/internal/tokenaccount"
	"github.com/agentcore/runtime/internal/tools"
)

const (
	// defaultThreshold is the token count above which a tool result is
	// routed through the Compaction Engine instead of folded directly.
	defaultThreshold = 15000
	// defaultRecursionBound caps node transitions in a single turn.
	defaultRecursionBound = 50
)

// Options configures a Loop.
type Options struct {
	Registry       *tools.Registry
	Model          model.Client
	Compactor      *compaction.Engine
	Checkpoints    checkpoint.Store
	Accountant     *tokenaccount.Accountant
	Threshold      int
	RecursionBound int
}

// Loop runs the five-state agent loop over one session's AgentState.
type Loop struct {
	registry       *tools.Registry
	model          model.Client
	compactor      *compaction.Engine
	checkpoints    checkpoint.Store
	accountant     *tokenaccount.Accountant
	threshold      int
	recursionBound int
	toolDefs       []model.ToolDefinition
}

// New builds a Loop from opts, filling design defaults for Threshold and
// RecursionBound when unset.
func New(opts Options) *Loop {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	bound := opts.RecursionBound
	if bound <= 0 {
		bound = defaultRecursionBound
	}
	return &Loop{
		registry:       opts.Registry,
		model:          opts.Model,
		compactor:      opts.Compactor,
		checkpoints:    opts.Checkpoints,
		accountant:     opts.Accountant,
		threshold:      threshold,
		recursionBound: bound,
		toolDefs:       toolDefinitions(opts.Registry),
	}
}

// Run drives state through transitions until it reaches NodeTerminated,
// persisting a checkpoint after every transition (spec §4.5
// "Checkpointing").
func (l *Loop) Run(ctx context.Context, state *agentstate.State) (*agentstate.State, error) {
	for state.Node != agentstate.NodeTerminated {
		if state.TransitionCount >= l.recursionBound {
			l.terminateWithDiagnostic(state, fmt.Sprintf(
				"agent loop stopped after %d transitions without completing the turn", state.TransitionCount))
		} else if err := l.step(ctx, state); err != nil {
			return state, err
		}
		state.TransitionCount++
		if l.checkpoints != nil {
			if err := l.checkpoints.Put(ctx, state.SessionID, state); err != nil {
				return state, fmt.Errorf("agentloop: checkpoint write: %w", err)
			}
		}
	}
	return state, nil
}

// step executes exactly one state transition, mutating state in place.
func (l *Loop) step(ctx context.Context, state *agentstate.State) error {
	switch state.Node {
	case agentstate.NodeBindTools:
		return l.stepBindTools(state)
	case agentstate.NodeModel:
		return l.stepModel(ctx, state)
	case agentstate.NodeDispatchTools:
		return l.stepDispatchTools(ctx, state)
	case agentstate.NodeSelectNextOutput:
		return l.stepSelectNextOutput(ctx, state)
	case agentstate.NodeFoldOutput:
		return l.stepFoldOutput(state)
	default:
		return fmt.Errorf("agentloop: unknown node %q", state.Node)
	}
}

func (l *Loop) stepBindTools(state *agentstate.State) error {
	state.ToolsBound = true
	state.Node = agentstate.NodeModel
	return nil
}

func (l *Loop) stepModel(ctx context.Context, state *agentstate.State) error {
	resp, err := l.model.Complete(ctx, &model.Request{
		Messages: state.Messages,
		Tools:    l.toolDefs,
	})
	if err != nil {
		return fmt.Errorf("agentloop: model call: %w", err)
	}
	state.Messages = append(state.Messages, resp.Message)

	if resp.Message.HasToolCalls() {
		state.Node = agentstate.NodeDispatchTools
		return nil
	}
	state.TerminalText = resp.Message.Text
	state.Node = agentstate.NodeTerminated
	return nil
}

// stepDispatchTools invokes every tool call on the last assistant message,
// possibly in parallel (spec §5 parallelism point 1), folding results back
// in call-emission order regardless of completion order.
func (l *Loop) stepDispatchTools(ctx context.Context, state *agentstate.State) error {
	assistant := lastAssistantMessage(state.Messages)
	calls := assistant.ToolCalls
	results := make([]model.Message, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range calls {
		i, tc := i, tc
		g.Go(func() error {
			content := l.registry.Dispatch(gctx, tc.Name, rawArgsOrEncode(tc))
			results[i] = model.NewToolMessage(tc.ID, content)
			return nil
		})
	}
	// Dispatch never returns an error (unknown tools, bad args, and handler
	// errors all encode to a JSON error payload), so the goroutines above
	// always return nil and Wait returns nil once they have all finished.
	if err := g.Wait(); err != nil {
		return fmt.Errorf("agentloop: dispatch tools: %w", err)
	}

	state.PendingToolOutputs = results
	state.CurrentIndex = -1
	state.Node = agentstate.NodeSelectNextOutput
	return nil
}

func (l *Loop) stepSelectNextOutput(ctx context.Context, state *agentstate.State) error {
	state.CurrentIndex++
	if state.CurrentIndex >= len(state.PendingToolOutputs) {
		state.CurrentIndex = -1
		state.PendingToolOutputs = nil
		state.CurrentToolOutput = nil
		state.Node = agentstate.NodeModel
		return nil
	}

	output := state.PendingToolOutputs[state.CurrentIndex]
	if l.accountant.Estimate(output.Text) > l.threshold {
		assistant := lastAssistantMessage(state.Messages)
		compacted, err := l.compactor.Compact(ctx, assistant, output)
		if err != nil {
			return fmt.Errorf("agentloop: compaction: %w", err)
		}
		output = compacted
	}
	state.CurrentToolOutput = &output
	state.Node = agentstate.NodeFoldOutput
	return nil
}

// stepFoldOutput appends the current tool output to the transcript and
// harvests any user_action side effect, then loops back to consume any
// remaining pending outputs (spec §4.5 "After fold_output").
func (l *Loop) stepFoldOutput(state *agentstate.State) error {
	if state.CurrentToolOutput == nil {
		state.Node = agentstate.NodeSelectNextOutput
		return nil
	}
	output := *state.CurrentToolOutput
	state.Messages = append(state.Messages, output)

	if action, ok := harvestUserAction(lastAssistantMessage(state.Messages[:len(state.Messages)-1]), output); ok {
		state.UserActions = append(state.UserActions, action)
	}

	state.CurrentToolOutput = nil
	state.Node = agentstate.NodeSelectNextOutput
	return nil
}

func (l *Loop) terminateWithDiagnostic(state *agentstate.State, message string) {
	state.Messages = append(state.Messages, model.Message{Role: model.RoleAssistant, Text: message})
	state.TerminalText = message
	state.Node = agentstate.NodeTerminated
}

func toolDefinitions(registry *tools.Registry) []model.ToolDefinition {
	if registry == nil {
		return nil
	}
	specs := registry.List()
	defs := make([]model.ToolDefinition, len(specs))
	for i, spec := range specs {
		defs[i] = model.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.ArgSchema,
		}
	}
	return defs
}

func lastAssistantMessage(messages []model.Message) model.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant {
			return messages[i]
		}
	}
	return model.Message{}
}

func rawArgsOrEncode(tc model.ToolCall) json.RawMessage {
	if len(tc.RawArgs) > 0 {
		return tc.RawArgs
	}
	data, err := json.Marshal(tc.Args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// harvestUserAction reports whether output's content is a JSON object
// carrying a truthy user_action flag, returning the recorded UserAction
// (spec §4.1 "user_action flag", §4.5 "fold_output").
func harvestUserAction(assistant model.Message, output model.Message) (agentstate.UserAction, bool) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(output.Text), &payload); err != nil {
		return agentstate.UserAction{}, false
	}
	flagged, _ := payload["user_action"].(bool)
	if !flagged {
		return agentstate.UserAction{}, false
	}
	toolName := ""
	for _, tc := range assistant.ToolCalls {
		if tc.ID == output.ToolCallID {
			toolName = tc.Name
			break
		}
	}
	return agentstate.UserAction{
		ToolName:  toolName,
		ToolCall:  output.ToolCallID,
		Payload:   payload,
		Harvested: time.Now(),
	}, true
}

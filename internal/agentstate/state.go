// Package agentstate defines the per-session working state persisted to the
// checkpoint store between agent loop transitions (spec §3 "AgentState").
package agentstate

import (
	"encoding/json"
	"time"

	"github.com/agentcore/runtime/internal/model"
)

// Node names the agent loop's explicit state-machine states.
type Node string

const (
	NodeBindTools          Node = "bind_tools"
	NodeModel              Node = "model"
	NodeDispatchTools      Node = "dispatch_tools"
	NodeSelectNextOutput   Node = "select_next_output"
	NodeFoldOutput         Node = "fold_output"
	NodeTerminated         Node = "terminated"
)

// UserAction is a side-effect descriptor harvested from a tool result
// carrying the user_action flag (spec §4.1, §4.5).
type UserAction struct {
	ToolName  string         `json:"tool_name"`
	ToolCall  string         `json:"tool_call_id"`
	Payload   map[string]any `json:"payload"`
	Harvested time.Time      `json:"harvested_at"`
}

// State is the per-turn working state persisted after every agent loop
// transition (spec §3 "AgentState", §4.5 "Checkpointing").
type State struct {
	SessionID string `json:"session_id"`

	// Node is the agent loop state this State is currently parked in; it is
	// not named in spec §3 verbatim but is required for checkpoint resume
	// to re-enter the correct transition rather than restart the turn.
	Node Node `json:"node"`

	Messages []model.Message `json:"messages"`

	// PendingToolOutputs holds Tool messages produced by the last dispatch
	// but not yet folded back into Messages.
	PendingToolOutputs []model.Message `json:"pending_tool_outputs"`

	// CurrentIndex is the cursor into PendingToolOutputs; -1 means "none
	// selected".
	CurrentIndex int `json:"current_index"`

	// CurrentToolOutput is the Tool message currently being post-processed.
	CurrentToolOutput *model.Message `json:"current_tool_output,omitempty"`

	ToolsBound bool `json:"tools_bound"`

	UserActions []UserAction `json:"user_actions"`

	// TransitionCount counts node transitions so far this turn, enforcing
	// the recursion bound (spec §4.5 "Recursion bound").
	TransitionCount int `json:"transition_count"`

	// TerminalText holds the final assistant text once the loop reaches
	// NodeTerminated, for the Session Facade's projection (spec §4.6).
	TerminalText string `json:"terminal_text,omitempty"`
}

// New constructs a fresh State seeded with the given system message,
// entering at bind_tools per spec §4.5 "Entry state".
func New(sessionID string, system model.Message) *State {
	return &State{
		SessionID:    sessionID,
		Node:         NodeBindTools,
		Messages:     []model.Message{system},
		CurrentIndex: -1,
	}
}

// Clone returns a copy with its own Messages, PendingToolOutputs,
// UserActions and CurrentToolOutput, so callers (checkpoint stores, tests)
// can replace or edit those entries without touching the original. Maps
// and slices nested inside the entries (tool calls, args, meta, payloads)
// are shared with the original.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]model.Message(nil), s.Messages...)
	out.PendingToolOutputs = append([]model.Message(nil), s.PendingToolOutputs...)
	out.UserActions = append([]UserAction(nil), s.UserActions...)
	if s.CurrentToolOutput != nil {
		msg := *s.CurrentToolOutput
		out.CurrentToolOutput = &msg
	}
	return &out
}

// Marshal encodes the state as the single opaque document persisted by the
// checkpoint store (spec §4.3 "opaque persistence").
func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes a previously persisted document.
func Unmarshal(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

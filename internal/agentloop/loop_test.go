package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/internal/agentstate"
	"github.com/agentcore/runtime/internal/checkpoint/inmem"
	"github.com/agentcore/runtime/internal/model"
	"github.com/agentcore/runtime/internal/tokenaccount"
	"github.com/agentcore/runtime/internal/tools"
)

// scriptedModel returns the next queued response on each Complete call.
type scriptedModel struct {
	responses []model.Response
	calls     int
}

func (s *scriptedModel) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	if s.calls >= len(s.responses) {
		return &model.Response{Message: model.Message{Role: model.RoleAssistant, Text: "done"}}, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return &resp, nil
}

func registryWithEcho(t *testing.T, userAction bool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Spec{
		Name:        "echo",
		Description: "echoes the given message",
		ArgSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"message": map[string]any{"type": "string"}},
		},
		UserAction: userAction,
		Invoke: func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"message": args["message"]}, nil
		},
	}))
	return reg
}

func newLoop(t *testing.T, m model.Client, reg *tools.Registry) (*Loop, *inmem.Store) {
	t.Helper()
	store := inmem.New()
	l := New(Options{
		Registry:    reg,
		Model:       m,
		Checkpoints: store,
		Accountant:  tokenaccount.New(nil),
	})
	return l, store
}

func TestLoopTerminatesWithoutToolCalls(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Message: model.Message{Role: model.RoleAssistant, Text: "hello there"}},
	}}
	l, _ := newLoop(t, m, tools.NewRegistry())

	state := agentstate.New("sess-1", model.NewSystemMessage("be helpful"))
	state.Messages = append(state.Messages, model.NewUserMessage("hi"))

	out, err := l.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, agentstate.NodeTerminated, out.Node)
	assert.Equal(t, "hello there", out.TerminalText)
}

func TestLoopDispatchesToolCallAndFoldsResult(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Message: model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "echo", Args: map[string]any{"message": "hi"}},
			},
		}},
		{Message: model.Message{Role: model.RoleAssistant, Text: "final answer"}},
	}}
	reg := registryWithEcho(t, false)
	l, store := newLoop(t, m, reg)

	state := agentstate.New("sess-1", model.NewSystemMessage("be helpful"))
	state.Messages = append(state.Messages, model.NewUserMessage("say hi"))

	out, err := l.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "final answer", out.TerminalText)

	var toolMsg model.Message
	for _, msg := range out.Messages {
		if msg.Role == model.RoleTool {
			toolMsg = msg
		}
	}
	require.Equal(t, "call-1", toolMsg.ToolCallID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolMsg.Text), &decoded))
	assert.Equal(t, "hi", decoded["message"])

	persisted, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, agentstate.NodeTerminated, persisted.Node)
}

func TestLoopHarvestsUserAction(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Message: model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "echo", Args: map[string]any{"message": "book it"}},
			},
		}},
		{Message: model.Message{Role: model.RoleAssistant, Text: "booked"}},
	}}
	reg := registryWithEcho(t, true)
	l, _ := newLoop(t, m, reg)

	state := agentstate.New("sess-1", model.NewSystemMessage("be helpful"))
	state.Messages = append(state.Messages, model.NewUserMessage("book a table"))

	out, err := l.Run(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, out.UserActions, 1)
	assert.Equal(t, "echo", out.UserActions[0].ToolName)
	assert.Equal(t, "call-1", out.UserActions[0].ToolCall)
}

func TestLoopPreservesToolCallOrderOnFold(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Message: model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "echo", Args: map[string]any{"message": "first"}},
				{ID: "call-2", Name: "echo", Args: map[string]any{"message": "second"}},
				{ID: "call-3", Name: "echo", Args: map[string]any{"message": "third"}},
			},
		}},
		{Message: model.Message{Role: model.RoleAssistant, Text: "done"}},
	}}
	reg := registryWithEcho(t, false)
	l, _ := newLoop(t, m, reg)

	state := agentstate.New("sess-1", model.NewSystemMessage("be helpful"))
	state.Messages = append(state.Messages, model.NewUserMessage("go"))

	out, err := l.Run(context.Background(), state)
	require.NoError(t, err)

	var ids []string
	for _, msg := range out.Messages {
		if msg.Role == model.RoleTool {
			ids = append(ids, msg.ToolCallID)
		}
	}
	assert.Equal(t, []string{"call-1", "call-2", "call-3"}, ids)
}

func TestLoopRecursionBoundTerminatesWithDiagnostic(t *testing.T) {
	resp := model.Response{Message: model.Message{
		Role: model.RoleAssistant,
		ToolCalls: []model.ToolCall{
			{ID: "call-1", Name: "echo", Args: map[string]any{"message": "again"}},
		},
	}}
	var responses []model.Response
	for i := 0; i < 100; i++ {
		responses = append(responses, resp)
	}
	m := &scriptedModel{responses: responses}
	reg := registryWithEcho(t, false)
	store := inmem.New()
	l := New(Options{
		Registry:       reg,
		Model:          m,
		Checkpoints:    store,
		Accountant:     tokenaccount.New(nil),
		RecursionBound: 6,
	})

	state := agentstate.New("sess-1", model.NewSystemMessage("be helpful"))
	state.Messages = append(state.Messages, model.NewUserMessage("loop forever"))

	out, err := l.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, agentstate.NodeTerminated, out.Node)
	assert.Contains(t, out.TerminalText, "transitions")
}

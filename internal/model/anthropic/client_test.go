package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/internal/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestCompleteTextOnly(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	stub.resp = &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "world"}},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}

	resp, err := cl.Complete(context.Background(), &model.Request{
		Messages: []model.Message{model.NewUserMessage("hello")},
	})
	require.NoError(t, err)
	require.Equal(t, "world", resp.Message.Text)
	require.Equal(t, string(sdk.StopReasonEndTurn), resp.StopReason)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteToolUse(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", Name: "test_tool", ID: "tool-1", Input: json.RawMessage(`{"x":1}`)},
		},
		StopReason: sdk.StopReasonToolUse,
	}

	resp, err := cl.Complete(context.Background(), &model.Request{
		Messages: []model.Message{model.NewUserMessage("call tool")},
		Tools: []model.ToolDefinition{
			{Name: "test_tool", Description: "test tool", InputSchema: map[string]any{"type": "object"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	call := resp.Message.ToolCalls[0]
	require.Equal(t, "test_tool", call.Name)
	require.Equal(t, "tool-1", call.ID)
	require.Equal(t, float64(1), call.Args["x"])
}

func TestCompletePropagatesError(t *testing.T) {
	sentinel := errors.New("rate limited")
	stub := &stubMessagesClient{err: sentinel}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 64})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), &model.Request{
		Messages: []model.Message{model.NewUserMessage("hi")},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, sentinel)
}

func TestPrepareRequestRequiresMaxTokens(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet"})
	require.NoError(t, err)

	_, err = cl.prepareRequest(&model.Request{Messages: []model.Message{model.NewUserMessage("hi")}})
	require.Error(t, err)
}

package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/internal/model"
	"github.com/agentcore/runtime/internal/tokenaccount"
)

// scriptedModel answers each Complete call with the first matcher in
// responses that accepts the prompt (by substring); a prompt no matcher
// accepts is an error. Matchers are reused on every call, which keeps
// map-reduce fan-out (many concurrent calls for the same stage) simple to
// script.
type scriptedModel struct {
	mu        sync.Mutex
	responses []func(prompt string) (string, error)
	calls     []string
}

func (s *scriptedModel) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prompt := req.Messages[0].Text
	s.calls = append(s.calls, prompt)
	for _, f := range s.responses {
		if text, err := f(prompt); text != "" || err != nil {
			return &model.Response{Message: model.NewUserMessage(text)}, err
		}
	}
	return nil, fmt.Errorf("scriptedModel: no matcher for prompt %q", prompt)
}

func match(substr, response string) func(string) (string, error) {
	return func(prompt string) (string, error) {
		if strings.Contains(prompt, substr) {
			return response, nil
		}
		return "", nil
	}
}

type fakeBlobs struct {
	url string
	err error
}

func (f *fakeBlobs) Upload(_ context.Context, _ string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func newAccountant() *tokenaccount.Accountant { return tokenaccount.New(nil) }

func TestCompactSummarizeBranch(t *testing.T) {
	m := &scriptedModel{responses: []func(string) (string, error){
		match("deciding how to compact", `{"mode":"summarize","reasoning":"prose","suggestions":["totals"]}`),
		match("Merge these partial summaries", "merged batch summary"),
		match("Produce a comprehensive final summary", "final narrative summary"),
		match("Summarize this data chunk", "partial chunk summary"),
	}}
	e := New(m, newAccountant(), &fakeBlobs{})

	assistant := model.Message{ToolCalls: []model.ToolCall{{ID: "call-1", Args: map[string]any{"reason": "find errors"}}}}
	toolMsg := model.NewToolMessage("call-1", strings.Repeat("row of data\n", 50))

	out, err := e.Compact(context.Background(), assistant, toolMsg)
	require.NoError(t, err)
	assert.Equal(t, model.RoleTool, out.Role)
	assert.Equal(t, "call-1", out.ToolCallID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.Text), &decoded))
	assert.Equal(t, "summarize", decoded["processing_mode"])
	assert.Equal(t, "final narrative summary", decoded["summary"])
}

func TestCompactSchemaBranch(t *testing.T) {
	m := &scriptedModel{responses: []func(string) (string, error){
		match("deciding how to compact", `{"mode":"schema","reasoning":"tabular","suggestions":[]}`),
		match("Infer a structural schema", `{"format":"csv","schema":{"columns":["a","b"]},"enums":{}}`),
	}}
	blobs := &fakeBlobs{url: "s3://bucket/key.json"}
	e := New(m, newAccountant(), blobs)

	assistant := model.Message{ToolCalls: []model.ToolCall{{ID: "call-1"}}}
	toolMsg := model.NewToolMessage("call-1", "a,b\n1,2\n3,4\n")

	out, err := e.Compact(context.Background(), assistant, toolMsg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.Text), &decoded))
	assert.Equal(t, "s3://bucket/key.json", decoded["data_uri"])
	assert.NotNil(t, decoded["data_schema"])
}

func TestCompactSchemaBranchUploadFailureIsFatal(t *testing.T) {
	m := &scriptedModel{responses: []func(string) (string, error){
		match("deciding how to compact", `{"mode":"schema","reasoning":"tabular","suggestions":[]}`),
		match("Infer a structural schema", `{"format":"csv","schema":{},"enums":{}}`),
	}}
	blobs := &fakeBlobs{err: fmt.Errorf("bucket unreachable")}
	e := New(m, newAccountant(), blobs)

	assistant := model.Message{ToolCalls: []model.ToolCall{{ID: "call-1"}}}
	toolMsg := model.NewToolMessage("call-1", "a,b\n1,2\n")

	_, err := e.Compact(context.Background(), assistant, toolMsg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob upload failed")
}

func TestCompactDegradesOnPerChunkSummaryFailure(t *testing.T) {
	m := &scriptedModel{responses: []func(string) (string, error){
		match("deciding how to compact", `{"mode":"summarize","reasoning":"prose","suggestions":[]}`),
		func(prompt string) (string, error) {
			if strings.Contains(prompt, "Summarize this data chunk") {
				return "", fmt.Errorf("provider timeout")
			}
			return "", nil
		},
		match("Merge these partial summaries", "merged despite errors"),
		match("Produce a comprehensive final summary", "final summary"),
	}}
	e := New(m, newAccountant(), &fakeBlobs{})

	assistant := model.Message{ToolCalls: []model.ToolCall{{ID: "call-1"}}}
	toolMsg := model.NewToolMessage("call-1", strings.Repeat("line\n", 20))

	out, err := e.Compact(context.Background(), assistant, toolMsg)
	require.NoError(t, err)
	assert.Contains(t, out.Text, "final summary")
}

func TestExtractReasonContextMissingToolCall(t *testing.T) {
	assistant := model.Message{ToolCalls: []model.ToolCall{{ID: "other"}}}
	assert.Equal(t, "", extractReasonContext(assistant, "call-1"))
}

func TestPartitionBatches(t *testing.T) {
	chunks := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9"}
	batches := partitionBatches(chunks, 8)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 8)
	assert.Len(t, batches[1], 1)
}

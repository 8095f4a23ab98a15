package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, args map[string]any) (any, error) {
	return args["value"], nil
}

func TestRegisterAndDispatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{
		Name:        "echo",
		Description: "echoes a value",
		ArgSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"value": map[string]any{"type": "string"}},
			"required":   []string{"value"},
		},
		Invoke: echoHandler,
	}))

	out := r.Dispatch(context.Background(), "echo", json.RawMessage(`{"value":"hi"}`))
	assert.Equal(t, "hi", out)
}

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	out := r.Dispatch(context.Background(), "missing", json.RawMessage(`{}`))
	var doc map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc["error"], "missing")
}

func TestDispatchBadArgs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{
		Name: "strict",
		ArgSchema: map[string]any{
			"type":     "object",
			"required": []string{"value"},
		},
		Invoke: echoHandler,
	}))
	out := r.Dispatch(context.Background(), "strict", json.RawMessage(`{}`))
	var doc map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc["error"], "strict")
}

func TestDispatchHandlerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{
		Name: "fails",
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, assertErr{}
		},
	}))
	out := r.Dispatch(context.Background(), "fails", json.RawMessage(`{}`))
	var doc map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "boom", doc["error"])
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestUserActionStampsObjectResult(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{
		Name:       "purchase",
		UserAction: true,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"order_id": "o-1"}, nil
		},
	}))
	out := r.Dispatch(context.Background(), "purchase", json.RawMessage(`{}`))
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, true, doc["user_action"])
	assert.Equal(t, "o-1", doc["order_id"])
}

func TestUserActionWrapsScalarResult(t *testing.T) {
	r := NewRegistry()
	r.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, r.Register(Spec{
		Name:       "vote",
		UserAction: true,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			return "yes", nil
		},
	}))
	out := r.Dispatch(context.Background(), "vote", json.RawMessage(`{}`))
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, true, doc["user_action"])
	assert.Equal(t, "yes", doc["data"])
	assert.Equal(t, "tool", doc["source"])
	assert.Equal(t, "2026-01-01T00:00:00Z", doc["timestamp"])
}

func TestActionUnification(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterAction("crm", "create", "create a record", map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
	}, true, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"created": args["name"]}, nil
	}))
	require.NoError(t, r.RegisterAction("crm", "delete", "delete a record", map[string]any{
		"type":       "object",
		"properties": map[string]any{"id": map[string]any{"type": "string"}},
	}, true, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"deleted": args["id"]}, nil
	}))

	specs := r.List()
	require.Len(t, specs, 1)
	assert.Equal(t, "crm", specs[0].Name)
	assert.True(t, specs[0].UserAction)

	out := r.Dispatch(context.Background(), "crm", json.RawMessage(`{"action":"create","name":"acme"}`))
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "acme", doc["created"])

	out = r.Dispatch(context.Background(), "crm", json.RawMessage(`{"action":"unknown"}`))
	var errDoc map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &errDoc))
	assert.Contains(t, errDoc["error"], "unknown action")
}

func TestListIsSortedByName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "zeta", Invoke: echoHandler}))
	require.NoError(t, r.Register(Spec{Name: "alpha", Invoke: echoHandler}))
	specs := r.List()
	require.Len(t, specs, 2)
	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, "zeta", specs[1].Name)
}

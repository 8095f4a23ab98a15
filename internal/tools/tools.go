// Package tools implements the tool registry: tool metadata, JSON Schema
// argument validation, action-unification for datasource-derived tools, and
// the user_action stamping contract.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentcore/runtime/internal/toolerrors"
)

// Handler invokes a tool with decoded arguments and returns a result value.
// Non-error results are serialized to JSON text by the registry; the handler
// itself never touches wire formats.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Spec describes a single registered tool.
type Spec struct {
	// Name is the tool identifier as advertised to the model.
	Name string
	// Description is shown to the model alongside the schema.
	Description string
	// ArgSchema is the raw JSON Schema document for Args, compiled once at
	// registration time.
	ArgSchema map[string]any
	// Invoke executes the tool.
	Invoke Handler
	// UserAction marks tools that represent side-effectful intents rather
	// than retrievals (spec §4.1 "user_action flag").
	UserAction bool
}

// action is one method unified under a shared tool name (spec §4.1
// "Unification of actions").
type action struct {
	name     string
	schema   map[string]any
	compiled *jsonschema.Schema
	invoke   Handler
}

type registered struct {
	spec     Spec
	compiled *jsonschema.Schema // nil when unified (dispatch validates per-action instead)
	actions  map[string]*action // nil unless this tool is action-unified
}

// Registry holds the set of tools available to a single agent run.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered
	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// NewRegistry builds an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered), now: time.Now}
}

// Register compiles spec's schema and adds it to the registry. Calling
// Register again with the same Name replaces the earlier registration;
// action unification happens only through RegisterAction.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("tools: tool name is required")
	}
	if spec.Invoke == nil {
		return fmt.Errorf("tools: tool %q: invoke handler is required", spec.Name)
	}
	compiled, err := compileSchema(spec.ArgSchema)
	if err != nil {
		return fmt.Errorf("tools: tool %q: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[spec.Name] = &registered{spec: spec, compiled: compiled}
	return nil
}

// RegisterAction adds one method under a shared tool name. The actions of
// one name form a unified tool: the argument schema gains a required
// "action" discriminator plus the union of all parameters, each rendered
// optional, and dispatch routes by "action" (spec §4.1 "Unification of
// actions"). A plain Register'd spec under the same name is replaced, not
// merged in as an action.
func (r *Registry) RegisterAction(toolName, actionName string, description string, argSchema map[string]any, userAction bool, invoke Handler) error {
	if toolName == "" || actionName == "" {
		return fmt.Errorf("tools: tool and action name are required")
	}
	if invoke == nil {
		return fmt.Errorf("tools: tool %q action %q: invoke handler is required", toolName, actionName)
	}
	compiled, err := compileSchema(argSchema)
	if err != nil {
		return fmt.Errorf("tools: tool %q action %q: %w", toolName, actionName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.tools[toolName]
	if !ok || existing.actions == nil {
		existing = &registered{
			spec:    Spec{Name: toolName, Description: description, UserAction: userAction},
			actions: make(map[string]*action),
		}
		r.tools[toolName] = existing
	}
	existing.actions[actionName] = &action{name: actionName, schema: argSchema, compiled: compiled, invoke: invoke}
	if description != "" {
		existing.spec.Description = description
	}
	existing.spec.UserAction = existing.spec.UserAction || userAction
	existing.spec.ArgSchema = unifiedSchema(existing.actions)
	return nil
}

// List returns the advertised tool specs in a stable name order, suitable
// for a model.Request's Tools field.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Dispatch validates args against the tool's schema (or, for a unified
// tool, against the named action's schema) and invokes the handler. The
// returned string is the literal content to place on a Tool message: JSON
// text for non-string results, stamped with user_action when applicable,
// or a `{"error": "<message>"}` document when the tool itself fails
// (spec §4.1 "Result serialization").
func (r *Registry) Dispatch(ctx context.Context, name string, rawArgs json.RawMessage) string {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return errorContent(toolerrors.UnknownTool(name))
	}

	var args map[string]any
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorContent(toolerrors.BadArgs(name, err))
		}
	}

	handler, userAction, err := resolveHandler(reg, args)
	if err != nil {
		return errorContent(err)
	}

	result, err := handler(ctx, args)
	if err != nil {
		return errorContent(toolerrors.NewWithCause("", err))
	}
	return stampAndEncode(result, userAction, r.now())
}

func resolveHandler(reg *registered, args map[string]any) (Handler, bool, error) {
	if reg.actions == nil {
		if err := validateArgs(reg.compiled, args); err != nil {
			return nil, false, toolerrors.BadArgs(reg.spec.Name, err)
		}
		return reg.spec.Invoke, reg.spec.UserAction, nil
	}

	actionName, _ := args["action"].(string)
	act, ok := reg.actions[actionName]
	if !ok {
		names := make([]string, 0, len(reg.actions))
		for n := range reg.actions {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, false, toolerrors.Errorf("unknown action %q for tool %q: available actions: %v", actionName, reg.spec.Name, names)
	}
	if err := validateArgs(act.compiled, args); err != nil {
		return nil, false, toolerrors.BadArgs(reg.spec.Name+"."+actionName, err)
	}
	return act.invoke, reg.spec.UserAction, nil
}

func validateArgs(compiled *jsonschema.Schema, args map[string]any) error {
	if compiled == nil {
		return nil
	}
	doc := map[string]any(args)
	if doc == nil {
		doc = map[string]any{}
	}
	return compiled.Validate(doc)
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schema); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// unifiedSchema builds the discriminated-union schema described in spec
// §4.1: a required "action" enum plus every action's parameters rendered
// optional.
func unifiedSchema(actions map[string]*action) map[string]any {
	names := make([]string, 0, len(actions))
	for n := range actions {
		names = append(names, n)
	}
	sort.Strings(names)

	properties := map[string]any{
		"action": map[string]any{"type": "string", "enum": names},
	}
	for _, n := range names {
		act := actions[n]
		props, _ := act.schema["properties"].(map[string]any)
		for k, v := range props {
			properties[k] = v
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   []string{"action"},
	}
}

func errorContent(err error) string {
	data, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return `{"error":"tool error"}`
	}
	return string(data)
}

// stampAndEncode applies the user_action envelope (spec §4.1 "user_action
// flag") and serializes the result to JSON text.
func stampAndEncode(result any, userAction bool, now time.Time) string {
	if s, ok := result.(string); ok && !userAction {
		return s
	}

	if userAction {
		if obj, ok := asJSONObject(result); ok {
			obj["user_action"] = true
			data, err := json.Marshal(obj)
			if err == nil {
				return string(data)
			}
		} else {
			envelope := map[string]any{
				"user_action": true,
				"data":        result,
				"timestamp":   now.UTC().Format(time.RFC3339),
				"source":      "tool",
			}
			data, err := json.Marshal(envelope)
			if err == nil {
				return string(data)
			}
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return errorContent(fmt.Errorf("encode tool result: %w", err))
	}
	return string(data)
}

// asJSONObject reports whether result marshals to a JSON object and, if so,
// returns it decoded as a generic map so the caller can stamp a field onto
// it without losing the rest of the payload.
func asJSONObject(result any) (map[string]any, bool) {
	if m, ok := result.(map[string]any); ok {
		return m, true
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// Package session implements the public entry point over the agent loop:
// resolve or create a session, seed the turn, run the loop to completion,
// and project the result (spec §4.6).
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentcore/runtime/internal/agentloop"
	"github.com/agentcore/runtime/internal/agentstate"
	"github.com/agentcore/runtime/internal/checkpoint"
	"github.com/agentcore/runtime/internal/model"
)

// Result is the projection returned by Invoke (spec §4.6 "Return a
// projection").
type Result struct {
	SessionID   string
	Messages    []model.Message
	Response    string
	UserActions []agentstate.UserAction
}

// Facade is the public surface over one runtime: a system prompt, a
// checkpoint store, and an agent loop.
type Facade struct {
	systemPrompt string
	checkpoints  checkpoint.Store
	loop         *agentloop.Loop
}

// New builds a Facade. systemPrompt seeds every new session's transcript.
func New(systemPrompt string, checkpoints checkpoint.Store, loop *agentloop.Loop) *Facade {
	return &Facade{systemPrompt: systemPrompt, checkpoints: checkpoints, loop: loop}
}

// Invoke resolves sessionID (creating one if empty), runs the agent loop to
// completion, and returns the resulting projection (spec §4.6 steps 1-5).
//
// When query is empty and the loaded session is already mid-turn (a prior
// process persisted a checkpoint at some node other than terminated before
// crashing), Invoke resumes that turn in place: no User message is
// appended and the loop re-enters at its persisted node, continuing from
// wherever it left off rather than re-invoking the model or re-dispatching
// already-completed tool calls (spec §4.6 step 3 "Append a User message ...
// (absent on resume)", §8 scenario 6 "checkpoint resume"). When query is
// empty and the session is not mid-turn, there is nothing to resume and
// Invoke returns an error.
func (f *Facade) Invoke(ctx context.Context, query, sessionID, userID string) (Result, error) {
	resolvedID, err := f.checkpoints.CreateSession(ctx, userID, sessionID, time.Now())
	if err != nil {
		return Result{}, fmt.Errorf("session: create session: %w", err)
	}

	state, err := f.checkpoints.Get(ctx, resolvedID)
	existed := err == nil
	if errors.Is(err, checkpoint.ErrNotFound) {
		state = agentstate.New(resolvedID, model.NewSystemMessage(f.systemPrompt))
	} else if err != nil {
		return Result{}, fmt.Errorf("session: load state: %w", err)
	}

	switch {
	case query != "":
		state.Messages = append(state.Messages, model.NewUserMessage(query))
		beginNewTurn(state)
	case existed && isMidTurn(state):
		// Resume: leave Node, TransitionCount, and Messages untouched so the
		// loop continues the interrupted turn exactly where it stopped.
	default:
		return Result{}, fmt.Errorf("session: query is required to start a new turn")
	}

	out, err := f.loop.Run(ctx, state)
	if err != nil {
		return Result{}, fmt.Errorf("session: run agent loop: %w", err)
	}

	return Result{
		SessionID:   resolvedID,
		Messages:    out.Messages,
		Response:    out.TerminalText,
		UserActions: out.UserActions,
	}, nil
}

// CreateSession resolves or creates sessionID and persists a fresh,
// unstarted AgentState when none exists yet, without running the agent
// loop (spec §6 "POST /sessions" is a pure session-creation endpoint,
// distinct from POST /query).
func (f *Facade) CreateSession(ctx context.Context, sessionID, userID string) (string, error) {
	resolvedID, err := f.checkpoints.CreateSession(ctx, userID, sessionID, time.Now())
	if err != nil {
		return "", fmt.Errorf("session: create session: %w", err)
	}

	if _, err := f.checkpoints.Get(ctx, resolvedID); errors.Is(err, checkpoint.ErrNotFound) {
		state := agentstate.New(resolvedID, model.NewSystemMessage(f.systemPrompt))
		if err := f.checkpoints.Put(ctx, resolvedID, state); err != nil {
			return "", fmt.Errorf("session: persist initial state: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("session: load state: %w", err)
	}
	return resolvedID, nil
}

// isMidTurn reports whether state is parked mid-turn: it has started
// (Node is set) but has not reached terminated.
func isMidTurn(state *agentstate.State) bool {
	return state.Node != "" && state.Node != agentstate.NodeTerminated
}

// Messages returns the persisted transcript for sessionID without running
// the loop (used by the HTTP surface's GET /sessions/{id}/messages).
func (f *Facade) Messages(ctx context.Context, sessionID string) ([]model.Message, error) {
	state, err := f.checkpoints.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return state.Messages, nil
}

// Delete removes a session's checkpointed state.
func (f *Facade) Delete(ctx context.Context, sessionID string) error {
	return f.checkpoints.Delete(ctx, sessionID)
}

// beginNewTurn re-enters the loop's entry state for a new turn on a
// previously-terminated session (spec §4.5 "Entry state") and resets the
// per-turn recursion counter.
func beginNewTurn(state *agentstate.State) {
	if state.Node == agentstate.NodeTerminated || state.Node == "" {
		if state.ToolsBound {
			state.Node = agentstate.NodeModel
		} else {
			state.Node = agentstate.NodeBindTools
		}
	}
	state.TransitionCount = 0
}

// Package compaction implements the compaction engine: the bounded state
// machine that replaces an oversized tool result with a single synthetic
// Tool message (spec §4.4).
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentcore/runtime/internal/blobstore"
	"github.com/agentcore/runtime/internal/model"
	"github.com/agentcore/runtime/internal/tokenaccount"
)

const (
	// modeChunkTokens bounds the chunk fed to the mode-decision call
	// (spec §4.4.2).
	modeChunkTokens = 5000
	// maxSchemaIterations bounds the sequential-refinement loop
	// (spec §4.4.3): a pass runs while iteration_count is at most this
	// value, so up to maxSchemaIterations+1 passes run (counts 0,1,2,3).
	maxSchemaIterations = 3
	// maxSummarizeBatch bounds parallel fan-out within one batch
	// (spec §4.4.4 "batches of up to 8").
	maxSummarizeBatch = 8
)

// Mode is the compaction strategy chosen by the decision call.
type Mode string

const (
	ModeSchema    Mode = "schema"
	ModeSummarize Mode = "summarize"
)

// Engine runs the compaction state machine.
type Engine struct {
	model      model.Client
	accountant *tokenaccount.Accountant
	blobs      blobstore.Store
}

// New builds a compaction Engine. client serves every model call the
// engine makes (decision, reduction, summarizer, batch-merger,
// final-merge) — spec §4.4.2-4 all route through the same provider-agnostic
// model.Client seam.
func New(client model.Client, accountant *tokenaccount.Accountant, blobs blobstore.Store) *Engine {
	return &Engine{model: client, accountant: accountant, blobs: blobs}
}

type decision struct {
	Mode        Mode     `json:"mode"`
	Reasoning   string   `json:"reasoning"`
	Suggestions []string `json:"suggestions"`
}

type schemaRefinement struct {
	Format string              `json:"format"`
	Schema map[string]any      `json:"schema"`
	Enums  map[string][]string `json:"enums"`
}

// State is the scratch state of one Compaction Engine invocation. It is
// transient: owned exclusively by a single Compact call and discarded once
// the replacement Tool message is emitted, unlike the agent loop's
// checkpointed AgentState.
type State struct {
	PendingChunks   []string
	CurrentChunk    string
	ParallelBatches [][]string
	PartialSchemas  []map[string]any
	Summaries       []string
	FinalSchema     map[string]any
	FinalSummary    string
	Mode            Mode
	ReasonContext   string
	Suggestions     []string
	IterationCount  int
}

// Compact runs the engine against one oversized tool result and returns the
// replacement Tool message, carrying the original ToolCallID (spec §4.4.5
// "Contract"). assistant is the prior Assistant message that emitted the
// triggering tool call; toolMsg is the oversized Tool message.
func (e *Engine) Compact(ctx context.Context, assistant model.Message, toolMsg model.Message) (model.Message, error) {
	st := &State{
		ReasonContext: extractReasonContext(assistant, toolMsg.ToolCallID),
		PendingChunks: e.accountant.Chunk(toolMsg.Text, modeChunkTokens),
	}
	if len(st.PendingChunks) == 0 {
		return model.NewToolMessage(toolMsg.ToolCallID, toolMsg.Text), nil
	}
	st.CurrentChunk = st.PendingChunks[0]

	dec, err := e.decideMode(ctx, st.ReasonContext, st.CurrentChunk)
	if err != nil {
		return model.Message{}, fmt.Errorf("compaction: mode decision: %w", err)
	}
	st.Mode = dec.Mode
	st.Suggestions = dec.Suggestions

	var content string
	switch st.Mode {
	case ModeSchema:
		content, err = e.runSchemaBranch(ctx, st, toolMsg.Text)
	default:
		content, err = e.runSummarizeBranch(ctx, st)
	}
	if err != nil {
		return model.Message{}, err
	}

	content = e.enforceShrinkInvariant(content, toolMsg.Text)
	return model.NewToolMessage(toolMsg.ToolCallID, content), nil
}

// extractReasonContext implements spec §4.4.1: find the tool call on
// assistant matching toolCallID and return its "reason" argument, or "" if
// absent or no match.
func extractReasonContext(assistant model.Message, toolCallID string) string {
	for _, tc := range assistant.ToolCalls {
		if tc.ID == toolCallID {
			return tc.Reason()
		}
	}
	return ""
}

func (e *Engine) decideMode(ctx context.Context, reasonContext, firstChunk string) (*decision, error) {
	prompt := fmt.Sprintf(
		"You are deciding how to compact an oversized tool result.\n"+
			"Reason for the original call: %q\n\n"+
			"First chunk of the content:\n%s\n\n"+
			"Choose schema when downstream use implies programmatic examination "+
			"(executing code against the data, computing aggregates). Choose "+
			"summarize when the goal is narrative insight, ranking, or listing "+
			"in human prose.\n\n"+
			"Respond with compact JSON: {\"mode\":\"schema\"|\"summarize\",\"reasoning\":string,\"suggestions\":[string]}.",
		reasonContext, firstChunk,
	)
	resp, err := e.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var out decision
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return nil, fmt.Errorf("decode mode decision: %w", err)
	}
	if out.Mode != ModeSchema {
		out.Mode = ModeSummarize
	}
	return &out, nil
}

// runSchemaBranch implements spec §4.4.3: sequential refinement over
// st.PendingChunks, bounded to maxSchemaIterations, then a mandatory blob
// upload of the raw content. Upload failure is fatal for this branch.
func (e *Engine) runSchemaBranch(ctx context.Context, st *State, rawContent string) (string, error) {
	for len(st.PendingChunks) > 0 && st.IterationCount <= maxSchemaIterations {
		st.CurrentChunk, st.PendingChunks = st.PendingChunks[0], st.PendingChunks[1:]

		previous := map[string]any{}
		if len(st.PartialSchemas) > 0 {
			previous = st.PartialSchemas[len(st.PartialSchemas)-1]
		}
		refined, err := e.refineSchema(ctx, st.CurrentChunk, previous)
		if err != nil {
			return "", fmt.Errorf("compaction: schema refinement: %w", err)
		}
		st.PartialSchemas = append(st.PartialSchemas, refined.Schema)
		st.IterationCount++
	}
	if len(st.PartialSchemas) == 0 {
		return "", fmt.Errorf("compaction: schema branch produced no refinements")
	}
	st.FinalSchema = st.PartialSchemas[len(st.PartialSchemas)-1]

	key := "compaction/" + strconv.FormatInt(int64(len(rawContent)), 10) + "-schema.json"
	url, err := e.blobs.Upload(ctx, key, []byte(rawContent))
	if err != nil {
		// Upload failure is fatal for the schema branch (spec §4.4.3): the
		// model must never see a schema without its data_uri.
		return "", fmt.Errorf("compaction: blob upload failed, schema branch aborted: %w", err)
	}

	data, err := json.Marshal(map[string]any{
		"data_schema": st.FinalSchema,
		"data_uri":    url,
	})
	if err != nil {
		return "", fmt.Errorf("compaction: encode schema result: %w", err)
	}
	return string(data), nil
}

func (e *Engine) refineSchema(ctx context.Context, chunk string, previous map[string]any) (*schemaRefinement, error) {
	prevJSON, _ := json.Marshal(previous)
	prompt := fmt.Sprintf(
		"Infer a structural schema for this data chunk, refining the previous "+
			"schema rather than starting over.\n\nPrevious schema:\n%s\n\n"+
			"Chunk:\n%s\n\n"+
			"Respond with compact JSON: "+
			"{\"format\":string,\"schema\":object,\"enums\":{field:[values]}}.",
		string(prevJSON), chunk,
	)
	resp, err := e.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var out schemaRefinement
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return nil, fmt.Errorf("decode schema refinement: %w", err)
	}
	return &out, nil
}

// runSummarizeBranch implements spec §4.4.4: parallel map-reduce over
// batches of up to maxSummarizeBatch chunks, followed by a final merge.
// Per-chunk or per-batch failures degrade to an inline error string rather
// than aborting the engine.
func (e *Engine) runSummarizeBranch(ctx context.Context, st *State) (string, error) {
	st.ParallelBatches = partitionBatches(st.PendingChunks, maxSummarizeBatch)
	st.Summaries = make([]string, len(st.ParallelBatches))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range st.ParallelBatches {
		i, batch := i, batch
		g.Go(func() error {
			st.Summaries[i] = e.summarizeBatch(gctx, batch, st.ReasonContext, st.Suggestions)
			return nil
		})
	}
	// Errors are never returned by the goroutines above (see
	// summarizeBatch), so Wait returns nil once every batch has finished.
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("compaction: summarize branch: %w", err)
	}

	final, err := e.finalMerge(ctx, st.Summaries, st.ReasonContext, st.Suggestions)
	if err != nil {
		return "", fmt.Errorf("compaction: final merge: %w", err)
	}
	st.FinalSummary = final

	data, err := json.Marshal(map[string]any{
		"processing_mode": string(ModeSummarize),
		"summary":         st.FinalSummary,
	})
	if err != nil {
		return st.FinalSummary, nil //nolint:nilerr // degrade to raw text rather than fail a completed summary
	}
	return string(data), nil
}

// summarizeBatch maps the summarizer model over batch in parallel, then
// reduces the partial summaries with a batch-merger call. It never returns
// an error: any model failure degrades into the batch's summary text per
// spec §4.4.4 "Failure policy".
func (e *Engine) summarizeBatch(ctx context.Context, batch []string, reasonContext string, suggestions []string) string {
	partials := make([]string, len(batch))
	var wg sync.WaitGroup
	for i, chunk := range batch {
		wg.Add(1)
		go func(i int, chunk string) {
			defer wg.Done()
			partials[i] = e.summarizeChunk(ctx, chunk, reasonContext, suggestions)
		}(i, chunk)
	}
	wg.Wait()

	merged, err := e.mergeBatch(ctx, partials)
	if err != nil {
		return fmt.Sprintf("Error merging summaries: %s", err.Error())
	}
	return merged
}

func (e *Engine) summarizeChunk(ctx context.Context, chunk, reasonContext string, suggestions []string) string {
	prompt := fmt.Sprintf(
		"Summarize this data chunk for later merging. Preserve numeric values "+
			"exactly; draw no conclusions yet.\n\nReason for the original call: %q\n"+
			"Hints: %v\n\nChunk:\n%s",
		reasonContext, suggestions, chunk,
	)
	resp, err := e.complete(ctx, prompt)
	if err != nil {
		return fmt.Sprintf("Error merging summaries: %s", err.Error())
	}
	return resp
}

func (e *Engine) mergeBatch(ctx context.Context, partials []string) (string, error) {
	prompt := "Merge these partial summaries into one intermediate summary. " +
		"Preserve numeric values exactly; draw no conclusions.\n\n" + joinNumbered(partials)
	return e.complete(ctx, prompt)
}

func (e *Engine) finalMerge(ctx context.Context, summaries []string, reasonContext string, suggestions []string) (string, error) {
	prompt := fmt.Sprintf(
		"Produce a comprehensive final summary from these batch summaries. "+
			"Preserve numeric values exactly. Use the original call's reason and "+
			"the suggested hints to structure the result.\n\n"+
			"Reason for the original call: %q\nHints: %v\n\n%s",
		reasonContext, suggestions, joinNumbered(summaries),
	)
	return e.complete(ctx, prompt)
}

func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := e.model.Complete(ctx, &model.Request{
		Messages: []model.Message{model.NewUserMessage(prompt)},
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Text, nil
}

// enforceShrinkInvariant asserts estimate(new) < estimate(original) (spec
// §4.4.5). On violation it degrades to a length-truncated summary rather
// than risk amplifying the context.
func (e *Engine) enforceShrinkInvariant(content, original string) string {
	if e.accountant.Estimate(content) < e.accountant.Estimate(original) {
		return content
	}
	truncated := e.accountant.Chunk(content, modeChunkTokens/4)
	if len(truncated) == 0 {
		return content
	}
	return truncated[0]
}

func partitionBatches(chunks []string, size int) [][]string {
	if size <= 0 {
		size = len(chunks)
	}
	var out [][]string
	for i := 0; i < len(chunks); i += size {
		end := i + size
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[i:end])
	}
	return out
}

func joinNumbered(items []string) string {
	var b []byte
	for i, s := range items {
		b = append(b, []byte(fmt.Sprintf("Summary %d:\n%s\n\n", i+1, s))...)
	}
	return string(b)
}

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"scholar/pkg/llm"
	"scholar/pkg/monitor"
	"scholar/pkg/sources"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//----------------------------------------------------------------
// Result - outcome of one tool call
//----------------------------------------------------------------

// Result is the executor's verdict on one tool call. Exactly one Result
// exists per requested call; a failed call still yields a Result so the
// model always hears back.
type Result struct {
	CallID   string
	ToolName string
	OK       bool
	Payload  map[string]any // success payload, nil on failure
	Reason   string         // failure reason, empty on success
	Duration time.Duration
}

// Success builds a successful Result for a call.
func Success(call llm.ToolCall, payload map[string]any) Result {
	return Result{
		CallID:   call.ID,
		ToolName: call.Name,
		OK:       true,
		Payload:  payload,
	}
}

// Failure builds a failed Result for a call.
func Failure(call llm.ToolCall, reason string) Result {
	return Result{
		CallID:   call.ID,
		ToolName: call.Name,
		Reason:   reason,
	}
}

// Envelope renders the JSON the model receives as the tool message body.
func (r Result) Envelope() string {
	if r.OK {
		b, err := json.Marshal(map[string]any{"success": true, "data": r.Payload})
		if err != nil {
			return `{"success": false, "error": "failed to encode tool result"}`
		}
		return string(b)
	}

	b, err := json.Marshal(map[string]any{"success": false, "error": r.Reason})
	if err != nil {
		return `{"success": false, "error": "tool execution failed"}`
	}
	return string(b)
}

//----------------------------------------------------------------
// Executor - validated, recovered, concurrent dispatch
//----------------------------------------------------------------

// Executor dispatches tool calls against a Registry. It validates arguments
// before invoking a handler, converts handler faults (errors and panics)
// into Failure results, and folds citation material out of successful
// payloads into the turn's source aggregator.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute runs one tool call to completion. It never returns a raw fault:
// every outcome is a Result.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall, agg *sources.Aggregator) Result {
	start := time.Now()

	entry, ok := e.registry.lookup(call.Name)
	if !ok {
		slog.Error("Unknown tool call", "name", call.Name, "call_id", call.ID)
		monitor.ObserveToolExecution(call.Name, "unknown_tool", time.Since(start).Seconds())
		r := Failure(call, fmt.Sprintf("unknown_tool: function %q is not registered", call.Name))
		r.Duration = time.Since(start)
		return r
	}

	argsMap, reason := e.decodeAndValidate(entry.validator, call.Function.Arguments)
	if reason != "" {
		slog.Warn("Tool arguments rejected", "name", call.Name, "call_id", call.ID, "reason", reason)
		monitor.ObserveToolExecution(call.Name, "invalid_arguments", time.Since(start).Seconds())
		r := Failure(call, reason)
		r.Duration = time.Since(start)
		return r
	}

	slog.Info("🛠️ Executing tool", "name", call.Name, "call_id", call.ID)

	toolResult, err := invoke(ctx, entry.tool, argsMap)
	duration := time.Since(start)

	if err != nil {
		outcome := "failed"
		if strings.HasPrefix(err.Error(), "tool panicked") {
			outcome = "panicked"
		}
		slog.Error("Tool execution failed", "name", call.Name, "call_id", call.ID, "error", err, "duration", duration.String())
		monitor.ObserveToolExecution(call.Name, outcome, duration.Seconds())
		r := Failure(call, fmt.Sprintf("Function execution failed: %v", err))
		r.Duration = duration
		return r
	}

	var payload map[string]any
	if toolResult != nil {
		payload = toolResult.Payload
	}
	if payload == nil {
		payload = map[string]any{}
	}

	foldSources(agg, payload)

	slog.Info("✅ Tool finished", "name", call.Name, "call_id", call.ID, "duration", duration.String())
	monitor.ObserveToolExecution(call.Name, "ok", duration.Seconds())

	r := Success(call, payload)
	r.Duration = duration
	return r
}

// ExecuteAll fans the calls of one round out to goroutines and collects
// results by index, so the returned slice is in request order no matter
// which call finishes first.
func (e *Executor) ExecuteAll(ctx context.Context, calls []llm.ToolCall, agg *sources.Aggregator) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, c, agg)
		}(i, call)
	}
	wg.Wait()

	return results
}

// decodeAndValidate parses the raw argument JSON and checks it against the
// tool's compiled schema. An empty argument string counts as an empty object.
// Returns the decoded map and an empty reason on success.
func (e *Executor) decodeAndValidate(validator *jsonschema.Schema, raw string) (map[string]any, string) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}

	var argsMap map[string]any
	if err := json.Unmarshal([]byte(raw), &argsMap); err != nil {
		return nil, fmt.Sprintf("invalid_arguments: malformed JSON: %v", err)
	}

	if validator != nil {
		instance, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Sprintf("invalid_arguments: %v", err)
		}
		if err := validator.Validate(instance); err != nil {
			return nil, fmt.Sprintf("invalid_arguments: %v", err)
		}
	}

	return argsMap, ""
}

// invoke runs the handler with panic containment.
func invoke(ctx context.Context, tool Tool, args map[string]any) (result *ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return tool.Execute(ctx, args)
}

//----------------------------------------------------------------
// Citation folding
//----------------------------------------------------------------

// foldSources extracts the recognized citation fields from a successful
// payload into the aggregator: "sources" (document names), "results[].url"
// (web pages), and "chart_base64"/"chart_data.chart_base64" (charts).
func foldSources(agg *sources.Aggregator, payload map[string]any) {
	if agg == nil {
		return
	}

	for _, name := range stringSlice(payload["sources"]) {
		agg.RecordDocument(name)
	}

	if results, ok := payload["results"].([]any); ok {
		for _, entry := range results {
			if m, ok := entry.(map[string]any); ok {
				if url, ok := m["url"].(string); ok {
					agg.RecordWeb(url)
				}
			}
		}
	}
	if results, ok := payload["results"].([]map[string]any); ok {
		for _, m := range results {
			if url, ok := m["url"].(string); ok {
				agg.RecordWeb(url)
			}
		}
	}

	title, _ := payload["title"].(string)
	if b64, ok := payload["chart_base64"].(string); ok {
		agg.RecordChart(title, b64)
	}
	if chartData, ok := payload["chart_data"].(map[string]any); ok {
		if b64, ok := chartData["chart_base64"].(string); ok {
			agg.RecordChart(title, b64)
		}
	}
}

// stringSlice coerces []string and []any-of-string payload fields.
func stringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, entry := range val {
			if s, ok := entry.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// Package agent implements the research engine: the bounded tool-calling
// loop that turns a user question into a streamed, source-cited answer.
//
// One turn runs in phases. The engine first calls the model in blocking
// mode so tool requests can be inspected before anything reaches the user.
// Each round of requested tools is executed concurrently, the results are
// appended to the conversation, and the model is consulted again. When the
// model stops asking for tools (or the round budget runs out) the engine
// switches to a streaming call without tool schemas and forwards the final
// answer to the channel as it is generated, followed by the tools/sources
// footer and any rendered charts.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"scholar/pkg/api"
	"scholar/pkg/config"
	"scholar/pkg/llm"
	"scholar/pkg/monitor"
	"scholar/pkg/research"
	"scholar/pkg/sources"
	"scholar/pkg/tools"
	"scholar/pkg/utils"
)

// Engine drives research turns. It satisfies api.AgentEngine: the gateway
// feeds it unified messages and it replies through the injected responder.
type Engine struct {
	client    llm.LLMClient
	responder api.MessageResponder
	appCfg    *config.Config
	sysCfg    *config.SystemConfig
	registry  *tools.Registry
	executor  *tools.Executor
	sessions  *llm.SessionManager
}

// NewEngine wires a research engine around the given model client and
// session store. Tools are added afterwards via RegisterTool.
func NewEngine(client llm.LLMClient, appCfg *config.Config, sysCfg *config.SystemConfig, sessions *llm.SessionManager) *Engine {
	registry := tools.NewRegistry()
	return &Engine{
		client:   client,
		appCfg:   appCfg,
		sysCfg:   sysCfg,
		registry: registry,
		executor: tools.NewExecutor(registry),
		sessions: sessions,
	}
}

// SetResponder sets the reply surface. Must be called before OnMessage.
func (e *Engine) SetResponder(responder api.MessageResponder) {
	e.responder = responder
}

// RegisterTool adds capabilities to the engine's registry, preserving order.
func (e *Engine) RegisterTool(tl ...api.Tool) error {
	for _, tool := range tl {
		if err := e.registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the tool inventory for read-only consumers (web UI, MCP).
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// Executor exposes the tool executor so sidecars (MCP) can run tools with
// the same validation and timeout rules as the engine itself.
func (e *Engine) Executor() *tools.Executor {
	return e.executor
}

//----------------------------------------------------------------
// Message entry point
//----------------------------------------------------------------

// OnMessage handles one incoming user message end to end: history load,
// slash commands, the research turn itself, and persistence of the result.
func (e *Engine) OnMessage(msg *api.UnifiedMessage) {
	if msg.DebugID == "" {
		msg.DebugID = utils.GenerateID()[:8]
	}
	ctx := context.WithValue(context.Background(), llm.DebugDirContextKey, msg.DebugID)

	sessionKey := msg.Session.SessionKey()
	slog.Info("💬 Message received",
		"session", sessionKey,
		"user", msg.Session.Username,
		"length", len(msg.Content),
		"files", len(msg.Files),
		"debug_id", msg.DebugID)

	history, err := e.sessions.GetHistory(ctx, sessionKey)
	if err != nil {
		slog.Error("❌ Failed to load session history", "session", sessionKey, "error", err)
		e.reply(msg.Session, "❌ Failed to load conversation history. Please try again.")
		return
	}
	history.EnsureSystemMessage(e.systemPrompt())

	if strings.HasPrefix(msg.Content, "/") {
		if e.handleSlashCommand(ctx, msg, sessionKey) {
			return
		}
		// /notools falls through with the prefix stripped
	}

	userMsg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleUser,
		Timestamp: time.Now().Unix(),
	}
	if msg.Content != "" {
		userMsg.AddContentBlock(llm.NewTextBlock(msg.Content))
	}
	for _, file := range msg.Files {
		mimeType := file.MimeType
		if mimeType == "" {
			// Browsers don't always send a type; sniff before rejecting.
			if file.Path != "" {
				mimeType, _ = utils.DetectFileMimeAndExt(file.Path)
			} else {
				mimeType, _ = utils.DetectMimeAndExt(file.Data)
			}
		}
		if !strings.HasPrefix(mimeType, "image/") {
			slog.Warn("⚠️ Skipping unsupported attachment", "filename", file.Filename, "mime", mimeType)
			continue
		}
		if file.Path != "" {
			userMsg.AddContentBlock(llm.NewImageBlockFromFile(file.Path, mimeType))
		} else if len(file.Data) > 0 {
			userMsg.AddContentBlock(llm.NewImageBlock(file.Data, mimeType))
		}
	}
	if len(userMsg.Content) == 0 {
		e.reply(msg.Session, "❌ Empty message. Please send a question.")
		return
	}

	history.Add(userMsg)
	history.EnsureTitle(msg.Content)
	e.saveSession(ctx, sessionKey)

	answer := e.RunTurn(ctx, msg, history)

	if len(answer.Content) > 0 {
		history.Add(answer)
		e.saveSession(ctx, sessionKey)
	}
}

// systemPrompt returns the configured persona, falling back to the built-in
// research assistant prompt.
func (e *Engine) systemPrompt() string {
	if e.appCfg != nil && e.appCfg.SystemPrompt != "" {
		return e.appCfg.SystemPrompt
	}
	return research.SystemPrompt
}

func (e *Engine) saveSession(ctx context.Context, sessionKey string) {
	if err := e.sessions.SaveSession(ctx, sessionKey); err != nil {
		slog.Error("❌ Failed to save session", "session", sessionKey, "error", err)
	}
}

func (e *Engine) reply(session api.SessionContext, text string) {
	if err := e.responder.SendReply(session, text); err != nil {
		slog.Error("❌ Failed to send reply", "session", session.SessionKey(), "error", err)
	}
}

//----------------------------------------------------------------
// Slash commands
//----------------------------------------------------------------

// handleSlashCommand processes commands. It returns true when the message
// was fully handled and the turn should not proceed. "/notools" is special:
// it mutates the message and lets the normal turn continue.
func (e *Engine) handleSlashCommand(ctx context.Context, msg *api.UnifiedMessage, sessionKey string) bool {
	trimmed := strings.TrimPrefix(msg.Content, "/")
	parts := strings.SplitN(trimmed, " ", 2)
	command := parts[0]
	rest := ""
	if len(parts) > 1 {
		rest = strings.TrimSpace(parts[1])
	}

	switch command {
	case "notools":
		if rest == "" {
			e.reply(msg.Session, "❌ Usage: /notools <question>")
			return true
		}
		slog.Info("🛠️ Tool-free turn requested", "session", sessionKey)
		msg.NoTools = true
		msg.Content = rest
		return false

	case "clear":
		if err := e.sessions.DropSession(ctx, sessionKey); err != nil {
			slog.Error("❌ Failed to clear session", "session", sessionKey, "error", err)
			e.reply(msg.Session, "❌ Failed to clear the conversation.")
			return true
		}
		e.reply(msg.Session, "🧹 Conversation cleared.")
		return true

	case "tools":
		if e.registry.Len() == 0 {
			e.reply(msg.Session, "🧰 No tools registered.")
			return true
		}
		var sb strings.Builder
		sb.WriteString("🧰 **Available tools:**\n")
		for _, tool := range e.registry.Tools() {
			fmt.Fprintf(&sb, "\n- **%s** (`%s`): %s", research.FriendlyName(tool.Name()), tool.Name(), tool.Description())
		}
		e.reply(msg.Session, sb.String())
		return true

	default:
		// "/<tool_name> {json args}" executes a registered tool directly.
		if _, err := e.registry.Resolve(command); err != nil {
			e.reply(msg.Session, fmt.Sprintf("❌ Unknown command or tool: %s", command))
			return true
		}
		args := rest
		if args == "" {
			args = "{}"
		}
		slog.Info("🛠️ Manual tool execution", "session", sessionKey, "tool", command)
		result := e.executor.Execute(ctx, llm.ToolCall{
			ID:       "manual_" + utils.GenerateID()[:8],
			Name:     command,
			Function: llm.FunctionCall{Name: command, Arguments: args},
		}, sources.NewAggregator())
		e.reply(msg.Session, "```json\n"+result.Envelope()+"\n```")
		return true
	}
}

//----------------------------------------------------------------
// The research turn
//----------------------------------------------------------------

// RunTurn executes the bounded tool-calling loop for one user message and
// returns the final assistant message (without the footer) for persistence.
// Everything user-visible is streamed through the responder as it happens.
func (e *Engine) RunTurn(ctx context.Context, msg *api.UnifiedMessage, history *llm.ChatHistory) llm.Message {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(e.sysCfg.LLMTimeoutMs)*time.Millisecond)
	defer cancel()

	blockCh := make(chan llm.ContentBlock, e.sysCfg.InternalChannelBuffer)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := e.responder.StreamReply(msg.Session, blockCh); err != nil {
			slog.ErrorContext(runCtx, "❌ Failed to stream reply", "session", msg.Session.SessionKey(), "error", err)
			// Drain so the producing side never blocks on a dead consumer.
			for range blockCh {
			}
		}
	}()
	closed := false
	finishStream := func() {
		if !closed {
			closed = true
			close(blockCh)
			<-streamDone
		}
	}
	defer finishStream()

	var schemas []llm.ToolSchema
	if e.sysCfg.EnableTools && !msg.NoTools {
		schemas = e.registry.Schemas()
	}

	maxRounds := e.sysCfg.MaxToolRounds
	if maxRounds < 1 {
		maxRounds = 1
	}

	agg := sources.NewAggregator()
	var toolsUsed []string
	seen := make(map[string]bool)
	var directAnswer *llm.Completion
	rounds := 0
	degraded := false

	for round := 1; round <= maxRounds; round++ {
		completion, err := e.completeRound(runCtx, history.GetMessages(), schemas)
		if err != nil {
			monitor.ObserveTurn("fatal", rounds)
			return e.failTurn(runCtx, blockCh, err)
		}
		rounds = round

		if len(completion.ToolCalls) == 0 {
			directAnswer = completion
			break
		}

		names := make([]string, len(completion.ToolCalls))
		for i, call := range completion.ToolCalls {
			names[i] = call.Name
		}
		slog.InfoContext(runCtx, "🔄 Tool round", "round", round, "tools", names)

		history.Add(llm.Message{
			ID:        utils.GenerateID(),
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
			Timestamp: time.Now().Unix(),
			Usage:     completion.Usage,
		})

		for _, call := range completion.ToolCalls {
			e.signal(msg.Session, "tool:"+call.Name)
			if !seen[call.Name] {
				seen[call.Name] = true
				toolsUsed = append(toolsUsed, call.Name)
			}
		}

		results := e.executor.ExecuteAll(runCtx, completion.ToolCalls, agg)
		for _, res := range results {
			history.Add(llm.NewToolMessage(res.CallID, res.ToolName, res.Envelope()))
		}
		e.saveSession(runCtx, msg.Session.SessionKey())

		if runCtx.Err() != nil {
			monitor.ObserveTurn("fatal", rounds)
			return e.failTurn(runCtx, blockCh, runCtx.Err())
		}

		if round == maxRounds {
			degraded = true
			slog.WarnContext(runCtx, "⚠️ Tool round limit reached, forcing final answer", "rounds", maxRounds)
		}
	}

	var answer llm.Message
	if directAnswer != nil && rounds == 1 {
		// Plain answer on the first exchange: no second model call.
		answer = e.emitDirect(directAnswer, blockCh)
	} else {
		var err error
		answer, err = e.streamFinal(runCtx, msg.Session, history, blockCh)
		if err != nil {
			monitor.ObserveTurn("fatal", rounds)
			return e.failTurn(runCtx, blockCh, err)
		}
	}

	if strings.TrimSpace(answer.GetTextContent()) == "" {
		fallback := llm.NewTextBlock("I was unable to put together a complete answer this time. Please try again or rephrase the question.")
		answer.AddContentBlock(fallback)
		blockCh <- fallback
	}

	if footer := footerText(toolsUsed, agg); footer != "" {
		blockCh <- llm.NewTextBlock(footer)
	}
	for _, chart := range agg.Charts() {
		data, err := utils.Base64Decode(chart.PNG)
		if err != nil {
			slog.WarnContext(runCtx, "⚠️ Dropping undecodable chart", "title", chart.Title, "error", err)
			continue
		}
		block := llm.NewImageBlock(data, "image/png")
		answer.AddContentBlock(block)
		blockCh <- block
	}
	finishStream()

	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	monitor.ObserveTurn(outcome, rounds)
	slog.InfoContext(runCtx, "✅ Turn complete",
		"session", msg.Session.SessionKey(),
		"rounds", rounds,
		"tools_used", toolsUsed,
		"outcome", outcome)
	return answer
}

// completeRound performs one blocking model call, retrying transient
// failures and empty responses up to MaxRetries times.
func (e *Engine) completeRound(ctx context.Context, messages []llm.Message, schemas []llm.ToolSchema) (*llm.Completion, error) {
	maxRetries := e.sysCfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		completion, err := e.client.Complete(ctx, messages, schemas)
		if err == nil {
			if len(completion.ToolCalls) > 0 || strings.TrimSpace(completion.GetTextContent()) != "" {
				return completion, nil
			}
			lastErr = errors.New("model returned an empty response")
		} else {
			lastErr = err
			if !e.client.IsTransientError(err) {
				return nil, err
			}
		}

		if attempt == maxRetries {
			break
		}
		slog.WarnContext(ctx, "⚠️ Abnormal model response, retrying",
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(e.sysCfg.RetryDelayMs) * time.Millisecond):
		}
	}
	return nil, lastErr
}

// failTurn emits exactly one error block and returns an empty message so the
// caller skips persistence; prior history stays intact for a retry.
func (e *Engine) failTurn(ctx context.Context, blockCh chan<- llm.ContentBlock, err error) llm.Message {
	slog.ErrorContext(ctx, "❌ Research turn failed", "error", err)
	text := fmt.Sprintf("❌ Model service unavailable: %v", err)
	if errors.Is(err, context.DeadlineExceeded) {
		text = "❌ The request timed out before an answer could be produced."
	}
	blockCh <- llm.NewErrorBlock(text)
	return llm.Message{}
}

// emitDirect forwards a non-streaming completion as the final answer. Used
// on the fast path where the model answered without requesting any tools.
func (e *Engine) emitDirect(completion *llm.Completion, blockCh chan<- llm.ContentBlock) llm.Message {
	answer := llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleAssistant,
		Timestamp: time.Now().Unix(),
		Usage:     completion.Usage,
	}
	for _, block := range completion.Content {
		switch block.Type {
		case llm.BlockTypeThinking:
			if e.sysCfg.ShowThinking {
				blockCh <- block
			}
		default:
			answer.AddContentBlock(block)
			blockCh <- block
		}
		monitor.StreamChunksTotal.Inc()
	}
	return answer
}

// streamFinal performs the final synthesis: a fresh streaming call with
// tool schemas withheld, so the model must answer from the tool results
// already in the conversation. Length-truncated output is continued
// automatically up to MaxContinuations times.
func (e *Engine) streamFinal(ctx context.Context, session api.SessionContext, history *llm.ChatHistory, blockCh chan<- llm.ContentBlock) (llm.Message, error) {
	answer := llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleAssistant,
		Timestamp: time.Now().Unix(),
	}

	messages := history.GetMessages()
	continues := 0
	for {
		chunkCh, err := e.client.StreamChat(ctx, messages, nil)
		if err != nil {
			return answer, err
		}

		stopReason, err := e.collectStream(ctx, session, chunkCh, &answer, blockCh)
		if err != nil {
			return answer, err
		}

		if stopReason == llm.StopReasonLength && continues < e.sysCfg.MaxContinuations {
			continues++
			slog.InfoContext(ctx, "📝 Continuing truncated response",
				"continuation", continues,
				"max", e.sysCfg.MaxContinuations)
			// Seed the continuation with the text so far; history itself
			// keeps only the single final message.
			partial := llm.NewAssistantMessage(answer.GetTextContent())
			messages = append(history.GetMessages(), partial)
			continue
		}
		return answer, nil
	}
}

// collectStream drains one model stream into the answer message and the
// outgoing block channel. A "thinking" signal goes out if the first chunk
// takes longer than ThinkingInitDelayMs to arrive.
func (e *Engine) collectStream(ctx context.Context, session api.SessionContext, chunkCh <-chan llm.StreamChunk, answer *llm.Message, blockCh chan<- llm.ContentBlock) (string, error) {
	timer := time.NewTimer(time.Duration(e.sysCfg.ThinkingInitDelayMs) * time.Millisecond)
	defer timer.Stop()
	timerChan := timer.C

	stopReason := ""
	for {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				return stopReason, nil
			}
			if timerChan != nil {
				timer.Stop()
				timerChan = nil
			}
			if chunk.RawError != nil {
				return stopReason, chunk.RawError
			}
			for _, block := range chunk.ContentBlocks {
				switch block.Type {
				case llm.BlockTypeThinking:
					if e.sysCfg.ShowThinking {
						blockCh <- block
					}
				default:
					answer.AddContentBlock(block)
					blockCh <- block
				}
				monitor.StreamChunksTotal.Inc()
			}
			if chunk.Usage != nil {
				if answer.Usage == nil {
					usage := *chunk.Usage
					answer.Usage = &usage
				} else {
					answer.Usage.Add(chunk.Usage)
				}
			}
			if chunk.IsFinal {
				if chunk.FinishReason != "" {
					stopReason = chunk.FinishReason
				}
				return stopReason, nil
			}

		case <-timerChan:
			e.signal(session, "thinking")
			timerChan = nil

		case <-ctx.Done():
			return stopReason, ctx.Err()
		}
	}
}

func (e *Engine) signal(session api.SessionContext, signal string) {
	if err := e.responder.SendSignal(session, signal); err != nil {
		slog.Debug("Signal delivery failed", "session", session.SessionKey(), "signal", signal, "error", err)
	}
}

// footerText renders the tools/sources footer appended after the answer.
// Empty when no tools ran.
func footerText(toolsUsed []string, agg *sources.Aggregator) string {
	var sb strings.Builder
	if len(toolsUsed) > 0 {
		names := make([]string, len(toolsUsed))
		for i, tool := range toolsUsed {
			names[i] = research.FriendlyName(tool)
		}
		sb.WriteString("\n\n🧰 **Tools used:** " + strings.Join(names, ", "))
	}
	sb.WriteString(agg.Render())
	return sb.String()
}

package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json is used for JSON handling inside package llm, backed by json-iterator.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LLMUsage defines the normalized token accounting structure.
type LLMUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ThoughtsTokens   int    `json:"thoughts_tokens,omitempty"`
	CachedTokens     int    `json:"cached_tokens,omitempty"`
	PromptDetail     string `json:"prompt_detail,omitempty"`
	CompletionDetail string `json:"completion_detail,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// Add accumulates another usage record into this one. Used by the research
// loop to account for multi-round turns.
func (u *LLMUsage) Add(other *LLMUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.ThoughtsTokens += other.ThoughtsTokens
	u.CachedTokens += other.CachedTokens
	if other.StopReason != "" {
		u.StopReason = other.StopReason
	}
}

// LogUsage prints a usage summary in a unified format.
func LogUsage(model string, usage *LLMUsage) {
	if usage == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n> ### 📊 Usage summary (%s)\n", model)
	fmt.Fprintf(&sb, "> | Item | Tokens | Detail |\n")
	fmt.Fprintf(&sb, "> | :--- | :--- | :--- |\n")
	fmt.Fprintf(&sb, "> | **Prompt** | %d | %s |\n", usage.PromptTokens, usage.PromptDetail)
	fmt.Fprintf(&sb, "> | **Response** | %d | %s |\n", usage.CompletionTokens, usage.CompletionDetail)
	fmt.Fprintf(&sb, "> | **Total** | **%d** | - |\n", usage.TotalTokens)
	fmt.Fprintf(&sb, "> | **Thoughts** | %d | - |\n", usage.ThoughtsTokens)

	if usage.StopReason != "" {
		fmt.Fprintf(&sb, "> | **Stop reason** | %s | - |\n", usage.StopReason)
	}

	if usage.CachedTokens > 0 {
		fmt.Fprintf(&sb, "> | **Cached** | %d | - |\n", usage.CachedTokens)
	}

	fmt.Fprint(&sb, "> ---")

	log.Println(sb.String())
}

//----------------------------------------------------------------
// Completion - non-streaming model response
//----------------------------------------------------------------

// Completion is the full response of a single non-streaming model call.
// Exactly one of two shapes applies: ToolCalls non-empty (the model wants
// tools executed before answering) or ToolCalls empty (Content is the
// answer). Callers branch on len(ToolCalls).
type Completion struct {
	Content    []ContentBlock `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	StopReason string         `json:"stop_reason"`
	Usage      *LLMUsage      `json:"usage,omitempty"`
}

// GetTextContent concatenates all text blocks of the completion.
func (c *Completion) GetTextContent() string {
	var result string
	for _, block := range c.Content {
		if block.Type == BlockTypeText {
			result += block.Text
		}
	}
	return result
}

//----------------------------------------------------------------
// LLMClient - provider-neutral client interface
//----------------------------------------------------------------

// LLMClient is the common LLM client interface. tools may be nil or empty
// to withhold capabilities from the model for that call.
type LLMClient interface {
	// Complete performs one blocking model call and returns the full
	// response. Used during research rounds where tool requests must be
	// inspected before anything reaches the user.
	Complete(ctx context.Context, messages []Message, tools []ToolSchema) (*Completion, error)

	// StreamChat performs a streaming model call, returning a channel of
	// incremental chunks. Used for final answer synthesis.
	StreamChat(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan StreamChunk, error)

	// IsTransientError reports whether an error is worth retrying
	// (e.g. 503, rate limit, connection reset).
	IsTransientError(err error) bool
}

//----------------------------------------------------------------
// FallbackClient - tiered provider fallback
//----------------------------------------------------------------

// FallbackClient tries multiple clients in order, with per-client retries
// on transient errors.
type FallbackClient struct {
	Clients    []LLMClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) Complete(ctx context.Context, messages []Message, tools []ToolSchema) (*Completion, error) {
	var result *Completion
	err := f.eachAttempt(ctx, func(client LLMClient) error {
		completion, err := client.Complete(ctx, messages, tools)
		if err != nil {
			return err
		}
		result = completion
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *FallbackClient) StreamChat(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan StreamChunk, error) {
	var ch <-chan StreamChunk
	err := f.eachAttempt(ctx, func(client LLMClient) error {
		stream, err := client.StreamChat(ctx, messages, tools)
		if err != nil {
			return err
		}
		ch = stream
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// eachAttempt walks the provider ladder, retrying each client on transient
// errors before falling through to the next.
func (f *FallbackClient) eachAttempt(ctx context.Context, attempt func(LLMClient) error) error {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			log.Printf("⚠️ Previous provider failed. Trying fallback provider #%d...", i+1)
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				log.Printf("🔄 Retrying provider #%d (attempt %d/%d)...", i+1, retry, maxRetries)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			err := attempt(client)
			if err == nil {
				return nil
			}

			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				log.Printf("❌ Provider #%d failed with transient error: %v. Retrying...", i+1, err)
				continue
			}

			// Non-transient error, or retry budget exhausted.
			log.Printf("❌ Provider #%d failed: %v", i+1, err)
			break
		}
	}
	return fmt.Errorf("all fallback providers failed. Last error: %v", lastErr)
}

// IsTransientError implements LLMClient. A FallbackClient error means every
// child already failed, so it is treated as non-transient.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}

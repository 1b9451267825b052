package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient counts calls and fails a scripted number of times.
type stubClient struct {
	failures  int
	transient bool
	calls     int
	text      string
}

func (s *stubClient) Complete(context.Context, []Message, []ToolSchema) (*Completion, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("provider down")
	}
	return &Completion{Content: []ContentBlock{NewTextBlock(s.text)}}, nil
}

func (s *stubClient) StreamChat(context.Context, []Message, []ToolSchema) (<-chan StreamChunk, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("provider down")
	}
	ch := make(chan StreamChunk, 1)
	ch <- NewTextChunk(s.text)
	close(ch)
	return ch, nil
}

func (s *stubClient) IsTransientError(error) bool { return s.transient }

func TestFallbackClient_FirstProviderWins(t *testing.T) {
	primary := &stubClient{text: "primary"}
	backup := &stubClient{text: "backup"}
	fc := &FallbackClient{Clients: []LLMClient{primary, backup}, MaxRetries: 3}

	completion, err := fc.Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", completion.GetTextContent())
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, backup.calls)
}

func TestFallbackClient_TransientRetriesSameProvider(t *testing.T) {
	flaky := &stubClient{failures: 2, transient: true, text: "recovered"}
	fc := &FallbackClient{Clients: []LLMClient{flaky}, MaxRetries: 3}

	completion, err := fc.Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", completion.GetTextContent())
	assert.Equal(t, 3, flaky.calls)
}

func TestFallbackClient_NonTransientSkipsToNextProvider(t *testing.T) {
	broken := &stubClient{failures: 99, transient: false}
	backup := &stubClient{text: "backup"}
	fc := &FallbackClient{Clients: []LLMClient{broken, backup}, MaxRetries: 3}

	completion, err := fc.Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "backup", completion.GetTextContent())
	assert.Equal(t, 1, broken.calls, "non-transient errors must not burn retries")
}

func TestFallbackClient_AllProvidersExhausted(t *testing.T) {
	a := &stubClient{failures: 99, transient: true}
	b := &stubClient{failures: 99, transient: false}
	fc := &FallbackClient{Clients: []LLMClient{a, b}, MaxRetries: 2}

	_, err := fc.Complete(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all fallback providers failed")
	assert.Equal(t, 2, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestFallbackClient_StreamChatFallsBack(t *testing.T) {
	broken := &stubClient{failures: 99}
	backup := &stubClient{text: "streamed"}
	fc := &FallbackClient{Clients: []LLMClient{broken, backup}, MaxRetries: 1}

	ch, err := fc.StreamChat(context.Background(), nil, nil)
	require.NoError(t, err)
	chunk := <-ch
	require.NotEmpty(t, chunk.ContentBlocks)
	assert.Equal(t, "streamed", chunk.ContentBlocks[0].Text)
}

func TestFallbackClient_ReportsNonTransient(t *testing.T) {
	fc := &FallbackClient{}
	assert.False(t, fc.IsTransientError(errors.New("anything")))
}

func TestCompletionGetTextContent(t *testing.T) {
	c := &Completion{Content: []ContentBlock{
		NewThinkingBlock("hmm"),
		NewTextBlock("part one"),
		NewTextBlock(" part two"),
	}}
	assert.Equal(t, "part one part two", c.GetTextContent())
}

func TestMessageHelpers(t *testing.T) {
	msg := Message{Role: RoleAssistant}
	msg.AddContentBlock(NewThinkingBlock("reasoning"))
	msg.AddContentBlock(NewTextBlock("visible"))
	msg.AddContentBlock(NewImageBlock([]byte{1, 2}, "image/png"))

	assert.Equal(t, "visible", msg.GetTextContent())
	assert.Equal(t, "reasoning", msg.GetThinkingContent())
	assert.True(t, msg.HasImages())

	tool := NewToolMessage("call-1", "search_web", `{"success":true}`)
	assert.Equal(t, RoleTool, tool.Role)
	assert.Equal(t, "call-1", tool.ToolCallID)
	assert.Equal(t, "search_web", tool.ToolName)
	assert.Equal(t, `{"success":true}`, tool.GetTextContent())
}

func TestLLMUsageAdd(t *testing.T) {
	total := &LLMUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	total.Add(&LLMUsage{PromptTokens: 3, CompletionTokens: 7, TotalTokens: 10, StopReason: StopReasonStop})
	total.Add(nil)

	assert.Equal(t, 13, total.PromptTokens)
	assert.Equal(t, 12, total.CompletionTokens)
	assert.Equal(t, 25, total.TotalTokens)
	assert.Equal(t, StopReasonStop, total.StopReason)
}

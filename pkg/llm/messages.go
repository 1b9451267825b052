package llm

import (
	"encoding/base64"
	"os"
	"time"
)

//----------------------------------------------------------------
// Message - canonical conversation unit
//----------------------------------------------------------------

// Message represents one entry in a conversation.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role"`    // "system", "user", "assistant", "tool"
	Content   []ContentBlock `json:"content"` // ordered content blocks
	Timestamp int64          `json:"timestamp,omitempty"`

	// ToolCalls holds tool invocation requests produced by the model
	// (assistant role only). Order matters: results are re-inserted in
	// the same order.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result message back to the originating
	// request (tool role only).
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName records which tool produced a result message (tool role only).
	ToolName string `json:"tool_name,omitempty"`

	// Usage carries token accounting for assistant messages.
	Usage *LLMUsage `json:"usage,omitempty"`
}

// ToolCall is a single tool invocation request emitted by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Function FunctionCall `json:"function"`

	// Meta holds provider-specific metadata that must be echoed back on
	// the next round (e.g. Gemini thought signatures). Never serialized.
	Meta map[string]any `json:"-"`
}

// FunctionCall carries the concrete name and raw JSON argument payload.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object string
}

//----------------------------------------------------------------
// ToolSchema - capability advertisement
//----------------------------------------------------------------

// ToolSchema is the canonical declaration of a callable capability, handed
// to the model layer each round. Providers convert it to their native
// function-calling format.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema object
}

//----------------------------------------------------------------
// ContentBlock - unified content unit
//----------------------------------------------------------------

// ContentBlock is one typed unit inside a message.
// Supported types: text, thinking, image, error.
type ContentBlock struct {
	Type string `json:"type"`

	// Text for "text" | "thinking" | "error" blocks.
	Text string `json:"text,omitempty"`

	// Source for "image" blocks.
	Source *ImageSource `json:"source,omitempty"`
}

//----------------------------------------------------------------
// ImageSource
//----------------------------------------------------------------

// ImageSource describes where image bytes come from.
type ImageSource struct {
	Type      string `json:"type"`       // "base64" | "url" | "file"
	MediaType string `json:"media_type"` // "image/png", "image/jpeg", ...
	Data      []byte `json:"-"`          // raw bytes, not serialized directly
	URL       string `json:"url,omitempty"`
	Path      string `json:"path,omitempty"`
}

// MarshalJSON encodes Data as base64 for persistence.
func (is *ImageSource) MarshalJSON() ([]byte, error) {
	if is.Type == "base64" && len(is.Data) > 0 {
		return []byte(`{"type":"base64","media_type":"` + is.MediaType + `","data":"` + base64.StdEncoding.EncodeToString(is.Data) + `"}`), nil
	}
	if is.Type == "file" {
		return []byte(`{"type":"file","media_type":"` + is.MediaType + `","path":"` + is.Path + `"}`), nil
	}
	return []byte(`{"type":"` + is.Type + `","media_type":"` + is.MediaType + `","url":"` + is.URL + `"}`), nil
}

// UnmarshalJSON restores Data from its base64 form.
func (is *ImageSource) UnmarshalJSON(data []byte) error {
	type Alias ImageSource
	aux := &struct {
		DataBase64 string `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(is),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.DataBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(aux.DataBase64)
		if err != nil {
			return err
		}
		is.Data = decoded
	}

	return nil
}

//----------------------------------------------------------------
// StreamChunk - incremental model output
//----------------------------------------------------------------

// StreamChunk is one incremental piece of a model response stream.
type StreamChunk struct {
	// Incremental content (only the newly produced part).
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`

	// Tool invocation requests (usually arrive complete, near the end).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// IsFinal marks the terminating chunk of the stream.
	IsFinal bool `json:"is_final"`

	// FinishReason is set on the final chunk only.
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage is guaranteed on the final chunk when the provider reports it.
	Usage *LLMUsage `json:"usage,omitempty"`

	// Error is a user-presentable failure description; RawError keeps the
	// underlying error for transient-failure classification.
	Error    string `json:"error,omitempty"`
	RawError error  `json:"-"`
}

//----------------------------------------------------------------
// Helper Functions - Message
//----------------------------------------------------------------

// NewTextMessage builds a plain text message for the given role.
func NewTextMessage(role, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{{
			Type: BlockTypeText,
			Text: text,
		}},
		Timestamp: time.Now().Unix(),
	}
}

// NewSystemMessage builds a system message.
func NewSystemMessage(text string) Message {
	return NewTextMessage("system", text)
}

// NewUserMessage builds a user message.
func NewUserMessage(text string) Message {
	return NewTextMessage("user", text)
}

// NewAssistantMessage builds an assistant message.
func NewAssistantMessage(text string) Message {
	return NewTextMessage("assistant", text)
}

// NewToolMessage builds a tool-result message bound to a request id.
func NewToolMessage(callID, toolName, payload string) Message {
	return Message{
		Role:       "tool",
		ToolCallID: callID,
		ToolName:   toolName,
		Content: []ContentBlock{{
			Type: BlockTypeText,
			Text: payload,
		}},
		Timestamp: time.Now().Unix(),
	}
}

// AddContentBlock appends a block to the message.
func (m *Message) AddContentBlock(block ContentBlock) {
	m.Content = append(m.Content, block)
}

// GetTextContent concatenates all text blocks (thinking excluded).
func (m *Message) GetTextContent() string {
	var result string
	for _, block := range m.Content {
		if block.Type == BlockTypeText {
			result += block.Text
		}
	}
	return result
}

// GetThinkingContent concatenates all thinking blocks.
func (m *Message) GetThinkingContent() string {
	var result string
	for _, block := range m.Content {
		if block.Type == BlockTypeThinking {
			result += block.Text
		}
	}
	return result
}

// HasImages reports whether the message carries any image block.
func (m *Message) HasImages() bool {
	for _, block := range m.Content {
		if block.Type == BlockTypeImage {
			return true
		}
	}
	return false
}

//----------------------------------------------------------------
// Helper Functions - ContentBlock
//----------------------------------------------------------------

// NewTextBlock builds a text block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeText,
		Text: text,
	}
}

// NewThinkingBlock builds a thinking block.
func NewThinkingBlock(text string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeThinking,
		Text: text,
	}
}

// NewErrorBlock builds an error block shown to the user.
func NewErrorBlock(text string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeError,
		Text: text,
	}
}

// NewImageBlock builds an image block from raw bytes (base64 source).
func NewImageBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "base64",
			MediaType: mimeType,
			Data:      data,
		},
	}
}

// NewImageBlockFromFile builds an image block referencing a file on disk.
// The bytes are loaded lazily by consumers that need them.
func NewImageBlockFromFile(path, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "file",
			MediaType: mimeType,
			Path:      path,
		},
	}
}

// LoadImageData returns the image bytes, reading from disk for file sources.
func (is *ImageSource) LoadImageData() ([]byte, error) {
	if len(is.Data) > 0 {
		return is.Data, nil
	}
	if is.Type == "file" && is.Path != "" {
		return os.ReadFile(is.Path)
	}
	return nil, nil
}

//----------------------------------------------------------------
// Helper Functions - StreamChunk
//----------------------------------------------------------------

// NewTextChunk builds a text chunk.
func NewTextChunk(text string) StreamChunk {
	return StreamChunk{
		ContentBlocks: []ContentBlock{{
			Type: BlockTypeText,
			Text: text,
		}},
	}
}

// NewThinkingChunk builds a thinking chunk.
func NewThinkingChunk(text string) StreamChunk {
	return StreamChunk{
		ContentBlocks: []ContentBlock{{
			Type: BlockTypeThinking,
			Text: text,
		}},
	}
}

// NewErrorChunk builds an error chunk. final controls whether the stream
// terminates after this chunk.
func NewErrorChunk(text string, raw error, final bool) StreamChunk {
	return StreamChunk{
		Error:    text,
		RawError: raw,
		IsFinal:  final,
	}
}

// NewFinalChunk builds the terminating chunk with usage accounting.
func NewFinalChunk(reason string, usage *LLMUsage) StreamChunk {
	return StreamChunk{
		IsFinal:      true,
		FinishReason: reason,
		Usage:        usage,
	}
}

package llm

import (
	"context"
	"regexp"
	"sync"
	"time"
)

//----------------------------------------------------------------
// HistoryStore - persistence backend contract
//----------------------------------------------------------------

// HistoryRecord is the serialized form of one conversation.
type HistoryRecord struct {
	Title    string    `json:"title,omitempty"`
	Messages []Message `json:"messages"`
	Updated  int64     `json:"updated,omitempty"`
}

// HistoryStore persists conversation records by session key.
// Implementations live in pkg/store (file, redis).
type HistoryStore interface {
	// Load returns the stored record, or nil when the key is unknown.
	Load(ctx context.Context, key string) (*HistoryRecord, error)

	// Save writes the record for the key, replacing any previous one.
	Save(ctx context.Context, key string, record *HistoryRecord) error

	// List returns all known session keys, newest first.
	List(ctx context.Context) ([]string, error)

	// Delete removes the record for the key. Unknown keys are not an error.
	Delete(ctx context.Context, key string) error
}

//----------------------------------------------------------------
// ChatHistory - in-memory conversation state
//----------------------------------------------------------------

var titleWordRe = regexp.MustCompile(`\w+`)

// ChatHistory manages one conversation's messages and title, backed by an
// optional HistoryStore for persistence across restarts.
type ChatHistory struct {
	store    HistoryStore
	key      string
	title    string
	messages []Message
	mu       sync.RWMutex
}

// NewChatHistory creates an empty history bound to a store and session key.
// store may be nil for purely in-memory conversations.
func NewChatHistory(store HistoryStore, key string) *ChatHistory {
	return &ChatHistory{
		store:    store,
		key:      key,
		messages: make([]Message, 0),
	}
}

// Load replaces in-memory state with the stored record, if one exists.
func (h *ChatHistory) Load(ctx context.Context) error {
	if h.store == nil {
		return nil
	}

	record, err := h.store.Load(ctx, h.key)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.title = record.Title
	h.messages = record.Messages
	return nil
}

// Save writes the current state through the store.
func (h *ChatHistory) Save(ctx context.Context) error {
	if h.store == nil {
		return nil
	}

	h.mu.RLock()
	record := &HistoryRecord{
		Title:    h.title,
		Messages: make([]Message, len(h.messages)),
		Updated:  time.Now().Unix(),
	}
	copy(record.Messages, h.messages)
	h.mu.RUnlock()

	return h.store.Save(ctx, h.key, record)
}

// Add appends one message.
func (h *ChatHistory) Add(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msg)
}

// GetMessages returns a copy of the conversation.
func (h *ChatHistory) GetMessages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

// SetMessages replaces the conversation wholesale. Used by history
// compaction after summarization.
func (h *ChatHistory) SetMessages(msgs []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = msgs
}

// MessageCount returns the number of stored messages.
func (h *ChatHistory) MessageCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.messages)
}

// EnsureSystemMessage guarantees the conversation starts with the given
// system prompt, inserting or updating the leading system message.
func (h *ChatHistory) EnsureSystemMessage(prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.messages) > 0 && h.messages[0].Role == "system" {
		h.messages[0].Content = []ContentBlock{NewTextBlock(prompt)}
		return
	}

	sys := NewSystemMessage(prompt)
	h.messages = append([]Message{sys}, h.messages...)
}

// Title returns the conversation title.
func (h *ChatHistory) Title() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.title
}

// EnsureTitle derives a title from the given text on first use: the first
// four words, or "New Chat" when the text has none.
func (h *ChatHistory) EnsureTitle(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.title != "" {
		return
	}

	words := titleWordRe.FindAllString(text, 4)
	if len(words) == 0 {
		h.title = "New Chat"
		return
	}

	title := words[0]
	for _, w := range words[1:] {
		title += " " + w
	}
	h.title = title
}

// GetMessagesForUI returns the user-visible projection of the conversation:
// user and assistant messages only, without system prompts, tool plumbing,
// or thinking blocks.
func (h *ChatHistory) GetMessagesForUI() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Message, 0, len(h.messages))
	for _, msg := range h.messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if len(msg.ToolCalls) > 0 && msg.GetTextContent() == "" {
			// Intermediate tool-request messages carry no user-facing text.
			continue
		}

		visible := Message{
			ID:        msg.ID,
			Role:      msg.Role,
			Timestamp: msg.Timestamp,
		}
		for _, block := range msg.Content {
			if block.Type == BlockTypeThinking {
				continue
			}
			visible.Content = append(visible.Content, block)
		}
		if len(visible.Content) == 0 {
			continue
		}
		result = append(result, visible)
	}
	return result
}

package llm

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memStore is an in-memory HistoryStore for tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]*HistoryRecord
	saves   int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*HistoryRecord)}
}

func (s *memStore) Load(_ context.Context, key string) (*HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key], nil
}

func (s *memStore) Save(_ context.Context, key string, record *HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = record
	s.saves++
	return nil
}

func (s *memStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func TestEnsureSystemMessage(t *testing.T) {
	h := NewChatHistory(nil, "k")
	h.Add(NewUserMessage("hi"))

	h.EnsureSystemMessage("you are helpful")
	messages := h.GetMessages()
	require.Len(t, messages, 2)
	assert.Equal(t, RoleSystem, messages[0].Role)
	assert.Equal(t, "you are helpful", messages[0].GetTextContent())

	// A changed prompt replaces the leading message instead of stacking.
	h.EnsureSystemMessage("you are terse")
	messages = h.GetMessages()
	require.Len(t, messages, 2)
	assert.Equal(t, "you are terse", messages[0].GetTextContent())
}

func TestEnsureTitle(t *testing.T) {
	t.Run("first four words", func(t *testing.T) {
		h := NewChatHistory(nil, "k")
		h.EnsureTitle("compare llama and mistral on reasoning benchmarks")
		assert.Equal(t, "compare llama and mistral", h.Title())
	})

	t.Run("empty text falls back", func(t *testing.T) {
		h := NewChatHistory(nil, "k")
		h.EnsureTitle("   ")
		assert.Equal(t, "New Chat", h.Title())
	})

	t.Run("set once", func(t *testing.T) {
		h := NewChatHistory(nil, "k")
		h.EnsureTitle("first question")
		h.EnsureTitle("second question")
		assert.Equal(t, "first question", h.Title())
	})
}

func TestGetMessagesReturnsCopy(t *testing.T) {
	h := NewChatHistory(nil, "k")
	h.Add(NewUserMessage("original"))

	messages := h.GetMessages()
	messages[0] = NewUserMessage("mutated")

	assert.Equal(t, "original", h.GetMessages()[0].GetTextContent())
}

func TestGetMessagesForUI(t *testing.T) {
	h := NewChatHistory(nil, "k")
	h.EnsureSystemMessage("system prompt")
	h.Add(NewUserMessage("question"))

	// Tool request round: no user-facing text.
	h.Add(Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "c1", Name: "search_web"}},
	})
	h.Add(NewToolMessage("c1", "search_web", `{"success":true}`))

	// Final answer with interleaved thinking.
	answer := Message{Role: RoleAssistant}
	answer.AddContentBlock(NewThinkingBlock("mulling it over"))
	answer.AddContentBlock(NewTextBlock("the answer"))
	h.Add(answer)

	visible := h.GetMessagesForUI()
	require.Len(t, visible, 2)
	assert.Equal(t, RoleUser, visible[0].Role)
	assert.Equal(t, "question", visible[0].GetTextContent())
	assert.Equal(t, RoleAssistant, visible[1].Role)
	assert.Equal(t, "the answer", visible[1].GetTextContent())
	assert.Empty(t, visible[1].GetThinkingContent())
}

func TestHistorySaveLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	h := NewChatHistory(store, "session-1")
	h.EnsureTitle("my research question")
	h.Add(NewUserMessage("my research question"))
	h.Add(NewAssistantMessage("an answer"))
	require.NoError(t, h.Save(ctx))

	reloaded := NewChatHistory(store, "session-1")
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, "my research question", reloaded.Title())
	require.Equal(t, 2, reloaded.MessageCount())
	assert.Equal(t, "an answer", reloaded.GetMessages()[1].GetTextContent())
}

func TestHistoryLoadUnknownKeyIsEmpty(t *testing.T) {
	h := NewChatHistory(newMemStore(), "never-saved")
	require.NoError(t, h.Load(context.Background()))
	assert.Zero(t, h.MessageCount())
}

func TestSessionManager(t *testing.T) {
	ctx := context.Background()

	t.Run("reuses loaded history", func(t *testing.T) {
		sm := NewSessionManager(nil)
		a, err := sm.GetHistory(ctx, "web_1")
		require.NoError(t, err)
		b, err := sm.GetHistory(ctx, "web_1")
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		sm := NewSessionManager(nil)
		a, _ := sm.GetHistory(ctx, "web_1")
		b, _ := sm.GetHistory(ctx, "web_2")
		a.Add(NewUserMessage("only in a"))
		assert.Zero(t, b.MessageCount())
	})

	t.Run("drop removes memory and store", func(t *testing.T) {
		store := newMemStore()
		sm := NewSessionManager(store)

		h, _ := sm.GetHistory(ctx, "web_1")
		h.Add(NewUserMessage("hello"))
		require.NoError(t, sm.SaveSession(ctx, "web_1"))
		require.Contains(t, store.records, "web_1")

		require.NoError(t, sm.DropSession(ctx, "web_1"))
		assert.NotContains(t, store.records, "web_1")

		fresh, err := sm.GetHistory(ctx, "web_1")
		require.NoError(t, err)
		assert.Zero(t, fresh.MessageCount())
	})

	t.Run("flush saves every loaded session", func(t *testing.T) {
		store := newMemStore()
		sm := NewSessionManager(store)

		for _, key := range []string{"web_1", "web_2", "web_3"} {
			h, _ := sm.GetHistory(ctx, key)
			h.Add(NewUserMessage("x"))
		}
		require.NoError(t, sm.Flush(ctx))
		assert.Len(t, store.records, 3)
	})

	t.Run("list without store reports loaded sessions", func(t *testing.T) {
		sm := NewSessionManager(nil)
		sm.GetHistory(ctx, "web_1")
		sm.GetHistory(ctx, "telegram_9")
		keys, err := sm.ListSessions(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"web_1", "telegram_9"}, keys)
	})
}

package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholar/pkg/api"
	"scholar/pkg/llm"
)

// apiCall is one recorded request against the fake Bot API.
type apiCall struct {
	method  string // "sendMessage", "sendChatAction", ...
	form    url.Values
	hasFile bool // a file part was uploaded (multipart)
}

// fakeBotServer emulates just enough of the Telegram Bot API: it records
// every call and serves one queued getUpdates batch, then empty batches.
type fakeBotServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	calls   []apiCall
	pending string // JSON array for the next getUpdates response
}

func (f *fakeBotServer) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	method := parts[len(parts)-1]

	call := apiCall{method: method}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(4 << 20); err == nil {
			call.form = url.Values(r.MultipartForm.Value)
			call.hasFile = len(r.MultipartForm.File) > 0
		}
	} else {
		r.ParseForm()
		call.form = r.PostForm
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	batch := ""
	if method == "getUpdates" {
		batch = f.pending
		f.pending = ""
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if method == "getUpdates" {
		if batch == "" {
			// Pace the empty long-poll so the update loop doesn't spin hot.
			time.Sleep(20 * time.Millisecond)
			batch = "[]"
		}
		w.Write([]byte(`{"ok":true,"result":` + batch + `}`))
		return
	}
	w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":42}}}`))
}

func (f *fakeBotServer) queueUpdates(batch string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = batch
}

func (f *fakeBotServer) callsFor(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []apiCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

// texts returns the text parameter of every sendMessage call, in order.
func (f *fakeBotServer) texts() []string {
	var out []string
	for _, c := range f.callsFor("sendMessage") {
		out = append(out, c.form.Get("text"))
	}
	return out
}

func (f *fakeBotServer) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

// newFakeBot wires a TelegramChannel to the fake Bot API, skipping the
// getMe handshake NewTelegramChannel performs against the real endpoint.
func newFakeBot(t *testing.T) (*fakeBotServer, *TelegramChannel) {
	t.Helper()

	f := &fakeBotServer{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)

	bot := &tgbotapi.BotAPI{
		Token:  "test-token",
		Client: f.srv.Client(),
		Buffer: 100,
	}
	bot.SetAPIEndpoint(f.srv.URL + "/bot%s/%s")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return f, &TelegramChannel{
		config:       TelegramConfig{Token: "test-token"},
		bot:          bot,
		messageLimit: 4000,
		stopCtx:      ctx,
		stopCancel:   cancel,
	}
}

func testSession() api.SessionContext {
	return api.SessionContext{ChannelID: "telegram", UserID: "99", ChatID: "42", Username: "gopher"}
}

// fakeGatewayCtx records messages the channel pushes into the gateway.
type fakeGatewayCtx struct {
	mu   sync.Mutex
	msgs []*api.UnifiedMessage
}

func (f *fakeGatewayCtx) SendReply(api.SessionContext, string) error { return nil }
func (f *fakeGatewayCtx) StreamReply(api.SessionContext, <-chan llm.ContentBlock) error {
	return nil
}
func (f *fakeGatewayCtx) SendSignal(api.SessionContext, string) error { return nil }

func (f *fakeGatewayCtx) OnMessage(channelID string, msg *api.UnifiedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeGatewayCtx) messages() []*api.UnifiedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*api.UnifiedMessage(nil), f.msgs...)
}

func TestSendSingleMessage(t *testing.T) {
	f, ch := newFakeBot(t)

	require.NoError(t, ch.Send(testSession(), "short answer"))

	calls := f.callsFor("sendMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, "short answer", calls[0].form.Get("text"))
	assert.Equal(t, "42", calls[0].form.Get("chat_id"))
}

func TestSendChunksLongMessagesByRunes(t *testing.T) {
	f, ch := newFakeBot(t)
	ch.messageLimit = 4

	// Two-byte runes prove the splitter counts characters, not bytes.
	require.NoError(t, ch.Send(testSession(), "αβγδεζηθικ"))

	assert.Equal(t, []string{"αβγδ", "εζηθ", "ικ"}, f.texts())
}

func TestSendInvalidChatID(t *testing.T) {
	f, ch := newFakeBot(t)

	err := ch.Send(api.SessionContext{ChannelID: "telegram", ChatID: "not-a-number"}, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid chat id")
	assert.Empty(t, f.callsFor("sendMessage"))
}

func TestSendSignalTypingIndicator(t *testing.T) {
	f, ch := newFakeBot(t)

	require.NoError(t, ch.SendSignal(testSession(), "thinking"))
	require.NoError(t, ch.SendSignal(testSession(), "tool:search_web"))

	calls := f.callsFor("sendChatAction")
	require.Len(t, calls, 2)
	assert.Equal(t, "typing", calls[0].form.Get("action"))
	assert.Equal(t, "42", calls[0].form.Get("chat_id"))
	assert.Equal(t, "typing", calls[1].form.Get("action"))
}

func TestSendSignalIgnoresOtherSignals(t *testing.T) {
	f, ch := newFakeBot(t)

	require.NoError(t, ch.SendSignal(testSession(), "saving"))
	assert.Empty(t, f.callsFor("sendChatAction"))
}

func TestStreamOrdersTextAroundImages(t *testing.T) {
	f, ch := newFakeBot(t)

	blocks := make(chan llm.ContentBlock, 4)
	blocks <- llm.NewThinkingBlock("Let me check the data.")
	blocks <- llm.NewTextBlock("Before the chart. ")
	blocks <- llm.NewImageBlock([]byte("png-bytes"), "image/png")
	blocks <- llm.NewTextBlock("After the chart.")
	close(blocks)

	require.NoError(t, ch.Stream(testSession(), blocks))

	assert.Equal(t, []string{"sendMessage", "sendMessage", "sendPhoto", "sendMessage"}, f.methods())
	assert.Equal(t, []string{
		"💭 Reasoning process:\n\nLet me check the data.",
		"Before the chart. ",
		"After the chart.",
	}, f.texts())

	photos := f.callsFor("sendPhoto")
	require.Len(t, photos, 1)
	assert.True(t, photos[0].hasFile)
	assert.Equal(t, "42", photos[0].form.Get("chat_id"))
}

func TestStreamThinkingOnlyAnswer(t *testing.T) {
	f, ch := newFakeBot(t)

	blocks := make(chan llm.ContentBlock, 2)
	blocks <- llm.NewThinkingBlock("step one ")
	blocks <- llm.NewThinkingBlock("step two")
	close(blocks)

	require.NoError(t, ch.Stream(testSession(), blocks))

	assert.Equal(t, []string{"💭 Reasoning process:\n\nstep one step two"}, f.texts())
}

func TestStreamErrorBlocksRenderAsText(t *testing.T) {
	f, ch := newFakeBot(t)

	blocks := make(chan llm.ContentBlock, 1)
	blocks <- llm.ContentBlock{Type: llm.BlockTypeError, Text: "❌ Model service unavailable"}
	close(blocks)

	require.NoError(t, ch.Stream(testSession(), blocks))
	assert.Equal(t, []string{"❌ Model service unavailable"}, f.texts())
}

func TestSendPhotoSourceVariants(t *testing.T) {
	f, ch := newFakeBot(t)

	imgPath := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("disk-bytes"), 0644))

	require.NoError(t, ch.sendPhoto(testSession(), llm.ContentBlock{
		Type:   llm.BlockTypeImage,
		Source: &llm.ImageSource{Type: "url", URL: "https://example.com/chart.png"},
	}))
	require.NoError(t, ch.sendPhoto(testSession(), llm.NewImageBlockFromFile(imgPath, "image/png")))

	calls := f.callsFor("sendPhoto")
	require.Len(t, calls, 2)
	assert.Equal(t, "https://example.com/chart.png", calls[0].form.Get("photo"))
	assert.False(t, calls[0].hasFile)
	assert.True(t, calls[1].hasFile)

	err := ch.sendPhoto(testSession(), llm.ContentBlock{Type: llm.BlockTypeImage})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image source is nil")

	err = ch.sendPhoto(testSession(), llm.ContentBlock{
		Type:   llm.BlockTypeImage,
		Source: &llm.ImageSource{Type: "base64"}, // no bytes
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported image source")
}

func TestStartDispatchesUpdates(t *testing.T) {
	f, ch := newFakeBot(t)
	f.queueUpdates(`[
		{"update_id":7,"message":{"message_id":1,"from":{"id":99,"username":"gopher"},"chat":{"id":42},"text":"What is RAG?"}},
		{"update_id":8,"message":{"message_id":2,"from":{"id":99,"username":"gopher"},"chat":{"id":42},"caption":"explain this chart"}},
		{"update_id":9}
	]`)

	gwCtx := &fakeGatewayCtx{}
	require.NoError(t, ch.Start(gwCtx))
	t.Cleanup(func() { ch.Stop() })

	require.Eventually(t, func() bool {
		return len(gwCtx.messages()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	msgs := gwCtx.messages()
	assert.Equal(t, "What is RAG?", msgs[0].Content)
	assert.Equal(t, "99", msgs[0].Session.UserID)
	assert.Equal(t, "42", msgs[0].Session.ChatID)
	assert.Equal(t, "gopher", msgs[0].Session.Username)
	assert.Equal(t, "telegram_42", msgs[0].Session.SessionKey())

	// Captions stand in for text on photo messages; update 9 has no
	// message payload at all and is skipped.
	assert.Equal(t, "explain this chart", msgs[1].Content)

	// The next poll acknowledges everything seen so far.
	require.Eventually(t, func() bool {
		for _, c := range f.callsFor("getUpdates") {
			if c.form.Get("offset") == "10" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

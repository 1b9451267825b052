package web

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholar/pkg/api"
	"scholar/pkg/llm"
	"scholar/pkg/utils"
)

// fakeGatewayCtx records messages a channel pushes into the gateway.
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

func newTestChannel() (*WebChannel, *llm.SessionManager) {
	sessions := llm.NewSessionManager(nil)
	return NewWebChannel(WebConfig{Port: 8080}, sessions), sessions
}

// newTestServer mounts the channel's routes the same way Start does, but on
// an httptest listener instead of a fixed port.
func newTestServer(t *testing.T, c *WebChannel, gwCtx api.ChannelContext) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/", c.handleIndex)
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		c.handleWebSocket(w, req, gwCtx)
	})
	r.Get("/api/chats", c.handleListChats)
	r.Get("/api/chats/{sessionID}/messages", c.handleChatMessages)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	// Closing the client side unblocks the server's read loop, so the
	// handler has returned by the time the httptest server shuts down.
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// connectedUser waits for exactly one registered websocket client and
// returns the session the channel would route replies to.
func connectedUser(t *testing.T, c *WebChannel, chatID string) api.SessionContext {
	t.Helper()

	var userID string
	require.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if len(c.connections) != 1 {
			return false
		}
		for id := range c.connections {
			userID = id
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return api.SessionContext{ChannelID: "web", UserID: userID, ChatID: chatID, Username: "WebUser"}
}

func TestHandleIndex(t *testing.T) {
	c, _ := newTestChannel()
	srv := newTestServer(t, c, &fakeGatewayCtx{})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<!DOCTYPE html>")
}

func TestHandleListChats(t *testing.T) {
	c, sessions := newTestChannel()
	ctx := context.Background()

	titled, err := sessions.GetHistory(ctx, "web_alpha")
	require.NoError(t, err)
	titled.EnsureTitle("how do transformers scale to long contexts")
	titled.Add(llm.NewUserMessage("how do transformers scale to long contexts"))

	_, err = sessions.GetHistory(ctx, "web_beta")
	require.NoError(t, err)

	srv := newTestServer(t, c, &fakeGatewayCtx{})
	resp, err := http.Get(srv.URL + "/api/chats")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	type chatInfo struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	var chats []chatInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chats))

	// Untitled sessions fall back to their id.
	assert.ElementsMatch(t, []chatInfo{
		{ID: "web_alpha", Title: "how do transformers scale"},
		{ID: "web_beta", Title: "web_beta"},
	}, chats)
}

func TestHandleChatMessages(t *testing.T) {
	c, sessions := newTestChannel()

	h, err := sessions.GetHistory(context.Background(), "web_research")
	require.NoError(t, err)
	h.EnsureSystemMessage("You are a research assistant.")
	h.Add(llm.NewUserMessage("Compare LLaMA and Mistral"))

	answer := llm.NewAssistantMessage("LLaMA leads on accuracy.")
	answer.Content = append([]llm.ContentBlock{llm.NewThinkingBlock("checking metrics")}, answer.Content...)
	h.Add(answer)

	srv := newTestServer(t, c, &fakeGatewayCtx{})
	resp, err := http.Get(srv.URL + "/api/chats/web_research/messages")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msgs []llm.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	require.Len(t, msgs, 2)

	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "Compare LLaMA and Mistral", msgs[0].GetTextContent())
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "LLaMA leads on accuracy.", msgs[1].GetTextContent())
	assert.Empty(t, msgs[1].GetThinkingContent())
}

func TestHandleChatMessagesUnknownSession(t *testing.T) {
	c, _ := newTestChannel()
	srv := newTestServer(t, c, &fakeGatewayCtx{})

	resp, err := http.Get(srv.URL + "/api/chats/web_nothing/messages")
	require.NoError(t, err)
	defer resp.Body.Close()

	// Without a backing store an unknown session is just an empty one.
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msgs []llm.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	assert.Empty(t, msgs)
}

func TestWebSocketPushesHistoryOnConnect(t *testing.T) {
	c, sessions := newTestChannel()

	h, err := sessions.GetHistory(context.Background(), "web_global")
	require.NoError(t, err)
	h.Add(llm.NewUserMessage("earlier question"))
	h.Add(llm.NewAssistantMessage("earlier answer"))

	srv := newTestServer(t, c, &fakeGatewayCtx{})
	conn := dialWS(t, srv, "/ws")

	frame := readFrame(t, conn)
	assert.Equal(t, "history", frame["type"])

	data, ok := frame["data"].([]any)
	require.True(t, ok)
	assert.Len(t, data, 2)
}

func TestWebSocketInboundMessageReachesGateway(t *testing.T) {
	c, _ := newTestChannel()
	gwCtx := &fakeGatewayCtx{}
	srv := newTestServer(t, c, gwCtx)
	conn := dialWS(t, srv, "/ws")

	// Empty frames are dropped, real ones dispatched.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"text":""}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"What is attention?"}`)))

	require.Eventually(t, func() bool {
		return len(gwCtx.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg := gwCtx.messages()[0]
	assert.Equal(t, "What is attention?", msg.Content)
	assert.Equal(t, "web", msg.Session.ChannelID)
	assert.Equal(t, "global", msg.Session.ChatID)
	assert.Equal(t, "WebUser", msg.Session.Username)
	assert.Equal(t, "web_global", msg.Session.SessionKey())
	assert.Empty(t, msg.Files)
}

func TestWebSocketChatQueryParam(t *testing.T) {
	c, _ := newTestChannel()
	gwCtx := &fakeGatewayCtx{}
	srv := newTestServer(t, c, gwCtx)
	conn := dialWS(t, srv, "/ws?chat=research")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"hi"}`)))

	require.Eventually(t, func() bool {
		return len(gwCtx.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "web_research", gwCtx.messages()[0].Session.SessionKey())
}

func TestWebSocketServerPushes(t *testing.T) {
	c, _ := newTestChannel()
	srv := newTestServer(t, c, &fakeGatewayCtx{})
	conn := dialWS(t, srv, "/ws")
	session := connectedUser(t, c, "global")

	imgPath := filepath.Join(t.TempDir(), "saved.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("disk-bytes"), 0644))

	require.NoError(t, c.SendSignal(session, "thinking"))
	frame := readFrame(t, conn)
	assert.Equal(t, "signal", frame["type"])
	assert.Equal(t, "thinking", frame["value"])

	require.NoError(t, c.Send(session, "**direct answer**"))
	frame = readFrame(t, conn)
	assert.Equal(t, "text", frame["type"])
	assert.Equal(t, "**direct answer**", frame["text"])
	assert.Equal(t, "done", readFrame(t, conn)["type"])

	blocks := make(chan llm.ContentBlock, 6)
	blocks <- llm.NewTextBlock("Partial ")
	blocks <- llm.NewThinkingBlock("mulling it over")
	blocks <- llm.NewImageBlock([]byte("png-bytes"), "image/png")
	blocks <- llm.NewImageBlockFromFile(imgPath, "image/png")
	blocks <- llm.NewImageBlockFromFile(filepath.Join(t.TempDir(), "gone.png"), "image/png")
	blocks <- llm.ContentBlock{
		Type:   llm.BlockTypeImage,
		Source: &llm.ImageSource{Type: "url", URL: "https://example.com/chart.png"},
	}
	close(blocks)
	require.NoError(t, c.Stream(session, blocks))

	frame = readFrame(t, conn)
	assert.Equal(t, "text", frame["type"])
	assert.Equal(t, "Partial ", frame["text"])

	frame = readFrame(t, conn)
	assert.Equal(t, "thinking", frame["type"])
	assert.Equal(t, "mulling it over", frame["text"])

	frame = readFrame(t, conn)
	assert.Equal(t, "image", frame["type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), frame["data"])
	assert.Equal(t, "image/png", frame["mime"])

	frame = readFrame(t, conn)
	assert.Equal(t, "image", frame["type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("disk-bytes")), frame["data"])

	// The unreadable file block is skipped, so the url image comes next.
	frame = readFrame(t, conn)
	assert.Equal(t, "image", frame["type"])
	assert.Equal(t, "https://example.com/chart.png", frame["url"])

	assert.Equal(t, "done", readFrame(t, conn)["type"])
}

func TestSendWithoutConnection(t *testing.T) {
	c, _ := newTestChannel()
	session := api.SessionContext{ChannelID: "web", UserID: "ghost", ChatID: "global"}

	err := c.Send(session, "hello?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	require.Error(t, c.SendSignal(session, "thinking"))

	blocks := make(chan llm.ContentBlock)
	close(blocks)
	require.Error(t, c.Stream(session, blocks))
}

func TestParseIncomingPlainTextFrame(t *testing.T) {
	c, _ := newTestChannel()

	content, files := c.parseIncoming([]byte("what is retrieval augmented generation?"))
	assert.Equal(t, "what is retrieval augmented generation?", content)
	assert.Empty(t, files)
}

func TestParseIncomingJSONFrame(t *testing.T) {
	c, _ := newTestChannel()

	content, files := c.parseIncoming([]byte(`{"text":"hello there"}`))
	assert.Equal(t, "hello there", content)
	assert.Empty(t, files)
}

func TestParseIncomingSavesImages(t *testing.T) {
	t.Chdir(t.TempDir())
	c, _ := newTestChannel()

	pngBytes := append([]byte("\x89PNG\r\n\x1a\n"), []byte("fake image payload")...)
	frame := fmt.Sprintf(`{"text":"see chart","images":[{"name":"chart.png","mime":"image/png","data":%q}]}`,
		base64.StdEncoding.EncodeToString(pngBytes))

	content, files := c.parseIncoming([]byte(frame))
	assert.Equal(t, "see chart", content)
	require.Len(t, files, 1)

	att := files[0]
	assert.Equal(t, "chart.png", att.Filename)
	assert.Equal(t, "image/png", att.MimeType)
	assert.Nil(t, att.Data)
	assert.True(t, strings.HasPrefix(att.Path, "data/attachments/"), "path %q", att.Path)
	assert.True(t, strings.HasSuffix(att.Path, ".png"), "path %q", att.Path)

	saved, err := os.ReadFile(att.Path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, saved)
}

func TestParseIncomingBadImageDataSkipped(t *testing.T) {
	t.Chdir(t.TempDir())
	c, _ := newTestChannel()

	content, files := c.parseIncoming([]byte(`{"text":"broken upload","images":[{"name":"x.png","mime":"image/png","data":"%%%"}]}`))
	assert.Equal(t, "broken upload", content)
	assert.Empty(t, files)
}

func TestParseIncomingSniffsMissingMime(t *testing.T) {
	t.Chdir(t.TempDir())
	c, _ := newTestChannel()

	pngBytes := append([]byte("\x89PNG\r\n\x1a\n"), []byte("payload")...)
	frame := fmt.Sprintf(`{"text":"untyped upload","images":[{"name":"blob","data":%q}]}`,
		base64.StdEncoding.EncodeToString(pngBytes))

	_, files := c.parseIncoming([]byte(frame))
	require.Len(t, files, 1)
	assert.Equal(t, "image/png", files[0].MimeType)
}

func TestSweepAttachmentsRemovesOnlyExpired(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.MkdirAll(attachmentsDir, 0755))

	// 5e0be100 decodes to a moment in early 2020, well past the TTL.
	expired := filepath.Join(attachmentsDir, "5e0be100_old.png")
	fresh := filepath.Join(attachmentsDir, utils.GenerateTimestampPrefix()+"new.png")
	unnamed := filepath.Join(attachmentsDir, "notes.txt")
	for _, p := range []string{expired, fresh, unnamed} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}

	sweepAttachments()

	_, err := os.Stat(expired)
	assert.True(t, os.IsNotExist(err), "expired attachment should be removed")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh attachment should survive")
	_, err = os.Stat(unnamed)
	assert.NoError(t, err, "files without a timestamp prefix are left alone")
}

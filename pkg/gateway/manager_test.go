package gateway

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"scholar/pkg/api"
	"scholar/pkg/llm"
	"scholar/pkg/monitor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

//----------------------------------------------------------------
// Fakes
//----------------------------------------------------------------

type fakeChannel struct {
	mu       sync.Mutex
	id       string
	started  bool
	stopped  bool
	ctx      ChannelContext
	sent     []string
	streamed []llm.ContentBlock
	signals  []string
	startErr error
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Start(ctx ChannelContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.ctx = ctx
	return c.startErr
}

func (c *fakeChannel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

func (c *fakeChannel) Send(_ SessionContext, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, message)
	return nil
}

func (c *fakeChannel) Stream(_ SessionContext, blocks <-chan llm.ContentBlock) error {
	for block := range blocks {
		c.mu.Lock()
		c.streamed = append(c.streamed, block)
		c.mu.Unlock()
	}
	return nil
}

// signalingChannel adds signal support on top of fakeChannel.
type signalingChannel struct {
	fakeChannel
}

func (c *signalingChannel) SendSignal(_ SessionContext, signal string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, signal)
	return nil
}

type recordingMonitor struct {
	mu       sync.Mutex
	started  bool
	messages []monitor.MonitorMessage
}

func (m *recordingMonitor) Start() error { m.started = true; return nil }
func (m *recordingMonitor) Stop() error  { return nil }

func (m *recordingMonitor) OnMessage(msg monitor.MonitorMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *recordingMonitor) byType(msgType string) []monitor.MonitorMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []monitor.MonitorMessage
	for _, msg := range m.messages {
		if msg.MessageType == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func webSession() SessionContext {
	return SessionContext{ChannelID: "web", UserID: "1", ChatID: "1", Username: "tester"}
}

//----------------------------------------------------------------
// Routing
//----------------------------------------------------------------

func TestGateway_RegisterAndGet(t *testing.T) {
	g := NewGatewayManager()
	first := &fakeChannel{id: "web"}
	g.Register(first)

	got, ok := g.GetChannel("web")
	require.True(t, ok)
	assert.Same(t, Channel(first), got)

	_, ok = g.GetChannel("telegram")
	assert.False(t, ok)

	// Same ID replaces.
	second := &fakeChannel{id: "web"}
	g.Register(second)
	got, _ = g.GetChannel("web")
	assert.Same(t, Channel(second), got)
}

func TestGateway_SendReply(t *testing.T) {
	g := NewGatewayManager()
	mon := &recordingMonitor{}
	g.SetMonitor(mon)
	ch := &fakeChannel{id: "web"}
	g.Register(ch)

	require.NoError(t, g.SendReply(webSession(), "the answer"))
	assert.Equal(t, []string{"the answer"}, ch.sent)

	replies := mon.byType("ASSISTANT")
	require.Len(t, replies, 1)
	assert.Equal(t, "the answer", replies[0].Content)

	err := g.SendReply(SessionContext{ChannelID: "missing"}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestGateway_SendSignal(t *testing.T) {
	g := NewGatewayManager()
	sig := &signalingChannel{fakeChannel{id: "web"}}
	plain := &fakeChannel{id: "cli"}
	g.Register(sig)
	g.Register(plain)

	require.NoError(t, g.SendSignal(webSession(), "thinking"))
	assert.Equal(t, []string{"thinking"}, sig.signals)

	// Channels without signal support swallow signals silently.
	assert.NoError(t, g.SendSignal(SessionContext{ChannelID: "cli"}, "thinking"))

	assert.Error(t, g.SendSignal(SessionContext{ChannelID: "missing"}, "thinking"))
}

func TestGateway_StreamReply(t *testing.T) {
	g := NewGatewayManager()
	mon := &recordingMonitor{}
	g.SetMonitor(mon)
	ch := &fakeChannel{id: "web"}
	g.Register(ch)

	blocks := make(chan llm.ContentBlock, 4)
	blocks <- llm.NewTextBlock("Hello ")
	blocks <- llm.NewThinkingBlock("hmm")
	blocks <- llm.NewTextBlock("world")
	close(blocks)

	require.NoError(t, g.StreamReply(webSession(), blocks))

	// Every block reaches the channel in order.
	require.Len(t, ch.streamed, 3)
	assert.Equal(t, "Hello ", ch.streamed[0].Text)
	assert.Equal(t, llm.BlockTypeThinking, ch.streamed[1].Type)

	// The monitor sees the assembled text only.
	replies := mon.byType("ASSISTANT")
	require.Len(t, replies, 1)
	assert.Equal(t, "Hello world", replies[0].Content)
}

func TestGateway_OnMessage(t *testing.T) {
	g := NewGatewayManager()
	mon := &recordingMonitor{}
	g.SetMonitor(mon)

	var handled []*UnifiedMessage
	g.SetMessageHandler(func(msg *UnifiedMessage) { handled = append(handled, msg) })

	msg := &UnifiedMessage{Session: webSession(), Content: "a question"}
	g.OnMessage("web", msg)

	require.Len(t, handled, 1)
	assert.Same(t, msg, handled[0])

	questions := mon.byType("USER")
	require.Len(t, questions, 1)
	assert.Equal(t, "a question", questions[0].Content)
}

func TestGateway_OnMessageWithoutHandler(t *testing.T) {
	g := NewGatewayManager()
	assert.NotPanics(t, func() {
		g.OnMessage("web", &UnifiedMessage{Session: webSession(), Content: "x"})
	})
}

func TestGateway_StartAllStopAll(t *testing.T) {
	g := NewGatewayManager()
	a := &fakeChannel{id: "a"}
	b := &fakeChannel{id: "b"}
	g.Register(a)
	g.Register(b)

	require.NoError(t, g.StartAll())
	assert.True(t, a.started)
	assert.True(t, b.started)
	assert.Same(t, ChannelContext(g), a.ctx)

	g.StopAll()
	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
}

func TestGateway_StartAllPropagatesFailure(t *testing.T) {
	g := NewGatewayManager()
	g.Register(&fakeChannel{id: "bad", startErr: errors.New("port busy")})

	err := g.StartAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

//----------------------------------------------------------------
// Builder
//----------------------------------------------------------------

type builderEngine struct {
	responder api.MessageResponder
	handled   []*api.UnifiedMessage
}

func (e *builderEngine) OnMessage(msg *api.UnifiedMessage) { e.handled = append(e.handled, msg) }
func (e *builderEngine) SetResponder(r api.MessageResponder) {
	e.responder = r
}
func (e *builderEngine) RegisterTool(...api.Tool) error { return nil }

func TestBuilder_WiresEverything(t *testing.T) {
	mon := &recordingMonitor{}
	engine := &builderEngine{}
	explicit := &fakeChannel{id: "web"}
	dynamic := &fakeChannel{id: "telegram"}

	gw, err := NewGatewayBuilder().
		WithMonitor(mon).
		WithChannel(explicit).
		WithChannelLoader(func(g *GatewayManager) { g.Register(dynamic) }).
		WithAgentEngine(engine).
		Build()
	require.NoError(t, err)

	assert.True(t, mon.started)
	assert.True(t, explicit.started, "explicit channels start during Build")
	assert.True(t, dynamic.started, "loader-registered channels start during Build")
	assert.Same(t, api.MessageResponder(gw), engine.responder)

	// Inbound messages reach the engine through the gateway.
	gw.OnMessage("web", &UnifiedMessage{Session: webSession(), Content: "hi"})
	require.Len(t, engine.handled, 1)

	gw.StopAll()
}

func TestBuilder_ChannelStartFailure(t *testing.T) {
	_, err := NewGatewayBuilder().
		WithChannel(&fakeChannel{id: "bad", startErr: errors.New("boom")}).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start channels")
}

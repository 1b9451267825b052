// Package gateway routes messages between communication channels and the
// research engine. Channels deliver normalized messages in; the engine
// replies back out through the same gateway, which also mirrors the
// conversation to an optional monitor.
package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scholar/pkg/llm"
	"scholar/pkg/monitor"
)

// GatewayManager owns all registered channels and routes messages in both
// directions. It implements api.ChannelContext for channels and
// api.MessageResponder for the engine.
type GatewayManager struct {
	channels      map[string]Channel
	msgHandler    MessageHandler
	monitor       monitor.Monitor
	channelBuffer int
	mu            sync.RWMutex
}

// NewGatewayManager creates an empty gateway.
func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels:      make(map[string]Channel),
		channelBuffer: 100,
	}
}

// SetChannelBuffer sets the buffer size of internally created block channels.
func (g *GatewayManager) SetChannelBuffer(size int) {
	if size > 0 {
		g.channelBuffer = size
	}
}

// SetMessageHandler sets the core handler invoked for every inbound message.
func (g *GatewayManager) SetMessageHandler(handler MessageHandler) {
	g.msgHandler = handler
}

// SetMonitor attaches a conversation monitor.
func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

// Register adds a channel. Later registrations with the same ID replace
// earlier ones.
func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel returns a registered channel by ID.
func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// StartAll starts every registered channel. The first failure aborts startup.
func (g *GatewayManager) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("🚀 Starting channel", "channel", id)
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll stops every registered channel, logging (not propagating) errors.
func (g *GatewayManager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("🛑 Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("❌ Error stopping channel", "channel", id, "error", err)
		}
	}
}

// SendReply delivers a complete text reply to the originating channel.
func (g *GatewayManager) SendReply(session SessionContext, content string) error {
	g.broadcast("ASSISTANT", session.ChannelID, session.Username, content)

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// SendSignal forwards a control signal (thinking, tool progress) to channels
// that support signaling. Channels without signal support ignore it silently.
func (g *GatewayManager) SendSignal(session SessionContext, signal string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	if sc, ok := c.(SignalingChannel); ok {
		slog.Debug("📡 Signal", "channel", session.ChannelID, "signal", signal)
		return sc.SendSignal(session, signal)
	}
	return nil
}

// StreamReply pipes a block stream to the originating channel. The stream is
// wrapped so the assembled text can be broadcast to the monitor once the
// stream completes.
func (g *GatewayManager) StreamReply(session SessionContext, blocks <-chan llm.ContentBlock) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	wrapped := make(chan llm.ContentBlock, g.channelBuffer)
	go func() {
		defer close(wrapped)
		var full string
		for block := range blocks {
			if block.Type == llm.BlockTypeText {
				full += block.Text
			}
			wrapped <- block
		}
		if full != "" {
			g.broadcast("ASSISTANT", session.ChannelID, session.Username, full)
		}
	}()

	return c.Stream(session, wrapped)
}

// OnMessage implements api.ChannelContext: channels hand inbound messages
// here and the gateway forwards them to the core handler.
func (g *GatewayManager) OnMessage(channelID string, msg *UnifiedMessage) {
	slog.Info("📨 Inbound message",
		"channel", channelID,
		"user", msg.Session.Username,
		"user_id", msg.Session.UserID,
		"length", len(msg.Content))

	g.broadcast("USER", channelID, msg.Session.Username, msg.Content)

	if g.msgHandler == nil {
		slog.Warn("⚠️ No message handler set, dropping message", "channel", channelID)
		return
	}
	g.msgHandler(msg)
}

func (g *GatewayManager) broadcast(msgType, channelID, username, content string) {
	if g.monitor == nil || content == "" {
		return
	}
	g.monitor.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: msgType,
		ChannelID:   channelID,
		Username:    username,
		Content:     content,
	})
}

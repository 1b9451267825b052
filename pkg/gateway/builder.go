package gateway

import (
	"fmt"

	"scholar/pkg/api"
	"scholar/pkg/config"
	"scholar/pkg/monitor"
)

// GatewayBuilder provides a fluent builder pattern interface for constructing
// and initializing a GatewayManager with all its necessary dependencies.
//
// All components (channels, engine, monitor) are pre-built and injected as
// instances; the builder assembles and starts them.
type GatewayBuilder struct {
	gw           *GatewayManager
	monitor      monitor.Monitor
	systemConfig *config.SystemConfig
	channels     []api.Channel
	loader       func(*GatewayManager)
	engine       api.AgentEngine
}

// NewGatewayBuilder creates a fresh GatewayBuilder instance and allocates
// an internal GatewayManager to be configured.
func NewGatewayBuilder() *GatewayBuilder {
	return &GatewayBuilder{
		gw: NewGatewayManager(),
	}
}

// WithMonitor injects a monitoring implementation into the builder.
// This monitor will be started automatically during the Build() process.
func (b *GatewayBuilder) WithMonitor(m monitor.Monitor) *GatewayBuilder {
	b.monitor = m
	return b
}

// WithSystemConfig provides engine-level technical parameters used to size
// internal buffers.
func (b *GatewayBuilder) WithSystemConfig(cfg *config.SystemConfig) *GatewayBuilder {
	b.systemConfig = cfg
	return b
}

// WithChannel adds pre-built channel instances to the gateway.
func (b *GatewayBuilder) WithChannel(channels ...api.Channel) *GatewayBuilder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithChannelLoader registers a callback that loads channels from dynamic
// configuration. It runs during Build(), after explicitly added channels
// are registered and before anything starts.
func (b *GatewayBuilder) WithChannelLoader(loader func(*GatewayManager)) *GatewayBuilder {
	b.loader = loader
	return b
}

// WithAgentEngine injects the research engine. The builder wires the engine
// as the gateway's message handler and injects the gateway back into the
// engine as its responder.
func (b *GatewayBuilder) WithAgentEngine(engine api.AgentEngine) *GatewayBuilder {
	b.engine = engine
	return b
}

// Build finalizes the configuration, injects all dependencies into the
// GatewayManager, registers all channels, and starts everything.
// Returns the fully operational GatewayManager or an error if any stage fails.
func (b *GatewayBuilder) Build() (*GatewayManager, error) {
	if b.systemConfig != nil {
		b.gw.SetChannelBuffer(b.systemConfig.InternalChannelBuffer)
	}

	if b.monitor != nil {
		b.gw.SetMonitor(b.monitor)
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	for _, c := range b.channels {
		b.gw.Register(c)
	}

	if b.loader != nil {
		b.loader(b.gw)
	}

	if b.engine != nil {
		b.engine.SetResponder(b.gw)
		b.gw.SetMessageHandler(b.engine.OnMessage)
	}

	if err := b.gw.StartAll(); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}

	return b.gw, nil
}

package channels

import (
	"log/slog"

	"scholar/pkg/gateway"

	jsoniter "github.com/json-iterator/go"
)

// LoadFromConfig acts as the central orchestration point for dynamic
// channel initialization. It iterates through the provided configuration
// map, resolves factories, and registers the resulting channels with
// the GatewayManager.
func LoadFromConfig(gw *gateway.GatewayManager, configs map[string]jsoniter.RawMessage, deps Deps) {
	for name, rawConfig := range configs {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("⚠️ Unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, deps)
		if err != nil {
			slog.Error("❌ Failed to create channel", "name", name, "error", err)
			continue
		}

		// A nil channel without error means the factory declined (e.g.,
		// disabled in config); skip quietly.
		if channel == nil {
			continue
		}

		gw.Register(channel)
		slog.Info("✅ Channel registered", "name", name)
	}
}

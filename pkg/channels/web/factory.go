package web

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"scholar/pkg/channels"
	"scholar/pkg/gateway"
)

// WebFactory builds the web channel from raw channel config.
type WebFactory struct{}

// Create implements channels.ChannelFactory.
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, deps channels.Deps) (gateway.Channel, error) {
	pCfg := WebConfig{Port: 8080}

	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
			return nil, fmt.Errorf("failed to parse web config: %w", err)
		}
	}
	if pCfg.Port <= 0 {
		pCfg.Port = 8080
	}

	return NewWebChannel(pCfg, deps.Sessions), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}

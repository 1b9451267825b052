package telegram

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"scholar/pkg/channels"
	"scholar/pkg/gateway"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramFactory builds Telegram channels from raw channel config.
type TelegramFactory struct{}

// Create implements channels.ChannelFactory.
func (f *TelegramFactory) Create(rawConfig jsoniter.RawMessage, deps channels.Deps) (gateway.Channel, error) {
	var tgCfg TelegramConfig
	if err := json.Unmarshal(rawConfig, &tgCfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}

	if tgCfg.Token == "" {
		return nil, fmt.Errorf("missing telegram token")
	}

	msgLimit := 0
	if deps.System != nil {
		msgLimit = deps.System.TelegramMessageLimit
	}
	return NewTelegramChannel(tgCfg, msgLimit)
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}

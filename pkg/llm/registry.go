package llm

import (
	"scholar/pkg/config"
)

// ProviderGroupConfig defines the configuration of one provider group.
// It is the standard input handed to a ProviderFactory.
type ProviderGroupConfig struct {
	Type                string         `json:"type"`
	APIKeys             []string       `json:"api_keys,omitempty"`
	Models              []string       `json:"models"`
	BaseURL             string         `json:"base_url,omitempty"`
	UseThoughtSignature bool           `json:"use_thought_signature,omitempty"`
	Options             map[string]any `json:"options,omitempty"`
}

// ProviderFactory builds LLM clients from a group configuration.
type ProviderFactory interface {
	// Create builds one atomic client per model in the group.
	Create(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) ([]LLMClient, error)
}

// Global provider registry.
var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider registers a provider factory under a type name.
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory looks up a registered provider factory.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}

package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// deployment-level settings: channel credentials, LLM providers and the
// endpoints of the capability backends.
type Config struct {
	// Channels contains a map of channel identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the configuration for the LLM provider groups in raw JSON.
	LLM jsoniter.RawMessage `json:"llm"`
	// Store selects and configures the conversation store backend.
	Store *StoreConfig `json:"store"`
	// Retrieval configures the Supabase vector index used by document
	// search. Document search stays unregistered when this is absent.
	Retrieval *RetrievalConfig `json:"retrieval"`
	// Search optionally overrides the web search endpoint.
	Search *SearchConfig `json:"search"`
	// Market optionally overrides the market data endpoint.
	Market *MarketConfig `json:"market"`
	// MCP configures the optional MCP server that re-exports the tool
	// registry to external agent clients.
	MCP *MCPConfig `json:"mcp"`
	// SystemPrompt is the global persona/instruction string sent to the AI
	// as the initial system message in every conversation.
	SystemPrompt string `json:"system_prompt"`
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	// Type is "file", "redis" or "memory". Empty means "file".
	Type string `json:"type"`
	// Dir is the directory for the file store. Empty means "./data".
	Dir string `json:"dir"`
	// Addr, Password and DB configure the redis store.
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// TTLHours expires redis sessions after this many hours. Zero keeps
	// them forever.
	TTLHours int `json:"ttl_hours"`
}

// RetrievalConfig points document search at a Supabase project.
type RetrievalConfig struct {
	SupabaseURL string `json:"supabase_url"`
	SupabaseKey string `json:"supabase_key"`
	// QueryFunction is the vector match RPC. Empty means "match_chunks".
	QueryFunction string `json:"query_function"`
	// OpenAIAPIKey funds the query embeddings.
	OpenAIAPIKey string `json:"openai_api_key"`
	// EmbeddingModel defaults to text-embedding-3-small.
	EmbeddingModel string `json:"embedding_model"`
	// BaseURL optionally redirects the embeddings API.
	BaseURL string `json:"base_url"`
}

// SearchConfig tunes the web search backend.
type SearchConfig struct {
	// Endpoint overrides the DuckDuckGo lite endpoint.
	Endpoint string `json:"endpoint"`
	// Disabled removes web search from the toolkit.
	Disabled bool `json:"disabled"`
}

// MarketConfig tunes the financial data backend.
type MarketConfig struct {
	// BaseURL overrides the Yahoo Finance chart API host.
	BaseURL string `json:"base_url"`
	// Disabled removes the financial tools from the toolkit.
	Disabled bool `json:"disabled"`
}

// MCPConfig controls the MCP SSE server.
type MCPConfig struct {
	Enabled bool `json:"enabled"`
	// Addr is the listen address, e.g. ":8811".
	Addr string `json:"addr"`
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	if c.Retrieval != nil {
		if c.Retrieval.SupabaseURL == "" || c.Retrieval.SupabaseKey == "" {
			return fmt.Errorf("'retrieval' requires supabase_url and supabase_key")
		}
		if c.Retrieval.OpenAIAPIKey == "" {
			return fmt.Errorf("'retrieval' requires openai_api_key for query embeddings")
		}
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance, reliability, and technical behavior of the research engine.
type SystemConfig struct {
	// MaxToolRounds bounds the tool-calling loop within one turn. When the
	// model still wants tools after this many rounds, the engine forces a
	// final answer with tools withheld.
	MaxToolRounds int `json:"max_tool_rounds"`
	// MaxRetries is the number of times the system will attempt to
	// recover from a transient LLM or network error before giving up.
	MaxRetries int `json:"max_retries"`
	// MaxContinuations is the maximum number of automatic content
	// continuation requests when the LLM response is truncated due to length limits.
	MaxContinuations int `json:"max_continuations"`
	// RetryDelayMs is the duration to wait (in milliseconds) between
	// consecutive retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for one full
	// turn of LLM work. The context will be cancelled if exceeded.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer defines the size of the internal Go channels
	// used for buffering stream chunks to prevent production blocking.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// ThinkingInitDelayMs is the time to wait (in milliseconds) after a
	// user message before showing the "AI is thinking" status in the UI.
	ThinkingInitDelayMs int `json:"thinking_init_delay_ms"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses will be split into multiple chunks.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// RetrievalMatchCount is the default number of chunks a document
	// search returns when the model does not ask for a specific count.
	RetrievalMatchCount int `json:"retrieval_match_count"`
	// WebResultLimit is the default number of web search results.
	WebResultLimit int `json:"web_result_limit"`
	// MetricPatterns optionally replaces the built-in metric extraction
	// regexes (metric name to pattern with one numeric capture group).
	MetricPatterns map[string]string `json:"metric_patterns"`
	// ShowThinking determines whether the AI's internal reasoning process (thinking blocks)
	// should be streamed and displayed to the end user.
	ShowThinking bool `json:"show_thinking"`
	// DebugChunks enables saving every raw LLM response chunk to the /debug
	// folder for inspection and troubleshooting purposes.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// EnableTools globally toggles the tool calling (agentic) functionality.
	// If false, the AI will not be provided with any external tools/capabilities.
	EnableTools bool `json:"enable_tools"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxToolRounds:         6,
		MaxRetries:            3,
		MaxContinuations:      5,
		RetryDelayMs:          500,
		LLMTimeoutMs:          600000,
		OllamaDefaultURL:      "http://localhost:11434",
		InternalChannelBuffer: 100,
		ThinkingInitDelayMs:   500,
		TelegramMessageLimit:  4000,
		RetrievalMatchCount:   5,
		WebResultLimit:        5,
		ShowThinking:          true,
		LogLevel:              "info",
		EnableTools:           true,
	}
}

// Load reads and parses the JSON configuration files from the current working directory.
// It first attempts to load 'config.json' (app config). If this file is missing, it returns an error.
// Then it calls LoadSystemConfig to load 'system.json'.
// Returns pointers to the loaded Config and SystemConfig, or an error if the mandatory app config fails.
func Load() (*Config, *SystemConfig, error) {
	// 1. Load Application Config
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// 1a. Validate structure integrity
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	// 2. Load System Config independently
	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg // Parse failed, use defaults
	}

	return cfg
}

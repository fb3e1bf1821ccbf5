// Package config provides configuration types for foundry-chat.
package config

import "time"

// Config represents the main foundry-chat configuration.
type Config struct {
	OpenAI  OpenAIConfig  `toml:"openai" yaml:"openai"`
	Foundry FoundryConfig `toml:"foundry" yaml:"foundry"`
	Search  SearchConfig  `toml:"search" yaml:"search"`
	Log     LogConfig     `toml:"log" yaml:"log"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// OpenAIConfig configures the chat completion requests.
type OpenAIConfig struct {
	MaxTokens             int    `toml:"max_tokens" yaml:"max_tokens"`
	SystemPrompt          string `toml:"system_prompt" yaml:"system_prompt"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds" yaml:"request_timeout_seconds"` // 0 = no timeout
	ModelID               string `toml:"model_id" yaml:"model_id"`                               // preselection hint only
}

// FoundryConfig configures the local inference service.
type FoundryConfig struct {
	Host                    string   `toml:"host" yaml:"host"` // empty = discover
	Port                    int      `toml:"port" yaml:"port"` // 0 = discover
	LoadModelTimeoutSeconds int      `toml:"load_model_timeout_seconds" yaml:"load_model_timeout_seconds"`
	StartCommand            []string `toml:"start_command" yaml:"start_command"`
	StopCommand             []string `toml:"stop_command" yaml:"stop_command"`
	Completion              string   `toml:"completion" yaml:"completion"` // openai, native
}

// SearchConfig configures the retrieval augmentation provider.
type SearchConfig struct {
	Provider       string `toml:"provider" yaml:"provider"` // google, duckduckgo, none
	APIKey         string `toml:"api_key" yaml:"api_key"`
	SearchEngineID string `toml:"search_engine_id" yaml:"search_engine_id"`
	MaxResults     int    `toml:"max_results" yaml:"max_results"`
	Fold           string `toml:"fold" yaml:"fold"`         // inline, instruction
	Endpoint       string `toml:"endpoint" yaml:"endpoint"` // provider base URL override
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// MetricsConfig configures the CLI metrics listener.
type MetricsConfig struct {
	Addr string `toml:"addr" yaml:"addr"` // empty = disabled
}

// Search providers.
const (
	ProviderGoogle     = "google"
	ProviderDuckDuckGo = "duckduckgo"
	ProviderNone       = "none"
)

// Fold modes.
const (
	FoldInline      = "inline"
	FoldInstruction = "instruction"
)

// Completion transports.
const (
	CompletionOpenAI = "openai"
	CompletionNative = "native"
)

// RequestTimeout returns the HTTP request timeout; zero means no timeout.
func (c OpenAIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// LoadModelTimeout returns the bounded wait for a model load.
func (c FoundryConfig) LoadModelTimeout() time.Duration {
	return time.Duration(c.LoadModelTimeoutSeconds) * time.Second
}

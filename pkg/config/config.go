package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "foundry-chat.toml"

// Environment overrides, applied after the file.
const (
	EnvSearchAPIKey   = "FOUNDRY_CHAT_SEARCH_API_KEY"
	EnvSearchEngineID = "FOUNDRY_CHAT_SEARCH_ENGINE_ID"
	EnvHost           = "FOUNDRY_CHAT_HOST"
	EnvLogLevel       = "FOUNDRY_CHAT_LOG_LEVEL"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			MaxTokens: 4096,
		},
		Foundry: FoundryConfig{
			LoadModelTimeoutSeconds: 600,
			Completion:              CompletionOpenAI,
		},
		Search: SearchConfig{
			Provider:   ProviderDuckDuckGo,
			MaxResults: 5,
			Fold:       FoldInline,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads the configuration from the given path.
// If the file doesn't exist, returns defaults with environment overrides.
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := decode(configPath, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	}

	applyEnv(cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys: %v", undecoded)
		}
		return nil
	}
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvSearchAPIKey); v != "" {
		cfg.Search.APIKey = v
	}
	if v := getenv(EnvSearchEngineID); v != "" {
		cfg.Search.SearchEngineID = v
	}
	if v := getenv(EnvHost); v != "" {
		host, port, ok := strings.Cut(v, ":")
		cfg.Foundry.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Foundry.Port = p
			}
		}
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects out-of-range numbers and unknown enum values.
func (c *Config) Validate() error {
	if c.OpenAI.MaxTokens <= 0 {
		return fmt.Errorf("openai.max_tokens must be positive, got %d", c.OpenAI.MaxTokens)
	}
	if c.OpenAI.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("openai.request_timeout_seconds must not be negative")
	}
	if c.Foundry.LoadModelTimeoutSeconds <= 0 {
		return fmt.Errorf("foundry.load_model_timeout_seconds must be positive, got %d", c.Foundry.LoadModelTimeoutSeconds)
	}
	if c.Foundry.Port < 0 || c.Foundry.Port > 65535 {
		return fmt.Errorf("foundry.port out of range: %d", c.Foundry.Port)
	}
	switch c.Foundry.Completion {
	case CompletionOpenAI, CompletionNative:
	default:
		return fmt.Errorf("unknown foundry.completion %q", c.Foundry.Completion)
	}
	switch c.Search.Provider {
	case ProviderGoogle, ProviderDuckDuckGo, ProviderNone, "":
	default:
		return fmt.Errorf("unknown search.provider %q", c.Search.Provider)
	}
	switch c.Search.Fold {
	case FoldInline, FoldInstruction:
	default:
		return fmt.Errorf("unknown search.fold %q", c.Search.Fold)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// LogLevel returns the parsed log level, falling back to info.
func (c *Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}

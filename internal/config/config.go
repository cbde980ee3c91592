package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"persona-chat/internal/llm"
)

const (
	MemoryBackendJSON   = "json"
	MemoryBackendSQLite = "sqlite"

	defaultPort        = 5050
	defaultDataDir     = "./data"
	defaultMaxMessages = 30
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Memory  MemoryConfig  `yaml:"memory"`
	Persona PersonaConfig `yaml:"persona"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port      int             `yaml:"port"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds chat requests per contact. A zero PerMinute disables it.
type RateLimitConfig struct {
	PerMinute float64 `yaml:"per_minute"`
	Burst     int     `yaml:"burst"`
}

// LLMConfig captures provider selection, credentials and retry policy.
type LLMConfig struct {
	Provider           string   `yaml:"provider"`
	APIKey             string   `yaml:"api_key"`
	SecondaryAPIKey    string   `yaml:"secondary_api_key"`
	Model              string   `yaml:"model"`
	FallbackModels     []string `yaml:"fallback_models"`
	MaxRetries         int      `yaml:"max_retries"`
	BaseDelaySeconds   float64  `yaml:"base_delay_seconds"`
	CallTimeoutSeconds float64  `yaml:"call_timeout_seconds"`
}

// MemoryConfig selects the conversation store.
type MemoryConfig struct {
	Backend     string `yaml:"backend"`
	DataDir     string `yaml:"data_dir"`
	MaxMessages int    `yaml:"max_messages"`
}

// PersonaConfig customises the system prompt. Empty fields fall back to the
// persona package defaults.
type PersonaConfig struct {
	Speaker            string            `yaml:"speaker"`
	TargetContact      string            `yaml:"target_contact"`
	DefaultSalutation  string            `yaml:"default_salutation"`
	IntimateSalutation string            `yaml:"intimate_salutation"`
	AllowIntimate      bool              `yaml:"allow_intimate"`
	Nicknames          map[string]string `yaml:"nicknames"`
	CoreValues         []string          `yaml:"core_values"`
	Tone               string            `yaml:"tone"`
	TermsOfUse         string            `yaml:"terms_of_use"`
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Default returns the configuration used when no file is given.
func Default() Config {
	llmDefaults := llm.DefaultConfig()
	return Config{
		Server: ServerConfig{Port: defaultPort},
		LLM: LLMConfig{
			Provider:           llmDefaults.Provider,
			Model:              llmDefaults.Model,
			FallbackModels:     llmDefaults.FallbackModels,
			MaxRetries:         llmDefaults.MaxRetries,
			BaseDelaySeconds:   llmDefaults.BaseDelay.Seconds(),
			CallTimeoutSeconds: llmDefaults.CallTimeout.Seconds(),
		},
		Memory: MemoryConfig{
			Backend:     MemoryBackendJSON,
			DataDir:     defaultDataDir,
			MaxMessages: defaultMaxMessages,
		},
	}
}

// Load reads YAML configuration from disk, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if lookup != nil {
		if err := applyEnv(&cfg, lookup); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := get("PROVIDER"); ok {
		cfg.LLM.Provider = v
	}
	if v, ok := get("GEMINI_API_KEY"); ok {
		cfg.LLM.APIKey = v
	}
	if v, ok := get("GOOGLE_API_KEY"); ok {
		cfg.LLM.SecondaryAPIKey = v
	}
	if v, ok := get("GEMINI_MODEL"); ok {
		cfg.LLM.Model = v
	}
	if v, ok := get("GEMINI_FALLBACK_MODELS"); ok {
		cfg.LLM.FallbackModels = llm.ParseModelList(v)
	}
	if v, ok := get("GEMINI_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GEMINI_MAX_RETRIES: %w", err)
		}
		cfg.LLM.MaxRetries = n
	}
	if v, ok := get("GEMINI_RETRY_BASE_DELAY"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("GEMINI_RETRY_BASE_DELAY: %w", err)
		}
		cfg.LLM.BaseDelaySeconds = f
	}
	if v, ok := get("DATA_DIR"); ok {
		cfg.Memory.DataDir = v
	}
	if v, ok := get("MEMORY_BACKEND"); ok {
		cfg.Memory.Backend = strings.ToLower(v)
	}
	if v, ok := get("TARGET_CONTACT"); ok {
		cfg.Persona.TargetContact = v
	}
	if v, ok := get("SAPAAN_DEFAULT"); ok {
		cfg.Persona.DefaultSalutation = v
	}
	if v, ok := get("SAPAAN_INTIMATE"); ok {
		cfg.Persona.IntimateSalutation = v
	}
	if v, ok := get("ALLOW_INTIMATE"); ok {
		cfg.Persona.AllowIntimate = parseBool(v)
	}

	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

// Validate performs strict sanity checks on the configuration. Provider and
// credential are not checked here; the orchestrator reports them per request.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.RateLimit.PerMinute < 0 {
		return fmt.Errorf("server.rate_limit.per_minute must not be negative, got %v", c.Server.RateLimit.PerMinute)
	}
	if c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit.burst must not be negative, got %d", c.Server.RateLimit.Burst)
	}

	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.BaseDelaySeconds < 0 {
		return fmt.Errorf("llm.base_delay_seconds must not be negative, got %v", c.LLM.BaseDelaySeconds)
	}
	if c.LLM.CallTimeoutSeconds < 0 {
		return fmt.Errorf("llm.call_timeout_seconds must not be negative, got %v", c.LLM.CallTimeoutSeconds)
	}

	switch c.Memory.Backend {
	case MemoryBackendJSON, MemoryBackendSQLite:
	default:
		return fmt.Errorf("memory.backend %q must be one of %q or %q", c.Memory.Backend, MemoryBackendJSON, MemoryBackendSQLite)
	}
	if strings.TrimSpace(c.Memory.DataDir) == "" {
		return errors.New("memory.data_dir must be provided")
	}
	if c.Memory.MaxMessages <= 0 {
		return fmt.Errorf("memory.max_messages must be positive, got %d", c.Memory.MaxMessages)
	}

	for nick, value := range c.Persona.Nicknames {
		if strings.TrimSpace(nick) == "" || strings.TrimSpace(value) == "" {
			return fmt.Errorf("persona.nicknames entry %q must have a non-empty key and value", nick)
		}
	}

	return nil
}

// OrchestratorConfig converts the LLM section for the orchestrator.
func (c LLMConfig) OrchestratorConfig() llm.Config {
	return llm.Config{
		Provider:        c.Provider,
		APIKey:          c.APIKey,
		SecondaryAPIKey: c.SecondaryAPIKey,
		Model:           c.Model,
		FallbackModels:  append([]string(nil), c.FallbackModels...),
		MaxRetries:      c.MaxRetries,
		BaseDelay:       seconds(c.BaseDelaySeconds),
		CallTimeout:     seconds(c.CallTimeoutSeconds),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

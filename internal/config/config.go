// Package config handles agentchat configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mfateev/agentchat/internal/mcp"
	"github.com/mfateev/agentchat/internal/temporalclient"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
)

// Config is the worker configuration.
type Config struct {
	Temporal temporalclient.Settings     `yaml:"temporal"`
	Store    StoreConfig                 `yaml:"store"`
	Queue    QueueConfig                 `yaml:"queue"`
	LLM      LLMConfig                   `yaml:"llm"`
	MCP      map[string]mcp.ServerConfig `yaml:"mcp_servers"`
	Log      LogConfig                   `yaml:"log"`

	// SeedFile is a YAML file of agents, tool records, data windows and
	// documents written to the store at startup.
	SeedFile string `yaml:"seed_file"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Backend  string `yaml:"backend"` // memory or mongo
	MongoURI string `yaml:"mongo_uri"`
	Database string `yaml:"database"`
}

// QueueConfig selects the async tool response queue.
type QueueConfig struct {
	Backend       string `yaml:"backend"` // memory or redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
}

// LLMConfig holds provider credentials and the shared token budget.
type LLMConfig struct {
	OpenAIAPIKey    string  `yaml:"openai_api_key"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	InitialTPM      float64 `yaml:"initial_tpm"`
	MaxTPM          float64 `yaml:"max_tpm"`

	// MaxContextTokens rejects turns whose estimated transcript size exceeds
	// it. Zero disables the check.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// LogConfig controls clue output.
type LogConfig struct {
	Format string `yaml:"format"` // json or terminal
	Debug  bool   `yaml:"debug"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	return &Config{
		Temporal: temporalclient.Settings{TaskQueue: temporalclient.DefaultTaskQueue},
		Store:    StoreConfig{Backend: BackendMemory, Database: "agentchat"},
		Queue:    QueueConfig{Backend: BackendMemory, Prefix: "agentchat"},
		LLM:      LLMConfig{InitialTPM: 60000, MaxTPM: 200000, MaxContextTokens: 120000},
		Log:      LogConfig{Format: "terminal"},
	}
}

// Load reads a YAML file over the defaults. Environment variables referenced
// as ${VAR} in the file are expanded first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	set(&c.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	set(&c.Store.Backend, "AGENTCHAT_STORE")
	set(&c.Store.MongoURI, "AGENTCHAT_MONGO_URI")
	set(&c.Store.Database, "AGENTCHAT_MONGO_DATABASE")
	set(&c.Queue.Backend, "AGENTCHAT_QUEUE")
	set(&c.Queue.RedisAddr, "AGENTCHAT_REDIS_ADDR")
	set(&c.Queue.RedisPassword, "AGENTCHAT_REDIS_PASSWORD")
	set(&c.Temporal.TaskQueue, "AGENTCHAT_TASK_QUEUE")
	set(&c.SeedFile, "AGENTCHAT_SEED_FILE")
	set(&c.Log.Format, "AGENTCHAT_LOG_FORMAT")

	if v := getenv("AGENTCHAT_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTCHAT_REDIS_DB: %w", err)
		}
		c.Queue.RedisDB = db
	}
	if v := getenv("AGENTCHAT_MAX_CONTEXT_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTCHAT_MAX_CONTEXT_TOKENS: %w", err)
		}
		c.LLM.MaxContextTokens = n
	}
	if v := getenv("AGENTCHAT_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AGENTCHAT_DEBUG: %w", err)
		}
		c.Log.Debug = debug
	}
	return nil
}

// Validate checks backend selections and MCP server definitions.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("store: mongo backend requires mongo_uri")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	switch c.Queue.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue: redis backend requires redis_addr")
		}
	default:
		return fmt.Errorf("queue: unknown backend %q", c.Queue.Backend)
	}

	if c.LLM.OpenAIAPIKey == "" && c.LLM.AnthropicAPIKey == "" {
		return fmt.Errorf("llm: set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}
	for name, srv := range c.MCP {
		if err := srv.Validate(); err != nil {
			return fmt.Errorf("mcp server %s: %w", name, err)
		}
	}
	return nil
}

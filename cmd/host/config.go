package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// AppConfig holds all configuration for the host, loaded from the
// environment and the tool-server config file. Values here are the
// process-wide defaults; a start-session request may override the provider
// selection per session.
type AppConfig struct {
	Port         string
	RedisAddr    string
	WorkDir      string
	ToolEncoding string

	Provider      string
	Model         string
	APIKey        string
	OpenAIBaseURL string
	OllamaBaseURL string
	Temperature   *float32
	ContextSize   int
	MaxRPS        int
	Stream        bool

	ToolServers []ToolServerConfig
}

// ToolServerConfig describes one external MCP tool server from servers.yaml.
type ToolServerConfig struct {
	Name     string   `yaml:"name"`
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`
	Disabled bool     `yaml:"disabled"`
}

type serversFile struct {
	Servers []ToolServerConfig `yaml:"servers"`
}

// LoadConfig loads all configuration from a .env file and environment
// variables, plus the optional servers.yaml tool-server catalog.
func LoadConfig() (*AppConfig, error) {
	// Only attempt to load a .env file in local development. In containers
	// (GIN_MODE="release") configuration is provided directly as
	// environment variables.
	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load(); err != nil {
			log.Warn().Msg("no .env file found for local development")
		}
	}

	cfg := &AppConfig{
		Port:         envOr("PORT", "8000"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		WorkDir:      envOr("WORK_DIR", "./"),
		ToolEncoding: envOr("TOOL_CALL_ENCODING", "raw"),

		Provider:      envOr("LLM_PROVIDER", "ollama"),
		Model:         envOr("LLM_MODEL", "qwen2.5-coder:latest"),
		APIKey:        os.Getenv("LLM_API_KEY"),
		OpenAIBaseURL: envOr("OPENAI_BASE_URL", "https://openrouter.ai/api/v1"),
		OllamaBaseURL: envOr("OLLAMA_BASE_URL", "http://localhost:11434"),
	}

	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		t, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid LLM_TEMPERATURE %q: %w", v, err)
		}
		temp := float32(t)
		cfg.Temperature = &temp
	}
	if v := os.Getenv("LLM_CONTEXT_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LLM_CONTEXT_SIZE %q: %w", v, err)
		}
		cfg.ContextSize = size
	}
	cfg.MaxRPS = 100
	if v := os.Getenv("LLM_MAX_RPS"); v != "" {
		rps, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LLM_MAX_RPS %q: %w", v, err)
		}
		cfg.MaxRPS = rps
	}
	cfg.Stream = os.Getenv("LLM_STREAM") == "true"

	servers, err := loadToolServers(os.Getenv("SERVERS_CONFIG"))
	if err != nil {
		return nil, err
	}
	cfg.ToolServers = servers

	return cfg, nil
}

// loadToolServers parses the servers.yaml catalog. A missing path simply
// means no external servers; the builtin in-process server is always wired
// in by the handler regardless.
func loadToolServers(path string) ([]ToolServerConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool server config %s: %w", path, err)
	}
	var parsed serversFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse tool server config %s: %w", path, err)
	}

	var enabled []ToolServerConfig
	for _, srv := range parsed.Servers {
		if srv.Disabled {
			continue
		}
		if srv.Name == "" || srv.Command == "" {
			return nil, fmt.Errorf("tool server entries require a name and a command")
		}
		enabled = append(enabled, srv)
	}
	return enabled, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

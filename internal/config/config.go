// Package config provides configuration for agentmux.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/agentmux/internal/domain"
)

// Config holds the agentmux configuration.
type Config struct {
	// Server settings
	HTTPPort int
	RPCPort  int

	// Database
	DatabaseURL string

	// Ingress relay; empty disables forwarding
	IngressURL string

	// Auth settings
	APIKey string

	// Multiplexer
	TmuxBinary   string
	TmuxSocket   string
	HistoryLimit int
	SpawnGrace   time.Duration

	// Output extraction
	PollInterval time.Duration
	StableWindow time.Duration
	MaxWait      time.Duration

	// Transcript logs
	ClaudeProjectsDir string
	TranscriptStable  time.Duration

	// Interactive choice detection
	ChoicePollInterval time.Duration
	ChoiceTailLines    int

	// Discussions
	DiscussionClipChars int
	DiscussionTimeout   time.Duration

	// Dispatch policy; empty uses the built-in policy
	PolicyFile string

	// Agents
	AgentsFile string
	Agents     []domain.AgentSpec

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables and the optional agents file.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		RPCPort:             getEnvInt("RPC_PORT", 0),
		DatabaseURL:         getEnv("DATABASE_URL", "file:agentmux.db?cache=shared&mode=rwc"),
		IngressURL:          getEnv("INGRESS_URL", ""),
		APIKey:              getEnv("API_KEY", ""),
		TmuxBinary:          getEnv("TMUX_BINARY", "tmux"),
		TmuxSocket:          getEnv("TMUX_SOCKET", "agentmux"),
		HistoryLimit:        getEnvInt("TMUX_HISTORY_LIMIT", 1000000),
		SpawnGrace:          getEnvDuration("SPAWN_GRACE_MS", 120),
		PollInterval:        getEnvDuration("POLL_INTERVAL_MS", 300),
		StableWindow:        getEnvDuration("STABLE_WINDOW_MS", 3500),
		MaxWait:             getEnvDuration("MAX_WAIT_MS", 600000),
		ClaudeProjectsDir:   getEnv("CLAUDE_PROJECTS_DIR", defaultClaudeProjectsDir()),
		TranscriptStable:    getEnvDuration("TRANSCRIPT_STABLE_MS", 2000),
		ChoicePollInterval:  getEnvDuration("CHOICE_POLL_INTERVAL_MS", 600),
		ChoiceTailLines:     getEnvInt("CHOICE_TAIL_LINES", 120),
		DiscussionClipChars: getEnvInt("DISCUSSION_CLIP_CHARS", 1500),
		DiscussionTimeout:   getEnvDuration("DISCUSSION_TIMEOUT_MS", 1800000),
		PolicyFile:          getEnv("POLICY_FILE", ""),
		AgentsFile:          getEnv("AGENTS_FILE", ""),
		PingInterval:        getEnvDuration("WS_PING_INTERVAL_MS", 30000),
		WriteTimeout:        getEnvDuration("WS_WRITE_TIMEOUT_MS", 10000),
		ReadTimeout:         getEnvDuration("WS_READ_TIMEOUT_MS", 60000),
		MaxMessageSize:      int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	if cfg.AgentsFile != "" {
		agents, err := LoadAgentsFile(cfg.AgentsFile)
		if err != nil {
			return nil, err
		}
		cfg.Agents = agents
	} else {
		cfg.Agents = DefaultAgents(getEnv("AGENT_WORK_DIR", currentDir()))
	}
	return cfg, nil
}

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool {
	return c.LogLevel == "debug"
}

// Agent returns the configured agent with the given id.
func (c *Config) Agent(id string) (domain.AgentSpec, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return domain.AgentSpec{}, false
}

type agentsFile struct {
	Agents []domain.AgentSpec `yaml:"agents"`
}

// LoadAgentsFile reads agent definitions from a YAML file.
func LoadAgentsFile(path string) ([]domain.AgentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}
	return ParseAgents(data)
}

// ParseAgents decodes and validates a YAML agents document.
func ParseAgents(data []byte) ([]domain.AgentSpec, error) {
	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %w", err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("agents file defines no agents")
	}

	seen := make(map[string]bool, len(f.Agents))
	for i := range f.Agents {
		a := &f.Agents[i]
		if a.ID == "" {
			return nil, fmt.Errorf("agent %d: id is required", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("agent %s: duplicate id", a.ID)
		}
		seen[a.ID] = true
		if a.Kind == "" {
			a.Kind = domain.AgentKindGeneric
		}
		if len(a.Command) == 0 {
			a.Command = defaultCommand(a.Kind)
		}
		if len(a.Command) == 0 {
			return nil, fmt.Errorf("agent %s: command is required for kind %s", a.ID, a.Kind)
		}
		if a.WorkDir == "" {
			a.WorkDir = currentDir()
		}
	}
	return f.Agents, nil
}

// DefaultAgents returns the built-in claude, gemini and codex agents rooted at workDir.
func DefaultAgents(workDir string) []domain.AgentSpec {
	return []domain.AgentSpec{
		{ID: "claude", Kind: domain.AgentKindClaude, Name: "Claude", WorkDir: workDir, Command: defaultCommand(domain.AgentKindClaude)},
		{ID: "gemini", Kind: domain.AgentKindGemini, Name: "Gemini", WorkDir: workDir, Command: defaultCommand(domain.AgentKindGemini)},
		{ID: "codex", Kind: domain.AgentKindCodex, Name: "Codex", WorkDir: workDir, Command: defaultCommand(domain.AgentKindCodex)},
	}
}

func defaultCommand(kind domain.AgentKind) []string {
	switch kind {
	case domain.AgentKindClaude:
		return []string{"claude"}
	case domain.AgentKindGemini:
		return []string{"gemini"}
	case domain.AgentKindCodex:
		return []string{"codex"}
	}
	return nil
}

func defaultClaudeProjectsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.claude/projects"
}

func currentDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}

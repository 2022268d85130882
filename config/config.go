package config

import "time"

// Config is the complete runtime configuration. Values resolve in three
// layers: defaults, then the YAML file, then environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server" env:"SERVER"`
	Agent    AgentConfig    `yaml:"agent" env:"AGENT"`
	LLM      LLMConfig      `yaml:"llm" env:"LLM"`
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`
	Telegram TelegramConfig `yaml:"telegram" env:"TELEGRAM"`
	Store    StoreConfig    `yaml:"store" env:"STORE"`
	Audit    AuditConfig    `yaml:"audit" env:"AUDIT"`
	Cron     CronConfig     `yaml:"cron" env:"CRON"`
	Log      LogConfig      `yaml:"log" env:"LOG"`
}

// ServerConfig configures the dashboard HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// AgentConfig configures the default agent identity.
type AgentConfig struct {
	Name         string        `yaml:"name" env:"NAME"`
	Model        string        `yaml:"model" env:"MODEL"`
	SystemPrompt string        `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	Temperature  float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens    int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LLMConfig configures provider adapters. Providers are tried in order
// when failover is enabled.
type LLMConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig configures one provider endpoint. The API key is read
// from the named environment variable, never from the file itself.
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	// RequestsPerMinute bounds calls to this provider; 0 disables the
	// limiter.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// WorkflowConfig configures the recipe engine.
type WorkflowConfig struct {
	// RecipeDir is where named recipes are looked up.
	RecipeDir string `yaml:"recipe_dir" env:"RECIPE_DIR"`
	// ApprovalTimeout bounds how long a gated step waits for a human
	// decision; 0 waits forever.
	ApprovalTimeout time.Duration `yaml:"approval_timeout" env:"APPROVAL_TIMEOUT"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	TokenEnv     string        `yaml:"token_env" env:"TOKEN_ENV"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// AllowedChats restricts which chat ids the bot answers; empty
	// means all chats.
	AllowedChats []int64 `yaml:"allowed_chats"`
}

// StoreConfig configures run archival.
type StoreConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// AuditConfig configures the audit event log.
type AuditConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// CronConfig holds scheduled recipe triggers.
type CronConfig struct {
	Jobs []CronJobConfig `yaml:"jobs"`
}

// CronJobConfig maps one cron schedule to a recipe.
type CronJobConfig struct {
	Name     string            `yaml:"name"`
	Schedule string            `yaml:"schedule"`
	Recipe   string            `yaml:"recipe"`
	Vars     map[string]string `yaml:"vars"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

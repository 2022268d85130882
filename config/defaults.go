package config

import "time"

// DefaultConfig returns the base configuration before file and
// environment overrides apply.
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Agent:    DefaultAgentConfig(),
		Workflow: DefaultWorkflowConfig(),
		Telegram: DefaultTelegramConfig(),
		Store:    StoreConfig{Path: "miniclaw.db"},
		Audit:    AuditConfig{Path: "audit.jsonl"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// DefaultServerConfig returns the default HTTP server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8600",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultAgentConfig returns the default agent identity.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Name:         "miniclaw",
		Model:        "gpt-4o-mini",
		SystemPrompt: "You are a helpful personal assistant.",
		Temperature:  0.7,
		MaxTokens:    4096,
		Timeout:      2 * time.Minute,
	}
}

// DefaultWorkflowConfig returns the default workflow engine settings.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		RecipeDir:       "workflows",
		ApprovalTimeout: 0,
	}
}

// DefaultTelegramConfig returns the default Telegram channel settings.
func DefaultTelegramConfig() TelegramConfig {
	return TelegramConfig{
		Enabled:      false,
		TokenEnv:     "TELEGRAM_BOT_TOKEN",
		PollInterval: 2 * time.Second,
	}
}

package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/miniclaw/miniclaw/agent"
	"github.com/miniclaw/miniclaw/config"
	"github.com/miniclaw/miniclaw/llm"
	"github.com/miniclaw/miniclaw/llm/providers"
	"github.com/miniclaw/miniclaw/usage"
)

// app bundles the collaborators every command starts from.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	runtime *agent.Runtime
	usage   *usage.Tracker
}

// newApp loads .env and configuration, then wires the logger, the
// provider chain, and the agent runtime.
func newApp(cmd *cobra.Command) (*app, error) {
	// Missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.NewLoader().
		WithConfigPath(configPath).
		Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := newLogger(cfg.Log, verbose)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	tracker := usage.NewTracker(logger)
	runtime := agent.NewRuntime(provider,
		agent.WithLogger(logger),
		agent.WithModel(cfg.Agent.Model),
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agent.WithSampling(cfg.Agent.Temperature, cfg.Agent.MaxTokens),
		agent.WithTimeout(cfg.Agent.Timeout),
		agent.WithUsageRecorder(tracker),
	)

	return &app{cfg: cfg, logger: logger, runtime: runtime, usage: tracker}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// buildProvider assembles the provider chain from configuration: each
// endpoint gets its own rate limit, and multiple endpoints fail over in
// order.
func buildProvider(cfg *config.Config, logger *zap.Logger) (llm.Provider, error) {
	if len(cfg.LLM.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	chain := make([]llm.Provider, 0, len(cfg.LLM.Providers))
	for _, pc := range cfg.LLM.Providers {
		apiKey := ""
		if pc.APIKeyEnv != "" {
			apiKey = os.Getenv(pc.APIKeyEnv)
			if apiKey == "" {
				logger.Warn("provider API key env is empty",
					zap.String("provider", pc.Name),
					zap.String("env", pc.APIKeyEnv),
				)
			}
		}
		model := pc.Model
		if model == "" {
			model = cfg.Agent.Model
		}
		opts := []providers.OpenAIOption{}
		if pc.Timeout > 0 {
			opts = append(opts, providers.WithHTTPTimeout(pc.Timeout))
		}
		var provider llm.Provider = providers.NewOpenAICompatible(pc.Name, pc.BaseURL, apiKey, model, opts...)
		provider = llm.NewRateLimited(provider, pc.RequestsPerMinute)
		chain = append(chain, provider)
	}

	if len(chain) == 1 {
		return chain[0], nil
	}
	return llm.NewFailover(logger, chain...), nil
}

func newLogger(cfg config.LogConfig, verbose bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/agent"
	"github.com/miniclaw/miniclaw/api"
	"github.com/miniclaw/miniclaw/audit"
	"github.com/miniclaw/miniclaw/bus"
	"github.com/miniclaw/miniclaw/channels"
	"github.com/miniclaw/miniclaw/channels/telegram"
	"github.com/miniclaw/miniclaw/internal/metrics"
	"github.com/miniclaw/miniclaw/internal/server"
	"github.com/miniclaw/miniclaw/scheduler"
	"github.com/miniclaw/miniclaw/store"
	"github.com/miniclaw/miniclaw/workflow"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant service: API, channels, and cron schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return runServe(cmd.Context(), a)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	runStore, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	auditLog, err := audit.Open(cfg.Audit.Path, logger)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = auditLog.Close() }()

	collector := metrics.NewCollector("miniclaw", prometheus.DefaultRegisterer, logger)

	approvalOpts := []bus.ApprovalsOption{}
	if cfg.Workflow.ApprovalTimeout > 0 {
		approvalOpts = append(approvalOpts, bus.WithTimeout(cfg.Workflow.ApprovalTimeout))
	}
	approvals := bus.NewApprovals(logger, approvalOpts...)

	runner := workflow.NewRunner(a.runtime,
		workflow.WithLogger(logger),
		workflow.WithApprovalGate(approvals),
		workflow.WithResultStore(runStore),
		workflow.WithEventSink(workflow.FanoutSink{
			workflow.LoggingSink(logger),
			auditLog,
			collector.EventSink(),
		}),
	)
	library := workflow.NewLibrary(cfg.Workflow.RecipeDir)

	apiServer := api.NewServer(runner, library, logger,
		api.WithApprovals(approvals),
		api.WithArchive(runStore),
		api.WithUsage(a.usage),
	)
	httpServer := server.NewManager(apiServer.Router(), cfg.Server, logger)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	manager := channels.NewManager(channelHandler(a), logger)
	if cfg.Telegram.Enabled {
		token := os.Getenv(cfg.Telegram.TokenEnv)
		if token == "" {
			return fmt.Errorf("telegram enabled but %s is empty", cfg.Telegram.TokenEnv)
		}
		tg := telegram.New(telegram.Config{
			Token:        token,
			PollInterval: cfg.Telegram.PollInterval,
			AllowedChats: cfg.Telegram.AllowedChats,
		}, logger)
		if err := manager.Register(tg); err != nil {
			return err
		}
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	cronScheduler := scheduler.New(runner, library, cfg.Cron.Jobs, logger)
	cronScheduler.Start()

	logger.Info("miniclaw serving",
		zap.String("addr", httpServer.Addr()),
		zap.Bool("telegram", cfg.Telegram.Enabled),
		zap.Int("cron_jobs", cronScheduler.Entries()),
	)

	httpServer.WaitForShutdown()

	cronScheduler.Stop()
	if err := manager.Stop(); err != nil {
		logger.Warn("channel shutdown", zap.Error(err))
	}
	logger.Info("miniclaw stopped")
	return nil
}

// channelHandler routes chat messages to the agent, keyed per
// conversation for usage accounting.
func channelHandler(a *app) channels.Handler {
	return func(ctx context.Context, msg *channels.IncomingMessage) (string, error) {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			return "", nil
		}
		return a.runtime.ProcessDirect(ctx, content, agent.ProcessOptions{
			SessionKey: msg.Channel + ":" + msg.ChatID,
		})
	}
}

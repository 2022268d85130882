// Package scheduler triggers recipes on cron schedules. Each configured
// job maps a schedule expression to a recipe name plus fixed variables.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/config"
	"github.com/miniclaw/miniclaw/workflow"
)

// Submitter starts a workflow run; satisfied by workflow.Runner.
type Submitter interface {
	Submit(ctx context.Context, recipe *workflow.Recipe, vars map[string]string) (string, error)
}

// RecipeSource resolves recipe names; satisfied by workflow.Library.
type RecipeSource interface {
	Load(name string) (*workflow.Recipe, error)
}

// Scheduler owns the cron loop.
type Scheduler struct {
	cron    *cron.Cron
	runs    Submitter
	recipes RecipeSource
	logger  *zap.Logger
	entries int
}

// New creates a scheduler and registers every configured job. Jobs with
// invalid schedules are logged and skipped so one bad entry does not take
// the rest down.
func New(runs Submitter, recipes RecipeSource, jobs []config.CronJobConfig, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		runs:    runs,
		recipes: recipes,
		logger:  logger.With(zap.String("component", "scheduler")),
	}
	for _, job := range jobs {
		if err := s.register(job); err != nil {
			s.logger.Warn("skipping cron job",
				zap.String("name", job.Name),
				zap.String("schedule", job.Schedule),
				zap.Error(err),
			)
		}
	}
	return s
}

func (s *Scheduler) register(job config.CronJobConfig) error {
	if job.Recipe == "" {
		return fmt.Errorf("job %q has no recipe", job.Name)
	}
	_, err := s.cron.AddFunc(job.Schedule, func() { s.fire(job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	s.entries++
	s.logger.Info("cron job registered",
		zap.String("name", job.Name),
		zap.String("schedule", job.Schedule),
		zap.String("recipe", job.Recipe),
	)
	return nil
}

func (s *Scheduler) fire(job config.CronJobConfig) {
	recipe, err := s.recipes.Load(job.Recipe)
	if err != nil {
		s.logger.Error("cron job recipe failed to load",
			zap.String("name", job.Name),
			zap.String("recipe", job.Recipe),
			zap.Error(err),
		)
		return
	}
	runID, err := s.runs.Submit(context.Background(), recipe, job.Vars)
	if err != nil {
		s.logger.Error("cron job submission failed",
			zap.String("name", job.Name),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("cron job fired",
		zap.String("name", job.Name),
		zap.String("recipe", job.Recipe),
		zap.String("run_id", runID),
	)
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int { return s.entries }

// Start begins firing jobs on schedule.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for in-flight job callbacks.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

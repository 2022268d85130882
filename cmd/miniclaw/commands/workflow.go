package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miniclaw/miniclaw/workflow"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and run workflow recipes",
	}
	cmd.AddCommand(newWorkflowListCmd(), newWorkflowRunCmd())
	return cmd
}

func newWorkflowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recipes in the recipe directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			names, err := workflow.NewLibrary(a.cfg.Workflow.RecipeDir).List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no recipes in %s\n", a.cfg.Workflow.RecipeDir)
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newWorkflowRunCmd() *cobra.Command {
	var varFlags []string

	cmd := &cobra.Command{
		Use:   "run <recipe>",
		Short: "Run a recipe and print the step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}
			recipe, err := workflow.NewLibrary(a.cfg.Workflow.RecipeDir).Load(args[0])
			if err != nil {
				return err
			}

			runner := workflow.NewRunner(a.runtime,
				workflow.WithLogger(a.logger),
				workflow.WithEventSink(workflow.LoggingSink(a.logger)),
			)
			result, err := runner.Run(cmd.Context(), recipe, vars)
			if err != nil {
				return err
			}

			printResult(cmd, result)
			if result.Status != workflow.RunCompleted {
				return fmt.Errorf("run %s %s", result.RunID, result.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "template variable as key=value (repeatable)")
	return cmd
}

func parseVars(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(flags))
	for _, kv := range flags {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", kv)
		}
		vars[key] = value
	}
	return vars, nil
}

func printResult(cmd *cobra.Command, result *workflow.RunResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s (%s) %s in %s\n", result.RunID, result.Recipe, result.Status, result.Duration)
	for _, step := range result.Steps {
		fmt.Fprintf(out, "  %-20s %s", step.StepID, step.Status)
		if step.Attempts > 1 {
			fmt.Fprintf(out, " (attempts: %d)", step.Attempts)
		}
		if step.Err != nil {
			fmt.Fprintf(out, " [%s] %s", step.Err.Code, step.Err.Message)
		}
		fmt.Fprintln(out)
		if step.Output != "" {
			for _, line := range strings.Split(strings.TrimRight(step.Output, "\n"), "\n") {
				fmt.Fprintf(out, "      %s\n", line)
			}
		}
	}
}

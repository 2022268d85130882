package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miniclaw/miniclaw/agent"
)

func newChatCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message to the assistant and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			reply, err := a.runtime.ProcessDirect(cmd.Context(), strings.Join(args, " "), agent.ProcessOptions{
				SessionKey: "cli",
				Model:      model,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "override the configured model")
	return cmd
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history SESSION_ID",
		Short: "Print the stored messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := opts.client().History(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetch history: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No messages in %s\n", args[0])
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format(time.DateTime), speaker(string(m.Role)), m.Content)
			}
			fmt.Fprintf(out, "%d messages\n", len(msgs))
			return nil
		},
	}
}

func speaker(role string) string {
	if role == "user" {
		return "you"
	}
	return "interviewer"
}

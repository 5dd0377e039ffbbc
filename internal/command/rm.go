package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewRmCmd creates the rm command.
func NewRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <msgid>",
		Short: "Delete a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			msg, err := resolveMessageRef(ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if msg.Deleted() {
				return writeCommandError(cmd, fmt.Errorf("message #%s is already deleted", msg.ID))
			}
			if err := ctx.Backend.Delete(context.Background(), msg.ID); err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"id": msg.ID, "deleted": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted #%s\n", msg.ID)
			return nil
		},
	}

	return cmd
}

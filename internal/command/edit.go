package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewEditCmd creates the edit command.
func NewEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <msgid> <message>",
		Short: "Edit a message you posted",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if err := requireUser(ctx); err != nil {
				return writeCommandError(cmd, err)
			}

			msg, err := resolveMessageRef(ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if msg.FromAgent != ctx.Username {
				return writeCommandError(cmd, fmt.Errorf("cannot edit message from @%s", msg.FromAgent))
			}

			updated, err := ctx.Backend.Edit(context.Background(), msg.ID, strings.Join(args[1:], " "))
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), updated)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Edited #%s\n", updated.ID)
			return nil
		},
	}

	return cmd
}

package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewReactCmd creates the react command.
func NewReactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "react <msgid> <reaction>",
		Short: "Add or remove a reaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if err := requireUser(ctx); err != nil {
				return writeCommandError(cmd, err)
			}
			remove, _ := cmd.Flags().GetBool("remove")

			msg, err := resolveMessageRef(ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := ctx.Backend.React(context.Background(), msg.ID, args[1], ctx.Username, !remove); err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"id":       msg.ID,
					"reaction": args[1],
					"user":     ctx.Username,
					"added":    !remove,
				})
			}
			verb := "Reacted"
			if remove {
				verb = "Removed reaction"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s on #%s\n", verb, args[1], msg.ID)
			return nil
		},
	}

	cmd.Flags().Bool("remove", false, "remove the reaction instead of adding it")

	return cmd
}

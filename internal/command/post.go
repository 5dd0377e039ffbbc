package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/adamavenir/frayline/internal/core"
	"github.com/spf13/cobra"
)

// NewPostCmd creates the post command.
func NewPostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <message>",
		Short: "Post a message to the conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if err := requireUser(ctx); err != nil {
				return writeCommandError(cmd, err)
			}

			body := strings.Join(args, " ")
			if strings.TrimSpace(body) == "" {
				return writeCommandError(cmd, fmt.Errorf("message is empty"))
			}

			created, err := ctx.Backend.Post(context.Background(), ctx.ChannelID, ctx.Username, body)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] Posted as @%s\n", core.GetGUIDPrefix(created.ID, 8), created.FromAgent)
			return nil
		},
	}

	return cmd
}

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/adamavenir/frayline/internal/core"
	"github.com/adamavenir/frayline/internal/db"
	"github.com/adamavenir/frayline/internal/pagination"
	"github.com/adamavenir/frayline/internal/types"
	"github.com/spf13/cobra"
)

type historyPayload struct {
	ChannelID string                `json:"channel_id"`
	Messages  []types.MessageRecord `json:"messages"`
	HasMore   bool                  `json:"has_more"`
}

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show one page of conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			limit, _ := cmd.Flags().GetInt("last")
			before, _ := cmd.Flags().GetString("before")
			includeDeleted, _ := cmd.Flags().GetBool("deleted")
			if limit <= 0 {
				limit = ctx.Config.Pagination.PageSize
			}

			dir := pagination.Latest
			var cursor *types.SequenceKey
			if before != "" {
				msg, err := resolveMessageRef(ctx, before)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				key := msg.Key()
				cursor = &key
				dir = pagination.Older
			}

			page, err := db.GetMessagePage(context.Background(), ctx.DB, ctx.ChannelID, dir, cursor, limit)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			messages := page.Records
			if !includeDeleted {
				live := messages[:0]
				for _, msg := range messages {
					if !msg.Deleted() {
						live = append(live, msg)
					}
				}
				messages = live
			}

			if ctx.JSONMode {
				if messages == nil {
					messages = []types.MessageRecord{}
				}
				return writeJSON(cmd.OutOrStdout(), historyPayload{ChannelID: ctx.ChannelID, Messages: messages, HasMore: page.HasMore})
			}

			out := cmd.OutOrStdout()
			if len(messages) == 0 {
				fmt.Fprintf(out, "No messages in %s\n", ctx.ChannelID)
				return nil
			}
			count, err := db.CountMessages(ctx.DB, ctx.ChannelID)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			prefixLength := core.GetDisplayPrefixLength(count)
			now := time.Now()
			for _, msg := range messages {
				fmt.Fprintln(out, formatMessageLine(msg, prefixLength, now))
			}
			if page.HasMore {
				fmt.Fprintf(out, "(older messages: --before #%s)\n", core.GetGUIDPrefix(messages[0].ID, prefixLength))
			}
			return nil
		},
	}

	cmd.Flags().Int("last", 0, "number of messages (defaults to the configured page size)")
	cmd.Flags().String("before", "", "show messages before this message id")
	cmd.Flags().Bool("deleted", false, "include deleted messages")

	return cmd
}

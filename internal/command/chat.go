package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adamavenir/frayline/internal/chat"
	"github.com/adamavenir/frayline/internal/feed"
	"github.com/adamavenir/frayline/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewChatCmd creates the interactive chat command.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the conversation in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return writeCommandError(cmd, fmt.Errorf("chat needs an interactive terminal; use history or post instead"))
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if err := requireUser(ctx); err != nil {
				return writeCommandError(cmd, err)
			}

			logger, logFile, err := setupLogging(ctx.Project, ctx.Config.LogLevel)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer logFile.Close()

			opts := session.OptionsFromConfig(ctx.Config)
			opts.User = ctx.Username
			opts.Logger = logger

			tail := feed.NewTail(ctx.Project.EventsPath, feed.Options{Logger: logger})
			sessions := session.NewManager(ctx.Backend, tail, ctx.Backend, opts)
			defer func() {
				if err := sessions.CloseAll(); err != nil {
					logger.Warn("session close", "err", err)
				}
			}()
			sess, err := sessions.Open(context.Background(), ctx.ChannelID)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			runErr := chat.Run(chat.Options{
				Session:     sess,
				Actions:     ctx.Backend,
				ProjectName: filepath.Base(ctx.Project.Root),
				Username:    ctx.Username,
				Logger:      logger,
			})
			if runErr != nil {
				return writeCommandError(cmd, runErr)
			}
			return nil
		},
	}

	return cmd
}

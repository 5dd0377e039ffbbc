package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "frayline"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Frayline - conversation sync engine and terminal chat",
		Long:          "Frayline keeps a local view of a conversation in sync with its backend: paged history, realtime events, optimistic sends, scroll anchoring and unread tracking.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("in", "", "conversation to use (defaults to channel_id from config)")
	cmd.PersistentFlags().String("as", "", "user to act as (defaults to username from config)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		NewInitCmd(),
		NewChatCmd(),
		NewPostCmd(),
		NewEditCmd(),
		NewRmCmd(),
		NewReactCmd(),
		NewHistoryCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}

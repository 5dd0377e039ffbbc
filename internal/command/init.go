package command

import (
	"fmt"

	"github.com/adamavenir/frayline/internal/core"
	"github.com/adamavenir/frayline/internal/db"
	"github.com/spf13/cobra"
)

type initResult struct {
	Initialized bool   `json:"initialized"`
	Path        string `json:"path"`
	ChannelID   string `json:"channel_id"`
	Username    string `json:"username"`
}

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize frayline in current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			channelID, _ := cmd.Flags().GetString("channel")
			username, _ := cmd.Flags().GetString("username")
			jsonMode, _ := cmd.Flags().GetBool("json")

			project, err := core.InitProject("", force)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			config, err := core.LoadConfig(project.ConfigPath)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if channelID != "" {
				config.ChannelID = channelID
			}
			if username != "" {
				config.Username = stripAt(username)
			}
			if err := config.Validate(); err != nil {
				return writeCommandError(cmd, err)
			}
			if err := core.WriteConfig(project.ConfigPath, config); err != nil {
				return writeCommandError(cmd, err)
			}

			conn, err := db.OpenDatabase(project)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			_ = conn.Close()

			result := initResult{Initialized: true, Path: project.Root, ChannelID: config.ChannelID, Username: config.Username}
			if jsonMode {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized .frayline/ in %s (conversation %s, user @%s)\n", project.Root, config.ChannelID, config.Username)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "reinitialize, discarding the database and event log")
	cmd.Flags().String("channel", "", "default conversation id")
	cmd.Flags().String("username", "", "default user")

	return cmd
}

package command

import (
	"database/sql"
	"fmt"

	"github.com/adamavenir/frayline/internal/core"
	"github.com/adamavenir/frayline/internal/db"
	"github.com/spf13/cobra"
)

// CommandContext provides shared command resources.
type CommandContext struct {
	DB        *sql.DB
	Backend   *db.Backend
	Project   core.Project
	Config    core.Config
	JSONMode  bool
	ChannelID string
	Username  string
}

// GetContext resolves the project, its config and the target conversation.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	jsonMode, _ := cmd.Flags().GetBool("json")
	channelRef, _ := cmd.Flags().GetString("in")
	userRef, _ := cmd.Flags().GetString("as")
	logLevel, _ := cmd.Flags().GetString("log-level")

	project, err := core.DiscoverProject("")
	if err != nil {
		return nil, err
	}
	config, err := core.LoadConfig(project.ConfigPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}

	conn, err := db.OpenDatabase(project)
	if err != nil {
		return nil, err
	}

	ctx := &CommandContext{
		DB:        conn,
		Backend:   db.NewBackend(conn, project.EventsPath, nil),
		Project:   project,
		Config:    config,
		JSONMode:  jsonMode,
		ChannelID: config.ChannelID,
		Username:  config.Username,
	}
	if channelRef != "" {
		ctx.ChannelID = channelRef
	}
	if userRef != "" {
		ctx.Username = stripAt(userRef)
	}
	if ctx.ChannelID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("no conversation: pass --in or set channel_id in %s", project.ConfigPath)
	}
	return ctx, nil
}

// Close releases the database.
func (c *CommandContext) Close() {
	if c.DB != nil {
		_ = c.DB.Close()
	}
}

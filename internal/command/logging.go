package command

import (
	"io"
	"log/slog"
	"os"

	"github.com/adamavenir/frayline/internal/core"
	"github.com/charmbracelet/log"
)

// setupLogging sends engine logs to the project log file. The terminal
// belongs to the chat UI, so nothing is written to stderr.
func setupLogging(project core.Project, level string) (*slog.Logger, io.Closer, error) {
	file, err := os.OpenFile(project.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	handler := log.NewWithOptions(file, log.Options{
		Level:           parsed,
		ReportTimestamp: true,
		Formatter:       log.LogfmtFormatter,
	})
	return slog.New(handler), file, nil
}

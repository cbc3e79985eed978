package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background daemon (usually spawned automatically)",
	Long: `Run the daemon in the foreground. It restores previously loaded index files
from its store, serves the CLI and MCP server over a unix socket, optionally
watches doc roots for rebuilt index files, and exits after a period of
inactivity.`,
	Run: runDaemon,
}

var daemonWatch []string

func init() {
	daemonCmd.Flags().StringSliceVar(&daemonWatch, "watch", nil, "doc roots to watch for rebuilt index files (added to watch.roots)")
}

func runDaemon(cmd *cobra.Command, args []string) {
	logPath := config.LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		slog.Error("failed to create log directory", "error", err)
		os.Exit(1)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("failed to open log file", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()
	// Also captures the daemon package's log.Printf output.
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, nil)))

	var roots []string
	for _, root := range daemonWatch {
		abs, err := filepath.Abs(root)
		if err != nil {
			slog.Error("invalid watch root", "root", root, "error", err)
			os.Exit(1)
		}
		roots = append(roots, abs)
	}

	srv, err := newDaemon(roots)
	if err != nil {
		slog.Error("failed to start daemon", "error", err)
		os.Exit(1)
	}
	if err := srv.Start(context.Background()); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

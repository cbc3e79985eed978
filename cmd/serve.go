package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/daemon"
	"github.com/jcdickinson/ferrisindex/internal/db"
	"github.com/jcdickinson/ferrisindex/internal/mcp"
	"github.com/jcdickinson/ferrisindex/internal/registry"
	"github.com/spf13/cobra"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "ferrisindex",
	Short: "Rust trait implementor and module index MCP server",
	Long: `Loads the implementor and sidebar index files rustdoc writes next to its HTML
output, keeps them in a background daemon, and serves them over MCP.`,
	Run: runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "run daemon in-process (visible log output)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(implementorsCmd)
	rootCmd.AddCommand(traitsCmd)
	rootCmd.AddCommand(sidebarCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(logsCmd)
}

// connectDaemon returns a daemon client. In debug mode the daemon runs
// in-process instead, so its log output goes to the terminal.
func connectDaemon() (*daemon.Client, error) {
	socketPath := config.SocketPath()
	if !debug {
		return daemon.ConnectOrSpawn(socketPath)
	}

	client := daemon.NewClient(socketPath)
	if client.IsAvailable() {
		// Replace the background daemon so this process owns the socket.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client.Shutdown(shutdownCtx)
		cancel()
		time.Sleep(200 * time.Millisecond)
	}

	srv, err := newDaemon(nil)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Start(context.Background()); err != nil {
			log.Printf("in-process daemon error: %v", err)
		}
	}()

	if !client.WaitAvailable(5 * time.Second) {
		return nil, fmt.Errorf("in-process daemon did not start within 5 seconds")
	}
	return client, nil
}

// newDaemon loads the config, opens the configured store and wires a daemon
// server to the process-wide hub. Extra watch roots are added to the
// configured ones.
func newDaemon(watch []string) (*daemon.Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.Watch.Roots = append(cfg.Watch.Roots, watch...)

	dbPath := config.DBPath(cfg.Store.Driver)
	database, err := db.New(cfg.Store.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s database %s: %w", cfg.Store.Driver, dbPath, err)
	}
	return daemon.NewServer(cfg, database, registry.Default, config.SocketPath()), nil
}

func runServe(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	server := mcp.NewServer(client)

	errCh := make(chan error)
	go func() { errCh <- server.Run() }()

	if err := waitForSignal(errCh); err != nil {
		log.Fatalf("server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

func waitForSignal(errCh chan error) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Printf("received signal: %s", sig)
		return nil
	case err := <-errCh:
		return err
	}
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/daemon"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loaded traits, modules and daemon state",
	Run:   runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Status(context.Background())
	if err != nil {
		log.Fatalf("status failed: %v", err)
	}

	if statusJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("  store:        %s (%d artifacts)\n", resp.Driver, resp.Stored)
	fmt.Printf("  traits:       %d (%d implementors)\n", resp.Traits, resp.Implementors)
	fmt.Printf("  modules:      %d (%d items)\n", resp.Modules, resp.SidebarItems)
	if resp.Pending > 0 {
		fmt.Printf("  pending:      %d\n", resp.Pending)
	}
	if len(resp.Libraries) > 0 {
		fmt.Printf("  libraries:    %s\n", strings.Join(resp.Libraries, ", "))
	}
	for _, root := range resp.Watching {
		fmt.Printf("  watching:     %s\n", root)
	}
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every loaded index file from the daemon and its store",
	Run:   runClear,
}

func runClear(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if !client.IsAvailable() {
		fmt.Println("daemon is not running")
		return
	}

	if err := client.Clear(context.Background()); err != nil {
		slog.Error("failed to clear index", "error", err)
		os.Exit(1)
	}
	fmt.Println("index cleared")
}

var forgetCmd = &cobra.Command{
	Use:   "forget <source>",
	Short: "Remove everything one doc root or crate@version loaded",
	Long: `Forget deletes the stored index files of one source, as shown by "load" and
"fetch", and rebuilds the daemon's view from the sources that remain.`,
	Example: `  ferrisindex forget /work/target/doc
  ferrisindex forget mpi@0.6.0`,
	Args: cobra.ExactArgs(1),
	Run:  runForget,
}

func runForget(cmd *cobra.Command, args []string) {
	source := args[0]
	// Local roots are recorded as absolute paths.
	if !strings.Contains(source, "@") {
		if abs, err := filepath.Abs(source); err == nil {
			source = abs
		}
	}

	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Forget(context.Background(), source)
	if err != nil {
		log.Fatalf("forget failed: %v", err)
	}
	fmt.Printf("removed %d artifacts; %d tables remain loaded\n", resp.Removed, resp.Restored)
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Run:   runStop,
}

func runStop(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if !client.IsAvailable() {
		fmt.Println("daemon is not running")
		return
	}

	// The daemon exits right after responding, so a reset connection is expected.
	client.Shutdown(context.Background())
	fmt.Println("daemon stopped")
}

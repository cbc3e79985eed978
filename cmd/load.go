package cmd

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load <doc-root> [doc-root ...]",
	Short: "Load implementor and sidebar index files from rustdoc output",
	Long: `Scan rustdoc output directories for implementors/**/trait.*.js and
**/sidebar-items.js and register them with the daemon. Loading is additive:
files already loaded with the same content are skipped.`,
	Example: `  ferrisindex load target/doc
  ferrisindex load target/doc ../other/target/doc`,
	Args: cobra.MinimumNArgs(1),
	Run:  runLoad,
}

func runLoad(cmd *cobra.Command, args []string) {
	// The daemon has its own working directory.
	var roots []string
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			log.Fatalf("resolving %s: %v", arg, err)
		}
		roots = append(roots, abs)
	}
	load(rpc.LoadRequest{Roots: roots})
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <crate[@version]> <path> [path ...]",
	Short: "Fetch index files for a crate from docs.rs",
	Long:  `Download implementor or sidebar index files by their path inside a crate's docs. Version defaults to "latest".`,
	Example: `  ferrisindex fetch mpi@0.6.0 mpi/request/sidebar-items.js
  ferrisindex fetch crossbeam-channel implementors/core/fmt/trait.Display.js`,
	Args: cobra.MinimumNArgs(2),
	Run:  runFetch,
}

func runFetch(cmd *cobra.Command, args []string) {
	name, version, _ := strings.Cut(args[0], "@")
	load(rpc.LoadRequest{Fetches: []rpc.FetchSpec{{
		Crate:   name,
		Version: version,
		Paths:   args[1:],
	}}})
}

func load(req rpc.LoadRequest) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Load(context.Background(), req, func(msg string) {
		fmt.Printf("  %s\n", msg)
	})
	if err != nil {
		log.Fatalf("failed to load docs: %v", err)
	}

	for _, r := range resp.Results {
		if r.Error != "" {
			fmt.Printf("  %s: error: %s\n", r.Source, r.Error)
			continue
		}
		fmt.Printf("  %s: %d artifacts (%d entries), %d unchanged\n", r.Source, r.Artifacts, r.Entries, r.Unchanged)
		for _, e := range r.Errors {
			fmt.Printf("    skipped: %s\n", e)
		}
	}
}

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"github.com/spf13/cobra"
)

var implementorsCmd = &cobra.Command{
	Use:   "implementors <trait>",
	Short: "List the implementations of a trait",
	Example: `  ferrisindex implementors core::fmt::Display
  ferrisindex implementors --library log core::fmt::Display`,
	Args: cobra.ExactArgs(1),
	Run:  runImplementors,
}

var (
	implementorsLibrary string
	implementorsSource  string
)

func init() {
	implementorsCmd.Flags().StringVar(&implementorsLibrary, "library", "", "only show one library")
	implementorsCmd.Flags().StringVar(&implementorsSource, "source", "", "only what one doc root or crate@version stored")
}

func runImplementors(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Implementors(context.Background(), rpc.ImplementorsRequest{
		Trait:   args[0],
		Library: implementorsLibrary,
		Source:  implementorsSource,
	})
	if err != nil {
		log.Fatalf("lookup failed: %v", err)
	}
	fmt.Print(resp.Markdown)
}

var traitsCmd = &cobra.Command{
	Use:   "traits [type]",
	Short: "List the traits a type (or a whole library) implements",
	Example: `  ferrisindex traits SendError
  ferrisindex traits --library aho_corasick FindIter
  ferrisindex traits --library crossbeam_channel`,
	Args: cobra.MaximumNArgs(1),
	Run:  runTraits,
}

var (
	traitsLibrary string
	traitsSource  string
)

func init() {
	traitsCmd.Flags().StringVar(&traitsLibrary, "library", "", "only consider one library")
	traitsCmd.Flags().StringVar(&traitsSource, "source", "", "only what one doc root or crate@version stored")
}

func runTraits(cmd *cobra.Command, args []string) {
	var typeName string
	if len(args) == 1 {
		typeName = args[0]
	}
	if typeName == "" && traitsLibrary == "" {
		log.Fatalf("pass a type name or --library")
	}

	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.TraitsForType(context.Background(), rpc.TraitsForTypeRequest{
		Type:    typeName,
		Library: traitsLibrary,
		Source:  traitsSource,
	})
	if err != nil {
		log.Fatalf("lookup failed: %v", err)
	}

	if len(resp.Results) == 0 {
		fmt.Println("no results")
		return
	}
	for _, ti := range resp.Results {
		auto := ""
		if ti.Synthetic {
			auto = " (auto)"
		}
		fmt.Printf("  %-40s %s%s\n", ti.Trait, ti.Library, auto)
		fmt.Printf("    %s\n", strings.ReplaceAll(ti.Header, "\n", " "))
	}
}

var sidebarCmd = &cobra.Command{
	Use:     "sidebar <module>",
	Short:   "List the items of a module",
	Example: `  ferrisindex sidebar libffi::low`,
	Args:    cobra.ExactArgs(1),
	Run:     runSidebar,
}

var sidebarSource string

func init() {
	sidebarCmd.Flags().StringVar(&sidebarSource, "source", "", "only what one doc root or crate@version stored")
}

func runSidebar(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Sidebar(context.Background(), rpc.SidebarRequest{Module: args[0], Source: sidebarSource})
	if err != nil {
		log.Fatalf("lookup failed: %v", err)
	}
	fmt.Print(resp.Markdown)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Fuzzy search loaded module items and implementing types",
	Example: `  ferrisindex search CodePtr
  ferrisindex search --limit 5 sendbuf`,
	Args: cobra.ExactArgs(1),
	Run:  runSearch,
}

var searchLimit int

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "max results")
}

func runSearch(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Search(context.Background(), rpc.SearchRequest{
		Query: args[0],
		Limit: searchLimit,
	})
	if err != nil {
		log.Fatalf("search failed: %v", err)
	}

	if len(resp.Results) == 0 {
		fmt.Println("no results")
		return
	}

	for i, r := range resp.Results {
		fmt.Printf("%d. [%d] %s (%s) %s\n", i+1, r.Score, r.Path, r.Kind, r.URI)
		if r.Snippet != "" {
			fmt.Printf("   %s\n", r.Snippet)
		}
	}
}

var exportCmd = &cobra.Command{
	Use:   "export <trait-or-module>",
	Short: "Write a loaded trait or module in js, json, yaml or markdown form",
	Long: `Export the merged view of a trait's implementors or a module's items. The js
format reproduces the file rustdoc would write for the same content.`,
	Example: `  ferrisindex export core::fmt::Display > trait.Display.js
  ferrisindex export --kind sidebar --format yaml libffi::low
  ferrisindex export --format markdown -o display.md core::fmt::Display`,
	Args: cobra.ExactArgs(1),
	Run:  runExport,
}

var (
	exportKind   string
	exportFormat string
	exportOutput string
)

func init() {
	exportCmd.Flags().StringVar(&exportKind, "kind", "", "implementors or sidebar (default: try trait, then module)")
	exportCmd.Flags().StringVar(&exportFormat, "format", rpc.FormatJS, "js, json, yaml or markdown")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Export(context.Background(), rpc.ExportRequest{
		Subject: args[0],
		Kind:    exportKind,
		Format:  exportFormat,
	})
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}

	if exportOutput == "" {
		fmt.Print(resp.Content)
		return
	}
	if err := os.WriteFile(exportOutput, []byte(resp.Content), 0644); err != nil {
		log.Fatalf("writing %s: %v", exportOutput, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%s)\n", exportOutput, resp.Path)
}

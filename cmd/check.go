package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/jcdickinson/ferrisindex/internal/docs"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <file-or-dir> [...]",
	Short: "Parse index files and verify they re-serialize byte for byte",
	Long: `Check parses implementor and sidebar index files without contacting the daemon
and writes each one back out, reporting any file whose output differs from the
input. Directories are scanned like doc roots.`,
	Example: `  ferrisindex check target/doc
  ferrisindex check --root target/doc target/doc/libffi/low/sidebar-items.js`,
	Args: cobra.MinimumNArgs(1),
	Run:  runCheck,
}

var (
	checkRoot    string
	checkVerbose bool
)

func init() {
	checkCmd.Flags().StringVar(&checkRoot, "root", ".", "doc root that sidebar file paths are relative to")
	checkCmd.Flags().BoolVarP(&checkVerbose, "verbose", "v", false, "print every checked file")
}

func runCheck(cmd *cobra.Command, args []string) {
	root, err := filepath.Abs(checkRoot)
	if err != nil {
		log.Fatalf("resolving root: %v", err)
	}

	var failed int
	for _, arg := range args {
		failed += checkPath(os.Stdout, arg, root, checkVerbose)
	}
	if failed > 0 {
		fmt.Printf("%d files failed\n", failed)
		os.Exit(1)
	}
}

// checkPath checks a single file or every artifact below a directory and
// returns the number of failures written to out.
func checkPath(out io.Writer, arg, root string, verbose bool) int {
	abs, err := filepath.Abs(arg)
	if err != nil {
		fmt.Fprintf(out, "FAIL %s: %v\n", arg, err)
		return 1
	}
	info, err := os.Stat(abs)
	if err != nil {
		fmt.Fprintf(out, "FAIL %s: %v\n", arg, err)
		return 1
	}

	var artifacts []*docs.Artifact
	failed := 0
	if info.IsDir() {
		loaded, err := docs.LoadDir(context.Background(), abs, 4)
		if loaded == nil && err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", arg, err)
			return 1
		}
		if err != nil {
			for _, msg := range splitJoined(err) {
				fmt.Fprintf(out, "FAIL %s\n", msg)
				failed++
			}
		}
		artifacts = loaded
	} else {
		fileRoot, rel, ok := docs.SplitRoot(abs, []string{root})
		if !ok {
			fmt.Fprintf(out, "FAIL %s: not an index file under %s\n", arg, root)
			return 1
		}
		a, err := docs.LoadFile(fileRoot, rel)
		if err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", arg, err)
			return 1
		}
		artifacts = []*docs.Artifact{a}
	}

	for _, a := range artifacts {
		if err := roundTrip(a); err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", a.Path, err)
			failed++
			continue
		}
		if verbose {
			fmt.Fprintf(out, "ok   %s (%s %s, %d entries)\n", a.Path, a.Kind, a.Subject, a.Len())
		}
	}
	return failed
}

func roundTrip(a *docs.Artifact) error {
	var buf bytes.Buffer
	if err := docs.WriteArtifact(&buf, a); err != nil {
		return err
	}
	if bytes.Equal(buf.Bytes(), a.Raw) {
		return nil
	}
	got := buf.Bytes()
	i := 0
	for i < len(got) && i < len(a.Raw) && got[i] == a.Raw[i] {
		i++
	}
	return fmt.Errorf("output differs at byte %d (wrote %d bytes, read %d)", i, len(got), len(a.Raw))
}

func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}

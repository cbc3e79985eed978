package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon log file",
	Example: `  ferrisindex logs -n 200
  ferrisindex logs -f --grep reload`,
	Run: runLogs,
}

var (
	logsFollow bool
	logsLines  int
	logsGrep   string
	logsPath   bool
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "only show lines containing this text")
	logsCmd.Flags().BoolVar(&logsPath, "path", false, "print the log file location and exit")
}

func runLogs(cmd *cobra.Command, args []string) {
	logPath := config.LogPath()
	if logsPath {
		fmt.Println(logPath)
		return
	}

	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		fmt.Println("no log file found (the daemon has not run yet)")
		return
	}
	if err != nil {
		log.Fatalf("opening log: %v", err)
	}
	defer f.Close()

	for _, line := range lastLines(f, logsLines, logsGrep) {
		fmt.Println(line)
	}
	if logsFollow {
		if err := follow(f, logPath, logsGrep); err != nil {
			log.Fatalf("following log: %v", err)
		}
	}
}

// lastLines returns the final n lines of r that contain match.
func lastLines(r io.Reader, n int, match string) []string {
	if n <= 0 {
		return nil
	}
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if match != "" && !strings.Contains(line, match) {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
	}
	return ring
}

// follow prints lines appended to f until the process is interrupted. f must
// already be positioned at the end of what has been printed.
func follow(f *os.File, path, match string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		return err
	}

	rd := bufio.NewReader(f)
	var partial string
	drain := func() {
		for {
			chunk, err := rd.ReadString('\n')
			partial += chunk
			if err != nil {
				return
			}
			line := strings.TrimSuffix(partial, "\n")
			partial = ""
			if match == "" || strings.Contains(line, match) {
				fmt.Println(line)
			}
		}
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) {
				drain()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

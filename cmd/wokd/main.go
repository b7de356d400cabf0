// Command wokd is the daemon-lifecycle entrypoint (§4.11). Unlike the
// teacher's "bd" binary, it intentionally carries no issue-mutation
// subcommands of its own: those live behind the daemon's IPC surface
// and are driven by a separate client. wokd only runs, stops, and
// reports on the daemon process itself.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is overridden by ldflags at build time.
	Version = "0.1.0-dev"
	Build   = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "wokd",
	Short: "wokd manages the wok sync daemon",
	Long: `wokd runs, stops, and reports on the wok daemon: the process that
owns the materialized SQLite cache, the operation log, and the sync
connection to the configured remote.

Run 'wokd daemon --help' to see the available subcommands.`,
}

func main() {
	rootCmd.AddCommand(daemonCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command wokserver runs the multi-daemon WebSocket sync hub (§4.8, C8)
// that internal/syncws clients connect to when remote.kind is
// "websocket". It owns its own materialized cache and oplog, separate
// from any single daemon's .wok directory, since a hub serves many
// repos' daemons at once.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/wok-oss/wok/internal/obs"
	"github.com/wok-oss/wok/internal/oplog"
	"github.com/wok-oss/wok/internal/storage/sqlite"
	"github.com/wok-oss/wok/internal/syncserver"
)

var (
	addr     = flag.String("addr", ":7420", "address to listen on")
	dataDir  = flag.String("data-dir", ".wok-server", "directory for the hub's database and oplog")
	logFile  = flag.String("log-file", "", "path to a log file (default stderr)")
	logLevel = flag.String("log-level", "info", "log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "wokserver: create data dir %s: %v\n", *dataDir, err)
		os.Exit(1)
	}

	providers, err := obs.Setup(obs.Config{LogFile: *logFile, LogLevel: *logLevel, Version: "wokserver"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "wokserver: set up observability: %v\n", err)
		os.Exit(1)
	}

	db, err := sqlite.Open(filepath.Join(*dataDir, "wok.db"))
	if err != nil {
		fatal(providers.Logger, "open database", err)
	}
	l, err := oplog.Open(filepath.Join(*dataDir, "oplog.jsonl"))
	if err != nil {
		fatal(providers.Logger, "open oplog", err)
	}

	srv := syncserver.New(db, l, providers.Logger)
	mux := http.NewServeMux()
	mux.Handle("/sync", srv.Handler())

	providers.Logger.Info("wokserver listening", "addr", *addr, "data_dir", *dataDir)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		fatal(providers.Logger, "serve", err)
	}
}

func fatal(sl *slog.Logger, action string, err error) {
	sl.Error("wokserver: "+action, "error", err)
	os.Exit(1)
}

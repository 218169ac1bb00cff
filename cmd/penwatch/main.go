// CLAUDE:SUMMARY CLI entry point for penwatch: run the daemon, edit the stored prompt and routes, query a running instance.
// Command penwatch watches the editable fields of Chrome tabs and offers
// model rewrites of what the user typed.
//
// Usage:
//
//	penwatch run -c penwatch.yaml            # start the daemon
//	penwatch prompt set "{text} in French"   # change the stored instruction
//	penwatch ping --addr http://127.0.0.1:7878
//	penwatch status
//	penwatch route set penwatch_enhance http https://worker/v1/call/penwatch_enhance
package main

import (
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

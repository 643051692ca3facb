// Package main is the entry point for the joplin bridge.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/stacklok/joplin-bridge/cmd/joplin-bridge/app"
	"github.com/stacklok/joplin-bridge/internal/logging"
)

func main() {
	// Logs go to stderr so stdout stays clean for `version --format json`.
	handler, flush, err := logging.NewHandler(logging.LevelFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(handler))

	code := 0
	if err := app.NewRootCmd().Execute(); err != nil {
		code = 1
	}
	_ = flush()
	os.Exit(code)
}
